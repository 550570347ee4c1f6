package session

import (
	"bufio"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/renews-project/renews/internal/authn"
	"github.com/renews-project/renews/internal/control"
	"github.com/renews-project/renews/internal/filter"
	"github.com/renews-project/renews/internal/model"
	"github.com/renews-project/renews/internal/store/sqlite"
)

// harness wires a Session to an in-memory pipe backed by a real sqlite
// store, the way a client would see it over the wire, for exercising the
// end-to-end scenarios spec §8 describes literally.
type harness struct {
	t      *testing.T
	client net.Conn
	r      *bufio.Reader
	deps   Deps
}

func newHarness(t *testing.T, isTLS bool) *harness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.sqlite3")
	st, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.CreateGroup(&model.Group{Name: "comp.lang.rust", Created: time.Now()}); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	hash, err := authn.HashPassword("secret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := st.PutUser(&model.User{Username: "alice", PasswordHash: hash}); err != nil {
		t.Fatalf("PutUser: %v", err)
	}

	pipeline := filter.NewPipeline(
		filter.NewHeaderFilter(),
		filter.NewSizeFilter(),
		filter.NewGroupExistenceFilter(),
		filter.NewModerationFilter(),
	)

	deps := Deps{
		Store:       st,
		Auth:        authn.NewProvider(st),
		Pipeline:    pipeline,
		Control:     control.NewProcessor(st, st, nil, "x"),
		SiteName:    "x",
		IdleTimeout: 5 * time.Second,
	}

	client, server := net.Pipe()
	sess := New(server, isTLS, deps)
	go sess.Serve()

	h := &harness{t: t, client: client, r: bufio.NewReader(client)}
	h.deps = deps
	t.Cleanup(func() { client.Close() })
	return h
}

func (h *harness) readLine() string {
	h.t.Helper()
	line, err := h.r.ReadString('\n')
	if err != nil {
		h.t.Fatalf("reading response: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func (h *harness) readDotLines() []string {
	h.t.Helper()
	var lines []string
	for {
		line := h.readLine()
		if line == "." {
			return lines
		}
		lines = append(lines, strings.TrimPrefix(line, "."))
	}
}

func (h *harness) send(s string) {
	h.t.Helper()
	if _, err := h.client.Write([]byte(s + "\r\n")); err != nil {
		h.t.Fatalf("writing command: %v", err)
	}
}

func (h *harness) expectCode(t *testing.T, want int) string {
	t.Helper()
	line := h.readLine()
	if !strings.HasPrefix(line, itoa(want)+" ") && line != itoa(want) {
		t.Fatalf("expected %d response, got %q", want, line)
	}
	return line
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// Scenario 1 (spec §8): greeting + capabilities on plain TCP with
// insecure-posting off omits POST from CAPABILITIES and refuses POST.
func TestGreetingAndCapabilitiesPlainTCP(t *testing.T) {
	h := newHarness(t, false)

	greeting := h.readLine()
	if !strings.HasPrefix(greeting, "201 ") {
		t.Fatalf("expected 201 greeting on plain TCP, got %q", greeting)
	}

	h.send("CAPABILITIES")
	h.expectCode(t, 101)
	caps := h.readDotLines()
	for _, c := range caps {
		if c == "POST" {
			t.Fatalf("CAPABILITIES advertised POST on a read-only connection: %v", caps)
		}
	}

	h.send("POST")
	line := h.expectCode(t, 440)
	if !strings.Contains(line, "440") {
		t.Fatalf("expected 440 Posting not permitted, got %q", line)
	}
}

// Scenario 2 (spec §8): auth + post + fetch on a TLS connection, then a
// fresh session observes the posted article by Message-ID.
func TestAuthPostAndFetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.sqlite3")
	st, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer st.Close()
	if err := st.CreateGroup(&model.Group{Name: "comp.lang.rust", Created: time.Now()}); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	hash, err := authn.HashPassword("secret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := st.PutUser(&model.User{Username: "alice", PasswordHash: hash}); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	deps := Deps{
		Store: st,
		Auth:  authn.NewProvider(st),
		Pipeline: filter.NewPipeline(
			filter.NewHeaderFilter(),
			filter.NewSizeFilter(),
			filter.NewGroupExistenceFilter(),
			filter.NewModerationFilter(),
		),
		Control:     control.NewProcessor(st, st, nil, "x"),
		SiteName:    "x",
		IdleTimeout: 5 * time.Second,
	}

	runPostingSession := func() {
		client, server := net.Pipe()
		defer client.Close()
		sess := New(server, true, deps)
		go sess.Serve()
		h := &harness{t: t, client: client, r: bufio.NewReader(client)}

		greeting := h.readLine()
		if !strings.HasPrefix(greeting, "200 ") {
			t.Fatalf("expected 200 greeting on TLS, got %q", greeting)
		}

		h.send("AUTHINFO USER alice")
		h.expectCode(t, 381)
		h.send("AUTHINFO PASS secret")
		h.expectCode(t, 281)

		h.send("POST")
		h.expectCode(t, 340)
		article := "From: alice@x\r\n" +
			"Newsgroups: comp.lang.rust\r\n" +
			"Subject: hi\r\n" +
			"Date: Mon, 1 Jan 2024 00:00:00 +0000\r\n" +
			"Message-ID: <a@x>\r\n" +
			"Path: x\r\n" +
			"\r\n" +
			"body\r\n" +
			".\r\n"
		if _, err := h.client.Write([]byte(article)); err != nil {
			t.Fatalf("writing article: %v", err)
		}
		h.expectCode(t, 240)
		h.send("QUIT")
		h.expectCode(t, 205)
	}
	runPostingSession()

	// A new session fetches the posted article by Message-ID.
	client, server := net.Pipe()
	defer client.Close()
	sess := New(server, true, deps)
	go sess.Serve()
	h := &harness{t: t, client: client, r: bufio.NewReader(client)}
	h.readLine() // greeting

	h.send("ARTICLE <a@x>")
	line := h.expectCode(t, 220)
	if !strings.Contains(line, "<a@x>") {
		t.Fatalf("expected msgid in ARTICLE response, got %q", line)
	}
	lines := h.readDotLines()
	found := false
	for _, l := range lines {
		if l == "body" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected body in ARTICLE response, got %v", lines)
	}

	// Scenario 3: IHAVE dedup — a second session reports 435 for the same
	// message-id (already have).
	client2, server2 := net.Pipe()
	defer client2.Close()
	sess2 := New(server2, true, deps)
	go sess2.Serve()
	h2 := &harness{t: t, client: client2, r: bufio.NewReader(client2)}
	h2.readLine() // greeting
	h2.send("IHAVE <a@x>")
	h2.expectCode(t, 435)
}

// GROUP on an empty group returns 211 0 0 0 <name> and selects it (spec
// §8 boundary behaviors).
func TestGroupEmpty(t *testing.T) {
	h := newHarness(t, false)
	h.readLine() // greeting

	h.send("GROUP comp.lang.rust")
	line := h.expectCode(t, 211)
	if !strings.Contains(line, "211 0 0 0 comp.lang.rust") {
		t.Fatalf("unexpected GROUP response for empty group: %q", line)
	}
}

func TestGroupMissing(t *testing.T) {
	h := newHarness(t, false)
	h.readLine() // greeting

	h.send("GROUP nonexistent.group")
	h.expectCode(t, 411)
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t, false)
	h.readLine() // greeting

	h.send("BOGUSCMD")
	h.expectCode(t, 500)
}

func TestDateCommand(t *testing.T) {
	h := newHarness(t, false)
	h.readLine() // greeting

	h.send("DATE")
	line := h.expectCode(t, 111)
	fields := strings.Fields(line)
	if len(fields) != 2 || len(fields[1]) != 14 {
		t.Fatalf("expected 111 YYYYMMDDhhmmss, got %q", line)
	}
}
