package peer

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/renews-project/renews/internal/model"
	"github.com/renews-project/renews/internal/store/sqlite"
)

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := sqlite.Open(dir + "/renews.db")
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testArticle(msgID string) *model.Article {
	return &model.Article{
		MessageID: msgID,
		Headers: []model.Header{
			{Name: "From", Value: "alice@example.org"},
			{Name: "Newsgroups", Value: "comp.lang.go"},
			{Name: "Subject", Value: "hi"},
			{Name: "Date", Value: "Fri, 31 Jul 2026 00:00:00 +0000"},
			{Name: "Message-ID", Value: msgID},
			{Name: "Path", Value: "renews"},
		},
		Body: []string{"body"},
	}
}

// ihaveFakePeer accepts IHAVE for every message-id and drains the
// dot-terminated article that follows, replying 235.
func ihaveFakePeer(t *testing.T) (addr string, done chan struct{}) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done = make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		defer ln.Close()
		conn.Write([]byte("201 ready\r\n"))
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			switch {
			case line == "MODE STREAM":
				conn.Write([]byte("500 unknown\r\n"))
			case strings.HasPrefix(line, "IHAVE "):
				conn.Write([]byte("335 send\r\n"))
				for {
					l, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if strings.TrimRight(l, "\r\n") == "." {
						break
					}
				}
				conn.Write([]byte("235 transferred\r\n"))
			default:
				return
			}
		}
	}()
	return ln.Addr().String(), done
}

func TestTaskTickIHaveFallbackAdvancesHighWater(t *testing.T) {
	st := openTestStore(t)
	if err := st.CreateGroup(&model.Group{Name: "comp.lang.go"}); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if err := st.StoreArticle(testArticle("<1@x>"), []string{"comp.lang.go"}); err != nil {
		t.Fatalf("StoreArticle: %v", err)
	}
	if err := st.StoreArticle(testArticle("<2@x>"), []string{"comp.lang.go"}); err != nil {
		t.Fatalf("StoreArticle: %v", err)
	}

	addr, done := ihaveFakePeer(t)
	defer func() { <-done }()

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Atoi: %v", err)
	}

	task := NewTask(Rule{
		SiteName: net.JoinHostPort(host, strconv.Itoa(port)),
		Patterns: []string{"comp.*"},
	}, st, 2*time.Second)

	if err := task.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	high, err := st.PeerHighWater(task.rule.SiteName, "comp.lang.go")
	if err != nil {
		t.Fatalf("PeerHighWater: %v", err)
	}
	if high != 2 {
		t.Fatalf("high-water = %d, want 2", high)
	}
}

func TestTaskTickNoMatchingGroupsIsNoop(t *testing.T) {
	st := openTestStore(t)
	task := NewTask(Rule{SiteName: "127.0.0.1:1", Patterns: []string{"nonexistent.*"}}, st, time.Second)
	if err := task.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}
}
