package article

import "testing"

func validHeaders() []string {
	return []string{
		"From: alice@example.com",
		"Newsgroups: comp.lang.go",
		"Subject: hello",
		"Date: Fri, 31 Jul 2026 00:00:00 +0000",
		"Message-ID: <abc@example.com>",
		"Path: example.com",
	}
}

func TestParseAccepted(t *testing.T) {
	lines := append(validHeaders(), "", "body line one", "body line two")
	a, err := Parse(lines, ParseOptions{MaxBodyBytes: 1 << 20, SiteDomain: "example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.MessageID != "<abc@example.com>" {
		t.Errorf("MessageID = %q", a.MessageID)
	}
	if len(a.Groups) != 1 || a.Groups[0] != "comp.lang.go" {
		t.Errorf("Groups = %v", a.Groups)
	}
	if len(a.Body) != 2 {
		t.Errorf("Body = %v", a.Body)
	}
}

func TestParseMissingRequiredHeader(t *testing.T) {
	lines := []string{
		"From: alice@example.com",
		"Subject: hello",
		"Date: Fri, 31 Jul 2026 00:00:00 +0000",
		"Message-ID: <abc@example.com>",
		"Path: example.com",
		"",
		"body",
	}
	if _, err := Parse(lines, ParseOptions{}); err == nil {
		t.Fatal("expected error for missing Newsgroups header")
	}
}

func TestParseGeneratesMessageID(t *testing.T) {
	lines := []string{
		"From: alice@example.com",
		"Newsgroups: comp.lang.go",
		"Subject: hello",
		"Date: Fri, 31 Jul 2026 00:00:00 +0000",
		"Path: example.com",
		"",
		"body",
	}
	a, err := Parse(lines, ParseOptions{SiteDomain: "example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.MessageID == "" {
		t.Fatal("expected a generated Message-ID")
	}
}

func TestParseMalformedMessageID(t *testing.T) {
	lines := append([]string{}, validHeaders()...)
	lines[4] = "Message-ID: not-a-msgid"
	lines = append(lines, "", "body")
	if _, err := Parse(lines, ParseOptions{}); err == nil {
		t.Fatal("expected error for malformed Message-ID")
	}
}

func TestParseNonASCIIHeaderName(t *testing.T) {
	lines := append([]string{}, validHeaders()...)
	lines = append(lines, "")
	lines[0] = "Frøm: alice@example.com"
	if _, err := Parse(lines, ParseOptions{}); err == nil {
		t.Fatal("expected error for non-ASCII header name")
	}
}

func TestParseHeaderFolding(t *testing.T) {
	lines := []string{
		"From: alice@example.com",
		"Newsgroups: comp.lang.go",
		"Subject: a very long subject",
		" that continues on the next line",
		"Date: Fri, 31 Jul 2026 00:00:00 +0000",
		"Message-ID: <abc@example.com>",
		"Path: example.com",
		"",
		"body",
	}
	a, err := Parse(lines, ParseOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "a very long subject that continues on the next line"
	if got := a.Header("Subject"); got != want {
		t.Errorf("Subject = %q, want %q", got, want)
	}
}

func TestParseOversizeRejected(t *testing.T) {
	lines := append(validHeaders(), "", "0123456789")
	if _, err := Parse(lines, ParseOptions{MaxBodyBytes: 10}); err == nil {
		t.Fatal("expected rejection for oversize article")
	}
}

func TestRoundTripSerialize(t *testing.T) {
	lines := append(validHeaders(), "", "body line")
	a, err := Parse(lines, ParseOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := Serialize(a)
	a2, err := Parse(out, ParseOptions{})
	if err != nil {
		t.Fatalf("re-parse failed: %v", err)
	}
	if a2.MessageID != a.MessageID || a2.Header("Subject") != a.Header("Subject") {
		t.Errorf("round-trip mismatch: %+v vs %+v", a, a2)
	}
}
