package config

import "testing"

func TestParseSize(t *testing.T) {
	cases := map[string]int64{
		"1024":  1024,
		"32K":   32 * 1024,
		"2M":    2 * 1024 * 1024,
		"1G":    1024 * 1024 * 1024,
		"":      0,
		"  64k": 64 * 1024,
	}
	for in, want := range cases {
		got, err := ParseSize(in)
		if err != nil {
			t.Fatalf("ParseSize(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseSize(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestSubstitute(t *testing.T) {
	t.Setenv("RENEWS_TEST_VAR", "hello")
	out, err := Substitute([]byte(`site_name = "$ENV{RENEWS_TEST_VAR}"`))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `site_name = "hello"` {
		t.Errorf("got %q", out)
	}
}

func TestGroupSettingsWildmatOrdering(t *testing.T) {
	matchList := func(name string, patterns []string) bool {
		return len(patterns) == 1 && matchPattern(name, patterns[0])
	}
	snap := &Snapshot{
		DefaultRetentionDays:  7,
		DefaultMaxArticleSize: 1000,
		Groups: []GroupRule{
			{Pattern: "*", RetentionDays: 7},
			{Group: "comp.lang.rust", RetentionDays: 60},
		},
	}
	days, _, _, _ := snap.GroupSettings("comp.lang.rust", matchList)
	if days != 60 {
		t.Errorf("comp.lang.rust retention = %d, want 60", days)
	}
	days, _, _, _ = snap.GroupSettings("comp.misc", matchList)
	if days != 7 {
		t.Errorf("comp.misc retention = %d, want 7", days)
	}
}

// matchPattern is a tiny '*'-only matcher local to this test to avoid an
// import cycle with internal/wildmat.
func matchPattern(name, pattern string) bool {
	if pattern == "*" {
		return true
	}
	return name == pattern
}

func TestResolveConfigPathPrecedence(t *testing.T) {
	t.Setenv("RENEWS_CONFIG", "")
	if got := ResolveConfigPath("/explicit.toml"); got != "/explicit.toml" {
		t.Errorf("flag should win, got %q", got)
	}

	t.Setenv("RENEWS_CONFIG", "/from-env.toml")
	if got := ResolveConfigPath(""); got != "/from-env.toml" {
		t.Errorf("env should be used when no flag given, got %q", got)
	}

	t.Setenv("RENEWS_CONFIG", "")
	if got := ResolveConfigPath(""); got != DefaultPath {
		t.Errorf("expected default path %q, got %q", DefaultPath, got)
	}
}

func TestResolveUsesHostnameWhenSiteNameUnset(t *testing.T) {
	t.Setenv("HOSTNAME", "fallback.example.org")
	f := &File{Addr: "127.0.0.1:1119", DBPath: "test.db"}
	snap, err := Resolve(f)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if snap.SiteName != "fallback.example.org" {
		t.Errorf("site_name = %q, want HOSTNAME fallback", snap.SiteName)
	}
}
