package wildmat

import "testing"

func TestMatch(t *testing.T) {
	cases := []struct {
		name, pattern string
		want          bool
	}{
		{"comp.lang.rust", "comp.*", true},
		{"comp.lang.rust", "comp.lang.?ust", true},
		{"comp.lang.rust", "comp.lang.[a-r]ust", true},
		{"comp.lang.rust", "comp.lang.[r-z]ust", true},
		{"misc.test", "comp.*", false},
		{"misc.test", "*", true},
		{"misc.test", "misc.tes[!t]", false},
		{"misc.test", "misc.tes[!x]", true},
	}
	for _, c := range cases {
		if got := Match(c.name, c.pattern); got != c.want {
			t.Errorf("Match(%q, %q) = %v, want %v", c.name, c.pattern, got, c.want)
		}
	}
}

func TestMatchList(t *testing.T) {
	patterns := []string{"*", "!comp.binaries.*", "comp.binaries.pictures"}
	if !MatchList("comp.lang.rust", patterns) {
		t.Error("expected comp.lang.rust to match")
	}
	if MatchList("comp.binaries.misc", patterns) {
		t.Error("expected comp.binaries.misc to be excluded")
	}
	if !MatchList("comp.binaries.pictures", patterns) {
		t.Error("expected comp.binaries.pictures to be re-included by the last matching pattern")
	}
	if MatchList("anything", nil) {
		t.Error("a name with no matching pattern must not match")
	}
}
