// Package wildmat implements RFC 3977 section 4 wildmat pattern matching,
// used for newsgroup selection in LIST, peer feed patterns, and moderator
// group grants.
package wildmat

import "strings"

// Match reports whether name matches a single wildmat pattern. Supported
// syntax: '*' matches any run of characters (including none), '?' matches
// exactly one character, and '[set]'/'[!set]' match or anti-match a
// character class. Matching is case-insensitive, since group names are
// case-insensitive for matching purposes.
func Match(name, pattern string) bool {
	return match(strings.ToLower(name), strings.ToLower(pattern))
}

func match(name, pattern string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			// Collapse consecutive '*' and try every split point.
			for len(pattern) > 0 && pattern[0] == '*' {
				pattern = pattern[1:]
			}
			if len(pattern) == 0 {
				return true
			}
			for i := 0; i <= len(name); i++ {
				if match(name[i:], pattern) {
					return true
				}
			}
			return false
		case '?':
			if len(name) == 0 {
				return false
			}
			name = name[1:]
			pattern = pattern[1:]
		case '[':
			end := strings.IndexByte(pattern, ']')
			if end < 0 {
				// Unterminated class: treat '[' literally.
				if len(name) == 0 || name[0] != '[' {
					return false
				}
				name = name[1:]
				pattern = pattern[1:]
				continue
			}
			if len(name) == 0 {
				return false
			}
			class := pattern[1:end]
			negate := false
			if strings.HasPrefix(class, "!") {
				negate = true
				class = class[1:]
			}
			if matchClass(name[0], class) == negate {
				return false
			}
			name = name[1:]
			pattern = pattern[end+1:]
		default:
			if len(name) == 0 || name[0] != pattern[0] {
				return false
			}
			name = name[1:]
			pattern = pattern[1:]
		}
	}
	return len(name) == 0
}

// matchClass reports whether c is a member of a bracket-expression body,
// supporting 'a-z' ranges.
func matchClass(c byte, class string) bool {
	for i := 0; i < len(class); i++ {
		if i+2 < len(class) && class[i+1] == '-' {
			if class[i] <= c && c <= class[i+2] {
				return true
			}
			i += 2
			continue
		}
		if class[i] == c {
			return true
		}
	}
	return false
}

// MatchList matches name against an ordered list of patterns, each of
// which may carry a '!' prefix meaning "negative". Per RFC 3977 §4.2, a
// name matches the list if the last pattern that matches it (ignoring the
// '!' for the purpose of testing) is a positive pattern; a name with no
// matching pattern at all does not match the list.
func MatchList(name string, patterns []string) bool {
	matched := false
	for _, p := range patterns {
		negative := strings.HasPrefix(p, "!")
		bare := strings.TrimPrefix(p, "!")
		if Match(name, bare) {
			matched = !negative
		}
	}
	return matched
}
