package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`\$(ENV|FILE)\{([^}]*)\}`)

// Substitute replaces every $ENV{VAR} token with the value of the named
// environment variable and every $FILE{path} token with the trimmed
// contents of the named file, before the TOML parser ever sees the
// bytes (spec §4.10).
func Substitute(raw []byte) ([]byte, error) {
	var substErr error
	out := tokenPattern.ReplaceAllFunc(raw, func(m []byte) []byte {
		if substErr != nil {
			return m
		}
		sub := tokenPattern.FindSubmatch(m)
		kind, arg := string(sub[1]), string(sub[2])
		switch kind {
		case "ENV":
			v, ok := os.LookupEnv(arg)
			if !ok {
				substErr = fmt.Errorf("config: $ENV{%s} is not set", arg)
				return m
			}
			return []byte(v)
		case "FILE":
			data, err := os.ReadFile(arg)
			if err != nil {
				substErr = fmt.Errorf("config: $FILE{%s}: %w", arg, err)
				return m
			}
			return []byte(strings.TrimSpace(string(data)))
		default:
			return m
		}
	})
	if substErr != nil {
		return nil, substErr
	}
	return out, nil
}
