// Package logging wraps the standard log package with the bracketed
// component-tag convention the teacher's internal/nntp and cmd/nntp-server
// already use (log.Printf("[NNTP]: ...")), adding RUST_LOG-style
// per-component level filtering on top (spec §6 Environment). Most
// packages in this repo still call log.Printf directly with their own
// tag, matching the teacher's own style exactly; this package exists
// for the few call sites that want filterable levels rather than
// always-on output.
package logging

import (
	"fmt"
	"log"
	"strings"
)

// Level is a logging verbosity, ordered lowest-to-highest.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

func parseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return Debug, nil
	case "info", "":
		return Info, nil
	case "warn", "warning":
		return Warn, nil
	case "error":
		return Error, nil
	default:
		return Info, fmt.Errorf("logging: unknown level %q", s)
	}
}

// Filter maps component names to a minimum level, the way RUST_LOG
// parses "info,peer=debug,ctrl=warn": a bare level sets the default for
// every component; "component=level" pairs override it individually.
type Filter struct {
	defaultLevel Level
	components   map[string]Level
}

// ParseFilter parses a RUST_LOG-style directive string. An empty string
// yields a filter that allows everything at Info and above.
func ParseFilter(spec string) (*Filter, error) {
	f := &Filter{defaultLevel: Info, components: make(map[string]Level)}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return f, nil
	}
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, lvl, hasComponent := strings.Cut(part, "=")
		level, err := parseLevel(lvl)
		if !hasComponent {
			level, err = parseLevel(name)
			if err != nil {
				return nil, err
			}
			f.defaultLevel = level
			continue
		}
		if err != nil {
			return nil, err
		}
		f.components[strings.ToLower(strings.TrimSpace(name))] = level
	}
	return f, nil
}

// Allows reports whether a message at level for component should be
// emitted.
func (f *Filter) Allows(component string, level Level) bool {
	if f == nil {
		return level >= Info
	}
	if min, ok := f.components[strings.ToLower(component)]; ok {
		return level >= min
	}
	return level >= f.defaultLevel
}

// defaultFilter is process-wide; SetDefaultFilter installs one parsed
// from the RENEWS_LOG (or RUST_LOG, for operators migrating scripts)
// environment variable at startup.
var defaultFilter = &Filter{defaultLevel: Info, components: map[string]Level{}}

// SetDefaultFilter installs f as the filter every Logger created
// without an explicit one falls back to.
func SetDefaultFilter(f *Filter) {
	if f != nil {
		defaultFilter = f
	}
}

// Logger emits bracketed, component-tagged log lines gated by a Filter.
type Logger struct {
	component string
	filter    *Filter
}

// New returns a Logger tagged with component (rendered as "[TAG]:"),
// using the process-wide default filter.
func New(component string) *Logger {
	return &Logger{component: component, filter: defaultFilter}
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if !l.filter.Allows(l.component, level) {
		return
	}
	log.Printf("[%s]: %s", l.component, fmt.Sprintf(format, args...))
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.log(Debug, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.log(Info, format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.log(Warn, format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(Error, format, args...) }
