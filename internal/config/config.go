// Package config loads the renews TOML configuration file, substitutes
// $ENV{VAR}/$FILE{path} tokens, and exposes it as an immutable snapshot
// shared by reference across every live session and background task
// (spec §4.10, §9 "Shared mutable configuration"). The loading and
// defaulting style follows the teacher's internal/config package; the
// file format itself is generalized from JSON structs to TOML, since
// go-toml/v2 is already present in the teacher's dependency graph.
package config

import "time"

// GroupRule is one entry of the [[group]] list. Exactly one of Group or
// Pattern is set; rules are tried in declaration order and the first
// match wins (spec §3 Group).
type GroupRule struct {
	Group          string `toml:"group"`
	Pattern        string `toml:"pattern"`
	RetentionDays  int    `toml:"retention_days"`
	MaxArticleSize Size   `toml:"max_article_bytes"`
	Moderated      bool   `toml:"moderated"`
	Description    string `toml:"description"`
}

// PeerRule is one entry of the [[peer]] list.
type PeerRule struct {
	SiteName     string   `toml:"sitename"` // may embed user:pass@host:port
	Patterns     []string `toml:"patterns"`
	SyncSchedule string   `toml:"sync_schedule"` // 6-field cron
	Streaming    bool     `toml:"streaming"`
	MaxWindow    int      `toml:"max_window"`
	UseTLS       bool     `toml:"use_tls"`
}

// FilterRule is one entry of the [[filters]] list, naming a filter and
// its filter-specific fields (spec §4.5).
type FilterRule struct {
	Name           string   `toml:"name"`
	MilterAddr     string   `toml:"milter_addr"`
	MilterTimeout  Duration `toml:"milter_timeout"`
	MilterTLS      bool     `toml:"milter_tls"`
	MilterStrictCA bool     `toml:"milter_strict_ca"`
}

// File is the raw shape of the TOML configuration file, before tokens
// are substituted and the result is resolved into a Snapshot.
type File struct {
	Addr    string `toml:"addr"`
	TLSAddr string `toml:"tls_addr"`
	WSAddr  string `toml:"ws_addr"`

	SiteName string `toml:"site_name"`

	// DBPath selects the storage backend: a filesystem path opens the
	// embedded sqlite backend, a "postgres://" URL opens the networked
	// one.
	DBPath string `toml:"db_path"`

	TLSCertPath string `toml:"tls_cert_path"`
	TLSKeyPath  string `toml:"tls_key_path"`

	IdleTimeoutSecs int `toml:"idle_timeout_secs"`

	DefaultRetentionDays  int  `toml:"default_retention_days"`
	DefaultMaxArticleSize Size `toml:"default_max_article_bytes"`

	AllowPostingInsecureConnections bool `toml:"allow_posting_insecure_connections"`

	PGPKeyServers []string `toml:"pgp_key_servers"`

	ArticleQueueCapacity int `toml:"article_queue_capacity"`
	ArticleWorkerCount   int `toml:"article_worker_count"`
	RuntimeThreads       int `toml:"runtime_threads"`

	RetentionSweepSchedule string `toml:"retention_sweep_schedule"`

	Groups  []GroupRule  `toml:"group"`
	Peers   []PeerRule   `toml:"peer"`
	Filters []FilterRule `toml:"filters"`
}

// Snapshot is the resolved, immutable configuration in force at a point
// in time. Every reader holds a Snapshot for as long as it needs one;
// readers never observe a torn mix of old/new values because Manager
// swaps the pointer atomically (spec §5).
type Snapshot struct {
	Addr    string
	TLSAddr string
	WSAddr  string

	SiteName string

	DBPath string

	TLSCertPath string
	TLSKeyPath  string

	IdleTimeout time.Duration

	DefaultRetentionDays  int
	DefaultMaxArticleSize int64

	AllowPostingInsecureConnections bool

	PGPKeyServers []string

	ArticleQueueCapacity int
	ArticleWorkerCount   int
	RuntimeThreads       int

	RetentionSweepSchedule string

	Groups  []GroupRule
	Peers   []PeerRule
	Filters []FilterRule

	LoadedAt time.Time
}

// GroupSettings resolves the effective retention and max article size
// for a group name, using the first matching rule in declaration order
// and falling back to the global defaults (spec §3 Group).
func (s *Snapshot) GroupSettings(name string, matchList func(name string, patterns []string) bool) (retentionDays int, maxBytes int64, moderated bool, description string) {
	for _, r := range s.Groups {
		if r.Group != "" {
			if !equalFold(r.Group, name) {
				continue
			}
		} else if r.Pattern != "" {
			if !matchList(name, []string{r.Pattern}) {
				continue
			}
		} else {
			continue
		}
		rd := r.RetentionDays
		if rd == 0 {
			rd = s.DefaultRetentionDays
		}
		mb := int64(r.MaxArticleSize)
		if mb == 0 {
			mb = s.DefaultMaxArticleSize
		}
		return rd, mb, r.Moderated, r.Description
	}
	return s.DefaultRetentionDays, s.DefaultMaxArticleSize, false, ""
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
