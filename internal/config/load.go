package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// DefaultPath is the configuration path used when neither --config nor
// RENEWS_CONFIG names one.
const DefaultPath = "renews.toml"

// ResolveConfigPath applies the CLI's --config precedence: an
// explicit flag wins, then RENEWS_CONFIG, then DefaultPath (spec §6
// Environment).
func ResolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("RENEWS_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads path, applies $ENV/$FILE substitution, parses the TOML,
// validates it, and returns a resolved Snapshot.
func Load(path string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	substituted, err := Substitute(raw)
	if err != nil {
		return nil, err
	}

	var f File
	if err := toml.Unmarshal(substituted, &f); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return Resolve(&f)
}

// defaults mirror the teacher's NewDefaultConfig pattern: a config with
// sensible built-in values that individual keys can override.
const (
	defaultIdleTimeoutSecs    = 600
	defaultRetentionDays      = 0 // 0 = never expire unless a group overrides it
	defaultMaxArticleBytes    = 1 << 20
	defaultArticleQueueCap    = 1024
	defaultArticleWorkerCount = 4
	defaultRetentionSchedule  = "0 0 3 * * *" // daily at 03:00
)

// Resolve validates a parsed File and turns it into an immutable
// Snapshot. Listen addresses and DB connection strings are intentionally
// copied as-is: a change to them across a reload is caught by Manager,
// which keeps the previous values and logs the change, not here (spec
// §4.10).
func Resolve(f *File) (*Snapshot, error) {
	if f.Addr == "" && f.TLSAddr == "" {
		return nil, fmt.Errorf("config: at least one of addr or tls_addr must be set")
	}
	if f.SiteName == "" {
		f.SiteName = os.Getenv("HOSTNAME")
	}
	if f.SiteName == "" {
		return nil, fmt.Errorf("config: site_name must be set")
	}
	if f.DBPath == "" {
		return nil, fmt.Errorf("config: db_path must be set")
	}

	idle := f.IdleTimeoutSecs
	if idle == 0 {
		idle = defaultIdleTimeoutSecs
	}
	maxArt := int64(f.DefaultMaxArticleSize)
	if maxArt == 0 {
		maxArt = defaultMaxArticleBytes
	}
	queueCap := f.ArticleQueueCapacity
	if queueCap == 0 {
		queueCap = defaultArticleQueueCap
	}
	workers := f.ArticleWorkerCount
	if workers == 0 {
		workers = defaultArticleWorkerCount
	}
	sweep := f.RetentionSweepSchedule
	if sweep == "" {
		sweep = defaultRetentionSchedule
	}

	for i, g := range f.Groups {
		if (g.Group == "") == (g.Pattern == "") {
			return nil, fmt.Errorf("config: group rule %d must set exactly one of group or pattern", i)
		}
	}
	for i, p := range f.Peers {
		if p.SiteName == "" {
			return nil, fmt.Errorf("config: peer rule %d missing sitename", i)
		}
		if p.SyncSchedule == "" {
			return nil, fmt.Errorf("config: peer %s missing sync_schedule", p.SiteName)
		}
	}

	return &Snapshot{
		Addr:    f.Addr,
		TLSAddr: f.TLSAddr,
		WSAddr:  f.WSAddr,

		SiteName: f.SiteName,

		DBPath: f.DBPath,

		TLSCertPath: f.TLSCertPath,
		TLSKeyPath:  f.TLSKeyPath,

		IdleTimeout: time.Duration(idle) * time.Second,

		DefaultRetentionDays:  f.DefaultRetentionDays,
		DefaultMaxArticleSize: maxArt,

		AllowPostingInsecureConnections: f.AllowPostingInsecureConnections,

		PGPKeyServers: f.PGPKeyServers,

		ArticleQueueCapacity: queueCap,
		ArticleWorkerCount:   workers,
		RuntimeThreads:       f.RuntimeThreads,

		RetentionSweepSchedule: sweep,

		Groups:  f.Groups,
		Peers:   f.Peers,
		Filters: f.Filters,

		LoadedAt: time.Now(),
	}, nil
}
