// Package model defines the core data structures shared across renews:
// articles, groups, group-article bindings, overview rows, users, and
// peer synchronization state. It mirrors the layering the teacher's
// internal/models package used, trimmed to the fields the storage
// contract and session engine actually need.
package model

import "time"

// Header is a single netnews header field. Name keeps the casing it
// arrived with; no separate raw form of the field is stored.
type Header struct {
	Name  string
	Value string
}

// Article is a stored netnews message: an ordered header sequence plus a
// raw body. Size is the serialized byte count (headers + blank line +
// body), computed once at parse time.
type Article struct {
	MessageID string
	Headers   []Header
	Body      []string // body lines, no dot-stuffing, no trailing CRLF
	Size      int64

	// Groups this article was accepted into, in Newsgroups header order.
	// Filled from the Newsgroups header by article.Parse.
	Groups []string

	ReceivedAt time.Time
}

// Header returns the first value for name (case-insensitive), or "" if
// absent.
func (a *Article) Header(name string) string {
	for _, h := range a.Headers {
		if equalFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// HeaderAll returns every value for name in header order.
func (a *Article) HeaderAll(name string) []string {
	var out []string
	for _, h := range a.Headers {
		if equalFold(h.Name, name) {
			out = append(out, h.Value)
		}
	}
	return out
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
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

// Group is a newsgroup: a dotted, case-insensitive-for-matching name.
type Group struct {
	Name        string
	Created     time.Time
	Moderated   bool
	Description string

	// Effective settings, resolved from the configuration's [[group]]
	// list at creation/lookup time (spec §3 Group).
	RetentionDays  int
	MaxArticleSize int64
}

// GroupArticle is the join row between a Group and a Message, carrying
// the per-group monotonic article number.
type GroupArticle struct {
	Group      string
	Number     int64
	MessageID  string
	InsertedAt time.Time
}

// GroupBounds reports the low/high-water marks and an estimated count
// for a group, as returned by STAT/GROUP/LISTGROUP.
type GroupBounds struct {
	Low       int64
	High      int64
	Estimate  int64
}

// Overview is a cached per-article summary line (RFC 3977 §8.3 fields).
type Overview struct {
	Number     int64
	Subject    string
	From       string
	Date       string
	MessageID  string
	References string
	Bytes      int64
	Lines      int64
}

// Role enumerates the two privileged roles a User can hold.
type Role int

const (
	RoleNone Role = iota
	RoleAdmin
	RoleModerator
)

// User is a local account: NNTP credentials plus role grants and
// per-connection/per-window limits.
type User struct {
	Username       string
	PasswordHash   string // Argon2id encoded hash, see internal/authn
	KeyFingerprint string // optional PGP key fingerprint, hex lower-case

	IsAdmin           bool
	ModeratorPatterns []string // wildmat patterns this user may approve/cancel/rmgroup within

	MaxConns       int
	UploadBytes    int64 // per sliding window
	DownloadBytes  int64
	WindowDuration time.Duration
}

// CanModerate reports whether u holds moderator authority over every
// group in groups (all must be covered by at least one of u's patterns).
func (u *User) CanModerate(groups []string, matchList func(name string, patterns []string) bool) bool {
	if u == nil {
		return false
	}
	if u.IsAdmin {
		return true
	}
	for _, g := range groups {
		if !matchList(g, u.ModeratorPatterns) {
			return false
		}
	}
	return len(groups) > 0
}

// PeerState is the per-(peer, group) synchronization high-water mark.
type PeerState struct {
	Peer       string
	Group      string
	HighWater  int64
	UpdatedAt  time.Time
}
