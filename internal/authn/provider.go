package authn

import (
	"fmt"
	"sync"
	"time"

	"github.com/renews-project/renews/internal/model"
	"github.com/renews-project/renews/internal/wildmat"
)

// UserStore is the slice of the storage contract authn needs: user
// lookup by username. Kept as a narrow local interface (rather than
// depending on the full store package) to avoid a layering cycle, the
// same way the teacher's AuthManager takes only *database.Database.
type UserStore interface {
	UserByUsername(username string) (*model.User, error)
}

// connState tracks a user's live connection count and rolling byte
// usage. Kept in a per-user entry with its own mutex so that many users'
// counters don't serialize behind one lock (spec §5 "concurrent
// hash-keyed maps with entry-level synchronization").
type connState struct {
	mu           sync.Mutex
	active       int
	windowStart  time.Time
	uploaded     int64
	downloaded   int64
}

// Provider implements credential checks, role lookup, and per-user
// limits. Roles are re-consulted on every call against UserStore rather
// than cached, per spec §4.4 ("no role cache that can go stale across
// hot-reload").
type Provider struct {
	store UserStore

	mu    sync.Mutex
	conns map[string]*connState
}

func NewProvider(store UserStore) *Provider {
	return &Provider{
		store: store,
		conns: make(map[string]*connState),
	}
}

// Authenticate verifies username/password and returns the User on
// success. Constant-time comparison happens inside VerifyPassword
// regardless of whether username exists, to avoid a user-enumeration
// timing channel; a nonexistent user is checked against a fixed dummy
// hash so the cost is the same either way.
func (p *Provider) Authenticate(username, password string) (*model.User, error) {
	u, err := p.store.UserByUsername(username)
	if err != nil || u == nil {
		VerifyPassword(password, dummyHash)
		return nil, fmt.Errorf("authn: unknown user or bad password")
	}
	if !VerifyPassword(password, u.PasswordHash) {
		return nil, fmt.Errorf("authn: unknown user or bad password")
	}
	return u, nil
}

// dummyHash is a valid-format Argon2id hash with no corresponding known
// password, used only to equalize authentication latency for unknown
// usernames.
var dummyHash = "$argon2id$v=19$m=65536,t=3,p=2$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// IsAdmin reports whether u is a configured administrator.
func IsAdmin(u *model.User) bool {
	return u != nil && u.IsAdmin
}

// CanApprove reports whether u may supply an Approved: header covering
// every group in groups (spec §4.5 ModerationFilter).
func CanApprove(u *model.User, groups []string) bool {
	return u.CanModerate(groups, wildmat.MatchList)
}

// CanActOn reports whether u (admin or moderator) may cancel or rmgroup
// within the given group (spec §4.7).
func CanActOn(u *model.User, group string) bool {
	if u == nil {
		return false
	}
	if u.IsAdmin {
		return true
	}
	return wildmat.MatchList(group, u.ModeratorPatterns)
}

// FirstModeratorPattern finds, among a list of (username, pattern)
// moderator grants, the first pattern that matches any of groups — used
// to pick the ModerationFilter's notification recipient.
func FirstModeratorPattern(moderators []model.User, groups []string) (username string, ok bool) {
	for _, m := range moderators {
		for _, g := range groups {
			if wildmat.MatchList(g, m.ModeratorPatterns) {
				return m.Username, true
			}
		}
	}
	return "", false
}

// AcquireConnection reports whether u may open another concurrent
// connection, incrementing its active count if so. ReleaseConnection must be
// called exactly once per successful AcquireConnection.
func (p *Provider) AcquireConnection(u *model.User) bool {
	if u == nil {
		return true // unauthenticated connections aren't subject to per-user limits
	}
	cs := p.stateFor(u.Username)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if u.MaxConns > 0 && cs.active >= u.MaxConns {
		return false
	}
	cs.active++
	return true
}

func (p *Provider) ReleaseConnection(u *model.User) {
	if u == nil {
		return
	}
	cs := p.stateFor(u.Username)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.active > 0 {
		cs.active--
	}
}

// ChargeBytes records n bytes of traffic (upload or download) against
// u's sliding window, resetting the window if it has expired, and
// reports whether u remains within quota after the charge.
func (p *Provider) ChargeBytes(u *model.User, n int64, upload bool) bool {
	if u == nil || u.WindowDuration == 0 {
		return true
	}
	cs := p.stateFor(u.Username)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	now := time.Now()
	if now.Sub(cs.windowStart) > u.WindowDuration {
		cs.windowStart = now
		cs.uploaded = 0
		cs.downloaded = 0
	}
	if upload {
		cs.uploaded += n
		return u.UploadBytes == 0 || cs.uploaded <= u.UploadBytes
	}
	cs.downloaded += n
	return u.DownloadBytes == 0 || cs.downloaded <= u.DownloadBytes
}

func (p *Provider) stateFor(username string) *connState {
	p.mu.Lock()
	defer p.mu.Unlock()
	cs, ok := p.conns[username]
	if !ok {
		cs = &connState{windowStart: time.Now()}
		p.conns[username] = cs
	}
	return cs
}
