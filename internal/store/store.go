// Package store defines the storage abstraction (spec §4.6): messages,
// group-articles, groups, and overview CRUD plus lazy iteration, with
// two concrete backends (internal/store/sqlite, internal/store/postgres)
// sharing identical semantics. Listing operations stream from the
// backend in bounded chunks rather than materializing full result sets,
// since the design targets groups with millions of articles (spec §9).
package store

import (
	"errors"
	"time"

	"github.com/renews-project/renews/internal/model"
)

// Sentinel errors returned by Storage methods; callers use errors.Is.
var (
	ErrDuplicate    = errors.New("store: duplicate message-id")
	ErrGroupMissing = errors.New("store: group does not exist")
	ErrNotFound     = errors.New("store: not found")
)

// Range is an inclusive article-number range. High == 0 means "open
// ended" (up to the group's current high-water).
type Range struct {
	Low  int64
	High int64
}

// NumberRow is one row of a list_numbers result.
type NumberRow struct {
	Number    int64
	MessageID string
}

// NumberIterator lazily streams (number, msgid) pairs in ascending
// order. Callers must call Close when done, even after an error.
type NumberIterator interface {
	Next() bool
	Row() NumberRow
	Err() error
	Close() error
}

// OverviewIterator lazily streams overview rows in ascending order.
type OverviewIterator interface {
	Next() bool
	Row() *model.Overview
	Err() error
	Close() error
}

// Storage is the abstract contract the session engine, filter pipeline,
// peer sync, and retention sweeper are built against (spec §4.6). Both
// backends implement it identically; callers never branch on which
// backend is live.
type Storage interface {
	// Articles

	// StoreArticle allocates, for every group in groups, the next
	// article number (high+1) and inserts the message row, atomically.
	// A duplicate message-id returns ErrDuplicate without allocating new
	// numbers; a destination group that does not exist returns
	// ErrGroupMissing and nothing is written.
	StoreArticle(a *model.Article, groups []string) error
	FetchByMessageID(id string) (*model.Article, error)
	FetchByNumber(group string, n int64) (*model.Article, error)
	DeleteArticle(messageID string) error
	// RewriteArticle replaces the stored headers/body for an existing
	// message-id in place (moderation-approval rewrite, spec §3).
	RewriteArticle(messageID string, headers []model.Header, body []string) error

	// Groups

	GroupBounds(group string) (model.GroupBounds, error)
	CreateGroup(g *model.Group) error
	DeleteGroup(name string) error
	Group(name string) (*model.Group, error)
	ListGroups(patterns []string) ([]*model.Group, error)

	// Listing — all lazy, bounded-chunk iterators.

	ListNumbers(group string, r Range) (NumberIterator, error)
	ListOverview(group string, r Range) (OverviewIterator, error)
	IterateSince(group string, since time.Time) (NumberIterator, error)

	// Retention

	// DeleteExpired removes articles older than cutoff, or whose
	// Expires: header deadline has already passed, whichever comes
	// first, and reports how many rows were removed from group.
	DeleteExpired(group string, cutoff time.Time) (int, error)

	// Peer sync state

	PeerHighWater(peer, group string) (int64, error)
	SetPeerHighWater(peer, group string, high int64) error

	// Users (authn.UserStore is satisfied by this too)

	UserByUsername(username string) (*model.User, error)
	PutUser(u *model.User) error
	DeleteUser(username string) error
	ListUsers() ([]model.User, error)

	Close() error
}
