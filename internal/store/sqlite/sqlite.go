// Package sqlite implements internal/store.Storage on a single embedded
// database/sql file (mattn/go-sqlite3), grounded on the teacher's
// internal/database package: named query_ constants, a retry wrapper
// around lock-contended writes (sqlite_retry.go), and an embedded,
// version-ordered migration list (db_migrate.go). Unlike the teacher's
// per-group database files, renews keeps one schema holding all groups,
// because spec §4.6's lazy-iterator contract is far simpler to uphold
// against a single set of indexed tables than against N pooled file
// handles with idle eviction.
package sqlite

import (
	"database/sql"
	"fmt"
	"math/rand"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/renews-project/renews/internal/article"
	"github.com/renews-project/renews/internal/model"
	"github.com/renews-project/renews/internal/store"
	"github.com/renews-project/renews/internal/wildmat"
)

// Store is the embedded backend. Safe for concurrent use; database/sql
// pools connections internally and exec absorbs SQLITE_BUSY.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite file at path and applies
// any pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // WAL + single-writer keeps group numbering strictly monotonic
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

const (
	maxRetries = 200
	baseDelay  = 5 * time.Millisecond
	maxDelay   = 50 * time.Millisecond
)

// isRetryableError reports whether err is a transient SQLITE_BUSY /
// "database is locked" condition worth retrying, same classification
// the teacher's sqlite_retry.go uses.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	e := strings.ToLower(err.Error())
	return strings.Contains(e, "database is locked") ||
		strings.Contains(e, "database table is locked") ||
		strings.Contains(e, "busy")
}

func (s *Store) exec(query string, args ...interface{}) (sql.Result, error) {
	var (
		res sql.Result
		err error
	)
	for attempt := 0; attempt < maxRetries; attempt++ {
		res, err = s.db.Exec(query, args...)
		if !isRetryableError(err) {
			return res, err
		}
		delay := time.Duration(attempt+1) * baseDelay
		if delay > maxDelay {
			delay = maxDelay
		}
		delay += time.Duration(rand.Int63n(int64(delay)/2 + 1))
		time.Sleep(delay)
	}
	return res, err
}

// --- messages ---------------------------------------------------------

const queryInsertMessage = `INSERT INTO messages (message_id, headers, body, size, received_at) VALUES (?, ?, ?, ?, ?)`

const queryInsertGroupArticle = `INSERT INTO group_articles (group_name, number, message_id, inserted_at, expires_at) VALUES (?, ?, ?, ?, ?)`

func (s *Store) StoreArticle(a *model.Article, groups []string) error {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM messages WHERE message_id = ?`, a.MessageID).Scan(&exists); err != nil {
		return fmt.Errorf("sqlite: check duplicate: %w", err)
	}
	if exists > 0 {
		return store.ErrDuplicate
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	for _, g := range groups {
		var gExists int
		if err := tx.QueryRow(`SELECT COUNT(1) FROM groups WHERE name = ?`, g).Scan(&gExists); err != nil {
			return fmt.Errorf("sqlite: check group %s: %w", g, err)
		}
		if gExists == 0 {
			return fmt.Errorf("%w: %s", store.ErrGroupMissing, g)
		}
	}

	headers := encodeHeaders(a.Headers)
	body := strings.Join(a.Body, "\n")
	if _, err := tx.Exec(queryInsertMessage, a.MessageID, headers, body, a.Size, a.ReceivedAt.UTC()); err != nil {
		return fmt.Errorf("sqlite: insert message: %w", err)
	}

	var expiresAt sql.NullTime
	if t, ok := article.ParseExpires(a); ok {
		expiresAt = sql.NullTime{Time: t.UTC(), Valid: true}
	}

	for _, g := range groups {
		var high int64
		if err := tx.QueryRow(`SELECT COALESCE(MAX(number), 0) FROM group_articles WHERE group_name = ?`, g).Scan(&high); err != nil {
			return fmt.Errorf("sqlite: high-water %s: %w", g, err)
		}
		if _, err := tx.Exec(queryInsertGroupArticle, g, high+1, a.MessageID, time.Now().UTC(), expiresAt); err != nil {
			return fmt.Errorf("sqlite: insert group_article %s: %w", g, err)
		}
	}

	return tx.Commit()
}

func (s *Store) FetchByMessageID(id string) (*model.Article, error) {
	var headers, body string
	var size int64
	var receivedAt time.Time
	row := s.db.QueryRow(`SELECT headers, body, size, received_at FROM messages WHERE message_id = ?`, id)
	if err := row.Scan(&headers, &body, &size, &receivedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: fetch by msgid: %w", err)
	}
	return &model.Article{
		MessageID:  id,
		Headers:    decodeHeaders(headers),
		Body:       splitBody(body),
		Size:       size,
		ReceivedAt: receivedAt,
	}, nil
}

func (s *Store) FetchByNumber(group string, n int64) (*model.Article, error) {
	var id string
	row := s.db.QueryRow(`SELECT message_id FROM group_articles WHERE group_name = ? AND number = ?`, group, n)
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: fetch by number: %w", err)
	}
	return s.FetchByMessageID(id)
}

func (s *Store) DeleteArticle(messageID string) error {
	if _, err := s.exec(`DELETE FROM group_articles WHERE message_id = ?`, messageID); err != nil {
		return fmt.Errorf("sqlite: delete group_articles: %w", err)
	}
	res, err := s.exec(`DELETE FROM messages WHERE message_id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("sqlite: delete message: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) RewriteArticle(messageID string, headers []model.Header, body []string) error {
	res, err := s.exec(`UPDATE messages SET headers = ?, body = ? WHERE message_id = ?`,
		encodeHeaders(headers), strings.Join(body, "\n"), messageID)
	if err != nil {
		return fmt.Errorf("sqlite: rewrite: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- groups -------------------------------------------------------------

func (s *Store) CreateGroup(g *model.Group) error {
	_, err := s.exec(`INSERT INTO groups (name, created, moderated, description, retention_days, max_article_size) VALUES (?, ?, ?, ?, ?, ?)`,
		g.Name, g.Created.UTC(), g.Moderated, g.Description, g.RetentionDays, g.MaxArticleSize)
	if err != nil {
		return fmt.Errorf("sqlite: create group: %w", err)
	}
	return nil
}

func (s *Store) DeleteGroup(name string) error {
	if _, err := s.exec(`DELETE FROM group_articles WHERE group_name = ?`, name); err != nil {
		return fmt.Errorf("sqlite: delete group_articles: %w", err)
	}
	res, err := s.exec(`DELETE FROM groups WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("sqlite: delete group: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrGroupMissing
	}
	return nil
}

func (s *Store) Group(name string) (*model.Group, error) {
	var g model.Group
	row := s.db.QueryRow(`SELECT name, created, moderated, description, retention_days, max_article_size FROM groups WHERE name = ?`, name)
	if err := row.Scan(&g.Name, &g.Created, &g.Moderated, &g.Description, &g.RetentionDays, &g.MaxArticleSize); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrGroupMissing
		}
		return nil, fmt.Errorf("sqlite: group lookup: %w", err)
	}
	return &g, nil
}

func (s *Store) ListGroups(patterns []string) ([]*model.Group, error) {
	rows, err := s.db.Query(`SELECT name, created, moderated, description, retention_days, max_article_size FROM groups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list groups: %w", err)
	}
	defer rows.Close()

	var out []*model.Group
	for rows.Next() {
		var g model.Group
		if err := rows.Scan(&g.Name, &g.Created, &g.Moderated, &g.Description, &g.RetentionDays, &g.MaxArticleSize); err != nil {
			return nil, fmt.Errorf("sqlite: scan group: %w", err)
		}
		if len(patterns) == 0 || matchAny(g.Name, patterns) {
			out = append(out, &g)
		}
	}
	return out, rows.Err()
}

func (s *Store) GroupBounds(group string) (model.GroupBounds, error) {
	var b model.GroupBounds
	row := s.db.QueryRow(`SELECT COALESCE(MIN(number),0), COALESCE(MAX(number),0), COUNT(1) FROM group_articles WHERE group_name = ?`, group)
	if err := row.Scan(&b.Low, &b.High, &b.Estimate); err != nil {
		return b, fmt.Errorf("sqlite: bounds: %w", err)
	}
	// An empty group reports 0/0/0 (spec §8 boundary behavior), not the
	// RFC 3977 convention of low == high+1.
	return b, nil
}

// --- lazy listing ---------------------------------------------------------

// chunkSize bounds how many rows a single underlying query pulls at a
// time; iterators re-query past the last-seen number rather than
// holding one open cursor for the whole listing, keeping memory flat
// regardless of group size (spec §4.6/§9).
const chunkSize = 500

type numberIter struct {
	s       *Store
	group   string
	high    int64
	since   *time.Time
	buf     []store.NumberRow
	pos     int
	lastNum int64
	done    bool
	err     error
	cur     store.NumberRow
}

func (it *numberIter) fill() {
	if it.done {
		return
	}
	var rows *sql.Rows
	var err error
	if it.since != nil {
		rows, err = it.s.db.Query(
			`SELECT number, message_id FROM group_articles WHERE group_name = ? AND number > ? AND inserted_at >= ? ORDER BY number LIMIT ?`,
			it.group, it.lastNum, it.since.UTC(), chunkSize)
	} else {
		hi := it.high
		if hi == 0 {
			hi = 1<<63 - 1
		}
		rows, err = it.s.db.Query(
			`SELECT number, message_id FROM group_articles WHERE group_name = ? AND number > ? AND number <= ? ORDER BY number LIMIT ?`,
			it.group, it.lastNum, hi, chunkSize)
	}
	if err != nil {
		it.err = fmt.Errorf("sqlite: list chunk: %w", err)
		it.done = true
		return
	}
	defer rows.Close()
	it.buf = it.buf[:0]
	for rows.Next() {
		var r store.NumberRow
		if err := rows.Scan(&r.Number, &r.MessageID); err != nil {
			it.err = fmt.Errorf("sqlite: scan chunk: %w", err)
			it.done = true
			return
		}
		it.buf = append(it.buf, r)
	}
	if err := rows.Err(); err != nil {
		it.err = err
		it.done = true
		return
	}
	it.pos = 0
	if len(it.buf) == 0 {
		it.done = true
	}
}

func (it *numberIter) Next() bool {
	if it.err != nil {
		return false
	}
	if it.pos >= len(it.buf) {
		it.fill()
		if it.done && it.pos >= len(it.buf) {
			return false
		}
	}
	if it.pos >= len(it.buf) {
		return false
	}
	it.cur = it.buf[it.pos]
	it.lastNum = it.cur.Number
	it.pos++
	return true
}

func (it *numberIter) Row() store.NumberRow { return it.cur }
func (it *numberIter) Err() error           { return it.err }
func (it *numberIter) Close() error         { return nil }

func (s *Store) ListNumbers(group string, r store.Range) (store.NumberIterator, error) {
	if _, err := s.Group(group); err != nil {
		return nil, err
	}
	return &numberIter{s: s, group: group, high: r.High, lastNum: r.Low - 1}, nil
}

func (s *Store) IterateSince(group string, since time.Time) (store.NumberIterator, error) {
	if _, err := s.Group(group); err != nil {
		return nil, err
	}
	return &numberIter{s: s, group: group, since: &since}, nil
}

type overviewIter struct {
	inner *numberIter
	s     *Store
	cur   *model.Overview
}

func (it *overviewIter) Next() bool {
	if !it.inner.Next() {
		return false
	}
	row := it.inner.Row()
	a, err := it.s.FetchByMessageID(row.MessageID)
	if err != nil {
		it.inner.err = fmt.Errorf("sqlite: overview fetch %s: %w", row.MessageID, err)
		return false
	}
	it.cur = &model.Overview{
		Number:     row.Number,
		Subject:    a.Header("Subject"),
		From:       a.Header("From"),
		Date:       a.Header("Date"),
		MessageID:  a.MessageID,
		References: a.Header("References"),
		Bytes:      a.Size,
		Lines:      int64(len(a.Body)),
	}
	return true
}

func (it *overviewIter) Row() *model.Overview { return it.cur }
func (it *overviewIter) Err() error           { return it.inner.Err() }
func (it *overviewIter) Close() error         { return it.inner.Close() }

func (s *Store) ListOverview(group string, r store.Range) (store.OverviewIterator, error) {
	ni, err := s.ListNumbers(group, r)
	if err != nil {
		return nil, err
	}
	return &overviewIter{inner: ni.(*numberIter), s: s}, nil
}

// --- retention ---------------------------------------------------------

// DeleteExpired removes group_articles rows older than cutoff, or whose
// Expires: header deadline has already passed, whichever comes first
// (spec's "whichever is shorter" retention rule). An article that no
// longer belongs to any group after the delete is purged from messages
// too.
func (s *Store) DeleteExpired(group string, cutoff time.Time) (int, error) {
	rows, err := s.db.Query(`SELECT message_id FROM group_articles WHERE group_name = ? AND (inserted_at < ? OR (expires_at IS NOT NULL AND expires_at < ?))`, group, cutoff.UTC(), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sqlite: expired scan: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var count int
	for _, id := range ids {
		var otherGroups int
		if err := s.db.QueryRow(`SELECT COUNT(1) FROM group_articles WHERE message_id = ? AND group_name != ?`, id, group).Scan(&otherGroups); err != nil {
			return count, fmt.Errorf("sqlite: expired fanout check: %w", err)
		}
		if _, err := s.exec(`DELETE FROM group_articles WHERE group_name = ? AND message_id = ?`, group, id); err != nil {
			return count, fmt.Errorf("sqlite: expired delete group_article: %w", err)
		}
		if otherGroups == 0 {
			if _, err := s.exec(`DELETE FROM messages WHERE message_id = ?`, id); err != nil {
				return count, fmt.Errorf("sqlite: expired delete message: %w", err)
			}
		}
		count++
	}
	return count, nil
}

// --- peer state ---------------------------------------------------------

func (s *Store) PeerHighWater(peer, group string) (int64, error) {
	var hw int64
	row := s.db.QueryRow(`SELECT high_water FROM peer_state WHERE peer = ? AND group_name = ?`, peer, group)
	err := row.Scan(&hw)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: peer high-water: %w", err)
	}
	return hw, nil
}

func (s *Store) SetPeerHighWater(peer, group string, high int64) error {
	_, err := s.exec(`INSERT INTO peer_state (peer, group_name, high_water, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(peer, group_name) DO UPDATE SET high_water = excluded.high_water, updated_at = excluded.updated_at`,
		peer, group, high, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("sqlite: set peer high-water: %w", err)
	}
	return nil
}

// --- users ---------------------------------------------------------

func (s *Store) UserByUsername(username string) (*model.User, error) {
	var u model.User
	var patterns string
	var windowSecs int64
	row := s.db.QueryRow(`SELECT username, password_hash, key_fingerprint, is_admin, moderator_patterns, max_conns, upload_bytes, download_bytes, window_secs FROM users WHERE username = ?`, username)
	if err := row.Scan(&u.Username, &u.PasswordHash, &u.KeyFingerprint, &u.IsAdmin, &patterns, &u.MaxConns, &u.UploadBytes, &u.DownloadBytes, &windowSecs); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: user lookup: %w", err)
	}
	u.ModeratorPatterns = splitPatterns(patterns)
	u.WindowDuration = time.Duration(windowSecs) * time.Second
	return &u, nil
}

func (s *Store) PutUser(u *model.User) error {
	_, err := s.exec(`INSERT INTO users (username, password_hash, key_fingerprint, is_admin, moderator_patterns, max_conns, upload_bytes, download_bytes, window_secs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET password_hash=excluded.password_hash, key_fingerprint=excluded.key_fingerprint,
			is_admin=excluded.is_admin, moderator_patterns=excluded.moderator_patterns, max_conns=excluded.max_conns,
			upload_bytes=excluded.upload_bytes, download_bytes=excluded.download_bytes, window_secs=excluded.window_secs`,
		u.Username, u.PasswordHash, u.KeyFingerprint, u.IsAdmin, strings.Join(u.ModeratorPatterns, ","),
		u.MaxConns, u.UploadBytes, u.DownloadBytes, int64(u.WindowDuration/time.Second))
	if err != nil {
		return fmt.Errorf("sqlite: put user: %w", err)
	}
	return nil
}

func (s *Store) DeleteUser(username string) error {
	res, err := s.exec(`DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("sqlite: delete user: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListUsers() ([]model.User, error) {
	rows, err := s.db.Query(`SELECT username, password_hash, key_fingerprint, is_admin, moderator_patterns, max_conns, upload_bytes, download_bytes, window_secs FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list users: %w", err)
	}
	defer rows.Close()
	var out []model.User
	for rows.Next() {
		var u model.User
		var patterns string
		var windowSecs int64
		if err := rows.Scan(&u.Username, &u.PasswordHash, &u.KeyFingerprint, &u.IsAdmin, &patterns, &u.MaxConns, &u.UploadBytes, &u.DownloadBytes, &windowSecs); err != nil {
			return nil, fmt.Errorf("sqlite: scan user: %w", err)
		}
		u.ModeratorPatterns = splitPatterns(patterns)
		u.WindowDuration = time.Duration(windowSecs) * time.Second
		out = append(out, u)
	}
	return out, rows.Err()
}

// --- helpers ---------------------------------------------------------

func splitPatterns(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func matchAny(name string, patterns []string) bool {
	return wildmat.MatchList(name, patterns)
}

func encodeHeaders(headers []model.Header) string {
	var b strings.Builder
	for _, h := range headers {
		b.WriteString(h.Name)
		b.WriteByte('\x01')
		b.WriteString(h.Value)
		b.WriteByte('\x02')
	}
	return b.String()
}

func decodeHeaders(s string) []model.Header {
	if s == "" {
		return nil
	}
	var out []model.Header
	for _, rec := range strings.Split(strings.TrimSuffix(s, "\x02"), "\x02") {
		if rec == "" {
			continue
		}
		parts := strings.SplitN(rec, "\x01", 2)
		if len(parts) != 2 {
			continue
		}
		out = append(out, model.Header{Name: parts[0], Value: parts[1]})
	}
	return out
}

func splitBody(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
