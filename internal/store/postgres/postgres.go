// Package postgres implements internal/store.Storage against a shared
// PostgreSQL instance via jackc/pgx/v5's pgxpool, grounded on
// marmos91-dittofs's pkg/metadata/store/postgres package: a pooled
// connection with explicit config, golang-migrate-driven schema setup,
// and pgx.Rows-backed lazy iterators in place of that package's fully
// materialized query helpers. Intended for multi-frontend deployments
// where several renews processes share one backing database — the
// embedded internal/store/sqlite backend is for single-process setups.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/renews-project/renews/internal/article"
	"github.com/renews-project/renews/internal/model"
	"github.com/renews-project/renews/internal/store"
	"github.com/renews-project/renews/internal/wildmat"
)

// Config mirrors the shape of marmos91-dittofs's PostgresMetadataStoreConfig,
// trimmed to the fields renews actually exposes through its TOML config.
type Config struct {
	ConnString   string
	MaxConns     int32
	MinConns     int32
	QueryTimeout time.Duration
}

// Store is the networked backend.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres, applies pending migrations, and returns a
// ready Store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := runMigrations(cfg.ConnString); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) ctx() context.Context { return context.Background() }

// --- messages ---------------------------------------------------------

func (s *Store) StoreArticle(a *model.Article, groups []string) error {
	ctx := s.ctx()
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM messages WHERE message_id = $1)`, a.MessageID).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: check duplicate: %w", err)
	}
	if exists {
		return store.ErrDuplicate
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, g := range groups {
		var gExists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM groups WHERE name = $1)`, g).Scan(&gExists); err != nil {
			return fmt.Errorf("postgres: check group %s: %w", g, err)
		}
		if !gExists {
			return fmt.Errorf("%w: %s", store.ErrGroupMissing, g)
		}
	}

	headers := encodeHeaders(a.Headers)
	body := strings.Join(a.Body, "\n")
	if _, err := tx.Exec(ctx, `INSERT INTO messages (message_id, headers, body, size, received_at) VALUES ($1, $2, $3, $4, $5)`,
		a.MessageID, headers, body, a.Size, a.ReceivedAt.UTC()); err != nil {
		return fmt.Errorf("postgres: insert message: %w", err)
	}

	var expiresAt *time.Time
	if t, ok := article.ParseExpires(a); ok {
		t = t.UTC()
		expiresAt = &t
	}

	for _, g := range groups {
		var high int64
		if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(number), 0) FROM group_articles WHERE group_name = $1`, g).Scan(&high); err != nil {
			return fmt.Errorf("postgres: high-water %s: %w", g, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO group_articles (group_name, number, message_id, inserted_at, expires_at) VALUES ($1, $2, $3, $4, $5)`,
			g, high+1, a.MessageID, time.Now().UTC(), expiresAt); err != nil {
			return fmt.Errorf("postgres: insert group_article %s: %w", g, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *Store) FetchByMessageID(id string) (*model.Article, error) {
	ctx := s.ctx()
	var headers, body string
	var size int64
	var receivedAt time.Time
	err := s.pool.QueryRow(ctx, `SELECT headers, body, size, received_at FROM messages WHERE message_id = $1`, id).
		Scan(&headers, &body, &size, &receivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch by msgid: %w", err)
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
	ctx := s.ctx()
	var id string
	err := s.pool.QueryRow(ctx, `SELECT message_id FROM group_articles WHERE group_name = $1 AND number = $2`, group, n).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch by number: %w", err)
	}
	return s.FetchByMessageID(id)
}

func (s *Store) DeleteArticle(messageID string) error {
	ctx := s.ctx()
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE message_id = $1`, messageID)
	if err != nil {
		return fmt.Errorf("postgres: delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) RewriteArticle(messageID string, headers []model.Header, body []string) error {
	ctx := s.ctx()
	tag, err := s.pool.Exec(ctx, `UPDATE messages SET headers = $1, body = $2 WHERE message_id = $3`,
		encodeHeaders(headers), strings.Join(body, "\n"), messageID)
	if err != nil {
		return fmt.Errorf("postgres: rewrite: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- groups ---------------------------------------------------------

func (s *Store) CreateGroup(g *model.Group) error {
	ctx := s.ctx()
	_, err := s.pool.Exec(ctx, `INSERT INTO groups (name, created, moderated, description, retention_days, max_article_size) VALUES ($1, $2, $3, $4, $5, $6)`,
		g.Name, g.Created.UTC(), g.Moderated, g.Description, g.RetentionDays, g.MaxArticleSize)
	if err != nil {
		return fmt.Errorf("postgres: create group: %w", err)
	}
	return nil
}

func (s *Store) DeleteGroup(name string) error {
	ctx := s.ctx()
	if _, err := s.pool.Exec(ctx, `DELETE FROM group_articles WHERE group_name = $1`, name); err != nil {
		return fmt.Errorf("postgres: delete group_articles: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM groups WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("postgres: delete group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrGroupMissing
	}
	return nil
}

func (s *Store) Group(name string) (*model.Group, error) {
	ctx := s.ctx()
	var g model.Group
	err := s.pool.QueryRow(ctx, `SELECT name, created, moderated, description, retention_days, max_article_size FROM groups WHERE name = $1`, name).
		Scan(&g.Name, &g.Created, &g.Moderated, &g.Description, &g.RetentionDays, &g.MaxArticleSize)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrGroupMissing
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: group lookup: %w", err)
	}
	return &g, nil
}

func (s *Store) ListGroups(patterns []string) ([]*model.Group, error) {
	ctx := s.ctx()
	rows, err := s.pool.Query(ctx, `SELECT name, created, moderated, description, retention_days, max_article_size FROM groups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list groups: %w", err)
	}
	defer rows.Close()
	var out []*model.Group
	for rows.Next() {
		var g model.Group
		if err := rows.Scan(&g.Name, &g.Created, &g.Moderated, &g.Description, &g.RetentionDays, &g.MaxArticleSize); err != nil {
			return nil, fmt.Errorf("postgres: scan group: %w", err)
		}
		if len(patterns) == 0 || matchAny(g.Name, patterns) {
			out = append(out, &g)
		}
	}
	return out, rows.Err()
}

func (s *Store) GroupBounds(group string) (model.GroupBounds, error) {
	ctx := s.ctx()
	var b model.GroupBounds
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MIN(number),0), COALESCE(MAX(number),0), COUNT(1) FROM group_articles WHERE group_name = $1`, group).
		Scan(&b.Low, &b.High, &b.Estimate)
	if err != nil {
		return b, fmt.Errorf("postgres: bounds: %w", err)
	}
	// An empty group reports 0/0/0 (spec §8 boundary behavior), not the
	// RFC 3977 convention of low == high+1.
	return b, nil
}

// --- lazy listing ---------------------------------------------------------

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
	ctx := it.s.ctx()
	var rows pgx.Rows
	var err error
	if it.since != nil {
		rows, err = it.s.pool.Query(ctx,
			`SELECT number, message_id FROM group_articles WHERE group_name = $1 AND number > $2 AND inserted_at >= $3 ORDER BY number LIMIT $4`,
			it.group, it.lastNum, it.since.UTC(), chunkSize)
	} else {
		hi := it.high
		if hi == 0 {
			hi = 1<<63 - 1
		}
		rows, err = it.s.pool.Query(ctx,
			`SELECT number, message_id FROM group_articles WHERE group_name = $1 AND number > $2 AND number <= $3 ORDER BY number LIMIT $4`,
			it.group, it.lastNum, hi, chunkSize)
	}
	if err != nil {
		it.err = fmt.Errorf("postgres: list chunk: %w", err)
		it.done = true
		return
	}
	defer rows.Close()
	it.buf = it.buf[:0]
	for rows.Next() {
		var r store.NumberRow
		if err := rows.Scan(&r.Number, &r.MessageID); err != nil {
			it.err = fmt.Errorf("postgres: scan chunk: %w", err)
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
		it.inner.err = fmt.Errorf("postgres: overview fetch %s: %w", row.MessageID, err)
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
// Expires: header deadline has already passed, whichever comes first.
func (s *Store) DeleteExpired(group string, cutoff time.Time) (int, error) {
	ctx := s.ctx()
	rows, err := s.pool.Query(ctx, `SELECT message_id FROM group_articles WHERE group_name = $1 AND (inserted_at < $2 OR (expires_at IS NOT NULL AND expires_at < $3))`, group, cutoff.UTC(), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("postgres: expired scan: %w", err)
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
		if err := s.pool.QueryRow(ctx, `SELECT COUNT(1) FROM group_articles WHERE message_id = $1 AND group_name != $2`, id, group).Scan(&otherGroups); err != nil {
			return count, fmt.Errorf("postgres: expired fanout check: %w", err)
		}
		if _, err := s.pool.Exec(ctx, `DELETE FROM group_articles WHERE group_name = $1 AND message_id = $2`, group, id); err != nil {
			return count, fmt.Errorf("postgres: expired delete group_article: %w", err)
		}
		if otherGroups == 0 {
			if _, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE message_id = $1`, id); err != nil {
				return count, fmt.Errorf("postgres: expired delete message: %w", err)
			}
		}
		count++
	}
	return count, nil
}

// --- peer state ---------------------------------------------------------

func (s *Store) PeerHighWater(peer, group string) (int64, error) {
	ctx := s.ctx()
	var hw int64
	err := s.pool.QueryRow(ctx, `SELECT high_water FROM peer_state WHERE peer = $1 AND group_name = $2`, peer, group).Scan(&hw)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: peer high-water: %w", err)
	}
	return hw, nil
}

func (s *Store) SetPeerHighWater(peer, group string, high int64) error {
	ctx := s.ctx()
	_, err := s.pool.Exec(ctx, `INSERT INTO peer_state (peer, group_name, high_water, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (peer, group_name) DO UPDATE SET high_water = excluded.high_water, updated_at = excluded.updated_at`,
		peer, group, high, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres: set peer high-water: %w", err)
	}
	return nil
}

// --- users ---------------------------------------------------------

func (s *Store) UserByUsername(username string) (*model.User, error) {
	ctx := s.ctx()
	var u model.User
	var patterns string
	var windowSecs int64
	err := s.pool.QueryRow(ctx, `SELECT username, password_hash, key_fingerprint, is_admin, moderator_patterns, max_conns, upload_bytes, download_bytes, window_secs FROM users WHERE username = $1`, username).
		Scan(&u.Username, &u.PasswordHash, &u.KeyFingerprint, &u.IsAdmin, &patterns, &u.MaxConns, &u.UploadBytes, &u.DownloadBytes, &windowSecs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: user lookup: %w", err)
	}
	u.ModeratorPatterns = splitPatterns(patterns)
	u.WindowDuration = time.Duration(windowSecs) * time.Second
	return &u, nil
}

func (s *Store) PutUser(u *model.User) error {
	ctx := s.ctx()
	_, err := s.pool.Exec(ctx, `INSERT INTO users (username, password_hash, key_fingerprint, is_admin, moderator_patterns, max_conns, upload_bytes, download_bytes, window_secs)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (username) DO UPDATE SET password_hash=excluded.password_hash, key_fingerprint=excluded.key_fingerprint,
			is_admin=excluded.is_admin, moderator_patterns=excluded.moderator_patterns, max_conns=excluded.max_conns,
			upload_bytes=excluded.upload_bytes, download_bytes=excluded.download_bytes, window_secs=excluded.window_secs`,
		u.Username, u.PasswordHash, u.KeyFingerprint, u.IsAdmin, strings.Join(u.ModeratorPatterns, ","),
		u.MaxConns, u.UploadBytes, u.DownloadBytes, int64(u.WindowDuration/time.Second))
	if err != nil {
		return fmt.Errorf("postgres: put user: %w", err)
	}
	return nil
}

func (s *Store) DeleteUser(username string) error {
	ctx := s.ctx()
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE username = $1`, username)
	if err != nil {
		return fmt.Errorf("postgres: delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListUsers() ([]model.User, error) {
	ctx := s.ctx()
	rows, err := s.pool.Query(ctx, `SELECT username, password_hash, key_fingerprint, is_admin, moderator_patterns, max_conns, upload_bytes, download_bytes, window_secs FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list users: %w", err)
	}
	defer rows.Close()
	var out []model.User
	for rows.Next() {
		var u model.User
		var patterns string
		var windowSecs int64
		if err := rows.Scan(&u.Username, &u.PasswordHash, &u.KeyFingerprint, &u.IsAdmin, &patterns, &u.MaxConns, &u.UploadBytes, &u.DownloadBytes, &windowSecs); err != nil {
			return nil, fmt.Errorf("postgres: scan user: %w", err)
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
