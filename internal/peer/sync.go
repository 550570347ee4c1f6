package peer

import (
	"fmt"
	"log"
	"time"

	"github.com/renews-project/renews/internal/article"
	"github.com/renews-project/renews/internal/model"
	"github.com/renews-project/renews/internal/store"
	"github.com/renews-project/renews/internal/wildmat"
)

// checkWindow is the streaming-mode batch size: that many CHECK commands
// are sent, one after another with each waiting for its reply, before
// the batch's TAKETHIS transfers (spec §4.8 step 5). Only one CHECK is
// outstanding at a time.
const checkWindow = 50

// Rule is the subset of config.PeerRule a Task needs, decoupled from
// the config package to keep this package importable by tests without
// dragging in TOML parsing.
type Rule struct {
	SiteName  string // may embed "user:pass@host:port"
	Patterns  []string
	Streaming bool
	UseTLS    bool
	MaxWindow int // CHECK batch size, 0 = checkWindow default
}

// Task owns one peer's recurring sync: each Tick enumerates matching
// local groups, streams new articles since the persisted high-water,
// and on success advances and persists it (spec §4.8).
type Task struct {
	rule    Rule
	store   store.Storage
	timeout time.Duration
}

func NewTask(rule Rule, st store.Storage, timeout time.Duration) *Task {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Task{rule: rule, store: st, timeout: timeout}
}

// Tick runs one synchronization pass. Per spec §4.8 step 7, any
// connection/auth error aborts the whole tick without advancing any
// high-water mark; a single peer's failure never reaches its siblings,
// enforced by the caller (Supervisor) catching whatever Tick returns.
func (t *Task) Tick() error {
	groups, err := t.store.ListGroups(t.rule.Patterns)
	if err != nil {
		return fmt.Errorf("peer %s: listing groups: %w", t.rule.SiteName, err)
	}
	var matched []*model.Group
	for _, g := range groups {
		if wildmat.MatchList(g.Name, t.rule.Patterns) {
			matched = append(matched, g)
		}
	}
	if len(matched) == 0 {
		return nil
	}

	ep, err := ParseEndpoint(t.rule.SiteName, t.rule.UseTLS)
	if err != nil {
		return err
	}

	client, err := Dial(ep, t.timeout)
	if err != nil {
		return err
	}
	defer client.Close()

	for _, g := range matched {
		if err := t.syncGroup(client, g.Name); err != nil {
			log.Printf("[PEER]: %s: group %s: %v", t.rule.SiteName, g.Name, err)
			continue
		}
	}
	return nil
}

func (t *Task) syncGroup(client *Client, group string) error {
	high, err := t.store.PeerHighWater(t.rule.SiteName, group)
	if err != nil {
		return fmt.Errorf("reading high-water: %w", err)
	}

	it, err := t.store.ListNumbers(group, store.Range{Low: high + 1})
	if err != nil {
		return fmt.Errorf("listing new articles: %w", err)
	}
	defer it.Close()

	newHigh := high
	var rows []store.NumberRow
	for it.Next() {
		rows = append(rows, it.Row())
	}
	if err := it.Err(); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	if client.Streaming() && t.rule.Streaming {
		newHigh = t.streamCheckTakeThis(client, group, rows, high)
	} else {
		newHigh = t.streamIHave(client, group, rows, high)
	}

	if newHigh > high {
		if err := t.store.SetPeerHighWater(t.rule.SiteName, group, newHigh); err != nil {
			return fmt.Errorf("persisting high-water: %w", err)
		}
	}
	return nil
}

// streamCheckTakeThis implements spec §4.8 step 5: CHECK the candidates
// in batches of checkWindow, one CHECK at a time with each waiting for
// its reply, then TAKETHIS for every article of the batch the peer wants. The window here is a simple batch rather than a
// fully asynchronous pipeline, since textproto.Conn serializes request
// IDs per connection; it still avoids waiting for a TAKETHIS round trip
// before issuing the next CHECK within a batch.
func (t *Task) streamCheckTakeThis(client *Client, group string, rows []store.NumberRow, high int64) int64 {
	window := checkWindow
	if t.rule.MaxWindow > 0 {
		window = t.rule.MaxWindow
	}
	newHigh := high
	for i := 0; i < len(rows); i += window {
		end := i + window
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[i:end]

		type decision struct {
			row  store.NumberRow
			want bool
		}
		var decisions []decision
		for _, r := range batch {
			want, retry, err := client.Check(r.MessageID)
			if err != nil {
				return newHigh
			}
			if retry {
				return newHigh
			}
			decisions = append(decisions, decision{row: r, want: want})
		}

		for _, d := range decisions {
			if !d.want {
				if d.row.Number == newHigh+1 {
					newHigh = d.row.Number
				}
				continue
			}
			a, err := t.store.FetchByMessageID(d.row.MessageID)
			if err != nil {
				continue
			}
			ok, err := client.TakeThis(d.row.MessageID, article.Serialize(a))
			if err != nil {
				return newHigh
			}
			if ok && d.row.Number == newHigh+1 {
				newHigh = d.row.Number
			}
		}
	}
	return newHigh
}

// streamIHave implements the IHAVE fallback path.
func (t *Task) streamIHave(client *Client, group string, rows []store.NumberRow, high int64) int64 {
	newHigh := high
	for _, r := range rows {
		a, err := t.store.FetchByMessageID(r.MessageID)
		if err != nil {
			continue
		}
		transferred, err := client.IHave(r.MessageID, article.Serialize(a))
		if err != nil {
			return newHigh
		}
		// Either an accepted transfer or a peer-side "already have" both
		// count as success for advancing the high-water (spec §4.8 step 6).
		_ = transferred
		if r.Number == newHigh+1 {
			newHigh = r.Number
		}
	}
	return newHigh
}
