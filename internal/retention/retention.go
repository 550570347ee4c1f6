// Package retention runs the periodic sweep that enforces per-group
// article retention (spec §4.9), deleting articles once they pass
// their group's configured retention window or their own Expires:
// header deadline, whichever comes first. Structured the same way as
// internal/peer's Supervisor: a single robfig/cron/v3 runtime (six
// fields, seconds included) driving one long-lived task, reconciled on
// every config reload rather than restarted.
package retention

import (
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/renews-project/renews/internal/store"
)

// Sweeper owns the cron runtime that periodically deletes expired
// articles from every group.
type Sweeper struct {
	store store.Storage
	cron  *cron.Cron

	mu       sync.Mutex
	schedule string
	id       cron.EntryID
	hasEntry bool
	running  bool
}

// NewSweeper builds a Sweeper against st. Call Start to begin running
// on schedule.
func NewSweeper(st store.Storage) *Sweeper {
	return &Sweeper{
		store: st,
		cron:  cron.New(cron.WithSeconds()),
	}
}

// Start schedules the sweep on schedule (a six-field cron expression;
// an empty schedule defaults to once an hour) and begins the cron
// runtime.
func (sw *Sweeper) Start(schedule string) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.setScheduleLocked(schedule)
	sw.cron.Start()
	sw.running = true
}

// Reconcile updates the sweep schedule after a config reload. A change
// takes effect on the next tick; an unchanged schedule is a no-op.
func (sw *Sweeper) Reconcile(schedule string) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if schedule == sw.schedule {
		return
	}
	sw.setScheduleLocked(schedule)
}

func (sw *Sweeper) setScheduleLocked(schedule string) {
	if schedule == "" {
		schedule = "0 0 * * * *" // hourly, six-field cron
	}
	if sw.hasEntry {
		sw.cron.Remove(sw.id)
		sw.hasEntry = false
	}
	id, err := sw.cron.AddFunc(schedule, func() {
		if err := sw.Sweep(); err != nil {
			log.Printf("[RETENTION]: sweep failed: %v", err)
		}
	})
	if err != nil {
		log.Printf("[RETENTION]: invalid retention_sweep_schedule %q: %v", schedule, err)
		return
	}
	sw.schedule = schedule
	sw.id = id
	sw.hasEntry = true
}

// Stop cancels the cron runtime and waits for an in-flight sweep to
// return.
func (sw *Sweeper) Stop() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if !sw.running {
		return
	}
	ctx := sw.cron.Stop()
	<-ctx.Done()
	sw.running = false
}

// Sweep runs one retention pass over every group immediately, outside
// the cron schedule. A group with RetentionDays <= 0 is kept
// indefinitely by the day-based cutoff, but its articles remain
// subject to their own Expires: header deadline, since the two rules
// are independent of one another.
func (sw *Sweeper) Sweep() error {
	groups, err := sw.store.ListGroups(nil)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, g := range groups {
		cutoff := farFuture
		if g.RetentionDays > 0 {
			cutoff = now.AddDate(0, 0, -g.RetentionDays)
		}
		n, err := sw.store.DeleteExpired(g.Name, cutoff)
		if err != nil {
			log.Printf("[RETENTION]: %s: sweep failed: %v", g.Name, err)
			continue
		}
		if n > 0 {
			log.Printf("[RETENTION]: %s: deleted %d expired article(s)", g.Name, n)
		}
	}
	return nil
}

// farFuture stands in for "no day-based cutoff": a group without a
// configured retention window still honors each article's own
// Expires: header, but is never swept purely by age.
var farFuture = time.Date(9999, time.January, 1, 0, 0, 0, 0, time.UTC)
