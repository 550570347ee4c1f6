package peer

import (
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/renews-project/renews/internal/config"
	"github.com/renews-project/renews/internal/store"
)

// entry pairs a running Task with the cron entry id that schedules it,
// so Supervisor can remove it cleanly on reload.
type entry struct {
	task *Task
	id   cron.EntryID
}

// Supervisor owns one Task per configured peer and reschedules the set
// whenever the configuration reloads (spec §4.8 "SIGHUP reload may
// add/remove peers; added peers start immediately, removed peers are
// cancelled cleanly"). Grounded on the teacher's NNTPServer lifecycle
// (Start/Stop driven by a shutdown channel), generalized to a
// dynamically-diffed set of per-peer cron jobs instead of a fixed pair
// of listeners.
type Supervisor struct {
	store store.Storage
	cron  *cron.Cron

	mu      sync.Mutex
	peers   map[string]*entry
	running bool
}

// NewSupervisor builds a Supervisor whose cron runtime parses six-field
// schedules (seconds field included), per spec §6's sync_schedule field.
func NewSupervisor(st store.Storage) *Supervisor {
	return &Supervisor{
		store: st,
		cron:  cron.New(cron.WithSeconds()),
		peers: make(map[string]*entry),
	}
}

// Start schedules every peer in rules and begins the cron runtime.
func (s *Supervisor) Start(rules []config.PeerRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rules {
		s.addLocked(r)
	}
	s.cron.Start()
	s.running = true
}

// Reconcile diffs the new peer list against the running set: peers no
// longer present are removed, and new ones are added and start on their
// next scheduled tick. Peers are matched by sitename only: a peer whose
// schedule or patterns changed under the same sitename keeps running
// with its old rule.
func (s *Supervisor) Reconcile(rules []config.PeerRule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]config.PeerRule, len(rules))
	for _, r := range rules {
		wanted[r.SiteName] = r
	}

	for name, e := range s.peers {
		if _, ok := wanted[name]; !ok {
			s.cron.Remove(e.id)
			delete(s.peers, name)
			log.Printf("[PEER]: removed %s", name)
		}
	}

	for name, r := range wanted {
		if _, ok := s.peers[name]; !ok {
			s.addLocked(r)
			log.Printf("[PEER]: added %s", name)
		}
	}
}

func (s *Supervisor) addLocked(r config.PeerRule) {
	task := NewTask(Rule{
		SiteName:  r.SiteName,
		Patterns:  r.Patterns,
		Streaming: r.Streaming,
		UseTLS:    r.UseTLS,
		MaxWindow: r.MaxWindow,
	}, s.store, 30*time.Second)

	schedule := r.SyncSchedule
	if schedule == "" {
		schedule = "0 0 * * * *" // hourly at :00 seconds, six-field cron
	}
	id, err := s.cron.AddFunc(schedule, func() {
		if err := task.Tick(); err != nil {
			log.Printf("[PEER]: %s: tick failed: %v", r.SiteName, err)
		}
	})
	if err != nil {
		log.Printf("[PEER]: %s: invalid sync_schedule %q: %v", r.SiteName, schedule, err)
		return
	}
	s.peers[r.SiteName] = &entry{task: task, id: id}
}

// Stop cancels the cron runtime and waits for any in-flight ticks to
// return.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
}
