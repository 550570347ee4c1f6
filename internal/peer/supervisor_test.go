package peer

import (
	"testing"

	"github.com/renews-project/renews/internal/config"
)

func TestSupervisorReconcileAddsAndRemoves(t *testing.T) {
	st := openTestStore(t)
	sup := NewSupervisor(st)
	sup.Start([]config.PeerRule{
		{SiteName: "a.example.org:119", SyncSchedule: "0 0 3 * * *"},
	})
	defer sup.Stop()

	if len(sup.peers) != 1 {
		t.Fatalf("expected 1 peer after Start, got %d", len(sup.peers))
	}

	sup.Reconcile([]config.PeerRule{
		{SiteName: "b.example.org:119", SyncSchedule: "0 0 4 * * *"},
	})
	if len(sup.peers) != 1 {
		t.Fatalf("expected 1 peer after Reconcile, got %d", len(sup.peers))
	}
	if _, ok := sup.peers["b.example.org:119"]; !ok {
		t.Fatal("expected b.example.org:119 to be added")
	}
	if _, ok := sup.peers["a.example.org:119"]; ok {
		t.Fatal("expected a.example.org:119 to be removed")
	}
}

func TestSupervisorRejectsInvalidSchedule(t *testing.T) {
	st := openTestStore(t)
	sup := NewSupervisor(st)
	sup.Start([]config.PeerRule{
		{SiteName: "bad.example.org:119", SyncSchedule: "not a schedule"},
	})
	defer sup.Stop()

	if len(sup.peers) != 0 {
		t.Fatalf("expected invalid schedule to be rejected, got %d peers", len(sup.peers))
	}
}
