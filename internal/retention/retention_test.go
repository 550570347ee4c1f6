package retention

import (
	"testing"
	"time"

	"github.com/renews-project/renews/internal/model"
	"github.com/renews-project/renews/internal/store/sqlite"
)

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.Open(t.TempDir() + "/renews.db")
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSweepKeepsArticlesWithinRetentionDays(t *testing.T) {
	st := openTestStore(t)
	if err := st.CreateGroup(&model.Group{Name: "comp.lang.go", RetentionDays: 1}); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	fresh := &model.Article{
		MessageID: "<fresh@x>",
		Headers: []model.Header{
			{Name: "From", Value: "a@example.org"},
			{Name: "Newsgroups", Value: "comp.lang.go"},
			{Name: "Subject", Value: "fresh"},
			{Name: "Date", Value: "Fri, 31 Jul 2026 00:00:00 +0000"},
			{Name: "Message-ID", Value: "<fresh@x>"},
			{Name: "Path", Value: "renews"},
		},
		Body: []string{"body"},
	}
	if err := st.StoreArticle(fresh, []string{"comp.lang.go"}); err != nil {
		t.Fatalf("StoreArticle: %v", err)
	}

	sw := NewSweeper(st)
	if err := sw.Sweep(); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if _, err := st.FetchByMessageID("<fresh@x>"); err != nil {
		t.Fatalf("expected article inserted moments ago to survive a 1-day retention window, got: %v", err)
	}
}

func TestSweepHonorsExpiresHeaderShorterThanRetention(t *testing.T) {
	st := openTestStore(t)
	if err := st.CreateGroup(&model.Group{Name: "comp.lang.go", RetentionDays: 365}); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC1123Z)
	a := &model.Article{
		MessageID: "<expired@x>",
		Headers: []model.Header{
			{Name: "From", Value: "a@example.org"},
			{Name: "Newsgroups", Value: "comp.lang.go"},
			{Name: "Subject", Value: "expiring"},
			{Name: "Date", Value: "Fri, 31 Jul 2026 00:00:00 +0000"},
			{Name: "Message-ID", Value: "<expired@x>"},
			{Name: "Path", Value: "renews"},
			{Name: "Expires", Value: past},
		},
		Body: []string{"body"},
	}
	if err := st.StoreArticle(a, []string{"comp.lang.go"}); err != nil {
		t.Fatalf("StoreArticle: %v", err)
	}

	sw := NewSweeper(st)
	if err := sw.Sweep(); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if _, err := st.FetchByMessageID("<expired@x>"); err == nil {
		t.Fatal("expected article past its Expires: deadline to be deleted despite a year-long retention window")
	}
}

func TestSweepSkipsGroupsWithoutRetentionUnlessExpired(t *testing.T) {
	st := openTestStore(t)
	if err := st.CreateGroup(&model.Group{Name: "comp.archive"}); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	a := &model.Article{
		MessageID: "<keep@x>",
		Headers: []model.Header{
			{Name: "From", Value: "a@example.org"},
			{Name: "Newsgroups", Value: "comp.archive"},
			{Name: "Subject", Value: "keep"},
			{Name: "Date", Value: "Fri, 31 Jul 2026 00:00:00 +0000"},
			{Name: "Message-ID", Value: "<keep@x>"},
			{Name: "Path", Value: "renews"},
		},
		Body: []string{"body"},
	}
	if err := st.StoreArticle(a, []string{"comp.archive"}); err != nil {
		t.Fatalf("StoreArticle: %v", err)
	}

	sw := NewSweeper(st)
	if err := sw.Sweep(); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if _, err := st.FetchByMessageID("<keep@x>"); err != nil {
		t.Fatalf("expected article in a group with no retention window to survive, got: %v", err)
	}
}

func TestReconcileChangesScheduleWithoutRestartingCron(t *testing.T) {
	st := openTestStore(t)
	sw := NewSweeper(st)
	sw.Start("0 0 3 * * *")
	defer sw.Stop()

	if sw.schedule != "0 0 3 * * *" {
		t.Fatalf("schedule = %q", sw.schedule)
	}
	sw.Reconcile("0 0 4 * * *")
	if sw.schedule != "0 0 4 * * *" {
		t.Fatalf("schedule after reconcile = %q", sw.schedule)
	}
}
