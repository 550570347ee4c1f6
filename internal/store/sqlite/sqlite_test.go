package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/renews-project/renews/internal/model"
	"github.com/renews-project/renews/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.sqlite3")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestHeaderRoundTrip(t *testing.T) {
	headers := []model.Header{
		{Name: "Subject", Value: "hello"},
		{Name: "References", Value: "<a@b> <c@d>"},
	}
	got := decodeHeaders(encodeHeaders(headers))
	if len(got) != 2 || got[0].Value != "hello" || got[1].Value != "<a@b> <c@d>" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestStoreArticleAndFetch(t *testing.T) {
	s := openTestStore(t)
	g := &model.Group{Name: "comp.lang.go", Created: time.Now(), RetentionDays: 30}
	if err := s.CreateGroup(g); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	a := &model.Article{
		MessageID: "<1@test>",
		Headers: []model.Header{
			{Name: "Subject", Value: "first post"},
			{Name: "From", Value: "a@b.test"},
		},
		Body:       []string{"hello world"},
		Size:       42,
		ReceivedAt: time.Now(),
	}
	if err := s.StoreArticle(a, []string{"comp.lang.go"}); err != nil {
		t.Fatalf("StoreArticle: %v", err)
	}
	if err := s.StoreArticle(a, []string{"comp.lang.go"}); err != store.ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	bounds, err := s.GroupBounds("comp.lang.go")
	if err != nil {
		t.Fatalf("GroupBounds: %v", err)
	}
	if bounds.High != 1 || bounds.Estimate != 1 {
		t.Fatalf("unexpected bounds: %+v", bounds)
	}

	got, err := s.FetchByNumber("comp.lang.go", 1)
	if err != nil {
		t.Fatalf("FetchByNumber: %v", err)
	}
	if got.Header("Subject") != "first post" {
		t.Fatalf("subject = %q", got.Header("Subject"))
	}
}

func TestStoreArticleMissingGroup(t *testing.T) {
	s := openTestStore(t)
	a := &model.Article{MessageID: "<2@test>", Body: []string{"x"}, ReceivedAt: time.Now()}
	if err := s.StoreArticle(a, []string{"nonexistent.group"}); err == nil {
		t.Fatal("expected error for missing group")
	}
}

func TestListNumbersLazy(t *testing.T) {
	s := openTestStore(t)
	if err := s.CreateGroup(&model.Group{Name: "misc.test", Created: time.Now()}); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	for i := 0; i < 3; i++ {
		a := &model.Article{
			MessageID:  "<" + string(rune('a'+i)) + "@test>",
			Headers:    []model.Header{{Name: "Subject", Value: "x"}},
			Body:       []string{"body"},
			ReceivedAt: time.Now(),
		}
		if err := s.StoreArticle(a, []string{"misc.test"}); err != nil {
			t.Fatalf("StoreArticle %d: %v", i, err)
		}
	}

	it, err := s.ListNumbers("misc.test", store.Range{})
	if err != nil {
		t.Fatalf("ListNumbers: %v", err)
	}
	defer it.Close()
	var nums []int64
	for it.Next() {
		nums = append(nums, it.Row().Number)
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	if len(nums) != 3 || nums[0] != 1 || nums[2] != 3 {
		t.Fatalf("unexpected numbers: %v", nums)
	}
}

func TestPeerHighWater(t *testing.T) {
	s := openTestStore(t)
	hw, err := s.PeerHighWater("news.example.net", "comp.lang.go")
	if err != nil || hw != 0 {
		t.Fatalf("initial high-water = %d, %v", hw, err)
	}
	if err := s.SetPeerHighWater("news.example.net", "comp.lang.go", 42); err != nil {
		t.Fatalf("SetPeerHighWater: %v", err)
	}
	hw, err = s.PeerHighWater("news.example.net", "comp.lang.go")
	if err != nil || hw != 42 {
		t.Fatalf("high-water = %d, %v", hw, err)
	}
}

func TestUserCRUD(t *testing.T) {
	s := openTestStore(t)
	u := &model.User{
		Username:          "alice",
		PasswordHash:      "$argon2id$...",
		ModeratorPatterns: []string{"comp.*", "news.*"},
		MaxConns:          5,
	}
	if err := s.PutUser(u); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	got, err := s.UserByUsername("alice")
	if err != nil {
		t.Fatalf("UserByUsername: %v", err)
	}
	if len(got.ModeratorPatterns) != 2 || got.MaxConns != 5 {
		t.Fatalf("unexpected user: %+v", got)
	}
	if err := s.DeleteUser("alice"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, err := s.UserByUsername("alice"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
