package control

import (
	"errors"
	"testing"

	"github.com/renews-project/renews/internal/model"
)

var errNotFound = errors.New("not found")

func TestIsControlArticle(t *testing.T) {
	a := &model.Article{Groups: []string{"control"}}
	if !IsControlArticle(a) {
		t.Fatal("expected control group to be detected")
	}
	a = &model.Article{Groups: []string{"comp.lang.go"}, Headers: []model.Header{{Name: "Subject", Value: "cmsg rmgroup comp.lang.go"}}}
	if !IsControlArticle(a) {
		t.Fatal("expected cmsg subject to be detected")
	}
	a = &model.Article{Groups: []string{"comp.lang.go"}, Headers: []model.Header{{Name: "Subject", Value: "hello"}}}
	if IsControlArticle(a) {
		t.Fatal("expected ordinary article to not be control")
	}
}

func TestParseVerb(t *testing.T) {
	cases := []struct {
		subject string
		want    Verb
	}{
		{"cmsg newgroup comp.lang.rust moderated", Verb{Name: "newgroup", Target: "comp.lang.rust", Moderated: true}},
		{"cmsg rmgroup comp.old", Verb{Name: "rmgroup", Target: "comp.old"}},
		{"cmsg cancel <a@b>", Verb{Name: "cancel", Target: "<a@b>"}},
	}
	for _, c := range cases {
		a := &model.Article{Headers: []model.Header{{Name: "Subject", Value: c.subject}}}
		got, err := ParseVerb(a)
		if err != nil {
			t.Fatalf("ParseVerb(%q): %v", c.subject, err)
		}
		if got != c.want {
			t.Errorf("ParseVerb(%q) = %+v, want %+v", c.subject, got, c.want)
		}
	}
}

type fakeGroupStore struct {
	articles map[string]*model.Article
}

func (f *fakeGroupStore) CreateGroup(g *model.Group) error { return nil }
func (f *fakeGroupStore) DeleteGroup(name string) error    { return nil }
func (f *fakeGroupStore) DeleteArticle(messageID string) error {
	delete(f.articles, messageID)
	return nil
}
func (f *fakeGroupStore) FetchByMessageID(id string) (*model.Article, error) {
	a, ok := f.articles[id]
	if !ok {
		return nil, errNotFound
	}
	return a, nil
}

func TestProcessorAuthorizedCancel(t *testing.T) {
	target := &model.Article{
		MessageID: "<a@b>",
		Headers:   []model.Header{{Name: "Newsgroups", Value: "comp.lang.go"}},
	}
	groups := &fakeGroupStore{articles: map[string]*model.Article{"<a@b>": target}}
	p := &Processor{groups: groups}

	mod := &model.User{Username: "mod", ModeratorPatterns: []string{"comp.*"}}
	if !p.authorized(mod, Verb{Name: "cancel", Target: "<a@b>"}) {
		t.Fatal("expected moderator of comp.* to cancel an article in comp.lang.go")
	}

	other := &model.User{Username: "other", ModeratorPatterns: []string{"alt.*"}}
	if p.authorized(other, Verb{Name: "cancel", Target: "<a@b>"}) {
		t.Fatal("expected moderator of alt.* to be denied canceling an article in comp.lang.go")
	}

	if p.authorized(mod, Verb{Name: "cancel", Target: "<missing@b>"}) {
		t.Fatal("expected cancel of an unknown message-id to be denied")
	}
}

func TestExtractEmail(t *testing.T) {
	if got := extractEmail("Alice <alice@example.com>"); got != "alice@example.com" {
		t.Errorf("got %q", got)
	}
	if got := extractEmail("alice@example.com"); got != "alice@example.com" {
		t.Errorf("got %q", got)
	}
}
