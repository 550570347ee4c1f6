package filter

import (
	"testing"

	"github.com/renews-project/renews/internal/model"
)

func testArticle() *model.Article {
	return &model.Article{
		MessageID: "<a@b>",
		Headers: []model.Header{
			{Name: "From", Value: "a@b"},
			{Name: "Newsgroups", Value: "comp.lang.go"},
			{Name: "Subject", Value: "hi"},
			{Name: "Date", Value: "Fri, 31 Jul 2026 00:00:00 +0000"},
			{Name: "Message-ID", Value: "<a@b>"},
			{Name: "Path", Value: "x"},
		},
		Groups: []string{"comp.lang.go"},
		Size:   100,
	}
}

func TestHeaderFilterAccepts(t *testing.T) {
	v := NewHeaderFilter().Check(testArticle(), &Context{})
	if v.Kind != Accept {
		t.Fatalf("got %+v", v)
	}
}

func TestHeaderFilterRejectsMissing(t *testing.T) {
	a := testArticle()
	a.Headers = a.Headers[:len(a.Headers)-1] // drop Path
	v := NewHeaderFilter().Check(a, &Context{})
	if v.Kind != Reject {
		t.Fatalf("expected reject, got %+v", v)
	}
}

func TestSizeFilter(t *testing.T) {
	a := testArticle()
	v := NewSizeFilter().Check(a, &Context{MaxArticleSize: 50})
	if v.Kind != Reject {
		t.Fatalf("expected reject over limit, got %+v", v)
	}
	v = NewSizeFilter().Check(a, &Context{MaxArticleSize: 200})
	if v.Kind != Accept {
		t.Fatalf("expected accept under limit, got %+v", v)
	}
}

func TestGroupExistenceFilter(t *testing.T) {
	v := NewGroupExistenceFilter().Check(testArticle(), &Context{MissingGroups: []string{"comp.lang.go"}})
	if v.Kind != Reject {
		t.Fatalf("expected reject, got %+v", v)
	}
	v = NewGroupExistenceFilter().Check(testArticle(), &Context{})
	if v.Kind != Accept {
		t.Fatalf("expected accept, got %+v", v)
	}
}

func TestModerationFilterRequiresApproval(t *testing.T) {
	a := testArticle()
	ctx := &Context{Groups: []*model.Group{{Name: "comp.lang.go", Moderated: true}}}
	v := NewModerationFilter().Check(a, ctx)
	if v.Kind != Reject {
		t.Fatalf("expected reject without Approved:, got %+v", v)
	}

	a.Headers = append(a.Headers, model.Header{Name: "Approved", Value: "alice"})
	ctx.ApproverUsername = "alice"
	ctx.CanApprove = func(username string, groups []string) bool { return username == "alice" }
	v = NewModerationFilter().Check(a, ctx)
	if v.Kind != Accept {
		t.Fatalf("expected accept with approval, got %+v", v)
	}
}

func TestPipelineShortCircuits(t *testing.T) {
	p := NewPipeline(NewHeaderFilter(), NewSizeFilter())
	a := testArticle()
	v, _ := p.Run(a, &Context{MaxArticleSize: 10})
	if v.Kind != Reject {
		t.Fatalf("expected reject from size filter, got %+v", v)
	}
}

type discardingFilter struct{}

func (discardingFilter) Name() string { return "discard-stub" }
func (discardingFilter) Check(a *model.Article, ctx *Context) Verdict {
	return discard()
}

func TestPipelineDiscardShortCircuits(t *testing.T) {
	p := NewPipeline(discardingFilter{}, NewSizeFilter())
	a := testArticle()
	v, final := p.Run(a, &Context{MaxArticleSize: 10})
	if v.Kind != Discard {
		t.Fatalf("expected discard, got %+v", v)
	}
	if final != a {
		t.Fatalf("expected article unchanged on discard")
	}
}
