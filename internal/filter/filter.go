// Package filter implements the ordered article-acceptance pipeline
// (spec §4.5): each stage inspects a parsed article in context and
// returns accept, reject, or rewrite. Grounded on the teacher's
// internal/processor pipeline (header/body validation stages run in a
// fixed order before storage commit), but recast as an explicit
// interface with per-kind constructors per spec §9 ("do not rely on
// runtime reflection").
package filter

import (
	"fmt"

	"github.com/renews-project/renews/internal/model"
)

// VerdictKind enumerates the four outcomes a Filter may return.
type VerdictKind int

const (
	Accept VerdictKind = iota
	Reject
	Rewrite
	Discard // silent drop: reported as success, article never stored (spec §4.5)
)

// Verdict is a filter stage's decision. Permanent distinguishes a hard
// reject (5xx-class, never retry) from a soft one (tempfail, 4xx-class).
type Verdict struct {
	Kind      VerdictKind
	Reason    string
	Permanent bool
	Rewritten *model.Article // set only when Kind == Rewrite
}

func accept() Verdict { return Verdict{Kind: Accept} }

func reject(permanent bool, format string, args ...interface{}) Verdict {
	return Verdict{Kind: Reject, Reason: fmt.Sprintf(format, args...), Permanent: permanent}
}

func rewrite(a *model.Article) Verdict {
	return Verdict{Kind: Rewrite, Rewritten: a}
}

func discard() Verdict { return Verdict{Kind: Discard} }

// Context carries the information a filter needs beyond the article
// itself: the resolved per-group size ceiling, which destination groups
// exist, and role lookups for moderation authorization.
type Context struct {
	Groups           []*model.Group // resolved destination groups, same order as article.Groups
	MaxArticleSize   int64          // effective max = max across resolved groups, 0 = unlimited
	MissingGroups    []string       // destination names that don't exist locally
	ApproverUsername string         // username presenting Approved:, if any
	CanApprove       func(username string, groups []string) bool
	ModeratorFor     func(groups []string) (username string, ok bool)
}

// Filter is one pipeline stage.
type Filter interface {
	Name() string
	Check(a *model.Article, ctx *Context) Verdict
}

// Pipeline runs filters in order, short-circuiting on the first reject
// or discard and applying rewrites to the article passed to subsequent stages.
type Pipeline struct {
	stages []Filter
}

// NewPipeline returns a Pipeline that runs stages in the order given.
func NewPipeline(stages ...Filter) *Pipeline {
	return &Pipeline{stages: stages}
}

// Run executes every stage against a, returning the final verdict and
// the (possibly rewritten) article that should be committed on accept.
func (p *Pipeline) Run(a *model.Article, ctx *Context) (Verdict, *model.Article) {
	current := a
	for _, f := range p.stages {
		v := f.Check(current, ctx)
		switch v.Kind {
		case Reject, Discard:
			return v, current
		case Rewrite:
			current = v.Rewritten
		}
	}
	return accept(), current
}
