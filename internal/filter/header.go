package filter

import (
	"github.com/renews-project/renews/internal/article"
	"github.com/renews-project/renews/internal/model"
)

// HeaderFilter re-validates required headers and Message-ID format;
// internal/article.Parse already enforces these at parse time, but the
// filter stage exists so a future rewrite stage (e.g. ModerationFilter)
// cannot smuggle a malformed article past the pipeline undetected.
type HeaderFilter struct{}

func NewHeaderFilter() *HeaderFilter { return &HeaderFilter{} }

func (f *HeaderFilter) Name() string { return "header" }

func (f *HeaderFilter) Check(a *model.Article, ctx *Context) Verdict {
	for _, name := range article.RequiredHeaders {
		if a.Header(name) == "" {
			return reject(true, "missing required header %s", name)
		}
	}
	if !article.ValidMessageID(a.MessageID) {
		return reject(true, "malformed message-id %s", a.MessageID)
	}
	return accept()
}
