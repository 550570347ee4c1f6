package filter

import "github.com/renews-project/renews/internal/model"

// SizeFilter enforces the effective per-group maximum article size,
// computed by the caller as the max across all resolved destination
// groups (ctx.MaxArticleSize); 0 means unlimited.
type SizeFilter struct{}

func NewSizeFilter() *SizeFilter { return &SizeFilter{} }

func (f *SizeFilter) Name() string { return "size" }

func (f *SizeFilter) Check(a *model.Article, ctx *Context) Verdict {
	if ctx.MaxArticleSize > 0 && a.Size > ctx.MaxArticleSize {
		return reject(true, "article size %d exceeds limit %d", a.Size, ctx.MaxArticleSize)
	}
	return accept()
}
