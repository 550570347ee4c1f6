package filter

import (
	"strings"

	"github.com/renews-project/renews/internal/model"
)

// GroupExistenceFilter requires every destination group named in
// Newsgroups: to exist locally; ctx.MissingGroups is populated by the
// caller's resolution pass before the pipeline runs.
type GroupExistenceFilter struct{}

func NewGroupExistenceFilter() *GroupExistenceFilter { return &GroupExistenceFilter{} }

func (f *GroupExistenceFilter) Name() string { return "group_existence" }

func (f *GroupExistenceFilter) Check(a *model.Article, ctx *Context) Verdict {
	if len(ctx.MissingGroups) > 0 {
		return reject(true, "unknown group(s): %s", strings.Join(ctx.MissingGroups, ", "))
	}
	return accept()
}
