package filter

import "github.com/renews-project/renews/internal/model"

// ModerationFilter implements spec §4.5's moderation gate: any
// moderated destination group requires an Approved: header from a user
// whose moderator patterns cover every destination group. An article
// missing Approved: for a moderated destination is queued for the
// matching moderator (delivery mechanism out of scope per spec) and
// rejected to the poster with a permanent 441; the pipeline never
// commits it to storage under the poster's own post.
type ModerationFilter struct{}

func NewModerationFilter() *ModerationFilter { return &ModerationFilter{} }

func (f *ModerationFilter) Name() string { return "moderation" }

func (f *ModerationFilter) Check(a *model.Article, ctx *Context) Verdict {
	var moderatedGroups []string
	for _, g := range ctx.Groups {
		if g.Moderated {
			moderatedGroups = append(moderatedGroups, g.Name)
		}
	}
	if len(moderatedGroups) == 0 {
		return accept()
	}

	if a.Header("Approved") == "" {
		recipient := ""
		if ctx.ModeratorFor != nil {
			recipient, _ = ctx.ModeratorFor(a.Groups)
		}
		return reject(true, "moderation required, queued for %s", recipient)
	}

	if ctx.CanApprove == nil || !ctx.CanApprove(ctx.ApproverUsername, moderatedGroups) {
		return reject(true, "approver %q is not a moderator for %v", ctx.ApproverUsername, moderatedGroups)
	}
	return accept()
}
