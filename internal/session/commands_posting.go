package session

import (
	"errors"
	"fmt"

	"github.com/renews-project/renews/internal/article"
	"github.com/renews-project/renews/internal/authn"
	"github.com/renews-project/renews/internal/filter"
	"github.com/renews-project/renews/internal/model"
	"github.com/renews-project/renews/internal/store"
)

// handlePost implements POST (spec §4.3, §6): 340 then a dot-terminated
// article, 240 on commit, 441 on rejection.
func (s *Session) handlePost() error {
	if !s.postingAllowed() {
		return s.sendResponse(440, "posting not permitted")
	}
	if err := s.sendResponse(340, "send article"); err != nil {
		return err
	}
	lines, err := s.text.ReadDotLines()
	if err != nil {
		return fmt.Errorf("session: reading POST body: %w", err)
	}
	if err := s.ingest(lines); err != nil {
		return s.sendResponse(441, err.Error())
	}
	return s.sendResponse(240, "article posted")
}

// handleIHave implements IHAVE <msgid> (spec §4.3, §7): 335 if wanted,
// 435 if already held, 436 on tempfail, 437 on a permanent reject after
// the article was read.
func (s *Session) handleIHave(args []string) error {
	if len(args) != 1 {
		return s.sendResponse(501, "IHAVE requires a message-id")
	}
	if _, err := s.deps.Store.FetchByMessageID(args[0]); err == nil {
		return s.sendResponse(435, "already have it")
	}
	if err := s.sendResponse(335, "send article"); err != nil {
		return err
	}
	lines, err := s.text.ReadDotLines()
	if err != nil {
		return fmt.Errorf("session: reading IHAVE body: %w", err)
	}
	if err := s.ingest(lines); err != nil {
		if isTempfail(err) {
			return s.sendResponse(436, err.Error())
		}
		return s.sendResponse(437, err.Error())
	}
	return s.sendResponse(235, "article transferred")
}

// handleCheck implements CHECK <msgid> (spec §4.3): 438 when the
// message-id is already stored, 238 otherwise. It answers whether or not
// MODE STREAM was issued, and never replies 431.
func (s *Session) handleCheck(args []string) error {
	if len(args) != 1 {
		return s.sendResponse(501, "CHECK requires a message-id")
	}
	if _, err := s.deps.Store.FetchByMessageID(args[0]); err == nil {
		return s.sendResponse(438, args[0]+" already have it")
	}
	return s.sendResponse(238, args[0]+" send it")
}

// handleTakeThis implements TAKETHIS <msgid>: reads the article
// unconditionally, 239 on accept, 439 on reject.
func (s *Session) handleTakeThis(args []string) error {
	if len(args) != 1 {
		return s.sendResponse(501, "TAKETHIS requires a message-id")
	}
	lines, err := s.text.ReadDotLines()
	if err != nil {
		return fmt.Errorf("session: reading TAKETHIS body: %w", err)
	}
	if err := s.ingest(lines); err != nil {
		return s.sendResponse(439, args[0]+" "+err.Error())
	}
	return s.sendResponse(239, args[0]+" article transferred")
}

// ingest parses, filters, and commits a posted article, then invokes
// the control-message post-commit hook (spec §9: control actions must
// not run before the triggering article is durably stored). A
// duplicate message-id is treated as success, matching §7's "Conflict
// is a success for IHAVE/CHECK (the peer need not resend)".
func (s *Session) ingest(lines []string) error {
	opt := article.ParseOptions{SiteDomain: s.deps.SiteName}
	a, err := article.Parse(lines, opt)
	if err != nil {
		return fmt.Errorf("malformed article: %w", err)
	}

	if !s.deps.Auth.ChargeBytes(s.user, a.Size, true) {
		return &permanentError{"upload quota exceeded"}
	}

	var groups []*model.Group
	var missing []string
	var maxSize int64
	for _, name := range a.Groups {
		g, err := s.deps.Store.Group(name)
		if err != nil {
			missing = append(missing, name)
			continue
		}
		groups = append(groups, g)
		if g.MaxArticleSize > maxSize {
			maxSize = g.MaxArticleSize
		}
	}

	approver := ""
	if approved := a.Header("Approved"); approved != "" {
		approver = approved
	}

	ctx := &filter.Context{
		Groups:           groups,
		MaxArticleSize:   maxSize,
		MissingGroups:    missing,
		ApproverUsername: approver,
		CanApprove: func(username string, groups []string) bool {
			u, err := s.deps.Store.UserByUsername(username)
			if err != nil {
				return false
			}
			return authn.CanApprove(u, groups)
		},
		ModeratorFor: func(groups []string) (string, bool) {
			users, err := s.deps.Store.ListUsers()
			if err != nil {
				return "", false
			}
			return authn.FirstModeratorPattern(users, groups)
		},
	}

	verdict, final := s.deps.Pipeline.Run(a, ctx)
	switch verdict.Kind {
	case filter.Reject:
		if verdict.Permanent {
			return &permanentError{verdict.Reason}
		}
		return &tempfailError{verdict.Reason}
	case filter.Discard:
		// Silent drop: success to the poster/peer, never stored (spec §4.5).
		return nil
	}

	if err := s.deps.Store.StoreArticle(final, final.Groups); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil
		}
		if errors.Is(err, store.ErrGroupMissing) {
			return &permanentError{"destination group missing"}
		}
		return &tempfailError{"storage error"}
	}

	if s.deps.Control != nil {
		s.deps.Control.Process(final)
	}
	return nil
}

type permanentError struct{ msg string }

func (e *permanentError) Error() string { return e.msg }

type tempfailError struct{ msg string }

func (e *tempfailError) Error() string { return e.msg }

func isTempfail(err error) bool {
	_, ok := err.(*tempfailError)
	return ok
}
