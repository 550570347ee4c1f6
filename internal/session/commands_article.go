package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/renews-project/renews/internal/article"
	"github.com/renews-project/renews/internal/model"
	"github.com/renews-project/renews/internal/store"
)

type retrieveKind int

const (
	retrieveArticle retrieveKind = iota
	retrieveHead
	retrieveBody
	retrieveStat
)

// resolve implements spec §4.3 addressing precedence: an <msgid>
// argument looks up globally; a numeric argument looks up within the
// selected group; no argument uses the current pointer.
func (s *Session) resolve(args []string) (*model.Article, int64, error) {
	if len(args) == 0 {
		if s.currentGroup == "" {
			return nil, 0, errNoGroupSelected
		}
		if s.currentNum == 0 {
			return nil, 0, errNoCurrentArticle
		}
		a, err := s.deps.Store.FetchByNumber(s.currentGroup, s.currentNum)
		return a, s.currentNum, err
	}

	arg := args[0]
	if strings.HasPrefix(arg, "<") {
		a, err := s.deps.Store.FetchByMessageID(arg)
		return a, 0, err
	}

	n, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return nil, 0, errBadArticleNumber
	}
	if s.currentGroup == "" {
		return nil, 0, errNoGroupSelected
	}
	a, err := s.deps.Store.FetchByNumber(s.currentGroup, n)
	return a, n, err
}

var (
	errNoGroupSelected  = errors.New("no group selected")
	errNoCurrentArticle = errors.New("no current article")
	errBadArticleNumber = errors.New("bad article number")
)

func (s *Session) handleRetrieve(args []string, kind retrieveKind) error {
	a, n, err := s.resolve(args)
	if err != nil {
		switch err {
		case errNoGroupSelected:
			return s.sendResponse(412, "no newsgroup selected")
		case errNoCurrentArticle, errBadArticleNumber:
			return s.sendResponse(423, "no such article number in this group")
		}
		if errors.Is(err, store.ErrNotFound) {
			if strings.HasPrefix(args0(args), "<") {
				return s.sendResponse(430, "no such article")
			}
			return s.sendResponse(423, "no such article number in this group")
		}
		return s.sendResponse(403, "storage error")
	}
	if n != 0 {
		s.currentNum = n
	}

	if kind != retrieveStat && !s.deps.Auth.ChargeBytes(s.user, a.Size, false) {
		return s.sendResponse(502, "download quota exceeded")
	}

	header := fmt.Sprintf("%d %s", numberOrZero(n), a.MessageID)
	switch kind {
	case retrieveStat:
		return s.sendResponse(223, header)
	case retrieveHead:
		return s.sendMultiline(221, header, headerLines(a))
	case retrieveBody:
		return s.sendMultiline(222, header, a.Body)
	default: // retrieveArticle
		lines := article.Serialize(a)
		return s.sendMultiline(220, header, lines)
	}
}

func headerLines(a *model.Article) []string {
	lines := make([]string, 0, len(a.Headers))
	for _, h := range a.Headers {
		lines = append(lines, h.Name+": "+h.Value)
	}
	return lines
}

func args0(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func numberOrZero(n int64) int64 { return n }

// handleNextLast implements NEXT/LAST: advances or retreats the
// selected group's article pointer to the next/previous existing
// article number, without changing currentGroup.
func (s *Session) handleNextLast(args []string, forward bool) error {
	if s.currentGroup == "" {
		return s.sendResponse(412, "no newsgroup selected")
	}
	if s.currentNum == 0 {
		return s.sendResponse(420, "no current article")
	}

	var r store.Range
	if forward {
		r = store.Range{Low: s.currentNum + 1}
	} else {
		r = store.Range{Low: s.currentLow, High: s.currentNum - 1}
	}
	it, err := s.deps.Store.ListNumbers(s.currentGroup, r)
	if err != nil {
		return s.sendResponse(403, "storage error")
	}
	defer it.Close()

	var found *store.NumberRow
	for it.Next() {
		row := it.Row()
		if forward {
			found = &row
			break
		}
		// backward: keep the last (highest) row seen before currentNum
		rowCopy := row
		found = &rowCopy
	}
	if err := it.Err(); err != nil {
		return s.sendResponse(403, "storage error")
	}
	if found == nil {
		if forward {
			return s.sendResponse(421, "no next article in this group")
		}
		return s.sendResponse(422, "no previous article in this group")
	}
	s.currentNum = found.Number
	return s.sendResponse(223, fmt.Sprintf("%d %s", found.Number, found.MessageID))
}
