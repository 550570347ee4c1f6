package session

import (
	"fmt"
	"strings"

	"github.com/renews-project/renews/internal/store"
)

// handleXOver implements XOVER [range] (spec §4.3, §8.3 overview
// fields): streams the tab-separated overview database line for each
// article in range, defaulting to the whole selected group.
func (s *Session) handleXOver(args []string) error {
	if s.currentGroup == "" {
		return s.sendResponse(412, "no newsgroup selected")
	}
	lo, hi := s.currentLow, s.currentHigh
	if len(args) > 0 {
		lo, hi = parseRange(args[0], s.currentLow, s.currentHigh)
	}

	it, err := s.deps.Store.ListOverview(s.currentGroup, store.Range{Low: lo, High: hi})
	if err != nil {
		return s.sendResponse(403, "storage error")
	}
	defer it.Close()

	var lines []string
	for it.Next() {
		o := it.Row()
		lines = append(lines, fmt.Sprintf("%d\t%s\t%s\t%s\t%s\t%s\t%d\t%d",
			o.Number, o.Subject, o.From, o.Date, o.MessageID, o.References, o.Bytes, o.Lines))
	}
	if err := it.Err(); err != nil {
		return s.sendResponse(403, "storage error")
	}
	return s.sendMultiline(224, "overview information follows", lines)
}

// handleXHdr implements XHDR header [range|msgid] (spec §4.3): streams
// "<number> <value>" for the named header across range, or looks up a
// single message-id.
func (s *Session) handleXHdr(args []string) error {
	if len(args) == 0 {
		return s.sendResponse(501, "XHDR requires a header name")
	}
	headerName := args[0]

	if len(args) > 1 && strings.HasPrefix(args[1], "<") {
		a, err := s.deps.Store.FetchByMessageID(args[1])
		if err != nil {
			return s.sendResponse(430, "no such article")
		}
		return s.sendMultiline(221, headerName+" follows", []string{fmt.Sprintf("0 %s", a.Header(headerName))})
	}

	if s.currentGroup == "" {
		return s.sendResponse(412, "no newsgroup selected")
	}
	lo, hi := s.currentLow, s.currentHigh
	if len(args) > 1 {
		lo, hi = parseRange(args[1], s.currentLow, s.currentHigh)
	}

	it, err := s.deps.Store.ListNumbers(s.currentGroup, store.Range{Low: lo, High: hi})
	if err != nil {
		return s.sendResponse(403, "storage error")
	}
	defer it.Close()

	var lines []string
	for it.Next() {
		row := it.Row()
		a, err := s.deps.Store.FetchByMessageID(row.MessageID)
		if err != nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("%d %s", row.Number, a.Header(headerName)))
	}
	if err := it.Err(); err != nil {
		return s.sendResponse(403, "storage error")
	}
	return s.sendMultiline(221, headerName+" follows", lines)
}
