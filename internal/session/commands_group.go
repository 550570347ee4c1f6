package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/renews-project/renews/internal/store"
	"github.com/renews-project/renews/internal/wildmat"
)

// handleGroup implements GROUP name (spec §4.3): selects the group and
// resets the article pointer to the low water mark.
func (s *Session) handleGroup(args []string) error {
	if len(args) != 1 {
		return s.sendResponse(501, "GROUP requires exactly one argument")
	}
	name := args[0]
	bounds, err := s.deps.Store.GroupBounds(name)
	if err != nil {
		if errors.Is(err, store.ErrGroupMissing) {
			return s.sendResponse(411, "no such group")
		}
		return s.sendResponse(403, "storage error")
	}
	s.currentGroup = name
	s.currentLow = bounds.Low
	s.currentHigh = bounds.High
	s.currentNum = bounds.Low
	return s.sendResponse(211, fmt.Sprintf("%d %d %d %s", bounds.Estimate, bounds.Low, bounds.High, name))
}

// handleListGroup implements LISTGROUP [group] [range] (spec §4.3): a
// bare range without a group operates on the currently selected group;
// an absent range defaults to the full low-high span; a single number
// acts as a lower-open range (spec §8 "H > high clamps silently").
func (s *Session) handleListGroup(args []string) error {
	name := s.currentGroup
	rest := args
	if len(args) > 0 && !isRangeToken(args[0]) {
		name = args[0]
		rest = args[1:]
	}
	if name == "" {
		return s.sendResponse(412, "no group selected")
	}

	bounds, err := s.deps.Store.GroupBounds(name)
	if err != nil {
		if errors.Is(err, store.ErrGroupMissing) {
			return s.sendResponse(411, "no such group")
		}
		return s.sendResponse(403, "storage error")
	}

	lo, hi := bounds.Low, bounds.High
	if len(rest) > 0 {
		lo, hi = parseRange(rest[0], bounds.Low, bounds.High)
	}

	s.currentGroup = name
	s.currentLow = bounds.Low
	s.currentHigh = bounds.High
	s.currentNum = lo

	it, err := s.deps.Store.ListNumbers(name, store.Range{Low: lo, High: hi})
	if err != nil {
		return s.sendResponse(403, "storage error")
	}
	defer it.Close()
	var lines []string
	for it.Next() {
		lines = append(lines, strconv.FormatInt(it.Row().Number, 10))
	}
	if err := it.Err(); err != nil {
		return s.sendResponse(403, "storage error")
	}
	return s.sendMultiline(211, fmt.Sprintf("%d %d %d %s list follows", bounds.Estimate, bounds.Low, bounds.High, name), lines)
}

func isRangeToken(tok string) bool {
	if tok == "" {
		return false
	}
	for _, c := range tok {
		if (c < '0' || c > '9') && c != '-' {
			return false
		}
	}
	return true
}

func parseRange(tok string, low, high int64) (int64, int64) {
	if idx := strings.IndexByte(tok, '-'); idx >= 0 {
		lo, err1 := strconv.ParseInt(tok[:idx], 10, 64)
		hiTok := tok[idx+1:]
		if hiTok == "" {
			hi := high
			if err1 == nil {
				return lo, hi
			}
			return low, high
		}
		hi, err2 := strconv.ParseInt(hiTok, 10, 64)
		if err1 != nil {
			lo = low
		}
		if err2 != nil || hi > high {
			hi = high
		}
		return lo, hi
	}
	lo, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return low, high
	}
	return lo, high
}

// handleList implements LIST [ACTIVE|NEWSGROUPS|HEADERS|OVERVIEW.FMT] [wildmat].
func (s *Session) handleList(args []string) error {
	sub := "ACTIVE"
	var pattern string
	if len(args) > 0 {
		sub = strings.ToUpper(args[0])
		if len(args) > 1 {
			pattern = args[1]
		}
	}
	switch sub {
	case "ACTIVE":
		return s.listActive(pattern)
	case "NEWSGROUPS":
		return s.listNewsgroups(pattern)
	case "HEADERS":
		return s.sendMultiline(215, "headers follow", []string{":bytes", ":lines"})
	case "OVERVIEW.FMT":
		return s.sendMultiline(215, "order of fields in overview database", []string{
			"Subject:", "From:", "Date:", "Message-ID:", "References:", "Bytes:", "Lines:",
		})
	default:
		return s.sendResponse(501, "unknown LIST variant")
	}
}

func (s *Session) listActive(pattern string) error {
	var patterns []string
	if pattern != "" {
		patterns = []string{pattern}
	}
	groups, err := s.deps.Store.ListGroups(patterns)
	if err != nil {
		return s.sendResponse(403, "storage error")
	}
	var lines []string
	for _, g := range groups {
		if pattern != "" && !wildmat.Match(g.Name, pattern) {
			continue
		}
		bounds, err := s.deps.Store.GroupBounds(g.Name)
		if err != nil {
			continue
		}
		status := "y"
		if g.Moderated {
			status = "m"
		}
		lines = append(lines, fmt.Sprintf("%s %d %d %s", g.Name, bounds.High, bounds.Low, status))
	}
	return s.sendMultiline(215, "list of newsgroups follows", lines)
}

func (s *Session) listNewsgroups(pattern string) error {
	var patterns []string
	if pattern != "" {
		patterns = []string{pattern}
	}
	groups, err := s.deps.Store.ListGroups(patterns)
	if err != nil {
		return s.sendResponse(403, "storage error")
	}
	var lines []string
	for _, g := range groups {
		lines = append(lines, fmt.Sprintf("%s\t%s", g.Name, g.Description))
	}
	return s.sendMultiline(215, "list of newsgroups follows", lines)
}
