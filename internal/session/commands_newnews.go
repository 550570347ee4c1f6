package session

import (
	"fmt"
	"time"
)

// handleNewNews implements NEWNEWS wildmat date time [GMT] (RFC 3977
// §7.4, SPEC_FULL §13): streams the message-ids of every article
// received in any group matching wildmat since the given date/time,
// using IterateSince against each matching group and de-duplicating
// message-ids that land in more than one.
func (s *Session) handleNewNews(args []string) error {
	if len(args) < 3 {
		return s.sendResponse(501, "NEWNEWS requires wildmat, date, and time")
	}
	since, err := parseNewNewsTime(args[1], args[2])
	if err != nil {
		return s.sendResponse(501, "bad date/time")
	}

	groups, err := s.deps.Store.ListGroups([]string{args[0]})
	if err != nil {
		return s.sendResponse(403, "storage error")
	}

	seen := make(map[string]bool)
	var lines []string
	for _, g := range groups {
		it, err := s.deps.Store.IterateSince(g.Name, since)
		if err != nil {
			return s.sendResponse(403, "storage error")
		}
		for it.Next() {
			row := it.Row()
			if seen[row.MessageID] {
				continue
			}
			seen[row.MessageID] = true
			lines = append(lines, row.MessageID)
		}
		if err := it.Err(); err != nil {
			it.Close()
			return s.sendResponse(403, "storage error")
		}
		it.Close()
	}

	return s.sendMultiline(230, "list of new articles follows", lines)
}

// parseNewNewsTime parses the date/time arguments as specified by RFC
// 3977 §7.4.3: date is YYMMDD or YYYYMMDD, time is HHMMSS, both UTC
// (the optional trailing "GMT" literal carries no other meaning since
// renews never interprets these as local time).
func parseNewNewsTime(date, clock string) (time.Time, error) {
	var layout string
	switch len(date) {
	case 6:
		layout = "060102"
	case 8:
		layout = "20060102"
	default:
		return time.Time{}, fmt.Errorf("session: bad NEWNEWS date %q", date)
	}
	if len(clock) != 6 {
		return time.Time{}, fmt.Errorf("session: bad NEWNEWS time %q", clock)
	}
	return time.ParseInLocation(layout+"150405", date+clock, time.UTC)
}
