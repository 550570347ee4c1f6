package session

import (
	"strings"
	"time"
)

func (s *Session) handleCapabilities() error {
	caps := []string{"VERSION 2", "READER"}
	if s.postingAllowed() {
		caps = append(caps, "POST")
	}
	caps = append(caps, "IHAVE", "STREAMING", "AUTHINFO USER", "HDR", "OVER", "LIST", "MODE-READER")
	return s.sendMultiline(101, "capability list", caps)
}

func (s *Session) handleMode(args []string) error {
	if len(args) == 0 {
		return s.sendResponse(501, "MODE requires an argument")
	}
	switch strings.ToUpper(args[0]) {
	case "READER":
		s.mode = ModeReader
		if s.postingAllowed() {
			return s.sendResponse(200, "reader mode, posting permitted")
		}
		return s.sendResponse(201, "reader mode, no posting")
	case "STREAM":
		s.mode = ModeStream
		return s.sendResponse(203, "streaming mode")
	default:
		return s.sendResponse(501, "unknown MODE argument")
	}
}

// handleAuthInfo implements the USER/PASS handshake (spec §4.4). Any
// command other than the PASS that follows USER clears pendingUser,
// enforced by dispatch before this handler runs.
func (s *Session) handleAuthInfo(args []string) error {
	if len(args) < 2 {
		return s.sendResponse(501, "AUTHINFO requires a subcommand and argument")
	}
	sub := strings.ToUpper(args[0])
	value := strings.Join(args[1:], " ")

	switch sub {
	case "USER":
		s.pendingUser = value
		return s.sendResponse(381, "password required")
	case "PASS":
		if s.pendingUser == "" {
			return s.sendResponse(482, "AUTHINFO USER required first")
		}
		u, err := s.deps.Auth.Authenticate(s.pendingUser, value)
		s.pendingUser = ""
		if err != nil {
			return s.sendResponse(481, "authentication failed")
		}
		if !s.deps.Auth.AcquireConnection(u) {
			return s.sendResponse(400, "too many connections")
		}
		s.user = u
		s.userAcquired = true
		return s.sendResponse(281, "authentication accepted")
	default:
		return s.sendResponse(501, "unknown AUTHINFO subcommand")
	}
}

func (s *Session) handleDate() error {
	return s.sendResponse(111, time.Now().UTC().Format("20060102150405"))
}

func (s *Session) handleQuit() error {
	s.sendResponse(205, "closing connection")
	s.quitting = true
	return nil
}
