// Package session implements the per-connection NNTP protocol engine
// (spec §4.3): command dispatch, the Greeted/Authenticating/
// Authenticated/Selected/DataTransfer state machine, and idle-timeout
// enforcement. Grounded on the teacher's internal/nntp ClientConnection
// (nntp-server-cliconns.go): a textproto.Conn-backed reader/writer,
// sendResponse/sendMultilineResponse helpers, and a command-name switch
// in handleCommand, here recast against renews's own storage, auth, and
// filter abstractions instead of the teacher's *database.Database.
package session

import (
	"fmt"
	"log"
	"net"
	"net/textproto"
	"strings"
	"time"

	"github.com/renews-project/renews/internal/authn"
	"github.com/renews-project/renews/internal/control"
	"github.com/renews-project/renews/internal/filter"
	"github.com/renews-project/renews/internal/model"
	"github.com/renews-project/renews/internal/store"
)

// Mode is the reader/streaming posting mode negotiated via MODE.
type Mode int

const (
	ModeReader Mode = iota
	ModeStream
)

// Deps bundles the shared, long-lived collaborators a Session borrows
// (spec §9 "per-connection state vs global state": a session owns its
// socket and cursor state, borrowing everything else).
type Deps struct {
	Store                  store.Storage
	Auth                   *authn.Provider
	Pipeline               *filter.Pipeline
	Control                *control.Processor
	SiteName               string
	IdleTimeout            time.Duration
	AllowInsecurePosting   bool
}

// Session is one client connection's protocol state.
type Session struct {
	conn     net.Conn
	text     *textproto.Conn
	isTLS    bool
	deps     Deps

	user         *model.User
	userAcquired bool // true once AcquireConnection(user) succeeded; gates ReleaseConnection
	pendingUser  string // set after AUTHINFO USER, cleared by any other command

	mode Mode

	currentGroup string
	currentLow   int64
	currentHigh  int64
	currentNum   int64 // article pointer within currentGroup, 0 = none selected

	quitting bool
}

// New constructs a Session ready to Serve a just-accepted connection.
func New(conn net.Conn, isTLS bool, deps Deps) *Session {
	if deps.IdleTimeout == 0 {
		deps.IdleTimeout = 600 * time.Second
	}
	return &Session{
		conn:  conn,
		text:  textproto.NewConn(conn),
		isTLS: isTLS,
		deps:  deps,
	}
}

// Serve runs the read-dispatch loop until the client quits, an idle
// timeout elapses, or the connection errors. It never panics on a
// malformed command; every error path that can be expressed as an NNTP
// response is.
func (s *Session) Serve() {
	defer s.text.Close()
	defer s.conn.Close()
	defer func() {
		if s.userAcquired {
			s.deps.Auth.ReleaseConnection(s.user)
		}
	}()

	if err := s.sendWelcome(); err != nil {
		return
	}

	for !s.quitting {
		s.conn.SetReadDeadline(time.Now().Add(s.deps.IdleTimeout))
		line, err := s.text.ReadLine()
		if err != nil {
			return // idle timeout or transport error: drop without a response
		}
		if err := s.dispatch(line); err != nil {
			log.Printf("[SESSION]: %s: %v", s.conn.RemoteAddr(), err)
			return
		}
	}
}

func (s *Session) sendWelcome() error {
	if s.postingAllowed() {
		return s.sendResponse(200, fmt.Sprintf("%s NNTP server ready, posting permitted", s.siteName()))
	}
	return s.sendResponse(201, fmt.Sprintf("%s NNTP server ready, no posting", s.siteName()))
}

func (s *Session) siteName() string {
	if s.deps.SiteName == "" {
		return "renews"
	}
	return s.deps.SiteName
}

// postingAllowed implements spec §6: TLS connections may always post
// (subject to auth/moderation); plain-TCP connections may post only
// when the insecure-posting flag is set.
func (s *Session) postingAllowed() bool {
	return s.isTLS || s.deps.AllowInsecurePosting
}

func (s *Session) dispatch(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return s.sendResponse(500, "empty command")
	}
	cmd := strings.ToUpper(fields[0])
	args := fields[1:]

	if cmd != "AUTHINFO" {
		s.pendingUser = ""
	}

	switch cmd {
	case "CAPABILITIES":
		return s.handleCapabilities()
	case "MODE":
		return s.handleMode(args)
	case "AUTHINFO":
		return s.handleAuthInfo(args)
	case "DATE":
		return s.handleDate()
	case "QUIT":
		return s.handleQuit()
	case "GROUP":
		return s.handleGroup(args)
	case "LISTGROUP":
		return s.handleListGroup(args)
	case "LIST":
		return s.handleList(args)
	case "NEXT":
		return s.handleNextLast(args, true)
	case "LAST":
		return s.handleNextLast(args, false)
	case "ARTICLE":
		return s.handleRetrieve(args, retrieveArticle)
	case "HEAD":
		return s.handleRetrieve(args, retrieveHead)
	case "BODY":
		return s.handleRetrieve(args, retrieveBody)
	case "STAT":
		return s.handleRetrieve(args, retrieveStat)
	case "XOVER":
		return s.handleXOver(args)
	case "XHDR":
		return s.handleXHdr(args)
	case "NEWNEWS":
		return s.handleNewNews(args)
	case "POST":
		return s.handlePost()
	case "IHAVE":
		return s.handleIHave(args)
	case "CHECK":
		return s.handleCheck(args)
	case "TAKETHIS":
		return s.handleTakeThis(args)
	default:
		return s.sendResponse(500, "command not recognized")
	}
}

// --- response helpers ---------------------------------------------------------

func (s *Session) sendResponse(code int, message string) error {
	return s.text.PrintfLine("%d %s", code, message)
}

func (s *Session) sendMultiline(code int, message string, lines []string) error {
	if err := s.sendResponse(code, message); err != nil {
		return err
	}
	w := s.text.DotWriter()
	for _, line := range lines {
		if _, err := w.Write([]byte(line + "\r\n")); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}

func (s *Session) requireAuth() bool {
	return s.user != nil
}
