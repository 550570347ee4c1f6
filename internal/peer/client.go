// Package peer drives outbound article synchronization to configured
// peers (spec §4.8): one long-lived cron-scheduled task per peer,
// streaming new articles since a persisted per-(peer,group) high-water
// mark, preferring CHECK/TAKETHIS streaming and falling back to IHAVE.
// Grounded on the teacher's internal/nntp BackendConn (nntp-client.go):
// the dial/welcome/AUTHINFO handshake sequence is reused nearly
// verbatim, generalized from a read-only article-fetching client into
// one that also streams outbound posts.
package peer

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"net/textproto"
	"net/url"
	"strings"
	"time"
)

const (
	codeWelcomeMin   = 200
	codeWelcomeMax   = 201
	codeMoreInfo     = 381
	codeAuthOK       = 281
	codeModeStreamOK = 203
	codeSendArticle  = 335
	codeTransferOK   = 235
	codeNotWanted    = 435
	codeCheckWant    = 238
	codeCheckSkip    = 438
	codeCheckRetry   = 431
	codeTakeOK       = 239
)

// Endpoint describes how to reach one peer, parsed from a PeerRule's
// SiteName field ("[user:pass@]host:port").
type Endpoint struct {
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool
}

// ParseEndpoint parses a sitename string of the form
// "[user:pass@]host:port" into an Endpoint.
func ParseEndpoint(sitename string, useTLS bool) (Endpoint, error) {
	raw := sitename
	var user, pass string
	if idx := strings.LastIndex(raw, "@"); idx >= 0 {
		cred := raw[:idx]
		raw = raw[idx+1:]
		if u, err := url.Parse("nntp://" + cred); err == nil && u.User != nil {
			user = u.User.Username()
			pass, _ = u.User.Password()
		} else if cidx := strings.IndexByte(cred, ':'); cidx >= 0 {
			user, pass = cred[:cidx], cred[cidx+1:]
		}
	}
	host, portStr, err := net.SplitHostPort(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("peer: invalid sitename %q: %w", sitename, err)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return Endpoint{}, fmt.Errorf("peer: invalid port in %q: %w", sitename, err)
	}
	return Endpoint{Host: host, Port: port, Username: user, Password: pass, UseTLS: useTLS}, nil
}

// Client is a short-lived outbound connection to one peer for the
// duration of a single sync tick.
type Client struct {
	conn      net.Conn
	text      *textproto.Conn
	writer    *bufio.Writer
	streaming bool
}

// Dial connects, reads the welcome line, authenticates if credentials
// are present, and negotiates MODE STREAM.
func Dial(ep Endpoint, timeout time.Duration) (*Client, error) {
	addr := net.JoinHostPort(ep.Host, fmt.Sprintf("%d", ep.Port))
	dialer := &net.Dialer{Timeout: timeout}

	var conn net.Conn
	var err error
	if ep.UseTLS {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: ep.Host, MinVersion: tls.VersionTLS12})
	} else {
		conn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("peer: dialing %s: %w", addr, err)
	}

	c := &Client{conn: conn, text: textproto.NewConn(conn), writer: bufio.NewWriter(conn)}

	code, msg, err := c.text.ReadCodeLine(2)
	if err != nil || (code != codeWelcomeMin && code != codeWelcomeMax) {
		c.Close()
		return nil, fmt.Errorf("peer: unexpected welcome from %s: %d %s (%v)", addr, code, msg, err)
	}

	if ep.Username != "" {
		if err := c.authenticate(ep.Username, ep.Password); err != nil {
			c.Close()
			return nil, err
		}
	}

	c.streaming = c.negotiateStreaming()
	return c, nil
}

func (c *Client) authenticate(user, pass string) error {
	id, err := c.text.Cmd("AUTHINFO USER %s", user)
	if err != nil {
		return err
	}
	c.text.StartResponse(id)
	code, msg, err := c.text.ReadCodeLine(codeMoreInfo)
	c.text.EndResponse(id)
	if err != nil {
		return err
	}
	if code != codeMoreInfo {
		return fmt.Errorf("peer: AUTHINFO USER rejected: %d %s", code, msg)
	}

	id, err = c.text.Cmd("AUTHINFO PASS %s", pass)
	if err != nil {
		return err
	}
	c.text.StartResponse(id)
	code, msg, err = c.text.ReadCodeLine(codeAuthOK)
	c.text.EndResponse(id)
	if err != nil {
		return err
	}
	if code != codeAuthOK {
		return fmt.Errorf("peer: authentication failed: %d %s", code, msg)
	}
	return nil
}

// negotiateStreaming asks for MODE STREAM; a non-203 reply means the
// peer wants the IHAVE fallback (spec §4.8 step 4).
func (c *Client) negotiateStreaming() bool {
	id, err := c.text.Cmd("MODE STREAM")
	if err != nil {
		return false
	}
	c.text.StartResponse(id)
	code, _, err := c.text.ReadCodeLine(codeModeStreamOK)
	c.text.EndResponse(id)
	return err == nil && code == codeModeStreamOK
}

// Streaming reports whether the peer accepted MODE STREAM.
func (c *Client) Streaming() bool { return c.streaming }

// Close ends the connection. It does not send QUIT; a clean close is
// sufficient for the peer to notice EOF.
func (c *Client) Close() error {
	return c.text.Close()
}

// Check sends CHECK <msgid> and returns whether the peer wants the
// article (238) versus already has it (438) or asks for a retry (431).
func (c *Client) Check(msgID string) (want bool, retry bool, err error) {
	id, err := c.text.Cmd("CHECK %s", msgID)
	if err != nil {
		return false, false, err
	}
	c.text.StartResponse(id)
	code, msg, err := c.text.ReadCodeLine(codeCheckWant)
	c.text.EndResponse(id)
	switch code {
	case codeCheckWant:
		return true, false, nil
	case codeCheckSkip:
		return false, false, nil
	case codeCheckRetry:
		return false, true, nil
	default:
		return false, false, fmt.Errorf("peer: unexpected CHECK reply: %d %s (%v)", code, msg, err)
	}
}

// TakeThis sends TAKETHIS <msgid> followed by the dot-terminated
// article, returning whether the peer accepted it (239).
func (c *Client) TakeThis(msgID string, lines []string) (bool, error) {
	if err := c.text.PrintfLine("TAKETHIS %s", msgID); err != nil {
		return false, err
	}
	w := c.text.DotWriter()
	for _, l := range lines {
		if _, err := w.Write([]byte(l + "\r\n")); err != nil {
			w.Close()
			return false, err
		}
	}
	if err := w.Close(); err != nil {
		return false, err
	}
	code, _, _ := c.text.ReadCodeLine(codeTakeOK)
	return code == codeTakeOK, nil
}

// IHave sends IHAVE <msgid>; on 335 it sends the article and reports
// whether the peer then replied 235. A 435 means the peer already has
// it and yields (false, nil) (spec §7: duplicate is not an error for the
// caller); any other first reply, 436 included, is returned as an error.
func (c *Client) IHave(msgID string, lines []string) (transferred bool, err error) {
	id, err := c.text.Cmd("IHAVE %s", msgID)
	if err != nil {
		return false, err
	}
	c.text.StartResponse(id)
	code, msg, err := c.text.ReadCodeLine(codeSendArticle)
	c.text.EndResponse(id)
	if code == codeNotWanted {
		return false, nil
	}
	if code != codeSendArticle {
		return false, fmt.Errorf("peer: unexpected IHAVE reply: %d %s (%v)", code, msg, err)
	}

	w := c.text.DotWriter()
	for _, l := range lines {
		if _, werr := w.Write([]byte(l + "\r\n")); werr != nil {
			w.Close()
			return false, werr
		}
	}
	if err := w.Close(); err != nil {
		return false, err
	}
	code, _, _ = c.text.ReadCodeLine(codeTransferOK)
	return code == codeTransferOK, nil
}
