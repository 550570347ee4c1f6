// Package milter implements a minimal client for the Sendmail Milter
// wire protocol (spec §4.5 MilterFilter), reused here to let an
// external process accept or reject netnews articles the way it would
// mail messages. No example in the retrieval pack speaks Milter, so the
// wire framing below is hand-written from the protocol's public
// specification; the TLS/TCP dial idiom (explicit timeout dialer,
// ServerName verification, TLS 1.2 floor) is grounded on the teacher's
// internal/nntp client connector (internal/nntp/nntp-client.go Connect).
package milter

import (
	"bufio"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"time"
)

// Verdict is the external scanner's decision for one article.
type Verdict int

const (
	Accept Verdict = iota
	Continue
	Reject
	Discard
	Tempfail
)

// Command bytes per the Milter protocol.
const (
	cmdConnect = 'C'
	cmdHeader  = 'L'
	cmdEOH     = 'N'
	cmdBody    = 'B'
	cmdEOM     = 'E'
	cmdQuit    = 'Q'
)

// Reply bytes the scanner may send back.
const (
	replyAccept   = 'a'
	replyContinue = 'c'
	replyReject   = 'r'
	replyDiscard  = 'd'
	replyTempfail = 't'
)

// Config describes how to reach and trust an external scanner.
type Config struct {
	Addr      string // host:port, or a filesystem path for a local unix socket
	UseTLS    bool
	StrictCA  bool // false = InsecureSkipVerify; the zero value leaves verification off
	Timeout   time.Duration
	ServerName string
}

// Client speaks one article's worth of the protocol per call to Scan;
// a fresh TCP/TLS connection is opened per article, matching the
// CONNECT-per-message framing the protocol expects.
type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{cfg: cfg}
}

// Scan runs the CONNECT → HEADER* → EOH → BODY* → EOM sequence against
// headers (name,value pairs in wire order) and body, returning the
// scanner's verdict. Any connection, protocol, or TLS error maps to
// Tempfail per spec §4.5.
func (c *Client) Scan(remoteHost string, headers [][2]string, body []byte) Verdict {
	conn, err := c.dial()
	if err != nil {
		return Tempfail
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(c.cfg.Timeout))

	w := bufio.NewWriter(conn)
	r := bufio.NewReader(conn)

	if err := writePacket(w, cmdConnect, connectPayload(remoteHost)); err != nil {
		return Tempfail
	}
	if v, ok, err := readVerdict(r); err != nil {
		return Tempfail
	} else if ok {
		return v
	}

	for _, h := range headers {
		if err := writePacket(w, cmdHeader, headerPayload(h[0], h[1])); err != nil {
			return Tempfail
		}
		if v, ok, err := readVerdict(r); err != nil {
			return Tempfail
		} else if ok {
			return v
		}
	}

	if err := writePacket(w, cmdEOH, nil); err != nil {
		return Tempfail
	}
	if v, ok, err := readVerdict(r); err != nil {
		return Tempfail
	} else if ok {
		return v
	}

	const chunk = 64 * 1024
	for off := 0; off < len(body); off += chunk {
		end := off + chunk
		if end > len(body) {
			end = len(body)
		}
		if err := writePacket(w, cmdBody, body[off:end]); err != nil {
			return Tempfail
		}
		if v, ok, err := readVerdict(r); err != nil {
			return Tempfail
		} else if ok {
			return v
		}
	}

	if err := writePacket(w, cmdEOM, nil); err != nil {
		return Tempfail
	}
	v, ok, err := readVerdict(r)
	if err != nil {
		return Tempfail
	}
	if !ok {
		return Tempfail
	}
	return v
}

func (c *Client) dial() (net.Conn, error) {
	dialer := &net.Dialer{Timeout: c.cfg.Timeout}
	network := "tcp"
	if strings.Contains(c.cfg.Addr, "/") {
		network = "unix"
	}
	if !c.cfg.UseTLS {
		return dialer.Dial(network, c.cfg.Addr)
	}
	tlsConfig := &tls.Config{
		ServerName:         c.cfg.ServerName,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !c.cfg.StrictCA,
	}
	return tls.DialWithDialer(dialer, network, c.cfg.Addr, tlsConfig)
}

func writePacket(w *bufio.Writer, cmd byte, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)+1))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if err := w.WriteByte(cmd); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return w.Flush()
}

// readVerdict reads one response packet. ok is true if the packet is a
// final verdict (accept/reject/discard/tempfail); false means "continue
// processing" (replyContinue), and the caller should proceed to the
// next stage of the sequence.
func readVerdict(r *bufio.Reader) (Verdict, bool, error) {
	var lenBuf [4]byte
	if _, err := readFull(r, lenBuf[:]); err != nil {
		return 0, false, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 || n > 1<<20 {
		return 0, false, fmt.Errorf("milter: invalid frame length %d", n)
	}
	payload := make([]byte, n)
	if _, err := readFull(r, payload); err != nil {
		return 0, false, err
	}
	switch payload[0] {
	case replyContinue:
		return 0, false, nil
	case replyAccept:
		return Accept, true, nil
	case replyReject:
		return Reject, true, nil
	case replyDiscard:
		return Discard, true, nil
	case replyTempfail:
		return Tempfail, true, nil
	default:
		return Tempfail, true, nil
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func connectPayload(host string) []byte {
	b := append([]byte(host), 0, 'T')
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], 0)
	b = append(b, portBuf[:]...)
	b = append(b, 0)
	return b
}

func headerPayload(name, value string) []byte {
	b := append([]byte(name), 0)
	b = append(b, []byte(value)...)
	b = append(b, 0)
	return b
}
