package article

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/renews-project/renews/internal/model"
)

// RequiredHeaders lists the header fields that must be present for an
// article to be accepted (spec §3 Article).
var RequiredHeaders = []string{"From", "Newsgroups", "Subject", "Date", "Message-ID", "Path"}

var msgIDPattern = regexp.MustCompile(`^<[^<>@\s]+@[^<>@\s]+>$`)

// InvalidArticleError describes why Parse rejected an article.
type InvalidArticleError struct {
	Reason string
}

func (e *InvalidArticleError) Error() string { return "invalid article: " + e.Reason }

// ParseOptions configures acceptance limits and generation fallbacks.
type ParseOptions struct {
	MaxBodyBytes int64  // 0 = unlimited
	SiteDomain   string // used to synthesize a Message-ID when absent
}

// Parse splits raw dot-unstuffed lines (as returned by Reader.ReadDotTerminated)
// into headers and body, folding continuation lines, and validates the
// result per spec §4.1. A missing Message-ID is synthesized rather than
// rejected, per spec §3.
func Parse(lines []string, opt ParseOptions) (*model.Article, error) {
	split := -1
	for i, l := range lines {
		if l == "" {
			split = i
			break
		}
	}
	var headerLines, body []string
	if split == -1 {
		headerLines = lines
		body = nil
	} else {
		headerLines = lines[:split]
		body = lines[split+1:]
	}

	headers, err := foldHeaders(headerLines)
	if err != nil {
		return nil, err
	}

	a := &model.Article{Headers: headers, Body: body}

	for _, name := range RequiredHeaders {
		if name == "Message-ID" {
			continue // handled below, may be synthesized
		}
		if a.Header(name) == "" {
			return nil, &InvalidArticleError{Reason: fmt.Sprintf("missing required header %q", name)}
		}
	}

	msgID := a.Header("Message-ID")
	if msgID == "" {
		msgID, err = GenerateMessageID(opt.SiteDomain)
		if err != nil {
			return nil, err
		}
		a.Headers = append(a.Headers, model.Header{Name: "Message-ID", Value: msgID})
	} else if !msgIDPattern.MatchString(msgID) {
		return nil, &InvalidArticleError{Reason: fmt.Sprintf("malformed Message-ID %q", msgID)}
	}
	a.MessageID = msgID

	size := headerByteSize(headerLines) + 2 /* blank line CRLF */ + bodyByteSize(body)
	a.Size = size
	if opt.MaxBodyBytes > 0 && size > opt.MaxBodyBytes {
		return nil, &InvalidArticleError{Reason: fmt.Sprintf("article size %d exceeds maximum %d", size, opt.MaxBodyBytes)}
	}

	ng := a.Header("Newsgroups")
	for _, g := range strings.Split(ng, ",") {
		g = strings.TrimSpace(g)
		if g != "" {
			a.Groups = append(a.Groups, g)
		}
	}
	if len(a.Groups) == 0 {
		return nil, &InvalidArticleError{Reason: "Newsgroups header names no groups"}
	}

	a.ReceivedAt = time.Now()
	return a, nil
}

// foldHeaders joins continuation lines (those beginning with horizontal
// whitespace) onto the preceding field and validates header names are
// ASCII. Duplicated fields preserve declaration order.
func foldHeaders(lines []string) ([]model.Header, error) {
	var out []model.Header
	for _, line := range lines {
		if line == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if len(out) == 0 {
				return nil, &InvalidArticleError{Reason: "header continuation with no preceding field"}
			}
			out[len(out)-1].Value = out[len(out)-1].Value + " " + strings.TrimSpace(line)
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			return nil, &InvalidArticleError{Reason: fmt.Sprintf("malformed header line %q", line)}
		}
		name := line[:colon]
		if !isASCII(name) {
			return nil, &InvalidArticleError{Reason: fmt.Sprintf("non-ASCII header name %q", name)}
		}
		value := strings.TrimSpace(line[colon+1:])
		out = append(out, model.Header{Name: strings.TrimSpace(name), Value: value})
	}
	return out, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}

func headerByteSize(lines []string) int64 {
	var n int64
	for _, l := range lines {
		n += int64(len(l)) + 2
	}
	return n
}

func bodyByteSize(lines []string) int64 {
	var n int64
	for _, l := range lines {
		n += int64(len(l)) + 2
	}
	return n
}

// ValidMessageID reports whether id matches the RFC 3977 <local@domain>
// Message-ID grammar renews accepts.
func ValidMessageID(id string) bool {
	return msgIDPattern.MatchString(id)
}

// ParseExpires reports the deadline carried by an article's Expires:
// header, per RFC 5322 date-time grammar (the same format as Date:).
// Absent or unparseable headers report ok=false rather than an error,
// since a malformed Expires: should never block acceptance of the
// article itself, only the retention override it would have granted.
func ParseExpires(a *model.Article) (t time.Time, ok bool) {
	v := a.Header("Expires")
	if v == "" {
		return time.Time{}, false
	}
	t, err := mail.ParseDate(v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// GenerateMessageID synthesizes a Message-ID of the form <token@domain>
// for articles posted without one.
func GenerateMessageID(domain string) (string, error) {
	if domain == "" {
		domain = "renews.invalid"
	}
	var buf [12]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("article: generating message-id: %w", err)
	}
	return fmt.Sprintf("<%s.%d@%s>", hex.EncodeToString(buf[:]), time.Now().UnixNano(), domain), nil
}

// Serialize re-emits an article's headers (canonically unfolded — one
// logical line per field) and body as dot-unstuffed lines, for storage
// or for writing back over the wire via Writer.WriteDotTerminated.
func Serialize(a *model.Article) []string {
	lines := make([]string, 0, len(a.Headers)+1+len(a.Body))
	for _, h := range a.Headers {
		lines = append(lines, h.Name+": "+h.Value)
	}
	lines = append(lines, "")
	lines = append(lines, a.Body...)
	return lines
}
