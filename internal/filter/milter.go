package filter

import (
	"net"
	"strings"

	"github.com/renews-project/renews/internal/milter"
	"github.com/renews-project/renews/internal/model"
)

// MilterFilter delegates accept/reject decisions to an external scanner
// speaking the Milter wire protocol (spec §4.5). A nil client (no
// milter configured) always accepts.
type MilterFilter struct {
	client     *milter.Client
	remoteHost string
}

func NewMilterFilter(client *milter.Client, remoteHost string) *MilterFilter {
	return &MilterFilter{client: client, remoteHost: remoteHost}
}

func (f *MilterFilter) Name() string { return "milter" }

func (f *MilterFilter) Check(a *model.Article, ctx *Context) Verdict {
	if f.client == nil {
		return accept()
	}
	remote := f.remoteHost
	if remote == "" {
		remote = "unknown"
	}
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}

	headers := make([][2]string, len(a.Headers))
	for i, h := range a.Headers {
		headers[i] = [2]string{h.Name, h.Value}
	}
	body := []byte(strings.Join(a.Body, "\r\n"))

	switch f.client.Scan(remote, headers, body) {
	case milter.Accept, milter.Continue:
		return accept()
	case milter.Discard:
		// Silent drop counts as success to the poster, but the article
		// must not be stored (spec §4.5).
		return discard()
	case milter.Reject:
		return reject(true, "rejected by content filter")
	default: // Tempfail
		return reject(false, "content filter temporarily unavailable")
	}
}
