// Package pgpkeys resolves and caches PGP public keys used to verify
// control-message signatures (spec §4.7, §9 "PGP key caching"). Key
// material is parsed with ProtonMail/go-crypto/openpgp, the library the
// rest of the retrieval pack (javi11/postie's dependency set) already
// pulls in for this purpose. HKP lookup uses a plain net/http client
// with a fixed timeout, the same pattern the teacher's
// internal/matrix.Client uses for its outbound HTTP calls.
package pgpkeys

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
)

// Cache resolves signer public keys by fingerprint or email, caching
// successful fetches for the process lifetime with a bounded size.
// Stale entries are not a security concern (spec §9): verification
// still requires a valid signature over the canonical article bytes.
type Cache struct {
	servers []string // HKP URL templates containing a literal "<email>" token
	client  *http.Client
	maxSize int

	mu      sync.Mutex
	entries map[string]openpgp.EntityList
	order   []string // fingerprint insertion order, for bounded eviction
}

func NewCache(servers []string, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &Cache{
		servers: servers,
		client:  &http.Client{Timeout: 10 * time.Second},
		maxSize: maxSize,
		entries: make(map[string]openpgp.EntityList),
	}
}

// ByFingerprint returns a cached key previously stored under
// fingerprint, if any.
func (c *Cache) ByFingerprint(fingerprint string) (openpgp.EntityList, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[strings.ToLower(fingerprint)]
	return el, ok
}

// Put caches a key under its fingerprint, evicting the oldest entry
// once maxSize is exceeded.
func (c *Cache) Put(fingerprint string, el openpgp.EntityList) {
	fingerprint = strings.ToLower(fingerprint)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[fingerprint]; !exists {
		c.order = append(c.order, fingerprint)
		if len(c.order) > c.maxSize {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
	}
	c.entries[fingerprint] = el
}

// FetchByEmail queries every configured HKP server in order for a key
// matching email, caching and returning the first successful parse.
func (c *Cache) FetchByEmail(email string) (openpgp.EntityList, error) {
	var lastErr error
	for _, tmpl := range c.servers {
		url := strings.ReplaceAll(tmpl, "<email>", email)
		el, err := c.fetchURL(url)
		if err != nil {
			lastErr = err
			continue
		}
		for _, e := range el {
			if e.PrimaryKey != nil {
				c.Put(fmt.Sprintf("%x", e.PrimaryKey.Fingerprint), openpgp.EntityList{e})
			}
		}
		return el, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("pgpkeys: no key servers configured")
	}
	return nil, fmt.Errorf("pgpkeys: fetch %s: %w", email, lastErr)
}

func (c *Cache) fetchURL(url string) (openpgp.EntityList, error) {
	resp, err := c.client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	el, err := openpgp.ReadArmoredKeyRing(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("parse key ring: %w", err)
	}
	return el, nil
}
