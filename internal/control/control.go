// Package control implements the control-message processor (spec
// §4.7): detecting newgroup/rmgroup/cancel articles, verifying their
// PGP signature, checking the signer's authorization, and applying the
// resulting group/article mutation. Signature verification uses
// ProtonMail/go-crypto/openpgp's clearsign reader, the same library
// internal/pgpkeys uses for key material.
package control

import (
	"fmt"
	"log"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"

	"github.com/renews-project/renews/internal/authn"
	"github.com/renews-project/renews/internal/model"
	"github.com/renews-project/renews/internal/pgpkeys"
)

// Verb is a parsed control action.
type Verb struct {
	Name      string // "newgroup", "rmgroup", "cancel"
	Target    string // group name or message-id
	Moderated bool   // only meaningful for newgroup
}

// IsControlArticle reports whether a is routed to the control
// processor: posted to group "control", or its Subject begins "cmsg ".
func IsControlArticle(a *model.Article) bool {
	for _, g := range a.Groups {
		if strings.EqualFold(g, "control") {
			return true
		}
	}
	return strings.HasPrefix(a.Header("Subject"), "cmsg ")
}

// ParseVerb extracts the control verb from an article's Subject or
// first body line, per news-PGP convention ("newgroup name [moderated]",
// "rmgroup name", "cancel <msgid>").
func ParseVerb(a *model.Article) (Verb, error) {
	line := strings.TrimPrefix(a.Header("Subject"), "cmsg ")
	if strings.TrimSpace(line) == "" && len(a.Body) > 0 {
		line = a.Body[0]
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Verb{}, fmt.Errorf("control: malformed verb line %q", line)
	}
	switch strings.ToLower(fields[0]) {
	case "newgroup":
		return Verb{Name: "newgroup", Target: fields[1], Moderated: len(fields) > 2 && strings.EqualFold(fields[2], "moderated")}, nil
	case "rmgroup":
		return Verb{Name: "rmgroup", Target: fields[1]}, nil
	case "cancel":
		return Verb{Name: "cancel", Target: fields[1]}, nil
	default:
		return Verb{}, fmt.Errorf("control: unknown verb %q", fields[0])
	}
}

// ExtractSignature finds the clearsigned block in the article body
// (news-PGP convention embeds it as the whole body) and verifies it
// against candidateKeys, returning the signing entity's fingerprint.
func ExtractSignature(body []string, candidateKeys openpgp.EntityList) (fingerprint string, err error) {
	raw := []byte(strings.Join(body, "\n"))
	block, _ := clearsign.Decode(raw)
	if block == nil {
		return "", fmt.Errorf("control: no clearsigned block found")
	}
	signer, err := openpgp.CheckDetachedSignature(candidateKeys, strings.NewReader(string(block.Bytes)), block.ArmoredSignature.Body, nil)
	if err != nil {
		return "", fmt.Errorf("control: signature verification failed: %w", err)
	}
	if signer == nil || signer.PrimaryKey == nil {
		return "", fmt.Errorf("control: signature verified against no known key")
	}
	return fmt.Sprintf("%x", signer.PrimaryKey.Fingerprint), nil
}

// UserStore is the narrow slice of storage control needs: user lookup
// only, kept local to avoid an import cycle with store.
type UserStore interface {
	UserByUsername(username string) (*model.User, error)
}

// GroupStore is the narrow slice of storage control needs for
// newgroup/rmgroup/cancel.
type GroupStore interface {
	CreateGroup(g *model.Group) error
	DeleteGroup(name string) error
	DeleteArticle(messageID string) error
	FetchByMessageID(id string) (*model.Article, error)
}

// Processor applies verified control verbs against storage.
type Processor struct {
	users    UserStore
	groups   GroupStore
	keys     *pgpkeys.Cache
	siteName string
}

func NewProcessor(users UserStore, groups GroupStore, keys *pgpkeys.Cache, siteName string) *Processor {
	return &Processor{users: users, groups: groups, keys: keys, siteName: siteName}
}

// Process is invoked as a post-commit hook (spec §9 "Control-message
// verification vs. posting order") once a matching article has already
// been written to storage. Failed verification or authorization logs
// and drops the control action; the article itself remains stored.
func (p *Processor) Process(a *model.Article) {
	if !IsControlArticle(a) {
		return
	}
	verb, err := ParseVerb(a)
	if err != nil {
		log.Printf("[CONTROL]: %s: %v", a.MessageID, err)
		return
	}

	fromEmail := extractEmail(a.Header("From"))
	candidates := p.candidateKeys(fromEmail)
	if len(candidates) == 0 {
		log.Printf("[CONTROL]: %s: no candidate keys for signer %s, dropping %s", a.MessageID, fromEmail, verb.Name)
		return
	}

	fingerprint, err := ExtractSignature(a.Body, candidates)
	if err != nil {
		log.Printf("[CONTROL]: %s: %v, dropping %s", a.MessageID, err, verb.Name)
		return
	}

	signer := p.userByFingerprint(fingerprint)
	if signer == nil {
		log.Printf("[CONTROL]: %s: signature valid but fingerprint %s matches no local user, dropping %s", a.MessageID, fingerprint, verb.Name)
		return
	}

	if !p.authorized(signer, verb) {
		log.Printf("[CONTROL]: %s: user %s not authorized for %s %s", a.MessageID, signer.Username, verb.Name, verb.Target)
		return
	}

	p.apply(a, verb)
}

func (p *Processor) apply(a *model.Article, verb Verb) {
	switch verb.Name {
	case "newgroup":
		if err := p.groups.CreateGroup(&model.Group{Name: verb.Target, Created: a.ReceivedAt, Moderated: verb.Moderated}); err != nil {
			log.Printf("[CONTROL]: %s: newgroup %s: %v", a.MessageID, verb.Target, err)
		}
	case "rmgroup":
		if err := p.groups.DeleteGroup(verb.Target); err != nil {
			log.Printf("[CONTROL]: %s: rmgroup %s: %v", a.MessageID, verb.Target, err)
		}
	case "cancel":
		if err := p.groups.DeleteArticle(verb.Target); err != nil {
			log.Printf("[CONTROL]: %s: cancel %s: %v", a.MessageID, verb.Target, err)
		}
	}
}

// authorized reports whether signer may perform verb, per spec §4.7: a
// local admin may perform any verb; a moderator may rmgroup only within
// their wildmat pattern, and may cancel only an article whose every
// destination group is covered by their patterns, checked against the
// article's own Newsgroups rather than its message-id.
// newgroup is admin-only.
func (p *Processor) authorized(signer *model.User, verb Verb) bool {
	if signer.IsAdmin {
		return true
	}
	switch verb.Name {
	case "rmgroup":
		return authn.CanActOn(signer, verb.Target)
	case "cancel":
		target, err := p.groups.FetchByMessageID(verb.Target)
		if err != nil {
			return false
		}
		groups := groupNamesOf(target)
		if len(groups) == 0 {
			return false
		}
		for _, g := range groups {
			if !authn.CanActOn(signer, g) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// groupNamesOf recovers the destination groups of a stored article from
// its Newsgroups header, the same way article.Parse does when first
// accepting it; FetchByMessageID does not repopulate model.Article.Groups.
func groupNamesOf(a *model.Article) []string {
	var groups []string
	for _, g := range strings.Split(a.Header("Newsgroups"), ",") {
		if g = strings.TrimSpace(g); g != "" {
			groups = append(groups, g)
		}
	}
	return groups
}

// candidateKeys gathers keys to try verification against. Spec §4.7
// lists the stored local-user key before an HKP lookup by email, but
// the user model only stores KeyFingerprint, not key material, so there
// is nothing to verify against offline; this falls through to HKP alone
// until key material is stored.
func (p *Processor) candidateKeys(email string) openpgp.EntityList {
	var out openpgp.EntityList
	if email != "" && p.keys != nil {
		if el, err := p.keys.FetchByEmail(email); err == nil {
			out = append(out, el...)
		}
	}
	return out
}

func (p *Processor) userByFingerprint(fingerprint string) *model.User {
	// Control authorization is keyed off the local user whose stored
	// KeyFingerprint matches the verified signer; lookup happens by
	// scanning because storage indexes users by username, not key.
	// Renews expects small admin/moderator rosters, so a linear scan per
	// control message is not a bottleneck.
	if lister, ok := p.users.(interface{ ListUsers() ([]model.User, error) }); ok {
		users, err := lister.ListUsers()
		if err != nil {
			return nil
		}
		for i := range users {
			if strings.EqualFold(users[i].KeyFingerprint, fingerprint) {
				return &users[i]
			}
		}
	}
	return nil
}

func extractEmail(from string) string {
	start := strings.IndexByte(from, '<')
	end := strings.IndexByte(from, '>')
	if start >= 0 && end > start {
		return from[start+1 : end]
	}
	return strings.TrimSpace(from)
}
