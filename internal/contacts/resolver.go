// Package contacts resolves raw sender identifiers to canonical
// contacts across channels. The channel-mapping index is the single
// source of truth; a lookup miss creates an anonymous contact so the
// directory self-populates from traffic.
package contacts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/store"
)

const (
	cacheTTL  = 5 * time.Minute
	cacheSize = 1000
)

// Resolver is the contact directory frontend.
type Resolver struct {
	contacts store.ContactStore
	cache    *resolveCache
	log      *slog.Logger
}

func NewResolver(contacts store.ContactStore, log *slog.Logger) *Resolver {
	return &Resolver{
		contacts: contacts,
		cache:    newResolveCache(cacheTTL, cacheSize),
		log:      log.With("component", "contacts"),
	}
}

// Resolve maps a raw sender to a contact, trying each candidate
// identifier against the mapping index. Returns nil when nothing
// matches and createMissing is false.
func (r *Resolver) Resolve(ctx context.Context, tenantID uuid.UUID, rawSender, channel string) (*store.ContactData, error) {
	key := tenantID.String() + "|" + channel + "|" + rawSender
	if c, ok := r.cache.get(key); ok {
		return c, nil
	}
	for _, cand := range Candidates(rawSender, channel) {
		c, err := r.contacts.LookupChannelID(ctx, tenantID, cand.Type, cand.ID)
		if err != nil {
			return nil, fmt.Errorf("lookup %s=%s: %w", cand.Type, cand.ID, err)
		}
		if c != nil {
			r.cache.put(key, c)
			return c, nil
		}
	}
	r.cache.put(key, nil)
	return nil, nil
}

// ResolveOrCreate resolves the sender, creating an anonymous contact on
// a miss. The strongest candidate identifier becomes the contact's
// mapping entry; the friendly name defaults to the bare identifier.
func (r *Resolver) ResolveOrCreate(ctx context.Context, tenantID uuid.UUID, rawSender, channel string) (*store.ContactData, error) {
	c, err := r.Resolve(ctx, tenantID, rawSender, channel)
	if err != nil || c != nil {
		return c, err
	}
	cands := Candidates(rawSender, channel)
	if len(cands) == 0 {
		return nil, fmt.Errorf("resolve %q: no usable identifier", rawSender)
	}
	primary := cands[0]
	contact := &store.ContactData{
		TenantID:   tenantID,
		Name:       BareID(rawSender),
		Role:       store.RoleUser,
		Active:     true,
		ChannelIDs: map[string]string{primary.Type: primary.ID},
	}
	if err := r.contacts.Create(ctx, contact); err != nil {
		return nil, fmt.Errorf("create anonymous contact: %w", err)
	}
	r.cache.invalidateAll()
	r.log.Info("created anonymous contact",
		"tenant", tenantID, "sender", rawSender, "contact", contact.ID)
	return contact, nil
}

// AddChannelID records an extra identifier for a contact, typically an
// auto-discovered business JID, and drops the cache.
func (r *Resolver) AddChannelID(ctx context.Context, contactID uuid.UUID, idType, identifier string) error {
	if err := r.contacts.AddChannelID(ctx, contactID, idType, identifier); err != nil {
		return err
	}
	r.cache.invalidateAll()
	return nil
}

// ByName finds a contact by friendly name, for @mention routing. The
// leading @ is tolerated.
func (r *Resolver) ByName(ctx context.Context, tenantID uuid.UUID, name string) (*store.ContactData, error) {
	return r.contacts.GetByName(ctx, tenantID, strings.TrimPrefix(name, "@"))
}

// MappedAgent returns the agent a contact's DMs route to, or nil.
func (r *Resolver) MappedAgent(ctx context.Context, contactID uuid.UUID) (*uuid.UUID, error) {
	return r.contacts.MappedAgent(ctx, contactID)
}

// DirectorySummary renders the active directory as a prompt block so the
// agent can address known people by name.
func (r *Resolver) DirectorySummary(ctx context.Context, tenantID uuid.UUID) (string, error) {
	list, err := r.contacts.ListActive(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return "", nil
	}
	var b strings.Builder
	b.WriteString("Known contacts:\n")
	for _, c := range list {
		b.WriteString("- ")
		b.WriteString(c.Name)
		if c.Role == store.RoleAgent {
			b.WriteString(" (agent)")
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}
