package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/go-authgate/idgate/internal/core"
	"github.com/go-authgate/idgate/internal/models"
	"github.com/go-authgate/idgate/internal/oauth"

	"github.com/jellydator/ttlcache/v3"
)

// ErrClientNotFound is returned for unknown or deactivated clients.
var ErrClientNotFound = errors.New("client not found")

const catalogKey = "catalog"

// catalog is an immutable snapshot of all scopes and resources.
type catalog struct {
	scopes    map[string]*models.Scope
	resources map[string]*models.Resource
	names     []string // scope names, sorted
}

// Registry answers client, scope and resource questions for the grant handlers.
// Lookups are cached for a short TTL; records are read-only at runtime.
type Registry struct {
	store   core.RegistryStore
	clients *ttlcache.Cache[string, *models.Client]
	catalog *ttlcache.Cache[string, *catalog]
	cached  bool
}

// New creates a Registry. A ttl of zero disables caching.
func New(store core.RegistryStore, ttl time.Duration) *Registry {
	return &Registry{
		store: store,
		clients: ttlcache.New(
			ttlcache.WithTTL[string, *models.Client](ttl),
			ttlcache.WithDisableTouchOnHit[string, *models.Client](),
		),
		catalog: ttlcache.New(
			ttlcache.WithTTL[string, *catalog](ttl),
			ttlcache.WithDisableTouchOnHit[string, *catalog](),
		),
		cached: ttl > 0,
	}
}

// Invalidate drops every cached record.
func (r *Registry) Invalidate() {
	r.clients.DeleteAll()
	r.catalog.DeleteAll()
}

// LookupClient returns an active client or ErrClientNotFound.
func (r *Registry) LookupClient(ctx context.Context, clientID string) (*models.Client, error) {
	if clientID == "" {
		return nil, ErrClientNotFound
	}
	if r.cached {
		if item := r.clients.Get(clientID); item != nil {
			return item.Value(), nil
		}
	}

	client, err := r.store.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to load client: %w", err)
	}
	if !client.IsActive {
		return nil, ErrClientNotFound
	}

	if r.cached {
		r.clients.Set(clientID, client, ttlcache.DefaultTTL)
	}
	return client, nil
}

// AuthenticateClient resolves the client and checks its secret.
// Confidential clients must present their secret; public clients must not
// present one. Every failure is oauth.ErrInvalidClient.
func (r *Registry) AuthenticateClient(ctx context.Context, clientID, secret string) (*models.Client, error) {
	client, err := r.LookupClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrClientNotFound) {
			return nil, oauth.Wrap(oauth.ErrInvalidClient, "unknown client")
		}
		return nil, err
	}

	if client.IsConfidential() {
		if secret == "" || !client.ValidateSecret(secret) {
			return nil, oauth.Wrap(oauth.ErrInvalidClient, "client authentication failed")
		}
		return client, nil
	}
	if secret != "" {
		return nil, oauth.Wrap(oauth.ErrInvalidClient, "public client must not present a secret")
	}
	return client, nil
}

// ValidateScopes checks requested against the client's allowed set and the
// scope catalog. Any scope outside either fails the whole request with
// oauth.ErrInvalidScope; nothing is silently dropped. The result keeps the
// request order without duplicates.
func (r *Registry) ValidateScopes(ctx context.Context, clientID string, requested []string) ([]string, error) {
	client, err := r.LookupClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrClientNotFound) {
			return nil, oauth.Wrap(oauth.ErrInvalidClient, "unknown client")
		}
		return nil, err
	}
	return r.ValidateClientScopes(ctx, client, requested)
}

// ValidateClientScopes is ValidateScopes for an already resolved client.
func (r *Registry) ValidateClientScopes(ctx context.Context, client *models.Client, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return nil, oauth.Wrap(oauth.ErrInvalidScope, "no scope requested")
	}
	cat, err := r.loadCatalog(ctx)
	if err != nil {
		return nil, err
	}

	granted := make([]string, 0, len(requested))
	for _, scope := range requested {
		if slices.Contains(granted, scope) {
			continue
		}
		if !client.AllowsScope(scope) {
			return nil, oauth.Wrap(oauth.ErrInvalidScope, "scope %q is not allowed for this client", scope)
		}
		if _, ok := cat.scopes[scope]; !ok {
			return nil, oauth.Wrap(oauth.ErrInvalidScope, "scope %q is not registered", scope)
		}
		granted = append(granted, scope)
	}
	return granted, nil
}

// DefaultScopes returns the client's allowed resource scopes, used when a
// client_credentials request names no scope.
func (r *Registry) DefaultScopes(ctx context.Context, client *models.Client) ([]string, error) {
	cat, err := r.loadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	var scopes []string
	for _, name := range client.Scopes {
		if s, ok := cat.scopes[name]; ok && !s.IsIdentity() {
			scopes = append(scopes, name)
		}
	}
	return scopes, nil
}

// LookupScope returns a registered scope.
func (r *Registry) LookupScope(ctx context.Context, name string) (*models.Scope, error) {
	cat, err := r.loadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	s, ok := cat.scopes[name]
	if !ok {
		return nil, core.ErrNotFound
	}
	return s, nil
}

// ResourceForScope maps a scope to the resource that owns it.
// Identity scopes have no resource.
func (r *Registry) ResourceForScope(ctx context.Context, scope string) (*models.Resource, bool, error) {
	cat, err := r.loadCatalog(ctx)
	if err != nil {
		return nil, false, err
	}
	s, ok := cat.scopes[scope]
	if !ok || s.IsIdentity() {
		return nil, false, nil
	}
	res, ok := cat.resources[s.Resource]
	return res, ok, nil
}

// Audience returns the sorted identifiers of the resources owning scopes.
func (r *Registry) Audience(ctx context.Context, scopes []string) ([]string, error) {
	var aud []string
	for _, scope := range scopes {
		res, ok, err := r.ResourceForScope(ctx, scope)
		if err != nil {
			return nil, err
		}
		if ok && !slices.Contains(aud, res.Identifier) {
			aud = append(aud, res.Identifier)
		}
	}
	slices.Sort(aud)
	return aud, nil
}

// SupportedScopes lists every registered scope name.
func (r *Registry) SupportedScopes(ctx context.Context) ([]string, error) {
	cat, err := r.loadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(cat.names), nil
}

// AllowedOrigins returns the union of CORS origins registered by active clients.
func (r *Registry) AllowedOrigins(ctx context.Context) ([]string, error) {
	clients, err := r.store.ListClients(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	var origins []string
	for _, c := range clients {
		if !c.IsActive {
			continue
		}
		for _, o := range c.AllowedOrigins {
			if !slices.Contains(origins, o) {
				origins = append(origins, o)
			}
		}
	}
	slices.Sort(origins)
	return origins, nil
}

// User returns the end-user profile for subject.
func (r *Registry) User(ctx context.Context, subject string) (*models.User, error) {
	return r.store.GetUserByID(ctx, subject)
}

func (r *Registry) loadCatalog(ctx context.Context) (*catalog, error) {
	if r.cached {
		if item := r.catalog.Get(catalogKey); item != nil {
			return item.Value(), nil
		}
	}

	scopes, err := r.store.ListScopes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list scopes: %w", err)
	}
	resources, err := r.store.ListResources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}

	cat := &catalog{
		scopes:    make(map[string]*models.Scope, len(scopes)),
		resources: make(map[string]*models.Resource, len(resources)),
		names:     make([]string, 0, len(scopes)),
	}
	for i := range scopes {
		cat.scopes[scopes[i].Name] = &scopes[i]
		cat.names = append(cat.names, scopes[i].Name)
	}
	for i := range resources {
		cat.resources[resources[i].Identifier] = &resources[i]
	}
	slices.Sort(cat.names)

	if r.cached {
		r.catalog.Set(catalogKey, cat, ttlcache.DefaultTTL)
	}
	return cat, nil
}
