package keys

import (
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-authgate/idgate/internal/core"
	"github.com/go-authgate/idgate/internal/metrics"
	"github.com/go-authgate/idgate/internal/models"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/rs/zerolog/log"
)

// SigningKey is an asymmetric key pair with its identifier. Values are never
// mutated after they are published in a KeySet.
type SigningKey struct {
	ID         string
	Algorithm  string
	PrivateKey crypto.Signer
	CreatedAt  time.Time
	RetiredAt  time.Time // zero while current
	ExpiresAt  time.Time // end of verification grace; zero while current
}

// Public returns the verification key.
func (k *SigningKey) Public() crypto.PublicKey {
	return k.PrivateKey.Public()
}

// IsRetired reports whether the key only verifies.
func (k *SigningKey) IsRetired() bool {
	return !k.RetiredAt.IsZero()
}

func newSigningKey(signer crypto.Signer, now time.Time) (*SigningKey, error) {
	alg, err := AlgorithmFor(signer)
	if err != nil {
		return nil, err
	}
	kid, err := KeyID(signer)
	if err != nil {
		return nil, err
	}
	return &SigningKey{ID: kid, Algorithm: alg, PrivateKey: signer, CreatedAt: now}, nil
}

// KeySet is an immutable snapshot: exactly one current key plus the retired
// keys still inside their grace period.
type KeySet struct {
	Version uint64
	Current *SigningKey
	Retired []*SigningKey
}

// Keys returns every verification key, current first.
func (s *KeySet) Keys() []*SigningKey {
	return append([]*SigningKey{s.Current}, s.Retired...)
}

// Lookup finds a key by id.
func (s *KeySet) Lookup(kid string) (*SigningKey, bool) {
	for _, k := range s.Keys() {
		if k.ID == kid {
			return k, true
		}
	}
	return nil, false
}

// Options configure a Manager.
type Options struct {
	// Algorithm for generated keys, RS256 or ES256.
	Algorithm string
	// Grace keeps retired keys published; it should be the longest token lifetime.
	Grace time.Duration
	// Bootstrap is used as the first current key when nothing is persisted.
	Bootstrap crypto.Signer
	// Persister stores keys across restarts. Optional.
	Persister core.KeyPersister
	Metrics   core.Recorder
	Now       func() time.Time
}

// Manager owns the signing keys. Readers load the current snapshot without
// locking; Rotate and Prune are serialized and publish a new snapshot.
type Manager struct {
	snapshot  atomic.Pointer[KeySet]
	mu        sync.Mutex
	alg       string
	grace     time.Duration
	persister core.KeyPersister
	metrics   core.Recorder
	now       func() time.Time
}

// NewManager restores persisted keys, or starts from the bootstrap key, or
// generates a fresh one.
func NewManager(ctx context.Context, opts Options) (*Manager, error) {
	if opts.Algorithm == "" {
		opts.Algorithm = AlgRS256
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopMetrics()
	}
	m := &Manager{
		alg:       opts.Algorithm,
		grace:     opts.Grace,
		persister: opts.Persister,
		metrics:   opts.Metrics,
		now:       opts.Now,
	}

	set, err := m.restore(ctx)
	if err != nil {
		return nil, err
	}
	if set == nil {
		now := m.now()
		signer := opts.Bootstrap
		if signer == nil {
			if signer, err = Generate(m.alg); err != nil {
				return nil, fmt.Errorf("failed to generate signing key: %w", err)
			}
		}
		current, err := newSigningKey(signer, now)
		if err != nil {
			return nil, err
		}
		if err := m.persist(ctx, current); err != nil {
			return nil, err
		}
		set = &KeySet{Version: 1, Current: current}
		log.Info().Str("kid", current.ID).Str("alg", current.Algorithm).Msg("Signing key created")
	}

	m.publish(set)
	return m, nil
}

// Current returns the key used for new signatures.
func (m *Manager) Current() *SigningKey {
	return m.snapshot.Load().Current
}

// Snapshot returns the published key set.
func (m *Manager) Snapshot() *KeySet {
	return m.snapshot.Load()
}

// Lookup finds a published key by id.
func (m *Manager) Lookup(kid string) (*SigningKey, bool) {
	return m.snapshot.Load().Lookup(kid)
}

// Rotate makes a new key current. The previous key stays published until
// now + grace so tokens it signed keep verifying.
func (m *Manager) Rotate(ctx context.Context) (*SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	signer, err := Generate(m.alg)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	now := m.now()
	next, err := newSigningKey(signer, now)
	if err != nil {
		return nil, err
	}

	old := m.snapshot.Load()
	retired := *old.Current
	retired.RetiredAt = now
	retired.ExpiresAt = now.Add(m.grace)

	if err := m.persist(ctx, next); err != nil {
		return nil, err
	}
	if err := m.persist(ctx, &retired); err != nil {
		return nil, err
	}

	m.publish(&KeySet{
		Version: old.Version + 1,
		Current: next,
		Retired: append([]*SigningKey{&retired}, old.Retired...),
	})
	m.metrics.RecordKeyRotation()
	log.Info().
		Str("kid", next.ID).
		Str("retired_kid", retired.ID).
		Time("retired_until", retired.ExpiresAt).
		Msg("Signing key rotated")
	return next, nil
}

// Prune drops retired keys whose grace period ended before now.
func (m *Manager) Prune(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.snapshot.Load()
	keep := make([]*SigningKey, 0, len(old.Retired))
	var dropped []*SigningKey
	for _, k := range old.Retired {
		if now.Before(k.ExpiresAt) {
			keep = append(keep, k)
		} else {
			dropped = append(dropped, k)
		}
	}
	if len(dropped) == 0 {
		return 0, nil
	}

	m.publish(&KeySet{Version: old.Version + 1, Current: old.Current, Retired: keep})

	var errs []error
	if m.persister != nil {
		for _, k := range dropped {
			if err := m.persister.DeleteSigningKey(ctx, k.ID); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for _, k := range dropped {
		log.Info().Str("kid", k.ID).Msg("Retired signing key pruned")
	}
	return len(dropped), errors.Join(errs...)
}

// JWKS renders the published public keys as a JSON Web Key Set.
func (m *Manager) JWKS() (jwk.Set, error) {
	return BuildJWKS(m.snapshot.Load().Keys())
}

// JWKSJSON is JWKS serialized.
func (m *Manager) JWKSJSON() ([]byte, error) {
	set, err := m.JWKS()
	if err != nil {
		return nil, err
	}
	return json.Marshal(set)
}

// BuildJWKS converts signing keys into their public JWK form.
func BuildJWKS(keys []*SigningKey) (jwk.Set, error) {
	set := jwk.NewSet()
	for _, k := range keys {
		key, err := jwk.Import(k.Public())
		if err != nil {
			return nil, fmt.Errorf("failed to import key %s: %w", k.ID, err)
		}
		if err := key.Set(jwk.KeyIDKey, k.ID); err != nil {
			return nil, err
		}
		if err := key.Set(jwk.AlgorithmKey, k.Algorithm); err != nil {
			return nil, err
		}
		if err := key.Set(jwk.KeyUsageKey, "sig"); err != nil {
			return nil, err
		}
		if err := set.AddKey(key); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func (m *Manager) publish(set *KeySet) {
	m.snapshot.Store(set)
	m.metrics.SetPublishedKeys(1 + len(set.Retired))
}

func (m *Manager) persist(ctx context.Context, k *SigningKey) error {
	if m.persister == nil {
		return nil
	}
	pemData, err := EncodePrivateKeyPEM(k.PrivateKey)
	if err != nil {
		return err
	}
	rec := &models.SigningKeyRecord{
		KeyID:         k.ID,
		Algorithm:     k.Algorithm,
		PrivateKeyPEM: pemData,
		Current:       !k.IsRetired(),
		CreatedAt:     k.CreatedAt,
	}
	if k.IsRetired() {
		retiredAt, expiresAt := k.RetiredAt, k.ExpiresAt
		rec.RetiredAt = &retiredAt
		rec.ExpiresAt = &expiresAt
	}
	if err := m.persister.SaveSigningKey(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist signing key: %w", err)
	}
	return nil
}

// restore rebuilds the key set from the persister. It returns nil when there
// is nothing usable to restore.
func (m *Manager) restore(ctx context.Context) (*KeySet, error) {
	if m.persister == nil {
		return nil, nil
	}
	records, err := m.persister.ListSigningKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing keys: %w", err)
	}

	now := m.now()
	set := &KeySet{Version: 1}
	var current []*SigningKey
	for _, rec := range records {
		signer, err := ParsePrivateKeyPEM([]byte(rec.PrivateKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("failed to parse signing key %s: %w", rec.KeyID, err)
		}
		k := &SigningKey{
			ID:         rec.KeyID,
			Algorithm:  rec.Algorithm,
			PrivateKey: signer,
			CreatedAt:  rec.CreatedAt,
		}
		if rec.Current {
			current = append(current, k)
			continue
		}
		if rec.RetiredAt != nil && rec.ExpiresAt != nil && now.Before(*rec.ExpiresAt) {
			k.RetiredAt = *rec.RetiredAt
			k.ExpiresAt = *rec.ExpiresAt
			set.Retired = append(set.Retired, k)
		}
	}
	if len(current) == 0 {
		return nil, nil
	}

	// More than one current row means a rotation was interrupted: the newest
	// wins and the others are retired from its creation time.
	slices.SortFunc(current, func(a, b *SigningKey) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	set.Current = current[0]
	for _, k := range current[1:] {
		k.RetiredAt = set.Current.CreatedAt
		k.ExpiresAt = set.Current.CreatedAt.Add(m.grace)
		if now.Before(k.ExpiresAt) {
			set.Retired = append(set.Retired, k)
		}
	}
	slices.SortFunc(set.Retired, func(a, b *SigningKey) int {
		return b.RetiredAt.Compare(a.RetiredAt)
	})
	log.Info().
		Str("kid", set.Current.ID).
		Int("retired", len(set.Retired)).
		Msg("Signing keys restored")
	return set, nil
}
