package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-authgate/idgate/internal/core"
	"github.com/go-authgate/idgate/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func createFreshStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestStoreWithSQLite runs the shared suite against SQLite
func TestStoreWithSQLite(t *testing.T) {
	testStoreOperations(t, createFreshStore(t))
}

// TestStoreWithPostgres runs the shared suite against PostgreSQL
func TestStoreWithPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping PostgreSQL integration test in short mode")
	}

	// Recover from panic if Docker is not available
	defer func() {
		if r := recover(); r != nil {
			t.Skipf("Skipping PostgreSQL test: Docker not available (panic: %v)", r)
		}
	}()

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("Skipping PostgreSQL test: Docker not available (%v)", err)
		return
	}
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := New(ctx, "postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	testStoreOperations(t, s)
}

func testStoreOperations(t *testing.T, s *Store) {
	ctx := context.Background()

	t.Run("Health", func(t *testing.T) {
		require.NoError(t, s.Health(ctx))
	})

	t.Run("UpsertClient", func(t *testing.T) {
		client := &models.Client{
			ClientID:   "cc1",
			Name:       "Machine client",
			GrantTypes: models.StringArray{"client_credentials"},
			Scopes:     models.StringArray{"api.read", "api.write"},
			IsActive:   true,
		}
		require.NoError(t, client.SetSecret("secret"))
		require.NoError(t, s.UpsertClient(ctx, client))

		got, err := s.GetClient(ctx, "cc1")
		require.NoError(t, err)
		assert.Equal(t, "Machine client", got.Name)
		assert.True(t, got.IsActive)
		assert.True(t, got.ValidateSecret("secret"))
		assert.Equal(t, models.StringArray{"api.read", "api.write"}, got.Scopes)

		// Second upsert updates in place
		update := &models.Client{
			ClientID:   "cc1",
			Name:       "Renamed",
			SecretHash: got.SecretHash,
			GrantTypes: models.StringArray{"client_credentials"},
			Scopes:     models.StringArray{"api.read"},
			IsActive:   false,
		}
		require.NoError(t, s.UpsertClient(ctx, update))

		got, err = s.GetClient(ctx, "cc1")
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Name)
		assert.False(t, got.IsActive)
		assert.Equal(t, models.StringArray{"api.read"}, got.Scopes)

		clients, err := s.ListClients(ctx)
		require.NoError(t, err)
		assert.Len(t, clients, 1)
	})

	t.Run("GetClientNotFound", func(t *testing.T) {
		_, err := s.GetClient(ctx, "missing")
		assert.ErrorIs(t, err, ErrRecordNotFound)
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("ScopesAndResources", func(t *testing.T) {
		require.NoError(t, s.UpsertResource(ctx, &models.Resource{
			Identifier:  "api",
			DisplayName: "Demo API",
			Scopes:      models.StringArray{"api.read", "api.write"},
		}))
		require.NoError(t, s.UpsertScope(ctx, &models.Scope{Name: "api.read", Resource: "api"}))
		require.NoError(t, s.UpsertScope(ctx, &models.Scope{Name: "openid", DisplayName: "OpenID"}))
		require.NoError(t, s.UpsertScope(ctx, &models.Scope{Name: "api.read", Resource: "api", Description: "Read"}))

		scope, err := s.GetScope(ctx, "api.read")
		require.NoError(t, err)
		assert.Equal(t, "api", scope.Resource)
		assert.Equal(t, "Read", scope.Description)

		scopes, err := s.ListScopes(ctx)
		require.NoError(t, err)
		assert.Len(t, scopes, 2)

		resource, err := s.GetResource(ctx, "api")
		require.NoError(t, err)
		assert.Equal(t, models.StringArray{"api.read", "api.write"}, resource.Scopes)

		resources, err := s.ListResources(ctx)
		require.NoError(t, err)
		assert.Len(t, resources, 1)

		_, err = s.GetScope(ctx, "nope")
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("Users", func(t *testing.T) {
		user := &models.User{ID: uuid.NewString(), Username: "alice", Email: "alice@example.com", IsActive: true}
		require.NoError(t, user.SetPassword("password"))
		require.NoError(t, s.UpsertUser(ctx, user))

		byName, err := s.GetUserByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, user.ID, byName.ID)
		assert.True(t, byName.CheckPassword("password"))

		byID, err := s.GetUserByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", byID.Username)

		_, err = s.GetUserByUsername(ctx, "bob")
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("ConsumeAuthorizationCode", func(t *testing.T) {
		now := time.Now()
		code := &models.AuthorizationCode{
			CodeHash:    "hash-single",
			ClientID:    "web",
			Subject:     "alice",
			RedirectURI: "http://localhost:5002/signin-oidc",
			Scopes:      "openid api.read",
			AuthTime:    now,
			ExpiresAt:   now.Add(5 * time.Minute),
		}
		require.NoError(t, s.CreateAuthorizationCode(ctx, code))

		got, err := s.GetAuthorizationCode(ctx, "hash-single")
		require.NoError(t, err)
		assert.False(t, got.IsUsed())
		assert.Equal(t, []string{"openid", "api.read"}, got.ScopeList())

		require.NoError(t, s.ConsumeAuthorizationCode(ctx, "hash-single", now))
		assert.ErrorIs(t, s.ConsumeAuthorizationCode(ctx, "hash-single", now), ErrAuthCodeAlreadyUsed)

		got, err = s.GetAuthorizationCode(ctx, "hash-single")
		require.NoError(t, err)
		assert.True(t, got.IsUsed())

		assert.ErrorIs(t, s.ConsumeAuthorizationCode(ctx, "unknown", now), ErrRecordNotFound)
	})

	t.Run("ConsumeAuthorizationCodeConcurrently", func(t *testing.T) {
		now := time.Now()
		require.NoError(t, s.CreateAuthorizationCode(ctx, &models.AuthorizationCode{
			CodeHash:    "hash-race",
			ClientID:    "web",
			Subject:     "alice",
			RedirectURI: "http://localhost:5002/signin-oidc",
			Scopes:      "openid",
			AuthTime:    now,
			ExpiresAt:   now.Add(5 * time.Minute),
		}))

		const workers = 10
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			conflicts int
		)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.ConsumeAuthorizationCode(ctx, "hash-race", time.Now())
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case assert.ErrorIs(t, err, ErrAuthCodeAlreadyUsed):
					conflicts++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, successes)
		assert.Equal(t, workers-1, conflicts)
	})

	t.Run("RefreshTokens", func(t *testing.T) {
		now := time.Now()
		token := &models.RefreshToken{
			TokenHash: "rt-1",
			ClientID:  "web",
			Subject:   "alice",
			Scopes:    "openid offline_access",
			AuthTime:  now,
			ExpiresAt: now.Add(time.Hour),
		}
		require.NoError(t, s.CreateRefreshToken(ctx, token))

		got, err := s.GetRefreshToken(ctx, "rt-1")
		require.NoError(t, err)
		assert.True(t, got.IsActive(now))

		require.NoError(t, s.ConsumeRefreshToken(ctx, "rt-1", now))
		assert.ErrorIs(t, s.ConsumeRefreshToken(ctx, "rt-1", now), ErrAuthCodeAlreadyUsed)

		got, err = s.GetRefreshToken(ctx, "rt-1")
		require.NoError(t, err)
		assert.False(t, got.IsActive(now))
	})

	t.Run("RevokeRefreshToken", func(t *testing.T) {
		now := time.Now()
		require.NoError(t, s.CreateRefreshToken(ctx, &models.RefreshToken{
			TokenHash: "rt-revoke",
			ClientID:  "web",
			Subject:   "alice",
			Scopes:    "openid",
			AuthTime:  now,
			ExpiresAt: now.Add(time.Hour),
		}))

		require.NoError(t, s.RevokeRefreshToken(ctx, "rt-revoke", now))
		require.NoError(t, s.RevokeRefreshToken(ctx, "rt-revoke", now), "revocation is idempotent")
		assert.ErrorIs(t, s.ConsumeRefreshToken(ctx, "rt-revoke", now), ErrAuthCodeAlreadyUsed)
		assert.ErrorIs(t, s.RevokeRefreshToken(ctx, "missing", now), ErrRecordNotFound)

		got, err := s.GetRefreshToken(ctx, "rt-revoke")
		require.NoError(t, err)
		assert.NotNil(t, got.RevokedAt)
	})

	t.Run("Consents", func(t *testing.T) {
		now := time.Now()
		require.NoError(t, s.SaveConsent(ctx, &models.Consent{
			Subject:   "alice",
			ClientID:  "web",
			Scopes:    "openid",
			GrantedAt: now,
			ExpiresAt: now.Add(24 * time.Hour),
		}))
		require.NoError(t, s.SaveConsent(ctx, &models.Consent{
			Subject:   "alice",
			ClientID:  "web",
			Scopes:    "openid api.read",
			GrantedAt: now,
			ExpiresAt: now.Add(24 * time.Hour),
		}))

		consent, err := s.GetConsent(ctx, "alice", "web")
		require.NoError(t, err)
		assert.True(t, consent.Covers([]string{"api.read", "openid"}))

		_, err = s.GetConsent(ctx, "bob", "web")
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("DeleteExpired", func(t *testing.T) {
		now := time.Now()
		require.NoError(t, s.CreateAuthorizationCode(ctx, &models.AuthorizationCode{
			CodeHash:    "hash-expired",
			ClientID:    "web",
			Subject:     "alice",
			RedirectURI: "http://localhost:5002/signin-oidc",
			Scopes:      "openid",
			AuthTime:    now.Add(-time.Hour),
			ExpiresAt:   now.Add(-time.Minute),
		}))
		require.NoError(t, s.CreateRefreshToken(ctx, &models.RefreshToken{
			TokenHash: "rt-expired",
			ClientID:  "web",
			Subject:   "alice",
			Scopes:    "openid",
			AuthTime:  now.Add(-time.Hour),
			ExpiresAt: now.Add(-time.Minute),
		}))

		deleted, err := s.DeleteExpired(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		_, err = s.GetAuthorizationCode(ctx, "hash-expired")
		assert.ErrorIs(t, err, ErrRecordNotFound)
		_, err = s.GetAuthorizationCode(ctx, "hash-single")
		assert.NoError(t, err, "unexpired codes are kept")
	})

	t.Run("SigningKeys", func(t *testing.T) {
		now := time.Now()
		require.NoError(t, s.SaveSigningKey(ctx, &models.SigningKeyRecord{
			KeyID:         "kid-1",
			Algorithm:     "RS256",
			PrivateKeyPEM: "pem-1",
			Current:       true,
			CreatedAt:     now,
		}))
		require.NoError(t, s.SaveSigningKey(ctx, &models.SigningKeyRecord{
			KeyID:         "kid-2",
			Algorithm:     "RS256",
			PrivateKeyPEM: "pem-2",
			Current:       true,
			CreatedAt:     now.Add(time.Second),
		}))

		// Retire the first key
		retiredAt := now.Add(time.Second)
		expiresAt := retiredAt.Add(time.Hour)
		require.NoError(t, s.SaveSigningKey(ctx, &models.SigningKeyRecord{
			KeyID:         "kid-1",
			Algorithm:     "RS256",
			PrivateKeyPEM: "pem-1",
			CreatedAt:     now,
			RetiredAt:     &retiredAt,
			ExpiresAt:     &expiresAt,
		}))

		keys, err := s.ListSigningKeys(ctx)
		require.NoError(t, err)
		require.Len(t, keys, 2)
		assert.Equal(t, "kid-1", keys[0].KeyID)
		assert.False(t, keys[0].Current)
		assert.NotNil(t, keys[0].RetiredAt)
		assert.True(t, keys[1].Current)

		require.NoError(t, s.DeleteSigningKey(ctx, "kid-1"))
		keys, err = s.ListSigningKeys(ctx)
		require.NoError(t, err)
		assert.Len(t, keys, 1)
	})
}
