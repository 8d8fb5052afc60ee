package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-authgate/idgate/internal/core"
	"github.com/go-authgate/idgate/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store is the gorm-backed implementation of the registry, session and key stores.
type Store struct {
	db *gorm.DB
}

var (
	_ core.SessionStore  = (*Store)(nil)
	_ core.RegistryStore = (*Store)(nil)
	_ core.KeyPersister  = (*Store)(nil)
)

func New(ctx context.Context, driver, dsn string) (*Store, error) {
	d, err := lookupDriver(driver)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(d.dialector(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := d.configure(db); err != nil {
		return nil, err
	}

	if err := db.WithContext(ctx).AutoMigrate(
		&models.Client{},
		&models.Scope{},
		&models.Resource{},
		&models.User{},
		&models.AuthorizationCode{},
		&models.RefreshToken{},
		&models.Consent{},
		&models.SigningKeyRecord{},
	); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Health pings the underlying connection.
func (s *Store) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB exposes the gorm handle for tests and provisioning.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Registry reads

func (s *Store) GetClient(ctx context.Context, clientID string) (*models.Client, error) {
	var client models.Client
	if err := s.db.WithContext(ctx).Where("client_id = ?", clientID).First(&client).Error; err != nil {
		return nil, notFound(err)
	}
	return &client, nil
}

func (s *Store) ListClients(ctx context.Context) ([]models.Client, error) {
	var clients []models.Client
	if err := s.db.WithContext(ctx).Order("client_id").Find(&clients).Error; err != nil {
		return nil, err
	}
	return clients, nil
}

func (s *Store) GetScope(ctx context.Context, name string) (*models.Scope, error) {
	var scope models.Scope
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&scope).Error; err != nil {
		return nil, notFound(err)
	}
	return &scope, nil
}

func (s *Store) ListScopes(ctx context.Context) ([]models.Scope, error) {
	var scopes []models.Scope
	if err := s.db.WithContext(ctx).Order("name").Find(&scopes).Error; err != nil {
		return nil, err
	}
	return scopes, nil
}

func (s *Store) GetResource(ctx context.Context, identifier string) (*models.Resource, error) {
	var resource models.Resource
	if err := s.db.WithContext(ctx).Where("identifier = ?", identifier).First(&resource).Error; err != nil {
		return nil, notFound(err)
	}
	return &resource, nil
}

func (s *Store) ListResources(ctx context.Context) ([]models.Resource, error) {
	var resources []models.Resource
	if err := s.db.WithContext(ctx).Order("identifier").Find(&resources).Error; err != nil {
		return nil, err
	}
	return resources, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// Provisioning writes. Each upsert matches on the record's natural key.

func (s *Store) UpsertClient(ctx context.Context, client *models.Client) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "client_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"secret_hash", "name", "grant_types", "scopes", "redirect_uris",
			"post_logout_redirect_uris", "allowed_origins", "require_pkce", "is_active", "updated_at",
		}),
	}).Create(client).Error
}

func (s *Store) UpsertScope(ctx context.Context, scope *models.Scope) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "description", "resource", "updated_at"}),
	}).Create(scope).Error
}

func (s *Store) UpsertResource(ctx context.Context, resource *models.Resource) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identifier"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "scopes", "updated_at"}),
	}).Create(resource).Error
}

func (s *Store) UpsertUser(ctx context.Context, user *models.User) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "username"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"email", "email_verified", "name", "password_hash", "is_active", "updated_at",
		}),
	}).Create(user).Error
}

// Authorization codes

func (s *Store) CreateAuthorizationCode(ctx context.Context, code *models.AuthorizationCode) error {
	return s.db.WithContext(ctx).Create(code).Error
}

func (s *Store) GetAuthorizationCode(ctx context.Context, codeHash string) (*models.AuthorizationCode, error) {
	var code models.AuthorizationCode
	if err := s.db.WithContext(ctx).Where("code_hash = ?", codeHash).First(&code).Error; err != nil {
		return nil, notFound(err)
	}
	return &code, nil
}

// ConsumeAuthorizationCode atomically marks the code as used.
// The WHERE used_at IS NULL guard makes the update a compare-and-swap: of any
// number of concurrent callers only one sees RowsAffected == 1.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, codeHash string, now time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.AuthorizationCode{}).
		Where("code_hash = ? AND used_at IS NULL", codeHash).
		Update("used_at", now)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return s.missingOrConsumed(ctx, &models.AuthorizationCode{}, "code_hash = ?", codeHash)
	}
	return nil
}

// Refresh tokens

func (s *Store) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	return s.db.WithContext(ctx).Create(token).Error
}

func (s *Store) GetRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	var token models.RefreshToken
	if err := s.db.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&token).Error; err != nil {
		return nil, notFound(err)
	}
	return &token, nil
}

func (s *Store) ConsumeRefreshToken(ctx context.Context, tokenHash string, now time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.RefreshToken{}).
		Where("token_hash = ? AND used_at IS NULL AND revoked_at IS NULL", tokenHash).
		Update("used_at", now)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return s.missingOrConsumed(ctx, &models.RefreshToken{}, "token_hash = ?", tokenHash)
	}
	return nil
}

func (s *Store) RevokeRefreshToken(ctx context.Context, tokenHash string, now time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&models.RefreshToken{}).
		Where("token_hash = ? AND revoked_at IS NULL", tokenHash).
		Update("revoked_at", now)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Revoking twice is not an error
		err := s.missingOrConsumed(ctx, &models.RefreshToken{}, "token_hash = ?", tokenHash)
		if errors.Is(err, ErrRecordNotFound) {
			return err
		}
	}
	return nil
}

// Consents

func (s *Store) SaveConsent(ctx context.Context, consent *models.Consent) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subject"}, {Name: "client_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"scopes", "granted_at", "expires_at"}),
	}).Create(consent).Error
}

func (s *Store) GetConsent(ctx context.Context, subject, clientID string) (*models.Consent, error) {
	var consent models.Consent
	if err := s.db.WithContext(ctx).
		Where("subject = ? AND client_id = ?", subject, clientID).
		First(&consent).Error; err != nil {
		return nil, notFound(err)
	}
	return &consent, nil
}

// DeleteExpired removes expired codes, refresh tokens and consents.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	for _, model := range []any{
		&models.AuthorizationCode{},
		&models.RefreshToken{},
		&models.Consent{},
	} {
		result := s.db.WithContext(ctx).Where("expires_at < ?", now).Delete(model)
		if result.Error != nil {
			return total, result.Error
		}
		total += result.RowsAffected
	}
	return total, nil
}

// Signing keys

func (s *Store) SaveSigningKey(ctx context.Context, key *models.SigningKeyRecord) error {
	return s.db.WithContext(ctx).Save(key).Error
}

func (s *Store) ListSigningKeys(ctx context.Context) ([]models.SigningKeyRecord, error) {
	var keys []models.SigningKeyRecord
	if err := s.db.WithContext(ctx).Order("created_at").Find(&keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) DeleteSigningKey(ctx context.Context, keyID string) error {
	return s.db.WithContext(ctx).Where("key_id = ?", keyID).Delete(&models.SigningKeyRecord{}).Error
}

// missingOrConsumed distinguishes a missing row from one that lost the
// compare-and-swap.
func (s *Store) missingOrConsumed(ctx context.Context, model any, query string, args ...any) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(model).Where(query, args...).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrRecordNotFound
	}
	return ErrAuthCodeAlreadyUsed
}
