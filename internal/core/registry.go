package core

import (
	"context"

	"github.com/go-authgate/idgate/internal/models"
)

// RegistryStore is the read side of client, scope, resource and user records
// used by the protocol engine. Records are written only by provisioning.
type RegistryStore interface {
	GetClient(ctx context.Context, clientID string) (*models.Client, error)
	ListClients(ctx context.Context) ([]models.Client, error)
	GetScope(ctx context.Context, name string) (*models.Scope, error)
	ListScopes(ctx context.Context) ([]models.Scope, error)
	GetResource(ctx context.Context, identifier string) (*models.Resource, error)
	ListResources(ctx context.Context) ([]models.Resource, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// KeyPersister stores signing keys so they survive restarts.
type KeyPersister interface {
	SaveSigningKey(ctx context.Context, key *models.SigningKeyRecord) error
	ListSigningKeys(ctx context.Context) ([]models.SigningKeyRecord, error)
	DeleteSigningKey(ctx context.Context, keyID string) error
}
