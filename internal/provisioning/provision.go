package provisioning

import (
	"context"
	"fmt"

	"github.com/go-authgate/idgate/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Writer is the provisioning side of the store.
type Writer interface {
	UpsertResource(ctx context.Context, resource *models.Resource) error
	UpsertScope(ctx context.Context, scope *models.Scope) error
	UpsertClient(ctx context.Context, client *models.Client) error
	UpsertUser(ctx context.Context, user *models.User) error
}

// Summary reports what Seed wrote.
type Summary struct {
	Resources int
	Scopes    int
	Clients   int
	Users     int
	// GeneratedSecrets maps client ids to secrets created by this run.
	GeneratedSecrets map[string]string
}

// userNamespace derives stable subjects from usernames.
var userNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:idgate:users"))

// SubjectFor returns the default subject of username.
func SubjectFor(username string) string {
	return uuid.NewSHA1(userNamespace, []byte(username)).String()
}

// Seed upserts every record of m. Running it again converges to the same
// state, except that generated secrets are rotated.
func Seed(ctx context.Context, w Writer, m *Manifest) (*Summary, error) {
	sum := &Summary{GeneratedSecrets: map[string]string{}}

	for _, r := range m.Resources {
		names := make(models.StringArray, 0, len(r.Scopes))
		for _, s := range r.Scopes {
			names = append(names, s.Name)
		}
		if err := w.UpsertResource(ctx, &models.Resource{
			Identifier:  r.Identifier,
			DisplayName: displayName(r.DisplayName, r.Identifier),
			Scopes:      names,
		}); err != nil {
			return nil, fmt.Errorf("failed to provision resource %s: %w", r.Identifier, err)
		}
		sum.Resources++

		for _, s := range r.Scopes {
			if err := upsertScope(ctx, w, s, r.Identifier); err != nil {
				return nil, err
			}
			sum.Scopes++
		}
	}
	for _, s := range m.IdentityScopes {
		if err := upsertScope(ctx, w, s, ""); err != nil {
			return nil, err
		}
		sum.Scopes++
	}

	for _, spec := range m.Clients {
		client := &models.Client{
			ClientID:               spec.ClientID,
			Name:                   displayName(spec.Name, spec.ClientID),
			GrantTypes:             spec.GrantTypes,
			Scopes:                 spec.Scopes,
			RedirectURIs:           spec.RedirectURIs,
			PostLogoutRedirectURIs: spec.PostLogoutRedirectURIs,
			AllowedOrigins:         spec.AllowedOrigins,
			RequirePKCE:            spec.RequirePKCE,
			IsActive:               !spec.Disabled,
		}
		switch {
		case spec.GenerateSecret:
			secret, err := client.GenerateClientSecret()
			if err != nil {
				return nil, fmt.Errorf("failed to generate secret for %s: %w", spec.ClientID, err)
			}
			sum.GeneratedSecrets[spec.ClientID] = secret
		case spec.Secret != "":
			if err := client.SetSecret(spec.Secret); err != nil {
				return nil, fmt.Errorf("failed to hash secret for %s: %w", spec.ClientID, err)
			}
		}
		if err := client.Validate(); err != nil {
			return nil, err
		}
		if err := w.UpsertClient(ctx, client); err != nil {
			return nil, fmt.Errorf("failed to provision client %s: %w", spec.ClientID, err)
		}
		sum.Clients++
	}

	for _, spec := range m.Users {
		user := &models.User{
			ID:            spec.ID,
			Username:      spec.Username,
			Name:          spec.Name,
			Email:         spec.Email,
			EmailVerified: spec.EmailVerified,
			IsActive:      !spec.Disabled,
		}
		if user.ID == "" {
			user.ID = SubjectFor(spec.Username)
		}
		if spec.Password != "" {
			if err := user.SetPassword(spec.Password); err != nil {
				return nil, fmt.Errorf("failed to hash password for %s: %w", spec.Username, err)
			}
		}
		if err := w.UpsertUser(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to provision user %s: %w", spec.Username, err)
		}
		sum.Users++
	}

	log.Info().
		Int("resources", sum.Resources).
		Int("scopes", sum.Scopes).
		Int("clients", sum.Clients).
		Int("users", sum.Users).
		Msg("Provisioning complete")
	return sum, nil
}

func upsertScope(ctx context.Context, w Writer, s ScopeSpec, resource string) error {
	if err := w.UpsertScope(ctx, &models.Scope{
		Name:        s.Name,
		DisplayName: displayName(s.DisplayName, s.Name),
		Description: s.Description,
		Resource:    resource,
	}); err != nil {
		return fmt.Errorf("failed to provision scope %s: %w", s.Name, err)
	}
	return nil
}

func displayName(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}
