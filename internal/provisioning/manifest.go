package provisioning

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultManifest []byte

// ErrInvalidManifest is returned for manifests that fail validation.
var ErrInvalidManifest = errors.New("invalid provisioning manifest")

// Manifest declares the resources, scopes, clients and users to provision.
type Manifest struct {
	Resources      []ResourceSpec `yaml:"resources"`
	IdentityScopes []ScopeSpec    `yaml:"identity_scopes"`
	Clients        []ClientSpec   `yaml:"clients"`
	Users          []UserSpec     `yaml:"users"`
}

// ResourceSpec is a protected API and the scopes it owns.
type ResourceSpec struct {
	Identifier  string      `yaml:"identifier"`
	DisplayName string      `yaml:"display_name"`
	Scopes      []ScopeSpec `yaml:"scopes"`
}

type ScopeSpec struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`
	Description string `yaml:"description"`
}

// ClientSpec registers a client. An empty secret registers a public client
// unless GenerateSecret is set.
type ClientSpec struct {
	ClientID               string   `yaml:"client_id"`
	Name                   string   `yaml:"name"`
	Secret                 string   `yaml:"secret"`
	GenerateSecret         bool     `yaml:"generate_secret"`
	GrantTypes             []string `yaml:"grant_types"`
	Scopes                 []string `yaml:"scopes"`
	RedirectURIs           []string `yaml:"redirect_uris"`
	PostLogoutRedirectURIs []string `yaml:"post_logout_redirect_uris"`
	AllowedOrigins         []string `yaml:"allowed_origins"`
	RequirePKCE            bool     `yaml:"require_pkce"`
	Disabled               bool     `yaml:"disabled"`
}

// UserSpec registers an end-user. The subject defaults to a UUID derived
// from the username.
type UserSpec struct {
	ID            string `yaml:"id"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	Name          string `yaml:"name"`
	Email         string `yaml:"email"`
	EmailVerified bool   `yaml:"email_verified"`
	Disabled      bool   `yaml:"disabled"`
}

// Default returns the embedded development manifest.
func Default() (*Manifest, error) {
	return Parse(defaultManifest)
}

// LoadFile reads a manifest from path, or the default one when path is empty.
func LoadFile(path string) (*Manifest, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path) // #nosec G304 - path comes from PROVISIONING_FILE
	if err != nil {
		return nil, fmt.Errorf("failed to read provisioning manifest: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML manifest after expanding ${NAME} and ${NAME:-default}
// references from the environment, then validates it.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(strings.NewReader(expandEnv(string(data))))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func expandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		name, def, hasDefault := strings.Cut(key, ":-")
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
		if hasDefault {
			return def
		}
		return ""
	})
}

// Validate checks names are unique and every client scope is declared.
func (m *Manifest) Validate() error {
	scopes := make(map[string]bool)
	addScope := func(s ScopeSpec) error {
		if s.Name == "" {
			return fmt.Errorf("%w: scope without a name", ErrInvalidManifest)
		}
		if scopes[s.Name] {
			return fmt.Errorf("%w: duplicate scope %q", ErrInvalidManifest, s.Name)
		}
		scopes[s.Name] = true
		return nil
	}

	resources := make(map[string]bool)
	for _, r := range m.Resources {
		if r.Identifier == "" {
			return fmt.Errorf("%w: resource without an identifier", ErrInvalidManifest)
		}
		if resources[r.Identifier] {
			return fmt.Errorf("%w: duplicate resource %q", ErrInvalidManifest, r.Identifier)
		}
		resources[r.Identifier] = true
		for _, s := range r.Scopes {
			if err := addScope(s); err != nil {
				return err
			}
		}
	}
	for _, s := range m.IdentityScopes {
		if err := addScope(s); err != nil {
			return err
		}
	}

	clients := make(map[string]bool)
	for _, c := range m.Clients {
		if clients[c.ClientID] {
			return fmt.Errorf("%w: duplicate client %q", ErrInvalidManifest, c.ClientID)
		}
		clients[c.ClientID] = true
		for _, s := range c.Scopes {
			if !scopes[s] {
				return fmt.Errorf("%w: client %q uses undeclared scope %q", ErrInvalidManifest, c.ClientID, s)
			}
		}
	}

	users := make(map[string]bool)
	for _, u := range m.Users {
		if u.Username == "" {
			return fmt.Errorf("%w: user without a username", ErrInvalidManifest)
		}
		if users[u.Username] {
			return fmt.Errorf("%w: duplicate user %q", ErrInvalidManifest, u.Username)
		}
		users[u.Username] = true
	}
	return nil
}
