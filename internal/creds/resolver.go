// Package creds implements C1, the credential resolver: a pure, read-only
// lookup from opaque inbox id to upstream IMAP/SMTP credentials.
package creds

import (
	"fmt"
	"os"
	"time"

	"github.com/sujalsin/enterprisebridge/internal/coreerrors"
	"github.com/sujalsin/enterprisebridge/internal/crypto"
	"github.com/sujalsin/enterprisebridge/internal/models"
	"gopkg.in/yaml.v3"
)

// Resolver maps an opaque inbox id to upstream credentials. Implementations
// must not perform I/O beyond reading their backing config, and must never
// return credentials whose OAuth token has already expired (§4.1).
type Resolver interface {
	Resolve(inboxID string) (models.Credentials, error)
}

// entry is the on-disk shape of one inbox's credentials in the credentials
// file. EncryptedSecret is base64-free raw bytes produced by crypto.Encryptor
// and stored as a YAML byte string; Secret is an escape hatch for
// development setups that don't want to bother with encryption at rest.
type entry struct {
	Host            string    `yaml:"host"`
	Port            int       `yaml:"port"`
	User            string    `yaml:"user"`
	AuthKind        string    `yaml:"auth_kind"`
	Secret          string    `yaml:"secret,omitempty"`
	EncryptedSecret []byte    `yaml:"encrypted_secret,omitempty"`
	TokenExpiresAt  time.Time `yaml:"token_expires_at,omitempty"`
}

// StaticResolver is a Resolver backed by a YAML file loaded once at startup.
// Per §4.1, "no caching beyond the underlying config" — the parsed map IS
// the config, read fresh at construction time and never refetched.
type StaticResolver struct {
	entries   map[string]entry
	encryptor *crypto.Encryptor // nil if no credentials in the file are encrypted
}

// NewStaticResolver loads inbox->credentials mappings from path. encryptor
// may be nil; it is only required if any entry sets encrypted_secret.
func NewStaticResolver(path string, encryptor *crypto.Encryptor) (*StaticResolver, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("creds: failed to read credentials file: %w", err)
	}

	var parsed map[string]entry
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("creds: failed to parse credentials file: %w", err)
	}

	return &StaticResolver{entries: parsed, encryptor: encryptor}, nil
}

// Resolve implements Resolver.
func (r *StaticResolver) Resolve(inboxID string) (models.Credentials, error) {
	e, ok := r.entries[inboxID]
	if !ok {
		return models.Credentials{}, coreerrors.ErrNotFound
	}

	secret := e.Secret
	if len(e.EncryptedSecret) > 0 {
		if r.encryptor == nil {
			return models.Credentials{}, fmt.Errorf("creds: entry %q has an encrypted secret but no encryption key was configured", inboxID)
		}
		decrypted, err := r.encryptor.Decrypt(e.EncryptedSecret)
		if err != nil {
			return models.Credentials{}, fmt.Errorf("creds: failed to decrypt secret for entry: %w", err)
		}
		secret = decrypted
	}

	authKind := models.AuthKind(e.AuthKind)
	if authKind == "" {
		authKind = models.AuthPassword
	}

	creds := models.Credentials{
		Host:           e.Host,
		Port:           e.Port,
		User:           e.User,
		Secret:         secret,
		AuthKind:       authKind,
		TokenExpiresAt: e.TokenExpiresAt,
	}

	if creds.Expired(time.Now()) {
		return models.Credentials{}, coreerrors.ErrCredentialExpired
	}

	return creds, nil
}
