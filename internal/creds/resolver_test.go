package creds

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sujalsin/enterprisebridge/internal/coreerrors"
	"github.com/sujalsin/enterprisebridge/internal/models"
	"github.com/sujalsin/enterprisebridge/internal/testutil"
)

func writeCredentialsFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestResolvePlainSecret(t *testing.T) {
	path := writeCredentialsFile(t, `
alice@example.com:
  host: imap.example.com
  port: 993
  user: alice@example.com
  secret: s3cr3t
  auth_kind: password
`)
	r, err := NewStaticResolver(path, nil)
	require.NoError(t, err)

	cred, err := r.Resolve("alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", cred.Secret)
	assert.Equal(t, models.AuthPassword, cred.AuthKind)
}

func TestResolveEncryptedSecretRoundtrips(t *testing.T) {
	encryptor := testutil.GetTestEncryptor(t)
	encrypted, err := encryptor.Encrypt("top-secret-token")
	require.NoError(t, err)

	path := writeCredentialsFile(t, `
bob@example.com:
  host: smtp.example.com
  port: 587
  user: bob@example.com
  encrypted_secret: `+base64.StdEncoding.EncodeToString(encrypted)+`
  auth_kind: oauth_bearer
`)
	r, err := NewStaticResolver(path, encryptor)
	require.NoError(t, err)

	cred, err := r.Resolve("bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, "top-secret-token", cred.Secret)
	assert.Equal(t, models.AuthOAuthBearer, cred.AuthKind)
}

func TestResolveEncryptedSecretWithoutEncryptorFails(t *testing.T) {
	path := writeCredentialsFile(t, `
bob@example.com:
  host: smtp.example.com
  port: 587
  user: bob@example.com
  encrypted_secret: `+base64.StdEncoding.EncodeToString([]byte("irrelevant"))+`
`)
	r, err := NewStaticResolver(path, nil)
	require.NoError(t, err)

	_, err = r.Resolve("bob@example.com")
	assert.Error(t, err)
}

func TestResolveUnknownInboxReturnsNotFound(t *testing.T) {
	path := writeCredentialsFile(t, `{}`)
	r, err := NewStaticResolver(path, nil)
	require.NoError(t, err)

	_, err = r.Resolve("ghost@example.com")
	assert.ErrorIs(t, err, coreerrors.ErrNotFound)
}

func TestResolveExpiredOAuthTokenReturnsExpired(t *testing.T) {
	path := writeCredentialsFile(t, `
carol@example.com:
  host: imap.example.com
  port: 993
  user: carol@example.com
  secret: token
  auth_kind: oauth_bearer
  token_expires_at: `+time.Now().Add(-time.Hour).Format(time.RFC3339)+`
`)
	r, err := NewStaticResolver(path, nil)
	require.NoError(t, err)

	_, err = r.Resolve("carol@example.com")
	assert.ErrorIs(t, err, coreerrors.ErrCredentialExpired)
}
