package testutil

import (
	"encoding/base64"
	"testing"

	"github.com/sujalsin/enterprisebridge/internal/crypto"
)

// GetTestEncryptor creates a test encryptor with a deterministic key, shared
// across packages (e.g. internal/creds) that need to exercise the
// encrypted_secret path without generating a random key per test.
func GetTestEncryptor(t *testing.T) *crypto.Encryptor {
	t.Helper()

	// Fixed deterministic key so encrypted fixtures are reproducible across runs.
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	base64Key := base64.StdEncoding.EncodeToString(key)

	encryptor, err := crypto.NewEncryptor(base64Key)
	if err != nil {
		t.Fatalf("Failed to create encryptor: %v", err)
	}
	return encryptor
}
