package testutil

import (
	"encoding/base64"
	"testing"

	"github.com/vdavid/mailsync/internal/crypto"
)

// TestEncryptionKey is a deterministic base64 key (bytes 0..31) shared by test packages.
var TestEncryptionKey = func() string {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return base64.StdEncoding.EncodeToString(key)
}()

// GetTestEncryptor returns an Encryptor built from TestEncryptionKey.
func GetTestEncryptor(t *testing.T) *crypto.Encryptor {
	t.Helper()

	encryptor, err := crypto.NewEncryptor(TestEncryptionKey)
	if err != nil {
		t.Fatalf("Failed to create encryptor: %v", err)
	}
	return encryptor
}
