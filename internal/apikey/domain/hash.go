package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
)

const (
	// KeyPrefix marks every plaintext key so middleware can reject
	// malformed credentials before touching storage.
	KeyPrefix = "plk_live_"

	keySecretBytes = 32
)

// HashAPIKey hashes the raw API key using the same strategy as key creation.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// NewKeyID derives the public key identifier from a snowflake ID.
func NewKeyID(id snowflake.ID) string {
	return "key_" + strings.ToUpper(strconv.FormatInt(int64(id), 36))
}

// MintKey generates a plaintext API key for keyID and returns it with its
// hash. The plaintext is shown to the caller once and never stored.
func MintKey(keyID string) (plain string, hash string, err error) {
	secret := make([]byte, keySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", "", err
	}

	secretPart := hex.EncodeToString(secret)
	trimmed := strings.TrimPrefix(keyID, "key_")
	plain = fmt.Sprintf("%s%s_%s", KeyPrefix, trimmed, secretPart)
	return plain, HashAPIKey(plain), nil
}
