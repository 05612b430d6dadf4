package util

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

func HashPassword(plaintext string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(plaintext), 14)
	if err != nil {
		return "", fmt.Errorf("cannot hash password: %w", err)
	}
	return base64.StdEncoding.EncodeToString(bytes), nil
}

func VerifyHash(base64Hash string, plaintext string) (bool, error) {
	hash, err := base64.StdEncoding.DecodeString(base64Hash)
	if err != nil {
		return false, fmt.Errorf("cannot decode base64 hash: %w", err)
	}
	err = bcrypt.CompareHashAndPassword(hash, []byte(plaintext))
	if err == bcrypt.ErrMismatchedHashAndPassword {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cannot verify password: %w", err)
	}
	return true, nil
}

// VerifyAPIKey checks a presented key against the configured plain key or
// bcrypt hash. With neither configured every request is accepted.
func VerifyAPIKey(presented string) bool {
	if APIKeyHash != "" {
		ok, err := VerifyHash(APIKeyHash, presented)
		return err == nil && ok
	}
	if APIKey != "" {
		return subtle.ConstantTimeCompare([]byte(APIKey), []byte(presented)) == 1
	}
	return true
}

// GenerateAPIKey returns a random key together with its hash for API_KEY_HASH.
func GenerateAPIKey() (key string, hash string, err error) {
	k, err := wgtypes.GenerateKey()
	if err != nil {
		return "", "", fmt.Errorf("cannot generate api key: %w", err)
	}
	key = strings.TrimRight(strings.NewReplacer("+", "-", "/", "_").Replace(k.String()), "=")
	hash, err = HashPassword(key)
	if err != nil {
		return "", "", err
	}
	return key, hash, nil
}
