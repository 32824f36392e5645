package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"os"

	"golang.org/x/crypto/nacl/secretbox"
)

var ErrCredentialSecret = errors.New("CREDENTIAL_SECRET is not set")

// credentialKey derives the 32-byte secretbox key from CREDENTIAL_SECRET.
func credentialKey() (*[32]byte, error) {
	secret := os.Getenv("CREDENTIAL_SECRET")
	if secret == "" {
		return nil, ErrCredentialSecret
	}
	key := sha256.Sum256([]byte(secret))
	return &key, nil
}

// EncryptCredential seals plaintext with a random nonce and returns
// base64(nonce || ciphertext) for storage in mail_credentials.app_password.
func EncryptCredential(plaintext string) (string, error) {
	key, err := credentialKey()
	if err != nil {
		return "", err
	}

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}

	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptCredential reverses EncryptCredential. Tampered or truncated input
// fails, it never returns garbage plaintext.
func DecryptCredential(encoded string) (string, error) {
	key, err := credentialKey()
	if err != nil {
		return "", err
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", errors.New("credential is not valid base64")
	}
	if len(sealed) < 24 {
		return "", errors.New("credential ciphertext too short")
	}

	var nonce [24]byte
	copy(nonce[:], sealed[:24])

	plaintext, ok := secretbox.Open(nil, sealed[24:], &nonce, key)
	if !ok {
		return "", errors.New("credential decryption failed")
	}
	return string(plaintext), nil
}
