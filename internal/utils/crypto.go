package utils

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"os"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// SecretBox encrypts short strings for storage at rest. Output is
// base64(nonce || box); the key is 32 bytes.
type SecretBox struct {
	key [32]byte
}

func NewSecretBox(key []byte) (*SecretBox, error) {
	if len(key) != 32 {
		return nil, errors.New("secretbox key must be 32 bytes")
	}
	var s SecretBox
	copy(s.key[:], key)
	return &s, nil
}

// NewSecretBoxFromEnv reads TRANSCRIPT_KEY (base64, 32 bytes decoded).
// Returns nil without error when the variable is unset; callers treat a nil
// box as store-plaintext.
func NewSecretBoxFromEnv() (*SecretBox, error) {
	raw := os.Getenv("TRANSCRIPT_KEY")
	if raw == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, errors.New("TRANSCRIPT_KEY is not valid base64")
	}
	return NewSecretBox(key)
}

func (s *SecretBox) Encrypt(plain string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}
	out := secretbox.Seal(nonce[:], []byte(plain), &nonce, &s.key)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (s *SecretBox) Decrypt(enc string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return "", err
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return "", errors.New("ciphertext too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", errors.New("ciphertext authentication failed")
	}
	return string(plain), nil
}
