package archive

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

var (
	ErrSealed        = errors.New("archive: sealed, passphrase required")
	ErrBadPassphrase = errors.New("archive: wrong passphrase or tampered data")
)

var sealMagic = []byte("NBSA")

const (
	saltSize    = 16
	kdfRounds   = 4096
	sealVersion = 1
)

// IsSealed reports whether data was produced by Seal.
func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, sealMagic)
}

// Seal encrypts data with a key derived from passphrase. The layout is
// magic, version, salt, nonce, ciphertext.
func Seal(data []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	aead, err := chacha20poly1305.New(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	header := make([]byte, 0, len(sealMagic)+1+saltSize+len(nonce))
	header = append(header, sealMagic...)
	header = append(header, sealVersion)
	header = append(header, salt...)
	header = append(header, nonce...)

	return aead.Seal(header, nonce, data, header[:len(sealMagic)+1]), nil
}

// Open reverses Seal. Data that is not sealed is returned unchanged.
func Open(data []byte, passphrase string) ([]byte, error) {
	if !IsSealed(data) {
		return data, nil
	}

	prefix := len(sealMagic) + 1
	if len(data) < prefix+saltSize+chacha20poly1305.NonceSize+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("%w: sealed data too short", ErrCorrupt)
	}
	if data[len(sealMagic)] != sealVersion {
		return nil, fmt.Errorf("%w: unknown seal version %d", ErrCorrupt, data[len(sealMagic)])
	}

	salt := data[prefix : prefix+saltSize]
	nonce := data[prefix+saltSize : prefix+saltSize+chacha20poly1305.NonceSize]
	ciphertext := data[prefix+saltSize+chacha20poly1305.NonceSize:]

	aead, err := chacha20poly1305.New(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	plain, err := aead.Open(nil, nonce, ciphertext, data[:prefix])
	if err != nil {
		return nil, ErrBadPassphrase
	}
	return plain, nil
}

func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, kdfRounds, chacha20poly1305.KeySize, sha256.New)
}
