// Package vault provides reversible, tamper-evident encryption for a
// university credential pair. It performs no I/O and is safe for concurrent
// use; the master key is supplied by the caller and never stored elsewhere.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// KeySize is the required master key length (AES-256).
	KeySize = 32

	ivSize       = 16
	tagDelimiter = ":"
)

// Per-field additional authenticated data. Binding each ciphertext to its
// field name means a stored username ciphertext cannot be replayed as a
// password ciphertext and vice versa.
var (
	aadUsername = []byte("username")
	aadPassword = []byte("password")
)

var (
	// ErrKeyLength is returned when the master key is not KeySize bytes.
	ErrKeyLength = errors.New("vault key must be 32 bytes")

	// ErrTampered is returned when tag verification fails for either field.
	ErrTampered = errors.New("credential ciphertext failed authentication")

	// ErrMalformed is returned when a stored record is structurally invalid
	// (bad base64, wrong IV length, missing tag delimiter).
	ErrMalformed = errors.New("credential record is malformed")
)

// EncryptedPair is the storable form of one credential pair. Both fields are
// encrypted under the same IV but distinct authenticated contexts, producing
// two independent tags joined with a delimiter.
type EncryptedPair struct {
	EncryptedUsername string
	EncryptedPassword string
	AuthTag           string
	IV                string
}

// Vault encrypts and decrypts credential pairs with AES-256-GCM.
type Vault struct {
	aead cipher.AEAD
}

// New creates a Vault from a 32-byte master key.
func New(key []byte) (*Vault, error) {
	if len(key) != KeySize {
		return nil, ErrKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// GenerateKey returns a fresh random master key. Intended for development
// fallback only; a production deployment must configure a persistent key or
// stored credentials become unreadable on restart.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("rand key: %w", err)
	}
	return key, nil
}

// Encrypt encrypts a credential pair. A fresh random IV is generated per call,
// so encrypting identical plaintext twice yields different ciphertext.
func (v *Vault) Encrypt(username, password string) (EncryptedPair, error) {
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return EncryptedPair{}, fmt.Errorf("rand iv: %w", err)
	}

	ctUser, tagUser := v.seal(iv, []byte(username), aadUsername)
	ctPass, tagPass := v.seal(iv, []byte(password), aadPassword)

	return EncryptedPair{
		EncryptedUsername: base64.StdEncoding.EncodeToString(ctUser),
		EncryptedPassword: base64.StdEncoding.EncodeToString(ctPass),
		AuthTag: base64.StdEncoding.EncodeToString(tagUser) + tagDelimiter +
			base64.StdEncoding.EncodeToString(tagPass),
		IV: base64.StdEncoding.EncodeToString(iv),
	}, nil
}

// Decrypt reverses Encrypt. It fails with ErrMalformed when the record is
// structurally invalid and ErrTampered when tag verification fails for either
// field. Decryption never partially succeeds: both fields verify or none do.
func (v *Vault) Decrypt(encryptedUsername, encryptedPassword, authTag, iv string) (username, password string, err error) {
	ivRaw, tagUser, tagPass, err := decodeEnvelope(authTag, iv)
	if err != nil {
		return "", "", err
	}

	ctUser, err := base64.StdEncoding.DecodeString(encryptedUsername)
	if err != nil {
		return "", "", ErrMalformed
	}
	ctPass, err := base64.StdEncoding.DecodeString(encryptedPassword)
	if err != nil {
		return "", "", ErrMalformed
	}

	userPlain, err := v.open(ivRaw, ctUser, tagUser, aadUsername)
	if err != nil {
		return "", "", err
	}
	passPlain, err := v.open(ivRaw, ctPass, tagPass, aadPassword)
	if err != nil {
		return "", "", err
	}

	return string(userPlain), string(passPlain), nil
}

// ValidateStructure reports whether a stored record is structurally decryptable:
// all fields present, valid base64, IV of the right length, and a tag field
// containing exactly two delimited tags. It performs no cryptography, so
// callers can distinguish "never encrypted" from "corrupted".
func ValidateStructure(encryptedUsername, encryptedPassword, authTag, iv string) bool {
	if encryptedUsername == "" || encryptedPassword == "" || authTag == "" || iv == "" {
		return false
	}
	if _, _, _, err := decodeEnvelope(authTag, iv); err != nil {
		return false
	}
	if _, err := base64.StdEncoding.DecodeString(encryptedUsername); err != nil {
		return false
	}
	if _, err := base64.StdEncoding.DecodeString(encryptedPassword); err != nil {
		return false
	}
	return true
}

// seal encrypts plaintext under iv/aad and splits the GCM output into
// ciphertext and tag so the tag can be stored separately.
func (v *Vault) seal(iv, plaintext, aad []byte) (ciphertext, tag []byte) {
	out := v.aead.Seal(nil, iv, plaintext, aad)
	split := len(out) - v.aead.Overhead()
	return out[:split], out[split:]
}

// open reassembles ciphertext||tag and verifies it under iv/aad.
func (v *Vault) open(iv, ciphertext, tag, aad []byte) ([]byte, error) {
	buf := make([]byte, 0, len(ciphertext)+len(tag))
	buf = append(buf, ciphertext...)
	buf = append(buf, tag...)
	plaintext, err := v.aead.Open(nil, iv, buf, aad)
	if err != nil {
		return nil, ErrTampered
	}
	return plaintext, nil
}

// decodeEnvelope decodes and structurally validates the IV and the delimited
// tag pair shared by Decrypt and ValidateStructure.
func decodeEnvelope(authTag, iv string) (ivRaw, tagUser, tagPass []byte, err error) {
	ivRaw, err = base64.StdEncoding.DecodeString(iv)
	if err != nil || len(ivRaw) != ivSize {
		return nil, nil, nil, ErrMalformed
	}

	parts := strings.Split(authTag, tagDelimiter)
	if len(parts) != 2 {
		return nil, nil, nil, ErrMalformed
	}
	tagUser, err = base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, nil, nil, ErrMalformed
	}
	tagPass, err = base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, nil, nil, ErrMalformed
	}
	return ivRaw, tagUser, tagPass, nil
}
