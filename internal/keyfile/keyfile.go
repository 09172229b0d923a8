// Package keyfile implements the bot's own identity key, distinct from
// the per-wallet ECDSA swap-signing keys held in internal/state: an
// Ed25519 key encrypted at rest with a password-derived AES-256-GCM key.
//
// Grounded on original_source/rust_module/src/crypto.rs
// (derive_key_from_password, init_or_load_keys, get_public_key), spec §6's
// "Key file" external concern. Disk layout: salt(16) ‖ nonce(12) ‖
// ciphertext‖tag.
package keyfile

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"

	"crypto/sha256"
)

const (
	saltSize   = 16
	nonceSize  = 12
	iterations = 480000
	keySize    = 32
)

// deriveKey runs PBKDF2-HMAC-SHA256 over password+salt (spec §6).
func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, keySize, sha256.New)
}

// Identity wraps the bot's Ed25519 signing key.
type Identity struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// PublicKeyPEM renders the public key as PEM, for a UI to display/verify
// which engine instance it is talking to (SPEC_FULL.md supplemented
// feature #1, grounded on crypto.rs's get_public_key).
func (id *Identity) PublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(id.Public)
	if err != nil {
		return "", fmt.Errorf("keyfile: marshal public key: %w", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// Generate creates a fresh Ed25519 identity.
func Generate() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keyfile: generate: %w", err)
	}
	return &Identity{Private: priv, Public: pub}, nil
}

// Save encrypts the identity's private key with password and writes the
// salt‖nonce‖ciphertext layout to path.
func Save(path string, password string, id *Identity) error {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("keyfile: salt: %w", err)
	}
	key := deriveKey(password, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("keyfile: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("keyfile: gcm: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("keyfile: nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, id.Private, nil)

	out := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)

	if err := os.WriteFile(path, out, 0600); err != nil {
		return fmt.Errorf("keyfile: write: %w", err)
	}
	return nil
}

// Load decrypts path with password. A wrong password surfaces as a GCM
// authentication failure (spec §6: "decryption failure signals wrong
// password").
func Load(path string, password string) (*Identity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keyfile: read: %w", err)
	}
	if len(raw) < saltSize+nonceSize {
		return nil, fmt.Errorf("keyfile: file too short")
	}

	salt := raw[:saltSize]
	nonce := raw[saltSize : saltSize+nonceSize]
	ciphertext := raw[saltSize+nonceSize:]

	key := deriveKey(password, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("keyfile: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keyfile: gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("keyfile: wrong password or corrupt file: %w", err)
	}

	priv := ed25519.PrivateKey(plaintext)
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{Private: priv, Public: pub}, nil
}

// LoadOrGenerate loads path if it exists, otherwise generates and saves a
// fresh identity (grounded on crypto.rs's init_or_load_keys).
func LoadOrGenerate(path string, password string) (*Identity, error) {
	if _, err := os.Stat(path); err == nil {
		return Load(path, password)
	}
	id, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := Save(path, password, id); err != nil {
		return nil, err
	}
	return id, nil
}
