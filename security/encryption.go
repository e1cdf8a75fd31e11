package security

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ErrDecryptionFailed is returned when ciphertext cannot be authenticated,
// typically because the wrong key was used. It is never accompanied by
// partial plaintext.
var ErrDecryptionFailed = errors.New("security: decryption failed")

// ErrInvalidKey is returned when a master key is not 32 bytes.
var ErrInvalidKey = errors.New("security: master key must be 32 bytes")

// KeyProvider supplies the master encryption key. Making key retrieval an
// explicit dependency keeps rotation and testing straightforward.
type KeyProvider interface {
	// MasterKey returns the current 32-byte master key.
	MasterKey(ctx context.Context) ([]byte, error)
}

// StaticKeyProvider serves a fixed master key.
type StaticKeyProvider struct {
	key []byte
}

// NewStaticKeyProvider creates a provider for a fixed 32-byte key.
func NewStaticKeyProvider(key []byte) (*StaticKeyProvider, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	cp := make([]byte, len(key))
	copy(cp, key)
	return &StaticKeyProvider{key: cp}, nil
}

// MasterKey returns the fixed key.
func (p *StaticKeyProvider) MasterKey(_ context.Context) ([]byte, error) {
	return p.key, nil
}

// Encryptor handles token encryption at rest using AES-256-GCM. The actual
// cipher key is derived from the master key with HKDF, bound to a purpose
// label so keys for different uses never collide.
type Encryptor struct {
	provider KeyProvider
	purpose  string
}

// NewEncryptor creates an encryptor bound to the "token-encryption" purpose.
func NewEncryptor(provider KeyProvider) (*Encryptor, error) {
	if provider == nil {
		return nil, fmt.Errorf("security: key provider is required")
	}
	return &Encryptor{provider: provider, purpose: "fedauth/token-encryption"}, nil
}

// deriveKey expands the master key into the purpose-bound cipher key.
func (e *Encryptor) deriveKey(ctx context.Context) ([]byte, error) {
	master, err := e.provider.MasterKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("retrieve master key: %w", err)
	}
	if len(master) != 32 {
		return nil, ErrInvalidKey
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, master, nil, []byte(e.purpose))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// Encrypt encrypts plaintext using AES-256-GCM and returns base64-encoded
// ciphertext with the GCM nonce prepended.
func (e *Encryptor) Encrypt(ctx context.Context, plaintext string) (string, error) {
	key, err := e.deriveKey(ctx)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	// Seal prepends the nonce by using the nonce slice as destination,
	// producing the storage format [nonce][ciphertext].
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts base64-encoded ciphertext. A wrong key yields
// ErrDecryptionFailed, never garbage plaintext.
func (e *Encryptor) Decrypt(ctx context.Context, encoded string) (string, error) {
	key, err := e.deriveKey(ctx)
	if err != nil {
		return "", err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	if len(ciphertext) < gcm.NonceSize() {
		return "", ErrDecryptionFailed
	}
	nonce, data := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, data, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// GenerateKey generates a new 32-byte master key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// KeyFromBase64 decodes a base64-encoded 32-byte master key.
func KeyFromBase64(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64 key: %w", err)
	}
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	return key, nil
}
