package security

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
)

func newTestEncryptor(t *testing.T) *Encryptor {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	provider, err := NewStaticKeyProvider(key)
	if err != nil {
		t.Fatalf("NewStaticKeyProvider() error = %v", err)
	}
	enc, err := NewEncryptor(provider)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}
	return enc
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	ctx := context.Background()
	enc := newTestEncryptor(t)

	plaintexts := []string{
		"",
		"short",
		"an access token with some length: eyJhbGciOiJSUzI1NiJ9.payload.signature",
	}
	for _, plaintext := range plaintexts {
		encrypted, err := enc.Encrypt(ctx, plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q) error = %v", plaintext, err)
		}
		if encrypted == plaintext && plaintext != "" {
			t.Errorf("ciphertext equals plaintext %q", plaintext)
		}

		decrypted, err := enc.Decrypt(ctx, encrypted)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if decrypted != plaintext {
			t.Errorf("Decrypt() = %q, want %q", decrypted, plaintext)
		}
	}
}

func TestEncryptNonDeterministic(t *testing.T) {
	ctx := context.Background()
	enc := newTestEncryptor(t)

	a, _ := enc.Encrypt(ctx, "same plaintext")
	b, _ := enc.Encrypt(ctx, "same plaintext")
	if a == b {
		t.Error("two encryptions of the same plaintext are identical")
	}
}

func TestDecryptWrongKey(t *testing.T) {
	ctx := context.Background()
	enc1 := newTestEncryptor(t)
	enc2 := newTestEncryptor(t)

	encrypted, err := enc1.Encrypt(ctx, "secret")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if _, err := enc2.Decrypt(ctx, encrypted); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Decrypt() with wrong key error = %v, want ErrDecryptionFailed", err)
	}
}

func TestDecryptMalformed(t *testing.T) {
	ctx := context.Background()
	enc := newTestEncryptor(t)

	t.Run("invalid base64", func(t *testing.T) {
		if _, err := enc.Decrypt(ctx, "not-valid-base64!!!"); err == nil {
			t.Error("Decrypt() succeeded on invalid base64")
		}
	})

	t.Run("too short for nonce", func(t *testing.T) {
		short := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
		if _, err := enc.Decrypt(ctx, short); !errors.Is(err, ErrDecryptionFailed) {
			t.Errorf("Decrypt() error = %v, want ErrDecryptionFailed", err)
		}
	})

	t.Run("tampered ciphertext", func(t *testing.T) {
		encrypted, _ := enc.Encrypt(ctx, "secret")
		raw, _ := base64.StdEncoding.DecodeString(encrypted)
		raw[len(raw)-1] ^= 0xff
		tampered := base64.StdEncoding.EncodeToString(raw)
		if _, err := enc.Decrypt(ctx, tampered); !errors.Is(err, ErrDecryptionFailed) {
			t.Errorf("Decrypt() error = %v, want ErrDecryptionFailed", err)
		}
	})
}

func TestStaticKeyProvider(t *testing.T) {
	if _, err := NewStaticKeyProvider(make([]byte, 16)); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("NewStaticKeyProvider(16 bytes) error = %v, want ErrInvalidKey", err)
	}

	key, _ := GenerateKey()
	provider, err := NewStaticKeyProvider(key)
	if err != nil {
		t.Fatalf("NewStaticKeyProvider() error = %v", err)
	}

	// The provider holds its own copy; mutating the caller's slice must
	// not change the served key.
	key[0] ^= 0xff
	got, _ := provider.MasterKey(context.Background())
	if got[0] == key[0] {
		t.Error("provider key aliases the caller's slice")
	}
}

func TestKeyFromBase64(t *testing.T) {
	key, _ := GenerateKey()
	encoded := base64.StdEncoding.EncodeToString(key)

	decoded, err := KeyFromBase64(encoded)
	if err != nil {
		t.Fatalf("KeyFromBase64() error = %v", err)
	}
	if string(decoded) != string(key) {
		t.Error("decoded key differs from original")
	}

	if _, err := KeyFromBase64(base64.StdEncoding.EncodeToString([]byte("short"))); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("KeyFromBase64(short) error = %v, want ErrInvalidKey", err)
	}
	if _, err := KeyFromBase64("%%%"); err == nil {
		t.Error("KeyFromBase64(invalid) succeeded")
	}
}
