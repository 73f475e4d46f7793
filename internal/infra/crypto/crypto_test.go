package crypto_test

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"telegram-bdintel/internal/infra/crypto"
)

func newTestCipher(t *testing.T) *crypto.Cipher {
	t.Helper()

	raw, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	c, err := crypto.NewCipher(crypto.EncodeKey(raw))
	if err != nil {
		t.Fatalf("NewCipher() error: %v", err)
	}
	return c
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	c := newTestCipher(t)

	cases := []struct {
		name string
		size int
	}{
		{name: "empty", size: 0},
		{name: "short", size: 7},
		{name: "kilobyte", size: 1 << 10},
		{name: "megabyte", size: 1 << 20},
	}

	rng := rand.New(rand.NewSource(42))
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			plaintext := make([]byte, tc.size)
			rng.Read(plaintext)

			ciphertext, err := c.Encrypt(plaintext)
			if err != nil {
				t.Fatalf("Encrypt() error: %v", err)
			}
			if tc.size > 0 && bytes.Contains(ciphertext, plaintext) {
				t.Fatal("ciphertext contains plaintext")
			}

			got, err := c.Decrypt(ciphertext)
			if err != nil {
				t.Fatalf("Decrypt() error: %v", err)
			}
			if !bytes.Equal(got, plaintext) {
				t.Fatal("round trip mismatch")
			}
		})
	}
}

func TestDecryptCorruptedInput(t *testing.T) {
	t.Parallel()

	c := newTestCipher(t)

	ciphertext, err := c.Encrypt([]byte("need investment urgently"))
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}

	// Повреждаем последний байт (аутентификационный тег).
	ciphertext[len(ciphertext)-1] ^= 0xFF
	if _, err = c.Decrypt(ciphertext); !errors.Is(err, crypto.ErrDecrypt) {
		t.Fatalf("Decrypt(corrupt) = %v, want ErrDecrypt", err)
	}

	// Слишком короткий вход.
	if _, err = c.Decrypt([]byte{1, 2, 3}); !errors.Is(err, crypto.ErrDecrypt) {
		t.Fatalf("Decrypt(short) = %v, want ErrDecrypt", err)
	}
}

func TestNewCipherInvalidKey(t *testing.T) {
	t.Parallel()

	cases := []string{"", "not-base64!!!", "c2hvcnQ="}
	for _, key := range cases {
		if _, err := crypto.NewCipher(key); !errors.Is(err, crypto.ErrKeyInvalid) {
			t.Fatalf("NewCipher(%q) = %v, want ErrKeyInvalid", key, err)
		}
	}
}

func TestLoadGeneratesAndPersistsKey(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "core.key")

	t.Setenv(crypto.EnvKeyName, "")

	first, err := crypto.Load("", keyPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if _, err = os.Stat(keyPath); err != nil {
		t.Fatalf("key file not persisted: %v", err)
	}

	// Повторная загрузка должна использовать тот же ключ с диска.
	second, err := crypto.Load("", keyPath)
	if err != nil {
		t.Fatalf("Load() second error: %v", err)
	}

	ciphertext, err := first.Encrypt([]byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	got, err := second.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt() with reloaded key error: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("reloaded key decrypted %q, want %q", got, "hello")
	}
}
