package vault

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

var errDecrypt = errors.New("vault: key check failed, wrong passphrase")

// Key sizing mirrors the teacher's pkg/crypto/crypto.go: a 32-byte key
// derived with Argon2id, used here both to produce the raw SQLCipher key
// (PRAGMA key = x'...') from a user passphrase and to seal a small
// passphrase-check blob stored alongside the vault so Open can report a
// wrong passphrase without first paying for a failed SQLCipher open.
const (
	KeySize   = 32
	NonceSize = 24 // XChaCha20 nonce size
	SaltSize  = 16
)

// Key is a derived 32-byte SQLCipher/AEAD key.
type Key [KeySize]byte

// HexRawKey renders k as the `x'...'` raw-key literal SQLCipher's
// `PRAGMA key` accepts, bypassing its own internal PBKDF2 pass since the
// vault already derives the key itself with Argon2id.
func (k Key) HexRawKey() string {
	return fmt.Sprintf("\"x'%s'\"", hex.EncodeToString(k[:]))
}

// GenerateSalt returns a fresh random salt for DeriveKey.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// DeriveKey derives a 32-byte key from a passphrase and salt using
// Argon2id with OWASP-recommended parameters (3 passes, 64 MiB, 2
// threads), exactly as the teacher's crypto.DeriveKey.
func DeriveKey(passphrase, salt []byte) Key {
	var k Key
	dk := argon2.IDKey(passphrase, salt, 3, 64*1024, 2, KeySize)
	copy(k[:], dk)
	return k
}

// sealCheck encrypts a fixed marker under key so a later Open can detect a
// wrong passphrase with an AEAD failure instead of an opaque SQLCipher
// "file is not a database" error.
func sealCheck(key Key) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceSize, NonceSize+len(checkMarker)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, checkMarker, nil), nil
}

func openCheck(key Key, sealed []byte) error {
	if len(sealed) < NonceSize {
		return errDecrypt
	}
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return err
	}
	nonce, ciphertext := sealed[:NonceSize], sealed[NonceSize:]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return errDecrypt
	}
	if string(plain) != string(checkMarker) {
		return errDecrypt
	}
	return nil
}

var checkMarker = []byte("haexvault-key-check-v1")
