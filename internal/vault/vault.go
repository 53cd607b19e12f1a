// Package vault implements password-based protection of wallet secrets:
// PBKDF2 password verification and AES-GCM authenticated encryption of a
// single secret (mnemonic phrase or raw signing key).
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// Key derivation and format constants.
const (
	// PBKDF2Iterations is deliberately slow to resist offline guessing.
	PBKDF2Iterations = 100_000

	SaltSize  = 16
	NonceSize = 12
	TagSize   = 16
	KeySize   = 32
)

// ErrInvalidPasswordOrCorruptData is the single error for every decrypt
// failure. Wrong password, truncated blob and tag mismatch are deliberately
// indistinguishable so the error is not an oracle.
var ErrInvalidPasswordOrCorruptData = errors.New("invalid password or corrupt data")

// EncryptedSecret wraps exactly one secret value at rest. All fields are
// opaque byte blobs; JSON encoding base64s them.
type EncryptedSecret struct {
	Ciphertext []byte `json:"ciphertext"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"iv"`
	Tag        []byte `json:"tag"`
}

// deriveKey stretches a password into a 256-bit key.
func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, KeySize, sha256.New)
}

// HashPassword derives the verification hash for a password. When salt is
// nil a fresh random 16-byte salt is generated.
func HashPassword(password string, salt []byte) (hash, usedSalt []byte, err error) {
	if salt == nil {
		salt = make([]byte, SaltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, nil, fmt.Errorf("generate salt: %w", err)
		}
	}
	return deriveKey(password, salt), salt, nil
}

// VerifyPassword re-derives the hash and compares in constant time. The
// error path sleeps briefly so failures are not distinguishable from
// mismatches by timing.
func VerifyPassword(password string, storedHash, storedSalt []byte) bool {
	if len(storedHash) != KeySize || len(storedSalt) == 0 {
		time.Sleep(50 * time.Millisecond)
		return false
	}
	derived := deriveKey(password, storedSalt)
	return subtle.ConstantTimeCompare(derived, storedHash) == 1
}

// Encrypt seals plaintext under a password-derived AES-256-GCM key with a
// fresh salt and nonce. The 16-byte authentication tag is carried
// separately from the ciphertext.
func Encrypt(plaintext, password string) (*EncryptedSecret, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	key := deriveKey(password, salt)
	defer zero(key)

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	split := len(sealed) - TagSize
	return &EncryptedSecret{
		Ciphertext: sealed[:split],
		Salt:       salt,
		Nonce:      nonce,
		Tag:        sealed[split:],
	}, nil
}

// Decrypt opens an EncryptedSecret. Every failure mode returns
// ErrInvalidPasswordOrCorruptData.
func Decrypt(sec *EncryptedSecret, password string) (string, error) {
	if sec == nil || len(sec.Nonce) != NonceSize || len(sec.Tag) != TagSize {
		return "", ErrInvalidPasswordOrCorruptData
	}

	key := deriveKey(password, sec.Salt)
	defer zero(key)

	aead, err := newGCM(key)
	if err != nil {
		return "", ErrInvalidPasswordOrCorruptData
	}

	sealed := make([]byte, 0, len(sec.Ciphertext)+len(sec.Tag))
	sealed = append(sealed, sec.Ciphertext...)
	sealed = append(sealed, sec.Tag...)

	plaintext, err := aead.Open(nil, sec.Nonce, sealed, nil)
	if err != nil {
		return "", ErrInvalidPasswordOrCorruptData
	}
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
