package account

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/scrypt"
	"golang.org/x/text/unicode/norm"

	"github.com/alexjbarnes/oidcd/internal/secret"
)

const (
	// scryptN is the CPU/memory cost parameter for scrypt key derivation (2^15).
	scryptN = 32768

	// scryptR is the block size parameter for scrypt key derivation.
	scryptR = 8

	// scryptP is the parallelization parameter for scrypt key derivation.
	scryptP = 1

	// keyLen is the sealing key length in bytes.
	keyLen = 32

	// saltLen is the per-lock random salt length in bytes.
	saltLen = 16
)

// DeriveKey derives a 32-byte sealing key from a lock password and salt
// using scrypt (N=32768, r=8, p=1). The password is normalized to NFKC
// before hashing so the same passphrase typed on different systems
// derives the same key.
func DeriveKey(password string, salt []byte) ([]byte, error) {
	password = norm.NFKC.String(password)

	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return key, nil
}

// NewSalt returns a fresh random salt for DeriveKey.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// Sealer encrypts and decrypts secret fields with AES-256-GCM. Sealed
// form is [12-byte nonce][ciphertext+tag] with a fresh random nonce per
// seal, so equal plaintexts never produce equal ciphertexts.
type Sealer struct {
	gcm cipher.AEAD
}

// NewSealer creates a sealer from a 32-byte key. The key slice is wiped
// before returning; the cipher retains its own schedule internally.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != keyLen {
		return nil, fmt.Errorf("invalid key length %d: expected %d bytes", len(key), keyLen)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	secret.Zero(key)

	return &Sealer{gcm: gcm}, nil
}

// NewRandomSealer creates a sealer with a fresh random key. Used as the
// per-process sealer secrets rest under between operations.
func NewRandomSealer() (*Sealer, error) {
	key := make([]byte, keyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating sealing key: %w", err)
	}
	return NewSealer(key)
}

// Seal encrypts plain. The input buffer is not modified.
func (s *Sealer) Seal(plain []byte) ([]byte, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	ct := s.gcm.Seal(nil, nonce, plain, nil)
	out := make([]byte, len(nonce)+len(ct))
	copy(out, nonce)
	copy(out[len(nonce):], ct)
	return out, nil
}

// Open decrypts a sealed blob. Authentication failure is how a wrong
// unlock password surfaces.
func (s *Sealer) Open(blob []byte) ([]byte, error) {
	nonceSize := s.gcm.NonceSize()
	if len(blob) < nonceSize {
		return nil, fmt.Errorf("sealed blob too short: %d bytes", len(blob))
	}

	plain, err := s.gcm.Open(nil, blob[:nonceSize], blob[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("opening sealed blob: %w", err)
	}
	return plain, nil
}
