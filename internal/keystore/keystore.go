// Package keystore provides per-user signing key material for KSeF
// session initialization. Keys are PEM files kept under a root
// directory, optionally encrypted at rest with AES-256-GCM using a
// PBKDF2-derived key.
package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"
)

const (
	keyFileName = "private_key.pem"

	saltLength       = 64
	ivLength         = 16
	tagLength        = 16
	pbkdf2Iterations = 100000
)

// ErrKeyNotFound is returned when no key material exists for a reference
var ErrKeyNotFound = errors.New("keystore: key material not found")

// Provider returns PEM-encoded signing key bytes for an opaque per-user
// reference.
type Provider interface {
	PrivateKey(ref string) ([]byte, error)
}

// FileStore keeps key material under root/<ref>/private_key.pem.
// With a non-empty passphrase the file content is an encrypted hex blob
// (salt || iv || tag || ciphertext); otherwise plain PEM.
type FileStore struct {
	root       string
	passphrase []byte
}

// NewFileStore creates a store rooted at dir. passphrase may be empty
// for plaintext storage (test environments only).
func NewFileStore(dir, passphrase string) *FileStore {
	return &FileStore{
		root:       dir,
		passphrase: []byte(passphrase),
	}
}

// Store writes key material and returns the reference it was stored
// under. An empty ref allocates a fresh one.
func (s *FileStore) Store(ref string, keyPEM []byte) (string, error) {
	if ref == "" {
		ref = uuid.NewString()
	}

	dir := filepath.Join(s.root, ref)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("keystore: create key directory: %w", err)
	}

	data := keyPEM
	if len(s.passphrase) > 0 {
		blob, err := s.encrypt(keyPEM)
		if err != nil {
			return "", err
		}
		data = blob
	}

	if err := os.WriteFile(filepath.Join(dir, keyFileName), data, 0o600); err != nil {
		return "", fmt.Errorf("keystore: write key material: %w", err)
	}
	return ref, nil
}

// PrivateKey loads and, if needed, decrypts the key material for ref.
func (s *FileStore) PrivateKey(ref string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, ref, keyFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, ref)
		}
		return nil, fmt.Errorf("keystore: read key material: %w", err)
	}

	if len(s.passphrase) == 0 {
		return data, nil
	}
	return s.decrypt(data)
}

// Delete removes the key material for ref. Missing material is not an error.
func (s *FileStore) Delete(ref string) error {
	err := os.RemoveAll(filepath.Join(s.root, ref))
	if err != nil {
		return fmt.Errorf("keystore: delete key material: %w", err)
	}
	return nil
}

func (s *FileStore) deriveKey(salt []byte) []byte {
	return pbkdf2.Key(s.passphrase, salt, pbkdf2Iterations, 32, sha512.New)
}

func (s *FileStore) encrypt(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("keystore: generate salt: %w", err)
	}
	iv := make([]byte, ivLength)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("keystore: generate iv: %w", err)
	}

	gcm, err := newGCM(s.deriveKey(salt))
	if err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ciphertext := sealed[:len(sealed)-tagLength]
	tag := sealed[len(sealed)-tagLength:]

	blob := make([]byte, 0, saltLength+ivLength+tagLength+len(ciphertext))
	blob = append(blob, salt...)
	blob = append(blob, iv...)
	blob = append(blob, tag...)
	blob = append(blob, ciphertext...)

	out := make([]byte, hex.EncodedLen(len(blob)))
	hex.Encode(out, blob)
	return out, nil
}

func (s *FileStore) decrypt(encoded []byte) ([]byte, error) {
	blob := make([]byte, hex.DecodedLen(len(encoded)))
	if _, err := hex.Decode(blob, encoded); err != nil {
		return nil, fmt.Errorf("keystore: malformed key blob: %w", err)
	}
	if len(blob) < saltLength+ivLength+tagLength {
		return nil, errors.New("keystore: key blob too short")
	}

	salt := blob[:saltLength]
	iv := blob[saltLength : saltLength+ivLength]
	tag := blob[saltLength+ivLength : saltLength+ivLength+tagLength]
	ciphertext := blob[saltLength+ivLength+tagLength:]

	gcm, err := newGCM(s.deriveKey(salt))
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(ciphertext)+tagLength)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("keystore: decrypt key material: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("keystore: init cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivLength)
	if err != nil {
		return nil, fmt.Errorf("keystore: init gcm: %w", err)
	}
	return gcm, nil
}
