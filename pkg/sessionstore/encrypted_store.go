package sessionstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"

	"igcrawl/pkg/session"
)

const (
	saltSize   = 32
	keySize    = 32
	iterations = 100000
)

// EncryptedFileStore persists session bundles in a single AES-GCM
// encrypted file, with the key derived from a passphrase via PBKDF2.
type EncryptedFileStore struct {
	filepath   string
	passphrase string
}

// encryptedFile is the on-disk structure.
type encryptedFile struct {
	Salt      string `json:"salt"`
	Encrypted string `json:"encrypted"`
}

// NewEncryptedFileStore creates a store at filePath with the given
// passphrase.
func NewEncryptedFileStore(filePath, passphrase string) (*EncryptedFileStore, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase is required")
	}
	dir := filepath.Dir(filePath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	return &EncryptedFileStore{filepath: filePath, passphrase: passphrase}, nil
}

// Store saves a bundle into the encrypted file.
func (e *EncryptedFileStore) Store(bundle *session.Bundle) error {
	if bundle == nil || bundle.Username == "" {
		return ErrInvalidBundle
	}

	bundles, err := e.load()
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load existing sessions: %w", err)
	}
	if bundles == nil {
		bundles = make(map[string]session.Bundle)
	}
	bundles[bundle.Username] = *bundle

	return e.save(bundles)
}

// Retrieve gets a bundle from the encrypted file.
func (e *EncryptedFileStore) Retrieve(username string) (*session.Bundle, error) {
	if username == "" {
		return nil, ErrInvalidBundle
	}
	bundles, err := e.load()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	bundle, ok := bundles[username]
	if !ok {
		return nil, ErrNotFound
	}
	return &bundle, nil
}

// Delete removes a bundle from the encrypted file.
func (e *EncryptedFileStore) Delete(username string) error {
	bundles, err := e.load()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to load sessions: %w", err)
	}
	delete(bundles, username)
	return e.save(bundles)
}

func (e *EncryptedFileStore) load() (map[string]session.Bundle, error) {
	raw, err := os.ReadFile(e.filepath)
	if err != nil {
		return nil, err
	}

	var file encryptedFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(file.Salt)
	if err != nil {
		return nil, fmt.Errorf("failed to decode salt: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(file.Encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	gcm, err := e.cipher(salt)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt sessions, wrong passphrase: %w", err)
	}

	var bundles map[string]session.Bundle
	if err := json.Unmarshal(plaintext, &bundles); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sessions: %w", err)
	}
	return bundles, nil
}

func (e *EncryptedFileStore) save(bundles map[string]session.Bundle) error {
	plaintext, err := json.Marshal(bundles)
	if err != nil {
		return fmt.Errorf("failed to marshal sessions: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := e.cipher(salt)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)

	file := encryptedFile{
		Salt:      base64.StdEncoding.EncodeToString(salt),
		Encrypted: base64.StdEncoding.EncodeToString(ciphertext),
	}
	data, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("failed to marshal session file: %w", err)
	}
	if err := os.WriteFile(e.filepath, data, 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

func (e *EncryptedFileStore) cipher(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(e.passphrase), salt, iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
