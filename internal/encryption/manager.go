package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

const envelopeVersion = "v1"

// EncryptedData is the envelope stored at rest. The purpose string is bound
// in as GCM additional data, so an envelope cannot be moved to another field.
type EncryptedData struct {
	EncryptedValue string    `json:"encrypted_value"`
	EncryptedDEK   string    `json:"encrypted_dek"`
	KeyID          string    `json:"key_id"`
	Version        string    `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
}

type DataKey struct {
	Plaintext  []byte
	Ciphertext []byte
	KeyID      string
}

// KeyService issues and unwraps data encryption keys.
type KeyService interface {
	GenerateDataKey(ctx context.Context) (*DataKey, error)
	DecryptDataKey(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type EncryptionManager struct {
	keys     KeyService
	keyCache sync.Map // encrypted DEK (base64) -> plaintext DEK
}

func NewEncryptionManager(keys KeyService) *EncryptionManager {
	return &EncryptionManager{keys: keys}
}

// EncryptField encrypts plaintext under a fresh data key.
func (em *EncryptionManager) EncryptField(ctx context.Context, plaintext, purpose string) (*EncryptedData, error) {
	dataKey, err := em.keys.GenerateDataKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	ciphertext, err := seal(dataKey.Plaintext, []byte(plaintext), []byte(purpose))
	if err != nil {
		return nil, err
	}

	encryptedDEK := base64.StdEncoding.EncodeToString(dataKey.Ciphertext)
	em.keyCache.Store(encryptedDEK, dataKey.Plaintext)

	return &EncryptedData{
		EncryptedValue: base64.StdEncoding.EncodeToString(ciphertext),
		EncryptedDEK:   encryptedDEK,
		KeyID:          dataKey.KeyID,
		Version:        envelopeVersion,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

func (em *EncryptionManager) DecryptField(ctx context.Context, data *EncryptedData, purpose string) (string, error) {
	if data.Version != envelopeVersion {
		return "", fmt.Errorf("%w: unsupported envelope version %q", ErrDecryptionFailed, data.Version)
	}

	dek, err := em.dataKey(ctx, data.EncryptedDEK)
	if err != nil {
		return "", err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(data.EncryptedValue)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext format", ErrDecryptionFailed)
	}
	plaintext, err := open(dek, ciphertext, []byte(purpose))
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// Seal encrypts plaintext and returns the JSON envelope, ready to store.
func (em *EncryptionManager) Seal(ctx context.Context, plaintext, purpose string) ([]byte, error) {
	data, err := em.EncryptField(ctx, plaintext, purpose)
	if err != nil {
		return nil, err
	}
	return json.Marshal(data)
}

// Open reverses Seal.
func (em *EncryptionManager) Open(ctx context.Context, envelope []byte, purpose string) (string, error) {
	var data EncryptedData
	if err := json.Unmarshal(envelope, &data); err != nil {
		return "", fmt.Errorf("%w: invalid envelope: %v", ErrDecryptionFailed, err)
	}
	return em.DecryptField(ctx, &data, purpose)
}

func (em *EncryptionManager) dataKey(ctx context.Context, encryptedDEK string) ([]byte, error) {
	if cached, ok := em.keyCache.Load(encryptedDEK); ok {
		return cached.([]byte), nil
	}

	blob, err := base64.StdEncoding.DecodeString(encryptedDEK)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid DEK format", ErrDecryptionFailed)
	}
	dek, err := em.keys.DecryptDataKey(ctx, blob)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decrypt DEK: %v", ErrDecryptionFailed, err)
	}

	em.keyCache.Store(encryptedDEK, dek)
	return dek, nil
}

// ClearCache drops every cached plaintext DEK.
func (em *EncryptionManager) ClearCache() {
	em.keyCache.Range(func(key, _ interface{}) bool {
		em.keyCache.Delete(key)
		return true
	})
}

func (em *EncryptionManager) GetCacheSize() int {
	count := 0
	em.keyCache.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

func seal(key, plaintext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

func open(key, ciphertext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
