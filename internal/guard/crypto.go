package guard

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/FairForge/warden/internal/config"
)

// envelope provides symmetric envelope encryption for small payloads.
// The key is derived from the configured secret; the algorithm is
// selectable between AES-256-GCM and XChaCha20-Poly1305.
type envelope struct {
	aead   cipher.AEAD
	logger *zap.Logger
}

func newEnvelope(cfg config.GuardConfig, logger *zap.Logger) *envelope {
	e := &envelope{logger: logger}
	if cfg.EncryptionKey == "" {
		return e // encrypt/decrypt will fail and callers pass through
	}

	key := sha256.Sum256([]byte(cfg.EncryptionKey))

	switch cfg.EncryptionAlgo {
	case "chacha20-poly1305":
		aead, err := chacha20poly1305.NewX(key[:])
		if err != nil {
			logger.Error("chacha cipher init failed", zap.Error(err))
			return e
		}
		e.aead = aead
	default: // aes-gcm
		block, err := aes.NewCipher(key[:])
		if err != nil {
			logger.Error("aes cipher init failed", zap.Error(err))
			return e
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			logger.Error("gcm init failed", zap.Error(err))
			return e
		}
		e.aead = aead
	}

	return e
}

func (e *envelope) encrypt(plaintext string) (string, error) {
	if e.aead == nil {
		return "", fmt.Errorf("no encryption key configured")
	}

	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *envelope) decrypt(encoded string) (string, error) {
	if e.aead == nil {
		return "", fmt.Errorf("no encryption key configured")
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}
	if len(sealed) < e.aead.NonceSize() {
		return "", fmt.Errorf("payload too short")
	}

	nonce, ciphertext := sealed[:e.aead.NonceSize()], sealed[e.aead.NonceSize():]
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}
	return string(plaintext), nil
}
