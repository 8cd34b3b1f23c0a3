package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/fernet/fernet-go"
)

// ErrUndecryptable is returned when no configured key opens a payload.
var ErrUndecryptable = errors.New("failed to decrypt message payload")

// Encryptor seals message content at rest with AES-256-GCM. Payloads written by an
// earlier deployment with Fernet tokens are still readable when their keys are listed
// as legacy keys.
type Encryptor struct {
	aead       cipher.AEAD
	fernetKeys []*fernet.Key
}

func NewEncryptor(key []byte, legacyKeys []string) (*Encryptor, error) {
	if len(key) == 0 {
		return nil, errors.New("encryption key must not be empty")
	}
	// Any secret length is accepted; SHA-256 stretches it to an AES-256 key.
	sum := sha256.Sum256(key)
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	var fernetKeys []*fernet.Key
	if fk := parseFernetKey(string(key)); fk != nil {
		fernetKeys = append(fernetKeys, fk)
	}
	for _, raw := range legacyKeys {
		if fk := parseFernetKey(raw); fk != nil {
			fernetKeys = append(fernetKeys, fk)
		}
	}
	return &Encryptor{aead: aead, fernetKeys: fernetKeys}, nil
}

func parseFernetKey(raw string) *fernet.Key {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	key, err := fernet.DecodeKey(trimmed)
	if err != nil {
		return nil
	}
	return key
}

// Encrypt seals plain. Empty content stays empty so attachment-only messages remain
// recognisable in storage.
func (e *Encryptor) Encrypt(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *Encryptor) Decrypt(enc string) (string, error) {
	if enc == "" {
		return "", nil
	}
	if raw, err := base64.StdEncoding.DecodeString(enc); err == nil && len(raw) >= e.aead.NonceSize() {
		nonce, ciphertext := raw[:e.aead.NonceSize()], raw[e.aead.NonceSize():]
		if plain, err := e.aead.Open(nil, nonce, ciphertext, nil); err == nil {
			return string(plain), nil
		}
	}

	if len(e.fernetKeys) > 0 {
		// ttl 0 disables the age check; legacy rows can be arbitrarily old.
		if plain := fernet.VerifyAndDecrypt([]byte(enc), 0*time.Second, e.fernetKeys); plain != nil {
			return string(plain), nil
		}
	}
	return "", ErrUndecryptable
}
