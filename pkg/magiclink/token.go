// Package magiclink mints and validates opaque, time-bounded tokens that
// resolve to a dashboard view without any conversational context.
package magiclink

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

const (
	scryptN  = 32768 // 2^15
	scryptR  = 8
	scryptP  = 1
	keySize  = 32 // AES-256
	gcmNonce = 12
	gcmTag   = 16
)

// keySalt is fixed: the key must be reproducible across restarts from the
// configured secret alone.
var keySalt = []byte("sgi/magiclink/v1") //nolint:gochecknoglobals // constant salt

var errMalformed = errors.New("malformed token")

// claims is the sealed content of a token.
type claims struct {
	LinkID       string            `json:"lid"`
	ResourceType string            `json:"rt"`
	ResourceID   string            `json:"rid"`
	Filters      map[string]string `json:"f"`
	Metadata     *sealedMetadata   `json:"m"`
	ExpiresAt    int64             `json:"exp"`
}

// sealedMetadata carries Metadata byte for byte. The snapshot travels as an
// opaque string so its formatting survives, and empty maps stay empty.
type sealedMetadata struct {
	Tool     string            `json:"t"`
	Snapshot []byte            `json:"s"`
	Extra    map[string]string `json:"x"`
}

func sealMetadata(md *Metadata) *sealedMetadata {
	if md == nil {
		return nil
	}
	return &sealedMetadata{Tool: md.Tool, Snapshot: md.Snapshot, Extra: md.Extra}
}

func (m *sealedMetadata) metadata() *Metadata {
	if m == nil {
		return nil
	}
	return &Metadata{Tool: m.Tool, Snapshot: json.RawMessage(m.Snapshot), Extra: m.Extra}
}

// sealer encrypts claims with a key derived once from the secret.
type sealer struct {
	aead cipher.AEAD
}

func newSealer(secret string) (*sealer, error) {
	secretBytes := []byte(secret)
	defer func() {
		for i := range secretBytes {
			secretBytes[i] = 0
		}
	}()

	key, err := scrypt.Key(secretBytes, keySalt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive link key: %w", err)
	}
	defer func() {
		for i := range key {
			key[i] = 0
		}
	}()

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &sealer{aead: gcm}, nil
}

// seal returns base64url(nonce || ciphertext+tag).
func (s *sealer) seal(c *claims) (string, error) {
	plaintext, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal claims: %w", err)
	}
	nonce := make([]byte, gcmNonce)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	out := make([]byte, 0, gcmNonce+len(plaintext)+gcmTag)
	out = append(out, nonce...)
	out = s.aead.Seal(out, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// open reverses seal. Every failure is reported as errMalformed.
func (s *sealer) open(token string) (*claims, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) < gcmNonce+gcmTag {
		return nil, errMalformed
	}
	plaintext, err := s.aead.Open(nil, raw[:gcmNonce], raw[gcmNonce:], nil)
	if err != nil {
		return nil, errMalformed
	}
	var c claims
	if err := json.Unmarshal(plaintext, &c); err != nil || c.LinkID == "" || c.ResourceType == "" {
		return nil, errMalformed
	}
	return &c, nil
}

// digest identifies a token in the store without keeping the token itself.
func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
