package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// sealedPrefix marks a value written by a Sealer. Stored values without it
// are legacy plaintext and are returned unchanged by Open.
const sealedPrefix = "enc:v"

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// Sealer encrypts short secrets such as OAuth tokens with AES-256-GCM.
// Sealed values carry the key version, "enc:v<N>:<base64(nonce|ciphertext)>",
// so older keys can still open what they wrote after a rotation.
type Sealer struct {
	mu         sync.RWMutex
	current    cipher.AEAD
	currentVer int
	previous   map[int]cipher.AEAD
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("sealer: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("sealer: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("sealer: create GCM: %w", err)
	}
	return aead, nil
}

// NewSealer creates a sealer writing with key under the given version.
func NewSealer(key []byte, version int) (*Sealer, error) {
	if version <= 0 {
		return nil, fmt.Errorf("sealer: key version must be positive, got %d", version)
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	return &Sealer{current: aead, currentVer: version, previous: make(map[int]cipher.AEAD)}, nil
}

// AddPreviousKey registers a retired key so values sealed with it still open.
func (s *Sealer) AddPreviousKey(key []byte, version int) error {
	aead, err := newAEAD(key)
	if err != nil {
		return fmt.Errorf("previous key v%d: %w", version, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if version == s.currentVer {
		return fmt.Errorf("sealer: version %d is the current key", version)
	}
	s.previous[version] = aead
	return nil
}

func (s *Sealer) Seal(plaintext string) (string, error) {
	s.mu.RLock()
	aead, ver := s.current, s.currentVer
	s.mu.RUnlock()

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("seal: generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + strconv.Itoa(ver) + ":" + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Values that were never sealed are returned as is.
func (s *Sealer) Open(stored string) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}
	verStr, payload, ok := strings.Cut(strings.TrimPrefix(stored, sealedPrefix), ":")
	if !ok {
		return "", fmt.Errorf("open: malformed sealed value")
	}
	ver, err := strconv.Atoi(verStr)
	if err != nil {
		return "", fmt.Errorf("open: bad key version %q", verStr)
	}

	s.mu.RLock()
	aead := s.current
	if ver != s.currentVer {
		aead = s.previous[ver]
	}
	s.mu.RUnlock()
	if aead == nil {
		return "", fmt.Errorf("open: no key for version %d", ver)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("open: base64 decode: %w", err)
	}
	nonceSize := aead.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("open: ciphertext too short")
	}
	plaintext, err := aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	return string(plaintext), nil
}

// NeedsReseal reports whether stored was written in plaintext or with a
// retired key.
func (s *Sealer) NeedsReseal(stored string) bool {
	if !IsSealed(stored) {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !strings.HasPrefix(stored, sealedPrefix+strconv.Itoa(s.currentVer)+":")
}

func IsSealed(stored string) bool {
	return strings.HasPrefix(stored, sealedPrefix)
}

// ParseKey decodes a base64 (standard or URL alphabet) AES-256 key.
func ParseKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		key, err = base64.URLEncoding.DecodeString(encoded)
	}
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must decode to %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

// ParseVersionedKeys parses "2:<base64>,3:<base64>" into keys by version.
func ParseVersionedKeys(raw []string) (map[int][]byte, error) {
	out := make(map[int][]byte, len(raw))
	for _, item := range raw {
		verStr, encoded, ok := strings.Cut(strings.TrimSpace(item), ":")
		if !ok {
			return nil, fmt.Errorf("previous key %q: expected <version>:<base64 key>", item)
		}
		ver, err := strconv.Atoi(verStr)
		if err != nil || ver <= 0 {
			return nil, fmt.Errorf("previous key: bad version %q", verStr)
		}
		key, err := ParseKey(encoded)
		if err != nil {
			return nil, fmt.Errorf("previous key v%d: %w", ver, err)
		}
		out[ver] = key
	}
	return out, nil
}
