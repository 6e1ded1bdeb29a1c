// Package auth authenticates API principals by ledger address and API key.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidKey       = errors.New("auth: invalid api key")
	ErrUnknownPrincipal = errors.New("auth: unknown principal")
	ErrEmptyKey         = errors.New("auth: api key must not be empty")
)

// Principal is an authenticated caller of the API
type Principal struct {
	Address   common.Address `json:"address"`
	Name      string         `json:"name"`
	CreatedAt time.Time      `json:"created_at"`
}

type keyInfo struct {
	principal Principal
	hash      []byte
}

// KeyStore keeps one bcrypt-hashed API key per principal address
type KeyStore struct {
	keys map[common.Address]*keyInfo
	cost int
	mu   sync.RWMutex
}

// NewKeyStore creates an empty key store. A cost of zero uses bcrypt.DefaultCost.
func NewKeyStore(cost int) *KeyStore {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &KeyStore{
		keys: make(map[common.Address]*keyInfo),
		cost: cost,
	}
}

// AddKey stores the hash of key for addr, replacing any previous key
func (ks *KeyStore) AddKey(addr common.Address, name, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), ks.cost)
	if err != nil {
		return fmt.Errorf("failed to hash api key: %w", err)
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.keys[addr] = &keyInfo{
		principal: Principal{Address: addr, Name: name, CreatedAt: time.Now().UTC()},
		hash:      hash,
	}
	return nil
}

// GenerateAPIKey creates a random key for addr and returns it in clear once
func (ks *KeyStore) GenerateAPIKey(addr common.Address, name string) (string, error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	key := base64.URLEncoding.EncodeToString(keyBytes)
	if err := ks.AddKey(addr, name, key); err != nil {
		return "", err
	}
	return key, nil
}

// Authenticate checks key against the key stored for addr
func (ks *KeyStore) Authenticate(addr common.Address, key string) (*Principal, error) {
	ks.mu.RLock()
	info, ok := ks.keys[addr]
	ks.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownPrincipal
	}
	if err := bcrypt.CompareHashAndPassword(info.hash, []byte(key)); err != nil {
		return nil, ErrInvalidKey
	}
	p := info.principal
	return &p, nil
}

// Revoke removes the key of addr
func (ks *KeyStore) Revoke(addr common.Address) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	delete(ks.keys, addr)
}

// List returns known principals ordered by address
func (ks *KeyStore) List() []Principal {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	out := make([]Principal, 0, len(ks.keys))
	for _, info := range ks.keys {
		out = append(out, info.principal)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.Cmp(out[j].Address) < 0
	})
	return out
}

// SecureCompare performs constant-time comparison
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
