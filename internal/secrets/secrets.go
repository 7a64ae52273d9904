// Package secrets stores per-cluster secret material outside the registry file.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"
)

// ErrNotFound indicates that no secret is stored under the key.
var ErrNotFound = errors.New("secret not found")

// Kind names a secret slot of a cluster.
type Kind string

const (
	KindPassword      Kind = "password"
	KindKeyPassphrase Kind = "key-passphrase"
)

// Kinds lists every slot a cluster may own.
var Kinds = []Kind{KindPassword, KindKeyPassphrase}

// Key addresses one secret.
type Key struct {
	Cluster string
	Kind    Kind
}

func (k Key) String() string {
	return k.Cluster + "/" + string(k.Kind)
}

// Store persists secrets keyed by (cluster, kind).
type Store interface {
	Get(ctx context.Context, key Key) (string, error)
	Set(ctx context.Context, key Key, value string) error
	Delete(ctx context.Context, key Key) error
}

// Backend names accepted by New.
const (
	BackendKeyring = "keyring"
	BackendMemory  = "memory"
)

// DefaultService is the keyring service name.
const DefaultService = "kafkaconsole"

// New returns the store for the named backend.
func New(backend string) (Store, error) {
	switch backend {
	case "", BackendKeyring:
		return NewKeyringStore(DefaultService), nil
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown secret backend %q", backend)
	}
}

// DeleteCluster removes every secret slot of a cluster. Missing slots are fine.
func DeleteCluster(ctx context.Context, s Store, cluster string) error {
	var errList []error
	for _, kind := range Kinds {
		if err := s.Delete(ctx, Key{Cluster: cluster, Kind: kind}); err != nil && !errors.Is(err, ErrNotFound) {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// KeyringStore keeps secrets in the OS keyring.
type KeyringStore struct {
	service string
}

// NewKeyringStore returns a keyring-backed store under service.
func NewKeyringStore(service string) *KeyringStore {
	return &KeyringStore{service: service}
}

func (s *KeyringStore) Get(_ context.Context, key Key) (string, error) {
	v, err := keyring.Get(s.service, key.String())
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read secret %s from keyring: %w", key, err)
	}
	return v, nil
}

func (s *KeyringStore) Set(_ context.Context, key Key, value string) error {
	if err := keyring.Set(s.service, key.String(), value); err != nil {
		return fmt.Errorf("write secret %s to keyring: %w", key, err)
	}
	return nil
}

func (s *KeyringStore) Delete(_ context.Context, key Key) error {
	err := keyring.Delete(s.service, key.String())
	if errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete secret %s from keyring: %w", key, err)
	}
	return nil
}

// MemoryStore keeps secrets for the lifetime of the process.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[Key]string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[Key]string)}
}

func (s *MemoryStore) Get(_ context.Context, key Key) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return "", fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return v, nil
}

func (s *MemoryStore) Set(_ context.Context, key Key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	delete(s.values, key)
	return nil
}
