// Package registry persists cluster descriptors in a YAML file. Secrets are
// kept out of the file and written to a secrets.Store instead.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/kafkaconsole/internal/cluster"
	"github.com/ppiankov/kafkaconsole/internal/secrets"
)

const (
	fileVersion = 1

	// lockTimeout is the maximum time to wait for the registry lock
	lockTimeout = 2 * time.Second
)

// file is the on-disk layout.
type file struct {
	Version  int                  `yaml:"version"`
	Clusters []cluster.Connection `yaml:"clusters"`
}

// Registry is a file-backed cluster registry.
type Registry struct {
	path    string
	secrets secrets.Store
}

// DefaultPath returns ~/.kafkaconsole/clusters.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("unable to find home directory: %w", err)
	}
	return filepath.Join(home, ".kafkaconsole", "clusters.yaml"), nil
}

// New returns a registry stored at path with secrets in store.
func New(path string, store secrets.Store) *Registry {
	return &Registry{path: filepath.Clean(path), secrets: store}
}

// Path returns the registry file location.
func (r *Registry) Path() string {
	return r.path
}

// Load returns every stored descriptor. A missing file is an empty registry.
// Secrets are not read here; the auth builder fetches them when needed.
func (r *Registry) Load(_ context.Context) ([]cluster.Connection, error) {
	f, err := r.read()
	if err != nil {
		return nil, err
	}
	return f.Clusters, nil
}

// Save inserts or replaces a descriptor and stores its secrets. Secrets the
// new descriptor does not carry are removed.
func (r *Registry) Save(ctx context.Context, conn cluster.Connection) error {
	if err := r.storeSecrets(ctx, conn); err != nil {
		return err
	}
	return r.update(ctx, func(f *file) {
		for i := range f.Clusters {
			if f.Clusters[i].Name == conn.Name {
				f.Clusters[i] = conn
				return
			}
		}
		f.Clusters = append(f.Clusters, conn)
	})
}

// Delete removes a descriptor and its secrets. Deleting an unknown name is
// not an error.
func (r *Registry) Delete(ctx context.Context, name string) error {
	err := r.update(ctx, func(f *file) {
		kept := f.Clusters[:0]
		for _, c := range f.Clusters {
			if c.Name != name {
				kept = append(kept, c)
			}
		}
		f.Clusters = kept
	})
	if err != nil || r.secrets == nil {
		return err
	}
	if err := secrets.DeleteCluster(ctx, r.secrets, name); err != nil {
		return fmt.Errorf("failed to delete secrets of %s: %w", name, err)
	}
	return nil
}

// UpdateCachedBrokers records discovered brokers for a managed cluster.
func (r *Registry) UpdateCachedBrokers(ctx context.Context, name string, brokers []string) error {
	return r.update(ctx, func(f *file) {
		for i := range f.Clusters {
			if f.Clusters[i].Name == name {
				f.Clusters[i].CachedBrokers = append([]string(nil), brokers...)
				return
			}
		}
	})
}

func (r *Registry) storeSecrets(ctx context.Context, conn cluster.Connection) error {
	if r.secrets == nil {
		if conn.Password != "" || conn.KeyPassphrase != "" {
			return errors.New("no secret store configured")
		}
		return nil
	}
	pairs := []struct {
		kind  secrets.Kind
		value string
	}{
		{secrets.KindPassword, conn.Password},
		{secrets.KindKeyPassphrase, conn.KeyPassphrase},
	}
	for _, p := range pairs {
		key := secrets.Key{Cluster: conn.Name, Kind: p.kind}
		if p.value == "" {
			if err := r.secrets.Delete(ctx, key); err != nil && !errors.Is(err, secrets.ErrNotFound) {
				return fmt.Errorf("failed to clear %s of %s: %w", p.kind, conn.Name, err)
			}
			continue
		}
		if err := r.secrets.Set(ctx, key, p.value); err != nil {
			return fmt.Errorf("failed to store %s of %s: %w", p.kind, conn.Name, err)
		}
	}
	return nil
}

func (r *Registry) read() (*file, error) {
	// #nosec G304: path comes from configuration.
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &file{Version: fileVersion}, nil
		}
		return nil, fmt.Errorf("unable to read registry %s: %w", r.path, err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse registry %s: %w", r.path, err)
	}
	if f.Version == 0 {
		f.Version = fileVersion
	}
	return &f, nil
}

func (r *Registry) write(f *file) error {
	sort.Slice(f.Clusters, func(i, j int) bool { return f.Clusters[i].Name < f.Clusters[j].Name })
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("error serializing registry: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".clusters-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp registry file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("error writing registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error writing registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("error replacing registry: %w", err)
	}
	return nil
}

// update applies fn to the registry under an exclusive file lock.
func (r *Registry) update(ctx context.Context, fn func(*file)) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	// Use a separate lock file for cross-platform compatibility
	fileLock := flock.New(r.path + ".lock")
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := fileLock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to acquire registry lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("failed to acquire registry lock: timeout after %v", lockTimeout)
	}
	defer func() { _ = fileLock.Unlock() }()

	// Read after locking so concurrent writers do not lose updates.
	f, err := r.read()
	if err != nil {
		return err
	}
	fn(f)
	return r.write(f)
}
