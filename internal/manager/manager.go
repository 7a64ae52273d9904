// Package manager is the public surface over every registered cluster: it
// keeps the descriptors, serves administrative calls through the pool and
// computes lag, offset resets and ACL translations on top of them.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ppiankov/kafkaconsole/internal/cluster"
	"github.com/ppiankov/kafkaconsole/internal/discovery"
	"github.com/ppiankov/kafkaconsole/internal/errs"
	"github.com/ppiankov/kafkaconsole/internal/kafka"
	"github.com/ppiankov/kafkaconsole/internal/metrics"
	"github.com/ppiankov/kafkaconsole/internal/pool"
)

const (
	defaultDashboardConcurrency = 20
	defaultConsumeTimeout       = 30 * time.Second
	registryWriteTimeout        = 10 * time.Second
)

// Registry persists cluster descriptors between runs.
type Registry interface {
	Load(ctx context.Context) ([]cluster.Connection, error)
	Save(ctx context.Context, conn cluster.Connection) error
	Delete(ctx context.Context, name string) error
	UpdateCachedBrokers(ctx context.Context, name string, brokers []string) error
}

// ClusterLister lists the managed clusters of a region.
type ClusterLister interface {
	ListClusters(ctx context.Context, region, profile string) ([]discovery.ManagedCluster, error)
}

// Manager owns the cluster descriptors and routes calls to pooled clients.
type Manager struct {
	mu       sync.RWMutex
	clusters map[string]cluster.Connection

	pool     *pool.Pool
	registry Registry
	lister   ClusterLister
	metrics  *metrics.Metrics

	dashboardConcurrency int
	consumeTimeout       time.Duration
	browseSeq            atomic.Uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithRegistry persists descriptor changes to r.
func WithRegistry(r Registry) Option {
	return func(m *Manager) { m.registry = r }
}

// WithClusterLister enables ListManagedClusters.
func WithClusterLister(l ClusterLister) Option {
	return func(m *Manager) { m.lister = l }
}

// WithMetrics records dashboard failures on mt.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithDashboardConcurrency bounds concurrent per-topic lookups in Dashboard.
func WithDashboardConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.dashboardConcurrency = n
		}
	}
}

// WithConsumeTimeout sets the hard ceiling on a single Consume call.
func WithConsumeTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.consumeTimeout = d
		}
	}
}

// New returns a manager serving clusters through p. It registers itself as
// the pool's broker cache so discovered brokers reach the registry.
func New(p *pool.Pool, opts ...Option) *Manager {
	m := &Manager{
		clusters:             make(map[string]cluster.Connection),
		pool:                 p,
		dashboardConcurrency: defaultDashboardConcurrency,
		consumeTimeout:       defaultConsumeTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	p.SetBrokerCache(m.cacheBrokers)
	return m
}

// Load reads every descriptor from the registry. Invalid entries are
// skipped with a warning so one bad entry does not hide the others.
func (m *Manager) Load(ctx context.Context) error {
	if m.registry == nil {
		return nil
	}
	conns, err := m.registry.Load(ctx)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, conn := range conns {
		conn.Normalize()
		if err := conn.Validate(); err != nil {
			slog.Warn("skipping invalid cluster descriptor", "cluster", conn.Name, "error", err)
			continue
		}
		m.clusters[conn.Name] = conn
	}
	slog.Debug("registry loaded", "clusters", len(m.clusters))
	return nil
}

// AddCluster validates and registers a descriptor. Re-adding a name
// replaces the old descriptor and closes every pooled client built from it,
// including brokers cached by discovery.
func (m *Manager) AddCluster(ctx context.Context, conn cluster.Connection) error {
	conn.Normalize()
	if err := conn.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	prev, replaced := m.clusters[conn.Name]
	m.clusters[conn.Name] = conn.Clone()
	m.mu.Unlock()

	if replaced {
		if err := m.pool.Forget(conn.Name); err != nil {
			slog.Warn("closing clients of replaced cluster failed", "cluster", conn.Name, "error", err)
		}
	}

	if m.registry != nil {
		if err := m.registry.Save(ctx, conn); err != nil {
			m.mu.Lock()
			if replaced {
				m.clusters[conn.Name] = prev
			} else {
				delete(m.clusters, conn.Name)
			}
			m.mu.Unlock()
			return fmt.Errorf("save cluster %s: %w", conn.Name, err)
		}
	}
	if replaced {
		slog.Info("cluster replaced", "cluster", conn)
	} else {
		slog.Info("cluster added", "cluster", conn)
	}
	return nil
}

// RemoveCluster disconnects a cluster and forgets it, including its cached
// brokers and stored secrets.
func (m *Manager) RemoveCluster(ctx context.Context, name string) error {
	m.mu.Lock()
	if _, ok := m.clusters[name]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", errs.ErrClusterNotFound, name)
	}
	delete(m.clusters, name)
	m.mu.Unlock()

	var errList []error
	if err := m.pool.Forget(name); err != nil {
		slog.Warn("disconnect during removal failed", "cluster", name, "error", err)
	}
	if m.registry != nil {
		if err := m.registry.Delete(ctx, name); err != nil {
			errList = append(errList, fmt.Errorf("delete cluster %s from registry: %w", name, err))
		}
	}
	return errors.Join(errList...)
}

// ListClusters returns the registered cluster names in order.
func (m *Manager) ListClusters() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.clusters))
	for name := range m.clusters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Cluster returns a copy of a registered descriptor.
func (m *Manager) Cluster(name string) (cluster.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.clusters[name]
	if !ok {
		return cluster.Connection{}, fmt.Errorf("%w: %s", errs.ErrClusterNotFound, name)
	}
	return conn.Clone(), nil
}

// State reports the pool state of a cluster.
func (m *Manager) State(name string) pool.State {
	return m.pool.State(name)
}

// Disconnect closes the pooled clients of a cluster; the next call reconnects.
func (m *Manager) Disconnect(name string) error {
	if _, err := m.Cluster(name); err != nil {
		return err
	}
	return m.pool.Disconnect(name)
}

// Close disconnects every cluster.
func (m *Manager) Close() {
	m.pool.DisposeAll()
}

func (m *Manager) handles(ctx context.Context, name string) (*kafka.Handles, error) {
	conn, err := m.Cluster(name)
	if err != nil {
		return nil, err
	}
	return m.pool.Get(ctx, conn)
}

func (m *Manager) admin(ctx context.Context, name string) (kafka.Admin, error) {
	h, err := m.handles(ctx, name)
	if err != nil {
		return nil, err
	}
	return h.Admin, nil
}

// TestConnection connects to a cluster and returns its brokers.
func (m *Manager) TestConnection(ctx context.Context, name string) ([]kafka.BrokerInfo, error) {
	admin, err := m.admin(ctx, name)
	if err != nil {
		return nil, err
	}
	brokers, err := admin.Brokers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list brokers of %s: %w", name, err)
	}
	return brokers, nil
}

// cacheBrokers stores discovered brokers on the descriptor. The registry
// write is detached from the caller; a failure only costs a rediscovery on
// the next run.
func (m *Manager) cacheBrokers(name string, brokers []string) {
	m.mu.Lock()
	conn, ok := m.clusters[name]
	if ok {
		conn.CachedBrokers = append([]string(nil), brokers...)
		m.clusters[name] = conn
	}
	m.mu.Unlock()
	if !ok || m.registry == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), registryWriteTimeout)
	defer cancel()
	if err := m.registry.UpdateCachedBrokers(ctx, name, brokers); err != nil {
		slog.Warn("failed to persist discovered brokers", "cluster", name, "error", err)
	}
}

// ListManagedClusters lists the MSK clusters visible in a region.
func (m *Manager) ListManagedClusters(ctx context.Context, region, profile string) ([]discovery.ManagedCluster, error) {
	if m.lister == nil {
		return nil, errors.New("managed cluster listing is not configured")
	}
	if region == "" {
		return nil, &errs.ConfigError{Field: "region", Message: "is required"}
	}
	return m.lister.ListClusters(ctx, region, profile)
}
