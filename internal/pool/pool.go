// Package pool owns the live Kafka clients of every registered cluster.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ppiankov/kafkaconsole/internal/cluster"
	"github.com/ppiankov/kafkaconsole/internal/errs"
	"github.com/ppiankov/kafkaconsole/internal/kafka"
	"github.com/ppiankov/kafkaconsole/internal/metrics"
)

const defaultConnectTimeout = 45 * time.Second

// State is the lifecycle of a cluster entry.
type State int

const (
	StateUnresolved State = iota
	StateConnecting
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Discoverer looks up bootstrap brokers for managed clusters.
type Discoverer interface {
	Discover(ctx context.Context, conn cluster.Connection) ([]string, error)
}

// AuthBuilder builds the TLS/SASL settings of a descriptor.
type AuthBuilder interface {
	Build(ctx context.Context, conn cluster.Connection) (*kafka.AuthConfig, error)
}

// BrokerCache persists brokers found by discovery.
type BrokerCache func(name string, brokers []string)

// clusterEntry holds everything the pool owns for one cluster name.
type clusterEntry struct {
	state     State
	handles   *kafka.Handles
	consumers map[cluster.ConsumerKey]kafka.Consumer
	auth      *kafka.AuthConfig
	seeds     []string
}

// Pool creates clients lazily and reuses them until the cluster is
// disconnected. Connects to the same cluster name are single-flight.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*clusterEntry
	flight  singleflight.Group

	discovery      Discoverer
	auth           AuthBuilder
	factory        kafka.ClientFactory
	onBrokers      BrokerCache
	connectTimeout time.Duration
	metrics        *metrics.Metrics
}

// Option configures a Pool.
type Option func(*Pool)

// WithConnectTimeout bounds a single connect attempt.
func WithConnectTimeout(d time.Duration) Option {
	return func(p *Pool) { p.connectTimeout = d }
}

// WithMetrics records connects on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// New returns an empty pool.
func New(discovery Discoverer, auth AuthBuilder, factory kafka.ClientFactory, opts ...Option) *Pool {
	p := &Pool{
		entries:        make(map[string]*clusterEntry),
		discovery:      discovery,
		auth:           auth,
		factory:        factory,
		connectTimeout: defaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetBrokerCache registers the callback that persists discovered brokers.
func (p *Pool) SetBrokerCache(fn BrokerCache) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onBrokers = fn
}

// State returns the state of a cluster name. Unknown names are unresolved.
func (p *Pool) State(name string) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[name]; ok {
		return e.state
	}
	return StateUnresolved
}

// Clusters returns the tracked cluster names.
func (p *Pool) Clusters() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.entries))
	for name := range p.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *Pool) entry(name string) *clusterEntry {
	e, ok := p.entries[name]
	if !ok {
		e = &clusterEntry{state: StateUnresolved}
		p.entries[name] = e
	}
	return e
}

// Get returns the admin and producer handles for conn, connecting on first use.
func (p *Pool) Get(ctx context.Context, conn cluster.Connection) (*kafka.Handles, error) {
	if h := p.ready(conn.Name); h != nil {
		return h, nil
	}

	ch := p.flight.DoChan(conn.Name, func() (any, error) {
		// Another caller may have connected while we waited.
		if h := p.ready(conn.Name); h != nil {
			return h, nil
		}
		// Detach from the first caller's cancellation; every waiter shares this connect.
		connectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.connectTimeout)
		defer cancel()
		return p.connect(connectCtx, conn)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*kafka.Handles), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) ready(name string) *kafka.Handles {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[name]; ok && e.state == StateReady {
		return e.handles
	}
	return nil
}

func (p *Pool) connect(ctx context.Context, conn cluster.Connection) (*kafka.Handles, error) {
	start := time.Now()

	p.mu.Lock()
	e := p.entry(conn.Name)
	e.state = StateConnecting
	seeds := conn.Seeds()
	if len(seeds) == 0 {
		seeds = append(seeds, e.seeds...)
	}
	onBrokers := p.onBrokers
	p.mu.Unlock()

	handles, auth, seeds, err := p.dial(ctx, conn, seeds, onBrokers)
	p.metrics.ObserveConnect(conn.Name, time.Since(start), err)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		if cur, ok := p.entries[conn.Name]; ok && cur == e {
			e.state = StateUnresolved
		}
		slog.Warn("cluster connect failed", "cluster", conn.Name, "error", err)
		return nil, err
	}

	// Forgotten or disconnected while connecting: the caller asked for this
	// cluster to go away.
	if cur, ok := p.entries[conn.Name]; !ok || cur != e || e.state == StateClosed {
		if closeErr := handles.Close(); closeErr != nil {
			slog.Warn("failed to close orphaned clients", "cluster", conn.Name, "error", closeErr)
		}
		reason := "cluster removed while connecting"
		if ok && cur == e {
			reason = "cluster disconnected while connecting"
		}
		return nil, &errs.ConnectionError{Cluster: conn.Name, Reason: errs.ErrConnectFailed, Err: errors.New(reason)}
	}

	e.state = StateReady
	e.handles = handles
	e.auth = auth
	e.seeds = seeds
	if e.consumers == nil {
		e.consumers = make(map[cluster.ConsumerKey]kafka.Consumer)
	}
	p.metrics.SetReady(p.readyCountLocked())
	slog.Debug("cluster connected", "cluster", conn.Name, "brokers", len(seeds), "took", time.Since(start))
	return handles, nil
}

// dial resolves seeds, builds auth and creates the clients.
func (p *Pool) dial(ctx context.Context, conn cluster.Connection, seeds []string, onBrokers BrokerCache) (*kafka.Handles, *kafka.AuthConfig, []string, error) {
	if len(seeds) == 0 {
		if conn.Kind != cluster.KindManaged {
			return nil, nil, nil, &errs.ConfigError{Cluster: conn.Name, Field: "brokers", Message: "no brokers configured"}
		}
		discovered, err := p.discovery.Discover(ctx, conn)
		if err != nil {
			return nil, nil, nil, err
		}
		seeds = discovered
		if onBrokers != nil {
			onBrokers(conn.Name, discovered)
		}
	}

	auth, err := p.auth.Build(ctx, conn)
	if err != nil {
		return nil, nil, nil, err
	}

	handles, err := p.factory.Connect(ctx, conn.Name, seeds, auth)
	if err != nil {
		var ce *errs.ConnectionError
		if !errors.As(err, &ce) {
			err = &errs.ConnectionError{Cluster: conn.Name, Reason: kafka.ClassifyConnectError(err), Err: err}
		}
		return nil, nil, nil, err
	}
	return handles, auth, seeds, nil
}

func (p *Pool) readyCountLocked() int {
	n := 0
	for _, e := range p.entries {
		if e.state == StateReady {
			n++
		}
	}
	return n
}

// Consumer returns the pooled consumer for (conn, group), creating it when
// absent. The cluster is connected first so seeds and auth are known. The
// consumer is built without holding the pool lock; if two callers race, the
// first one stored wins and the other is closed.
func (p *Pool) Consumer(ctx context.Context, conn cluster.Connection, group string, opts kafka.ConsumerOptions) (kafka.Consumer, error) {
	if _, err := p.Get(ctx, conn); err != nil {
		return nil, err
	}

	key := cluster.ConsumerKey{Cluster: conn.Name, Group: group}
	disconnected := &errs.ConnectionError{Cluster: conn.Name, Reason: errs.ErrConnectFailed, Err: errors.New("cluster disconnected")}

	p.mu.Lock()
	e, ok := p.entries[conn.Name]
	if !ok || e.state != StateReady {
		p.mu.Unlock()
		return nil, disconnected
	}
	if c, ok := e.consumers[key]; ok {
		p.mu.Unlock()
		return c, nil
	}
	seeds := append([]string(nil), e.seeds...)
	auth := e.auth
	p.mu.Unlock()

	c, err := p.factory.NewConsumer(ctx, conn.Name, seeds, auth, opts)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	cur, ok := p.entries[conn.Name]
	if !ok || cur != e || e.state != StateReady {
		p.mu.Unlock()
		p.closeLoser(key, c)
		return nil, disconnected
	}
	if existing, ok := e.consumers[key]; ok {
		p.mu.Unlock()
		p.closeLoser(key, c)
		return existing, nil
	}
	e.consumers[key] = c
	p.mu.Unlock()
	return c, nil
}

func (p *Pool) closeLoser(key cluster.ConsumerKey, c kafka.Consumer) {
	if err := c.Close(); err != nil {
		slog.Warn("failed to close unused consumer", "cluster", key.Cluster, "group", key.Group, "error", err)
	}
}

// CloseConsumer closes and forgets one consumer.
func (p *Pool) CloseConsumer(key cluster.ConsumerKey) error {
	p.mu.Lock()
	var c kafka.Consumer
	if e, ok := p.entries[key.Cluster]; ok {
		c = e.consumers[key]
		delete(e.consumers, key)
	}
	p.mu.Unlock()

	if c == nil {
		return nil
	}
	if err := c.Close(); err != nil {
		return fmt.Errorf("close consumer %s: %w", key, err)
	}
	return nil
}

// Disconnect closes every client of a cluster. Failures are logged and the
// remaining clients are still closed. A later Get reconnects.
func (p *Pool) Disconnect(name string) error {
	p.mu.Lock()
	e, ok := p.entries[name]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	handles := e.handles
	consumers := e.consumers
	e.handles = nil
	e.consumers = nil
	e.auth = nil
	e.state = StateClosed
	p.metrics.SetReady(p.readyCountLocked())
	p.mu.Unlock()

	var errList []error
	for key, c := range consumers {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close consumer", "cluster", name, "group", key.Group, "error", err)
			errList = append(errList, err)
		}
	}
	if err := handles.Close(); err != nil {
		slog.Warn("failed to close cluster clients", "cluster", name, "error", err)
		errList = append(errList, err)
	}
	return errors.Join(errList...)
}

// Forget disconnects a cluster and drops everything cached for it,
// including brokers found by discovery.
func (p *Pool) Forget(name string) error {
	err := p.Disconnect(name)
	p.mu.Lock()
	delete(p.entries, name)
	p.mu.Unlock()
	return err
}

// DisposeAll disconnects every cluster, ignoring individual failures.
func (p *Pool) DisposeAll() {
	for _, name := range p.Clusters() {
		if err := p.Disconnect(name); err != nil {
			slog.Debug("dispose: ignoring disconnect error", "cluster", name, "error", err)
		}
	}
}
