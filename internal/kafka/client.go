package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/ppiankov/kafkaconsole/internal/errs"
)

const (
	defaultQueryTimeout  = 30 * time.Second
	defaultClientID      = "kafkaconsole"
	commitOnCloseTimeout = 5 * time.Second
)

// Handles are the long-lived clients pooled for one cluster.
type Handles struct {
	Admin    Admin
	Producer Producer
}

// Close closes the producer then the admin client.
func (h *Handles) Close() error {
	if h == nil {
		return nil
	}
	var errList []error
	if h.Producer != nil {
		if err := h.Producer.Close(); err != nil {
			errList = append(errList, fmt.Errorf("close producer: %w", err))
		}
	}
	if h.Admin != nil {
		if err := h.Admin.Close(); err != nil {
			errList = append(errList, fmt.Errorf("close admin: %w", err))
		}
	}
	return errors.Join(errList...)
}

// ConsumerOptions configures a consumer handle.
type ConsumerOptions struct {
	Topics        []string
	Group         string
	FromBeginning bool
}

// ClientFactory creates clients for a cluster. The pool is its only caller.
type ClientFactory interface {
	Connect(ctx context.Context, cluster string, seeds []string, auth *AuthConfig) (*Handles, error)
	NewConsumer(ctx context.Context, cluster string, seeds []string, auth *AuthConfig, opts ConsumerOptions) (Consumer, error)
}

// FranzFactory creates franz-go backed clients.
type FranzFactory struct {
	config Config
}

// NewFranzFactory returns a factory with cfg applied to every client.
func NewFranzFactory(cfg Config) *FranzFactory {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaultQueryTimeout
	}
	if cfg.ClientID == "" {
		cfg.ClientID = defaultClientID
	}
	return &FranzFactory{config: cfg}
}

func (f *FranzFactory) baseOpts(seeds []string, auth *AuthConfig) []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(seeds...),
		kgo.ClientID(f.config.ClientID),
		kgo.RequestTimeoutOverhead(f.config.QueryTimeout),
	}
	return append(opts, auth.Opts()...)
}

// Connect creates the admin and producer clients and verifies the cluster is reachable.
func (f *FranzFactory) Connect(ctx context.Context, cluster string, seeds []string, auth *AuthConfig) (*Handles, error) {
	if len(seeds) == 0 {
		return nil, &errs.ConnectionError{Cluster: cluster, Reason: errs.ErrBrokersUnreachable, Err: errors.New("no seed brokers")}
	}

	client, err := kgo.NewClient(f.baseOpts(seeds, auth)...)
	if err != nil {
		return nil, &errs.ConnectionError{Cluster: cluster, Reason: errs.ErrConnectFailed, Err: fmt.Errorf("failed to create Kafka client: %w", err)}
	}

	// Ping the cluster to verify connectivity (with retry for transient failures)
	pingCtx, cancel := context.WithTimeout(ctx, f.config.QueryTimeout)
	defer cancel()

	if err := withRetry(pingCtx, "ping broker", func() error {
		return client.Ping(pingCtx)
	}); err != nil {
		client.Close()
		return nil, &errs.ConnectionError{Cluster: cluster, Reason: ClassifyConnectError(err), Err: err}
	}

	producer, err := kgo.NewClient(append(f.baseOpts(seeds, auth), kgo.ProducerLinger(0))...)
	if err != nil {
		client.Close()
		return nil, &errs.ConnectionError{Cluster: cluster, Reason: errs.ErrConnectFailed, Err: fmt.Errorf("failed to create producer: %w", err)}
	}

	return &Handles{
		Admin:    newKadmAdmin(client),
		Producer: &franzProducer{client: producer},
	}, nil
}

// NewConsumer creates a consumer. A group consumer commits what it polled
// when closed; a groupless one commits nothing.
func (f *FranzFactory) NewConsumer(_ context.Context, cluster string, seeds []string, auth *AuthConfig, opts ConsumerOptions) (Consumer, error) {
	kopts := append(f.baseOpts(seeds, auth), kgo.ConsumeTopics(opts.Topics...))
	if opts.FromBeginning {
		kopts = append(kopts, kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	} else {
		kopts = append(kopts, kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()))
	}
	if opts.Group != "" {
		kopts = append(kopts, kgo.ConsumerGroup(opts.Group), kgo.DisableAutoCommit())
	}

	client, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, &errs.ConnectionError{Cluster: cluster, Reason: errs.ErrConnectFailed, Err: fmt.Errorf("failed to create consumer: %w", err)}
	}
	return &franzConsumer{client: client, group: opts.Group}, nil
}

// ClassifyConnectError maps a connect failure to a connection reason.
func ClassifyConnectError(err error) error {
	if isAuthError(err) {
		return errs.ErrAuthenticationFailed
	}
	var ne net.Error
	if errors.As(err, &ne) || errors.Is(err, net.ErrClosed) || errors.Is(err, context.DeadlineExceeded) {
		return errs.ErrBrokersUnreachable
	}
	return errs.ErrConnectFailed
}

// Producer sends single records.
type Producer interface {
	Produce(ctx context.Context, topic string, key, value []byte, headers map[string]string) (ProducedRecord, error)
	Close() error
}

type franzProducer struct {
	client *kgo.Client
}

func (p *franzProducer) Produce(ctx context.Context, topic string, key, value []byte, headers map[string]string) (ProducedRecord, error) {
	record := &kgo.Record{Topic: topic, Key: key, Value: value}
	for k, v := range headers {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return ProducedRecord{}, fmt.Errorf("produce to %s: %w", topic, err)
	}
	return ProducedRecord{
		Topic:     record.Topic,
		Partition: record.Partition,
		Offset:    record.Offset,
		Timestamp: record.Timestamp,
	}, nil
}

func (p *franzProducer) Close() error {
	p.client.Close()
	return nil
}

// ErrConsumerClosed is returned by Poll after Close.
var ErrConsumerClosed = errors.New("consumer closed")

// Consumer polls records. Poll returns at most limit records when limit > 0;
// only returned records count as consumed when a group commits.
type Consumer interface {
	Poll(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

type franzConsumer struct {
	client *kgo.Client
	group  string
}

func (c *franzConsumer) Poll(ctx context.Context, limit int) ([]Record, error) {
	fetches := c.client.PollRecords(ctx, limit)
	if fetches.IsClientClosed() {
		return nil, ErrConsumerClosed
	}

	var errList []error
	for _, fe := range fetches.Errors() {
		if errors.Is(fe.Err, context.Canceled) || errors.Is(fe.Err, context.DeadlineExceeded) {
			continue
		}
		errList = append(errList, fmt.Errorf("fetch %s[%d]: %w", fe.Topic, fe.Partition, fe.Err))
	}

	var records []Record
	fetches.EachRecord(func(r *kgo.Record) {
		records = append(records, toRecord(r))
	})

	return records, errors.Join(errList...)
}

func (c *franzConsumer) Close() error {
	var err error
	if c.group != "" {
		ctx, cancel := context.WithTimeout(context.Background(), commitOnCloseTimeout)
		if err = c.client.CommitUncommittedOffsets(ctx); err != nil {
			err = ClassifyGroupError(c.group, err)
		}
		cancel()
	}
	c.client.Close()
	return err
}

func toRecord(r *kgo.Record) Record {
	rec := Record{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Timestamp: r.Timestamp,
		Key:       r.Key,
		Value:     r.Value,
	}
	if len(r.Headers) > 0 {
		rec.Headers = make(map[string]string, len(r.Headers))
		for _, h := range r.Headers {
			rec.Headers[h.Key] = string(h.Value)
		}
	}
	return rec
}
