package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ppiankov/kafkaconsole/internal/cluster"
	"github.com/ppiankov/kafkaconsole/internal/errs"
	"github.com/ppiankov/kafkaconsole/internal/kafka"
)

const defaultConsumeLimit = 100

// ConsumeRequest describes a bounded read from one topic. Without a Group
// the read does not join a consumer group and commits nothing; with one, the
// offsets of the returned records are committed when the consumer is torn down.
type ConsumeRequest struct {
	Topic         string
	Group         string
	FromBeginning bool
	Limit         int
	Timeout       time.Duration
}

// ProduceRequest is a single record to send.
type ProduceRequest struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Consume reads up to req.Limit records. It stops at the limit, when ctx is
// done, or when the timeout fires, whichever is first, and returns what it
// collected. The timeout is capped by the manager's consume ceiling. The
// consumer is torn down exactly once on every path.
func (m *Manager) Consume(ctx context.Context, name string, req ConsumeRequest) ([]kafka.Record, error) {
	if req.Topic == "" {
		return nil, &errs.ConfigError{Cluster: name, Field: "topic", Message: "is required"}
	}
	conn, err := m.Cluster(name)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultConsumeLimit
	}
	timeout := m.consumeTimeout
	if req.Timeout > 0 && req.Timeout < timeout {
		timeout = req.Timeout
	}

	group := req.Group
	if group == "" {
		group = fmt.Sprintf("kafkaconsole-browse-%d", m.browseSeq.Add(1))
	}
	key := cluster.ConsumerKey{Cluster: name, Group: group}

	consumer, err := m.pool.Consumer(ctx, conn, group, kafka.ConsumerOptions{
		Topics:        []string{req.Topic},
		Group:         req.Group,
		FromBeginning: req.FromBeginning,
	})
	if err != nil {
		return nil, err
	}

	consumeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var once sync.Once
	teardown := func() {
		once.Do(func() {
			if err := m.pool.CloseConsumer(key); err != nil {
				slog.Warn("failed to close consumer", "cluster", name, "group", group, "error", err)
			}
		})
	}
	stop := context.AfterFunc(consumeCtx, teardown)
	defer stop()
	defer teardown()

	var records []kafka.Record
	for len(records) < limit {
		batch, err := consumer.Poll(consumeCtx, limit-len(records))
		records = append(records, batch...)
		if err == nil {
			continue
		}
		if consumeCtx.Err() != nil || errors.Is(err, kafka.ErrConsumerClosed) {
			break
		}
		return records, fmt.Errorf("consume %s: %w", req.Topic, err)
	}

	slog.Debug("consume finished", "cluster", name, "topic", req.Topic, "records", len(records))
	return records, nil
}

// Produce sends one record through the cluster's shared producer.
func (m *Manager) Produce(ctx context.Context, name string, req ProduceRequest) (kafka.ProducedRecord, error) {
	if req.Topic == "" {
		return kafka.ProducedRecord{}, &errs.ConfigError{Cluster: name, Field: "topic", Message: "is required"}
	}
	h, err := m.handles(ctx, name)
	if err != nil {
		return kafka.ProducedRecord{}, err
	}
	return h.Producer.Produce(ctx, req.Topic, req.Key, req.Value, req.Headers)
}
