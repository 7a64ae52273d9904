// Package kafkatest provides in-memory implementations of the kafka package
// interfaces for tests.
package kafkatest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/ppiankov/kafkaconsole/internal/kafka"
)

// Topic is the in-memory state of a topic.
type Topic struct {
	Partitions   int32
	Replication  int
	Low          map[int32]int64
	High         map[int32]int64
	WatermarkErr map[int32]error
	Config       map[string]string
	DescribeErr  error
}

// Group is the in-memory state of a consumer group.
type Group struct {
	State     string
	Members   []kafka.GroupMember
	Offsets   kafka.CommittedOffsets
	CommitErr error
	DeleteErr error
}

// Admin is an in-memory kafka.Admin.
type Admin struct {
	mu sync.Mutex

	BrokerList []kafka.BrokerInfo
	Topics     map[string]*Topic
	Groups     map[string]*Group
	ACLs       []kafka.ACLEntry

	// InFlight tracks concurrent DescribeTopic calls; MaxInFlight is the peak.
	InFlight    atomic.Int32
	MaxInFlight atomic.Int32
	DescribeLag time.Duration

	Closed atomic.Int32
}

// NewAdmin returns an admin with one broker and no topics.
func NewAdmin() *Admin {
	return &Admin{
		BrokerList: []kafka.BrokerInfo{{ID: 1, Host: "localhost", Port: 9092}},
		Topics:     make(map[string]*Topic),
		Groups:     make(map[string]*Group),
	}
}

// AddTopic registers a topic with the given high watermarks and zero low watermarks.
func (a *Admin) AddTopic(name string, high ...int64) *Topic {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := &Topic{
		Partitions:   int32(len(high)),
		Replication:  1,
		Low:          make(map[int32]int64),
		High:         make(map[int32]int64),
		WatermarkErr: make(map[int32]error),
		Config:       map[string]string{"cleanup.policy": "delete"},
	}
	for i, h := range high {
		t.Low[int32(i)] = 0
		t.High[int32(i)] = h
	}
	a.Topics[name] = t
	return t
}

// AddGroup registers a consumer group.
func (a *Admin) AddGroup(name, state string, offsets kafka.CommittedOffsets) *Group {
	a.mu.Lock()
	defer a.mu.Unlock()
	if offsets == nil {
		offsets = make(kafka.CommittedOffsets)
	}
	g := &Group{State: state, Offsets: offsets}
	a.Groups[name] = g
	return g
}

// GroupOffsets returns a copy of a group's committed offsets.
func (a *Admin) GroupOffsets(name string) kafka.CommittedOffsets {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(kafka.CommittedOffsets)
	if g, ok := a.Groups[name]; ok {
		for t, ps := range g.Offsets {
			for p, o := range ps {
				out.Set(t, p, o)
			}
		}
	}
	return out
}

func (a *Admin) Brokers(context.Context) ([]kafka.BrokerInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]kafka.BrokerInfo(nil), a.BrokerList...), nil
}

func (a *Admin) info(name string, t *Topic) kafka.TopicInfo {
	return kafka.TopicInfo{
		Name:              name,
		Partitions:        int(t.Partitions),
		ReplicationFactor: t.Replication,
		Internal:          len(name) > 1 && name[:2] == "__",
	}
}

func (a *Admin) ListTopics(context.Context) ([]kafka.TopicInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]kafka.TopicInfo, 0, len(a.Topics))
	for name, t := range a.Topics {
		out = append(out, a.info(name, t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (a *Admin) DescribeTopic(ctx context.Context, topic string) (kafka.TopicInfo, []kafka.PartitionInfo, error) {
	n := a.InFlight.Add(1)
	defer a.InFlight.Add(-1)
	for {
		peak := a.MaxInFlight.Load()
		if n <= peak || a.MaxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	if a.DescribeLag > 0 {
		select {
		case <-time.After(a.DescribeLag):
		case <-ctx.Done():
			return kafka.TopicInfo{}, nil, ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.Topics[topic]
	if !ok {
		return kafka.TopicInfo{}, nil, fmt.Errorf("describe topic %s: %w", topic, kerr.UnknownTopicOrPartition)
	}
	if t.DescribeErr != nil {
		return kafka.TopicInfo{}, nil, t.DescribeErr
	}
	parts := make([]kafka.PartitionInfo, 0, t.Partitions)
	for p := int32(0); p < t.Partitions; p++ {
		parts = append(parts, kafka.PartitionInfo{Partition: p, Leader: 1, Replicas: []int32{1}, ISR: []int32{1}})
	}
	return a.info(topic, t), parts, nil
}

func (a *Admin) TopicConfigs(_ context.Context, topics ...string) (map[string]map[string]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]map[string]string)
	for _, name := range topics {
		if t, ok := a.Topics[name]; ok {
			out[name] = t.Config
		}
	}
	return out, nil
}

func (a *Admin) Watermarks(_ context.Context, topics ...string) (kafka.Watermarks, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(kafka.Watermarks)
	for _, name := range topics {
		t, ok := a.Topics[name]
		if !ok {
			continue
		}
		out[name] = make(map[int32]kafka.Watermark)
		for p := int32(0); p < t.Partitions; p++ {
			out[name][p] = kafka.Watermark{Low: t.Low[p], High: t.High[p], Err: t.WatermarkErr[p]}
		}
	}
	return out, nil
}

func (a *Admin) CreateTopic(_ context.Context, topic string, partitions int32, replicationFactor int16, configs map[string]string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.Topics[topic]; ok {
		return fmt.Errorf("create topic %s: %w", topic, kerr.TopicAlreadyExists)
	}
	t := &Topic{
		Partitions:   partitions,
		Replication:  int(replicationFactor),
		Low:          make(map[int32]int64),
		High:         make(map[int32]int64),
		WatermarkErr: make(map[int32]error),
		Config:       configs,
	}
	a.Topics[topic] = t
	return nil
}

func (a *Admin) DeleteTopic(_ context.Context, topic string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.Topics[topic]; !ok {
		return fmt.Errorf("delete topic %s: %w", topic, kerr.UnknownTopicOrPartition)
	}
	delete(a.Topics, topic)
	return nil
}

func (a *Admin) ListGroups(context.Context) ([]kafka.GroupSummary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]kafka.GroupSummary, 0, len(a.Groups))
	for name, g := range a.Groups {
		out = append(out, kafka.GroupSummary{Group: name, State: g.State, ProtocolType: "consumer", Coordinator: 1})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Group < out[j].Group })
	return out, nil
}

func (a *Admin) DescribeGroup(_ context.Context, group string) (kafka.GroupDescription, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.Groups[group]
	if !ok {
		return kafka.GroupDescription{}, kafka.ClassifyGroupError(group, kerr.GroupIDNotFound)
	}
	return kafka.GroupDescription{
		Group:       group,
		State:       g.State,
		Protocol:    "range",
		Coordinator: 1,
		Members:     append([]kafka.GroupMember(nil), g.Members...),
	}, nil
}

func (a *Admin) CommittedOffsets(_ context.Context, group string) (kafka.CommittedOffsets, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.Groups[group]
	if !ok {
		return kafka.CommittedOffsets{}, nil
	}
	out := make(kafka.CommittedOffsets)
	for t, ps := range g.Offsets {
		for p, o := range ps {
			out.Set(t, p, o)
		}
	}
	return out, nil
}

func (a *Admin) CommitOffsets(_ context.Context, group string, offsets kafka.CommittedOffsets) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.Groups[group]
	if !ok {
		g = &Group{State: "Empty", Offsets: make(kafka.CommittedOffsets)}
		a.Groups[group] = g
	}
	if g.CommitErr != nil {
		return kafka.ClassifyGroupError(group, g.CommitErr)
	}
	for t, ps := range offsets {
		for p, o := range ps {
			g.Offsets.Set(t, p, o)
		}
	}
	return nil
}

func (a *Admin) DeleteGroup(_ context.Context, group string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.Groups[group]
	if !ok {
		return kafka.ClassifyGroupError(group, kerr.GroupIDNotFound)
	}
	if g.DeleteErr != nil {
		return kafka.ClassifyGroupError(group, g.DeleteErr)
	}
	delete(a.Groups, group)
	return nil
}

func matches(f kafka.ACLFilter, e kafka.ACLEntry) bool {
	switch {
	case f.ResourceType != kmsg.ACLResourceTypeAny && f.ResourceType != e.ResourceType:
		return false
	case f.ResourceName != nil && *f.ResourceName != e.ResourceName:
		return false
	case f.PatternType != kmsg.ACLResourcePatternTypeAny && f.PatternType != kmsg.ACLResourcePatternTypeMatch && f.PatternType != e.PatternType:
		return false
	case f.Principal != nil && *f.Principal != e.Principal:
		return false
	case f.Host != nil && *f.Host != e.Host:
		return false
	case f.Operation != kmsg.ACLOperationAny && f.Operation != e.Operation:
		return false
	case f.Permission != kmsg.ACLPermissionTypeAny && f.Permission != e.Permission:
		return false
	}
	return true
}

func (a *Admin) DescribeACLs(_ context.Context, filter kafka.ACLFilter) ([]kafka.ACLEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []kafka.ACLEntry
	for _, e := range a.ACLs {
		if matches(filter, e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (a *Admin) CreateACLs(_ context.Context, entries []kafka.ACLEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ACLs = append(a.ACLs, entries...)
	return nil
}

func (a *Admin) DeleteACLs(_ context.Context, filter kafka.ACLFilter) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.ACLs[:0]
	deleted := 0
	for _, e := range a.ACLs {
		if matches(filter, e) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	a.ACLs = kept
	return deleted, nil
}

func (a *Admin) Close() error {
	a.Closed.Add(1)
	return nil
}

// Producer records produced messages.
type Producer struct {
	mu       sync.Mutex
	Produced []kafka.Record
	Closed   atomic.Int32
}

func (p *Producer) Produce(_ context.Context, topic string, key, value []byte, headers map[string]string) (kafka.ProducedRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	offset := int64(len(p.Produced))
	p.Produced = append(p.Produced, kafka.Record{Topic: topic, Offset: offset, Key: key, Value: value, Headers: headers})
	return kafka.ProducedRecord{Topic: topic, Offset: offset, Timestamp: time.Now()}, nil
}

func (p *Producer) Close() error {
	p.Closed.Add(1)
	return nil
}

// Consumer hands out queued batches and then blocks until its context ends
// or it is closed. A batch larger than the requested limit is split and the
// rest stays buffered. Closing a group consumer commits the offsets of the
// records it returned.
type Consumer struct {
	mu        sync.Mutex
	Batches   [][]kafka.Record
	Opts      kafka.ConsumerOptions
	polled    kafka.CommittedOffsets
	committed kafka.CommittedOffsets
	closed    chan struct{}
	once      sync.Once
	Closes    atomic.Int32
}

// NewConsumer returns a consumer that yields batches in order.
func NewConsumer(batches ...[]kafka.Record) *Consumer {
	return &Consumer{
		Batches: batches,
		polled:  make(kafka.CommittedOffsets),
		closed:  make(chan struct{}),
	}
}

func (c *Consumer) Poll(ctx context.Context, limit int) ([]kafka.Record, error) {
	c.mu.Lock()
	if len(c.Batches) > 0 {
		batch := c.Batches[0]
		if limit > 0 && len(batch) > limit {
			c.Batches[0] = batch[limit:]
			batch = batch[:limit]
		} else {
			c.Batches = c.Batches[1:]
		}
		for _, r := range batch {
			c.polled.Set(r.Topic, r.Partition, r.Offset+1)
		}
		c.mu.Unlock()
		return batch, nil
	}
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, kafka.ErrConsumerClosed
	}
}

// Committed returns the offsets committed at Close, nil before Close or for
// a groupless consumer.
func (c *Consumer) Committed() kafka.CommittedOffsets {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.committed
}

func (c *Consumer) Close() error {
	c.Closes.Add(1)
	c.once.Do(func() {
		c.mu.Lock()
		if c.Opts.Group != "" {
			c.committed = c.polled
		}
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

// Factory is a kafka.ClientFactory that hands out a shared Admin.
type Factory struct {
	Admin    *Admin
	Producer *Producer

	// Delay stalls Connect, making concurrent callers overlap.
	Delay time.Duration
	// ConsumerGate, when set, holds NewConsumer until it is closed.
	ConsumerGate chan struct{}
	pending      atomic.Int32

	mu         sync.Mutex
	connectErr error
	connects   int
	seeds      [][]string
	consumers  []*Consumer
	NextBatch  [][]kafka.Record
}

// NewFactory returns a factory around a fresh Admin.
func NewFactory() *Factory {
	return &Factory{Admin: NewAdmin(), Producer: &Producer{}}
}

// FailConnects makes subsequent connects fail with err; nil clears it.
func (f *Factory) FailConnects(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErr = err
}

// Connects returns how many times Connect ran.
func (f *Factory) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// Seeds returns the seed lists passed to Connect.
func (f *Factory) Seeds() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.seeds...)
}

// Consumers returns the consumers created so far.
func (f *Factory) Consumers() []*Consumer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Consumer(nil), f.consumers...)
}

func (f *Factory) Connect(ctx context.Context, _ string, seeds []string, _ *kafka.AuthConfig) (*kafka.Handles, error) {
	f.mu.Lock()
	f.connects++
	f.seeds = append(f.seeds, seeds)
	err := f.connectErr
	f.mu.Unlock()

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return nil, errors.New("no seeds")
	}
	return &kafka.Handles{Admin: f.Admin, Producer: f.Producer}, nil
}

// PendingConsumers returns how many NewConsumer calls wait on ConsumerGate.
func (f *Factory) PendingConsumers() int {
	return int(f.pending.Load())
}

func (f *Factory) NewConsumer(ctx context.Context, _ string, _ []string, _ *kafka.AuthConfig, opts kafka.ConsumerOptions) (kafka.Consumer, error) {
	if f.ConsumerGate != nil {
		f.pending.Add(1)
		select {
		case <-f.ConsumerGate:
			f.pending.Add(-1)
		case <-ctx.Done():
			f.pending.Add(-1)
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	c := NewConsumer(f.NextBatch...)
	c.Opts = opts
	f.consumers = append(f.consumers, c)
	return c, nil
}
