package kafka

import "time"

// BrokerInfo contains metadata about a Kafka broker
type BrokerInfo struct {
	ID   int32  `json:"id"`
	Host string `json:"host"`
	Port int32  `json:"port"`
	Rack string `json:"rack,omitempty"`
}

// TopicInfo contains metadata about a Kafka topic
type TopicInfo struct {
	Name              string            `json:"name"`
	Partitions        int               `json:"partitions"`
	ReplicationFactor int               `json:"replication_factor"`
	Internal          bool              `json:"internal"` // System topics like __consumer_offsets
	Config            map[string]string `json:"config,omitempty"`
}

// PartitionInfo describes one partition's replica placement
type PartitionInfo struct {
	Partition int32   `json:"partition"`
	Leader    int32   `json:"leader"`
	Replicas  []int32 `json:"replicas"`
	ISR       []int32 `json:"isr"`
}

// Watermark is the low/high offset pair of a partition. Err is set when the
// lookup for this partition failed.
type Watermark struct {
	Low  int64
	High int64
	Err  error
}

// Watermarks maps topic -> partition -> watermark.
type Watermarks map[string]map[int32]Watermark

// CommittedOffsets maps topic -> partition -> committed offset.
type CommittedOffsets map[string]map[int32]int64

// Set records an offset, creating the topic map as needed.
func (c CommittedOffsets) Set(topic string, partition int32, offset int64) {
	if c[topic] == nil {
		c[topic] = make(map[int32]int64)
	}
	c[topic][partition] = offset
}

// Topics returns the topics present in c.
func (c CommittedOffsets) Topics() []string {
	topics := make([]string, 0, len(c))
	for t := range c {
		topics = append(topics, t)
	}
	return topics
}

// GroupSummary is one entry of a consumer group listing
type GroupSummary struct {
	Group        string `json:"group"`
	State        string `json:"state"` // Stable, Empty, Dead, etc.
	ProtocolType string `json:"protocol_type"`
	Coordinator  int32  `json:"coordinator"` // Broker ID
}

// GroupMember describes one member of a consumer group
type GroupMember struct {
	MemberID    string             `json:"member_id"`
	ClientID    string             `json:"client_id"`
	ClientHost  string             `json:"client_host"`
	Assignments map[string][]int32 `json:"assignments,omitempty"`
}

// GroupDescription is the detailed state of a consumer group
type GroupDescription struct {
	Group       string        `json:"group"`
	State       string        `json:"state"`
	Protocol    string        `json:"protocol"`
	Coordinator int32         `json:"coordinator"`
	Members     []GroupMember `json:"members"`
}

// Record is a consumed message
type Record struct {
	Topic     string            `json:"topic"`
	Partition int32             `json:"partition"`
	Offset    int64             `json:"offset"`
	Timestamp time.Time         `json:"timestamp"`
	Key       []byte            `json:"key,omitempty"`
	Value     []byte            `json:"value,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// ProducedRecord reports where a produced message landed
type ProducedRecord struct {
	Topic     string    `json:"topic"`
	Partition int32     `json:"partition"`
	Offset    int64     `json:"offset"`
	Timestamp time.Time `json:"timestamp"`
}

// Config holds client-wide settings for the connections the factory creates
type Config struct {
	ClientID     string
	QueryTimeout time.Duration
}
