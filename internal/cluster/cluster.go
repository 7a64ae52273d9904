// Package cluster holds the connection descriptor shared by every layer.
package cluster

import (
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strings"

	"github.com/ppiankov/kafkaconsole/internal/errs"
)

// Kind distinguishes a plain broker list from an MSK cluster reference.
type Kind string

const (
	KindDirect  Kind = "direct"
	KindManaged Kind = "managed"
)

// SecurityProtocol mirrors Kafka's security.protocol setting.
type SecurityProtocol string

const (
	ProtocolPlaintext     SecurityProtocol = "PLAINTEXT"
	ProtocolSSL           SecurityProtocol = "SSL"
	ProtocolSASLPlaintext SecurityProtocol = "SASL_PLAINTEXT"
	ProtocolSASLSSL       SecurityProtocol = "SASL_SSL"
)

// UsesTLS reports whether the protocol wraps connections in TLS.
func (p SecurityProtocol) UsesTLS() bool {
	return p == ProtocolSSL || p == ProtocolSASLSSL
}

// UsesSASL reports whether the protocol authenticates with SASL.
func (p SecurityProtocol) UsesSASL() bool {
	return p == ProtocolSASLPlaintext || p == ProtocolSASLSSL
}

// Mechanism is a SASL mechanism as written in a descriptor.
type Mechanism string

const (
	MechanismPlain       Mechanism = "PLAIN"
	MechanismScramSHA256 Mechanism = "SCRAM-SHA-256"
	MechanismScramSHA512 Mechanism = "SCRAM-SHA-512"
	MechanismAWSIAM      Mechanism = "AWS_MSK_IAM"
)

// ParseMechanism accepts the usual spellings of a mechanism.
func ParseMechanism(s string) (Mechanism, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "PLAIN":
		return MechanismPlain, nil
	case "SCRAM-SHA-256", "SCRAM_SHA_256":
		return MechanismScramSHA256, nil
	case "SCRAM-SHA-512", "SCRAM_SHA_512":
		return MechanismScramSHA512, nil
	case "AWS_MSK_IAM", "AWS-MSK-IAM", "IAM", "AWS":
		return MechanismAWSIAM, nil
	default:
		return "", fmt.Errorf("%w: %s", errs.ErrUnsupportedMechanism, s)
	}
}

// IsScram reports whether m is one of the SCRAM variants.
func (m Mechanism) IsScram() bool {
	return m == MechanismScramSHA256 || m == MechanismScramSHA512
}

// Connection describes how to reach one cluster. Password and KeyPassphrase
// are never written to the registry file.
type Connection struct {
	Name             string           `yaml:"name"`
	Kind             Kind             `yaml:"kind"`
	Brokers          []string         `yaml:"brokers,omitempty"`
	SecurityProtocol SecurityProtocol `yaml:"security_protocol,omitempty"`

	Mechanism Mechanism `yaml:"sasl_mechanism,omitempty"`
	Username  string    `yaml:"sasl_username,omitempty"`
	Password  string    `yaml:"-"`

	CAFile             string `yaml:"ssl_ca_file,omitempty"`
	CertFile           string `yaml:"ssl_cert_file,omitempty"`
	KeyFile            string `yaml:"ssl_key_file,omitempty"`
	KeyPassphrase      string `yaml:"-"`
	RejectUnauthorized *bool  `yaml:"ssl_reject_unauthorized,omitempty"`

	Region        string `yaml:"region,omitempty"`
	ClusterARN    string `yaml:"cluster_arn,omitempty"`
	AWSProfile    string `yaml:"aws_profile,omitempty"`
	AssumeRoleARN string `yaml:"assume_role_arn,omitempty"`

	CachedBrokers []string `yaml:"cached_brokers,omitempty"`
}

// Normalize fills defaults and canonical spellings in place.
func (c *Connection) Normalize() {
	c.Name = strings.TrimSpace(c.Name)
	if c.Kind == "" {
		if c.ClusterARN != "" {
			c.Kind = KindManaged
		} else {
			c.Kind = KindDirect
		}
	}
	c.SecurityProtocol = SecurityProtocol(strings.ToUpper(strings.TrimSpace(string(c.SecurityProtocol))))
	if c.SecurityProtocol == "" {
		c.SecurityProtocol = ProtocolPlaintext
	}
	if m, err := ParseMechanism(string(c.Mechanism)); err == nil {
		c.Mechanism = m
	}
	c.Brokers = SplitBrokers(strings.Join(c.Brokers, ","))
	c.CachedBrokers = SplitBrokers(strings.Join(c.CachedBrokers, ","))
}

// Validate checks the descriptor invariants.
func (c Connection) Validate() error {
	invalid := func(field, msg string) error {
		return &errs.ConfigError{Cluster: c.Name, Field: field, Message: msg}
	}

	if c.Name == "" {
		return invalid("name", "is required")
	}

	switch c.SecurityProtocol {
	case ProtocolPlaintext, ProtocolSSL, ProtocolSASLPlaintext, ProtocolSASLSSL:
	default:
		return invalid("security_protocol", fmt.Sprintf("unknown protocol %q", c.SecurityProtocol))
	}

	if _, err := ParseMechanism(string(c.Mechanism)); err != nil {
		return invalid("sasl_mechanism", err.Error())
	}
	if c.SecurityProtocol.UsesSASL() && c.Mechanism == "" {
		return invalid("sasl_mechanism", "is required for "+string(c.SecurityProtocol))
	}

	switch c.Kind {
	case KindDirect:
		if len(c.Brokers) == 0 {
			return invalid("brokers", "at least one broker is required")
		}
		for _, b := range c.Brokers {
			if _, _, err := net.SplitHostPort(b); err != nil {
				return invalid("brokers", fmt.Sprintf("%q is not host:port", b))
			}
		}
	case KindManaged:
		if c.Region == "" {
			return invalid("region", "is required for managed clusters")
		}
		if c.ClusterARN == "" {
			return invalid("cluster_arn", "is required for managed clusters")
		}
	default:
		return invalid("kind", fmt.Sprintf("must be %q or %q", KindDirect, KindManaged))
	}

	return nil
}

// Seeds returns the brokers a client should bootstrap from: the configured
// list for direct clusters, the cached discovery result for managed ones.
func (c Connection) Seeds() []string {
	if c.Kind == KindManaged {
		return slices.Clone(c.CachedBrokers)
	}
	return slices.Clone(c.Brokers)
}

// IsIAM reports whether the connection authenticates with AWS IAM.
func (c Connection) IsIAM() bool {
	return c.Mechanism == MechanismAWSIAM
}

// VerifyPeer reports whether TLS peer verification is on. Unset means yes.
func (c Connection) VerifyPeer() bool {
	return c.RejectUnauthorized == nil || *c.RejectUnauthorized
}

// Profile returns the AWS profile name, "default" when unset.
func (c Connection) Profile() string {
	if c.AWSProfile == "" {
		return "default"
	}
	return c.AWSProfile
}

// Clone returns a copy that shares no slices or pointers with c.
func (c Connection) Clone() Connection {
	out := c
	out.Brokers = slices.Clone(c.Brokers)
	out.CachedBrokers = slices.Clone(c.CachedBrokers)
	if c.RejectUnauthorized != nil {
		v := *c.RejectUnauthorized
		out.RejectUnauthorized = &v
	}
	return out
}

// LogValue keeps secrets out of structured logs.
func (c Connection) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("name", c.Name),
		slog.String("kind", string(c.Kind)),
		slog.String("security_protocol", string(c.SecurityProtocol)),
	}
	if c.Mechanism != "" {
		attrs = append(attrs, slog.String("sasl_mechanism", string(c.Mechanism)))
	}
	if c.Username != "" {
		attrs = append(attrs, slog.String("sasl_username", c.Username))
	}
	if c.Password != "" {
		attrs = append(attrs, slog.String("sasl_password", "REDACTED"))
	}
	if c.Kind == KindManaged {
		attrs = append(attrs,
			slog.String("region", c.Region),
			slog.String("cluster_arn", c.ClusterARN),
			slog.Int("cached_brokers", len(c.CachedBrokers)),
		)
	} else {
		attrs = append(attrs, slog.Int("brokers", len(c.Brokers)))
	}
	return slog.GroupValue(attrs...)
}

// ConsumerKey identifies a pooled consumer.
type ConsumerKey struct {
	Cluster string
	Group   string
}

func (k ConsumerKey) String() string {
	return k.Cluster + "/" + k.Group
}

// SplitBrokers splits a comma separated broker string, dropping blanks.
func SplitBrokers(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
