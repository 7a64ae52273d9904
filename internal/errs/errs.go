// Package errs defines the typed errors shared by the connection layer.
//
// Every typed error carries a sentinel Reason and the underlying cause, and
// unwraps to both, so callers can match with errors.Is on the reason or on
// the original library error.
package errs

import (
	"errors"
	"fmt"
)

// Credential reasons.
var (
	ErrCredentialsExpired   = errors.New("credentials expired or invalid")
	ErrNoCredentialsFound   = errors.New("no credentials found")
	ErrMalformedCredentials = errors.New("malformed credentials file")
	ErrRoleAssumptionFailed = errors.New("role assumption failed")
)

// Discovery reasons.
var (
	ErrNoBootstrapBrokers = errors.New("no bootstrap brokers available")
	ErrAccessDenied       = errors.New("access denied")
	ErrDiscoveryFailed    = errors.New("broker discovery failed")
)

// Auth config reasons.
var (
	ErrMissingRegion        = errors.New("region is required for IAM authentication")
	ErrUnsupportedMechanism = errors.New("unsupported SASL mechanism")
	ErrCertificate          = errors.New("invalid certificate material")
	ErrMissingSecret        = errors.New("missing secret")
)

// Connection reasons.
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrBrokersUnreachable   = errors.New("brokers unreachable")
	ErrConnectFailed        = errors.New("connect failed")
)

// Group state reasons.
var (
	ErrCoordinatorUnavailable = errors.New("group coordinator unavailable")
	ErrGroupHasActiveMembers  = errors.New("group has active members")
	ErrGroupNotFound          = errors.New("group not found")
)

// Descriptor and lookup reasons.
var (
	ErrInvalidDescriptor = errors.New("invalid cluster descriptor")
	ErrClusterNotFound   = errors.New("cluster not found")
	ErrWildcardOnCreate  = errors.New("wildcard values are not allowed when creating an ACL")
)

func chain(reason, err error) []error {
	if err == nil {
		return []error{reason}
	}
	return []error{reason, err}
}

func describe(prefix string, reason, err error) string {
	if err == nil {
		return fmt.Sprintf("%s: %v", prefix, reason)
	}
	return fmt.Sprintf("%s: %v: %v", prefix, reason, err)
}

// CredentialError reports a failure to produce AWS credentials for a profile.
type CredentialError struct {
	Profile string
	Reason  error
	Err     error
}

func (e *CredentialError) Error() string {
	return describe(fmt.Sprintf("resolve credentials for profile %q", e.Profile), e.Reason, e.Err)
}

func (e *CredentialError) Unwrap() []error { return chain(e.Reason, e.Err) }

// DiscoveryError reports a failed bootstrap-broker lookup.
type DiscoveryError struct {
	Cluster string
	Reason  error
	Err     error
}

func (e *DiscoveryError) Error() string {
	return describe(fmt.Sprintf("discover brokers for cluster %q", e.Cluster), e.Reason, e.Err)
}

func (e *DiscoveryError) Unwrap() []error { return chain(e.Reason, e.Err) }

// AuthConfigError reports a descriptor that cannot be turned into TLS/SASL settings.
type AuthConfigError struct {
	Cluster string
	Reason  error
	Err     error
}

func (e *AuthConfigError) Error() string {
	return describe(fmt.Sprintf("build auth config for cluster %q", e.Cluster), e.Reason, e.Err)
}

func (e *AuthConfigError) Unwrap() []error { return chain(e.Reason, e.Err) }

// ConnectionError reports a failure to reach or authenticate against brokers.
type ConnectionError struct {
	Cluster string
	Reason  error
	Err     error
}

func (e *ConnectionError) Error() string {
	return describe(fmt.Sprintf("connect to cluster %q", e.Cluster), e.Reason, e.Err)
}

func (e *ConnectionError) Unwrap() []error { return chain(e.Reason, e.Err) }

// GroupStateError reports a consumer group operation rejected because of the
// group's current state.
type GroupStateError struct {
	Group  string
	Reason error
	Err    error
}

func (e *GroupStateError) Error() string {
	return describe(fmt.Sprintf("consumer group %q", e.Group), e.Reason, e.Err)
}

func (e *GroupStateError) Unwrap() []error { return chain(e.Reason, e.Err) }

// Retryable reports whether the caller may retry once the group settles.
func (e *GroupStateError) Retryable() bool {
	return errors.Is(e.Reason, ErrCoordinatorUnavailable) || errors.Is(e.Reason, ErrGroupHasActiveMembers)
}

// ConfigError reports an invalid cluster descriptor field.
type ConfigError struct {
	Cluster string
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Cluster == "" {
		return fmt.Sprintf("invalid cluster descriptor: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid cluster descriptor %q: %s: %s", e.Cluster, e.Field, e.Message)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidDescriptor }

// IsRetryable reports whether err carries a retryable group-state reason.
func IsRetryable(err error) bool {
	var gse *GroupStateError
	return errors.As(err, &gse) && gse.Retryable()
}
