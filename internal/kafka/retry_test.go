package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/ppiankov/kafkaconsole/internal/errs"
)

// timeoutError satisfies net.Error with Timeout() true.
type timeoutError struct{}

func (e *timeoutError) Error() string   { return "i/o timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }

func dialError(err error) *net.OpError {
	return &net.OpError{
		Op:   "dial",
		Net:  "tcp",
		Addr: &net.TCPAddr{IP: net.IPv4(10, 0, 0, 7), Port: 9098},
		Err:  err,
	}
}

var connRefused = dialError(&os.SyscallError{Syscall: "connect", Err: syscall.ECONNREFUSED})

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		auth      bool
		retryable bool
	}{
		{name: "nil"},
		{name: "plain", err: errors.New("boom")},
		{name: "sasl-failed", err: kerr.SaslAuthenticationFailed, auth: true},
		{name: "sasl-failed-wrapped", err: fmt.Errorf("ping broker: %w", kerr.SaslAuthenticationFailed), auth: true},
		{name: "unsupported-mechanism", err: kerr.UnsupportedSaslMechanism, auth: true},
		{name: "illegal-sasl-state", err: kerr.IllegalSaslState, auth: true},
		{name: "topic-authz", err: kerr.TopicAuthorizationFailed, auth: true},
		{name: "cluster-authz", err: kerr.ClusterAuthorizationFailed, auth: true},
		{name: "group-authz", err: kerr.GroupAuthorizationFailed, auth: true},
		{name: "txn-authz", err: kerr.TransactionalIDAuthorizationFailed, auth: true},
		{name: "first-read-eof", err: &kgo.ErrFirstReadEOF{}, auth: true},
		{name: "first-read-eof-wrapped", err: fmt.Errorf("connect: %w", &kgo.ErrFirstReadEOF{}), auth: true},
		{name: "broker-not-available", err: kerr.BrokerNotAvailable, retryable: true},
		{name: "leader-not-available", err: kerr.LeaderNotAvailable, retryable: true},
		{name: "coordinator-not-available", err: kerr.CoordinatorNotAvailable, retryable: true},
		{name: "request-timed-out", err: kerr.RequestTimedOut, retryable: true},
		{name: "network-exception", err: kerr.NetworkException, retryable: true},
		{name: "invalid-topic", err: kerr.InvalidTopicException},
		{name: "net-closed", err: net.ErrClosed, retryable: true},
		{name: "dial-timeout", err: dialError(&timeoutError{}), retryable: true},
		{name: "connection-refused", err: connRefused},
		{name: "io-eof", err: io.EOF},
		{name: "canceled", err: context.Canceled},
		{name: "deadline", err: context.DeadlineExceeded},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isAuthError(tc.err); got != tc.auth {
				t.Fatalf("isAuthError(%v) = %v, want %v", tc.err, got, tc.auth)
			}
			if got := isRetryable(tc.err); got != tc.retryable {
				t.Fatalf("isRetryable(%v) = %v, want %v", tc.err, got, tc.retryable)
			}
		})
	}
}

func TestClassifyConnectError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{name: "sasl", err: fmt.Errorf("ping broker: %w", kerr.SaslAuthenticationFailed), want: errs.ErrAuthenticationFailed},
		{name: "iam-eof", err: &kgo.ErrFirstReadEOF{}, want: errs.ErrAuthenticationFailed},
		{name: "refused", err: connRefused, want: errs.ErrBrokersUnreachable},
		{name: "deadline", err: fmt.Errorf("ping broker: %w", context.DeadlineExceeded), want: errs.ErrBrokersUnreachable},
		{name: "other", err: errors.New("unexpected"), want: errs.ErrConnectFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyConnectError(tc.err); got != tc.want {
				t.Fatalf("ClassifyConnectError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestNewBackOffSchedule(t *testing.T) {
	b := newBackOff()
	if b.InitialInterval != 500*time.Millisecond || b.MaxInterval != 4*time.Second {
		t.Fatalf("interval bounds = %v..%v, want 500ms..4s", b.InitialInterval, b.MaxInterval)
	}
	if b.Multiplier != 2 || b.RandomizationFactor != 0.2 {
		t.Fatalf("multiplier = %v, randomization = %v", b.Multiplier, b.RandomizationFactor)
	}

	// Every delay stays inside the jittered cap.
	for i := 0; i < 10; i++ {
		if d := b.NextBackOff(); d <= 0 || d > time.Duration(float64(b.MaxInterval)*1.2)+time.Millisecond {
			t.Fatalf("delay %d = %v out of bounds", i, d)
		}
	}
}

func TestWithRetry(t *testing.T) {
	cases := []struct {
		name      string
		failures  int
		err       error
		wantCalls int
		wantErr   error
		wantText  string
	}{
		{name: "first-try", wantCalls: 1},
		{name: "transient-then-ok", failures: 2, err: kerr.BrokerNotAvailable, wantCalls: 3},
		{name: "auth-fails-fast", failures: 10, err: kerr.SaslAuthenticationFailed, wantCalls: 1, wantErr: kerr.SaslAuthenticationFailed},
		{name: "permanent-fails-fast", failures: 10, err: errors.New("permanent failure"), wantCalls: 1, wantText: "permanent failure"},
		{name: "exhausted", failures: 10, err: kerr.LeaderNotAvailable, wantCalls: maxRetries + 1, wantErr: kerr.LeaderNotAvailable, wantText: "attempts exhausted"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			err := withRetry(context.Background(), "describe topic", func() error {
				calls++
				if calls <= tc.failures {
					return tc.err
				}
				return nil
			})

			if calls != tc.wantCalls {
				t.Fatalf("calls = %d, want %d", calls, tc.wantCalls)
			}
			if tc.wantErr == nil && tc.wantText == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("error = %v, want %v", err, tc.wantErr)
			}
			if tc.wantText != "" && !strings.Contains(err.Error(), tc.wantText) {
				t.Fatalf("error = %q, want it to contain %q", err, tc.wantText)
			}
		})
	}
}

func TestWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := withRetry(ctx, "list consumer groups", func() error {
		calls++
		cancel()
		return kerr.CoordinatorLoadInProgress
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if !errors.Is(err, kerr.CoordinatorLoadInProgress) {
		t.Fatalf("error = %v, want last error kept", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestWithRetryStopsAtDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	calls := 0
	start := time.Now()
	err := withRetry(ctx, "ping broker", func() error {
		calls++
		return kerr.BrokerNotAvailable
	})

	if err == nil {
		t.Fatalf("expected error")
	}
	if calls > maxRetries+1 {
		t.Fatalf("too many calls: %d", calls)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("retry outlived its deadline: %v", elapsed)
	}
}
