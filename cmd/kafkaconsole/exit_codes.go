package main

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/ppiankov/kafkaconsole/internal/errs"
)

// Process exit codes.
const (
	ExitSuccess    = 0
	ExitInternal   = 1
	ExitInvalidArg = 2
	ExitNotFound   = 3
	ExitNetwork    = 4
	ExitAuth       = 5
	ExitRetryable  = 6
)

var (
	invalidReasons = []error{
		errs.ErrInvalidDescriptor,
		errs.ErrWildcardOnCreate,
		errs.ErrUnsupportedMechanism,
		errs.ErrMissingRegion,
		errs.ErrCertificate,
		errs.ErrMissingSecret,
		errs.ErrMalformedCredentials,
	}
	notFoundReasons = []error{
		errs.ErrClusterNotFound,
		errs.ErrGroupNotFound,
		os.ErrNotExist,
	}
	authReasons = []error{
		errs.ErrCredentialsExpired,
		errs.ErrNoCredentialsFound,
		errs.ErrRoleAssumptionFailed,
		errs.ErrAuthenticationFailed,
		errs.ErrAccessDenied,
	}
	networkReasons = []error{
		errs.ErrBrokersUnreachable,
		errs.ErrNoBootstrapBrokers,
		errs.ErrDiscoveryFailed,
		errs.ErrConnectFailed,
		context.DeadlineExceeded,
	}
)

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// classifyError maps an error to an exit code. Typed reasons win; plain
// errors fall back to message matching.
func classifyError(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errs.IsRetryable(err):
		return ExitRetryable
	case isAny(err, invalidReasons):
		return ExitInvalidArg
	case isAny(err, notFoundReasons):
		return ExitNotFound
	case isAny(err, authReasons):
		return ExitAuth
	case isAny(err, networkReasons):
		return ExitNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not a directory"),
		strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "no such file"):
		return ExitNotFound
	case strings.Contains(msg, "dial"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "i/o timeout"),
		strings.Contains(msg, "network is unreachable"):
		return ExitNetwork
	case strings.Contains(msg, "required"),
		strings.Contains(msg, "invalid"),
		strings.Contains(msg, "must be"),
		strings.Contains(msg, "expected"),
		strings.Contains(msg, "unknown flag"),
		strings.Contains(msg, "accepts"):
		return ExitInvalidArg
	}

	return ExitInternal
}

// failureReason names the first known reason carried by err.
func failureReason(err error) string {
	for _, group := range [][]error{invalidReasons, notFoundReasons, authReasons, networkReasons} {
		for _, target := range group {
			if errors.Is(err, target) {
				return target.Error()
			}
		}
	}
	return ""
}
