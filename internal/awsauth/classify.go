package awsauth

import (
	"errors"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/ppiankov/kafkaconsole/internal/errs"
)

// Classify maps an AWS SDK error to errs.ErrCredentialsExpired or
// errs.ErrAccessDenied, or nil when it is neither.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, errs.ErrCredentialsExpired) {
		return errs.ErrCredentialsExpired
	}
	if errors.Is(err, errs.ErrAccessDenied) {
		return errs.ErrAccessDenied
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return nil
	}

	code := apiErr.ErrorCode()
	switch {
	case strings.HasPrefix(code, "ExpiredToken"),
		code == "InvalidClientTokenId",
		code == "UnrecognizedClientException",
		code == "InvalidSignatureException",
		code == "RequestExpired":
		return errs.ErrCredentialsExpired
	case strings.HasPrefix(code, "AccessDenied"),
		code == "ForbiddenException",
		code == "UnauthorizedException",
		code == "UnauthorizedOperation":
		return errs.ErrAccessDenied
	}
	return nil
}
