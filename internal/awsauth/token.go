package awsauth

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"

	"github.com/ppiankov/kafkaconsole/internal/errs"
)

const (
	signingService = "kafka-cluster"
	connectAction  = "kafka-cluster:Connect"
	tokenTTL       = 15 * time.Minute
	userAgent      = "kafkaconsole-msk-iam"

	// SHA-256 of an empty body.
	emptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

// Token is a bearer token for the MSK IAM OAUTHBEARER handshake.
type Token struct {
	Value   string
	Expires time.Time
}

// TokenProvider mints a token per SASL handshake.
type TokenProvider interface {
	Token(ctx context.Context) (Token, error)
}

// IAMTokenProvider presigns a kafka-cluster:Connect request with freshly
// resolved credentials every time a token is requested.
type IAMTokenProvider struct {
	source Source
	req    Request
	signer *v4.Signer
	now    func() time.Time
}

// NewIAMTokenProvider returns a provider for the region in req.
func NewIAMTokenProvider(source Source, req Request) (*IAMTokenProvider, error) {
	if req.Region == "" {
		return nil, errs.ErrMissingRegion
	}
	return &IAMTokenProvider{
		source: source,
		req:    req,
		signer: v4.NewSigner(),
		now:    time.Now,
	}, nil
}

// Token resolves credentials and returns a base64url encoded presigned URL.
func (p *IAMTokenProvider) Token(ctx context.Context) (Token, error) {
	creds, err := p.source.Resolve(ctx, p.req)
	if err != nil {
		return Token{}, err
	}

	query := url.Values{
		"Action":        {connectAction},
		"X-Amz-Expires": {strconv.FormatInt(int64(tokenTTL/time.Second), 10)},
	}
	endpoint := url.URL{
		Scheme:   "https",
		Host:     fmt.Sprintf("kafka.%s.amazonaws.com", p.req.Region),
		Path:     "/",
		RawQuery: query.Encode(),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Token{}, fmt.Errorf("build presign request: %w", err)
	}

	signedAt := p.now().UTC()
	signed, _, err := p.signer.PresignHTTP(ctx, creds.AWS(), req, emptyPayloadHash, signingService, p.req.Region, signedAt)
	if err != nil {
		return Token{}, fmt.Errorf("presign MSK IAM token: %w", err)
	}

	signedURL, err := url.Parse(signed)
	if err != nil {
		return Token{}, fmt.Errorf("parse presigned URL: %w", err)
	}
	q := signedURL.Query()
	q.Set("User-Agent", userAgent)
	signedURL.RawQuery = q.Encode()

	return Token{
		Value:   base64.RawURLEncoding.EncodeToString([]byte(signedURL.String())),
		Expires: signedAt.Add(tokenTTL),
	}, nil
}
