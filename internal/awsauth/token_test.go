package awsauth

import (
	"context"
	"encoding/base64"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/kafkaconsole/internal/errs"
)

type countingSource struct {
	calls int
	req   Request
	creds Credentials
	err   error
}

func (s *countingSource) Resolve(_ context.Context, req Request) (Credentials, error) {
	s.calls++
	s.req = req
	return s.creds, s.err
}

func TestIAMTokenProviderRequiresRegion(t *testing.T) {
	_, err := NewIAMTokenProvider(&countingSource{}, Request{})
	assert.ErrorIs(t, err, errs.ErrMissingRegion)
}

func TestIAMTokenProviderPresignsConnect(t *testing.T) {
	src := &countingSource{creds: Credentials{AccessKeyID: "ASIAROLE", SecretAccessKey: "secret", SessionToken: "session"}}
	p, err := NewIAMTokenProvider(src, Request{Profile: "dev", RoleARN: "arn:aws:iam::1:role/x", Region: "us-east-1"})
	require.NoError(t, err)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	tok, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fixed.Add(15*time.Minute), tok.Expires)

	raw, err := base64.RawURLEncoding.DecodeString(tok.Value)
	require.NoError(t, err)
	u, err := url.Parse(string(raw))
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "kafka.us-east-1.amazonaws.com", u.Host)
	assert.Equal(t, "kafka-cluster:Connect", q.Get("Action"))
	assert.Equal(t, "900", q.Get("X-Amz-Expires"))
	assert.Equal(t, "AWS4-HMAC-SHA256", q.Get("X-Amz-Algorithm"))
	assert.Contains(t, q.Get("X-Amz-Credential"), "ASIAROLE/20260301/us-east-1/kafka-cluster/aws4_request")
	assert.Equal(t, "session", q.Get("X-Amz-Security-Token"))
	assert.NotEmpty(t, q.Get("X-Amz-Signature"))
	assert.Equal(t, userAgent, q.Get("User-Agent"))

	assert.Equal(t, "arn:aws:iam::1:role/x", src.req.RoleARN)
}

func TestIAMTokenProviderResolvesEveryHandshake(t *testing.T) {
	src := &countingSource{creds: Credentials{AccessKeyID: "A", SecretAccessKey: "B"}}
	p, err := NewIAMTokenProvider(src, Request{Region: "eu-central-1"})
	require.NoError(t, err)

	for range 3 {
		_, err := p.Token(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, src.calls)
}

func TestIAMTokenProviderPropagatesCredentialErrors(t *testing.T) {
	src := &countingSource{err: &errs.CredentialError{Profile: "dev", Reason: errs.ErrCredentialsExpired}}
	p, err := NewIAMTokenProvider(src, Request{Region: "us-east-1"})
	require.NoError(t, err)

	_, err = p.Token(context.Background())
	assert.ErrorIs(t, err, errs.ErrCredentialsExpired)
}
