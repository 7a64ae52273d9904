package awsauth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/kafkaconsole/internal/errs"
)

type fakeSTS struct {
	calls  int
	input  *sts.AssumeRoleInput
	region string
	base   Credentials
	out    *sts.AssumeRoleOutput
	err    error
}

func (f *fakeSTS) AssumeRole(_ context.Context, in *sts.AssumeRoleInput, _ ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	f.calls++
	f.input = in
	return f.out, f.err
}

func (f *fakeSTS) factory() STSClientFactory {
	return func(region string, base Credentials) STSClient {
		f.region = region
		f.base = base
		return f
	}
}

func staticProvider(name string, creds Credentials, err error) Provider {
	return Provider{
		Name: name,
		Retrieve: func(context.Context, string) (Credentials, error) {
			return creds, err
		},
	}
}

func writeSharedFiles(t *testing.T, credentials string) SharedFiles {
	t.Helper()
	dir := t.TempDir()
	credPath := filepath.Join(dir, "credentials")
	require.NoError(t, os.WriteFile(credPath, []byte(credentials), 0o600))
	return SharedFiles{
		CredentialsFile: credPath,
		ConfigFile:      filepath.Join(dir, "config-does-not-exist"),
	}
}

func TestResolveFirstProviderWins(t *testing.T) {
	var secondCalled bool
	r := NewResolver(WithProviders(
		staticProvider("broken", Credentials{}, errors.New("no file")),
		staticProvider("empty", Credentials{}, nil),
		staticProvider("env", Credentials{AccessKeyID: "AKIAENV", SecretAccessKey: "s"}, nil),
		Provider{Name: "never", Retrieve: func(context.Context, string) (Credentials, error) {
			secondCalled = true
			return Credentials{}, nil
		}},
	))

	creds, err := r.Resolve(context.Background(), Request{Profile: "dev"})
	require.NoError(t, err)
	assert.Equal(t, "AKIAENV", creds.AccessKeyID)
	assert.Equal(t, "env", creds.Source)
	assert.False(t, secondCalled)
}

func TestResolveAllProvidersFail(t *testing.T) {
	r := NewResolver(WithProviders(
		staticProvider("a", Credentials{}, errors.New("missing")),
		staticProvider("b", Credentials{}, nil),
	))

	_, err := r.Resolve(context.Background(), Request{Profile: "dev"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrNoCredentialsFound)

	var credErr *errs.CredentialError
	require.ErrorAs(t, err, &credErr)
	assert.Equal(t, "dev", credErr.Profile)
}

func TestResolveExpiredCredentialsAreClassified(t *testing.T) {
	r := NewResolver(WithProviders(
		staticProvider("old", Credentials{
			AccessKeyID:     "AKIAOLD",
			SecretAccessKey: "s",
			CanExpire:       true,
			Expires:         time.Now().Add(-time.Minute),
		}, nil),
		staticProvider("sso", Credentials{}, &smithy.GenericAPIError{Code: "ExpiredTokenException", Message: "token expired"}),
	))

	_, err := r.Resolve(context.Background(), Request{})
	assert.ErrorIs(t, err, errs.ErrCredentialsExpired)
}

func TestProfileFileProvider(t *testing.T) {
	files := writeSharedFiles(t, "[dev]\naws_access_key_id = AKIADEV\naws_secret_access_key = devsecret\n")

	creds, err := ProfileFileProvider(files).Retrieve(context.Background(), "dev")
	require.NoError(t, err)
	assert.Equal(t, "AKIADEV", creds.AccessKeyID)
	assert.Equal(t, "devsecret", creds.SecretAccessKey)

	_, err = ProfileFileProvider(files).Retrieve(context.Background(), "missing")
	assert.Error(t, err)
}

func TestEnvProvider(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIAENV")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "envsecret")
	t.Setenv("AWS_SESSION_TOKEN", "envtoken")

	creds, err := EnvProvider().Retrieve(context.Background(), "ignored")
	require.NoError(t, err)
	assert.Equal(t, "AKIAENV", creds.AccessKeyID)
	assert.Equal(t, "envtoken", creds.SessionToken)
}

func TestResolveAssumeRoleReturnsRoleCredentials(t *testing.T) {
	files := writeSharedFiles(t, "[dev]\naws_access_key_id = AKIABASE\naws_secret_access_key = basesecret\n")
	// The environment must not leak into role assumption.
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIAENV")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "envsecret")

	expiry := time.Now().Add(time.Hour).UTC()
	fake := &fakeSTS{out: &sts.AssumeRoleOutput{Credentials: &ststypes.Credentials{
		AccessKeyId:     aws.String("ASIAROLE"),
		SecretAccessKey: aws.String("rolesecret"),
		SessionToken:    aws.String("roletoken"),
		Expiration:      aws.Time(expiry),
	}}}

	r := NewResolver(WithSharedFiles(files), WithSTSClientFactory(fake.factory()))
	creds, err := r.Resolve(context.Background(), Request{
		Profile: "dev",
		RoleARN: "arn:aws:iam::123456789012:role/kafka-admin",
		Region:  "eu-west-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "ASIAROLE", creds.AccessKeyID)
	assert.Equal(t, "rolesecret", creds.SecretAccessKey)
	assert.Equal(t, "roletoken", creds.SessionToken)
	assert.True(t, creds.CanExpire)
	assert.Equal(t, expiry, creds.Expires)

	assert.Equal(t, 1, fake.calls)
	assert.Equal(t, "eu-west-1", fake.region)
	assert.Equal(t, "AKIABASE", fake.base.AccessKeyID)
	assert.Equal(t, "arn:aws:iam::123456789012:role/kafka-admin", aws.ToString(fake.input.RoleArn))
	assert.Equal(t, "kafkaconsole", aws.ToString(fake.input.RoleSessionName))
}

func TestResolveAssumeRoleFailures(t *testing.T) {
	base := staticProvider("base", Credentials{AccessKeyID: "AKIABASE", SecretAccessKey: "s"}, nil)

	tests := []struct {
		name   string
		fake   *fakeSTS
		reason error
	}{
		{
			name:   "no credentials in response",
			fake:   &fakeSTS{out: &sts.AssumeRoleOutput{}},
			reason: errs.ErrRoleAssumptionFailed,
		},
		{
			name:   "access denied",
			fake:   &fakeSTS{err: &smithy.GenericAPIError{Code: "AccessDenied", Message: "not allowed"}},
			reason: errs.ErrRoleAssumptionFailed,
		},
		{
			name:   "expired base credentials",
			fake:   &fakeSTS{err: &smithy.GenericAPIError{Code: "ExpiredToken", Message: "expired"}},
			reason: errs.ErrCredentialsExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(WithBaseProviders(base), WithSTSClientFactory(tt.fake.factory()))
			_, err := r.Resolve(context.Background(), Request{Profile: "dev", RoleARN: "arn:aws:iam::1:role/x"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.reason)
		})
	}
}

func TestResolveAssumeRoleWithoutBaseCredentials(t *testing.T) {
	fake := &fakeSTS{}
	r := NewResolver(
		WithBaseProviders(staticProvider("base", Credentials{}, errors.New("missing"))),
		WithSTSClientFactory(fake.factory()),
	)

	_, err := r.Resolve(context.Background(), Request{RoleARN: "arn:aws:iam::1:role/x"})
	assert.ErrorIs(t, err, errs.ErrNoCredentialsFound)
	assert.Zero(t, fake.calls)
}

func TestResolveHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewResolver(WithProviders(staticProvider("a", Credentials{AccessKeyID: "x", SecretAccessKey: "y"}, nil)))
	_, err := r.Resolve(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"ExpiredTokenException", errs.ErrCredentialsExpired},
		{"InvalidClientTokenId", errs.ErrCredentialsExpired},
		{"UnrecognizedClientException", errs.ErrCredentialsExpired},
		{"AccessDeniedException", errs.ErrAccessDenied},
		{"ForbiddenException", errs.ErrAccessDenied},
		{"ThrottlingException", nil},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(&smithy.GenericAPIError{Code: tt.code}))
		})
	}
	assert.Nil(t, Classify(nil))
	assert.Nil(t, Classify(errors.New("plain")))
}
