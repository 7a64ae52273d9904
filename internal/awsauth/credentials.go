// Package awsauth resolves AWS credentials for MSK clusters and mints the
// IAM tokens used by SASL/OAUTHBEARER.
package awsauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/ppiankov/kafkaconsole/internal/errs"
	"github.com/ppiankov/kafkaconsole/internal/metrics"
)

const (
	defaultProfile     = "default"
	defaultSTSRegion   = "us-east-1"
	defaultSessionName = "kafkaconsole"
	defaultRoleTTL     = time.Hour
)

// Credentials is a time-bounded AWS key triple plus the provider that produced it.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expires         time.Time
	CanExpire       bool
	Source          string
}

// HasKeys reports whether an access key was produced.
func (c Credentials) HasKeys() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// Expired reports whether the credentials are past their expiry at now.
func (c Credentials) Expired(now time.Time) bool {
	return c.CanExpire && !c.Expires.IsZero() && !now.Before(c.Expires)
}

// AWS converts to the SDK representation.
func (c Credentials) AWS() aws.Credentials {
	return aws.Credentials{
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		SessionToken:    c.SessionToken,
		Source:          c.Source,
		CanExpire:       c.CanExpire,
		Expires:         c.Expires,
	}
}

// StaticProvider wraps the credentials for SDK clients.
func (c Credentials) StaticProvider() aws.CredentialsProvider {
	return credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, c.SessionToken)
}

// LogValue never exposes key material.
func (c Credentials) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("source", c.Source)}
	if c.CanExpire {
		attrs = append(attrs, slog.Time("expires", c.Expires))
	}
	return slog.GroupValue(attrs...)
}

func fromAWS(c aws.Credentials, source string) Credentials {
	return Credentials{
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		SessionToken:    c.SessionToken,
		Expires:         c.Expires,
		CanExpire:       c.CanExpire,
		Source:          source,
	}
}

// Request selects the credentials to resolve.
type Request struct {
	Profile string
	RoleARN string
	// Region is used for the STS call when RoleARN is set.
	Region string
}

// Source resolves credentials for a request.
type Source interface {
	Resolve(ctx context.Context, req Request) (Credentials, error)
}

// STSClient defines the STS operations used, enabling mock injection for testing.
type STSClient interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// STSClientFactory builds an STS client signed with the base credentials.
type STSClientFactory func(region string, base Credentials) STSClient

func newSTSClient(region string, base Credentials) STSClient {
	return sts.New(sts.Options{
		Region:      region,
		Credentials: base.StaticProvider(),
	})
}

// Resolver turns a profile name and optional role ARN into credentials.
type Resolver struct {
	files       SharedFiles
	providers   []Provider
	base        []Provider
	newSTS      STSClientFactory
	sessionName string
	roleTTL     time.Duration
	now         func() time.Time
	metrics     *metrics.Metrics
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithSharedFiles overrides the shared credentials and config file locations.
func WithSharedFiles(files SharedFiles) Option {
	return func(r *Resolver) { r.files = files }
}

// WithProviders replaces the chain used when no role is assumed.
func WithProviders(providers ...Provider) Option {
	return func(r *Resolver) { r.providers = providers }
}

// WithBaseProviders replaces the chain that produces the credentials used to call STS.
func WithBaseProviders(providers ...Provider) Option {
	return func(r *Resolver) { r.base = providers }
}

// WithSTSClientFactory overrides how STS clients are built.
func WithSTSClientFactory(f STSClientFactory) Option {
	return func(r *Resolver) { r.newSTS = f }
}

// WithSessionName sets the RoleSessionName sent to STS.
func WithSessionName(name string) Option {
	return func(r *Resolver) { r.sessionName = name }
}

// WithMetrics records resolutions on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver builds a Resolver. Without options it reads ~/.aws/credentials,
// ~/.aws/config and the environment the way the AWS CLI does.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		newSTS:      newSTSClient,
		sessionName: defaultSessionName,
		roleTTL:     defaultRoleTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.providers == nil {
		r.providers = []Provider{
			ProfileFileProvider(r.files),
			EnvProvider(),
			DefaultChainProvider(r.files),
		}
	}
	// Role assumption always starts from the profile files, never the environment.
	if r.base == nil {
		r.base = []Provider{ProfileFileProvider(r.files)}
	}

	return r
}

// Resolve returns credentials for req. With a role ARN the STS-issued
// credentials are returned, never the base credentials used to obtain them.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Credentials, error) {
	profile := req.Profile
	if profile == "" {
		profile = defaultProfile
	}

	if req.RoleARN == "" {
		return r.firstProvider(ctx, profile, r.providers)
	}
	return r.assumeRole(ctx, profile, req)
}

func (r *Resolver) assumeRole(ctx context.Context, profile string, req Request) (Credentials, error) {
	base, err := r.firstProvider(ctx, profile, r.base)
	if err != nil {
		return Credentials{}, err
	}

	region := req.Region
	if region == "" {
		region = defaultSTSRegion
	}

	out, err := r.newSTS(region, base).AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(req.RoleARN),
		RoleSessionName: aws.String(r.sessionName),
		DurationSeconds: aws.Int32(int32(r.roleTTL / time.Second)),
	})
	if err != nil {
		r.metrics.ObserveCredentials("assume-role", err)
		reason := errs.ErrRoleAssumptionFailed
		if Classify(err) == errs.ErrCredentialsExpired {
			reason = errs.ErrCredentialsExpired
		}
		return Credentials{}, &errs.CredentialError{
			Profile: profile,
			Reason:  reason,
			Err:     fmt.Errorf("assume role %s: %w", req.RoleARN, err),
		}
	}

	if out == nil || out.Credentials == nil || aws.ToString(out.Credentials.AccessKeyId) == "" {
		err := fmt.Errorf("assume role %s: response carried no credentials", req.RoleARN)
		r.metrics.ObserveCredentials("assume-role", err)
		return Credentials{}, &errs.CredentialError{Profile: profile, Reason: errs.ErrRoleAssumptionFailed, Err: err}
	}

	r.metrics.ObserveCredentials("assume-role", nil)
	creds := Credentials{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		Expires:         aws.ToTime(out.Credentials.Expiration),
		CanExpire:       true,
		Source:          "assume-role",
	}
	slog.Debug("assumed role", "profile", profile, "role_arn", req.RoleARN, "credentials", creds)
	return creds, nil
}

// firstProvider evaluates providers in order and returns the first one that
// yields an unexpired access key.
func (r *Resolver) firstProvider(ctx context.Context, profile string, providers []Provider) (Credentials, error) {
	reason := errs.ErrNoCredentialsFound
	var failures []error

	for _, p := range providers {
		if err := ctx.Err(); err != nil {
			return Credentials{}, &errs.CredentialError{Profile: profile, Reason: reason, Err: err}
		}

		creds, err := p.Retrieve(ctx, profile)
		switch {
		case err != nil:
		case !creds.HasKeys():
			err = errors.New("no access key")
		case creds.Expired(r.now()):
			err = fmt.Errorf("%w at %s", errs.ErrCredentialsExpired, creds.Expires.Format(time.RFC3339))
		}
		r.metrics.ObserveCredentials(p.Name, err)

		if err == nil {
			if creds.Source == "" {
				creds.Source = p.Name
			}
			slog.Debug("resolved AWS credentials", "profile", profile, "credentials", creds)
			return creds, nil
		}

		slog.Debug("credential provider failed", "provider", p.Name, "profile", profile, "error", err)
		failures = append(failures, fmt.Errorf("%s: %w", p.Name, err))
		reason = strongerReason(reason, err)
	}

	return Credentials{}, &errs.CredentialError{Profile: profile, Reason: reason, Err: errors.Join(failures...)}
}

// strongerReason keeps the most actionable failure: expired beats malformed
// beats not found.
func strongerReason(current, err error) error {
	switch {
	case current == errs.ErrCredentialsExpired:
		return current
	case Classify(err) == errs.ErrCredentialsExpired:
		return errs.ErrCredentialsExpired
	case isMalformed(err):
		return errs.ErrMalformedCredentials
	default:
		return current
	}
}
