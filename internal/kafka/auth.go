package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/oauth"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"

	"github.com/ppiankov/kafkaconsole/internal/awsauth"
	"github.com/ppiankov/kafkaconsole/internal/cluster"
	"github.com/ppiankov/kafkaconsole/internal/errs"
	"github.com/ppiankov/kafkaconsole/internal/secrets"
)

// AuthConfig is the TLS and SASL material for one cluster. Nil fields mean
// the layer is not used.
type AuthConfig struct {
	TLS  *tls.Config
	SASL sasl.Mechanism
}

// Opts returns the client options for the auth config.
func (a *AuthConfig) Opts() []kgo.Opt {
	if a == nil {
		return nil
	}
	var opts []kgo.Opt
	if a.TLS != nil {
		opts = append(opts, kgo.DialTLSConfig(a.TLS.Clone()))
	}
	if a.SASL != nil {
		opts = append(opts, kgo.SASL(a.SASL))
	}
	return opts
}

// AuthBuilder turns connection descriptors into AuthConfigs.
type AuthBuilder struct {
	creds    awsauth.Source
	secrets  secrets.Store
	readFile func(string) ([]byte, error)
}

// NewAuthBuilder returns a builder that resolves IAM credentials through
// creds and looks up missing passwords and passphrases in store.
func NewAuthBuilder(creds awsauth.Source, store secrets.Store) *AuthBuilder {
	return &AuthBuilder{
		creds:    creds,
		secrets:  store,
		readFile: os.ReadFile,
	}
}

// Build returns the TLS and SASL settings for conn.
func (b *AuthBuilder) Build(ctx context.Context, conn cluster.Connection) (*AuthConfig, error) {
	cfg := &AuthConfig{}

	if conn.SecurityProtocol.UsesTLS() {
		tlsConfig, err := b.buildTLS(ctx, conn)
		if err != nil {
			return nil, err
		}
		cfg.TLS = tlsConfig
	}

	if conn.SecurityProtocol.UsesSASL() {
		mechanism, err := b.buildSASL(ctx, conn)
		if err != nil {
			return nil, err
		}
		cfg.SASL = mechanism
	}

	return cfg, nil
}

// NormalizeMechanism returns the lowercase wire token for a mechanism.
func NormalizeMechanism(m cluster.Mechanism) (string, error) {
	switch m {
	case cluster.MechanismPlain:
		return "plain", nil
	case cluster.MechanismScramSHA256:
		return "scram-sha-256", nil
	case cluster.MechanismScramSHA512:
		return "scram-sha-512", nil
	case cluster.MechanismAWSIAM:
		return "oauthbearer", nil
	}
	parsed, err := cluster.ParseMechanism(string(m))
	if err != nil || parsed == "" || parsed == m {
		return "", fmt.Errorf("%w: %q", errs.ErrUnsupportedMechanism, m)
	}
	return NormalizeMechanism(parsed)
}

// buildSASL creates the SASL mechanism for conn
func (b *AuthBuilder) buildSASL(ctx context.Context, conn cluster.Connection) (sasl.Mechanism, error) {
	fail := func(reason, err error) error {
		return &errs.AuthConfigError{Cluster: conn.Name, Reason: reason, Err: err}
	}

	token, err := NormalizeMechanism(conn.Mechanism)
	if err != nil {
		return nil, fail(errs.ErrUnsupportedMechanism, err)
	}

	if token == "oauthbearer" {
		provider, err := awsauth.NewIAMTokenProvider(b.creds, awsauth.Request{
			Profile: conn.AWSProfile,
			RoleARN: conn.AssumeRoleARN,
			Region:  conn.Region,
		})
		if err != nil {
			return nil, fail(errs.ErrMissingRegion, err)
		}
		return IAMMechanism(provider), nil
	}

	password := conn.Password
	if password == "" {
		password, err = b.secret(ctx, conn.Name, secrets.KindPassword)
		if err != nil {
			return nil, fail(errs.ErrMissingSecret, err)
		}
	}

	switch token {
	case "plain":
		return plain.Auth{
			User: conn.Username,
			Pass: password,
		}.AsMechanism(), nil

	case "scram-sha-256":
		return scram.Auth{
			User: conn.Username,
			Pass: password,
		}.AsSha256Mechanism(), nil

	default:
		return scram.Auth{
			User: conn.Username,
			Pass: password,
		}.AsSha512Mechanism(), nil
	}
}

// IAMMechanism wraps a token provider as an OAUTHBEARER mechanism. A token is
// minted per handshake so credentials never go stale on reconnect.
func IAMMechanism(provider awsauth.TokenProvider) sasl.Mechanism {
	return oauth.Oauth(func(ctx context.Context) (oauth.Auth, error) {
		tok, err := provider.Token(ctx)
		if err != nil {
			return oauth.Auth{}, err
		}
		return oauth.Auth{Token: tok.Value}, nil
	})
}

// buildTLS creates TLS configuration from the descriptor's cert files
func (b *AuthBuilder) buildTLS(ctx context.Context, conn cluster.Connection) (*tls.Config, error) {
	fail := func(err error) error {
		return &errs.AuthConfigError{Cluster: conn.Name, Reason: errs.ErrCertificate, Err: err}
	}

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !conn.VerifyPeer(), //nolint:gosec // opt-in per cluster
	}

	// IAM without explicit material trusts the system roots.
	if conn.IsIAM() && conn.CAFile == "" && conn.CertFile == "" {
		return tlsConfig, nil
	}

	// Load client certificate if provided
	if conn.CertFile != "" || conn.KeyFile != "" {
		if conn.CertFile == "" || conn.KeyFile == "" {
			return nil, fail(errors.New("client certificate and key must be set together"))
		}
		cert, err := b.loadKeyPair(ctx, conn)
		if err != nil {
			return nil, fail(err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	// Load CA certificate if provided
	if conn.CAFile != "" {
		caCert, err := b.readFile(conn.CAFile)
		if err != nil {
			return nil, fail(fmt.Errorf("failed to read CA certificate: %w", err))
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fail(fmt.Errorf("failed to parse CA certificate"))
		}
		tlsConfig.RootCAs = caCertPool
	}

	return tlsConfig, nil
}

func (b *AuthBuilder) loadKeyPair(ctx context.Context, conn cluster.Connection) (tls.Certificate, error) {
	certPEM, err := b.readFile(conn.CertFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to read client certificate: %w", err)
	}
	keyPEM, err := b.readFile(conn.KeyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to read client key: %w", err)
	}

	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return tls.Certificate{}, errors.New("client key is not PEM encoded")
	}

	//nolint:staticcheck // legacy encrypted PEM keys are still common for Kafka clients
	if x509.IsEncryptedPEMBlock(block) {
		passphrase := conn.KeyPassphrase
		if passphrase == "" {
			passphrase, err = b.secret(ctx, conn.Name, secrets.KindKeyPassphrase)
			if err != nil {
				return tls.Certificate{}, fmt.Errorf("client key is encrypted: %w", err)
			}
		}
		//nolint:staticcheck
		der, err := x509.DecryptPEMBlock(block, []byte(passphrase))
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("failed to decrypt client key: %w", err)
		}
		keyPEM = pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der})
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to load client certificate: %w", err)
	}
	return cert, nil
}

func (b *AuthBuilder) secret(ctx context.Context, clusterName string, kind secrets.Kind) (string, error) {
	if b.secrets == nil {
		return "", fmt.Errorf("%s/%s: %w", clusterName, kind, secrets.ErrNotFound)
	}
	return b.secrets.Get(ctx, secrets.Key{Cluster: clusterName, Kind: kind})
}
