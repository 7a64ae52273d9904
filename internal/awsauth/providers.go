package awsauth

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/config"
)

// Provider is one step of a credential chain.
type Provider struct {
	Name     string
	Retrieve func(ctx context.Context, profile string) (Credentials, error)
}

// SharedFiles overrides the shared credentials/config file locations. Empty
// fields keep the SDK defaults.
type SharedFiles struct {
	CredentialsFile string
	ConfigFile      string
}

func (f SharedFiles) sharedConfigOptions(o *config.LoadSharedConfigOptions) {
	if f.CredentialsFile != "" {
		o.CredentialsFiles = []string{f.CredentialsFile}
	}
	if f.ConfigFile != "" {
		o.ConfigFiles = []string{f.ConfigFile}
	}
}

func (f SharedFiles) loadOptions() []func(*config.LoadOptions) error {
	var opts []func(*config.LoadOptions) error
	if f.CredentialsFile != "" {
		opts = append(opts, config.WithSharedCredentialsFiles([]string{f.CredentialsFile}))
	}
	if f.ConfigFile != "" {
		opts = append(opts, config.WithSharedConfigFiles([]string{f.ConfigFile}))
	}
	return opts
}

// ProfileFileProvider reads static keys for the profile straight from the
// shared files. It ignores the environment.
func ProfileFileProvider(files SharedFiles) Provider {
	return Provider{
		Name: "shared-files",
		Retrieve: func(ctx context.Context, profile string) (Credentials, error) {
			cfg, err := config.LoadSharedConfigProfile(ctx, profile, files.sharedConfigOptions)
			if err != nil {
				return Credentials{}, err
			}
			return fromAWS(cfg.Credentials, "shared-files"), nil
		},
	}
}

// EnvProvider reads AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY and AWS_SESSION_TOKEN.
func EnvProvider() Provider {
	return Provider{
		Name: "environment",
		Retrieve: func(context.Context, string) (Credentials, error) {
			env, err := config.NewEnvConfig()
			if err != nil {
				return Credentials{}, err
			}
			return fromAWS(env.Credentials, "environment"), nil
		},
	}
}

// DefaultChainProvider runs the SDK default chain for the profile, covering
// SSO, credential_process, web identity and instance roles.
func DefaultChainProvider(files SharedFiles) Provider {
	return Provider{
		Name: "default-chain",
		Retrieve: func(ctx context.Context, profile string) (Credentials, error) {
			opts := append(files.loadOptions(), config.WithSharedConfigProfile(profile))
			cfg, err := config.LoadDefaultConfig(ctx, opts...)
			if err != nil {
				return Credentials{}, err
			}
			if cfg.Credentials == nil {
				return Credentials{}, errors.New("default chain has no credentials provider")
			}
			creds, err := cfg.Credentials.Retrieve(ctx)
			if err != nil {
				return Credentials{}, err
			}
			return fromAWS(creds, "default-chain"), nil
		},
	}
}

func isMalformed(err error) bool {
	var loadErr config.SharedConfigLoadError
	return errors.As(err, &loadErr)
}
