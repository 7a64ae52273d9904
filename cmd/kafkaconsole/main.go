package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/ppiankov/kafkaconsole/internal/awsauth"
	"github.com/ppiankov/kafkaconsole/internal/config"
	"github.com/ppiankov/kafkaconsole/internal/discovery"
	"github.com/ppiankov/kafkaconsole/internal/kafka"
	"github.com/ppiankov/kafkaconsole/internal/logging"
	"github.com/ppiankov/kafkaconsole/internal/manager"
	"github.com/ppiankov/kafkaconsole/internal/metrics"
	"github.com/ppiankov/kafkaconsole/internal/pool"
	"github.com/ppiankov/kafkaconsole/internal/registry"
	"github.com/ppiankov/kafkaconsole/internal/reporter"
	"github.com/ppiankov/kafkaconsole/internal/secrets"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

const (
	defaultQueryTimeout = 10 * time.Second
	clientID            = "kafkaconsole"
)

func main() {
	logging.Init(false, "")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		slog.Error("command failed", "error", err)
		_, _ = fmt.Fprintf(os.Stderr, "Tip: Use 'kafkaconsole --help' for usage information.\n")
		os.Exit(classifyError(err))
	}
}

type rootOptions struct {
	verbose              bool
	logFormat            string
	output               string
	timeout              time.Duration
	registry             string
	secretBackend        string
	metricsAddr          string
	dashboardConcurrency int
	consumeTimeout       time.Duration
	awsCredentialsFile   string
	awsConfigFile        string
}

// cli carries the resolved options into every subcommand. factory and
// metrics are replaced in tests.
type cli struct {
	opts    rootOptions
	factory kafka.ClientFactory
	metrics *metrics.Metrics
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(&cli{})
}

func newRootCmdWith(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "kafkaconsole",
		Short:         "Manage connections to Kafka and Amazon MSK clusters",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := resolveRootOptions(cmd, c.opts)
			if err != nil {
				return err
			}
			c.opts = resolved
			logging.Init(c.opts.verbose, c.opts.logFormat)
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&c.opts.verbose, "verbose", "v", false, "Enable verbose logging")
	flags.StringVar(&c.opts.logFormat, "log-format", "text", "Log format (text|json)")
	flags.StringVarP(&c.opts.output, "output", "o", "text", "Output format (json|text)")
	flags.DurationVar(&c.opts.timeout, "timeout", 0, "Kafka query timeout (for example: 10s, 1m)")
	flags.StringVar(&c.opts.registry, "registry", "", "Path to the cluster registry file")
	flags.StringVar(&c.opts.secretBackend, "secret-backend", "", "Secret store (keyring|memory)")
	flags.StringVar(&c.opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the command runs")

	cmd.AddCommand(newClustersCmd(c))
	cmd.AddCommand(newTopicsCmd(c))
	cmd.AddCommand(newGroupsCmd(c))
	cmd.AddCommand(newACLsCmd(c))
	cmd.AddCommand(newConsumeCmd(c))
	cmd.AddCommand(newProduceCmd(c))
	cmd.AddCommand(newDashboardCmd(c))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if _, err := fmt.Fprintf(out, "version: %s\n", Version); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(out, "commit:  %s\n", GitCommit); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(out, "date:    %s\n", BuildDate); err != nil {
				return err
			}
			return nil
		},
	}
}

func resolveRootOptions(cmd *cobra.Command, opts rootOptions) (rootOptions, error) {
	cfg, cfgPath, err := config.Load()
	if err != nil {
		return opts, err
	}
	if cfg != nil {
		slog.Debug("loaded defaults from config", "path", cfgPath)
		opts = applyRootConfigDefaults(cmd, opts, cfg)
	}

	output := strings.ToLower(strings.TrimSpace(opts.output))
	if output == "" {
		output = "text"
	}
	if output != "json" && output != "text" {
		return opts, fmt.Errorf("invalid output format %q (expected json or text)", opts.output)
	}
	opts.output = output

	if opts.timeout < 0 {
		return opts, errors.New("timeout must be greater than zero")
	}
	if opts.timeout == 0 {
		opts.timeout = defaultQueryTimeout
	}

	if opts.registry == "" {
		p, err := registry.DefaultPath()
		if err != nil {
			return opts, err
		}
		opts.registry = p
	}

	return opts, nil
}

func applyRootConfigDefaults(cmd *cobra.Command, opts rootOptions, cfg *config.Config) rootOptions {
	if !flagChanged(cmd, "output") && strings.TrimSpace(cfg.Output) != "" {
		opts.output = cfg.Output
	}
	if !flagChanged(cmd, "timeout") && cfg.HasTimeout {
		opts.timeout = cfg.Timeout
	}
	if !flagChanged(cmd, "registry") && strings.TrimSpace(cfg.Registry) != "" {
		opts.registry = cfg.Registry
	}
	if !flagChanged(cmd, "secret-backend") && strings.TrimSpace(cfg.SecretBackend) != "" {
		opts.secretBackend = cfg.SecretBackend
	}
	if !flagChanged(cmd, "log-format") && strings.TrimSpace(cfg.LogFormat) != "" {
		opts.logFormat = cfg.LogFormat
	}
	if cfg.DashboardConcurrency > 0 {
		opts.dashboardConcurrency = cfg.DashboardConcurrency
	}
	if cfg.HasConsumeTimeout {
		opts.consumeTimeout = cfg.ConsumeTimeout
	}
	opts.awsCredentialsFile = cfg.AWSCredentialsFile
	opts.awsConfigFile = cfg.AWSConfigFile

	return opts
}

func flagChanged(cmd *cobra.Command, name string) bool {
	if cmd == nil {
		return false
	}

	flag := cmd.Flags().Lookup(name)
	if flag == nil {
		flag = cmd.PersistentFlags().Lookup(name)
	}
	if flag == nil {
		flag = cmd.InheritedFlags().Lookup(name)
	}
	if flag == nil {
		return false
	}

	return flag.Changed
}

// session is the wired stack behind one command invocation.
type session struct {
	mgr     *manager.Manager
	rep     reporter.Reporter
	metrics *http.Server
}

func (c *cli) open(cmd *cobra.Command) (*session, error) {
	store, err := secrets.New(c.opts.secretBackend)
	if err != nil {
		return nil, err
	}

	m := c.metrics
	if m == nil {
		m = metrics.New()
	}

	resolver := awsauth.NewResolver(
		awsauth.WithSharedFiles(awsauth.SharedFiles{
			CredentialsFile: c.opts.awsCredentialsFile,
			ConfigFile:      c.opts.awsConfigFile,
		}),
		awsauth.WithSessionName(clientID),
		awsauth.WithMetrics(m),
	)
	disc := discovery.New(resolver, discovery.WithMetrics(m))

	factory := c.factory
	if factory == nil {
		factory = kafka.NewFranzFactory(kafka.Config{ClientID: clientID, QueryTimeout: c.opts.timeout})
	}

	p := pool.New(disc, kafka.NewAuthBuilder(resolver, store), factory,
		pool.WithConnectTimeout(c.opts.timeout),
		pool.WithMetrics(m),
	)

	mgr := manager.New(p,
		manager.WithRegistry(registry.New(c.opts.registry, store)),
		manager.WithClusterLister(disc),
		manager.WithMetrics(m),
		manager.WithDashboardConcurrency(c.opts.dashboardConcurrency),
		manager.WithConsumeTimeout(c.opts.consumeTimeout),
	)
	if err := mgr.Load(cmd.Context()); err != nil {
		mgr.Close()
		return nil, err
	}

	rep, err := reporter.New(c.opts.output, cmd.OutOrStdout())
	if err != nil {
		mgr.Close()
		return nil, err
	}

	s := &session{mgr: mgr, rep: rep}
	if c.opts.metricsAddr != "" {
		s.metrics, err = serveMetrics(c.opts.metricsAddr, m)
		if err != nil {
			mgr.Close()
			return nil, err
		}
	}
	return s, nil
}

func serveMetrics(addr string, m *metrics.Metrics) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for metrics on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("metrics server stopped", "error", err)
		}
	}()
	slog.Info("serving metrics", "addr", ln.Addr().String())
	return srv, nil
}

func (s *session) Close() {
	s.mgr.Close()
	if s.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.metrics.Shutdown(ctx)
	}
}

// run opens a session and calls fn with a context bounded by the query
// timeout.
func (c *cli) run(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	return c.runWithin(cmd, c.opts.timeout, fn)
}

// runWithin is run with an explicit bound. A zero bound leaves only the
// command context.
func (c *cli) runWithin(cmd *cobra.Command, bound time.Duration, fn func(ctx context.Context, s *session) error) error {
	start := time.Now()

	s, err := c.open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	if bound > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, bound)
		defer cancel()
	}

	if err := fn(ctx, s); err != nil {
		return err
	}

	slog.Debug("command completed", "command", cmd.CommandPath(), "duration", time.Since(start))
	return nil
}

func normalizeExcludePatterns(patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		return nil, nil
	}

	normalized := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}

		if _, err := path.Match(pattern, "topic"); err != nil {
			return nil, fmt.Errorf("invalid exclude topic pattern %q: %w", pattern, err)
		}

		normalized = append(normalized, pattern)
	}

	if len(normalized) == 0 {
		return nil, nil
	}

	return normalized, nil
}

func shouldExcludeTopic(topic string, patterns []string) bool {
	for _, pattern := range patterns {
		matched, err := path.Match(pattern, topic)
		if err != nil {
			continue
		}
		if matched {
			return true
		}
	}

	return false
}
