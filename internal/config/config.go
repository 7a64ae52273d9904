package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultFileName is the primary config file name that is auto-discovered.
	DefaultFileName = ".kafkaconsole.yaml"
	alternateName   = ".kafkaconsole.yml"
)

// Config holds defaults loaded from .kafkaconsole.yaml.
type Config struct {
	Registry             string
	Timeout              time.Duration
	HasTimeout           bool
	Output               string
	DashboardConcurrency int
	ConsumeTimeout       time.Duration
	HasConsumeTimeout    bool
	AWSCredentialsFile   string
	AWSConfigFile        string
	SecretBackend        string
	LogFormat            string
}

// fileConfig is the YAML layout. Durations stay strings so errors can name the key.
type fileConfig struct {
	Registry             string `yaml:"registry"`
	Timeout              string `yaml:"timeout"`
	Output               string `yaml:"output"`
	DashboardConcurrency int    `yaml:"dashboard_concurrency"`
	ConsumeTimeout       string `yaml:"consume_timeout"`
	AWSCredentialsFile   string `yaml:"aws_credentials_file"`
	AWSConfigFile        string `yaml:"aws_config_file"`
	SecretBackend        string `yaml:"secret_backend"`
	LogFormat            string `yaml:"log_format"`
}

// Load auto-discovers and loads a config file.
// Search order:
// 1) current working directory
// 2) user home directory
func Load() (*Config, string, error) {
	paths, err := defaultPaths()
	if err != nil {
		return nil, "", err
	}

	for _, path := range paths {
		cfg, found, err := loadOptionalPath(path)
		if err != nil {
			return nil, "", err
		}
		if found {
			return cfg, path, nil
		}
	}

	return nil, "", nil
}

// LoadFromPath loads and parses a config file from an explicit path.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}

	return cfg, nil
}

func defaultPaths() ([]string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve current directory: %w", err)
	}

	paths := []string{
		filepath.Join(cwd, DefaultFileName),
		filepath.Join(cwd, alternateName),
	}

	home, err := os.UserHomeDir()
	if err == nil && home != "" {
		homeDefault := filepath.Join(home, DefaultFileName)
		homeAlt := filepath.Join(home, alternateName)
		if !containsPath(paths, homeDefault) {
			paths = append(paths, homeDefault)
		}
		if !containsPath(paths, homeAlt) {
			paths = append(paths, homeAlt)
		}
	}

	return paths, nil
}

func containsPath(paths []string, target string) bool {
	for _, path := range paths {
		if path == target {
			return true
		}
	}
	return false
}

func loadOptionalPath(path string) (*Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read config %q: %w", path, err)
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, false, fmt.Errorf("parse config %q: %w", path, err)
	}

	return cfg, true, nil
}

func parse(data []byte) (*Config, error) {
	data = bytes.TrimPrefix(data, []byte("\uFEFF"))

	var raw fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	cfg := &Config{
		Registry:             expandHome(strings.TrimSpace(raw.Registry)),
		Output:               strings.ToLower(strings.TrimSpace(raw.Output)),
		DashboardConcurrency: raw.DashboardConcurrency,
		AWSCredentialsFile:   expandHome(strings.TrimSpace(raw.AWSCredentialsFile)),
		AWSConfigFile:        expandHome(strings.TrimSpace(raw.AWSConfigFile)),
		SecretBackend:        strings.ToLower(strings.TrimSpace(raw.SecretBackend)),
		LogFormat:            strings.ToLower(strings.TrimSpace(raw.LogFormat)),
	}

	var err error
	if cfg.Timeout, cfg.HasTimeout, err = parseDuration("timeout", raw.Timeout); err != nil {
		return nil, err
	}
	if cfg.ConsumeTimeout, cfg.HasConsumeTimeout, err = parseDuration("consume_timeout", raw.ConsumeTimeout); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseDuration(key, value string) (time.Duration, bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, false, fmt.Errorf("parse %s as duration: %w", key, err)
	}
	if d <= 0 {
		return 0, false, fmt.Errorf("%s must be positive, got %s", key, value)
	}
	return d, true, nil
}

func (c *Config) validate() error {
	if err := oneOf("output", c.Output, "text", "json"); err != nil {
		return err
	}
	if err := oneOf("secret_backend", c.SecretBackend, "keyring", "memory"); err != nil {
		return err
	}
	if err := oneOf("log_format", c.LogFormat, "text", "json"); err != nil {
		return err
	}
	if c.DashboardConcurrency < 0 {
		return fmt.Errorf("dashboard_concurrency must not be negative, got %d", c.DashboardConcurrency)
	}
	return nil
}

func oneOf(key, value string, allowed ...string) error {
	if value == "" {
		return nil
	}
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s: unsupported value %q (expected %s)", key, value, strings.Join(allowed, " or "))
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
