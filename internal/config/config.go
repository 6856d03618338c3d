package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Strategy selects how the proxy picks a worker for each request.
type Strategy string

const (
	RoundRobin       Strategy = "roundrobin"
	LeastConnections Strategy = "leastconnections"
	Random           Strategy = "random"
)

// Mode selects how the toolkit runs the hosted server.
type Mode string

const (
	// ModeCluster supervises a pool of worker processes.
	ModeCluster Mode = "cluster"
	// ModeSingle runs the hosted server in-process without spawning.
	ModeSingle Mode = "single"
	// ModeHybrid is accepted by the parser but not wired; validation
	// rejects it with an explicit error.
	ModeHybrid Mode = "hybrid"
)

// DefaultProxyPort is used when the proxy is enabled without an
// explicit port.
const DefaultProxyPort = 8080

// Config holds all configuration for the scaling toolkit. It is built
// once at startup and never mutated afterwards.
type Config struct {
	// Processes is the number of supervised worker processes.
	Processes int `yaml:"processes"`
	// BasePort is the port of worker 0; worker i binds BasePort+i.
	BasePort int `yaml:"basePort"`
	// EnableProxy fronts the workers with the reverse proxy.
	EnableProxy bool `yaml:"enableProxy"`
	// ProxyPort is the proxy's listen port (DefaultProxyPort when 0).
	ProxyPort int `yaml:"proxyPort"`
	// Strategy picks workers for proxied requests.
	Strategy Strategy `yaml:"strategy"`
	// Mode selects cluster or single-process operation.
	Mode Mode `yaml:"mode"`

	// MetricsAddr, when set, serves Prometheus metrics on a standalone
	// listener (e.g. ":9091").
	MetricsAddr string `yaml:"metricsAddr"`
	// ComputeExecutors sizes the per-worker compute pool.
	ComputeExecutors int `yaml:"computeExecutors"`
}

// Load reads configuration from an optional YAML file and the
// environment, with environment variables taking precedence over file
// values. CLI flags are applied on top by the caller. The result is not
// yet validated; call Validate once all overrides are applied.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Processes:        runtime.NumCPU(),
		BasePort:         3000,
		ProxyPort:        DefaultProxyPort,
		Strategy:         RoundRobin,
		Mode:             ModeCluster,
		ComputeExecutors: runtime.NumCPU(),
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.Processes = envOrDefaultInt("UTOPIA_PROCESSES", cfg.Processes)
	cfg.BasePort = envOrDefaultInt("UTOPIA_BASE_PORT", cfg.BasePort)
	cfg.ProxyPort = envOrDefaultInt("UTOPIA_PROXY_PORT", cfg.ProxyPort)
	cfg.ComputeExecutors = envOrDefaultInt("UTOPIA_COMPUTE_EXECUTORS", cfg.ComputeExecutors)
	cfg.MetricsAddr = envOrDefault("UTOPIA_METRICS_ADDR", cfg.MetricsAddr)
	if v := os.Getenv("UTOPIA_PROXY"); v != "" {
		cfg.EnableProxy = v == "true" || v == "1"
	}
	if v := os.Getenv("UTOPIA_STRATEGY"); v != "" {
		s, err := ParseStrategy(v)
		if err != nil {
			return nil, err
		}
		cfg.Strategy = s
	}
	if v := os.Getenv("UTOPIA_MODE"); v != "" {
		cfg.Mode = Mode(strings.ToLower(v))
	}

	return cfg, nil
}

// ParseStrategy converts a user-supplied strategy name. Hyphens and
// underscores are ignored so "round-robin" and "roundrobin" both work.
func ParseStrategy(s string) (Strategy, error) {
	norm := strings.ToLower(s)
	norm = strings.ReplaceAll(norm, "-", "")
	norm = strings.ReplaceAll(norm, "_", "")
	switch Strategy(norm) {
	case RoundRobin, LeastConnections, Random:
		return Strategy(norm), nil
	default:
		return "", fmt.Errorf("unknown strategy %q (want roundrobin, leastconnections or random)", s)
	}
}

// Validate enforces the configuration invariants. It is called once at
// startup, after file, environment and flag values are merged; any
// violation is fatal.
func (c *Config) Validate() error {
	if c.Processes < 1 {
		return fmt.Errorf("processes must be >= 1, got %d", c.Processes)
	}
	if c.BasePort < 1 || c.BasePort > 65535 {
		return fmt.Errorf("basePort %d out of range [1,65535]", c.BasePort)
	}
	if last := c.BasePort + c.Processes - 1; last > 65535 {
		return fmt.Errorf("worker port range %d..%d exceeds 65535", c.BasePort, last)
	}
	if _, err := ParseStrategy(string(c.Strategy)); err != nil {
		return err
	}
	switch c.Mode {
	case ModeCluster, ModeSingle:
	case ModeHybrid:
		return fmt.Errorf("hybrid mode is not implemented")
	default:
		return fmt.Errorf("unknown mode %q (want cluster or single)", c.Mode)
	}
	if c.EnableProxy {
		if c.ProxyPort == 0 {
			c.ProxyPort = DefaultProxyPort
		}
		if c.ProxyPort < 1 || c.ProxyPort > 65535 {
			return fmt.Errorf("proxyPort %d out of range [1,65535]", c.ProxyPort)
		}
		if c.ProxyPort >= c.BasePort && c.ProxyPort < c.BasePort+c.Processes {
			return fmt.Errorf("proxyPort %d collides with worker port range %d..%d",
				c.ProxyPort, c.BasePort, c.BasePort+c.Processes-1)
		}
	}
	if c.ComputeExecutors < 0 {
		return fmt.Errorf("computeExecutors must be >= 0, got %d", c.ComputeExecutors)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
