package client

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultClients     = 100
	DefaultDelay       = time.Second
	DefaultDuration    = 55 * time.Second
	DefaultJitter      = 300 * time.Millisecond
	DefaultSettle      = 3 * time.Second
	DefaultWindowStart = 10 * time.Second
	DefaultWindowEnd   = 50 * time.Second
)

type Config struct {
	// Addr is the host:port of the server.
	Addr string `yaml:"addr"`

	// Requests is the number of pings of every client. When zero it is
	// derived from Duration and Delay.
	Requests int           `yaml:"requests"`
	Duration time.Duration `yaml:"duration"`
	Delay    time.Duration `yaml:"delay"`

	// Jitter bounds the random extra sleep before the first ping.
	Jitter time.Duration `yaml:"jitter"`

	// Settle is the pause between the handshake and the first ping, so that
	// every client is connected before the load starts.
	Settle time.Duration `yaml:"settle"`

	// Latencies of requests sent between WindowStart and WindowEnd into the
	// run make up the average.
	WindowStart time.Duration `yaml:"window_start"`
	WindowEnd   time.Duration `yaml:"window_end"`

	// Zero means no timeout: a hung server blocks the client forever.
	DialTimeout time.Duration `yaml:"dial_timeout"`
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// DialRate is the number of clients started per second, zero for no
	// limit.
	DialRate float64 `yaml:"dial_rate"`
}

func DefaultConfig() Config {
	return Config{
		Duration:    DefaultDuration,
		Delay:       DefaultDelay,
		Jitter:      DefaultJitter,
		Settle:      DefaultSettle,
		WindowStart: DefaultWindowStart,
		WindowEnd:   DefaultWindowEnd,
	}
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// RequestCount is the number of pings every client sends.
func (cfg Config) RequestCount() int {
	if cfg.Requests > 0 {
		return cfg.Requests
	}
	return int(cfg.Duration / cfg.Delay)
}

// Window returns the first and last request index, both included, whose
// latency counts towards the average.
func (cfg Config) Window() (int, int) {
	return int(cfg.WindowStart / cfg.Delay), int(cfg.WindowEnd / cfg.Delay)
}

func (cfg Config) Validate() error {
	var errs []string

	if strings.TrimSpace(cfg.Addr) == "" {
		errs = append(errs, "addr is required")
	}
	if cfg.Delay <= 0 {
		errs = append(errs, "delay must be positive")
	}
	if cfg.Requests < 0 {
		errs = append(errs, "requests cannot be negative")
	}
	if cfg.Requests == 0 && cfg.Delay > 0 && cfg.Duration < cfg.Delay {
		errs = append(errs, "duration must allow for at least one request")
	}
	if cfg.Jitter < 0 || cfg.Settle < 0 {
		errs = append(errs, "jitter and settle cannot be negative")
	}
	if cfg.WindowStart < 0 || cfg.WindowEnd < cfg.WindowStart {
		errs = append(errs, "window must satisfy 0 <= window_start <= window_end")
	}
	if cfg.DialTimeout < 0 || cfg.ReadTimeout < 0 {
		errs = append(errs, "timeouts cannot be negative")
	}
	if cfg.DialRate < 0 {
		errs = append(errs, "dial_rate cannot be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config:\n - %s", strings.Join(errs, "\n - "))
	}
	return nil
}
