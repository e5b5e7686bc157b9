package server

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/benothman/xnio"
	"gopkg.in/yaml.v3"
)

const (
	ModeEcho = "echo"
	ModeFile = "file"

	DefaultPort        = 8080
	DefaultFile        = "data/file.txt"
	DefaultMaxFileSize = 1 << 20
)

type Config struct {
	Addr string `yaml:"addr"`

	// Mode selects the responder: echo answers pings, file streams File.
	Mode        string `yaml:"mode"`
	File        string `yaml:"file"`
	MaxFileSize int64  `yaml:"max_file_size"`

	// Loops is the number of event loops serving connections.
	Loops int  `yaml:"loops"`
	Pin   bool `yaml:"pin"`

	ReadBufferSize  int `yaml:"read_buffer"`
	MaxReadBuffers  int `yaml:"max_read_buffers"`
	WriteBufferSize int `yaml:"write_buffer"`
	MaxWriteBuffers int `yaml:"max_write_buffers"`

	NoDelay bool `yaml:"no_delay"`

	MetricsAddr     string        `yaml:"metrics_addr"`
	MetricsInterval time.Duration `yaml:"metrics_interval"`
	PprofAddr       string        `yaml:"pprof_addr"`
	LogLevel        string        `yaml:"log_level"`
}

func DefaultConfig() Config {
	return Config{
		Addr:            fmt.Sprintf(":%d", DefaultPort),
		Mode:            ModeEcho,
		File:            DefaultFile,
		MaxFileSize:     DefaultMaxFileSize,
		Loops:           runtime.NumCPU(),
		ReadBufferSize:  xnio.DefaultReadBufferCapacity,
		MaxReadBuffers:  xnio.DefaultMaxBuffers * 4,
		WriteBufferSize: xnio.DefaultWriteBufferCapacity,
		MaxWriteBuffers: xnio.DefaultMaxBuffers,
		NoDelay:         true,
		MetricsInterval: 5 * time.Second,
		LogLevel:        "info",
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

func (cfg Config) Validate() error {
	var errs []string

	if strings.TrimSpace(cfg.Addr) == "" {
		errs = append(errs, "addr is required")
	}
	if cfg.Loops <= 0 {
		errs = append(errs, "loops must be positive")
	}
	if cfg.ReadBufferSize <= 0 || cfg.MaxReadBuffers <= 0 {
		errs = append(errs, "read buffer size and count must be positive")
	}
	if cfg.WriteBufferSize <= 0 || cfg.MaxWriteBuffers <= 0 {
		errs = append(errs, "write buffer size and count must be positive")
	}

	switch cfg.Mode {
	case ModeEcho:
	case ModeFile:
		if strings.TrimSpace(cfg.File) == "" {
			errs = append(errs, "file is required in file mode")
		}
		if cfg.MaxFileSize <= 0 {
			errs = append(errs, "max_file_size must be positive in file mode")
		} else if cfg.WriteBufferSize > 0 {
			need := PlanBuffers(int(cfg.MaxFileSize)+len(xnio.CRLF), cfg.WriteBufferSize)
			if need > cfg.MaxWriteBuffers {
				errs = append(errs, fmt.Sprintf(
					"a file of max_file_size=%d needs %d write buffers, max_write_buffers=%d",
					cfg.MaxFileSize, need, cfg.MaxWriteBuffers))
			}
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown mode %q", cfg.Mode))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config:\n - %s", strings.Join(errs, "\n - "))
	}
	return nil
}
