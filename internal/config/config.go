package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const envPrefix = "TINYHTTPD_"

// Config holds the whole server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Pool   PoolConfig   `yaml:"pool"`
	Files  FilesConfig  `yaml:"files"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Zero disables the deadline.
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	MaxHeaderBytes int   `yaml:"max_header_bytes"`
	MaxBodyBytes   int64 `yaml:"max_body_bytes"`
	ReusePort      bool  `yaml:"reuse_port"`
}

type PoolConfig struct {
	Size      int `yaml:"size"`       // number of concurrent workers
	QueueSize int `yaml:"queue_size"` // accepted connections waiting for a worker
}

type FilesConfig struct {
	Directory string `yaml:"directory"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            4221,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			MaxHeaderBytes:  8 << 10,
			MaxBodyBytes:    10 << 20,
		},
		Pool: PoolConfig{
			Size:      4,
			QueueSize: 64,
		},
		Files: FilesConfig{
			Directory: ".",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// -config, then TINYHTTPD_* environment variables, then flags.
func Load(args []string) (*Config, error) {
	var path string
	probe := flag.NewFlagSet("tinyhttpd", flag.ContinueOnError)
	probe.SetOutput(io.Discard)
	bindFlags(probe, Default(), &path)
	if err := probe.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fs := flag.NewFlagSet("tinyhttpd", flag.ContinueOnError)
			bindFlags(fs, Default(), &path)
			fs.Usage()
		}
		return nil, err
	}

	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet("tinyhttpd", flag.ContinueOnError)
	bindFlags(fs, cfg, &path)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func bindFlags(fs *flag.FlagSet, cfg *Config, path *string) {
	fs.StringVar(path, "config", *path, "YAML configuration file")
	fs.StringVar(&cfg.Server.Host, "host", cfg.Server.Host, "listen host")
	fs.IntVar(&cfg.Server.Port, "port", cfg.Server.Port, "listen port")
	fs.DurationVar(&cfg.Server.ReadTimeout, "read-timeout", cfg.Server.ReadTimeout, "per-connection read deadline (0 disables)")
	fs.DurationVar(&cfg.Server.WriteTimeout, "write-timeout", cfg.Server.WriteTimeout, "per-connection write deadline (0 disables)")
	fs.DurationVar(&cfg.Server.ShutdownTimeout, "shutdown-timeout", cfg.Server.ShutdownTimeout, "time allowed for in-flight connections on shutdown")
	fs.IntVar(&cfg.Server.MaxHeaderBytes, "max-header-bytes", cfg.Server.MaxHeaderBytes, "request line plus header size limit")
	fs.Int64Var(&cfg.Server.MaxBodyBytes, "max-body-bytes", cfg.Server.MaxBodyBytes, "request body size limit")
	fs.BoolVar(&cfg.Server.ReusePort, "reuse-port", cfg.Server.ReusePort, "set SO_REUSEPORT on the listener")
	fs.IntVar(&cfg.Pool.Size, "workers", cfg.Pool.Size, "number of concurrent workers")
	fs.IntVar(&cfg.Pool.QueueSize, "queue", cfg.Pool.QueueSize, "accepted connections waiting for a worker")
	fs.StringVar(&cfg.Files.Directory, "directory", cfg.Files.Directory, "directory served by /files")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level (trace, debug, info, warn, error)")
	fs.StringVar(&cfg.Log.Format, "log-format", cfg.Log.Format, "log format (json or console)")
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	c.Server.Host = getEnvOrDefault(envPrefix+"HOST", c.Server.Host)
	c.Files.Directory = getEnvOrDefault(envPrefix+"DIRECTORY", c.Files.Directory)
	c.Log.Level = getEnvOrDefault(envPrefix+"LOG_LEVEL", c.Log.Level)

	var err error
	if c.Server.Port, err = getEnvAsIntOrDefault(envPrefix+"PORT", c.Server.Port); err != nil {
		return err
	}
	if c.Pool.Size, err = getEnvAsIntOrDefault(envPrefix+"WORKERS", c.Pool.Size); err != nil {
		return err
	}
	return nil
}

// Validate checks the configuration before the server starts.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.ShutdownTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.Server.MaxHeaderBytes <= 0 {
		return fmt.Errorf("invalid max header bytes: %d", c.Server.MaxHeaderBytes)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("invalid max body bytes: %d", c.Server.MaxBodyBytes)
	}
	if c.Pool.Size < 1 {
		return fmt.Errorf("invalid worker count: %d", c.Pool.Size)
	}
	if c.Pool.QueueSize < 0 {
		return fmt.Errorf("invalid queue size: %d", c.Pool.QueueSize)
	}

	info, err := os.Stat(c.Files.Directory)
	if err != nil {
		return fmt.Errorf("invalid directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("invalid directory: %s is not a directory", c.Files.Directory)
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("invalid log format: %q", c.Log.Format)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// Logger builds the process logger described by c.
func (c LogConfig) Logger(w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		return zerolog.Nop(), err
	}
	if c.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
