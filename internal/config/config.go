// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// Components depend on it rather than on the concrete struct so tests can stub it.
type Interface interface {
	Logger() LoggerConfig
	Server() ServerConfig
	Runner() RunnerConfig
	Recorder() RecorderConfig
	Observer() ObserverConfig
	Browser() BrowserConfig

	// CLI flag overrides
	SetServerPort(int)
	SetRecorderServerURL(string)
	SetBrowserHeadless(bool)
	SetBrowserStartURL(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	ServerCfg   ServerConfig   `mapstructure:"server" yaml:"server"`
	RunnerCfg   RunnerConfig   `mapstructure:"runner" yaml:"runner"`
	RecorderCfg RecorderConfig `mapstructure:"recorder" yaml:"recorder"`
	ObserverCfg ObserverConfig `mapstructure:"observer" yaml:"observer"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
}

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Server() ServerConfig     { return c.ServerCfg }
func (c *Config) Runner() RunnerConfig     { return c.RunnerCfg }
func (c *Config) Recorder() RecorderConfig { return c.RecorderCfg }
func (c *Config) Observer() ObserverConfig { return c.ObserverCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }

func (c *Config) SetServerPort(p int)           { c.ServerCfg.Port = p }
func (c *Config) SetRecorderServerURL(u string) { c.RecorderCfg.ServerURL = u }
func (c *Config) SetBrowserHeadless(b bool)     { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserStartURL(u string)   { c.BrowserCfg.StartURL = u }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names used for each log level on the console.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// ServerConfig configures the storage and dispatch service.
type ServerConfig struct {
	Port            int           `mapstructure:"port" yaml:"port"`
	RecordingsDir   string        `mapstructure:"recordings_dir" yaml:"recordings_dir"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// RateLimit is the sustained request rate per second; zero disables limiting.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst" yaml:"rate_burst"`
}

// Addr returns the listen address for the service.
func (s ServerConfig) Addr() string { return fmt.Sprintf(":%d", s.Port) }

// RunnerConfig describes how the external playback engine is located and invoked.
type RunnerConfig struct {
	ArtifactDir string        `mapstructure:"artifact_dir" yaml:"artifact_dir"`
	JavaBin     string        `mapstructure:"java_bin" yaml:"java_bin"`
	Browser     string        `mapstructure:"browser" yaml:"browser"`
	RemoteURL   string        `mapstructure:"remote_url" yaml:"remote_url"`
	LogDir      string        `mapstructure:"log_dir" yaml:"log_dir"`
	DefaultMode string        `mapstructure:"default_mode" yaml:"default_mode"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// RecorderConfig configures the recording client: where it uploads and where it
// keeps its durable backup.
type RecorderConfig struct {
	ServerURL     string        `mapstructure:"server_url" yaml:"server_url"`
	BackupFile    string        `mapstructure:"backup_file" yaml:"backup_file"`
	UploadTimeout time.Duration `mapstructure:"upload_timeout" yaml:"upload_timeout"`
	StopTimeout   time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
}

// ObserverConfig tunes the in-page observer.
type ObserverConfig struct {
	Debounce     time.Duration `mapstructure:"debounce" yaml:"debounce"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// BrowserConfig holds settings for the recorded browser instance.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ExecPath        string   `mapstructure:"exec_path" yaml:"exec_path"`
	StartURL        string   `mapstructure:"start_url" yaml:"start_url"`
	Args            []string `mapstructure:"args" yaml:"args"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration key.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "recplay")
	v.SetDefault("logger.log_file", "recplay.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Server --
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.recordings_dir", "recordings")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.rate_limit", 0.0)
	v.SetDefault("server.rate_burst", 40)

	// -- Runner --
	v.SetDefault("runner.artifact_dir", "runner/target")
	v.SetDefault("runner.java_bin", "java")
	v.SetDefault("runner.browser", "chrome")
	v.SetDefault("runner.remote_url", "http://localhost:4444")
	v.SetDefault("runner.log_dir", "logs")
	v.SetDefault("runner.default_mode", "local")
	v.SetDefault("runner.timeout", "30m")

	// -- Recorder --
	v.SetDefault("recorder.server_url", "http://localhost:3000")
	v.SetDefault("recorder.backup_file", "~/.recplay/session.json")
	v.SetDefault("recorder.upload_timeout", "30s")
	v.SetDefault("recorder.stop_timeout", "5s")

	// -- Observer --
	v.SetDefault("observer.debounce", "200ms")
	v.SetDefault("observer.poll_interval", "500ms")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.start_url", "about:blank")
	v.SetDefault("browser.args", []string{})
}

// BindEnv wires the unprefixed environment variables that the service
// honors for compatibility with existing deployments.
func BindEnv(v *viper.Viper) error {
	if err := v.BindEnv("server.port", "PORT"); err != nil {
		return fmt.Errorf("failed to bind PORT: %w", err)
	}
	if err := v.BindEnv("runner.remote_url", "REMOTE_URL"); err != nil {
		return fmt.Errorf("failed to bind REMOTE_URL: %w", err)
	}
	return nil
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	if err := BindEnv(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading "~" in every filesystem path setting.
func (c *Config) expandPaths() error {
	paths := []*string{
		&c.LoggerCfg.LogFile,
		&c.ServerCfg.RecordingsDir,
		&c.RunnerCfg.ArtifactDir,
		&c.RunnerCfg.LogDir,
		&c.RecorderCfg.BackupFile,
		&c.BrowserCfg.ExecPath,
	}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.ServerCfg.Port <= 0 || c.ServerCfg.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.ServerCfg.RecordingsDir == "" {
		return fmt.Errorf("server.recordings_dir is required")
	}
	if c.ServerCfg.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}
	if c.ServerCfg.RateLimit > 0 && c.ServerCfg.RateBurst < 1 {
		return fmt.Errorf("server.rate_burst must be at least 1 when rate limiting is enabled")
	}
	if err := c.RunnerCfg.Validate(); err != nil {
		return fmt.Errorf("runner configuration invalid: %w", err)
	}
	if err := c.RecorderCfg.Validate(); err != nil {
		return fmt.Errorf("recorder configuration invalid: %w", err)
	}
	if c.ObserverCfg.Debounce <= 0 {
		return fmt.Errorf("observer.debounce must be a positive duration")
	}
	if c.ObserverCfg.PollInterval <= 0 {
		return fmt.Errorf("observer.poll_interval must be a positive duration")
	}
	return nil
}

// Validate checks the runner configuration.
func (r *RunnerConfig) Validate() error {
	if r.ArtifactDir == "" {
		return fmt.Errorf("artifact_dir is required")
	}
	if r.JavaBin == "" {
		return fmt.Errorf("java_bin is required")
	}
	if r.DefaultMode != "local" && r.DefaultMode != "remote" {
		return fmt.Errorf("default_mode must be \"local\" or \"remote\", got %q", r.DefaultMode)
	}
	if r.Timeout <= 0 {
		return fmt.Errorf("timeout must be a positive duration")
	}
	return nil
}

// Validate checks the recorder configuration.
func (r *RecorderConfig) Validate() error {
	u, err := url.Parse(r.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server_url must be an absolute http(s) URL, got %q", r.ServerURL)
	}
	if r.BackupFile == "" {
		return fmt.Errorf("backup_file is required")
	}
	if r.UploadTimeout <= 0 {
		return fmt.Errorf("upload_timeout must be a positive duration")
	}
	return nil
}
