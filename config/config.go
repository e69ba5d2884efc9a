package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

var pathPattern = regexp.MustCompile(`^/\S*$`)

type ServerConfig struct {
	Host              string `mapstructure:"host" yaml:"host"`
	Port              int    `mapstructure:"port" yaml:"port"`
	Environment       string `mapstructure:"environment" yaml:"environment"`
	ReadHeaderTimeout string `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ReadTimeout       string `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout      string `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout       string `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	FullDuplex        bool   `mapstructure:"full_duplex" yaml:"full_duplex"`
}

type BackendConfig struct {
	Host                  string `mapstructure:"host" yaml:"host"`
	Port                  int    `mapstructure:"port" yaml:"port"`
	ConnectTimeout        string `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	ResponseHeaderTimeout string `mapstructure:"response_header_timeout" yaml:"response_header_timeout"`
	KeepAlive             bool   `mapstructure:"keep_alive" yaml:"keep_alive"`
}

type HealthCheckConfig struct {
	Interval string `mapstructure:"interval" yaml:"interval"`
	Timeout  string `mapstructure:"timeout" yaml:"timeout"`
	Path     string `mapstructure:"path" yaml:"path"`
}

type AdminConfig struct {
	Address string `mapstructure:"address" yaml:"address"`
}

type MetricsConfig struct {
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size"`
}

type LoggingConfig struct {
	Level     string `mapstructure:"level" yaml:"level"`
	AddSource bool   `mapstructure:"add_source" yaml:"add_source"`
}

type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Backend     BackendConfig     `mapstructure:"backend" yaml:"backend"`
	HealthCheck HealthCheckConfig `mapstructure:"health_check" yaml:"health_check"`
	Admin       AdminConfig       `mapstructure:"admin" yaml:"admin"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// Defaults returns the configuration used when neither a config file nor
// the environment override a key. The backend matches the remote end of
// `ssh -R 8081:localhost:3000`.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			Environment:       EnvDev,
			ReadHeaderTimeout: "10s",
			ReadTimeout:       "0s",
			WriteTimeout:      "0s",
			IdleTimeout:       "60s",
			FullDuplex:        true,
		},
		Backend: BackendConfig{
			Host:                  "127.0.0.1",
			Port:                  8081,
			ConnectTimeout:        "5s",
			ResponseHeaderTimeout: "30s",
			KeepAlive:             false,
		},
		HealthCheck: HealthCheckConfig{
			Interval: "10s",
			Timeout:  "2s",
		},
		Metrics: MetricsConfig{
			BufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level: LogLevelInfo,
		},
	}
}

// Load reads the configuration into a fresh viper instance. An empty
// configFile searches ./config and . for config.yaml and falls back to
// defaults and environment variables when none exists.
func Load(configFile string) (*Config, error) {
	return LoadFrom(viper.New(), configFile)
}

// LoadFrom is Load on a caller supplied viper instance, typically one with
// command line flags already bound.
func LoadFrom(v *viper.Viper, configFile string) (*Config, error) {
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if err := v.BindEnv("server.port", "LISTEN_PORT", "PORT"); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, fmt.Errorf("read config: %w", err)
		}
		slog.Info("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Defaults()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.environment", d.Server.Environment)
	v.SetDefault("server.read_header_timeout", d.Server.ReadHeaderTimeout)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.full_duplex", d.Server.FullDuplex)

	v.SetDefault("backend.host", d.Backend.Host)
	v.SetDefault("backend.port", d.Backend.Port)
	v.SetDefault("backend.connect_timeout", d.Backend.ConnectTimeout)
	v.SetDefault("backend.response_header_timeout", d.Backend.ResponseHeaderTimeout)
	v.SetDefault("backend.keep_alive", d.Backend.KeepAlive)

	v.SetDefault("health_check.interval", d.HealthCheck.Interval)
	v.SetDefault("health_check.timeout", d.HealthCheck.Timeout)
	v.SetDefault("health_check.path", d.HealthCheck.Path)

	v.SetDefault("admin.address", d.Admin.Address)
	v.SetDefault("metrics.buffer_size", d.Metrics.BufferSize)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.add_source", d.Logging.AddSource)
}

// Address is the host:port the relay listener binds.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Address is the host:port of the tunnel endpoint.
func (b BackendConfig) Address() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server),
		validation.Field(&c.Backend),
		validation.Field(&c.HealthCheck),
		validation.Field(&c.Admin),
		validation.Field(&c.Metrics),
		validation.Field(&c.Logging),
	)
}

func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Host, validation.Required, is.Host),
		validation.Field(&s.Port, validation.Min(0), validation.Max(65535)),
		validation.Field(&s.Environment,
			validation.Required,
			validation.In(EnvDev, EnvStaging, EnvProd),
		),
		validation.Field(&s.ReadHeaderTimeout, validation.Required, validation.By(validateDuration)),
		validation.Field(&s.ReadTimeout, validation.Required, validation.By(validateDuration)),
		validation.Field(&s.WriteTimeout, validation.Required, validation.By(validateDuration)),
		validation.Field(&s.IdleTimeout, validation.Required, validation.By(validateDuration)),
	)
}

func (b BackendConfig) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.Host, validation.Required, validation.By(validateLoopbackHost)),
		validation.Field(&b.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&b.ConnectTimeout, validation.Required, validation.By(validateDuration)),
		validation.Field(&b.ResponseHeaderTimeout, validation.Required, validation.By(validateDuration)),
	)
}

func (h HealthCheckConfig) Validate() error {
	return validation.ValidateStruct(&h,
		validation.Field(&h.Interval, validation.Required, validation.By(validateDuration)),
		validation.Field(&h.Timeout, validation.Required, validation.By(validateDuration)),
		validation.Field(&h.Path, validation.When(h.Path != "", validation.Match(pathPattern))),
	)
}

func (a AdminConfig) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Address, validation.When(a.Address != "", validation.By(validateHostPort))),
	)
}

func (m MetricsConfig) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.BufferSize, validation.Required, validation.Min(1)),
	)
}

func (l LoggingConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level,
			validation.Required,
			validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
		),
	)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	if d < 0 {
		return validation.NewError("validation_negative_duration", "must not be negative")
	}

	return nil
}

// validateLoopbackHost keeps the backend on this machine. Host headers are
// forwarded untouched, which is only correct for a same-host tunnel.
func validateLoopbackHost(value interface{}) error {
	host, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if strings.EqualFold(host, "localhost") {
		return nil
	}

	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return validation.NewError("validation_not_loopback", "backend host must be a loopback address")
	}

	return nil
}
