package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/AmmannChristian/go-fbauth/connpool"
	"github.com/AmmannChristian/go-fbauth/facebook"
	"github.com/AmmannChristian/go-fbauth/httpclient"
)

// EnvPrefix prefixes environment overrides, e.g. FBAUTH_HTTP_PROXYHOST.
const EnvPrefix = "FBAUTH"

// Config is the complete fbauth configuration.
type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Facebook FacebookConfig `mapstructure:"facebook"`
	Logging  LogConfig      `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// HTTPConfig selects and tunes the outbound transport.
type HTTPConfig struct {
	Mode        string        `mapstructure:"mode"` // pooled or simple
	ProxyHost   string        `mapstructure:"proxyHost"`
	ProxyPort   int           `mapstructure:"proxyPort"` // 80 when proxyHost is set and this is 0
	ProxyScheme string        `mapstructure:"proxyScheme"`
	Timeout     time.Duration `mapstructure:"timeout"`

	Pool PoolConfig `mapstructure:"pool"`

	TLS struct {
		CAFile   string `mapstructure:"caFile"`
		CertFile string `mapstructure:"certFile"`
		KeyFile  string `mapstructure:"keyFile"`
		Insecure bool   `mapstructure:"insecure"` // Skip certificate verification
	} `mapstructure:"tls"`
}

// PoolConfig configures the pooled transport and its reaper.
type PoolConfig struct {
	MaxTotal                int           `mapstructure:"maxTotal"`
	MaxPerRoute             int           `mapstructure:"maxPerRoute"`
	ValidateAfterInactivity time.Duration `mapstructure:"validateAfterInactivity"`
	TimeToLive              time.Duration `mapstructure:"timeToLive"`
	IdleTimeout             time.Duration `mapstructure:"idleTimeout"`
	SweepInterval           time.Duration `mapstructure:"sweepInterval"`
}

// FacebookConfig identifies the application.
type FacebookConfig struct {
	ClientID     string `mapstructure:"clientId"`
	ClientSecret string `mapstructure:"clientSecret"`
	RedirectURL  string `mapstructure:"redirectUrl"`
	TokenURL     string `mapstructure:"tokenUrl"`
	AuthorizeURL string `mapstructure:"authorizeUrl"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level      string `mapstructure:"level"`      // debug, info, warn, error
	OutputPath string `mapstructure:"outputPath"` // file path, "stdout" or "stderr"
	Encoding   string `mapstructure:"encoding"`   // json or console
}

// MetricsConfig for optional Prometheus metrics.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// Load reads configuration from path, if given, then applies FBAUTH_*
// environment overrides. A missing explicit path is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every key so that environment overrides apply to
// keys absent from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("http.mode", string(httpclient.ModePooled))
	v.SetDefault("http.proxyHost", "")
	v.SetDefault("http.proxyPort", 0)
	v.SetDefault("http.proxyScheme", "http")
	v.SetDefault("http.timeout", httpclient.DefaultTimeout)
	v.SetDefault("http.pool.maxTotal", connpool.DefaultMaxTotal)
	v.SetDefault("http.pool.maxPerRoute", connpool.DefaultMaxPerRoute)
	v.SetDefault("http.pool.validateAfterInactivity", connpool.DefaultValidateAfterInactivity)
	v.SetDefault("http.pool.timeToLive", time.Duration(0))
	v.SetDefault("http.pool.idleTimeout", connpool.DefaultIdleTimeout)
	v.SetDefault("http.pool.sweepInterval", connpool.DefaultSweepInterval)
	v.SetDefault("http.tls.caFile", "")
	v.SetDefault("http.tls.certFile", "")
	v.SetDefault("http.tls.keyFile", "")
	v.SetDefault("http.tls.insecure", false)

	v.SetDefault("facebook.clientId", "")
	v.SetDefault("facebook.clientSecret", "")
	v.SetDefault("facebook.redirectUrl", "")
	v.SetDefault("facebook.tokenUrl", facebook.DefaultTokenURL)
	v.SetDefault("facebook.authorizeUrl", facebook.DefaultAuthorizeURL)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.outputPath", "stderr")
	v.SetDefault("logging.encoding", "json")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", ":2112")
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "fbauth")
}

// validate ensures configuration is valid
func validate(cfg *Config) error {
	h := &cfg.HTTP

	switch httpclient.Mode(h.Mode) {
	case httpclient.ModePooled, httpclient.ModeSimple:
	default:
		return fmt.Errorf("http.mode must be 'pooled' or 'simple', got '%s'", h.Mode)
	}

	if h.ProxyHost == "" && h.ProxyPort != 0 {
		return errors.New("http.proxyPort requires http.proxyHost")
	}
	if h.ProxyPort < 0 || h.ProxyPort > 65535 {
		return fmt.Errorf("http.proxyPort %d out of range", h.ProxyPort)
	}
	if h.ProxyScheme != "http" && h.ProxyScheme != "socks5" {
		return fmt.Errorf("http.proxyScheme must be 'http' or 'socks5', got '%s'", h.ProxyScheme)
	}
	if h.Timeout < 0 {
		return errors.New("http.timeout must not be negative")
	}

	p := &h.Pool
	if p.MaxTotal <= 0 || p.MaxPerRoute <= 0 {
		return errors.New("http.pool limits must be positive")
	}
	if p.MaxPerRoute > p.MaxTotal {
		return fmt.Errorf("http.pool.maxPerRoute (%d) exceeds http.pool.maxTotal (%d)", p.MaxPerRoute, p.MaxTotal)
	}
	if p.TimeToLive < 0 || p.IdleTimeout < 0 || p.SweepInterval < 0 {
		return errors.New("http.pool durations must not be negative")
	}

	if (h.TLS.CertFile == "") != (h.TLS.KeyFile == "") {
		return errors.New("http.tls.certFile and http.tls.keyFile must be set together")
	}

	if cfg.Facebook.TokenURL == "" {
		return errors.New("facebook.tokenUrl is required")
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got '%s'", cfg.Logging.Level)
	}
	if cfg.Logging.Encoding != "json" && cfg.Logging.Encoding != "console" {
		return fmt.Errorf("logging.encoding must be 'json' or 'console', got '%s'", cfg.Logging.Encoding)
	}

	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got '%s'", cfg.Metrics.Path)
	}

	return nil
}

// SelectorConfig converts the HTTP section into a transport selection.
func (h HTTPConfig) SelectorConfig() httpclient.Config {
	return httpclient.Config{
		Mode:                    httpclient.Mode(h.Mode),
		ProxyHost:               h.ProxyHost,
		ProxyPort:               h.ProxyPort,
		ProxyScheme:             h.ProxyScheme,
		MaxTotal:                h.Pool.MaxTotal,
		MaxPerRoute:             h.Pool.MaxPerRoute,
		ValidateAfterInactivity: h.Pool.ValidateAfterInactivity,
		TimeToLive:              h.Pool.TimeToLive,
		IdleTimeout:             h.Pool.IdleTimeout,
		SweepInterval:           h.Pool.SweepInterval,
	}
}

// Builder returns an HTTP client builder configured from the HTTP section.
func (h HTTPConfig) Builder() *httpclient.Builder {
	b := httpclient.NewBuilder().
		WithConfig(h.SelectorConfig()).
		WithTimeout(h.Timeout)

	if h.TLS.CAFile != "" || h.TLS.CertFile != "" {
		b = b.WithTLS(h.TLS.CAFile, h.TLS.CertFile, h.TLS.KeyFile)
	}
	if h.TLS.Insecure {
		b = b.WithInsecureSkipVerify()
	}
	return b
}
