package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. REMOTEVIEW_LINK.
const EnvPrefix = "REMOTEVIEW"

// DefaultSignalBase is the remote view service links are issued for. The
// stream endpoint lives under the same base.
const DefaultSignalBase = "https://mcrc.cypphi.dev/api/remoteview"

// Transport names.
const (
	TransportWebRTC = "webrtc"
	TransportStream = "stream"
)

// ErrHelp is returned by Load when --help was requested.
var ErrHelp = pflag.ErrHelp

// Config holds the application configuration.
type Config struct {
	Link          string        `mapstructure:"link"`
	Transport     string        `mapstructure:"transport"`
	SignalBase    string        `mapstructure:"signal-base"`
	StreamBase    string        `mapstructure:"stream-base"`
	WebRTCTTL     time.Duration `mapstructure:"webrtc-ttl"`
	StreamTTL     time.Duration `mapstructure:"stream-ttl"`
	Output        string        `mapstructure:"output"`
	StatusAddr    string        `mapstructure:"status-addr"`
	Connect       bool          `mapstructure:"connect"`
	GatherTimeout time.Duration `mapstructure:"gather-timeout"`
	LogLevel      string        `mapstructure:"log-level"`
	LogPretty     bool          `mapstructure:"log-pretty"`
	PingInterval  time.Duration `mapstructure:"ping-interval"`
	ConfigFile    string        `mapstructure:"config"`
}

// TTL returns the fallback link lifetime for the selected transport.
func (c *Config) TTL() time.Duration {
	if c.Transport == TransportStream {
		return c.StreamTTL
	}
	return c.WebRTCTTL
}

// DefaultBase returns the transport base used when a link has no override.
func (c *Config) DefaultBase() string {
	if c.Transport == TransportStream {
		return c.StreamBase
	}
	return c.SignalBase
}

func flagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("remoteview", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringP("link", "l", "", "remote view link (full URL or query string)")
	fs.StringP("transport", "t", TransportWebRTC, "negotiation strategy: webrtc or stream")
	fs.String("signal-base", DefaultSignalBase, "signaling base URL used when a link has no signal= or base=")
	fs.String("stream-base", DefaultSignalBase, "stream base URL used when a link has no signal= or base=")
	fs.Duration("webrtc-ttl", 60*time.Second, "link lifetime when expires is absent (webrtc)")
	fs.Duration("stream-ttl", 120*time.Second, "link lifetime when expires is absent (stream)")
	fs.StringP("output", "o", "-", "media sink file, - for stdout")
	fs.String("status-addr", "", "listen address for the status feed, empty disables it")
	fs.Bool("connect", true, "connect as soon as the link is loaded")
	fs.Duration("gather-timeout", 10*time.Second, "upper bound on ICE gathering")
	fs.String("log-level", "info", "trace, debug, info, warn or error")
	fs.Bool("log-pretty", false, "human-readable console logs")
	fs.Duration("ping-interval", 30*time.Second, "status feed websocket ping interval")
	fs.StringP("config", "c", "", "optional YAML config file")
	fs.BoolP("help", "h", false, "show this help message")
	return fs
}

// Usage returns the flag reference printed by --help.
func Usage() string {
	return flagSet().FlagUsages()
}

// Load reads configuration from a .env file (if present), an optional
// config file, REMOTEVIEW_* environment variables and args, in increasing
// precedence.
func Load(args []string) (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	fs := flagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if help, _ := fs.GetBool("help"); help {
		return nil, ErrHelp
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values Load cannot default.
func (c *Config) Validate() error {
	var errs []error
	if c.Transport != TransportWebRTC && c.Transport != TransportStream {
		errs = append(errs, fmt.Errorf("transport must be %q or %q, got %q", TransportWebRTC, TransportStream, c.Transport))
	}
	if !validBase(c.DefaultBase()) {
		errs = append(errs, fmt.Errorf("%s base must be an absolute http(s) URL, got %q", c.Transport, c.DefaultBase()))
	}
	if c.WebRTCTTL <= 0 || c.StreamTTL <= 0 {
		errs = append(errs, errors.New("link ttl must be positive"))
	}
	if c.GatherTimeout <= 0 {
		errs = append(errs, errors.New("gather-timeout must be positive"))
	}
	if c.PingInterval <= 0 {
		errs = append(errs, errors.New("ping-interval must be positive"))
	}
	if strings.TrimSpace(c.Link) == "" && c.StatusAddr == "" {
		errs = append(errs, errors.New("a --link is required unless --status-addr is set"))
	}
	return errors.Join(errs...)
}

func validBase(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	return err == nil && u.Host != "" && (u.Scheme == "http" || u.Scheme == "https")
}
