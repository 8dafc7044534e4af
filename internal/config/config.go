package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const DefaultPath = "rr2atom.toml"

type Config struct {
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Folder         string        `mapstructure:"folder"`
	Sender         string        `mapstructure:"sender"`
	Subject        string        `mapstructure:"subject"`
	DB             string        `mapstructure:"db"`
	FeedsDirectory string        `mapstructure:"feeds_directory"`
	FeedBaseURL    string        `mapstructure:"feed_base_url"`
	IdleReset      time.Duration `mapstructure:"idle_reset"`
	HTTPTimeout    time.Duration `mapstructure:"http_timeout"`
	Listen         string        `mapstructure:"listen"`
	LogLevel       string        `mapstructure:"log_level"`
}

// IMAPAddress returns host:port. A host that already carries a port is
// used as is; bare IPv6 hosts are bracketed.
func (c *Config) IMAPAddress() string {
	if _, _, err := net.SplitHostPort(c.Host); err == nil {
		return c.Host
	}
	host := strings.TrimSuffix(strings.TrimPrefix(c.Host, "["), "]")
	return net.JoinHostPort(host, strconv.Itoa(c.Port))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("username", "")
	v.SetDefault("password", "")
	v.SetDefault("host", "")
	v.SetDefault("port", 993)
	v.SetDefault("folder", "INBOX")
	v.SetDefault("sender", "noreply@royalroad.com")
	v.SetDefault("subject", "New Chapter of")
	v.SetDefault("db", "sqlite:///rr2atom.sqlite")
	v.SetDefault("feeds_directory", "feeds")
	v.SetDefault("feed_base_url", "https://example.com/")
	// RFC 2177 asks clients to re-issue IDLE at least every 29 minutes.
	v.SetDefault("idle_reset", "10m")
	v.SetDefault("http_timeout", "30s")
	v.SetDefault("listen", "")
	v.SetDefault("log_level", "info")
}

// Touch writes a config file holding the defaults if path does not exist
// yet. It reports whether a file was created.
func Touch(path string) (bool, error) {
	if path == "" {
		path = DefaultPath
	}
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("checking config %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("creating config dir: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("toml")
	if err := v.WriteConfigAs(path); err != nil {
		return false, fmt.Errorf("writing default config %s: %w", path, err)
	}
	return true, nil
}

// Load reads path, creating it with defaults first if needed. Values can be
// overridden with RR2ATOM_* environment variables.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	if _, err := Touch(path); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix("RR2ATOM")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	u, err := url.Parse(cfg.FeedBaseURL)
	if err != nil {
		return fmt.Errorf("feed_base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("feed_base_url: scheme must be http or https, got %q", u.Scheme)
	}
	if cfg.FeedsDirectory == "" {
		return errors.New("feeds_directory is required")
	}
	if cfg.DB == "" {
		return errors.New("db is required")
	}
	if cfg.IdleReset <= 0 || cfg.IdleReset >= 29*time.Minute {
		return fmt.Errorf("idle_reset must be between 0 and 29m, got %s", cfg.IdleReset)
	}
	return nil
}
