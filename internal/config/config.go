// Package config loads the YAML configuration shared by the vault commands.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

const (
	DefaultChain   = "ethereum"
	DefaultTimeout = 30 * time.Second
	DefaultTTL     = 24 * time.Hour
	DefaultListen  = ":4242"
	DefaultDomain  = "localhost"
)

var (
	ErrNoChain    = errors.New("config: chain is required")
	ErrBadURL     = errors.New("config: invalid url")
	ErrBadTimeout = errors.New("config: timeout must be positive")
	ErrBadTTL     = errors.New("config: session ttl must be positive")
	ErrBadLevel   = errors.New("config: unknown log level")
)

type Config struct {
	Chain     string    `yaml:"chain"`
	Log       Log       `yaml:"log"`
	Threshold Threshold `yaml:"threshold"`
	Storage   Storage   `yaml:"storage"`
	Session   Session   `yaml:"session"`
	Wallet    Wallet    `yaml:"wallet"`
	Devnet    Devnet    `yaml:"devnet"`
}

type Log struct {
	Level string `yaml:"level"`
}

type Threshold struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type Storage struct {
	UploadURL  string        `yaml:"uploadUrl"`
	GatewayURL string        `yaml:"gatewayUrl"`
	Timeout    time.Duration `yaml:"timeout"`
}

type Session struct {
	TTL    time.Duration `yaml:"ttl"`
	Domain string        `yaml:"domain"`
}

type Wallet struct {
	KeyFile string `yaml:"keyFile"`
}

type Devnet struct {
	Listen        string  `yaml:"listen"`
	DataPath      string  `yaml:"dataPath"`
	MinimumFreeGB uint64  `yaml:"minimumFreeGB"`
	RateLimit     float64 `yaml:"rateLimit"`
	Burst         int     `yaml:"burst"`
}

// Default points every endpoint at a devnet on localhost.
func Default() Config {
	base := "http://localhost" + DefaultListen
	return Config{
		Chain: DefaultChain,
		Log:   Log{Level: "info"},
		Threshold: Threshold{
			URL:     base,
			Timeout: DefaultTimeout,
		},
		Storage: Storage{
			UploadURL:  base + "/tx",
			GatewayURL: base,
			Timeout:    DefaultTimeout,
		},
		Session: Session{
			TTL:    DefaultTTL,
			Domain: DefaultDomain,
		},
		Wallet: Wallet{KeyFile: "wallet.key"},
		Devnet: Devnet{
			Listen:        DefaultListen,
			DataPath:      "devnet-data",
			MinimumFreeGB: 1,
			RateLimit:     50,
			Burst:         100,
		},
	}
}

// Load reads path over Default. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Chain) == "" {
		return ErrNoChain
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %q", ErrBadLevel, c.Log.Level)
	}
	for name, raw := range map[string]string{
		"threshold.url":      c.Threshold.URL,
		"storage.uploadUrl":  c.Storage.UploadURL,
		"storage.gatewayUrl": c.Storage.GatewayURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: %s=%q", ErrBadURL, name, raw)
		}
	}
	if c.Threshold.Timeout <= 0 || c.Storage.Timeout <= 0 {
		return ErrBadTimeout
	}
	if c.Session.TTL <= 0 {
		return ErrBadTTL
	}
	return nil
}

// Logger returns a logrus logger at the configured level.
func (l Log) Logger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(l.Level); err == nil {
		logger.SetLevel(level)
	}
	return logger
}
