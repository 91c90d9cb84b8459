package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete engine configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" envconfig:"SERVER"`
	Auth    AuthConfig    `yaml:"auth" envconfig:"AUTH"`
	Policy  PolicyConfig  `yaml:"policy" envconfig:"POLICY"`
	Push    PushConfig    `yaml:"push" envconfig:"PUSH"`
	Store   StoreConfig   `yaml:"store" envconfig:"STORE"`
	Logging LoggingConfig `yaml:"logging" envconfig:"LOGGING"`
}

// ServerConfig contains the local control API server configuration
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr" envconfig:"LISTEN_ADDR" default:"127.0.0.1:8451"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// AuthConfig contains the licensing authority endpoints and application identity
type AuthConfig struct {
	PrimaryURL    string        `yaml:"primary_url" envconfig:"PRIMARY_URL" default:"https://api.keygate.example/v1/"`
	AlternateURL  string        `yaml:"alternate_url" envconfig:"ALTERNATE_URL" default:"https://api-alt.keygate.example/v1/"`
	PushURL       string        `yaml:"push_url" envconfig:"PUSH_URL" default:"wss://push.keygate.example/v1/events"`
	AppName       string        `yaml:"app_name" envconfig:"APP_NAME" default:"keygate"`
	AppOwner      string        `yaml:"app_owner" envconfig:"APP_OWNER"`
	AppVersion    string        `yaml:"app_version" envconfig:"APP_VERSION" default:"1.0"`
	HTTPTimeout   time.Duration `yaml:"http_timeout" envconfig:"HTTP_TIMEOUT" default:"10s"`
	SigningKeyPEM string        `yaml:"signing_key_pem" envconfig:"SIGNING_KEY_PEM"`
}

// PolicyConfig contains session policy constants.
// The grace period bounds offline tolerance; the skew tolerance guards the
// grace window against devices rolling their clock backwards.
type PolicyConfig struct {
	GracePeriod        time.Duration `yaml:"grace_period" envconfig:"GRACE_PERIOD" default:"72h"`
	RenewalInterval    time.Duration `yaml:"renewal_interval" envconfig:"RENEWAL_INTERVAL" default:"30m"`
	ClockSkewTolerance time.Duration `yaml:"clock_skew_tolerance" envconfig:"CLOCK_SKEW_TOLERANCE" default:"5m"`
	LoginRateRPS       float64       `yaml:"login_rate_rps" envconfig:"LOGIN_RATE_RPS" default:"1"`
	LoginRateBurst     int           `yaml:"login_rate_burst" envconfig:"LOGIN_RATE_BURST" default:"5"`
}

// PushConfig contains push-channel reconnect configuration
type PushConfig struct {
	ReconnectBase    time.Duration `yaml:"reconnect_base" envconfig:"RECONNECT_BASE" default:"1s"`
	ReconnectMax     time.Duration `yaml:"reconnect_max" envconfig:"RECONNECT_MAX" default:"2m"`
	MaxReconnects    int           `yaml:"max_reconnects" envconfig:"MAX_RECONNECTS" default:"10"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" envconfig:"HANDSHAKE_TIMEOUT" default:"10s"`
	PongWait         time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT" default:"60s"`
}

// StoreConfig contains credential store configuration
type StoreConfig struct {
	Dir  string `yaml:"dir" envconfig:"DIR"`
	File string `yaml:"file" envconfig:"FILE" default:"session.dat"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/keygate.log"`
}

// Load loads configuration from environment variables and an optional config file
func Load() (*Config, error) {
	var cfg Config

	// Environment variables first
	if err := envconfig.Process("KEYGATE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// Overlay config file into fields the environment left empty
	configFile := configFilePath()
	if _, err := os.Stat(configFile); err == nil {
		fileCfg, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg.merge(fileCfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// merge fills fields without an env value or default from the file config
func (c *Config) merge(file *Config) {
	if c.Auth.AppOwner == "" {
		c.Auth.AppOwner = file.Auth.AppOwner
	}
	if c.Auth.SigningKeyPEM == "" {
		c.Auth.SigningKeyPEM = file.Auth.SigningKeyPEM
	}
	if c.Store.Dir == "" {
		c.Store.Dir = file.Store.Dir
	}
}

func (c *Config) validate() error {
	if c.Auth.PrimaryURL == "" {
		return fmt.Errorf("auth.primary_url is required")
	}
	if c.Policy.GracePeriod <= 0 {
		return fmt.Errorf("policy.grace_period must be positive")
	}
	if c.Policy.RenewalInterval <= 0 {
		return fmt.Errorf("policy.renewal_interval must be positive")
	}
	if c.Policy.ClockSkewTolerance < 0 {
		return fmt.Errorf("policy.clock_skew_tolerance must not be negative")
	}
	if c.Push.ReconnectBase <= 0 || c.Push.ReconnectMax < c.Push.ReconnectBase {
		return fmt.Errorf("push reconnect window is invalid")
	}
	if c.Store.File == "" {
		return fmt.Errorf("store.file is required")
	}
	return nil
}

// StorePath returns the resolved credential store file path
func (c *Config) StorePath() (string, error) {
	dir := c.Store.Dir
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve config dir: %w", err)
		}
		dir = filepath.Join(base, "keygate")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create store dir: %w", err)
	}
	return filepath.Join(dir, c.Store.File), nil
}

func configFilePath() string {
	if p := os.Getenv("KEYGATE_CONFIG"); p != "" {
		return p
	}
	return "keygate.yaml"
}
