package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "DRAWR"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabasePath     = "drawr.db"
	defaultLogLevel         = "info"
	defaultIssuer           = "drawr-relay"
	defaultTokenTTLMinutes  = 24 * 60
	defaultDiscoveryName    = "drawr"
	defaultDiscoveryEnabled = false
)

// AppConfig captures runtime configuration for the relay.
type AppConfig struct {
	HTTPAddress       string
	DatabasePath      string
	LogLevel          string
	SigningSecret     string
	Issuer            string
	TokenTTL          time.Duration
	EchoToSender      bool
	DiscoveryEnabled  bool
	DiscoveryInstance string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("relay.echo_to_sender", false)
	configViper.SetDefault("discovery.mdns_enabled", defaultDiscoveryEnabled)
	configViper.SetDefault("discovery.instance", defaultDiscoveryName)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		SigningSecret:     configViper.GetString("auth.signing_secret"),
		Issuer:            configViper.GetString("auth.issuer"),
		TokenTTL:          time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		EchoToSender:      configViper.GetBool("relay.echo_to_sender"),
		DiscoveryEnabled:  configViper.GetBool("discovery.mdns_enabled"),
		DiscoveryInstance: configViper.GetString("discovery.instance"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.Issuer) == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.DiscoveryEnabled && strings.TrimSpace(c.DiscoveryInstance) == "" {
		return fmt.Errorf("discovery.instance is required when mdns is enabled")
	}
	return nil
}
