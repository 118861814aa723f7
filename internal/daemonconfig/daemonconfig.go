// Package daemonconfig loads peervault.Config for the standalone
// cmd/peervaultd daemon from a config file plus environment variables,
// following the teacher's api/integration-api/config/config.go pattern:
// viper for layered sourcing, mapstructure for decoding into a typed
// struct, and go-playground/validator for required-field enforcement.
package daemonconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/robcohen/peervault"
	"github.com/spf13/viper"
)

// newEnvReplacer maps PEERVAULT_WEBRTC_ENABLED style env vars onto the
// dotted viper keys (webrtc.enabled) the config struct is read through.
func newEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_")
}

// fileConfig mirrors peervault.Config's mapstructure-tagged fields; it
// exists separately because peervault.Config also carries a Store/Logger
// that have no file representation.
type fileConfig struct {
	RelayAddr                string        `mapstructure:"relay_addr" validate:"required"`
	RelayURLs                []string      `mapstructure:"relay_urls"`
	SecretKeyPath            string        `mapstructure:"secret_key_path" validate:"required"`
	Debug                    bool          `mapstructure:"debug"`
	MaxBufferedAmount        uint64        `mapstructure:"max_buffered_amount"`
	BackpressurePollInterval time.Duration `mapstructure:"backpressure_poll_interval"`
	BackpressureTimeout      time.Duration `mapstructure:"backpressure_timeout"`
	WebRTC                   struct {
		Enabled           bool          `mapstructure:"enabled"`
		SignalingTimeout  time.Duration `mapstructure:"signaling_timeout"`
		ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
		RetryCooldown     time.Duration `mapstructure:"retry_cooldown"`
		ICEServers        []struct {
			URLs       []string `mapstructure:"urls" validate:"required,min=1"`
			Username   string   `mapstructure:"username"`
			Credential string   `mapstructure:"credential"`
		} `mapstructure:"ice_servers"`
	} `mapstructure:"webrtc"`
}

func setDefaults(v *viper.Viper) {
	defaults := peervault.DefaultConfig()
	v.SetDefault("max_buffered_amount", defaults.MaxBufferedAmount)
	v.SetDefault("backpressure_poll_interval", defaults.BackpressurePollInterval)
	v.SetDefault("backpressure_timeout", defaults.BackpressureTimeout)
	v.SetDefault("webrtc.enabled", defaults.WebRTC.Enabled)
	v.SetDefault("webrtc.signaling_timeout", defaults.WebRTC.SignalingTimeout)
	v.SetDefault("webrtc.connection_timeout", defaults.WebRTC.ConnectionTimeout)
	v.SetDefault("webrtc.retry_cooldown", defaults.WebRTC.RetryCooldown)
}

// Load reads configPath (if it exists) plus PEERVAULT_-prefixed
// environment variables into a peervault.Config, validating required
// fields before returning.
func Load(configPath string) (peervault.Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("peervault")
	v.SetEnvKeyReplacer(newEnvReplacer())
	v.AutomaticEnv()
	// Keys with no default are bound explicitly so Unmarshal sees their
	// environment values even when no config file sets them.
	for _, key := range []string{"relay_addr", "relay_urls", "secret_key_path", "debug"} {
		_ = v.BindEnv(key)
	}
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !errors.Is(err, fs.ErrNotExist) {
			return peervault.Config{}, fmt.Errorf("daemonconfig: reading config file: %w", err)
		}
	}

	var fc fileConfig
	decodeHook := mapstructure.ComposeDecodeHookFunc(mapstructure.StringToTimeDurationHookFunc())
	if err := v.Unmarshal(&fc, viper.DecodeHook(decodeHook)); err != nil {
		return peervault.Config{}, fmt.Errorf("daemonconfig: decoding config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(fc); err != nil {
		return peervault.Config{}, fmt.Errorf("daemonconfig: invalid config: %w", err)
	}

	cfg := peervault.DefaultConfig()
	cfg.RelayAddr = fc.RelayAddr
	cfg.RelayURLs = fc.RelayURLs
	cfg.SecretKeyPath = fc.SecretKeyPath
	cfg.Debug = fc.Debug
	if fc.MaxBufferedAmount > 0 {
		cfg.MaxBufferedAmount = fc.MaxBufferedAmount
	}
	if fc.BackpressurePollInterval > 0 {
		cfg.BackpressurePollInterval = fc.BackpressurePollInterval
	}
	if fc.BackpressureTimeout > 0 {
		cfg.BackpressureTimeout = fc.BackpressureTimeout
	}
	cfg.WebRTC.Enabled = fc.WebRTC.Enabled
	if fc.WebRTC.SignalingTimeout > 0 {
		cfg.WebRTC.SignalingTimeout = fc.WebRTC.SignalingTimeout
	}
	if fc.WebRTC.ConnectionTimeout > 0 {
		cfg.WebRTC.ConnectionTimeout = fc.WebRTC.ConnectionTimeout
	}
	cfg.WebRTC.RetryCooldown = fc.WebRTC.RetryCooldown
	if len(fc.WebRTC.ICEServers) > 0 {
		servers := make([]peervault.ICEServer, 0, len(fc.WebRTC.ICEServers))
		for _, s := range fc.WebRTC.ICEServers {
			servers = append(servers, peervault.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
		}
		cfg.WebRTC.ICEServers = servers
	}
	return cfg, nil
}
