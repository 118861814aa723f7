package peervault

import "time"

// ICEServer mirrors a WebRTC ICE server entry (STUN/TURN).
type ICEServer struct {
	URLs       []string `mapstructure:"urls" validate:"required,min=1"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

// WebRTCConfig controls the opportunistic direct-path upgrade (§6.4).
type WebRTCConfig struct {
	// Enabled turns the upgrade attempt on. Connections stay relay-only when
	// false.
	Enabled bool `mapstructure:"enabled"`

	ICEServers []ICEServer `mapstructure:"ice_servers"`

	// SignalingTimeout bounds how long the offer/answer/ICE exchange may run
	// before the upgrade attempt is abandoned.
	SignalingTimeout time.Duration `mapstructure:"signaling_timeout"`

	// ConnectionTimeout is the configured bound for the DataChannel to reach
	// the open state once signaling completes. It is loaded and defaulted
	// like the other timeouts, but the upgrade flow in internal/hybrid does
	// not read it: no timeout is applied while the DataChannel opens.
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`

	// RetryCooldown, if nonzero, allows a fresh upgrade attempt this many
	// duration units after the peer rejected an attempt. Zero (the default)
	// makes rejection terminal for the connection's lifetime (SPEC_FULL
	// §4.12, spec §9 Open Question 1). A timed-out attempt does not start
	// the cooldown and may be retried at once.
	RetryCooldown time.Duration `mapstructure:"retry_cooldown"`
}

// DefaultWebRTCConfig returns the upgrade defaults: enabled, a public STUN
// server, and the timeouts from spec §4.6/§4.7.
func DefaultWebRTCConfig() WebRTCConfig {
	return WebRTCConfig{
		Enabled: true,
		ICEServers: []ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
		SignalingTimeout:  5 * time.Second,
		ConnectionTimeout: 10 * time.Second,
		RetryCooldown:     0,
	}
}

// Config is the top-level configuration for a Transport.
type Config struct {
	// RelayAddr is the relay endpoint's listen/dial address, opaque to this
	// layer and passed straight through to internal/relay (§6.2).
	RelayAddr string `mapstructure:"relay_addr"`

	// RelayURLs is an optional set of relay URLs an embedder's own
	// relay.Endpoint constructor may use in place of its built-in defaults
	// (§6.4 relayUrls?). This library never dials them itself — endpoint
	// construction stays the embedder's responsibility (see DESIGN.md Open
	// Questions).
	RelayURLs []string `mapstructure:"relay_urls"`

	// SecretKeyPath is used to build the default FileSecretStore when Store
	// is left nil. Ignored if Store is set.
	SecretKeyPath string `mapstructure:"secret_key_path" validate:"required_without=Store"`

	WebRTC WebRTCConfig `mapstructure:"webrtc"`

	// Debug switches the default Logger to development mode when Logger is
	// left nil.
	Debug bool `mapstructure:"debug"`

	// MaxBufferedAmount caps how many bytes of a framed stream may sit
	// unflushed before Send applies backpressure (§4.2).
	MaxBufferedAmount uint64 `mapstructure:"max_buffered_amount"`

	// BackpressurePollInterval and BackpressureTimeout tune the §4.2 polling
	// loop.
	BackpressurePollInterval time.Duration `mapstructure:"backpressure_poll_interval"`
	BackpressureTimeout      time.Duration `mapstructure:"backpressure_timeout"`

	Store  SecretStore `mapstructure:"-"`
	Logger Logger      `mapstructure:"-"`
}

// DefaultConfig returns a Config with every timeout and buffer threshold
// set to the spec's defaults. Callers still need to set RelayAddr and
// either SecretKeyPath or Store.
func DefaultConfig() Config {
	return Config{
		WebRTC:                   DefaultWebRTCConfig(),
		MaxBufferedAmount:        1 << 20, // 1 MiB
		BackpressurePollInterval: 10 * time.Millisecond,
		BackpressureTimeout:      30 * time.Second,
	}
}

func (c Config) secretStore() SecretStore {
	if c.Store != nil {
		return c.Store
	}
	return NewFileSecretStore(c.SecretKeyPath)
}

func (c Config) logger() (Logger, error) {
	if c.Logger != nil {
		return c.Logger, nil
	}
	if c.Debug {
		return NewDevelopmentLogger()
	}
	return NewProductionLogger()
}
