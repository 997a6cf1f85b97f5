// Package config loads the configuration of the client and server commands
// from a config file and WSRPC_ prefixed environment variables.
package config

import (
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/perun-network/perun-wsrpc/internal/rpc"
	"github.com/perun-network/perun-wsrpc/internal/transport"
	"github.com/perun-network/perun-wsrpc/internal/websocket"
)

// EnvPrefix is the prefix of environment variables overriding config keys.
// WSRPC_TRANSPORT_PINGINTERVAL overrides transport.pingInterval.
const EnvPrefix = "WSRPC"

type (
	// Config represents the parsed config file.
	Config struct {
		// Endpoint is the ws:// or wss:// address the client connects to.
		Endpoint  string
		Transport TransportConfig
		RPC       RPCConfig
		Log       LogConfig
		Server    ServerConfig
	}

	// TransportConfig configures websocket connections.
	TransportConfig struct {
		HandshakeTimeout   time.Duration
		PingInterval       time.Duration
		PongTimeout        time.Duration
		ReadLimit          int64
		InsecureSkipVerify bool
	}

	// RPCConfig configures the client. A zero CallTimeout keeps calls
	// pending until they are answered.
	RPCConfig struct {
		CallTimeout time.Duration
	}

	// LogConfig configures logging.
	LogConfig struct {
		Level logrus.Level
	}

	// ServerConfig configures the reference server.
	ServerConfig struct {
		Address        string
		TLSCertificate string
		TLSPrivKey     string
		MaxNumRequests int
		MetricsPath    string
	}
)

var defaults = map[string]interface{}{
	"endpoint":                     "ws://127.0.0.1:8080/",
	"transport.handshakeTimeout":   10 * time.Second,
	"transport.pingInterval":       transport.DefaultPingInterval,
	"transport.pongTimeout":        transport.DefaultPongTimeout,
	"transport.readLimit":          0,
	"transport.insecureSkipVerify": false,
	"rpc.callTimeout":              0,
	"log.level":                    "info",
	"server.address":               "127.0.0.1:8080",
	"server.tlsCertificate":        "",
	"server.tlsPrivKey":            "",
	"server.maxNumRequests":        websocket.DefaultMaxNumRequests,
	"server.metricsPath":           "/metrics",
}

// Load reads the config file, if file is not empty, and applies environment
// overrides and defaults.
func Load(file string) (*Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config file %s", file)
		}
	}

	var cfg Config
	opts := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		parseConfigTypes(),
	))
	if err := v.Unmarshal(&cfg, opts); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the transport, client and server settings. The endpoint
// is checked separately by ValidateEndpoint since only clients need it.
func (c *Config) Validate() error {
	t := c.Transport
	switch {
	case t.HandshakeTimeout < 0:
		return errors.New("transport.handshakeTimeout must not be negative")
	case t.PingInterval < 0 || t.PongTimeout < 0:
		return errors.New("transport.pingInterval and transport.pongTimeout must not be negative")
	case t.PingInterval > 0 && t.PongTimeout > 0 && t.PingInterval >= t.PongTimeout:
		return errors.Errorf("transport.pingInterval (%v) must be shorter than transport.pongTimeout (%v)",
			t.PingInterval, t.PongTimeout)
	case t.ReadLimit < 0:
		return errors.New("transport.readLimit must not be negative")
	case c.RPC.CallTimeout < 0:
		return errors.New("rpc.callTimeout must not be negative")
	case c.Server.MaxNumRequests <= 0:
		return errors.New("server.maxNumRequests must be positive")
	case (c.Server.TLSCertificate == "") != (c.Server.TLSPrivKey == ""):
		return errors.New("server.tlsCertificate and server.tlsPrivKey must be set together")
	}
	return nil
}

// ValidateEndpoint checks that the endpoint is a websocket URL.
func (c *Config) ValidateEndpoint() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return errors.Wrap(err, "parsing endpoint")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.Errorf("endpoint %q: scheme must be ws or wss", c.Endpoint)
	}
	if u.Host == "" {
		return errors.Errorf("endpoint %q: missing host", c.Endpoint)
	}
	return nil
}

// KeepAlive returns the keep-alive settings of connections.
func (c *Config) KeepAlive() transport.KeepAlive {
	return transport.KeepAlive{
		PingInterval: c.Transport.PingInterval,
		PongTimeout:  c.Transport.PongTimeout,
	}
}

// DialConfig returns the transport configuration of the client.
func (c *Config) DialConfig() transport.DialConfig {
	return transport.DialConfig{
		KeepAlive:          c.KeepAlive(),
		HandshakeTimeout:   c.Transport.HandshakeTimeout,
		ReadLimit:          c.Transport.ReadLimit,
		InsecureSkipVerify: c.Transport.InsecureSkipVerify,
	}
}

// ClientOptions returns the client options derived from the config.
func (c *Config) ClientOptions() []rpc.Option {
	return []rpc.Option{
		rpc.WithDialConfig(c.DialConfig()),
		rpc.WithCallTimeout(c.RPC.CallTimeout),
	}
}

// NodeConfig returns the configuration of the reference server.
func (c *Config) NodeConfig() websocket.Config {
	return websocket.Config{
		Address:        c.Server.Address,
		TLSCertificate: c.Server.TLSCertificate,
		TLSPrivKey:     c.Server.TLSPrivKey,
		MetricsPath:    c.Server.MetricsPath,
		MaxNumRequests: c.Server.MaxNumRequests,
		KeepAlive:      c.KeepAlive(),
	}
}

// parseConfigTypes is used by viper to parse the custom types out of the
// config file.
func parseConfigTypes() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		switch to {
		case reflect.TypeOf(logrus.Level(0)):
			lvl, ok := data.(string)
			if !ok {
				return data, nil
			}
			return logrus.ParseLevel(lvl)
		default:
			return data, nil
		}
	}
}
