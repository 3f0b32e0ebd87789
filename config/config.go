// Package config resolves widget configuration from flags, environment
// variables, an optional YAML file, and defaults, in that order.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MightComeback/molt-mascot-sub001/connection"
	"github.com/MightComeback/molt-mascot-sub001/latency"
	"github.com/MightComeback/molt-mascot-sub001/protocol"
)

// Config holds all resolved widget configuration
type Config struct {
	GatewayURL string
	Token      string
	TokenFile  string

	MinProtocol int
	MaxProtocol int

	ClientName    string
	ClientVersion string
	Platform      string
	Mode          string

	ReconnectBase  time.Duration
	ReconnectMax   time.Duration
	JitterFraction float64

	StaleTimeout       time.Duration
	StaleCheckInterval time.Duration

	PollInterval time.Duration
	SendGuard    time.Duration

	GetStateMethods   []string
	ResetStateMethods []string

	LatencyCapacity int

	LogLevel  string
	LogFormat string
}

// fileConfig is the YAML config file shape
type fileConfig struct {
	Gateway struct {
		URL         string `yaml:"url"`
		Token       string `yaml:"token"`
		TokenFile   string `yaml:"token_file"`
		MinProtocol int    `yaml:"min_protocol"`
		MaxProtocol int    `yaml:"max_protocol"`
	} `yaml:"gateway"`
	Client struct {
		Name     string `yaml:"name"`
		Version  string `yaml:"version"`
		Platform string `yaml:"platform"`
		Mode     string `yaml:"mode"`
	} `yaml:"client"`
	Reconnect struct {
		Base           string  `yaml:"base"`
		Max            string  `yaml:"max"`
		JitterFraction float64 `yaml:"jitter_fraction"`
	} `yaml:"reconnect"`
	Liveness struct {
		StaleTimeout       string `yaml:"stale_timeout"`
		StaleCheckInterval string `yaml:"stale_check_interval"`
	} `yaml:"liveness"`
	Polling struct {
		Interval          string   `yaml:"interval"`
		SendGuard         string   `yaml:"send_guard"`
		GetStateMethods   []string `yaml:"get_state_methods"`
		ResetStateMethods []string `yaml:"reset_state_methods"`
	} `yaml:"polling"`
	Latency struct {
		Capacity int `yaml:"capacity"`
	} `yaml:"latency"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// flag values (populated by flag.Parse)
var (
	flagConfigFile     string
	flagGatewayURL     string
	flagToken          string
	flagTokenFile      string
	flagMinProtocol    string
	flagMaxProtocol    string
	flagClientName     string
	flagClientVersion  string
	flagPlatform       string
	flagMode           string
	flagReconnectBase  string
	flagReconnectMax   string
	flagJitterFraction string
	flagStaleTimeout   string
	flagStaleCheck     string
	flagPollInterval   string
	flagSendGuard      string
	flagLatencyCap     string
	flagLogLevel       string
	flagLogFormat      string
)

func init() {
	flag.StringVar(&flagConfigFile, "config", "",
		"Path to YAML config file (env: MOLT_CONFIG)")
	flag.StringVar(&flagGatewayURL, "gateway-url", "",
		"WebSocket URL of the Gateway (env: MOLT_GATEWAY_URL)")
	flag.StringVar(&flagToken, "token", "",
		"Token for Gateway authentication (env: MOLT_TOKEN)")
	flag.StringVar(&flagTokenFile, "token-file", "",
		"Path to token file for Gateway authentication (env: MOLT_TOKEN_FILE)")
	flag.StringVar(&flagMinProtocol, "min-protocol", "",
		"Minimum protocol version to offer (env: MOLT_MIN_PROTOCOL)")
	flag.StringVar(&flagMaxProtocol, "max-protocol", "",
		"Maximum protocol version to offer (env: MOLT_MAX_PROTOCOL)")
	flag.StringVar(&flagClientName, "client-name", "",
		"Client display name sent in the handshake (env: MOLT_CLIENT_NAME)")
	flag.StringVar(&flagClientVersion, "client-version", "",
		"Client version sent in the handshake (env: MOLT_CLIENT_VERSION)")
	flag.StringVar(&flagPlatform, "platform", "",
		"Platform identifier sent in the handshake (env: MOLT_PLATFORM)")
	flag.StringVar(&flagMode, "mode", "",
		"Client mode sent in the handshake (env: MOLT_MODE)")
	flag.StringVar(&flagReconnectBase, "reconnect-base", "",
		"Base reconnect delay (env: MOLT_RECONNECT_BASE)")
	flag.StringVar(&flagReconnectMax, "reconnect-max", "",
		"Maximum reconnect delay (env: MOLT_RECONNECT_MAX)")
	flag.StringVar(&flagJitterFraction, "jitter-fraction", "",
		"Reconnect jitter fraction 0..1 (env: MOLT_JITTER_FRACTION)")
	flag.StringVar(&flagStaleTimeout, "stale-timeout", "",
		"Silence duration before the connection is considered stale (env: MOLT_STALE_TIMEOUT)")
	flag.StringVar(&flagStaleCheck, "stale-check-interval", "",
		"How often to check staleness (env: MOLT_STALE_CHECK_INTERVAL)")
	flag.StringVar(&flagPollInterval, "poll-interval", "",
		"Extended-state poll interval (env: MOLT_POLL_INTERVAL)")
	flag.StringVar(&flagSendGuard, "send-guard", "",
		"Minimum spacing between extended-state requests (env: MOLT_SEND_GUARD)")
	flag.StringVar(&flagLatencyCap, "latency-capacity", "",
		"Latency sample window size (env: MOLT_LATENCY_CAPACITY)")
	flag.StringVar(&flagLogLevel, "log-level", "",
		"Log level: DEBUG, INFO, WARN, ERROR (env: MOLT_LOG_LEVEL)")
	flag.StringVar(&flagLogFormat, "log-format", "",
		"Log format: json, console (env: MOLT_LOG_FORMAT)")
}

// Load parses flags, reads env vars and the optional config file, applies
// defaults, and returns Config.
func Load() (*Config, error) {
	flag.Parse()

	path := resolveString(flagConfigFile, "MOLT_CONFIG", "", "")
	var file fileConfig
	if path != "" {
		loaded, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		file = loaded
	}
	return resolve(file), nil
}

func loadFile(path string) (fileConfig, error) {
	var file fileConfig
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return file, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return file, fmt.Errorf("parse config file: %w", err)
	}
	return file, nil
}

// resolve merges flag, env, file and default values
func resolve(file fileConfig) *Config {
	return &Config{
		GatewayURL: resolveString(flagGatewayURL, "MOLT_GATEWAY_URL",
			file.Gateway.URL, "ws://127.0.0.1:18789/widget"),
		Token: resolveString(flagToken, "MOLT_TOKEN",
			file.Gateway.Token, ""),
		TokenFile: resolveString(flagTokenFile, "MOLT_TOKEN_FILE",
			file.Gateway.TokenFile, ""),
		MinProtocol: resolveInt(flagMinProtocol, "MOLT_MIN_PROTOCOL",
			file.Gateway.MinProtocol, 1),
		MaxProtocol: resolveInt(flagMaxProtocol, "MOLT_MAX_PROTOCOL",
			file.Gateway.MaxProtocol, 1),
		ClientName: resolveString(flagClientName, "MOLT_CLIENT_NAME",
			file.Client.Name, "molt-mascot"),
		ClientVersion: resolveString(flagClientVersion, "MOLT_CLIENT_VERSION",
			file.Client.Version, "dev"),
		Platform: resolveString(flagPlatform, "MOLT_PLATFORM",
			file.Client.Platform, runtime.GOOS),
		Mode: resolveString(flagMode, "MOLT_MODE",
			file.Client.Mode, "widget"),
		ReconnectBase: resolveDuration(flagReconnectBase, "MOLT_RECONNECT_BASE",
			file.Reconnect.Base, connection.DefaultReconnectBase),
		ReconnectMax: resolveDuration(flagReconnectMax, "MOLT_RECONNECT_MAX",
			file.Reconnect.Max, connection.DefaultReconnectMax),
		JitterFraction: resolveFloat(flagJitterFraction, "MOLT_JITTER_FRACTION",
			file.Reconnect.JitterFraction, connection.DefaultJitterFraction),
		StaleTimeout: resolveDuration(flagStaleTimeout, "MOLT_STALE_TIMEOUT",
			file.Liveness.StaleTimeout, connection.DefaultStaleTimeout),
		StaleCheckInterval: resolveDuration(flagStaleCheck, "MOLT_STALE_CHECK_INTERVAL",
			file.Liveness.StaleCheckInterval, connection.DefaultStaleCheckInterval),
		PollInterval: resolveDuration(flagPollInterval, "MOLT_POLL_INTERVAL",
			file.Polling.Interval, connection.DefaultPollInterval),
		SendGuard: resolveDuration(flagSendGuard, "MOLT_SEND_GUARD",
			file.Polling.SendGuard, connection.DefaultSendGuard),
		GetStateMethods:   resolveList(file.Polling.GetStateMethods, connection.DefaultGetStateMethods),
		ResetStateMethods: resolveList(file.Polling.ResetStateMethods, connection.DefaultResetStateMethods),
		LatencyCapacity: resolveInt(flagLatencyCap, "MOLT_LATENCY_CAPACITY",
			file.Latency.Capacity, latency.DefaultCapacity),
		LogLevel: resolveString(flagLogLevel, "MOLT_LOG_LEVEL",
			file.Log.Level, "INFO"),
		LogFormat: resolveString(flagLogFormat, "MOLT_LOG_FORMAT",
			file.Log.Format, "console"),
	}
}

// resolveString returns the first non-empty of: flag, env var, file, default
func resolveString(flagVal, envVar, fileVal, defaultVal string) string {
	if flagVal != "" {
		return flagVal
	}
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	if fileVal != "" {
		return fileVal
	}
	return defaultVal
}

func resolveDuration(flagVal, envVar, fileVal string, defaultVal time.Duration) time.Duration {
	val := resolveString(flagVal, envVar, fileVal, "")
	if val == "" {
		return defaultVal
	}
	return parseDuration(val, defaultVal)
}

func resolveInt(flagVal, envVar string, fileVal, defaultVal int) int {
	val := resolveString(flagVal, envVar, "", "")
	if val == "" {
		if fileVal != 0 {
			return fileVal
		}
		return defaultVal
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed < 0 {
		return defaultVal
	}
	return parsed
}

func resolveFloat(flagVal, envVar string, fileVal, defaultVal float64) float64 {
	val := resolveString(flagVal, envVar, "", "")
	if val == "" {
		if fileVal != 0 {
			return fileVal
		}
		return defaultVal
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil || parsed < 0 {
		return defaultVal
	}
	return parsed
}

func resolveList(fileVal, defaultVal []string) []string {
	if len(fileVal) > 0 {
		return fileVal
	}
	return defaultVal
}

// parseDuration parses a duration string, supporting both "10s" format and
// plain seconds
func parseDuration(val string, defaultVal time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(val); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if duration, err := time.ParseDuration(val); err == nil {
		return duration
	}
	return defaultVal
}

// LoadToken loads the token from file or inline value
func (c *Config) LoadToken() (string, error) {
	if c.TokenFile != "" {
		data, err := os.ReadFile(c.TokenFile)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}
	return strings.TrimSpace(c.Token), nil
}

// Validate checks that the resolved values make sense together
func (c *Config) Validate() error {
	if c.GatewayURL == "" {
		return fmt.Errorf("gateway URL is required")
	}
	if !strings.HasPrefix(c.GatewayURL, "ws://") && !strings.HasPrefix(c.GatewayURL, "wss://") {
		return fmt.Errorf("gateway URL must be a ws:// or wss:// address")
	}
	if c.MaxProtocol < c.MinProtocol {
		return fmt.Errorf("max protocol %d is below min protocol %d", c.MaxProtocol, c.MinProtocol)
	}
	if c.ReconnectMax < c.ReconnectBase {
		return fmt.Errorf("reconnect max %s is below base %s", c.ReconnectMax, c.ReconnectBase)
	}
	if c.JitterFraction < 0 || c.JitterFraction >= 1 {
		return fmt.Errorf("jitter fraction %v out of range [0, 1)", c.JitterFraction)
	}
	if c.StaleTimeout <= 0 || c.StaleCheckInterval <= 0 || c.PollInterval <= 0 {
		return fmt.Errorf("stale timeout, stale check interval and poll interval must be positive")
	}
	return nil
}

// ToConnection builds the immutable per-attempt connection configuration,
// minting a fresh per-process instance id.
func (c *Config) ToConnection(token string) connection.Config {
	return connection.Config{
		GatewayURL:  c.GatewayURL,
		Token:       token,
		MinProtocol: c.MinProtocol,
		MaxProtocol: c.MaxProtocol,
		Client: protocol.ClientInfo{
			ID:          c.ClientName,
			DisplayName: c.ClientName,
			Version:     c.ClientVersion,
			Platform:    c.Platform,
			Mode:        c.Mode,
			InstanceID:  protocol.NewInstanceID(c.ClientName),
		},
		Role:               "observer",
		Scopes:             []string{"status:read"},
		ReconnectBase:      c.ReconnectBase,
		ReconnectMax:       c.ReconnectMax,
		JitterFraction:     c.JitterFraction,
		StaleTimeout:       c.StaleTimeout,
		StaleCheckInterval: c.StaleCheckInterval,
		PollInterval:       c.PollInterval,
		SendGuard:          c.SendGuard,
		GetStateMethods:    c.GetStateMethods,
		ResetStateMethods:  c.ResetStateMethods,
	}
}
