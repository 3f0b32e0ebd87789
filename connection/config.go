package connection

import (
	"time"

	"github.com/MightComeback/molt-mascot-sub001/protocol"
)

// Timing defaults
const (
	DefaultStaleTimeout       = 45 * time.Second
	DefaultStaleCheckInterval = 5 * time.Second
	DefaultPollInterval       = 3 * time.Second
	DefaultSendGuard          = 150 * time.Millisecond
	DefaultHandshakeMethod    = "mascot.connect"
)

// Config is the immutable per-attempt connection configuration. A new
// Connect call replaces it wholesale; nothing mutates it in place.
type Config struct {
	GatewayURL string
	Token      string

	MinProtocol int
	MaxProtocol int
	Client      protocol.ClientInfo
	Role        string
	Scopes      []string

	HandshakeMethod string

	ReconnectBase  time.Duration
	ReconnectMax   time.Duration
	JitterFraction float64

	StaleTimeout       time.Duration
	StaleCheckInterval time.Duration

	PollInterval time.Duration
	SendGuard    time.Duration

	GetStateMethods   []string
	ResetStateMethods []string
}

// withDefaults fills unset fields so a minimal Config is usable
func (c Config) withDefaults() Config {
	if c.HandshakeMethod == "" {
		c.HandshakeMethod = DefaultHandshakeMethod
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = DefaultReconnectBase
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = DefaultReconnectMax
	}
	if c.ReconnectMax < c.ReconnectBase {
		c.ReconnectMax = c.ReconnectBase
	}
	if c.JitterFraction <= 0 {
		c.JitterFraction = DefaultJitterFraction
	}
	if c.StaleTimeout <= 0 {
		c.StaleTimeout = DefaultStaleTimeout
	}
	if c.StaleCheckInterval <= 0 {
		c.StaleCheckInterval = DefaultStaleCheckInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SendGuard <= 0 {
		c.SendGuard = DefaultSendGuard
	}
	if len(c.GetStateMethods) == 0 {
		c.GetStateMethods = DefaultGetStateMethods
	}
	if len(c.ResetStateMethods) == 0 {
		c.ResetStateMethods = DefaultResetStateMethods
	}
	if c.MaxProtocol < c.MinProtocol {
		c.MaxProtocol = c.MinProtocol
	}
	return c
}

// handshakeParams builds the connect request body for this attempt
func (c Config) handshakeParams() protocol.HandshakeParams {
	params := protocol.HandshakeParams{
		MinProtocol: c.MinProtocol,
		MaxProtocol: c.MaxProtocol,
		Client:      c.Client,
		Role:        c.Role,
		Scopes:      c.Scopes,
	}
	if c.Token != "" {
		params.Auth = &protocol.AuthParams{Token: c.Token}
	}
	return params
}
