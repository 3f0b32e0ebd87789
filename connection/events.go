package connection

import (
	"encoding/json"

	"github.com/MightComeback/molt-mascot-sub001/protocol"
)

// Events is the consumer boundary. The rendering/tray/preference layers
// implement this to observe the connection; the core never requires them
// to act on anything. Callbacks run on the manager's event loop, so
// implementations must return promptly.
type Events interface {
	// ConnectionStateChanged fires on every phase transition
	ConnectionStateChanged(phase Phase)

	// ReconnectCountdown fires once per second during a backoff delay with
	// the seconds remaining until the next attempt
	ReconnectCountdown(secondsRemaining int)

	// HandshakeSuccess fires after a hello-ok response
	HandshakeSuccess()

	// HandshakeFailure fires when the Gateway rejects the handshake
	HandshakeFailure(detail string)

	// ExtendedState delivers an extended-state payload from the Gateway
	ExtendedState(payload json.RawMessage)

	// ExtendedStateReset tells the consumer to discard any cached extended
	// state; a new Gateway session may carry different configuration
	ExtendedStateReset()

	// RawEvent forwards an unsolicited event frame
	RawEvent(msg protocol.Envelope)

	// Disconnected fires when the channel closes, with the close detail
	Disconnected(code int, reason string)

	// ConnError reports a recovered failure; the core retries on its own
	ConnError(message string)
}

// NopEvents is a no-op Events implementation for embedding, so consumers
// only override the callbacks they care about.
type NopEvents struct{}

func (NopEvents) ConnectionStateChanged(Phase)  {}
func (NopEvents) ReconnectCountdown(int)        {}
func (NopEvents) HandshakeSuccess()             {}
func (NopEvents) HandshakeFailure(string)       {}
func (NopEvents) ExtendedState(json.RawMessage) {}
func (NopEvents) ExtendedStateReset()           {}
func (NopEvents) RawEvent(protocol.Envelope)    {}
func (NopEvents) Disconnected(int, string)      {}
func (NopEvents) ConnError(string)              {}

var _ Events = NopEvents{}
