package protocol

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Envelope types on the wire
const (
	TypeRequest  = "req"
	TypeResponse = "res"
	TypeEvent    = "event"
)

// Payload type markers
const (
	PayloadHelloOK = "hello-ok"
	PayloadError   = "error"
)

// Envelope is the outer frame exchanged with the Gateway. Requests carry
// an id and method, responses echo the id with a payload, events carry a
// name and payload.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Request is sent by the widget to the Gateway
type Request struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// NewRequest builds a request with a fresh unique id
func NewRequest(method string, params any) Request {
	return Request{
		Type:   TypeRequest,
		ID:     uuid.NewString(),
		Method: method,
		Params: params,
	}
}

// ClientInfo identifies this widget instance to the Gateway
type ClientInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Version     string `json:"version"`
	Platform    string `json:"platform"`
	Mode        string `json:"mode"`
	InstanceID  string `json:"instanceId"`
}

// AuthParams carries the optional bearer token
type AuthParams struct {
	Token string `json:"token"`
}

// HandshakeParams is the body of the connect request sent once per attempt
type HandshakeParams struct {
	MinProtocol int         `json:"minProtocol"`
	MaxProtocol int         `json:"maxProtocol"`
	Client      ClientInfo  `json:"client"`
	Role        string      `json:"role"`
	Scopes      []string    `json:"scopes"`
	Auth        *AuthParams `json:"auth,omitempty"`
}

// NewInstanceID appends a random suffix to the client id so multiple widget
// instances talking to the same Gateway stay distinguishable.
func NewInstanceID(clientID string) string {
	suffix := uuid.NewString()
	if idx := strings.Index(suffix, "-"); idx > 0 {
		suffix = suffix[:idx]
	}
	return clientID + "-" + suffix
}

// payloadShape is the subset of response payloads the core inspects
type payloadShape struct {
	Type  string          `json:"type"`
	Error json.RawMessage `json:"error"`
}

// wireError is the structured form of payload.error
type wireError struct {
	Message string          `json:"message"`
	Code    json.RawMessage `json:"code"`
}

// IsHelloOK reports whether a handshake response payload marks success
func IsHelloOK(payload json.RawMessage) bool {
	var p payloadShape
	if err := json.Unmarshal(payload, &p); err != nil {
		return false
	}
	return p.Type == PayloadHelloOK
}

// IsErrorPayload reports whether a payload signals a protocol-level rejection
func IsErrorPayload(payload json.RawMessage) bool {
	var p payloadShape
	if err := json.Unmarshal(payload, &p); err != nil {
		return false
	}
	return p.Type == PayloadError || len(p.Error) > 0
}

// errorParts extracts message and code from payload.error, which may be a
// plain string or a {message, code} object (code string or number).
func errorParts(payload json.RawMessage) (message, code string) {
	var p payloadShape
	if err := json.Unmarshal(payload, &p); err != nil || len(p.Error) == 0 {
		return "", ""
	}
	var s string
	if err := json.Unmarshal(p.Error, &s); err == nil {
		return s, ""
	}
	var obj wireError
	if err := json.Unmarshal(p.Error, &obj); err == nil {
		return obj.Message, strings.Trim(string(obj.Code), `"`)
	}
	return "", ""
}

// ErrorDetail derives a human-readable failure string from a rejection
// payload, falling back to a generic message when nothing usable is present.
func ErrorDetail(payload json.RawMessage) string {
	message, code := errorParts(payload)
	switch {
	case message != "" && code != "":
		return message + " (" + code + ")"
	case message != "":
		return message
	case code != "":
		return code
	default:
		return "connection rejected"
	}
}

// IsMethodNotFound reports whether a response payload signals that the
// requested method does not exist on this Gateway. Both symbolic and
// JSON-RPC numeric codes are recognized, plus common message phrasings.
func IsMethodNotFound(payload json.RawMessage) bool {
	if !IsErrorPayload(payload) {
		return false
	}
	message, code := errorParts(payload)
	switch code {
	case "METHOD_NOT_FOUND", "method_not_found", "-32601":
		return true
	}
	lower := strings.ToLower(message)
	return strings.Contains(lower, "method not found") ||
		strings.Contains(lower, "unknown method") ||
		strings.Contains(lower, "no such method")
}

// IsStatePayload reports whether a successful response payload carries a
// recognizable extended-state shape (a JSON object that is not an error).
func IsStatePayload(payload json.RawMessage) bool {
	if len(payload) == 0 || IsErrorPayload(payload) {
		return false
	}
	var obj map[string]json.RawMessage
	return json.Unmarshal(payload, &obj) == nil
}
