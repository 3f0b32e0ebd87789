package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewRequestUniqueIDs(t *testing.T) {
	a := NewRequest("gateway.getState", nil)
	b := NewRequest("gateway.getState", nil)

	if a.ID == "" || b.ID == "" {
		t.Fatal("NewRequest produced an empty id")
	}
	if a.ID == b.ID {
		t.Error("NewRequest produced duplicate ids")
	}
	if a.Type != TypeRequest {
		t.Errorf("Type = %q, want %q", a.Type, TypeRequest)
	}
}

func TestNewInstanceID(t *testing.T) {
	a := NewInstanceID("molt-mascot")
	b := NewInstanceID("molt-mascot")

	if !strings.HasPrefix(a, "molt-mascot-") {
		t.Errorf("NewInstanceID = %q, want molt-mascot- prefix", a)
	}
	if a == b {
		t.Error("NewInstanceID produced duplicate ids for the same client")
	}
}

func TestIsHelloOK(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    bool
	}{
		{"hello-ok", `{"type":"hello-ok","protocol":2}`, true},
		{"error payload", `{"type":"error","error":"bad token"}`, false},
		{"other type", `{"type":"state"}`, false},
		{"garbage", `not json`, false},
		{"empty", ``, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsHelloOK(json.RawMessage(tt.payload)); got != tt.want {
				t.Errorf("IsHelloOK(%s) = %v, want %v", tt.payload, got, tt.want)
			}
		})
	}
}

func TestErrorDetail(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{
			"string error",
			`{"type":"error","error":"token expired"}`,
			"token expired",
		},
		{
			"object with message and code",
			`{"type":"error","error":{"message":"bad token","code":"AUTH_FAILED"}}`,
			"bad token (AUTH_FAILED)",
		},
		{
			"object with numeric code",
			`{"type":"error","error":{"message":"nope","code":401}}`,
			"nope (401)",
		},
		{
			"message only",
			`{"type":"error","error":{"message":"nope"}}`,
			"nope",
		},
		{
			"code only",
			`{"type":"error","error":{"code":"AUTH_FAILED"}}`,
			"AUTH_FAILED",
		},
		{
			"nothing usable",
			`{"type":"rejected"}`,
			"connection rejected",
		},
		{
			"garbage",
			`]]]`,
			"connection rejected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorDetail(json.RawMessage(tt.payload)); got != tt.want {
				t.Errorf("ErrorDetail() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsMethodNotFound(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    bool
	}{
		{
			"symbolic code",
			`{"type":"error","error":{"code":"METHOD_NOT_FOUND"}}`,
			true,
		},
		{
			"jsonrpc numeric code",
			`{"type":"error","error":{"message":"Method not found","code":-32601}}`,
			true,
		},
		{
			"message phrasing",
			`{"type":"error","error":"unknown method: mascot.getFullState"}`,
			true,
		},
		{
			"other error",
			`{"type":"error","error":{"message":"internal failure","code":"INTERNAL"}}`,
			false,
		},
		{
			"success payload",
			`{"type":"state","mode":"idle"}`,
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsMethodNotFound(json.RawMessage(tt.payload)); got != tt.want {
				t.Errorf("IsMethodNotFound(%s) = %v, want %v", tt.payload, got, tt.want)
			}
		})
	}
}

func TestIsStatePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    bool
	}{
		{"state object", `{"mode":"idle","toolCalls":3}`, true},
		{"typed state", `{"type":"state","mode":"idle"}`, true},
		{"error payload", `{"type":"error","error":"nope"}`, false},
		{"array", `[1,2,3]`, false},
		{"empty", ``, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsStatePayload(json.RawMessage(tt.payload)); got != tt.want {
				t.Errorf("IsStatePayload(%s) = %v, want %v", tt.payload, got, tt.want)
			}
		})
	}
}

func TestHandshakeParamsWireShape(t *testing.T) {
	params := HandshakeParams{
		MinProtocol: 1,
		MaxProtocol: 3,
		Client: ClientInfo{
			ID:          "molt-mascot",
			DisplayName: "Molt Mascot",
			Version:     "1.2.0",
			Platform:    "linux",
			Mode:        "widget",
			InstanceID:  "molt-mascot-abc123",
		},
		Role:   "observer",
		Scopes: []string{"status:read"},
		Auth:   &AuthParams{Token: "secret"},
	}

	data, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, key := range []string{"minProtocol", "maxProtocol", "client", "role", "scopes", "auth"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("marshalled handshake missing %q", key)
		}
	}

	// Auth must be omitted entirely when absent
	params.Auth = nil
	data, _ = json.Marshal(params)
	if strings.Contains(string(data), "auth") {
		t.Errorf("auth should be omitted when nil: %s", data)
	}
}
