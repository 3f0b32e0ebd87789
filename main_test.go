package main

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/MightComeback/molt-mascot-sub001/connection"
)

func TestSuccessRate(t *testing.T) {
	e := &logEvents{logger: zerolog.Nop()}

	if got := e.successRate(); got != -1 {
		t.Errorf("successRate() = %v with no attempts, want -1", got)
	}

	// Three connect attempts, two successful handshakes
	for i := 0; i < 3; i++ {
		e.ConnectionStateChanged(connection.PhaseConnecting)
	}
	e.HandshakeSuccess()
	e.HandshakeSuccess()

	got := e.successRate()
	if got < 66.6 || got > 66.7 {
		t.Errorf("successRate() = %v, want ~66.67", got)
	}
}

func TestSuccessRateIgnoresOtherPhases(t *testing.T) {
	e := &logEvents{logger: zerolog.Nop()}

	e.ConnectionStateChanged(connection.PhaseConnected)
	e.ConnectionStateChanged(connection.PhaseDisconnected)

	if got := e.successRate(); got != -1 {
		t.Errorf("successRate() = %v, want -1: only connecting counts as an attempt", got)
	}
}
