package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/MightComeback/molt-mascot-sub001/config"
	"github.com/MightComeback/molt-mascot-sub001/connection"
	"github.com/MightComeback/molt-mascot-sub001/health"
	"github.com/MightComeback/molt-mascot-sub001/protocol"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := cfg.NewLogger()

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	token, err := cfg.LoadToken()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load token")
	}

	logger.Info().
		Str("gatewayURL", cfg.GatewayURL).
		Dur("pollInterval", cfg.PollInterval).
		Dur("staleTimeout", cfg.StaleTimeout).
		Msg("Widget core starting")

	events := &logEvents{logger: logger.With().Str("component", "events").Logger()}
	mgr := connection.NewManager(connection.Options{
		Events:          events,
		Logger:          logger,
		LatencyCapacity: cfg.LatencyCapacity,
	})

	mgr.Connect(cfg.ToConnection(token))

	stop := make(chan struct{})
	go logStatsLoop(mgr, events, logger, 10*time.Second, stop)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	close(stop)
	mgr.Destroy()
	logger.Info().Msg("Shutdown complete")
}

// logStatsLoop periodically logs connection state and the derived health
// verdict, the way a presentation layer would render a badge.
func logStatsLoop(mgr *connection.Manager, events *logEvents, logger zerolog.Logger, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	thresholds := health.DefaultThresholds()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		snap := mgr.Snapshot()
		tracker := mgr.Tracker()

		last := -1.0
		if v, ok := tracker.Last(); ok {
			last = v
		}

		in := health.Input{
			Connected:     snap.Phase == connection.PhaseConnected,
			PollingPaused: snap.PollingPaused,
			LastMessageAt: snap.LastMessageAt,
			Now:           time.Now(),
			LatencyMs:     last,
			Stats:         tracker.Stats(),
			SuccessRate:   events.successRate(),
		}

		logEvent := logger.Info().
			Str("phase", string(snap.Phase)).
			Str("health", string(health.Status(in, thresholds))).
			Uint("sessions", snap.SessionConnectCount).
			Bool("extended", snap.HasExtendedCapability)

		if stats := in.Stats; stats != nil {
			logEvent = logEvent.
				Int("latencyAvgMs", stats.Avg).
				Int("latencyMedianMs", stats.Median).
				Int("jitterMs", stats.Jitter)
		}
		if reasons := health.Reasons(in, thresholds); len(reasons) > 0 {
			logEvent = logEvent.Strs("reasons", reasons)
		}
		logEvent.Msg("Widget status")
	}
}

// logEvents is the stand-in for the presentation layer: it logs every
// callback and tracks connect attempts so the health evaluator can be fed
// a success rate.
type logEvents struct {
	logger    zerolog.Logger
	attempts  atomic.Uint64
	successes atomic.Uint64
}

func (e *logEvents) successRate() float64 {
	attempts := e.attempts.Load()
	if attempts == 0 {
		return -1
	}
	return float64(e.successes.Load()) / float64(attempts) * 100
}

func (e *logEvents) ConnectionStateChanged(phase connection.Phase) {
	if phase == connection.PhaseConnecting {
		e.attempts.Add(1)
	}
	e.logger.Info().Str("phase", string(phase)).Msg("Connection state changed")
}

func (e *logEvents) ReconnectCountdown(secondsRemaining int) {
	e.logger.Info().Int("secondsRemaining", secondsRemaining).Msg("Reconnecting soon")
}

func (e *logEvents) HandshakeSuccess() {
	e.successes.Add(1)
	e.logger.Info().Msg("Handshake succeeded")
}

func (e *logEvents) HandshakeFailure(detail string) {
	e.logger.Warn().Str("detail", detail).Msg("Handshake failed")
}

func (e *logEvents) ExtendedState(payload json.RawMessage) {
	e.logger.Debug().RawJSON("state", payload).Msg("Extended state received")
}

func (e *logEvents) ExtendedStateReset() {
	e.logger.Debug().Msg("Extended state reset")
}

func (e *logEvents) RawEvent(msg protocol.Envelope) {
	e.logger.Debug().Str("event", msg.Event).Msg("Gateway event")
}

func (e *logEvents) Disconnected(code int, reason string) {
	e.logger.Warn().Int("code", code).Str("reason", reason).Msg("Disconnected")
}

func (e *logEvents) ConnError(message string) {
	e.logger.Error().Str("error", message).Msg("Connection error")
}
