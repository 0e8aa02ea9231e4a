package native

import (
	"sync"
	"time"
)

// Restart guard states.
const (
	guardClosed   = "closed"
	guardOpen     = "open"
	guardHalfOpen = "half_open"
)

// RestartGuardConfig bounds how aggressively the backend may restart after
// platform-initiated dictation endings. RapidWindow defines what counts as a
// rapid ending: a session that dies sooner than this after starting.
type RestartGuardConfig struct {
	RapidThreshold      int
	RapidWindow         time.Duration
	ResetTimeout        time.Duration
	HalfOpenMaxAttempts int
}

// DefaultRestartGuardConfig allows a handful of rapid restarts before
// pausing them.
func DefaultRestartGuardConfig() RestartGuardConfig {
	return RestartGuardConfig{
		RapidThreshold:      5,
		RapidWindow:         2 * time.Second,
		ResetTimeout:        30 * time.Second,
		HalfOpenMaxAttempts: 1,
	}
}

// RestartGuard is a circuit breaker over dictation restarts: repeated rapid
// `end` events trip it open so a misbehaving platform engine cannot spin the
// adapter in a tight restart loop.
type RestartGuard struct {
	mu           sync.Mutex
	state        string
	rapidEndings int
	successes    int
	lastTripTime time.Time
	config       RestartGuardConfig
}

// NewRestartGuard creates a restart guard with the given config.
func NewRestartGuard(cfg RestartGuardConfig) *RestartGuard {
	if cfg.HalfOpenMaxAttempts <= 0 {
		cfg.HalfOpenMaxAttempts = 1
	}
	return &RestartGuard{
		state:  guardClosed,
		config: cfg,
	}
}

// AllowRestart returns true when a restart should be attempted now.
func (g *RestartGuard) AllowRestart() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case guardClosed:
		return true
	case guardOpen:
		if time.Since(g.lastTripTime) > g.config.ResetTimeout {
			g.state = guardHalfOpen
			g.successes = 0
			return true
		}
		return false
	case guardHalfOpen:
		return true
	default:
		return true
	}
}

// RecordSessionEnd classifies a dictation run that lasted for the given
// duration before the platform ended it.
func (g *RestartGuard) RecordSessionEnd(ran time.Duration) {
	if ran >= g.config.RapidWindow {
		g.recordHealthy()
		return
	}
	g.recordRapid()
}

func (g *RestartGuard) recordHealthy() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rapidEndings = 0
	if g.state == guardHalfOpen {
		g.successes++
		if g.successes >= g.config.HalfOpenMaxAttempts {
			g.state = guardClosed
		}
		return
	}
	g.state = guardClosed
}

func (g *RestartGuard) recordRapid() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rapidEndings++
	g.lastTripTime = time.Now()

	if g.state == guardHalfOpen {
		g.state = guardOpen
		return
	}

	if g.rapidEndings >= g.config.RapidThreshold {
		g.state = guardOpen
	}
}

// State returns the current guard state.
func (g *RestartGuard) State() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}
