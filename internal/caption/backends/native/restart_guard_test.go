package native

import (
	"testing"
	"time"
)

func TestRestartGuardClosed(t *testing.T) {
	g := NewRestartGuard(RestartGuardConfig{
		RapidThreshold: 3,
		RapidWindow:    time.Second,
		ResetTimeout:   time.Hour,
	})

	if !g.AllowRestart() {
		t.Error("closed guard should allow restarts")
	}
	if g.State() != guardClosed {
		t.Errorf("state = %q, want %q", g.State(), guardClosed)
	}
}

func TestRestartGuardOpensOnRapidEndings(t *testing.T) {
	g := NewRestartGuard(RestartGuardConfig{
		RapidThreshold: 2,
		RapidWindow:    time.Second,
		ResetTimeout:   time.Hour,
	})

	g.RecordSessionEnd(100 * time.Millisecond)
	if g.State() != guardClosed {
		t.Error("should still be closed after 1 rapid ending")
	}

	g.RecordSessionEnd(100 * time.Millisecond)
	if g.State() != guardOpen {
		t.Errorf("state = %q, want %q after threshold", g.State(), guardOpen)
	}

	if g.AllowRestart() {
		t.Error("open guard should not allow restarts")
	}
}

func TestRestartGuardHealthyRunResetsCount(t *testing.T) {
	g := NewRestartGuard(RestartGuardConfig{
		RapidThreshold: 3,
		RapidWindow:    time.Second,
		ResetTimeout:   time.Hour,
	})

	g.RecordSessionEnd(100 * time.Millisecond)
	g.RecordSessionEnd(100 * time.Millisecond)
	g.RecordSessionEnd(5 * time.Second) // healthy run resets the counter
	g.RecordSessionEnd(100 * time.Millisecond)

	if g.State() != guardClosed {
		t.Errorf("state = %q, want %q after a healthy run", g.State(), guardClosed)
	}
}

func TestRestartGuardHalfOpenRecovery(t *testing.T) {
	g := NewRestartGuard(RestartGuardConfig{
		RapidThreshold:      2,
		RapidWindow:         time.Second,
		ResetTimeout:        10 * time.Millisecond,
		HalfOpenMaxAttempts: 1,
	})

	g.RecordSessionEnd(0)
	g.RecordSessionEnd(0)
	if g.State() != guardOpen {
		t.Fatal("expected open")
	}

	time.Sleep(20 * time.Millisecond)

	if !g.AllowRestart() {
		t.Error("should allow a probe restart after reset timeout")
	}
	if g.State() != guardHalfOpen {
		t.Errorf("state = %q, want %q", g.State(), guardHalfOpen)
	}

	g.RecordSessionEnd(5 * time.Second)
	if g.State() != guardClosed {
		t.Errorf("state = %q, want %q after healthy half-open run", g.State(), guardClosed)
	}
}

func TestRestartGuardHalfOpenFailure(t *testing.T) {
	g := NewRestartGuard(RestartGuardConfig{
		RapidThreshold: 1,
		RapidWindow:    time.Second,
		ResetTimeout:   10 * time.Millisecond,
	})

	g.RecordSessionEnd(0)
	time.Sleep(20 * time.Millisecond)
	g.AllowRestart() // transitions to half-open

	g.RecordSessionEnd(0)
	if g.State() != guardOpen {
		t.Errorf("state = %q, want %q after rapid half-open ending", g.State(), guardOpen)
	}
}
