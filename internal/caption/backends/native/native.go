// Package native implements the OS continuous dictation backend. Recognition
// runs in the platform's dictation service, reached through a small bridge
// executable that prints line-delimited JSON events. The platform may end
// dictation on its own; the adapter restarts it while the caller still wants
// to be active, throttled by a restart guard.
package native

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/livecap/livecap/internal/caption/engine"
)

// Restart backoff bounds for platform-ended dictation runs.
const (
	backoffInitial = 250 * time.Millisecond
	backoffMax     = 5 * time.Second
)

var errStopRequested = errors.New("native: stop requested")

// Adapter builds and drives native dictation handles.
type Adapter struct {
	guardCfg RestartGuardConfig

	mu     sync.Mutex
	handle *handle
}

// New creates the native backend adapter with default restart limits.
func New() *Adapter {
	return &Adapter{guardCfg: DefaultRestartGuardConfig()}
}

// NewWithGuard creates the adapter with custom restart limits.
func NewWithGuard(cfg RestartGuardConfig) *Adapter {
	return &Adapter{guardCfg: cfg}
}

// Kind reports the backend variant.
func (a *Adapter) Kind() engine.Kind {
	return engine.KindNative
}

type handle struct {
	cfg    engine.Config
	binary string
	guard  *RestartGuard

	mu      sync.Mutex
	running bool
	proc    *exec.Cmd
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func (h *handle) Paths() engine.ResourcePaths {
	return h.cfg.Paths
}

// Initialize locates the bridge executable. Dictation itself holds no model
// files, so handles are cheap; an existing handle for the same binary is
// reused.
func (a *Adapter) Initialize(_ context.Context, cfg engine.Config) (engine.Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if cfg.BridgeBinary == "" {
		return nil, fmt.Errorf("native: no dictation bridge binary configured")
	}

	if a.handle != nil && a.handle.binary == cfg.BridgeBinary && a.handle.cfg.Paths.Equal(cfg.Paths) {
		return a.handle, nil
	}
	if a.handle != nil {
		a.releaseLocked(a.handle)
		a.handle = nil
	}

	binary, err := exec.LookPath(cfg.BridgeBinary)
	if err != nil {
		return nil, fmt.Errorf("native: dictation bridge %q: %w", cfg.BridgeBinary, err)
	}

	h := &handle{
		cfg:    cfg,
		binary: binary,
		guard:  NewRestartGuard(a.guardCfg),
	}
	a.handle = h
	return h, nil
}

// Start launches the dictation bridge and returns its event stream. The
// stream stays open across platform-initiated restarts.
func (a *Adapter) Start(_ context.Context, eh engine.Handle) (<-chan engine.Event, error) {
	h, err := a.own(eh)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return nil, fmt.Errorf("native: dictation already running")
	}
	h.running = true
	h.stopCh = make(chan struct{})
	h.doneCh = make(chan struct{})
	h.mu.Unlock()

	events := make(chan engine.Event, 32)
	go h.run(events)
	return events, nil
}

// Stop ends dictation. The handle survives for a warm restart.
func (a *Adapter) Stop(ctx context.Context, eh engine.Handle) error {
	h, err := a.own(eh)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = false
	stopCh, doneCh := h.stopCh, h.doneCh
	proc := h.proc
	h.mu.Unlock()

	close(stopCh)
	if proc != nil && proc.Process != nil {
		_ = proc.Process.Kill()
	}

	select {
	case <-doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Release force-stops and drops the handle. The bridge holds no warm model
// state, so release is mostly bookkeeping.
func (a *Adapter) Release(ctx context.Context, eh engine.Handle) error {
	h, err := a.own(eh)
	if err != nil {
		return err
	}

	if err := a.Stop(ctx, h); err != nil {
		slog.Warn("native: stop during release failed", slog.String("error", err.Error()))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handle == h {
		a.handle = nil
	}
	return nil
}

func (a *Adapter) releaseLocked(h *handle) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := a.Stop(ctx, h); err != nil {
		slog.Warn("native: stop during release failed", slog.String("error", err.Error()))
	}
}

func (a *Adapter) own(eh engine.Handle) (*handle, error) {
	h, ok := eh.(*handle)
	if !ok {
		return nil, fmt.Errorf("native: foreign handle %T", eh)
	}
	return h, nil
}

// run keeps the bridge alive: each runOnce covers one dictation session;
// when the platform ends it while the caller still wants to be active, a
// new session starts after a bounded backoff.
func (h *handle) run(events chan<- engine.Event) {
	defer close(events)
	defer close(h.doneCh)
	defer func() {
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
	}()

	events <- engine.Status(true)

	attempt := 0
	for {
		started := time.Now()
		err := h.runOnce(events)
		ran := time.Since(started)

		if errors.Is(err, errStopRequested) {
			break
		}
		if err != nil {
			events <- engine.Errorf(err.Error())
			break
		}

		// The platform ended dictation on its own.
		if h.cfg.DesiredActive == nil || !h.cfg.DesiredActive() {
			break
		}

		h.guard.RecordSessionEnd(ran)
		if !h.guard.AllowRestart() {
			events <- engine.Errorf("native: dictation restart suppressed, platform keeps ending sessions")
			break
		}

		if ran >= h.guard.config.RapidWindow {
			attempt = 0
		}
		backoff := backoffInitial * (1 << attempt)
		if backoff > backoffMax {
			backoff = backoffMax
		} else {
			attempt++
		}

		slog.Info("native: dictation ended by platform, restarting",
			slog.Duration("ran", ran), slog.Duration("backoff", backoff))

		timer := time.NewTimer(backoff)
		select {
		case <-h.stopCh:
			timer.Stop()
			events <- engine.Status(false)
			return
		case <-timer.C:
		}
	}

	events <- engine.Status(false)
}

// bridgeEvent is one line of the bridge's stdout protocol.
type bridgeEvent struct {
	Event      string  `json:"event"` // partial | final | end | error
	Text       string  `json:"text"`
	Confidence float32 `json:"confidence"`
	Language   string  `json:"language"`
	Message    string  `json:"message"`
}

// runOnce drives a single bridge process until the platform ends it, an
// error occurs, or stop is requested. A nil return means a platform `end`.
func (h *handle) runOnce(events chan<- engine.Event) error {
	args := []string{"--continuous"}
	if h.cfg.Language != "" && h.cfg.Language != "auto" {
		args = append(args, "--language", h.cfg.Language)
	}

	cmd := exec.Command(h.binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("native: bridge stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("native: starting bridge: %w", err)
	}

	h.mu.Lock()
	h.proc = cmd
	h.mu.Unlock()

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		select {
		case <-h.stopCh:
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return errStopRequested
		default:
		}

		var ev bridgeEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			slog.Warn("native: undecodable bridge line", slog.String("error", err.Error()))
			continue
		}

		switch ev.Event {
		case "partial", "final":
			lang := ev.Language
			if !h.cfg.LanguageAllowed(lang) {
				lang = ""
			}
			events <- engine.Transcribe(ev.Text, ev.Event == "final", ev.Confidence, lang)
		case "end":
			_ = cmd.Wait()
			return nil
		case "error":
			events <- engine.Errorf("native: " + ev.Message)
		}
	}

	waitErr := cmd.Wait()

	select {
	case <-h.stopCh:
		return errStopRequested
	default:
	}

	if waitErr != nil {
		return fmt.Errorf("native: bridge exited: %w", waitErr)
	}
	// EOF without an explicit end event counts as a platform end.
	return nil
}
