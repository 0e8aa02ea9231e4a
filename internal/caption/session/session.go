// Package session owns the transcription session lifecycle: one state
// machine per session that acquires, shares, restarts and releases the
// heavyweight engine handle under concurrent start/stop requests, and turns
// the raw engine event stream into subtitle segments and observable status.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pitabwire/frame/workerpool"
	"github.com/rs/xid"
	"golang.org/x/sync/singleflight"

	"github.com/livecap/livecap/internal/caption/engine"
	"github.com/livecap/livecap/internal/caption/models"
	"github.com/livecap/livecap/internal/caption/subtitle"
	"github.com/livecap/livecap/pkg/events"
)

// Status is the session state. Exactly one value is current at any time.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusRunning   Status = "running"
	StatusError     Status = "error"
)

// Session serializes start/stop requests over at most one live engine
// handle. It is reusable for its whole lifetime: there is no terminal state
// short of Close.
type Session struct {
	id       string
	registry *models.Registry
	adapter  engine.Adapter
	baseCfg  engine.Config
	pub      *events.Publisher
	pool     workerpool.WorkerPool
	buffer   *subtitle.Buffer

	// One single-flight group per operation kind: a second concurrent call
	// awaits the in-flight one instead of triggering a duplicate.
	flight singleflight.Group

	mu           sync.Mutex
	status       Status
	lastErr      string
	language     string
	handle       engine.Handle
	activePaths  engine.ResourcePaths
	dispatchDone chan struct{}
	desired      bool
	stopping     bool
	closed       bool
}

// New creates an idle session bound to one adapter and one resource
// registry. pool may be nil; dispatch then runs on a plain goroutine.
func New(adapter engine.Adapter, registry *models.Registry, cfg engine.Config, pub *events.Publisher, pool workerpool.WorkerPool) *Session {
	return &Session{
		id:       xid.New().String(),
		registry: registry,
		adapter:  adapter,
		baseCfg:  cfg,
		pub:      pub,
		pool:     pool,
		buffer:   subtitle.NewBuffer(),
		status:   StatusIdle,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Status returns the current state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastError returns the most recent failure message, retained for passive
// observers after the status left Error.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Language returns the current detected or configured language.
func (s *Session) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language
}

// Subtitles returns the live, TTL-pruned subtitle snapshot.
func (s *Session) Subtitles() []subtitle.Segment {
	return s.buffer.Snapshot()
}

// Transcript returns the rolling full transcript of finalized text.
func (s *Session) Transcript() string {
	return s.buffer.Transcript()
}

// Start brings the session to Running. Concurrent callers share one
// in-flight operation and observe its single outcome.
func (s *Session) Start(ctx context.Context) error {
	_, err, _ := s.flight.Do("start", func() (interface{}, error) {
		return nil, s.doStart(ctx)
	})
	return err
}

func (s *Session) doStart(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed
	}
	if s.status == StatusRunning && s.handle != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.setStatus(StatusPreparing)

	cfg := s.baseCfg
	cfg.DesiredActive = s.DesiredActive

	// Resolve the resources this backend actually loads. A failure here
	// happens before any native allocation.
	if needsAcoustic(s.adapter.Kind()) {
		desc, err := s.registry.Resolve(ctx, models.KindAcoustic)
		if err != nil {
			s.failStartBeforeInit(ctx, err)
			return fmt.Errorf("session: acoustic model unavailable: %w", err)
		}
		cfg.Paths.Acoustic = desc.Path
	}
	if needsVAD(s.adapter.Kind()) {
		desc, err := s.registry.Resolve(ctx, models.KindVAD)
		if err != nil {
			s.failStartBeforeInit(ctx, err)
			return fmt.Errorf("session: voice activity detector unavailable: %w", err)
		}
		cfg.Paths.VAD = desc.Path
	}

	handle, err := s.adapter.Initialize(ctx, cfg)
	if err != nil {
		s.recordError(err.Error())
		return &InitializationError{Err: err}
	}

	// Record the handle before starting capture so a Start failure still
	// leaves it under the session's release bookkeeping.
	s.mu.Lock()
	s.handle = handle
	s.activePaths = cfg.Paths
	s.mu.Unlock()

	stream, err := s.adapter.Start(ctx, handle)
	if err != nil {
		s.recordError(err.Error())
		return &InitializationError{Err: err}
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.dispatchDone = done
	s.mu.Unlock()

	dispatch := func() {
		defer close(done)
		s.dispatch(stream)
	}
	if s.pool != nil {
		if err := s.pool.Submit(ctx, dispatch); err != nil {
			go dispatch()
		}
	} else {
		go dispatch()
	}

	s.setStatus(StatusRunning)
	return nil
}

// failStartBeforeInit handles a resource resolution failure: full release of
// any previous handle, status back to Idle.
func (s *Session) failStartBeforeInit(ctx context.Context, cause error) {
	s.mu.Lock()
	handle := s.handle
	s.handle = nil
	s.activePaths = engine.ResourcePaths{}
	s.mu.Unlock()

	if handle != nil {
		if err := s.adapter.Release(ctx, handle); err != nil {
			slog.Warn("session: release after resource failure",
				slog.String("error", err.Error()))
		}
	}

	s.recordErrorStatus(cause.Error(), StatusIdle)
	s.buffer.Clear()
}

// Stop ends active capture. With releaseAll the engine handle is fully
// released and the session returns to Idle; otherwise the handle stays warm
// and the session settles in Ready. Concurrent callers share one in-flight
// stop.
func (s *Session) Stop(ctx context.Context, releaseAll bool) error {
	_, err, _ := s.flight.Do("stop", func() (interface{}, error) {
		return nil, s.doStop(ctx, releaseAll)
	})
	return err
}

func (s *Session) doStop(ctx context.Context, releaseAll bool) error {
	s.mu.Lock()
	handle := s.handle
	done := s.dispatchDone
	s.stopping = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.stopping = false
		s.mu.Unlock()
	}()

	if handle == nil {
		if releaseAll {
			s.setStatus(StatusIdle)
		}
		return nil
	}

	if err := s.adapter.Stop(ctx, handle); err != nil {
		// Stopping is best-effort on the way to release; a failure must not
		// wedge the session.
		slog.Warn("session: adapter stop failed", slog.String("error", err.Error()))
	}

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if !releaseAll {
		s.setStatus(StatusReady)
		return nil
	}

	if err := s.adapter.Release(ctx, handle); err != nil {
		slog.Warn("session: adapter release failed", slog.String("error", err.Error()))
	}

	s.mu.Lock()
	s.handle = nil
	s.activePaths = engine.ResourcePaths{}
	s.mu.Unlock()

	s.buffer.Clear()
	s.setStatus(StatusIdle)
	return nil
}

// SetActive drives start/stop from a boolean intent. Turning it off also
// clears the live subtitle buffer.
func (s *Session) SetActive(ctx context.Context, active bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed
	}
	s.desired = active
	s.mu.Unlock()

	if active {
		return s.Start(ctx)
	}

	err := s.Stop(ctx, false)
	s.buffer.Clear()
	s.emit(events.SubtitleCleared, nil)
	return err
}

// DesiredActive reports the caller's current intent. The native backend
// probes this when the platform ends dictation on its own.
func (s *Session) DesiredActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desired && !s.closed
}

// Close tears the session down: unconditional full release, after which no
// further state updates reach observers. An in-flight start is not aborted;
// its eventual result is discarded and resources are released afterwards.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	s.desired = false
	s.mu.Unlock()

	if err := s.Stop(ctx, true); err != nil {
		slog.Warn("session: stop during close failed", slog.String("error", err.Error()))
	}

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// dispatch serializes the engine's asynchronous events onto the session's
// state-update path. It is the only goroutine touching session state in
// response to engine activity.
func (s *Session) dispatch(stream <-chan engine.Event) {
	for ev := range stream {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			// Drain silently: a disposed observer must not be updated.
			continue
		}

		switch ev.Kind {
		case engine.EventTranscribe:
			s.onTranscribe(ev)
		case engine.EventVad:
			s.emit(events.VadLevel, events.VadLevelData{Confidence: ev.Confidence})
		case engine.EventStatus:
			s.onEngineStatus(ev.Active)
		case engine.EventError:
			s.recordError(ev.Message)
		}
	}
}

func (s *Session) onTranscribe(ev engine.Event) {
	if ev.Language != "" {
		s.mu.Lock()
		s.language = ev.Language
		s.mu.Unlock()
	}

	changed := s.buffer.Append(ev.Text, ev.IsFinal, subtitle.Meta{
		Language:   ev.Language,
		Confidence: ev.VadConfidence,
	})
	if !changed {
		// Duplicate collapsed into the previous entry; nothing to announce.
		return
	}
	segments := s.buffer.Snapshot()
	if len(segments) == 0 {
		return
	}
	last := segments[len(segments)-1]
	s.emit(events.SubtitleAppend, events.SubtitleAppendData{
		SegmentID:  last.ID,
		Text:       last.Text,
		IsFinal:    last.IsFinal,
		Language:   last.Language,
		Confidence: last.Confidence,
	})
}

// onEngineStatus maps backend activity changes onto session status. During
// a caller-initiated stop the stop path decides the final state; an
// inactive report outside of one means the backend ended on its own. The
// session then settles in Ready only while the caller still wants to be
// active; otherwise the handle is released and the session returns to Idle.
func (s *Session) onEngineStatus(active bool) {
	s.mu.Lock()
	status := s.status
	hasHandle := s.handle != nil
	stopping := s.stopping
	desired := s.desired
	s.mu.Unlock()

	if active {
		if status == StatusPreparing || status == StatusReady {
			s.setStatus(StatusRunning)
		}
		return
	}
	if stopping || status != StatusRunning || !hasHandle {
		return
	}
	if desired {
		s.setStatus(StatusReady)
		return
	}
	s.releaseAfterEngineEnd()
}

// releaseAfterEngineEnd tears down after the backend ended on its own with
// nobody wanting it active anymore.
func (s *Session) releaseAfterEngineEnd() {
	s.mu.Lock()
	handle := s.handle
	s.handle = nil
	s.activePaths = engine.ResourcePaths{}
	s.mu.Unlock()

	if handle != nil {
		if err := s.adapter.Release(context.Background(), handle); err != nil {
			slog.Warn("session: release after engine end failed",
				slog.String("error", err.Error()))
		}
	}

	s.buffer.Clear()
	s.setStatus(StatusIdle)
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	if s.closed || s.status == st {
		s.mu.Unlock()
		return
	}
	s.status = st
	s.mu.Unlock()

	s.emit(events.SessionStatus, events.SessionStatusData{Status: string(st)})
}

// recordError retains the message for observers and moves to Error.
func (s *Session) recordError(message string) {
	s.recordErrorStatus(message, StatusError)
}

func (s *Session) recordErrorStatus(message string, st Status) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.lastErr = message
	s.mu.Unlock()

	s.emit(events.SessionError, events.SessionErrorData{Message: message})
	s.setStatus(st)
}

func (s *Session) emit(t events.EventType, data interface{}) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Emit(t, s.id, data); err != nil {
		slog.Warn("session: emit event", slog.String("error", err.Error()))
	}
}

func needsAcoustic(k engine.Kind) bool {
	return k == engine.KindNeural || k == engine.KindGrammar
}

func needsVAD(k engine.Kind) bool {
	return k == engine.KindNeural
}
