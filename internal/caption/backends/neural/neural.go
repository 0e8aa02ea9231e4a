// Package neural implements the offline neural recognizer backend: a
// sherpa-onnx acoustic model gated by a silero voice-activity detector,
// fed fixed-duration audio slices cut from the live capture stream.
package neural

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/livecap/livecap/internal/caption/engine"
)

const (
	sampleRate = 16000

	defaultSliceSeconds = 12.0
	defaultMinSeconds   = 1.0
)

// Adapter builds and drives neural engine handles. It owns at most one live
// handle so Initialize can reuse warm resources when paths are unchanged.
type Adapter struct {
	mu     sync.Mutex
	handle *handle
}

// New creates the neural backend adapter.
func New() *Adapter {
	return &Adapter{}
}

// Kind reports the backend variant.
func (a *Adapter) Kind() engine.Kind {
	return engine.KindNeural
}

// handle bundles the acquired native resources: recognizer, VAD context and
// the audio source adapter.
type handle struct {
	cfg        engine.Config
	recognizer *sherpa.OfflineRecognizer
	vad        *sherpa.VoiceActivityDetector
	source     engine.AudioSource
	gate       *engine.VAD

	mu         sync.Mutex
	running    bool
	confidence float32
	stopCh     chan struct{}
	doneCh     chan struct{}
}

func (h *handle) Paths() engine.ResourcePaths {
	return h.cfg.Paths
}

// Initialize acquires the acoustic model and VAD contexts. When a live
// handle already matches the requested paths it is returned untouched; a
// path change releases the old handle first.
func (a *Adapter) Initialize(ctx context.Context, cfg engine.Config) (engine.Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.handle != nil {
		if a.handle.cfg.Paths.Equal(cfg.Paths) {
			return a.handle, nil
		}
		a.releaseLocked(ctx, a.handle)
		a.handle = nil
	}

	if cfg.AudioSliceSeconds <= 0 {
		cfg.AudioSliceSeconds = defaultSliceSeconds
	}
	if cfg.AudioMinSeconds <= 0 {
		cfg.AudioMinSeconds = defaultMinSeconds
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("neural: no audio source configured")
	}

	threads := engine.DeriveThreadCount(cfg.ThreadCount)

	lang := cfg.Language
	if lang == "auto" {
		lang = ""
	}

	recognizerConfig := sherpa.OfflineRecognizerConfig{
		FeatConfig: sherpa.FeatureConfig{SampleRate: sampleRate, FeatureDim: 80},
		ModelConfig: sherpa.OfflineModelConfig{
			SenseVoice: sherpa.OfflineSenseVoiceModelConfig{
				Model:    cfg.Paths.Acoustic,
				Language: lang,
			},
			Tokens:     tokensPathFor(cfg.Paths.Acoustic),
			NumThreads: threads,
			Provider:   "cpu",
		},
		DecodingMethod: "greedy_search",
	}

	recognizer := sherpa.NewOfflineRecognizer(&recognizerConfig)
	if recognizer == nil {
		return nil, fmt.Errorf("neural: creating recognizer from %q failed", cfg.Paths.Acoustic)
	}

	threshold := cfg.AutoSliceThreshold
	if threshold <= 0 {
		threshold = 0.5
	}
	vadConfig := sherpa.VadModelConfig{
		SileroVad: sherpa.SileroVadModelConfig{
			Model:              cfg.Paths.VAD,
			Threshold:          threshold,
			MinSilenceDuration: 0.5,
			MinSpeechDuration:  0.25,
			WindowSize:         512,
		},
		SampleRate: sampleRate,
		NumThreads: 1,
		Provider:   "cpu",
	}

	vad := sherpa.NewVoiceActivityDetector(&vadConfig, float32(cfg.AudioSliceSeconds)+2)
	if vad == nil {
		// Partial acquisition: free the recognizer before surfacing.
		sherpa.DeleteOfflineRecognizer(recognizer)
		return nil, fmt.Errorf("neural: creating voice activity detector from %q failed", cfg.Paths.VAD)
	}

	h := &handle{
		cfg:        cfg,
		recognizer: recognizer,
		vad:        vad,
		source:     cfg.Source,
		gate:       engine.NewVAD(engine.VADConfigForPreset(cfg.VADPreset)),
	}
	a.handle = h

	slog.Info("neural: engine initialized",
		slog.String("model", filepath.Base(cfg.Paths.Acoustic)),
		slog.Int("threads", threads))

	return h, nil
}

// Start begins continuous capture and slicing. The returned stream is not
// restartable: it stays open until Stop or a fatal error.
func (a *Adapter) Start(_ context.Context, eh engine.Handle) (<-chan engine.Event, error) {
	h, err := a.own(eh)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return nil, fmt.Errorf("neural: capture already running")
	}
	h.running = true
	h.stopCh = make(chan struct{})
	h.doneCh = make(chan struct{})
	h.mu.Unlock()

	if err := h.source.Start(); err != nil {
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
		return nil, fmt.Errorf("neural: starting audio source: %w", err)
	}

	events := make(chan engine.Event, 32)
	go h.run(events)
	return events, nil
}

// Stop ends capture but keeps the model and VAD contexts warm.
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
	stopCh, doneCh := h.stopCh, h.doneCh
	h.running = false
	h.mu.Unlock()

	close(stopCh)
	h.source.Stop()

	select {
	case <-doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Release force-stops capture and frees the native resources in order:
// transcriber state, then the VAD context, then the acoustic model context.
// Every step is best-effort; failures are logged and swallowed.
func (a *Adapter) Release(ctx context.Context, eh engine.Handle) error {
	h, err := a.own(eh)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.releaseLocked(ctx, h)
	if a.handle == h {
		a.handle = nil
	}
	return nil
}

func (a *Adapter) releaseLocked(ctx context.Context, h *handle) {
	if err := a.Stop(ctx, h); err != nil {
		slog.Warn("neural: stop during release failed", slog.String("error", err.Error()))
	}

	if h.vad != nil {
		sherpa.DeleteVoiceActivityDetector(h.vad)
		h.vad = nil
	}
	if h.recognizer != nil {
		sherpa.DeleteOfflineRecognizer(h.recognizer)
		h.recognizer = nil
	}
}

func (a *Adapter) own(eh engine.Handle) (*handle, error) {
	h, ok := eh.(*handle)
	if !ok {
		return nil, fmt.Errorf("neural: foreign handle %T", eh)
	}
	return h, nil
}

// run is the slicing loop: it accumulates captured frames into a bounded
// window and closes the window early once voice activity falls below the
// threshold after speech was seen.
func (h *handle) run(events chan<- engine.Event) {
	defer close(events)
	defer close(h.doneCh)
	defer func() {
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
	}()

	events <- engine.Status(true)

	maxSamples := int(h.cfg.AudioSliceSeconds * sampleRate)
	minSamples := int(h.cfg.AudioMinSeconds * sampleRate)

	var slice []float32
	speechSeen := false

	flush := func(isFinal bool) {
		if len(slice) < minSamples {
			return
		}
		text, lang, err := h.decode(slice)
		slice = slice[:0]
		speechSeen = false
		h.gate.Reset()
		if err != nil {
			events <- engine.Errorf(err.Error())
			return
		}
		if text == "" {
			return
		}
		if !h.cfg.LanguageAllowed(lang) {
			lang = ""
		}
		events <- engine.Transcribe(text, isFinal, h.lastConfidence(), lang)
	}

	frames := h.source.Frames()
	for {
		select {
		case <-h.stopCh:
			flush(true)
			events <- engine.Status(false)
			return
		case frame, ok := <-frames:
			if !ok {
				flush(true)
				events <- engine.Status(false)
				return
			}

			slice = append(slice, frame...)
			h.vad.AcceptWaveform(frame)
			_, confidence := h.gate.ProcessFrame(frame)
			h.setConfidence(confidence)

			select {
			case events <- engine.Vad(confidence):
			default:
				// Confidence samples are advisory; drop under backpressure.
			}

			if h.vad.IsSpeech() || h.gate.IsSpeaking() {
				speechSeen = true
			}

			switch {
			case len(slice) >= maxSamples:
				// Window full. Mark interim while the speaker is still going
				// so the next slice's text can supersede it.
				flush(!h.gate.IsSpeaking())
			case h.cfg.AutoSliceOnSpeechEnd && speechSeen &&
				confidence < h.cfg.AutoSliceThreshold && len(slice) >= minSamples:
				flush(true)
			}
		}
	}
}

func (h *handle) decode(samples []float32) (text, lang string, err error) {
	h.mu.Lock()
	recognizer := h.recognizer
	h.mu.Unlock()
	if recognizer == nil {
		return "", "", fmt.Errorf("neural: recognizer released")
	}

	stream := sherpa.NewOfflineStream(recognizer)
	if stream == nil {
		return "", "", fmt.Errorf("neural: creating decode stream failed")
	}
	defer sherpa.DeleteOfflineStream(stream)

	stream.AcceptWaveform(sampleRate, samples)
	recognizer.Decode(stream)

	result := stream.GetResult()
	if result == nil {
		return "", "", nil
	}
	return result.Text, result.Lang, nil
}

// lastConfidence / setConfidence publish the most recent gate confidence to
// the transcription events without racing the slicing loop's writes.
func (h *handle) lastConfidence() float32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.confidence
}

func (h *handle) setConfidence(c float32) {
	h.mu.Lock()
	h.confidence = c
	h.mu.Unlock()
}

func tokensPathFor(modelPath string) string {
	return filepath.Join(filepath.Dir(modelPath), "tokens.txt")
}
