// Package grammar implements the constrained recognizer backend: decoded
// utterances are filtered against an optional fixed vocabulary, so only
// known words ever reach the subtitle stream.
package grammar

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

	// Hard cap on a single utterance; the energy gate usually closes one
	// much earlier.
	maxUtteranceSeconds = 10
)

// Adapter builds and drives grammar-constrained handles.
type Adapter struct {
	mu     sync.Mutex
	handle *handle
}

// New creates the grammar backend adapter.
func New() *Adapter {
	return &Adapter{}
}

// Kind reports the backend variant.
func (a *Adapter) Kind() engine.Kind {
	return engine.KindGrammar
}

type handle struct {
	cfg        engine.Config
	recognizer *sherpa.OfflineRecognizer
	vocabulary *Vocabulary
	source     engine.AudioSource
	gate       *engine.VAD

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func (h *handle) Paths() engine.ResourcePaths {
	return h.cfg.Paths
}

// Initialize acquires the acoustic model and loads the vocabulary, reusing a
// live handle when backing paths are unchanged.
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

	if cfg.Source == nil {
		return nil, fmt.Errorf("grammar: no audio source configured")
	}

	var vocabulary *Vocabulary
	if cfg.Paths.Vocabulary != "" {
		v, err := LoadVocabulary(cfg.Paths.Vocabulary)
		if err != nil {
			return nil, err
		}
		vocabulary = v
	}

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
			Tokens:     filepath.Join(filepath.Dir(cfg.Paths.Acoustic), "tokens.txt"),
			NumThreads: engine.DeriveThreadCount(cfg.ThreadCount),
			Provider:   "cpu",
		},
		DecodingMethod: "greedy_search",
	}

	recognizer := sherpa.NewOfflineRecognizer(&recognizerConfig)
	if recognizer == nil {
		return nil, fmt.Errorf("grammar: creating recognizer from %q failed", cfg.Paths.Acoustic)
	}

	h := &handle{
		cfg:        cfg,
		recognizer: recognizer,
		vocabulary: vocabulary,
		source:     cfg.Source,
		gate:       engine.NewVAD(engine.VADConfigForPreset(cfg.VADPreset)),
	}
	a.handle = h

	if vocabulary != nil {
		slog.Info("grammar: engine initialized",
			slog.String("model", filepath.Base(cfg.Paths.Acoustic)),
			slog.Int("vocabulary_words", len(vocabulary.Words)))
	} else {
		slog.Info("grammar: engine initialized without vocabulary constraint",
			slog.String("model", filepath.Base(cfg.Paths.Acoustic)))
	}

	return h, nil
}

// Start begins continuous capture. Utterances close on detected speech end
// and are decoded and constrained before emission.
func (a *Adapter) Start(_ context.Context, eh engine.Handle) (<-chan engine.Event, error) {
	h, err := a.own(eh)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return nil, fmt.Errorf("grammar: capture already running")
	}
	h.running = true
	h.stopCh = make(chan struct{})
	h.doneCh = make(chan struct{})
	h.mu.Unlock()

	if err := h.source.Start(); err != nil {
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
		return nil, fmt.Errorf("grammar: starting audio source: %w", err)
	}

	events := make(chan engine.Event, 32)
	go h.run(events)
	return events, nil
}

// Stop ends capture, keeping the model warm.
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

// Release force-stops and frees the acoustic model context, best-effort.
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
		slog.Warn("grammar: stop during release failed", slog.String("error", err.Error()))
	}
	if h.recognizer != nil {
		sherpa.DeleteOfflineRecognizer(h.recognizer)
		h.recognizer = nil
	}
}

func (a *Adapter) own(eh engine.Handle) (*handle, error) {
	h, ok := eh.(*handle)
	if !ok {
		return nil, fmt.Errorf("grammar: foreign handle %T", eh)
	}
	return h, nil
}

func (h *handle) run(events chan<- engine.Event) {
	defer close(events)
	defer close(h.doneCh)
	defer func() {
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
	}()

	events <- engine.Status(true)

	maxSamples := maxUtteranceSeconds * sampleRate
	var utterance []float32

	flush := func() {
		if len(utterance) == 0 {
			return
		}
		text, err := h.decode(utterance)
		utterance = utterance[:0]
		if err != nil {
			events <- engine.Errorf(err.Error())
			return
		}
		if h.vocabulary != nil {
			text = h.vocabulary.Constrain(text)
		}
		if text == "" {
			return
		}
		events <- engine.Transcribe(text, true, 1, "")
	}

	frames := h.source.Frames()
	for {
		select {
		case <-h.stopCh:
			flush()
			events <- engine.Status(false)
			return
		case frame, ok := <-frames:
			if !ok {
				flush()
				events <- engine.Status(false)
				return
			}

			boundary, confidence := h.gate.ProcessFrame(frame)

			select {
			case events <- engine.Vad(confidence):
			default:
			}

			if h.gate.IsSpeaking() || boundary == engine.VADSpeechEnd {
				utterance = append(utterance, frame...)
			}

			if boundary == engine.VADSpeechEnd || len(utterance) >= maxSamples {
				flush()
			}
		}
	}
}

func (h *handle) decode(samples []float32) (string, error) {
	h.mu.Lock()
	recognizer := h.recognizer
	h.mu.Unlock()
	if recognizer == nil {
		return "", fmt.Errorf("grammar: recognizer released")
	}

	stream := sherpa.NewOfflineStream(recognizer)
	if stream == nil {
		return "", fmt.Errorf("grammar: creating decode stream failed")
	}
	defer sherpa.DeleteOfflineStream(stream)

	stream.AcceptWaveform(sampleRate, samples)
	recognizer.Decode(stream)

	result := stream.GetResult()
	if result == nil {
		return "", nil
	}
	return result.Text, nil
}
