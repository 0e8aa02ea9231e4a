package config

import (
	"strings"

	"github.com/pitabwire/frame/config"

	"github.com/livecap/livecap/internal/caption/engine"
	"github.com/livecap/livecap/internal/caption/models"
)

// CaptionConfig holds configuration for the caption daemon.
type CaptionConfig struct {
	config.ConfigurationDefault

	Backend string `envDefault:"neural" env:"CAPTION_BACKEND"`

	// Model resources.
	AcousticModelPath string `envDefault:"./models/sense-voice.onnx" env:"ACOUSTIC_MODEL_PATH"`
	AcousticModelName string `envDefault:"SenseVoice"                env:"ACOUSTIC_MODEL_NAME"`
	AcousticModelSize int64  `envDefault:"0"                         env:"ACOUSTIC_MODEL_SIZE_BYTES"`
	VADModelPath      string `envDefault:"./models/silero-vad.onnx"  env:"VAD_MODEL_PATH"`
	VADModelName      string `envDefault:"Silero VAD"                env:"VAD_MODEL_NAME"`
	VADModelSize      int64  `envDefault:"0"                         env:"VAD_MODEL_SIZE_BYTES"`
	ModelWatchEnabled bool   `envDefault:"true"                      env:"MODEL_WATCH_ENABLED"`

	// Recognition options.
	Language         string  `envDefault:"auto"  env:"CAPTION_LANGUAGE"`
	Translate        bool    `envDefault:"false" env:"CAPTION_TRANSLATE"`
	AllowedLanguages string  `envDefault:""      env:"CAPTION_ALLOWED_LANGUAGES"`
	ThreadCount      int     `envDefault:"0"     env:"CAPTION_THREAD_COUNT"`
	SliceSeconds     float64 `envDefault:"12"    env:"AUDIO_SLICE_SECONDS"`
	MinSeconds       float64 `envDefault:"1"     env:"AUDIO_MIN_SECONDS"`
	AutoSlice        bool    `envDefault:"true"  env:"AUTO_SLICE_ON_SPEECH_END"`
	AutoSliceLevel   float64 `envDefault:"0.3"   env:"AUTO_SLICE_THRESHOLD"`
	VADPreset        string  `envDefault:"default" env:"VAD_PRESET"`

	// Grammar backend.
	VocabularyPath string `envDefault:"" env:"VOCABULARY_PATH"`

	// Native backend.
	BridgeBinary string `envDefault:"dictation-bridge" env:"DICTATION_BRIDGE_BINARY"`

	// Capture.
	CaptureSampleRate int `envDefault:"16000" env:"CAPTURE_SAMPLE_RATE"`
	CaptureChannels   int `envDefault:"1"     env:"CAPTURE_CHANNELS"`

	// Worker pool.
	WorkerPoolCount    int `envDefault:"2"  env:"WORKER_POOL_COUNT"`
	WorkerPoolCapacity int `envDefault:"16" env:"WORKER_POOL_CAPACITY"`
}

// ModelPaths maps the configured resource locations into the registry's
// path set.
func (c *CaptionConfig) ModelPaths() models.Paths {
	return models.Paths{
		Acoustic: c.AcousticModelPath,
		VAD:      c.VADModelPath,
	}
}

// ModelReferenceSizes maps the configured expected model sizes, zero meaning
// no size floor is enforced for that resource.
func (c *CaptionConfig) ModelReferenceSizes() models.ReferenceSizes {
	return models.ReferenceSizes{
		AcousticBytes: c.AcousticModelSize,
		VADBytes:      c.VADModelSize,
	}
}

// EngineConfig builds the engine options shared by every backend. The
// resolved model paths and the audio source are filled in later by the
// session and the daemon respectively.
func (c *CaptionConfig) EngineConfig() engine.Config {
	return engine.Config{
		Language:             c.Language,
		Translate:            c.Translate,
		AudioSliceSeconds:    c.SliceSeconds,
		AudioMinSeconds:      c.MinSeconds,
		AutoSliceOnSpeechEnd: c.AutoSlice,
		AutoSliceThreshold:   float32(c.AutoSliceLevel),
		VADPreset:            engine.VADPreset(c.VADPreset),
		ThreadCount:          c.ThreadCount,
		AllowedLanguages:     splitList(c.AllowedLanguages),
		BridgeBinary:         c.BridgeBinary,
	}
}

// BackendKind parses the configured backend name.
func (c *CaptionConfig) BackendKind() (engine.Kind, error) {
	return engine.ParseKind(c.Backend)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
