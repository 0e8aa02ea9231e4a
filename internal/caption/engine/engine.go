package engine

import (
	"context"
	"fmt"
)

// Kind identifies one of the supported recognizer backends. The set is
// closed: every Kind has exactly one Adapter implementation.
type Kind string

const (
	// KindNeural is the offline neural recognizer with VAD-gated slicing.
	KindNeural Kind = "neural"
	// KindNative is the operating system's continuous dictation engine.
	KindNative Kind = "native"
	// KindGrammar is the fixed-vocabulary constrained recognizer.
	KindGrammar Kind = "grammar"
)

// Valid reports whether k names a known backend.
func (k Kind) Valid() bool {
	switch k {
	case KindNeural, KindNative, KindGrammar:
		return true
	}
	return false
}

// ParseKind converts a backend name from configuration into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("engine: unknown backend %q (supported: neural, native, grammar)", s)
	}
	return k, nil
}

// ResourcePaths identifies the on-disk resources backing an engine handle.
// Two configs with equal paths are considered interchangeable for handle
// reuse.
type ResourcePaths struct {
	Acoustic   string
	VAD        string
	Vocabulary string
}

// Equal reports whether both path sets reference the same resources.
func (p ResourcePaths) Equal(o ResourcePaths) bool {
	return p.Acoustic == o.Acoustic && p.VAD == o.VAD && p.Vocabulary == o.Vocabulary
}

// Config holds the recognized engine options.
type Config struct {
	Paths ResourcePaths

	// Language is a BCP-47 tag or "auto" for backend detection.
	Language  string
	Translate bool

	// Slicing policy for the neural backend.
	AudioSliceSeconds    float64
	AudioMinSeconds      float64
	AutoSliceOnSpeechEnd bool
	AutoSliceThreshold   float32
	VADPreset            VADPreset

	// ThreadCount overrides the memory-tier derived default when > 0.
	ThreadCount int

	// AllowedLanguages, when non-empty, restricts which detected languages
	// may update the session language.
	AllowedLanguages []string

	// Source supplies captured audio frames to backends that consume raw
	// audio. Owned by the handle once Initialize succeeds.
	Source AudioSource

	// BridgeBinary locates the OS dictation bridge executable used by the
	// native backend.
	BridgeBinary string

	// DesiredActive is probed by the native backend when the platform ends
	// dictation on its own: a restart happens only while it returns true.
	DesiredActive func() bool
}

// LanguageAllowed reports whether lang may become the session language.
// An empty allow-list permits everything.
func (c Config) LanguageAllowed(lang string) bool {
	if len(c.AllowedLanguages) == 0 {
		return true
	}
	for _, l := range c.AllowedLanguages {
		if l == lang {
			return true
		}
	}
	return false
}

// Handle is an opaque bundle of acquired native resources. It is created by
// Initialize, kept warm across Stop, and destroyed by Release. Callers never
// reach into it; they only hand it back to the adapter that made it.
type Handle interface {
	Paths() ResourcePaths
}

// Adapter is the uniform contract every backend variant implements.
//
// Initialize is idempotent per resolved resource paths: when a live handle
// already matches the requested paths it is returned as-is, otherwise the
// stale handle is released before a new one is built. Start returns a lazy,
// non-restartable event stream that stays open until Stop or a fatal error.
// Stop ends capture but keeps contexts warm. Release force-stops and frees
// sub-resources in a fixed order, each step best-effort.
type Adapter interface {
	Kind() Kind
	Initialize(ctx context.Context, cfg Config) (Handle, error)
	Start(ctx context.Context, h Handle) (<-chan Event, error)
	Stop(ctx context.Context, h Handle) error
	Release(ctx context.Context, h Handle) error
}

// AudioSource abstracts a live capture device producing mono float32 frames.
type AudioSource interface {
	Start() error
	Frames() <-chan []float32
	Stop()
	Close() error
}
