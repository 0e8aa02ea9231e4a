package engine

import "math"

// VADPreset selects a tuned voice-activity parameter set.
type VADPreset string

const (
	VADPresetDefault    VADPreset = "default"
	VADPresetAggressive VADPreset = "aggressive"
	VADPresetRelaxed    VADPreset = "relaxed"
)

// VADConfig holds voice activity detection parameters.
type VADConfig struct {
	EnergyThreshold float64 // RMS energy threshold for speech
	SpeechMinDurMs  int     // Minimum duration to confirm speech start
	SilenceMinDurMs int     // Minimum duration to confirm speech end
	SampleRate      int     // Audio sample rate in Hz
	FrameSizeMs     int     // Frame size in milliseconds
}

// DefaultVADConfig returns sensible defaults for 16kHz mono audio.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		EnergyThreshold: 0.015,
		SpeechMinDurMs:  200,
		SilenceMinDurMs: 700,
		SampleRate:      16000,
		FrameSizeMs:     30,
	}
}

// VADConfigForPreset maps a preset to its parameter set.
func VADConfigForPreset(p VADPreset) VADConfig {
	cfg := DefaultVADConfig()
	switch p {
	case VADPresetAggressive:
		cfg.EnergyThreshold = 0.03
		cfg.SilenceMinDurMs = 400
	case VADPresetRelaxed:
		cfg.EnergyThreshold = 0.008
		cfg.SilenceMinDurMs = 1100
	}
	return cfg
}

// VAD performs energy-based voice activity detection on float32 PCM frames.
// It doubles as the confidence source gating slice closure in the neural
// backend when no model-based detector is available.
type VAD struct {
	config        VADConfig
	isSpeaking    bool
	speechFrames  int
	silenceFrames int
	frameSamples  int
}

// NewVAD creates a new voice activity detector.
func NewVAD(cfg VADConfig) *VAD {
	return &VAD{
		config:       cfg,
		frameSamples: cfg.SampleRate * cfg.FrameSizeMs / 1000,
	}
}

// VADEvent indicates a speech boundary.
type VADEvent int

const (
	VADNone VADEvent = iota
	VADSpeechStart
	VADSpeechEnd
)

// ProcessFrame analyzes one frame of float32 samples. It returns a boundary
// event plus a confidence in [0,1] derived from the frame energy relative to
// the configured threshold.
func (v *VAD) ProcessFrame(samples []float32) (VADEvent, float32) {
	energy := rmsEnergy(samples)
	confidence := float32(energy / (2 * v.config.EnergyThreshold))
	if confidence > 1 {
		confidence = 1
	}

	frameDurMs := float64(v.config.FrameSizeMs)

	if energy >= v.config.EnergyThreshold {
		v.silenceFrames = 0
		v.speechFrames++
		speechDurMs := float64(v.speechFrames) * frameDurMs

		if !v.isSpeaking && speechDurMs >= float64(v.config.SpeechMinDurMs) {
			v.isSpeaking = true
			return VADSpeechStart, confidence
		}
	} else {
		v.speechFrames = 0
		v.silenceFrames++
		silenceDurMs := float64(v.silenceFrames) * frameDurMs

		if v.isSpeaking && silenceDurMs >= float64(v.config.SilenceMinDurMs) {
			v.isSpeaking = false
			return VADSpeechEnd, confidence
		}
	}

	return VADNone, confidence
}

// IsSpeaking returns whether speech is currently detected.
func (v *VAD) IsSpeaking() bool {
	return v.isSpeaking
}

// Reset clears the VAD state.
func (v *VAD) Reset() {
	v.isSpeaking = false
	v.speechFrames = 0
	v.silenceFrames = 0
}

// rmsEnergy computes the root-mean-square energy of float32 PCM samples.
func rmsEnergy(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sumSquares float64
	for _, s := range samples {
		sumSquares += float64(s) * float64(s)
	}

	return math.Sqrt(sumSquares / float64(len(samples)))
}
