package engine

import "testing"

func frame(cfg VADConfig, amplitude float32) []float32 {
	samples := make([]float32, cfg.SampleRate*cfg.FrameSizeMs/1000)
	for i := range samples {
		samples[i] = amplitude
	}
	return samples
}

func TestVADSpeechStart(t *testing.T) {
	cfg := DefaultVADConfig()
	v := NewVAD(cfg)

	loud := frame(cfg, 0.1)
	framesNeeded := cfg.SpeechMinDurMs / cfg.FrameSizeMs

	var started bool
	for i := 0; i <= framesNeeded; i++ {
		ev, _ := v.ProcessFrame(loud)
		if ev == VADSpeechStart {
			started = true
		}
	}
	if !started {
		t.Error("sustained loud frames should trigger VADSpeechStart")
	}
	if !v.IsSpeaking() {
		t.Error("IsSpeaking() = false, want true")
	}
}

func TestVADSpeechEnd(t *testing.T) {
	cfg := DefaultVADConfig()
	v := NewVAD(cfg)

	loud := frame(cfg, 0.1)
	quiet := frame(cfg, 0.0)

	for i := 0; i <= cfg.SpeechMinDurMs/cfg.FrameSizeMs; i++ {
		v.ProcessFrame(loud)
	}
	if !v.IsSpeaking() {
		t.Fatal("expected speaking state")
	}

	var ended bool
	for i := 0; i <= cfg.SilenceMinDurMs/cfg.FrameSizeMs; i++ {
		ev, _ := v.ProcessFrame(quiet)
		if ev == VADSpeechEnd {
			ended = true
		}
	}
	if !ended {
		t.Error("sustained silence should trigger VADSpeechEnd")
	}
	if v.IsSpeaking() {
		t.Error("IsSpeaking() = true, want false")
	}
}

func TestVADBriefNoiseIgnored(t *testing.T) {
	cfg := DefaultVADConfig()
	v := NewVAD(cfg)

	loud := frame(cfg, 0.1)
	quiet := frame(cfg, 0.0)

	// A single loud frame is shorter than the speech minimum.
	if ev, _ := v.ProcessFrame(loud); ev != VADNone {
		t.Errorf("event = %v, want VADNone for a single loud frame", ev)
	}
	v.ProcessFrame(quiet)
	if v.IsSpeaking() {
		t.Error("brief noise should not flip the speaking state")
	}
}

func TestVADConfidenceRange(t *testing.T) {
	cfg := DefaultVADConfig()
	v := NewVAD(cfg)

	_, quiet := v.ProcessFrame(frame(cfg, 0.0))
	if quiet != 0 {
		t.Errorf("confidence = %v, want 0 for silence", quiet)
	}

	_, loud := v.ProcessFrame(frame(cfg, 0.5))
	if loud != 1 {
		t.Errorf("confidence = %v, want clamped to 1 for loud input", loud)
	}
}

func TestVADReset(t *testing.T) {
	cfg := DefaultVADConfig()
	v := NewVAD(cfg)

	loud := frame(cfg, 0.1)
	for i := 0; i <= cfg.SpeechMinDurMs/cfg.FrameSizeMs; i++ {
		v.ProcessFrame(loud)
	}

	v.Reset()
	if v.IsSpeaking() {
		t.Error("Reset() should clear the speaking state")
	}
}

func TestVADConfigForPreset(t *testing.T) {
	def := VADConfigForPreset(VADPresetDefault)
	agg := VADConfigForPreset(VADPresetAggressive)
	rel := VADConfigForPreset(VADPresetRelaxed)

	if !(agg.EnergyThreshold > def.EnergyThreshold) {
		t.Error("aggressive preset should raise the energy threshold")
	}
	if !(rel.EnergyThreshold < def.EnergyThreshold) {
		t.Error("relaxed preset should lower the energy threshold")
	}
	if !(agg.SilenceMinDurMs < def.SilenceMinDurMs && def.SilenceMinDurMs < rel.SilenceMinDurMs) {
		t.Error("silence window should grow from aggressive to relaxed")
	}
}
