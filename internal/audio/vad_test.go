package audio

import (
	"testing"
)

func constantFrame(value int16, n int) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = value
	}
	return samples
}

func TestVADDetector_ProcessFrame_Speech(t *testing.T) {
	vad := NewVADDetector(&VADConfig{EnergyThreshold: 500.0, SilenceFrames: 2})
	samples := constantFrame(5000, 4000)

	for i := 0; i < 5; i++ {
		isSpeaking, speechStarted, _ := vad.ProcessFrame(samples)
		if !isSpeaking {
			t.Errorf("Expected speech detection on frame %d", i)
		}
		if i == 0 && !speechStarted {
			t.Error("Expected speech to start on first frame")
		}
		if i > 0 && speechStarted {
			t.Errorf("Expected speech start only once, got it on frame %d", i)
		}
	}
}

func TestVADDetector_ProcessFrame_Silence(t *testing.T) {
	vad := NewVADDetector(&VADConfig{EnergyThreshold: 500.0, SilenceFrames: 2})
	samples := constantFrame(10, 4000)

	for i := 0; i < 10; i++ {
		isSpeaking, _, _ := vad.ProcessFrame(samples)
		if isSpeaking {
			t.Errorf("Expected silence on frame %d", i)
		}
	}
}

func TestVADDetector_HangoverBeforeSpeechEnds(t *testing.T) {
	vad := NewVADDetector(&VADConfig{EnergyThreshold: 500.0, SilenceFrames: 3})
	high := constantFrame(5000, 400)
	low := constantFrame(10, 400)

	vad.ProcessFrame(high)

	for i := 0; i < 2; i++ {
		isSpeaking, _, ended := vad.ProcessFrame(low)
		if !isSpeaking || ended {
			t.Fatalf("Expected speech to continue through hangover frame %d", i)
		}
	}

	isSpeaking, _, ended := vad.ProcessFrame(low)
	if isSpeaking || !ended {
		t.Error("Expected speech to end after the third quiet frame")
	}
}

func TestVADDetector_Threshold(t *testing.T) {
	lowThreshold := NewVADDetector(&VADConfig{EnergyThreshold: 100.0, SilenceFrames: 2})
	highThreshold := NewVADDetector(&VADConfig{EnergyThreshold: 5000.0, SilenceFrames: 2})
	samples := constantFrame(1000, 160)

	if isSpeaking, _, _ := lowThreshold.ProcessFrame(samples); !isSpeaking {
		t.Error("Expected low threshold to detect speech")
	}
	if isSpeaking, _, _ := highThreshold.ProcessFrame(samples); isSpeaking {
		t.Error("Expected high threshold to not detect speech")
	}
}

func TestDefaultVADConfig(t *testing.T) {
	config := DefaultVADConfig()
	if config.EnergyThreshold != 500.0 {
		t.Errorf("Expected default EnergyThreshold 500.0, got %f", config.EnergyThreshold)
	}
	if config.SilenceFrames != 2 {
		t.Errorf("Expected default SilenceFrames 2, got %d", config.SilenceFrames)
	}
}
