package stt

import (
	"testing"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name      string
		frame     string
		wantOK    bool
		wantText  string
		wantFinal bool
		wantWords int
	}{
		{"final with words", finalHello, true, "hello there", true, 2},
		{"interim", interimHel, true, "hel", false, 0},
		{"untyped result", `{"is_final":true,"channel":{"alternatives":[{"transcript":" padded "}]}}`, true, "padded", true, 0},
		{"metadata", `{"type":"Metadata","request_id":"x"}`, false, "", false, 0},
		{"speech started", `{"type":"SpeechStarted"}`, false, "", false, 0},
		{"empty transcript", `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":""}]}}`, false, "", false, 0},
		{"no alternatives", `{"type":"Results","channel":{"alternatives":[]}}`, false, "", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, _, ok, err := parseResponse([]byte(tt.frame))
			if err != nil {
				t.Fatalf("parseResponse failed: %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("Expected ok=%v, got %v", tt.wantOK, ok)
			}
			if !ok {
				return
			}
			if event.Text != tt.wantText || event.IsFinal != tt.wantFinal || len(event.Words) != tt.wantWords {
				t.Errorf("Unexpected event %+v", event)
			}
		})
	}
}

func TestParseResponse_Malformed(t *testing.T) {
	if _, _, _, err := parseResponse([]byte("{not json")); err == nil {
		t.Error("Expected decode error")
	}
}

func TestErrorText(t *testing.T) {
	if got := errorText([]byte(`{"type":"Error","description":"bad audio"}`)); got != "bad audio" {
		t.Errorf("Expected description, got %q", got)
	}
	if got := errorText([]byte("plain")); got != "plain" {
		t.Errorf("Expected raw text, got %q", got)
	}
}
