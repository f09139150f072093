package session

import (
	"reflect"
	"testing"
	"time"

	"github.com/yegors/sttstream/internal/config"
	"github.com/yegors/sttstream/internal/stt"
)

func dur(d time.Duration) *time.Duration { return &d }

func segment(start, end time.Duration, final bool, text string) stt.RecognitionResult {
	return stt.RecognitionResult{
		IsFinal: final,
		Recognition: &stt.SpeechRecognitionResult{
			StartTime:    dur(start),
			EndTime:      dur(end),
			Alternatives: []stt.Alternative{{Transcript: text, Confidence: 0.9}},
		},
	}
}

func TestConsumerDecisions(t *testing.T) {
	tests := []struct {
		name  string
		event *stt.RecognitionEvent
		want  Decision
	}{
		{
			name:  "open segment past threshold",
			event: &stt.RecognitionEvent{Results: []stt.RecognitionResult{segment(0, 4*time.Second, false, "")}},
			want:  StopNoInputTimeout,
		},
		{
			name:  "final segment past threshold",
			event: &stt.RecognitionEvent{Results: []stt.RecognitionResult{segment(0, 4*time.Second, true, "да")}},
			want:  Continue,
		},
		{
			name:  "open segment under threshold",
			event: &stt.RecognitionEvent{Results: []stt.RecognitionResult{segment(0, 2900*time.Millisecond, false, "")}},
			want:  Continue,
		},
		{
			name:  "open segment exactly at threshold",
			event: &stt.RecognitionEvent{Results: []stt.RecognitionResult{segment(time.Second, 4*time.Second, false, "")}},
			want:  Continue,
		},
		{
			name:  "empty results",
			event: &stt.RecognitionEvent{},
			want:  Ignore,
		},
		{
			name:  "nil event",
			event: nil,
			want:  Ignore,
		},
		{
			name:  "missing recognition payload",
			event: &stt.RecognitionEvent{Results: []stt.RecognitionResult{{IsFinal: false}}},
			want:  Ignore,
		},
		{
			name: "missing end time",
			event: &stt.RecognitionEvent{Results: []stt.RecognitionResult{{
				Recognition: &stt.SpeechRecognitionResult{StartTime: dur(0)},
			}}},
			want: Ignore,
		},
		{
			name: "only first result inspected",
			event: &stt.RecognitionEvent{Results: []stt.RecognitionResult{
				segment(0, time.Second, false, ""),
				segment(0, 10*time.Second, false, ""),
			}},
			want: Continue,
		},
	}

	c := NewConsumer(NoInputPolicy{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.OnEvent(tt.event); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestConsumerInspectAllResults(t *testing.T) {
	c := NewConsumer(NoInputPolicy{InspectAllResults: true})
	ev := &stt.RecognitionEvent{Results: []stt.RecognitionResult{
		{IsFinal: true},
		segment(0, time.Second, false, ""),
		segment(0, 10*time.Second, false, ""),
	}}
	if got := c.OnEvent(ev); got != StopNoInputTimeout {
		t.Errorf("Expected %s, got %s", StopNoInputTimeout, got)
	}
}

func TestConsumerCustomThreshold(t *testing.T) {
	c := NewConsumer(PolicyFromConfig(config.NoInputConfig{ThresholdMs: 1500}))
	if c.Policy().Threshold != 1500*time.Millisecond {
		t.Fatalf("Unexpected threshold %v", c.Policy().Threshold)
	}

	ev := &stt.RecognitionEvent{Results: []stt.RecognitionResult{segment(0, 2*time.Second, false, "")}}
	if got := c.OnEvent(ev); got != StopNoInputTimeout {
		t.Errorf("Expected %s, got %s", StopNoInputTimeout, got)
	}
	if NewConsumer(NoInputPolicy{}).Policy().Threshold != DefaultNoInputThreshold {
		t.Error("Expected default threshold for a zero policy")
	}
}

func TestTranscript(t *testing.T) {
	ev := &stt.RecognitionEvent{Results: []stt.RecognitionResult{
		segment(0, time.Second, true, "добрый день"),
		segment(time.Second, 2*time.Second, false, "как"),
		{IsFinal: true, Recognition: &stt.SpeechRecognitionResult{}},
		segment(2*time.Second, 3*time.Second, true, "как дела"),
	}}

	want := []string{"добрый день", "как дела"}
	if got := Transcript(ev); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
	if got := Transcript(nil); got != nil {
		t.Errorf("Expected nil transcript for nil event, got %v", got)
	}
}
