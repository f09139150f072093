// Package stt defines the streaming recognition protocol: the session
// configuration, the request units sent on the outbound half, the
// recognition events received on the inbound half, and their wire codec.
package stt

import (
	"fmt"
	"strings"
	"time"

	"github.com/yegors/sttstream/internal/config"
)

// Encoding is the audio encoding announced in the session configuration
type Encoding int32

const (
	EncodingUnspecified Encoding = 0
	EncodingLinear16    Encoding = 1
	EncodingMulaw       Encoding = 3
	EncodingAlaw        Encoding = 8
	EncodingRawOpus     Encoding = 11
	EncodingMPEGAudio   Encoding = 12
)

var encodingNames = map[Encoding]string{
	EncodingUnspecified: "ENCODING_UNSPECIFIED",
	EncodingLinear16:    "LINEAR16",
	EncodingMulaw:       "MULAW",
	EncodingAlaw:        "ALAW",
	EncodingRawOpus:     "RAW_OPUS",
	EncodingMPEGAudio:   "MPEG_AUDIO",
}

func (e Encoding) String() string {
	if name, ok := encodingNames[e]; ok {
		return name
	}
	return fmt.Sprintf("Encoding(%d)", int32(e))
}

// ParseEncoding maps a configured encoding name to its value
func ParseEncoding(name string) (Encoding, error) {
	upper := strings.ToUpper(name)
	for enc, n := range encodingNames {
		if n == upper {
			return enc, nil
		}
	}
	return EncodingUnspecified, fmt.Errorf("unknown audio encoding: %s", name)
}

// VadParameters configures the service's voice activity detection
type VadParameters struct {
	MinSpeechDuration        float32
	MaxSpeechDuration        float32
	SilenceDurationThreshold float32
	SilenceProbThreshold     float32
	Aggressiveness           float32
	SilenceMax               float32
	SilenceMin               float32
}

// InterimResults controls delivery of non-final results
type InterimResults struct {
	Enabled         bool
	IntervalSeconds float32
}

// SessionConfig is sent once, as the first request of a session
type SessionConfig struct {
	Encoding             Encoding
	SampleRateHz         uint32
	LanguageCode         string
	Model                string
	MaxAlternatives      uint32
	ProfanityFilter      bool
	AutomaticPunctuation bool
	NumChannels          uint32
	Denormalization      bool
	SentimentAnalysis    bool
	GenderIdentification bool
	VAD                  *VadParameters
	SingleUtterance      bool
	InterimResults       InterimResults
}

// SessionConfigFromConfig builds the session configuration from the
// recognition config section. The section must already be validated.
func SessionConfigFromConfig(rc config.RecognitionConfig) (SessionConfig, error) {
	enc, err := ParseEncoding(rc.Encoding)
	if err != nil {
		return SessionConfig{}, err
	}

	cfg := SessionConfig{
		Encoding:             enc,
		SampleRateHz:         uint32(rc.SampleRateHz),
		LanguageCode:         rc.LanguageCode,
		Model:                rc.Model,
		MaxAlternatives:      uint32(rc.MaxAlternatives),
		ProfanityFilter:      rc.ProfanityFilter,
		AutomaticPunctuation: rc.AutomaticPunctuation,
		NumChannels:          uint32(rc.NumChannels),
		Denormalization:      rc.Denormalization,
		SentimentAnalysis:    rc.SentimentAnalysis,
		GenderIdentification: rc.GenderIdentification,
		SingleUtterance:      rc.SingleUtterance,
		InterimResults: InterimResults{
			Enabled:         rc.InterimResults,
			IntervalSeconds: float32(rc.InterimIntervalSec),
		},
	}

	if v := rc.VAD; v != nil {
		cfg.VAD = &VadParameters{
			MinSpeechDuration:        float32(v.MinSpeechDuration),
			MaxSpeechDuration:        float32(v.MaxSpeechDuration),
			SilenceDurationThreshold: float32(v.SilenceDurationThreshold),
			SilenceProbThreshold:     float32(v.SilenceProbThreshold),
			Aggressiveness:           float32(v.Aggressiveness),
			SilenceMax:               float32(v.SilenceMax),
			SilenceMin:               float32(v.SilenceMin),
		}
	}

	return cfg, nil
}

// RequestUnit is one outbound message: either a ConfigUnit or an AudioUnit.
// The set of variants is closed.
type RequestUnit interface {
	requestUnit()
}

// ConfigUnit carries the session configuration
type ConfigUnit struct {
	Config SessionConfig
}

// AudioUnit carries a chunk of audio. Synthetic marks locally generated
// silence or filler; it is not transmitted.
type AudioUnit struct {
	Data      []byte
	Synthetic bool
}

func (ConfigUnit) requestUnit() {}
func (AudioUnit) requestUnit()  {}

// RecognitionEvent is one inbound message
type RecognitionEvent struct {
	Results []RecognitionResult
}

// RecognitionResult is one streaming result within an event
type RecognitionResult struct {
	IsFinal     bool
	Stability   float32
	Recognition *SpeechRecognitionResult
}

// SpeechRecognitionResult holds the recognized alternatives and their timing.
// StartTime and EndTime are nil when the service omitted them.
type SpeechRecognitionResult struct {
	Channel      int32
	StartTime    *time.Duration
	EndTime      *time.Duration
	Alternatives []Alternative
}

// Alternative is one recognition hypothesis
type Alternative struct {
	Transcript string
	Confidence float32
}

// Top returns the best transcript of the result, or "" when there is none
func (r *SpeechRecognitionResult) Top() string {
	if r == nil || len(r.Alternatives) == 0 {
		return ""
	}
	return r.Alternatives[0].Transcript
}
