package stt

import (
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/durationpb"
)

// Field numbers of the tinkoff.cloud.stt.v1 StreamingRecognize messages.

// StreamingRecognizeRequest
const (
	fieldRequestStreamingConfig protowire.Number = 1
	fieldRequestAudioContent    protowire.Number = 2
)

// StreamingRecognitionConfig
const (
	fieldStreamingConfig         protowire.Number = 1
	fieldStreamingSingleUtter    protowire.Number = 2
	fieldStreamingInterimResults protowire.Number = 3
)

// InterimResultsConfig
const (
	fieldInterimEnable   protowire.Number = 1
	fieldInterimInterval protowire.Number = 2
)

// RecognitionConfig
const (
	fieldConfigEncoding         protowire.Number = 1
	fieldConfigSampleRate       protowire.Number = 2
	fieldConfigLanguageCode     protowire.Number = 3
	fieldConfigMaxAlternatives  protowire.Number = 4
	fieldConfigProfanityFilter  protowire.Number = 5
	fieldConfigPunctuation      protowire.Number = 8
	fieldConfigModel            protowire.Number = 10
	fieldConfigNumChannels      protowire.Number = 11
	fieldConfigVAD              protowire.Number = 13
	fieldConfigDenormalization  protowire.Number = 14
	fieldConfigSentiment        protowire.Number = 15
	fieldConfigGenderIdentifier protowire.Number = 16
)

// VoiceActivityDetectionConfig
const (
	fieldVADMinSpeech       protowire.Number = 1
	fieldVADMaxSpeech       protowire.Number = 2
	fieldVADSilenceDuration protowire.Number = 3
	fieldVADSilenceProb     protowire.Number = 4
	fieldVADAggressiveness  protowire.Number = 5
	fieldVADSilenceMax      protowire.Number = 6
	fieldVADSilenceMin      protowire.Number = 7
)

// StreamingRecognizeResponse / StreamingRecognitionResult /
// SpeechRecognitionResult / SpeechRecognitionAlternative
const (
	fieldResponseResults protowire.Number = 1

	fieldResultRecognition protowire.Number = 1
	fieldResultIsFinal     protowire.Number = 2
	fieldResultStability   protowire.Number = 3

	fieldSpeechAlternatives protowire.Number = 1
	fieldSpeechChannel      protowire.Number = 2
	fieldSpeechStartTime    protowire.Number = 3
	fieldSpeechEndTime      protowire.Number = 4

	fieldAltTranscript protowire.Number = 1
	fieldAltConfidence protowire.Number = 2
)

var errWireType = errors.New("unexpected wire type")

// Encoding helpers. Scalar fields holding their zero value are omitted.

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

func appendFloat(b []byte, num protowire.Number, v float32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}

func appendDuration(b []byte, num protowire.Number, d *time.Duration) ([]byte, error) {
	if d == nil {
		return b, nil
	}
	raw, err := proto.Marshal(durationpb.New(*d))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal duration: %w", err)
	}
	return appendMessage(b, num, raw), nil
}

func marshalRequest(unit RequestUnit) ([]byte, error) {
	switch u := unit.(type) {
	case ConfigUnit:
		return appendMessage(nil, fieldRequestStreamingConfig, marshalStreamingConfig(u.Config)), nil
	case AudioUnit:
		// Always present, even when empty: audio_content is a oneof member.
		return appendMessage(nil, fieldRequestAudioContent, u.Data), nil
	default:
		return nil, fmt.Errorf("unsupported request unit %T", unit)
	}
}

func marshalStreamingConfig(cfg SessionConfig) []byte {
	var b []byte
	b = appendMessage(b, fieldStreamingConfig, marshalRecognitionConfig(cfg))
	b = appendBool(b, fieldStreamingSingleUtter, cfg.SingleUtterance)

	var interim []byte
	interim = appendBool(interim, fieldInterimEnable, cfg.InterimResults.Enabled)
	interim = appendFloat(interim, fieldInterimInterval, cfg.InterimResults.IntervalSeconds)
	if len(interim) > 0 {
		b = appendMessage(b, fieldStreamingInterimResults, interim)
	}
	return b
}

func marshalRecognitionConfig(cfg SessionConfig) []byte {
	var b []byte
	b = appendUint(b, fieldConfigEncoding, uint64(cfg.Encoding))
	b = appendUint(b, fieldConfigSampleRate, uint64(cfg.SampleRateHz))
	b = appendString(b, fieldConfigLanguageCode, cfg.LanguageCode)
	b = appendUint(b, fieldConfigMaxAlternatives, uint64(cfg.MaxAlternatives))
	b = appendBool(b, fieldConfigProfanityFilter, cfg.ProfanityFilter)
	b = appendBool(b, fieldConfigPunctuation, cfg.AutomaticPunctuation)
	b = appendString(b, fieldConfigModel, cfg.Model)
	b = appendUint(b, fieldConfigNumChannels, uint64(cfg.NumChannels))
	if v := cfg.VAD; v != nil {
		var vad []byte
		vad = appendFloat(vad, fieldVADMinSpeech, v.MinSpeechDuration)
		vad = appendFloat(vad, fieldVADMaxSpeech, v.MaxSpeechDuration)
		vad = appendFloat(vad, fieldVADSilenceDuration, v.SilenceDurationThreshold)
		vad = appendFloat(vad, fieldVADSilenceProb, v.SilenceProbThreshold)
		vad = appendFloat(vad, fieldVADAggressiveness, v.Aggressiveness)
		vad = appendFloat(vad, fieldVADSilenceMax, v.SilenceMax)
		vad = appendFloat(vad, fieldVADSilenceMin, v.SilenceMin)
		b = appendMessage(b, fieldConfigVAD, vad)
	}
	b = appendBool(b, fieldConfigDenormalization, cfg.Denormalization)
	b = appendBool(b, fieldConfigSentiment, cfg.SentimentAnalysis)
	b = appendBool(b, fieldConfigGenderIdentifier, cfg.GenderIdentification)
	return b
}

func marshalEvent(ev *RecognitionEvent) ([]byte, error) {
	var b []byte
	for _, r := range ev.Results {
		var rb []byte
		if rec := r.Recognition; rec != nil {
			var sb []byte
			for _, alt := range rec.Alternatives {
				var ab []byte
				ab = appendString(ab, fieldAltTranscript, alt.Transcript)
				ab = appendFloat(ab, fieldAltConfidence, alt.Confidence)
				sb = appendMessage(sb, fieldSpeechAlternatives, ab)
			}
			if rec.Channel != 0 {
				sb = protowire.AppendTag(sb, fieldSpeechChannel, protowire.VarintType)
				sb = protowire.AppendVarint(sb, uint64(int64(rec.Channel)))
			}
			var err error
			if sb, err = appendDuration(sb, fieldSpeechStartTime, rec.StartTime); err != nil {
				return nil, err
			}
			if sb, err = appendDuration(sb, fieldSpeechEndTime, rec.EndTime); err != nil {
				return nil, err
			}
			rb = appendMessage(rb, fieldResultRecognition, sb)
		}
		rb = appendBool(rb, fieldResultIsFinal, r.IsFinal)
		rb = appendFloat(rb, fieldResultStability, r.Stability)
		b = appendMessage(b, fieldResponseResults, rb)
	}
	return b, nil
}

// Decoding helpers.

// walkFields calls fn for every field of a message. fn returns the number
// of bytes it consumed, or 0 to have the field skipped.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return protowire.ParseError(m)
			}
		}
		b = b[m:]
	}
	return nil
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, errWireType
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, errWireType
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeFloat(typ protowire.Type, b []byte) (float32, int, error) {
	if typ != protowire.Fixed32Type {
		return 0, 0, errWireType
	}
	v, n := protowire.ConsumeFixed32(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return math.Float32frombits(v), n, nil
}

func consumeDuration(typ protowire.Type, b []byte) (*time.Duration, int, error) {
	raw, n, err := consumeBytes(typ, b)
	if err != nil {
		return nil, 0, err
	}
	var pb durationpb.Duration
	if err := proto.Unmarshal(raw, &pb); err != nil {
		return nil, 0, fmt.Errorf("invalid duration: %w", err)
	}
	d := pb.AsDuration()
	return &d, n, nil
}

func unmarshalEvent(b []byte, ev *RecognitionEvent) error {
	*ev = RecognitionEvent{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != fieldResponseResults {
			return 0, nil
		}
		raw, n, err := consumeBytes(typ, b)
		if err != nil {
			return 0, err
		}
		var r RecognitionResult
		if err := unmarshalResult(raw, &r); err != nil {
			return 0, err
		}
		ev.Results = append(ev.Results, r)
		return n, nil
	})
}

func unmarshalResult(b []byte, r *RecognitionResult) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldResultRecognition:
			raw, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			r.Recognition = &SpeechRecognitionResult{}
			return n, unmarshalSpeechResult(raw, r.Recognition)
		case fieldResultIsFinal:
			v, n, err := consumeVarint(typ, b)
			r.IsFinal = protowire.DecodeBool(v)
			return n, err
		case fieldResultStability:
			v, n, err := consumeFloat(typ, b)
			r.Stability = v
			return n, err
		}
		return 0, nil
	})
}

func unmarshalSpeechResult(b []byte, s *SpeechRecognitionResult) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldSpeechAlternatives:
			raw, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			var alt Alternative
			if err := unmarshalAlternative(raw, &alt); err != nil {
				return 0, err
			}
			s.Alternatives = append(s.Alternatives, alt)
			return n, nil
		case fieldSpeechChannel:
			v, n, err := consumeVarint(typ, b)
			s.Channel = int32(v)
			return n, err
		case fieldSpeechStartTime:
			d, n, err := consumeDuration(typ, b)
			s.StartTime = d
			return n, err
		case fieldSpeechEndTime:
			d, n, err := consumeDuration(typ, b)
			s.EndTime = d
			return n, err
		}
		return 0, nil
	})
}

func unmarshalAlternative(b []byte, alt *Alternative) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldAltTranscript:
			raw, n, err := consumeBytes(typ, b)
			alt.Transcript = string(raw)
			return n, err
		case fieldAltConfidence:
			v, n, err := consumeFloat(typ, b)
			alt.Confidence = v
			return n, err
		}
		return 0, nil
	})
}

func unmarshalRequest(b []byte) (RequestUnit, error) {
	var unit RequestUnit
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldRequestStreamingConfig:
			raw, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			cfg, err := unmarshalStreamingConfig(raw)
			if err != nil {
				return 0, err
			}
			unit = ConfigUnit{Config: cfg}
			return n, nil
		case fieldRequestAudioContent:
			raw, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			unit = AudioUnit{Data: append([]byte{}, raw...)}
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, errors.New("request carries neither config nor audio")
	}
	return unit, nil
}

func unmarshalStreamingConfig(b []byte) (SessionConfig, error) {
	var cfg SessionConfig
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldStreamingConfig:
			raw, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			return n, unmarshalRecognitionConfig(raw, &cfg)
		case fieldStreamingSingleUtter:
			v, n, err := consumeVarint(typ, b)
			cfg.SingleUtterance = protowire.DecodeBool(v)
			return n, err
		case fieldStreamingInterimResults:
			raw, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			return n, walkFields(raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				switch num {
				case fieldInterimEnable:
					v, n, err := consumeVarint(typ, b)
					cfg.InterimResults.Enabled = protowire.DecodeBool(v)
					return n, err
				case fieldInterimInterval:
					v, n, err := consumeFloat(typ, b)
					cfg.InterimResults.IntervalSeconds = v
					return n, err
				}
				return 0, nil
			})
		}
		return 0, nil
	})
	return cfg, err
}

func unmarshalRecognitionConfig(b []byte, cfg *SessionConfig) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldConfigLanguageCode, fieldConfigModel:
			raw, n, err := consumeBytes(typ, b)
			if num == fieldConfigModel {
				cfg.Model = string(raw)
			} else {
				cfg.LanguageCode = string(raw)
			}
			return n, err
		case fieldConfigVAD:
			raw, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			cfg.VAD = &VadParameters{}
			return n, unmarshalVAD(raw, cfg.VAD)
		case fieldConfigEncoding, fieldConfigSampleRate, fieldConfigMaxAlternatives,
			fieldConfigProfanityFilter, fieldConfigPunctuation, fieldConfigNumChannels,
			fieldConfigDenormalization, fieldConfigSentiment, fieldConfigGenderIdentifier:
		default:
			return 0, nil
		}

		v, n, err := consumeVarint(typ, b)
		if err != nil {
			return 0, err
		}
		switch num {
		case fieldConfigEncoding:
			cfg.Encoding = Encoding(v)
		case fieldConfigSampleRate:
			cfg.SampleRateHz = uint32(v)
		case fieldConfigMaxAlternatives:
			cfg.MaxAlternatives = uint32(v)
		case fieldConfigProfanityFilter:
			cfg.ProfanityFilter = protowire.DecodeBool(v)
		case fieldConfigPunctuation:
			cfg.AutomaticPunctuation = protowire.DecodeBool(v)
		case fieldConfigNumChannels:
			cfg.NumChannels = uint32(v)
		case fieldConfigDenormalization:
			cfg.Denormalization = protowire.DecodeBool(v)
		case fieldConfigSentiment:
			cfg.SentimentAnalysis = protowire.DecodeBool(v)
		case fieldConfigGenderIdentifier:
			cfg.GenderIdentification = protowire.DecodeBool(v)
		}
		return n, nil
	})
}

func unmarshalVAD(b []byte, v *VadParameters) error {
	targets := map[protowire.Number]*float32{
		fieldVADMinSpeech:       &v.MinSpeechDuration,
		fieldVADMaxSpeech:       &v.MaxSpeechDuration,
		fieldVADSilenceDuration: &v.SilenceDurationThreshold,
		fieldVADSilenceProb:     &v.SilenceProbThreshold,
		fieldVADAggressiveness:  &v.Aggressiveness,
		fieldVADSilenceMax:      &v.SilenceMax,
		fieldVADSilenceMin:      &v.SilenceMin,
	}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		target, ok := targets[num]
		if !ok {
			return 0, nil
		}
		f, n, err := consumeFloat(typ, b)
		*target = f
		return n, err
	})
}
