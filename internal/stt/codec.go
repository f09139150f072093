package stt

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is registered as the content-subtype of the streaming call
const CodecName = "proto"

// Codec is a gRPC codec for the StreamingRecognize messages. The client
// marshals RequestUnit values and unmarshals *RecognitionEvent; the reverse
// direction lets an in-process service speak the same wire format.
type Codec struct{}

var _ encoding.Codec = Codec{}

// RequestFrame receives a decoded request on the service side
type RequestFrame struct {
	Unit RequestUnit
}

// Name returns the codec name
func (Codec) Name() string { return CodecName }

// Marshal encodes a request unit or a recognition event
func (Codec) Marshal(v interface{}) ([]byte, error) {
	switch m := v.(type) {
	case ConfigUnit:
		return marshalRequest(m)
	case AudioUnit:
		return marshalRequest(m)
	case *ConfigUnit:
		return marshalRequest(*m)
	case *AudioUnit:
		return marshalRequest(*m)
	case *RecognitionEvent:
		return marshalEvent(m)
	default:
		return nil, fmt.Errorf("stt codec: cannot marshal %T", v)
	}
}

// Unmarshal decodes into a *RecognitionEvent or a *RequestFrame
func (Codec) Unmarshal(data []byte, v interface{}) error {
	switch m := v.(type) {
	case *RecognitionEvent:
		if err := unmarshalEvent(data, m); err != nil {
			return fmt.Errorf("stt codec: invalid recognition event: %w", err)
		}
		return nil
	case *RequestFrame:
		unit, err := unmarshalRequest(data)
		if err != nil {
			return fmt.Errorf("stt codec: invalid request: %w", err)
		}
		m.Unit = unit
		return nil
	default:
		return fmt.Errorf("stt codec: cannot unmarshal into %T", v)
	}
}
