package session

import (
	"time"

	"github.com/yegors/sttstream/internal/config"
	"github.com/yegors/sttstream/internal/stt"
)

// DefaultNoInputThreshold is the longest a non-final segment may stay open
// before the session is considered silent.
const DefaultNoInputThreshold = 3 * time.Second

// Decision is the consumer's verdict on a single recognition event
type Decision int

const (
	Continue Decision = iota
	Ignore
	StopNoInputTimeout
)

func (d Decision) String() string {
	switch d {
	case Continue:
		return "continue"
	case Ignore:
		return "ignore"
	case StopNoInputTimeout:
		return "stop_no_input_timeout"
	default:
		return "unknown"
	}
}

// NoInputPolicy configures no-input detection. By default only the first
// result of each event is inspected.
type NoInputPolicy struct {
	Threshold         time.Duration
	InspectAllResults bool
}

// PolicyFromConfig converts the no-input section of the config
func PolicyFromConfig(nc config.NoInputConfig) NoInputPolicy {
	return NoInputPolicy{
		Threshold:         time.Duration(nc.ThresholdMs) * time.Millisecond,
		InspectAllResults: nc.InspectAllResults,
	}
}

// Consumer decides per event whether the session continues. It keeps no
// history between events.
type Consumer struct {
	policy NoInputPolicy
}

// NewConsumer creates a consumer. A non-positive threshold uses
// DefaultNoInputThreshold.
func NewConsumer(policy NoInputPolicy) *Consumer {
	if policy.Threshold <= 0 {
		policy.Threshold = DefaultNoInputThreshold
	}
	return &Consumer{policy: policy}
}

// Policy returns the effective policy
func (c *Consumer) Policy() NoInputPolicy {
	return c.policy
}

// OnEvent inspects ev. A non-final segment spanning strictly more than the
// threshold stops the session; events without timing are ignored.
func (c *Consumer) OnEvent(ev *stt.RecognitionEvent) Decision {
	if ev == nil || len(ev.Results) == 0 {
		return Ignore
	}

	results := ev.Results
	if !c.policy.InspectAllResults {
		results = results[:1]
	}

	decision := Ignore
	for _, result := range results {
		rec := result.Recognition
		if rec == nil || rec.StartTime == nil || rec.EndTime == nil {
			continue
		}

		gap := *rec.EndTime - *rec.StartTime
		if gap > c.policy.Threshold && !result.IsFinal {
			return StopNoInputTimeout
		}
		decision = Continue
	}
	return decision
}

// Transcript returns the top alternative of every final result in ev
func Transcript(ev *stt.RecognitionEvent) []string {
	if ev == nil {
		return nil
	}

	var out []string
	for _, result := range ev.Results {
		if !result.IsFinal || result.Recognition == nil {
			continue
		}
		if text := result.Recognition.Top(); text != "" {
			out = append(out, text)
		}
	}
	return out
}
