package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/yegors/sttstream/internal/config"
	"github.com/yegors/sttstream/internal/stt"
	"github.com/yegors/sttstream/pkg/logger"
)

func testSessionConfig() stt.SessionConfig {
	return stt.SessionConfig{
		Encoding:        stt.EncodingLinear16,
		SampleRateHz:    16000,
		LanguageCode:    "ru-RU",
		MaxAlternatives: 1,
		NumChannels:     1,
	}
}

// drain reads units until Next fails
func drain(t *testing.T, s *Stream) ([]stt.RequestUnit, error) {
	t.Helper()
	var units []stt.RequestUnit
	for {
		unit, err := s.Next()
		if err != nil {
			return units, err
		}
		units = append(units, unit)
		if len(units) > 100000 {
			t.Fatal("Stream did not terminate")
		}
	}
}

func TestStreamEmitsConfigFirst(t *testing.T) {
	cfg := testSessionConfig()
	pacing := Pacing{
		ChunkSize: 160,
		QueueSize: 4,
		Warmup:    Warmup{Count: 2, ChunkSize: 320},
	}

	s := Open(context.Background(), cfg, &bytesSource{data: make([]byte, 500)}, pacing, logger.NewNop())
	defer s.Close()

	units, err := drain(t, s)
	if err != io.EOF {
		t.Fatalf("Expected io.EOF at end of input, got %v", err)
	}
	if len(units) == 0 {
		t.Fatal("Expected units")
	}

	first, ok := units[0].(stt.ConfigUnit)
	if !ok {
		t.Fatalf("Expected first unit to be config, got %T", units[0])
	}
	if first.Config.LanguageCode != "ru-RU" || first.Config.SampleRateHz != 16000 {
		t.Errorf("Unexpected config in first unit: %+v", first.Config)
	}

	for i, unit := range units[1:] {
		audio, ok := unit.(stt.AudioUnit)
		if !ok {
			t.Fatalf("Unit %d: expected audio, got %T", i+1, unit)
		}
		if i < 2 {
			if !audio.Synthetic || len(audio.Data) != 320 {
				t.Errorf("Unit %d: expected 320-byte warm-up silence, got synthetic=%v len=%d", i+1, audio.Synthetic, len(audio.Data))
			}
		} else if audio.Synthetic {
			t.Errorf("Unit %d: expected real audio after warm-up", i+1)
		}
	}
}

func TestStreamPreservesAudioBytes(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, size := range []int{1, 159, 160, 161, 10007} {
		data := make([]byte, size)
		rng.Read(data)

		pacing := Pacing{
			ChunkSize: 160,
			QueueSize: 2,
			Warmup:    Warmup{Count: 1, ChunkSize: 160},
		}
		// Short reads exercise partial chunks
		src := &bytesSource{data: append([]byte(nil), data...), limit: 97}
		s := Open(context.Background(), testSessionConfig(), src, pacing, logger.NewNop())

		units, err := drain(t, s)
		s.Close()
		if err != io.EOF {
			t.Fatalf("size %d: expected io.EOF, got %v", size, err)
		}

		var got []byte
		for _, unit := range units {
			if audio, ok := unit.(stt.AudioUnit); ok && !audio.Synthetic {
				got = append(got, audio.Data...)
			}
		}
		if !bytes.Equal(got, data) {
			t.Errorf("size %d: payload mismatch, got %d bytes", size, len(got))
		}
	}
}

func TestStreamZeroByteReadEndsInput(t *testing.T) {
	s := Open(context.Background(), testSessionConfig(), &zeroReadSource{data: []byte{1, 2, 3}}, Pacing{ChunkSize: 2}, logger.NewNop())
	defer s.Close()

	units, err := drain(t, s)
	if err != io.EOF {
		t.Fatalf("Expected io.EOF, got %v", err)
	}
	if len(units) != 3 {
		t.Errorf("Expected config and two audio units, got %d units", len(units))
	}

	// End of input is sticky
	if _, err := s.Next(); err != io.EOF {
		t.Errorf("Expected io.EOF again, got %v", err)
	}
}

func TestStreamSourceReadError(t *testing.T) {
	src := &failingSource{good: 2, err: errMicUnplugged}
	s := Open(context.Background(), testSessionConfig(), src, Pacing{ChunkSize: 100, QueueSize: 8}, logger.NewNop())
	defer s.Close()

	units, err := drain(t, s)

	var sourceErr *SourceReadError
	if !errors.As(err, &sourceErr) {
		t.Fatalf("Expected SourceReadError, got %v", err)
	}
	if !errors.Is(err, errMicUnplugged) {
		t.Errorf("Expected wrapped source error, got %v", err)
	}
	if sourceErr.BytesRead != 200 {
		t.Errorf("Expected 200 bytes read before failure, got %d", sourceErr.BytesRead)
	}
	if len(units) != 3 {
		t.Errorf("Expected no units after the failure, got %d units", len(units))
	}
}

func TestStreamCancelDuringPacingDelay(t *testing.T) {
	interval := 400 * time.Millisecond
	src := &endlessSource{}
	s := Open(context.Background(), testSessionConfig(), src, Pacing{ChunkSize: 64, Interval: interval, QueueSize: 1}, logger.NewNop())

	for i := 0; i < 2; i++ {
		if _, err := s.Next(); err != nil {
			t.Fatalf("Next failed: %v", err)
		}
	}

	// The producer is now sleeping out the pacing delay of the first chunk
	time.Sleep(20 * time.Millisecond)
	start := time.Now()
	s.Close()

	select {
	case <-s.Done():
	case <-time.After(interval):
		t.Fatal("Producer did not stop within one pacing interval")
	}
	if elapsed := time.Since(start); elapsed >= interval {
		t.Errorf("Producer stopped after %v", elapsed)
	}

	if _, err := s.Next(); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled after close, got %v", err)
	}
	if reads := src.reads.Load(); reads != 1 {
		t.Errorf("Expected a single read before cancellation, got %d", reads)
	}
}

func TestStreamKeepAliveFiller(t *testing.T) {
	pacing := Pacing{
		ChunkSize: 100,
		QueueSize: 1,
		KeepAlive: KeepAlive{Enabled: true, ChunkSize: 32, Interval: time.Millisecond},
	}
	s := Open(context.Background(), testSessionConfig(), &bytesSource{data: make([]byte, 150)}, pacing, logger.NewNop())

	var real, filler int
	for filler < 5 {
		unit, err := s.Next()
		if err != nil {
			t.Fatalf("Keep-alive stream ended early: %v", err)
		}
		audio, ok := unit.(stt.AudioUnit)
		if !ok {
			continue
		}
		if audio.Synthetic {
			if len(audio.Data) != 32 {
				t.Errorf("Expected 32-byte filler, got %d", len(audio.Data))
			}
			filler++
		} else {
			if filler > 0 {
				t.Error("Real audio after filler started")
			}
			real++
		}
	}
	if real != 2 {
		t.Errorf("Expected 2 real chunks before filler, got %d", real)
	}

	s.Close()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("Keep-alive producer did not stop after close")
	}
	if _, err := drain(t, s); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestStreamBackpressure(t *testing.T) {
	src := &endlessSource{}
	s := Open(context.Background(), testSessionConfig(), src, Pacing{ChunkSize: 16, QueueSize: 2}, logger.NewNop())
	defer s.Close()

	time.Sleep(50 * time.Millisecond)
	// Config and one chunk fill the queue; the second read blocks on emit
	if reads := src.reads.Load(); reads > 2 {
		t.Fatalf("Producer ran ahead of a full queue: %d reads", reads)
	}

	for i := 0; i < 10; i++ {
		if _, err := s.Next(); err != nil {
			t.Fatalf("Next failed: %v", err)
		}
	}
	time.Sleep(50 * time.Millisecond)
	if reads := src.reads.Load(); reads > 12 {
		t.Errorf("Expected reads bounded by consumption, got %d", reads)
	}
}

func TestStreamParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := Open(ctx, testSessionConfig(), &endlessSource{}, Pacing{ChunkSize: 16, QueueSize: 1, Interval: time.Hour}, logger.NewNop())

	if _, err := s.Next(); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	cancel()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("Producer ignored parent cancellation")
	}
}

func TestPacingFromConfig(t *testing.T) {
	p := PacingFromConfig(config.StreamConfig{
		ChunkSize:       3200,
		PacingMs:        100,
		QueueSize:       16,
		WarmupChunks:    3,
		WarmupChunkSize: 1600,
		WarmupMs:        50,
		KeepAlive:       true,
		KeepAliveSize:   320,
		KeepAliveMs:     10,
	})

	if p.Interval != 100*time.Millisecond || p.ChunkSize != 3200 || p.QueueSize != 16 {
		t.Errorf("Unexpected pacing: %+v", p)
	}
	if p.Warmup != (Warmup{Count: 3, ChunkSize: 1600, Interval: 50 * time.Millisecond}) {
		t.Errorf("Unexpected warm-up: %+v", p.Warmup)
	}
	if p.KeepAlive != (KeepAlive{Enabled: true, ChunkSize: 320, Interval: 10 * time.Millisecond}) {
		t.Errorf("Unexpected keep-alive: %+v", p.KeepAlive)
	}
}
