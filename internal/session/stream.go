// Package session drives a single streaming recognition session: it paces
// audio out to the service, inspects inbound results and decides when the
// session ends.
package session

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/yegors/sttstream/internal/audio"
	"github.com/yegors/sttstream/internal/config"
	"github.com/yegors/sttstream/internal/stt"
	"github.com/yegors/sttstream/pkg/logger"
)

// Warmup emits Count zero-filled units of ChunkSize bytes, Interval apart,
// before any real audio. Count 0 disables warm-up.
type Warmup struct {
	Count     int
	ChunkSize int
	Interval  time.Duration
}

// KeepAlive emits zero-filled filler every Interval once the source is
// exhausted, until the stream is cancelled.
type KeepAlive struct {
	Enabled   bool
	ChunkSize int
	Interval  time.Duration
}

// Pacing controls how a Stream reads and emits audio
type Pacing struct {
	ChunkSize int           // Bytes pulled from the source per read
	Interval  time.Duration // Delay after each emitted chunk (0 for live sources)
	QueueSize int           // Capacity of the hand-off queue
	Warmup    Warmup
	KeepAlive KeepAlive
}

// PacingFromConfig converts the stream section of the config
func PacingFromConfig(sc config.StreamConfig) Pacing {
	return Pacing{
		ChunkSize: sc.ChunkSize,
		Interval:  time.Duration(sc.PacingMs) * time.Millisecond,
		QueueSize: sc.QueueSize,
		Warmup: Warmup{
			Count:     sc.WarmupChunks,
			ChunkSize: sc.WarmupChunkSize,
			Interval:  time.Duration(sc.WarmupMs) * time.Millisecond,
		},
		KeepAlive: KeepAlive{
			Enabled:   sc.KeepAlive,
			ChunkSize: sc.KeepAliveSize,
			Interval:  time.Duration(sc.KeepAliveMs) * time.Millisecond,
		},
	}
}

// Stream is the ordered outbound sequence of request units for one session.
// A producer goroutine pulls from the source and hands units over through a
// bounded queue; a full queue suspends the producer.
type Stream struct {
	units  chan stt.RequestUnit
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	logger *logger.Logger

	// err is written before units is closed
	err error
}

// Open starts producing the stream. The first unit is always the session
// config.
func Open(ctx context.Context, cfg stt.SessionConfig, src audio.Source, pacing Pacing, log *logger.Logger) *Stream {
	if pacing.ChunkSize <= 0 {
		pacing.ChunkSize = 3200
	}
	if pacing.QueueSize <= 0 {
		pacing.QueueSize = 1
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s := &Stream{
		units:  make(chan stt.RequestUnit, pacing.QueueSize),
		done:   make(chan struct{}),
		ctx:    streamCtx,
		cancel: cancel,
		logger: log.Named("stream"),
	}

	go s.produce(cfg, src, pacing)
	return s
}

// Next returns the next unit. It returns io.EOF at the end of input, a
// *SourceReadError if the source failed, or the context error once the
// stream is cancelled.
func (s *Stream) Next() (stt.RequestUnit, error) {
	select {
	case unit, ok := <-s.units:
		if !ok {
			return nil, s.err
		}
		return unit, nil
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
}

// Close cancels production. It does not wait for a source read that is
// already blocked; use Done for that.
func (s *Stream) Close() {
	s.cancel()
}

// Done is closed once the producer has stopped
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

func (s *Stream) produce(cfg stt.SessionConfig, src audio.Source, pacing Pacing) {
	defer close(s.done)

	err := s.run(cfg, src, pacing)
	switch {
	case err == io.EOF:
		s.logger.Debug("Audio source exhausted")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.logger.Debug("Stream production cancelled")
	default:
		s.logger.Warn("Stream production failed", logger.Error(err))
	}

	s.err = err
	close(s.units)
}

func (s *Stream) run(cfg stt.SessionConfig, src audio.Source, pacing Pacing) error {
	if !s.emit(stt.EncodeConfig(cfg)) {
		return s.ctx.Err()
	}

	for i := 0; i < pacing.Warmup.Count; i++ {
		if !s.emit(stt.Silence(pacing.Warmup.ChunkSize)) || !s.wait(pacing.Warmup.Interval) {
			return s.ctx.Err()
		}
	}

	var total int64
	buf := make([]byte, pacing.ChunkSize)
	for {
		if err := s.ctx.Err(); err != nil {
			return err
		}

		n, err := src.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			total += int64(n)

			if !s.emit(stt.EncodeAudio(chunk)) || !s.wait(pacing.Interval) {
				return s.ctx.Err()
			}
		}

		if err == io.EOF || (n == 0 && err == nil) {
			break
		}
		if err != nil {
			return &SourceReadError{BytesRead: total, Err: err}
		}
	}

	s.logger.Debug("Source drained", logger.Int64("bytes", total))

	if !pacing.KeepAlive.Enabled {
		return io.EOF
	}

	for {
		if !s.wait(pacing.KeepAlive.Interval) || !s.emit(stt.Silence(pacing.KeepAlive.ChunkSize)) {
			return s.ctx.Err()
		}
	}
}

// emit blocks until the unit is queued or the stream is cancelled
func (s *Stream) emit(unit stt.RequestUnit) bool {
	select {
	case s.units <- unit:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// wait sleeps for d unless the stream is cancelled first
func (s *Stream) wait(d time.Duration) bool {
	if d <= 0 {
		return s.ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}
