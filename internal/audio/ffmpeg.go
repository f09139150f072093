package audio

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/yegors/sttstream/pkg/logger"
)

// FFmpegConfig contains settings for decoding a live input to raw PCM
type FFmpegConfig struct {
	FFmpegPath     string // Path to the ffmpeg executable
	Input          string // Input URL or device (http://, srt://, alsa device, ...)
	InputFormat    string // Optional demuxer for the input (e.g., "alsa", "pulse")
	SampleRate     int
	Channels       int
	TimeoutSecs    int // Network input timeout in seconds (0 = no timeout)
	ReconnectDelay int // Max reconnect delay in seconds for HTTP inputs
}

// FFmpegSource is a live capture source backed by an ffmpeg process
// writing signed 16-bit little-endian PCM to its stdout.
type FFmpegSource struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	cancel context.CancelFunc
	logger *logger.Logger

	closeOnce sync.Once
}

// buildFFmpegArgs returns the ffmpeg arguments for the given input
func buildFFmpegArgs(cfg FFmpegConfig) []string {
	args := []string{
		"-loglevel", "error", // Minimal logging
		"-fflags", "nobuffer", // Disable input buffering
		"-flags", "low_delay", // Enable low delay mode
	}

	isHTTP := strings.HasPrefix(cfg.Input, "http://") || strings.HasPrefix(cfg.Input, "https://")

	if isHTTP {
		if cfg.TimeoutSecs > 0 {
			args = append(args, "-timeout", fmt.Sprintf("%d", cfg.TimeoutSecs*1000000))
		}
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", fmt.Sprintf("%d", cfg.ReconnectDelay),
		)
	}

	if cfg.InputFormat != "" {
		args = append(args, "-f", cfg.InputFormat)
	}

	args = append(args,
		"-i", cfg.Input,
		"-f", "s16le", // Raw PCM output
		"-acodec", "pcm_s16le",
		"-ac", fmt.Sprintf("%d", cfg.Channels),
		"-ar", fmt.Sprintf("%d", cfg.SampleRate),
		"-flush_packets", "1", // Flush packets immediately
		"pipe:1",
	)
	return args
}

// StartFFmpeg starts an ffmpeg process decoding cfg.Input
func StartFFmpeg(ctx context.Context, cfg FFmpegConfig, log *logger.Logger) (*FFmpegSource, error) {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2
	}

	procCtx, cancel := context.WithCancel(ctx)
	args := buildFFmpegArgs(cfg)
	cmd := exec.CommandContext(procCtx, cfg.FFmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	log = log.Named("ffmpeg")
	log.Info("Started ffmpeg capture",
		logger.String("input", cfg.Input),
		logger.Int("sample_rate", cfg.SampleRate),
		logger.Int("channels", cfg.Channels))

	return &FFmpegSource{
		cmd:    cmd,
		stdout: stdout,
		cancel: cancel,
		logger: log,
	}, nil
}

// Read implements Source. ffmpeg closing its stdout ends the source.
func (s *FFmpegSource) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// Close stops the ffmpeg process
func (s *FFmpegSource) Close() error {
	s.closeOnce.Do(func() {
		s.logger.Debug("Stopping ffmpeg process")
		s.cancel()
		// Exit status is non-zero after a kill
		_ = s.cmd.Wait()
	})
	return nil
}
