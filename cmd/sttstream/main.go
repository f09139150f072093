package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/yegors/sttstream/internal/audio"
	"github.com/yegors/sttstream/internal/auth"
	"github.com/yegors/sttstream/internal/config"
	"github.com/yegors/sttstream/internal/debugsrv"
	"github.com/yegors/sttstream/internal/metrics"
	"github.com/yegors/sttstream/internal/session"
	"github.com/yegors/sttstream/internal/stt"
	"github.com/yegors/sttstream/internal/transport"
	"github.com/yegors/sttstream/internal/websocket"
	"github.com/yegors/sttstream/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		os.Exit(runToken(os.Args[2:]))
	}
	os.Exit(runSession(os.Args[1:]))
}

// loadConfig loads and validates configuration with fallback logic
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadWithFallback(path)
	if err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// runToken prints a freshly issued token
func runToken(args []string) int {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	creds, err := cfg.LoadCredentials()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading credentials: %v\n", err)
		return 1
	}

	token, err := auth.NewIssuer(creds, auth.ClaimsFromConfig(cfg.Auth)).Issue()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error issuing token: %v\n", err)
		return 1
	}

	fmt.Printf("JWT=%s\n", token.Signed)
	fmt.Fprintf(os.Stderr, "expires %s\n", token.Expiry.Format(time.RFC3339))
	return 0
}

func runSession(args []string) int {
	fs := flag.NewFlagSet("sttstream", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	sourceArg := fs.String("source", "", "Audio source: a file path, ws://... or ffmpeg:<input>")
	debugAddr := fs.String("debug-addr", "", "Listen address for /metrics and /healthz (overrides config)")
	fs.Parse(args)

	if *sourceArg == "" {
		fmt.Fprintln(os.Stderr, "Error: -source is required")
		fs.Usage()
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *debugAddr != "" {
		cfg.Debug.ListenAddr = *debugAddr
	}

	// Create logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	log.Info("Starting sttstream",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
		logger.String("endpoint", cfg.Endpoint.Address),
	)

	creds, err := cfg.LoadCredentials()
	if err != nil {
		log.Error("Failed to load credentials", logger.Error(err))
		return 1
	}

	sessionCfg, err := stt.SessionConfigFromConfig(cfg.Recognition)
	if err != nil {
		log.Error("Invalid recognition config", logger.Error(err))
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	src, live, err := openSource(ctx, *sourceArg, cfg, log)
	if err != nil {
		log.Error("Failed to open audio source", logger.String("source", *sourceArg), logger.Error(err))
		return 1
	}
	defer src.Close()

	pacing := session.PacingFromConfig(cfg.Stream)
	if live {
		// Live sources arrive in real time
		pacing.Interval = 0
	}

	m := metrics.NewMetrics()
	var recorder session.Recorder = m
	if cfg.Debug.ListenAddr != "" {
		feed := websocket.NewServer(log)
		go feed.Run(ctx)
		recorder = session.Recorders(m, feed)

		srv := debugsrv.New(cfg.Debug.ListenAddr, m.Registry(), func() map[string]any {
			return map[string]any{
				"version":      Version,
				"state":        m.State().String(),
				"live_clients": feed.ClientCount(),
			}
		}, http.HandlerFunc(feed.HandleConnection), log)
		if _, err := srv.Start(); err != nil {
			log.Error("Failed to start debug HTTP server", logger.Error(err))
			return 1
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("Debug HTTP server shutdown error", logger.Error(err))
			}
		}()
	}

	orchestrator := session.NewOrchestrator(
		auth.NewIssuer(creds, auth.ClaimsFromConfig(cfg.Auth)),
		transport.NewDialer(cfg.Endpoint, log),
		session.Options{
			Config:   sessionCfg,
			Pacing:   pacing,
			Policy:   session.PolicyFromConfig(cfg.NoInput),
			Recorder: recorder,
		},
		log,
	)

	outcome, err := orchestrator.Run(ctx, src)
	for _, line := range outcome.Transcript {
		fmt.Println(line)
	}

	if err != nil {
		log.Error("Session failed",
			logger.String("session_id", outcome.SessionID),
			logger.Bool("retryable", session.Retryable(err)),
			logger.Error(err))
		return 1
	}

	log.Info("Session finished",
		logger.String("session_id", outcome.SessionID),
		logger.String("reason", string(outcome.Reason)),
		logger.Int("units_sent", outcome.UnitsSent),
		logger.Int("events_received", outcome.EventsReceived),
		logger.Duration("duration", outcome.Duration))
	return 0
}

// openSource resolves the -source argument. Live sources report live=true.
func openSource(ctx context.Context, arg string, cfg *config.Config, log *logger.Logger) (sourceCloser, bool, error) {
	switch {
	case strings.HasPrefix(arg, "ws://"), strings.HasPrefix(arg, "wss://"):
		ws, err := audio.DialWebSocket(ctx, arg, nil, log)
		if err != nil {
			return nil, true, err
		}
		return ws, true, nil

	case strings.HasPrefix(arg, "ffmpeg:"):
		ff, err := audio.StartFFmpeg(ctx, audio.FFmpegConfig{
			Input:       strings.TrimPrefix(arg, "ffmpeg:"),
			SampleRate:  cfg.Recognition.SampleRateHz,
			Channels:    cfg.Recognition.NumChannels,
			TimeoutSecs: 10,
		}, log)
		if err != nil {
			return nil, true, err
		}
		return ff, true, nil

	default:
		file, err := audio.OpenFile(arg)
		if err != nil {
			return nil, false, err
		}
		if format := file.Format(); format != nil && int(format.SampleRate) != cfg.Recognition.SampleRateHz {
			log.Warn("WAV sample rate differs from the configured rate",
				logger.Int("wav_sample_rate", int(format.SampleRate)),
				logger.Int("configured_sample_rate", cfg.Recognition.SampleRateHz))
		}
		return file, false, nil
	}
}

type sourceCloser interface {
	audio.Source
	io.Closer
}
