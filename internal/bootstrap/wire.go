package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"liveline/internal/audio"
	"liveline/internal/capture"
	"liveline/internal/config"
	"liveline/internal/domain"
	"liveline/internal/journal"
	"liveline/internal/ports"
	"liveline/internal/providers/gemini"
	"liveline/internal/telemetry"
	"liveline/internal/usecase"
	"liveline/internal/video"
)

// Version is reported as the telemetry service version.
var Version = "dev"

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.LiveController
	Config     config.Config
	// Journal is nil when persistence is disabled.
	Journal *journal.SQLite

	closers []func(context.Context) error
}

// Close stops the current session and releases logging, telemetry and storage.
func (s Services) Close(ctx context.Context) error {
	var errs []error
	if s.Controller != nil {
		if err := s.Controller.StopWithReason(ctx, domain.SessionReasonApplicationClose); err != nil {
			errs = append(errs, fmt.Errorf("stop live session: %w", err))
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build wires all backend dependencies for the current runtime. Entries are
// appended to conversation and, when enabled, the on-disk journal.
func Build(ctx context.Context, eventSink ports.EventSink, conversation ports.ConversationLog) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	services := Services{Config: cfg}
	fail := func(err error) (Services, error) {
		_ = services.Close(context.WithoutCancel(ctx))
		return Services{}, err
	}

	logFile, err := telemetry.InitLogger(telemetry.LogConfig{
		Level:   cfg.Logging.Level,
		Dir:     cfg.Logging.Dir,
		Console: cfg.Logging.Console,
	})
	if err != nil {
		return fail(err)
	}
	services.closers = append(services.closers, closeWith(logFile))

	shutdownTelemetry, err := telemetry.InitTelemetry(ctx, telemetry.TelemetryConfig{
		Dir:            cfg.Logging.Dir,
		ServiceVersion: Version,
	})
	if err != nil {
		return fail(err)
	}
	services.closers = append(services.closers, shutdownTelemetry)

	logs := journal.Tee{conversation}
	if cfg.Storage.JournalPath != "" {
		store, err := journal.OpenSQLite(cfg.Storage.JournalPath)
		if err != nil {
			return fail(err)
		}
		services.Journal = store
		services.closers = append(services.closers, closeWith(store))
		logs = append(logs, store)
	}

	var recorders ports.RecorderFactory
	if cfg.Storage.RecordSessions {
		recorders = audio.NewWavRecorderFactory(cfg.Storage.RecordingsDir)
	}

	services.Controller = usecase.NewLiveController(
		usecase.LiveDeps{
			Capture: capture.NewDevices(
				capture.MicrophoneConfig{
					Command:     cfg.Audio.FFmpegCommand,
					InputFormat: cfg.Audio.InputFormat,
					InputDevice: cfg.Audio.InputDevice,
				},
				capture.CameraConfig{
					Command:     cfg.Audio.FFmpegCommand,
					InputFormat: cfg.Video.InputFormat,
					InputDevice: cfg.Video.InputDevice,
					Width:       cfg.Video.Width,
					Height:      cfg.Video.Height,
					FrameRate:   cfg.Video.FrameRate,
				},
			),
			AudioContexts: audio.NewContextFactory(audio.NewPlayer(cfg.Audio.PlayerCommand)),
			Channels: gemini.NewProvider(gemini.Config{
				APIKey:            cfg.Gemini.APIKey,
				APIBaseURL:        cfg.Gemini.APIBaseURL,
				Model:             cfg.Gemini.Model,
				Voice:             cfg.Gemini.Voice,
				SystemInstruction: cfg.Gemini.SystemInstruction,
			}),
			Frames:       video.NewJPEGEncoder(cfg.Video.JPEGQuality),
			Conversation: logs,
			Events:       eventSink,
			Recorders:    recorders,
		},
		usecase.Config{
			BlockSize:     cfg.Session.BlockSize,
			FrameInterval: cfg.Session.FrameInterval,
			PreOpenQueue:  cfg.Session.PreOpenQueue,
		},
	)

	log.Info().
		Str("model", cfg.Gemini.Model).
		Str("config", cfg.Path).
		Str("journal", cfg.Storage.JournalPath).
		Bool("recording", cfg.Storage.RecordSessions).
		Msg("liveline services ready")

	return services, nil
}

func closeWith(c io.Closer) func(context.Context) error {
	return func(context.Context) error {
		return c.Close()
	}
}
