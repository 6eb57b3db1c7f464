package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"bubblecast/internal/auth"
	"bubblecast/internal/capture"
	"bubblecast/internal/config"
	"bubblecast/internal/encoder"
	"bubblecast/internal/localserver"
	"bubblecast/internal/logger"
	"bubblecast/internal/metrics"
	"bubblecast/internal/ports"
	"bubblecast/internal/slug"
	"bubblecast/internal/upload"
	"bubblecast/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.RecordingController
	Server     *localserver.Server
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Config     config.Config
}

// Build wires all backend dependencies. Events go to eventSink and to the
// loopback websocket hub. Nothing is started.
func Build(eventSink ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if cfg.EnvFile != "" {
		log.Debug("loaded env file", "path", cfg.EnvFile)
	}

	rewriter, err := slug.LoadRewriter(cfg.Slugs.RulesPath, cfg.Slugs.PassLimit)
	if err != nil {
		return Services{}, err
	}
	tokens, err := tokenProvider(cfg.Auth)
	if err != nil {
		return Services{}, err
	}

	met := metrics.New()
	hub := localserver.NewHub(log)
	server := localserver.New(localserver.Config{Addr: cfg.Server.Addr}, hub, met, log)

	events := fanout{hub}
	if eventSink != nil {
		events = fanout{eventSink, hub}
	}

	devices := capture.NewDevices(capture.Config{
		Command:           cfg.Devices.FFmpegCommand,
		ScreenFormat:      cfg.Devices.ScreenFormat,
		ScreenInput:       cfg.Devices.ScreenInput,
		SystemAudioFormat: cfg.Devices.SystemAudioFormat,
		SystemAudioInput:  cfg.Devices.SystemAudioInput,
		WebcamFormat:      cfg.Devices.WebcamFormat,
		WebcamInput:       cfg.Devices.WebcamInput,
		MicFormat:         cfg.Devices.MicFormat,
		MicInput:          cfg.Devices.MicInput,
		EchoCancelInput:   cfg.Devices.EchoCancelInput,
		ProbeTimeout:      cfg.Devices.ProbeTimeout,
		StopGrace:         cfg.Encoding.StopGrace,
	})
	encoders := encoder.NewFactory(encoder.Config{
		Command:            cfg.Devices.FFmpegCommand,
		ProbeTimeout:       cfg.Devices.ProbeTimeout,
		AudioBitsPerSecond: cfg.Encoding.AudioBitsPerSecond,
		Logger:             log,
	})
	uploader := upload.NewClient(upload.Config{
		APIBaseURL: cfg.Upload.APIBaseURL,
		Timeout:    cfg.Upload.Timeout,
		Progress:   events.UploadProgress,
		Logger:     log,
	}, tokens, nil)

	controller := usecase.NewRecordingController(usecase.Dependencies{
		Devices:   devices,
		Encoders:  encoders,
		Uploader:  uploader,
		Publisher: server,
		Slugs:     slug.NewNormalizer(rewriter, cfg.Slugs.Reserved...),
		Events:    events,
		Metrics:   met,
		Logger:    log,
	}, usecase.Config{
		Acquirer: usecase.AcquirerConfig{
			Screen: ports.VideoConstraints{
				IdealWidth:     cfg.Capture.ScreenWidth,
				IdealHeight:    cfg.Capture.ScreenHeight,
				IdealFrameRate: cfg.Capture.ScreenFrameRate,
			},
			Webcam: ports.VideoConstraints{
				IdealWidth:     cfg.Capture.WebcamWidth,
				IdealHeight:    cfg.Capture.WebcamHeight,
				IdealFrameRate: cfg.Capture.WebcamFrameRate,
			},
			Microphone: ports.AudioConstraints{
				SampleRate:       cfg.Capture.MicSampleRate,
				Channels:         cfg.Capture.MicChannels,
				EchoCancellation: cfg.Capture.EchoCancellation,
				NoiseSuppression: cfg.Capture.NoiseSuppression,
			},
			SystemAudio: cfg.Capture.SystemAudio,
		},
		RenderRate:         cfg.Encoding.RenderFrameRate,
		VideoBitsPerSecond: cfg.Encoding.VideoBitsPerSecond,
		Timeslice:          cfg.Encoding.Timeslice,
		AudioChunkSize:     cfg.Encoding.AudioChunkSize,
		StopGrace:          cfg.Encoding.StopGrace,
		StopTimeout:        cfg.Encoding.StopTimeout,
	})

	return Services{
		Controller: controller,
		Server:     server,
		Metrics:    met,
		Logger:     log,
		Config:     cfg,
	}, nil
}

// Start brings up the loopback server.
func (s Services) Start() error {
	return s.Server.Start()
}

// Close tears down the recorder before the server so the final events still
// reach websocket clients.
func (s Services) Close(ctx context.Context) error {
	s.Controller.Shutdown(ctx)
	if err := s.Server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func tokenProvider(cfg config.AuthConfig) (ports.TokenProvider, error) {
	if cfg.Token != "" || cfg.SigningKey == "" {
		return auth.StaticToken(cfg.Token), nil
	}
	return auth.NewSigner(auth.SignerConfig{
		Secret:  cfg.SigningKey,
		Subject: cfg.TokenSubject,
		Email:   cfg.TokenEmail,
		TTL:     cfg.TokenTTL,
	})
}
