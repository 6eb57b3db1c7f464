package encoder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"bubblecast/internal/domain"
	"bubblecast/internal/ffmpeg"
	"bubblecast/internal/ports"
)

// Config configures the ffmpeg encoder factory.
type Config struct {
	Command string
	// Encoders overrides the probed `ffmpeg -encoders` table.
	Encoders     map[string]bool
	ProbeTimeout time.Duration
	// AudioBitsPerSecond applies to every profile with an audio codec.
	AudioBitsPerSecond int
	Logger             *slog.Logger
}

// Factory implements ports.EncoderFactory.
type Factory struct {
	cfg Config

	probeOnce sync.Once
	encoders  map[string]bool
}

func NewFactory(cfg Config) *Factory {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.AudioBitsPerSecond <= 0 {
		cfg.AudioBitsPerSecond = 128000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Factory{cfg: cfg}
}

// IsTypeSupported reports whether this ffmpeg build can produce mimeType.
func (f *Factory) IsTypeSupported(mimeType string) bool {
	profile, ok := Lookup(mimeType)
	if !ok {
		return false
	}
	return profile.supported(f.availableEncoders())
}

func (f *Factory) availableEncoders() map[string]bool {
	f.probeOnce.Do(func() {
		if f.cfg.Encoders != nil {
			f.encoders = f.cfg.Encoders
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), f.cfg.ProbeTimeout)
		defer cancel()
		encoders, err := ffmpeg.Encoders(ctx, f.cfg.Command)
		if err != nil {
			f.cfg.Logger.Warn("encoder probe failed", "error", err)
			encoders = map[string]bool{}
		}
		f.encoders = encoders
	})
	return f.encoders
}

// NewEncoder starts an ffmpeg process reading raw RGBA frames on stdin and one
// s16le track per audio input on fd 3 onwards.
func (f *Factory) NewEncoder(ctx context.Context, cfg ports.EncoderConfig) (ports.Encoder, error) {
	profile, ok := Lookup(cfg.MimeType)
	if !ok || !profile.supported(f.availableEncoders()) {
		return nil, fmt.Errorf("%w: %s", domain.ErrEncodingUnsupported, cfg.MimeType)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid encoder surface %dx%d", cfg.Width, cfg.Height)
	}

	readers := make([]*os.File, 0, len(cfg.Audio))
	writers := make([]*os.File, 0, len(cfg.Audio))
	closeAll := func(files []*os.File) {
		for _, file := range files {
			_ = file.Close()
		}
	}
	for range cfg.Audio {
		r, w, err := os.Pipe()
		if err != nil {
			closeAll(readers)
			closeAll(writers)
			return nil, fmt.Errorf("failed to create audio pipe: %w", err)
		}
		readers = append(readers, r)
		writers = append(writers, w)
	}

	out := &chunkBuffer{}
	proc, err := ffmpeg.Start(context.WithoutCancel(ctx), ffmpeg.Options{
		Command:    f.cfg.Command,
		Args:       buildArgs(profile, cfg, f.cfg.AudioBitsPerSecond),
		Stdin:      true,
		Stdout:     out,
		ExtraFiles: readers,
	})
	// The child holds its own copies of the read ends.
	closeAll(readers)
	if err != nil {
		closeAll(writers)
		return nil, fmt.Errorf("%w: %v", domain.ErrEncodingUnsupported, err)
	}

	f.cfg.Logger.Info("encoder started",
		"mime_type", profile.MimeType,
		"width", cfg.Width,
		"height", cfg.Height,
		"audio_tracks", len(cfg.Audio),
	)
	return newEncoder(proc, out, cfg, writers), nil
}

func buildArgs(profile Profile, cfg ports.EncoderConfig, audioBitrate int) []string {
	rate := cfg.FrameRate
	if rate <= 0 {
		rate = 30
	}
	args := []string{
		"-hide_banner", "-nostats", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-framerate", strconv.FormatFloat(rate, 'f', -1, 64),
		"-use_wallclock_as_timestamps", "1",
		"-i", "pipe:0",
	}
	for i, format := range cfg.Audio {
		args = append(args,
			"-f", "s16le",
			"-ar", strconv.Itoa(format.SampleRate),
			"-ac", strconv.Itoa(format.Channels),
			"-use_wallclock_as_timestamps", "1",
			"-i", fmt.Sprintf("pipe:%d", 3+i),
		)
	}

	args = append(args, "-map", "0:v")
	switch len(cfg.Audio) {
	case 0:
	case 1:
		args = append(args, "-map", "1:a")
	default:
		inputs := ""
		for i := range cfg.Audio {
			inputs += fmt.Sprintf("[%d:a]", i+1)
		}
		args = append(args,
			"-filter_complex", fmt.Sprintf("%samix=inputs=%d:duration=longest[aout]", inputs, len(cfg.Audio)),
			"-map", "[aout]",
		)
	}

	if profile.VideoCodec != "" {
		args = append(args, "-c:v", profile.VideoCodec, "-deadline", "realtime", "-cpu-used", "8")
	}
	if cfg.VideoBitsPerSecond > 0 {
		args = append(args, "-b:v", strconv.Itoa(cfg.VideoBitsPerSecond))
	}
	args = append(args, "-pix_fmt", "yuv420p")
	if len(cfg.Audio) > 0 {
		if profile.AudioCodec != "" {
			args = append(args, "-c:a", profile.AudioCodec)
		}
		args = append(args, "-b:a", strconv.Itoa(audioBitrate))
	}
	return append(args, "-f", "webm", "pipe:1")
}

var _ ports.EncoderFactory = (*Factory)(nil)
