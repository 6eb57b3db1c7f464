package capture

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"bubblecast/internal/domain"
	"bubblecast/internal/ffmpeg"
	"bubblecast/internal/ports"
)

// Config selects the ffmpeg input devices for each source.
type Config struct {
	Command string

	ScreenFormat string
	ScreenInput  string

	SystemAudioFormat string
	SystemAudioInput  string

	WebcamFormat string
	WebcamInput  string

	MicFormat string
	MicInput  string
	// EchoCancelInput is used instead of MicInput when echo cancellation is requested.
	EchoCancelInput string

	// ProbeTimeout bounds the wait for ffmpeg to report the negotiated video stream.
	ProbeTimeout time.Duration
	StopGrace    time.Duration
}

// Devices implements ports.MediaDevices with one ffmpeg process per source.
type Devices struct {
	cfg Config
}

func NewDevices(cfg Config) *Devices {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.ScreenFormat == "" {
		cfg.ScreenFormat = "x11grab"
	}
	if cfg.ScreenInput == "" {
		cfg.ScreenInput = ":0.0"
	}
	if cfg.SystemAudioFormat == "" {
		cfg.SystemAudioFormat = "pulse"
	}
	if cfg.SystemAudioInput == "" {
		cfg.SystemAudioInput = "default.monitor"
	}
	if cfg.WebcamFormat == "" {
		cfg.WebcamFormat = "v4l2"
	}
	if cfg.WebcamInput == "" {
		cfg.WebcamInput = "/dev/video0"
	}
	if cfg.MicFormat == "" {
		cfg.MicFormat = "pulse"
	}
	if cfg.MicInput == "" {
		cfg.MicInput = "default"
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	return &Devices{cfg: cfg}
}

// GetDisplayMedia starts screen capture. System audio is best effort: when it cannot
// be opened the grant simply carries no audio stream.
func (d *Devices) GetDisplayMedia(ctx context.Context, video ports.VideoConstraints, systemAudio bool) (ports.ScreenGrant, error) {
	args := []string{"-f", d.cfg.ScreenFormat}
	if video.IdealFrameRate > 0 {
		args = append(args, "-framerate", formatRate(video.IdealFrameRate))
	}
	args = append(args, "-i", d.cfg.ScreenInput)
	if video.IdealWidth > 0 && video.IdealHeight > 0 {
		args = append(args, "-vf", fmt.Sprintf(
			"scale=w='min(iw,%d)':h='min(ih,%d)':force_original_aspect_ratio=decrease",
			video.IdealWidth, video.IdealHeight,
		))
	}

	screen, err := d.openVideo(ctx, domain.StreamKindScreen, args)
	if err != nil {
		return ports.ScreenGrant{}, err
	}

	grant := ports.ScreenGrant{Video: screen}
	if systemAudio {
		audio, err := d.openAudio(ctx, domain.StreamKindSystemAudio, []string{
			"-f", d.cfg.SystemAudioFormat,
			"-i", d.cfg.SystemAudioInput,
		}, ports.AudioFormat{SampleRate: 44100, Channels: 2})
		if err == nil {
			grant.SystemAudio = audio
		}
	}
	return grant, nil
}

// GetUserVideo starts webcam capture. The driver may pick a different size than the
// ideal one; Settings reports what it chose.
func (d *Devices) GetUserVideo(ctx context.Context, video ports.VideoConstraints) (ports.VideoStream, error) {
	args := []string{"-f", d.cfg.WebcamFormat}
	if video.IdealFrameRate > 0 {
		args = append(args, "-framerate", formatRate(video.IdealFrameRate))
	}
	if video.IdealWidth > 0 && video.IdealHeight > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", video.IdealWidth, video.IdealHeight))
	}
	args = append(args, "-i", d.cfg.WebcamInput)
	return d.openVideo(ctx, domain.StreamKindWebcam, args)
}

// GetUserAudio starts microphone capture.
func (d *Devices) GetUserAudio(ctx context.Context, audio ports.AudioConstraints) (ports.AudioStream, error) {
	if audio.SampleRate <= 0 {
		audio.SampleRate = 44100
	}
	if audio.Channels <= 0 {
		audio.Channels = 1
	}
	input := d.cfg.MicInput
	if audio.EchoCancellation && d.cfg.EchoCancelInput != "" {
		input = d.cfg.EchoCancelInput
	}
	args := []string{"-f", d.cfg.MicFormat, "-i", input}
	if audio.NoiseSuppression {
		args = append(args, "-af", "afftdn")
	}
	return d.openAudio(ctx, domain.StreamKindMicrophone, args, ports.AudioFormat{
		SampleRate: audio.SampleRate,
		Channels:   audio.Channels,
	})
}

func (d *Devices) openVideo(ctx context.Context, kind domain.StreamKind, input []string) (*videoStream, error) {
	args := append(baseArgs(), input...)
	args = append(args, "-f", "rawvideo", "-pix_fmt", "rgba", "-")

	proc, err := ffmpeg.Start(context.WithoutCancel(ctx), ffmpeg.Options{
		Command:   d.cfg.Command,
		Args:      args,
		StopGrace: d.cfg.StopGrace,
	})
	if err != nil {
		return nil, classify(kind, err)
	}

	info, err := proc.OutputVideo(d.cfg.ProbeTimeout)
	if err != nil {
		_ = proc.Stop()
		return nil, &domain.AcquisitionError{Source: kind, Kind: domain.ErrNoVideoTrack, Detail: lastLine(proc.Stderr())}
	}

	return newVideoStream(kind, proc, ports.VideoSettings{
		Width:     info.Width,
		Height:    info.Height,
		FrameRate: info.FrameRate,
	}), nil
}

func (d *Devices) openAudio(ctx context.Context, kind domain.StreamKind, input []string, format ports.AudioFormat) (*audioStream, error) {
	args := append(baseArgs(), input...)
	args = append(args,
		"-ac", strconv.Itoa(format.Channels),
		"-ar", strconv.Itoa(format.SampleRate),
		"-f", "s16le",
		"-",
	)

	proc, err := ffmpeg.Start(context.WithoutCancel(ctx), ffmpeg.Options{
		Command:   d.cfg.Command,
		Args:      args,
		StopGrace: d.cfg.StopGrace,
	})
	if err != nil {
		return nil, classify(kind, err)
	}
	return newAudioStream(kind, proc, format), nil
}

func baseArgs() []string {
	return []string{"-nostdin", "-hide_banner", "-nostats", "-loglevel", "info"}
}

func formatRate(rate float64) string {
	return strconv.FormatFloat(rate, 'f', -1, 64)
}
