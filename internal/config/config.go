package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores runtime configuration for the recorder.
type Config struct {
	Capture  CaptureConfig
	Devices  DevicesConfig
	Encoding EncodingConfig
	Upload   UploadConfig
	Auth     AuthConfig
	Server   ServerConfig
	Logging  LoggingConfig
	Slugs    SlugConfig
	// EnvFile is the dotenv file that was loaded, if any.
	EnvFile string
}

// CaptureConfig holds the ideal constraints requested from the devices.
type CaptureConfig struct {
	ScreenWidth      int
	ScreenHeight     int
	ScreenFrameRate  float64
	WebcamWidth      int
	WebcamHeight     int
	WebcamFrameRate  float64
	MicSampleRate    int
	MicChannels      int
	EchoCancellation bool
	NoiseSuppression bool
	SystemAudio      bool
}

// DevicesConfig selects the ffmpeg input devices.
type DevicesConfig struct {
	FFmpegCommand     string
	ScreenFormat      string
	ScreenInput       string
	SystemAudioFormat string
	SystemAudioInput  string
	WebcamFormat      string
	WebcamInput       string
	MicFormat         string
	MicInput          string
	EchoCancelInput   string
	ProbeTimeout      time.Duration
}

type EncodingConfig struct {
	RenderFrameRate    float64
	VideoBitsPerSecond int
	AudioBitsPerSecond int
	Timeslice          time.Duration
	AudioChunkSize     int
	StopGrace          time.Duration
	StopTimeout        time.Duration
}

type UploadConfig struct {
	APIBaseURL string
	Timeout    time.Duration
}

// AuthConfig picks the bearer token source. A static token wins over signing.
type AuthConfig struct {
	Token        string
	SigningKey   string
	TokenSubject string
	TokenEmail   string
	TokenTTL     time.Duration
}

type ServerConfig struct {
	Addr string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type SlugConfig struct {
	RulesPath string
	PassLimit int
	Reserved  []string
}

// Load reads an optional dotenv file, then resolves configuration from
// environment variables and defaults. Variables already set in the
// environment win over the file.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}
	configDir := filepath.Join(home, ".config", "bubblecast")

	envFile := strings.TrimSpace(os.Getenv("BUBBLECAST_ENV_FILE"))
	if envFile == "" {
		envFile = firstExisting(".env", filepath.Join(configDir, "bubblecast.env"))
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("failed to load env file %q: %w", envFile, err)
			}
			envFile = ""
		}
	}

	cfg := Config{
		Capture: CaptureConfig{
			ScreenWidth:      envOrDefaultInt("BUBBLECAST_SCREEN_WIDTH", 3840),
			ScreenHeight:     envOrDefaultInt("BUBBLECAST_SCREEN_HEIGHT", 2160),
			ScreenFrameRate:  envOrDefaultFloat("BUBBLECAST_SCREEN_FPS", 60),
			WebcamWidth:      envOrDefaultInt("BUBBLECAST_WEBCAM_WIDTH", 1920),
			WebcamHeight:     envOrDefaultInt("BUBBLECAST_WEBCAM_HEIGHT", 1080),
			WebcamFrameRate:  envOrDefaultFloat("BUBBLECAST_WEBCAM_FPS", 30),
			MicSampleRate:    envOrDefaultInt("BUBBLECAST_MIC_SAMPLE_RATE", 44100),
			MicChannels:      envOrDefaultInt("BUBBLECAST_MIC_CHANNELS", 1),
			EchoCancellation: envOrDefaultBool("BUBBLECAST_ECHO_CANCELLATION", true),
			NoiseSuppression: envOrDefaultBool("BUBBLECAST_NOISE_SUPPRESSION", true),
			SystemAudio:      envOrDefaultBool("BUBBLECAST_SYSTEM_AUDIO", true),
		},
		Devices: DevicesConfig{
			FFmpegCommand:     envOrDefault("BUBBLECAST_FFMPEG_COMMAND", "ffmpeg"),
			ScreenFormat:      envOrDefault("BUBBLECAST_SCREEN_FORMAT", "x11grab"),
			ScreenInput:       firstNonEmpty(os.Getenv("BUBBLECAST_SCREEN_INPUT"), displayInput(os.Getenv("DISPLAY"))),
			SystemAudioFormat: envOrDefault("BUBBLECAST_SYSTEM_AUDIO_FORMAT", "pulse"),
			SystemAudioInput:  envOrDefault("BUBBLECAST_SYSTEM_AUDIO_INPUT", "default.monitor"),
			WebcamFormat:      envOrDefault("BUBBLECAST_WEBCAM_FORMAT", "v4l2"),
			WebcamInput:       envOrDefault("BUBBLECAST_WEBCAM_INPUT", "/dev/video0"),
			MicFormat:         envOrDefault("BUBBLECAST_MIC_FORMAT", "pulse"),
			MicInput:          envOrDefault("BUBBLECAST_MIC_INPUT", "default"),
			EchoCancelInput:   strings.TrimSpace(os.Getenv("BUBBLECAST_MIC_ECHO_CANCEL_INPUT")),
			ProbeTimeout:      envOrDefaultMillis("BUBBLECAST_PROBE_TIMEOUT_MS", 5*time.Second),
		},
		Encoding: EncodingConfig{
			RenderFrameRate:    envOrDefaultFloat("BUBBLECAST_RENDER_FPS", 60),
			VideoBitsPerSecond: envOrDefaultInt("BUBBLECAST_VIDEO_BITRATE", 8_000_000),
			AudioBitsPerSecond: envOrDefaultInt("BUBBLECAST_AUDIO_BITRATE", 128_000),
			Timeslice:          envOrDefaultMillis("BUBBLECAST_TIMESLICE_MS", time.Second),
			AudioChunkSize:     envOrDefaultInt("BUBBLECAST_AUDIO_CHUNK_SIZE", 4096),
			StopGrace:          envOrDefaultMillis("BUBBLECAST_STOP_GRACE_MS", 200*time.Millisecond),
			StopTimeout:        envOrDefaultMillis("BUBBLECAST_STOP_TIMEOUT_MS", 4*time.Second),
		},
		Upload: UploadConfig{
			APIBaseURL: strings.TrimRight(firstNonEmpty(os.Getenv("BUBBLECAST_API_URL"), os.Getenv("VITE_API_URL"), "http://localhost:3003"), "/"),
			Timeout:    time.Duration(envOrDefaultInt("BUBBLECAST_UPLOAD_TIMEOUT_S", 600)) * time.Second,
		},
		Auth: AuthConfig{
			Token:        strings.TrimSpace(os.Getenv("BUBBLECAST_API_TOKEN")),
			SigningKey:   strings.TrimSpace(os.Getenv("BUBBLECAST_TOKEN_SECRET")),
			TokenSubject: strings.TrimSpace(os.Getenv("BUBBLECAST_TOKEN_SUBJECT")),
			TokenEmail:   strings.TrimSpace(os.Getenv("BUBBLECAST_TOKEN_EMAIL")),
			TokenTTL:     time.Duration(envOrDefaultInt("BUBBLECAST_TOKEN_TTL_MIN", 60)) * time.Minute,
		},
		Server: ServerConfig{
			Addr: envOrDefault("BUBBLECAST_SERVER_ADDR", "127.0.0.1:3939"),
		},
		Logging: LoggingConfig{
			Level:  envOrDefault("BUBBLECAST_LOG_LEVEL", "info"),
			Format: envOrDefault("BUBBLECAST_LOG_FORMAT", "text"),
		},
		Slugs: SlugConfig{
			RulesPath: envOrDefault("BUBBLECAST_SLUG_RULES_FILE", filepath.Join(configDir, "slug.rules")),
			PassLimit: envOrDefaultInt("BUBBLECAST_SLUG_RULE_PASSES", 16),
			Reserved:  splitList(envOrDefault("BUBBLECAST_RESERVED_SLUGS", "aum,video,uploads,api,admin")),
		},
		EnvFile: envFile,
	}

	if cfg.Capture.MicSampleRate <= 0 {
		cfg.Capture.MicSampleRate = 44100
	}
	if cfg.Capture.MicChannels <= 0 {
		cfg.Capture.MicChannels = 1
	}
	if cfg.Encoding.RenderFrameRate <= 0 {
		cfg.Encoding.RenderFrameRate = 60
	}
	if cfg.Encoding.VideoBitsPerSecond <= 0 {
		cfg.Encoding.VideoBitsPerSecond = 8_000_000
	}
	if cfg.Encoding.Timeslice <= 0 {
		cfg.Encoding.Timeslice = time.Second
	}
	if cfg.Encoding.AudioChunkSize < 256 {
		cfg.Encoding.AudioChunkSize = 4096
	}
	if cfg.Encoding.StopTimeout <= 0 {
		cfg.Encoding.StopTimeout = 4 * time.Second
	}
	if cfg.Slugs.PassLimit <= 0 {
		cfg.Slugs.PassLimit = 16
	}

	return cfg, nil
}

// displayInput turns $DISPLAY into an x11grab input, screen 0 by default.
func displayInput(display string) string {
	display = strings.TrimSpace(display)
	if display == "" {
		return ":0.0"
	}
	if !strings.Contains(display[strings.LastIndex(display, ":")+1:], ".") {
		display += ".0"
	}
	return display
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultMillis(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
