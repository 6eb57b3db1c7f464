package capture

import (
	"context"
	"errors"
	"image"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bubblecast/internal/domain"
	"bubblecast/internal/ports"
)

const fakeScreenScript = `#!/usr/bin/env bash
echo "Input #0, x11grab, from ':0.0':" 1>&2
echo "  Stream #0:0: Video: rawvideo (BGR[0] / 0x524742), bgr0, 1280x720, 60 fps" 1>&2
echo "Output #0, rawvideo, to 'pipe:':" 1>&2
echo "  Stream #0:0: Video: rawvideo (RGBA / 0x41424752), rgba, 2x2, q=2-31, 60 fps" 1>&2
printf '\xff\x01\x01\xff%.0s' 1 2 3 4
exec sleep 5
`

func TestGetDisplayMediaReadsNegotiatedSettings(t *testing.T) {
	t.Parallel()

	devices := NewDevices(Config{Command: writeScript(t, "screen.sh", fakeScreenScript), StopGrace: 200 * time.Millisecond})
	grant, err := devices.GetDisplayMedia(context.Background(), ports.VideoConstraints{
		IdealWidth:     3840,
		IdealHeight:    2160,
		IdealFrameRate: 60,
	}, false)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer func() { _ = grant.Video.Release() }()

	settings := grant.Video.Settings()
	if settings.Width != 2 || settings.Height != 2 || settings.FrameRate != 60 {
		t.Fatalf("expected negotiated 2x2@60, got %+v", settings)
	}
	if grant.SystemAudio != nil {
		t.Fatalf("system audio was not requested")
	}

	frame := waitForFrame(t, grant.Video)
	if frame.Bounds().Dx() != 2 || frame.Pix[0] != 0xff || frame.Pix[1] != 0x01 {
		t.Fatalf("unexpected frame: %v", frame.Pix)
	}
}

func TestReleaseIsIdempotentAndEndsStream(t *testing.T) {
	t.Parallel()

	devices := NewDevices(Config{Command: writeScript(t, "screen.sh", fakeScreenScript), StopGrace: 200 * time.Millisecond})
	grant, err := devices.GetDisplayMedia(context.Background(), ports.VideoConstraints{}, false)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	first := grant.Video.Release()
	second := grant.Video.Release()
	if first != second {
		t.Fatalf("expected identical release results, got %v and %v", first, second)
	}

	select {
	case <-grant.Video.Ended():
	case <-time.After(3 * time.Second):
		t.Fatalf("expected stream to end after release")
	}
}

func TestVideoStreamEndsWhenSourceExits(t *testing.T) {
	t.Parallel()

	script := `#!/usr/bin/env bash
echo "Output #0, rawvideo, to 'pipe:':" 1>&2
echo "  Stream #0:0: Video: rawvideo, rgba, 2x2, 30 fps" 1>&2
printf '\xff\x01\x01\xff%.0s' 1 2 3 4
sleep 0.5
`
	devices := NewDevices(Config{Command: writeScript(t, "ending.sh", script)})
	grant, err := devices.GetDisplayMedia(context.Background(), ports.VideoConstraints{}, false)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer func() { _ = grant.Video.Release() }()

	select {
	case <-grant.Video.Ended():
	case <-time.After(5 * time.Second):
		t.Fatalf("expected ended signal when the source exits")
	}
}

func TestGetDisplayMediaPermissionDenied(t *testing.T) {
	t.Parallel()

	script := "#!/usr/bin/env bash\necho \"[x11grab] Cannot open display :0.0: Authorization required\" 1>&2\nexit 1\n"
	devices := NewDevices(Config{Command: writeScript(t, "denied.sh", script)})

	_, err := devices.GetDisplayMedia(context.Background(), ports.VideoConstraints{}, false)
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	var acqErr *domain.AcquisitionError
	if !errors.As(err, &acqErr) || acqErr.Source != domain.StreamKindScreen {
		t.Fatalf("expected screen acquisition error, got %v", err)
	}
}

func TestGetUserVideoDeviceUnavailable(t *testing.T) {
	t.Parallel()

	script := "#!/usr/bin/env bash\necho \"/dev/video0: No such file or directory\" 1>&2\nexit 1\n"
	devices := NewDevices(Config{Command: writeScript(t, "missing.sh", script)})

	_, err := devices.GetUserVideo(context.Background(), ports.VideoConstraints{IdealWidth: 1920, IdealHeight: 1080})
	if !errors.Is(err, domain.ErrDeviceUnavailable) {
		t.Fatalf("expected device unavailable, got %v", err)
	}
}

func TestGetUserVideoWithoutVideoStream(t *testing.T) {
	t.Parallel()

	script := "#!/usr/bin/env bash\nexec sleep 5\n"
	devices := NewDevices(Config{
		Command:      writeScript(t, "silent.sh", script),
		ProbeTimeout: 50 * time.Millisecond,
		StopGrace:    200 * time.Millisecond,
	})

	_, err := devices.GetUserVideo(context.Background(), ports.VideoConstraints{})
	if !errors.Is(err, domain.ErrNoVideoTrack) {
		t.Fatalf("expected no video track, got %v", err)
	}
}

func TestMissingFFmpegIsDeviceUnavailable(t *testing.T) {
	t.Parallel()

	devices := NewDevices(Config{Command: filepath.Join(t.TempDir(), "does-not-exist")})
	_, err := devices.GetUserAudio(context.Background(), ports.AudioConstraints{})
	if !errors.Is(err, domain.ErrDeviceUnavailable) {
		t.Fatalf("expected device unavailable, got %v", err)
	}
}

func TestGetUserAudioStreamsPCM(t *testing.T) {
	t.Parallel()

	script := "#!/usr/bin/env bash\nprintf 'pcm!'\nexec sleep 5\n"
	devices := NewDevices(Config{Command: writeScript(t, "mic.sh", script), StopGrace: 200 * time.Millisecond})

	mic, err := devices.GetUserAudio(context.Background(), ports.AudioConstraints{
		SampleRate:       44100,
		EchoCancellation: true,
		NoiseSuppression: true,
	})
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer func() { _ = mic.Release() }()

	if mic.Format().SampleRate != 44100 || mic.Format().Channels != 1 {
		t.Fatalf("unexpected format: %+v", mic.Format())
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(mic, buf); err != nil || string(buf) != "pcm!" {
		t.Fatalf("unexpected pcm %q err=%v", buf, err)
	}
}

func TestLastLine(t *testing.T) {
	t.Parallel()

	if got := lastLine("first\nsecond\n\n"); got != "second" {
		t.Fatalf("unexpected last line: %q", got)
	}
}

func waitForFrame(t *testing.T, stream ports.VideoStream) *image.RGBA {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if frame := stream.LatestFrame(); frame != nil {
			return frame
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no frame decoded")
	return nil
}

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}
