package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

var ErrNoVideoStream = errors.New("ffmpeg reported no video stream")

const stderrLimit = 64 * 1024

var (
	dimensionsPattern = regexp.MustCompile(`, (\d{2,5})x(\d{2,5})[ ,\[]`)
	fpsPattern        = regexp.MustCompile(`, (\d+(?:\.\d+)?) (?:fps|tbr)`)
)

// StreamInfo is what ffmpeg printed about a video stream.
type StreamInfo struct {
	Width     int
	Height    int
	FrameRate float64
}

// ParseVideoStreamLine extracts dimensions and rate from a "Stream #0:0: Video:" line.
func ParseVideoStreamLine(line string) (StreamInfo, bool) {
	if !strings.Contains(line, "Video:") {
		return StreamInfo{}, false
	}
	match := dimensionsPattern.FindStringSubmatch(line + " ")
	if match == nil {
		return StreamInfo{}, false
	}
	width, _ := strconv.Atoi(match[1])
	height, _ := strconv.Atoi(match[2])
	info := StreamInfo{Width: width, Height: height}
	if fps := fpsPattern.FindStringSubmatch(line); fps != nil {
		info.FrameRate, _ = strconv.ParseFloat(fps[1], 64)
	}
	return info, width > 0 && height > 0
}

// stderrLog keeps the tail of ffmpeg's stderr and watches for the first output
// video stream description.
type stderrLog struct {
	mu         sync.Mutex
	buf        []byte
	partial    []byte
	inOutput   bool
	info       StreamInfo
	videoReady chan struct{}
	readyOnce  sync.Once
}

func newStderrLog() *stderrLog {
	return &stderrLog{videoReady: make(chan struct{})}
}

func (l *stderrLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf = append(l.buf, p...)
	if len(l.buf) > stderrLimit {
		l.buf = l.buf[len(l.buf)-stderrLimit:]
	}

	l.partial = append(l.partial, p...)
	for {
		idx := bytes.IndexAny(l.partial, "\r\n")
		if idx < 0 {
			break
		}
		l.scanLine(string(l.partial[:idx]))
		l.partial = l.partial[idx+1:]
	}
	if len(l.partial) > stderrLimit {
		l.partial = l.partial[:0]
	}
	return len(p), nil
}

func (l *stderrLog) scanLine(line string) {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "Output #") {
		l.inOutput = true
		return
	}
	if !l.inOutput || !strings.HasPrefix(trimmed, "Stream #") {
		return
	}
	info, ok := ParseVideoStreamLine(trimmed)
	if !ok {
		return
	}
	l.readyOnce.Do(func() {
		l.info = info
		close(l.videoReady)
	})
}

func (l *stderrLog) video() StreamInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.info
}

func (l *stderrLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return string(l.buf)
}

// Encoders lists the encoder names this ffmpeg build supports.
func Encoders(ctx context.Context, command string) (map[string]bool, error) {
	if command == "" {
		command = "ffmpeg"
	}
	output, err := exec.CommandContext(ctx, command, "-hide_banner", "-encoders").Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg encoder probe failed: %w", err)
	}
	return ParseEncoders(string(output)), nil
}

// ParseEncoders reads the table printed by `ffmpeg -encoders`.
func ParseEncoders(output string) map[string]bool {
	encoders := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(output))
	started := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !started {
			if strings.HasPrefix(line, "------") {
				started = true
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		encoders[fields[1]] = true
	}
	return encoders
}
