package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"bubblecast/internal/domain"
	"bubblecast/internal/ports"
)

const maxErrorBody = 4 << 10

// Config controls the hosting API client.
type Config struct {
	APIBaseURL string
	Timeout    time.Duration
	// Progress receives bytes sent so far and the total after every body read.
	Progress func(sent, total int64)
	Logger   *slog.Logger
}

// Client uploads finished recordings with PUT {api}/uploads/{filename}.
type Client struct {
	cfg    Config
	tokens ports.TokenProvider
	http   *http.Client
}

func NewClient(cfg Config, tokens ports.TokenProvider, httpClient *http.Client) *Client {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:3003"
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, tokens: tokens, http: httpClient}
}

type uploadResponse struct {
	HashedID   string `json:"hashed_id"`
	CustomSlug string `json:"customSlug"`
}

// Upload sends the artifact and returns where the hosted video can be played.
func (c *Client) Upload(ctx context.Context, artifact *domain.Artifact, filename string, slug string) (domain.UploadResult, error) {
	token, err := c.token(ctx)
	if err != nil {
		return domain.UploadResult{}, err
	}

	body, err := artifact.Reader()
	if err != nil {
		return domain.UploadResult{}, err
	}
	total := artifact.Size()

	endpoint, err := c.endpoint(filename, slug)
	if err != nil {
		return domain.UploadResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, &progressReader{
		r:        body,
		total:    total,
		progress: c.cfg.Progress,
	})
	if err != nil {
		return domain.UploadResult{}, fmt.Errorf("failed to build upload request: %w", err)
	}
	req.ContentLength = total
	req.Header.Set("Content-Type", artifact.MediaType)
	req.Header.Set("Authorization", "Bearer "+token)

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return domain.UploadResult{}, &domain.UploadError{Kind: domain.ErrNetworkFailure, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.UploadResult{}, &domain.UploadError{
			Kind:    domain.ErrServerRejected,
			Status:  resp.StatusCode,
			Message: rejectionMessage(resp.Body),
		}
	}

	var payload uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.UploadResult{}, &domain.UploadError{Kind: domain.ErrMissingIdentifier, Err: err}
	}

	result, err := resultFor(payload)
	if err != nil {
		return domain.UploadResult{}, err
	}
	c.cfg.Logger.Info("upload accepted",
		"filename", filename,
		"bytes", total,
		"hosted_id", result.HostedID,
		"elapsed", time.Since(started),
	)
	return result, nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", &domain.UploadError{Kind: domain.ErrUnauthenticated}
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", &domain.UploadError{Kind: domain.ErrUnauthenticated, Err: err}
	}
	if strings.TrimSpace(token) == "" {
		return "", &domain.UploadError{Kind: domain.ErrUnauthenticated}
	}
	return token, nil
}

func (c *Client) endpoint(filename, slug string) (string, error) {
	if strings.TrimSpace(filename) == "" {
		return "", errors.New("upload filename is required")
	}
	u, err := url.Parse(c.cfg.APIBaseURL + "/uploads/" + url.PathEscape(filename))
	if err != nil {
		return "", fmt.Errorf("invalid api base url %q: %w", c.cfg.APIBaseURL, err)
	}
	if slug != "" {
		q := u.Query()
		q.Set("slug", slug)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// resultFor prefers the custom share slug for playback and falls back to the
// hosted id.
func resultFor(payload uploadResponse) (domain.UploadResult, error) {
	switch {
	case payload.CustomSlug != "":
		return domain.UploadResult{
			HostedID:     payload.HashedID,
			ShareSlug:    payload.CustomSlug,
			PlaybackPath: "/aum/" + url.PathEscape(payload.CustomSlug),
		}, nil
	case payload.HashedID != "":
		return domain.UploadResult{
			HostedID:     payload.HashedID,
			PlaybackPath: "/video/" + url.PathEscape(payload.HashedID),
		}, nil
	default:
		return domain.UploadResult{}, &domain.UploadError{Kind: domain.ErrMissingIdentifier}
	}
}

func rejectionMessage(body io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(raw))
}

type progressReader struct {
	r        io.Reader
	sent     atomic.Int64
	total    int64
	progress func(sent, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.progress != nil {
		p.progress(p.sent.Add(int64(n)), p.total)
	}
	return n, err
}
