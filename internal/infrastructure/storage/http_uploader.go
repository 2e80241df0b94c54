package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"
	"roomcast/pkg/retry"
	"roomcast/pkg/tracing"

	"go.uber.org/zap"
)

// ErrRejected marks a response the server will not accept on retry.
var ErrRejected = errors.New("upload rejected")

// HTTPUploader posts artifacts to the relay's session API, which stores them.
type HTTPUploader struct {
	baseURL string
	token   string
	client  *http.Client
	retry   retry.Config
	logger  *zap.SugaredLogger
}

var _ ports.Uploader = (*HTTPUploader)(nil)

// NewHTTPUploader creates an uploader posting to the relay's session API at baseURL.
func NewHTTPUploader(baseURL, token string, timeout time.Duration, logger *zap.SugaredLogger) *HTTPUploader {
	cfg := retry.DefaultConfig()
	cfg.NonRetryableErrors = []error{ErrRejected}
	return &HTTPUploader{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
		retry:   cfg,
		logger:  logger,
	}
}

type uploadResponse struct {
	URL string `json:"url"`
}

func (u *HTTPUploader) Upload(ctx context.Context, artifact *domain.Artifact) (string, error) {
	ctx, span := tracing.TraceRecording(ctx, "upload", string(artifact.RoomID))
	defer span.End()

	endpoint := fmt.Sprintf("%s/api/v1/sessions/%s/recording?id=%s",
		u.baseURL, url.PathEscape(string(artifact.RoomID)), url.QueryEscape(artifact.ID))

	location, err := retry.RetryWithResult(ctx, u.retry, func() (string, error) {
		return u.post(ctx, endpoint, artifact)
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return "", fmt.Errorf("upload recording: %w", err)
	}

	u.logger.Infow("recording uploaded",
		"room_id", artifact.RoomID,
		"recording_id", artifact.ID,
		"bytes", len(artifact.Data),
	)
	return location, nil
}

func (u *HTTPUploader) post(ctx context.Context, endpoint string, artifact *domain.Artifact) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(artifact.Data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRejected, err)
	}
	req.Header.Set("Content-Type", artifact.MimeType)
	if u.token != "" {
		req.Header.Set("Authorization", "Bearer "+u.token)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var body uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: invalid response: %v", ErrRejected, err)
	}
	if body.URL == "" {
		return "", fmt.Errorf("%w: response has no url", ErrRejected)
	}
	return body.URL, nil
}

// checkStatus turns 4xx into permanent failures and 5xx into retryable ones.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return err
}
