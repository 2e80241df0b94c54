package session

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
	"roomcast/pkg/circuitbreaker"
	"roomcast/pkg/retry"

	"go.uber.org/zap"
)

// ErrRejected marks a request the session API refused; retrying will not help.
var ErrRejected = errors.New("session api rejected request")

// Config locates the session API. A zero BreakerThreshold disables the breaker.
type Config struct {
	BaseURL          string
	Token            string
	Timeout          time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Client talks to the relay's session REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	retry   retry.Config
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger
}

var _ ports.SessionUpdater = (*Client)(nil)

// NewClient creates a session API client.
func NewClient(cfg Config, logger *zap.SugaredLogger) *Client {
	rc := retry.DefaultConfig()
	rc.NonRetryableErrors = []error{ErrRejected, domain.ErrRoomNotFound, domain.ErrInvalidTransition, circuitbreaker.ErrOpen}
	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warnw("session api call failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	}

	c := &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
		retry:   rc,
		logger:  logger,
	}
	if cfg.BreakerThreshold > 0 {
		c.breaker = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold:    cfg.BreakerThreshold,
			SuccessThreshold:    1,
			Timeout:             cfg.BreakerCooldown,
			MaxRequestsHalfOpen: 1,
			IsFailure:           unavailable,
		})
		c.breaker.OnStateChange(func(from, to circuitbreaker.State) {
			logger.Warnw("session api breaker changed state", "from", from.String(), "to", to.String())
		})
	}
	return c
}

// unavailable reports errors that say the API is down rather than that the request was wrong.
func unavailable(err error) bool {
	return !errors.Is(err, ErrRejected) &&
		!errors.Is(err, domain.ErrRoomNotFound) &&
		!errors.Is(err, domain.ErrInvalidTransition) &&
		!errors.Is(err, context.Canceled)
}

func (c *Client) sessionURL(roomID domain.RoomID) string {
	return fmt.Sprintf("%s/api/v1/sessions/%s", c.baseURL, url.PathEscape(string(roomID)))
}

// UpdateSession patches the room's recording URL and/or status.
func (c *Client) UpdateSession(ctx context.Context, roomID domain.RoomID, update domain.SessionUpdate) error {
	body, err := json.Marshal(update)
	if err != nil {
		return err
	}

	err = retry.Retry(ctx, c.retry, func() error {
		_, err := c.do(ctx, http.MethodPatch, c.sessionURL(roomID), body)
		return err
	})
	if err != nil {
		return fmt.Errorf("update session %s: %w", roomID, err)
	}

	c.logger.Infow("session updated",
		"room_id", roomID,
		"status", update.Status,
		"recording_url", update.RecordingURL,
	)
	return nil
}

// GetSession loads the room, for the initial status a controller mounts with.
func (c *Client) GetSession(ctx context.Context, roomID domain.RoomID) (*domain.Room, error) {
	room, err := retry.RetryWithResult(ctx, c.retry, func() (*domain.Room, error) {
		data, err := c.do(ctx, http.MethodGet, c.sessionURL(roomID), nil)
		if err != nil {
			return nil, err
		}
		var room domain.Room
		if err := json.Unmarshal(data, &room); err != nil {
			return nil, fmt.Errorf("%w: invalid session body: %v", ErrRejected, err)
		}
		return &room, nil
	})
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", roomID, err)
	}
	return room, nil
}

func (c *Client) do(ctx context.Context, method, target string, body []byte) ([]byte, error) {
	if c.breaker == nil {
		return c.roundTrip(ctx, method, target, body)
	}
	return circuitbreaker.Do(ctx, c.breaker, func() ([]byte, error) {
		return c.roundTrip(ctx, method, target, body)
	})
}

func (c *Client) roundTrip(ctx context.Context, method, target string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrRoomNotFound
	case resp.StatusCode == http.StatusConflict:
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidTransition, apiMessage(data))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, apiMessage(data))
	default:
		return nil, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, apiMessage(data))
	}
}

// apiMessage extracts the message of an error body, falling back to the raw text.
func apiMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return strings.TrimSpace(string(data))
}
