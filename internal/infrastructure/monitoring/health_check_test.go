package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHealthChecker_AllHealthy(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("a", func(ctx context.Context) error { return nil }, time.Second)
	h.AddCheck("b", func(ctx context.Context) error { return nil }, 0)

	status := h.CheckAll(context.Background())
	assert.Equal(t, StatusHealthy, status.Status)
	assert.Equal(t, map[string]string{"a": StatusHealthy, "b": StatusHealthy}, status.Checks)
	assert.True(t, h.IsReady(context.Background()))
}

func TestHealthChecker_FailureAndTimeout(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("broken", func(ctx context.Context) error { return errors.New("dial tcp: refused") }, time.Second)
	h.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, 10*time.Millisecond)

	status := h.CheckAll(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Equal(t, "dial tcp: refused", status.Checks["broken"])
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"])
	assert.False(t, h.IsReady(context.Background()))
}
