package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHealthChecker_CheckAll(t *testing.T) {
	h := NewHealthChecker()
	assert.True(t, h.IsReady(context.Background()))

	h.AddCheck("bridge", func(context.Context) (bool, error) { return true, nil }, time.Second)
	h.AddCheck("feed", func(context.Context) (bool, error) { return false, errors.New("redis down") }, time.Second)
	h.AddCheck("signal", func(context.Context) (bool, error) { return false, nil }, 0)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "healthy", status.Checks["bridge"])
	assert.Equal(t, "redis down", status.Checks["feed"])
	assert.Equal(t, "check failed", status.Checks["signal"])
	assert.False(t, h.IsReady(context.Background()))
}

func TestHealthChecker_Timeout(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("slow", func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	}, 10*time.Millisecond)

	status := h.CheckAll(context.Background())
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"])
}
