package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vidpace/internal/scheduler"
)

func TestHealthHandler_GetLivez(t *testing.T) {
	out, err := NewHealthHandler("1.0.0").GetLivez(context.Background(), &LivezInput{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Body.Status)
}

func TestHealthHandler_GetReadyz(t *testing.T) {
	t.Run("not ready without streams", func(t *testing.T) {
		out, err := NewHealthHandler("1.0.0").GetReadyz(context.Background(), &ReadyzInput{})
		require.NoError(t, err)
		assert.Equal(t, "not_ready", out.Body.Status)
		assert.Equal(t, "none_running", out.Body.Components["streams"])
		assert.Equal(t, "disabled", out.Body.Components["database"])
	})

	t.Run("ready with streams and database", func(t *testing.T) {
		h := NewHealthHandler("1.0.0").WithStreams(testStreams()).WithDB(&fakeDB{})
		out, err := h.GetReadyz(context.Background(), &ReadyzInput{})
		require.NoError(t, err)
		assert.Equal(t, "ready", out.Body.Status)
		assert.Equal(t, "ok", out.Body.Components["database"])
	})

	t.Run("database error", func(t *testing.T) {
		h := NewHealthHandler("1.0.0").WithStreams(testStreams()).WithDB(&fakeDB{err: errors.New("gone")})
		out, err := h.GetReadyz(context.Background(), &ReadyzInput{})
		require.NoError(t, err)
		assert.Equal(t, "not_ready", out.Body.Status)
		assert.Equal(t, "error", out.Body.Components["database"])
	})
}

func TestHealthHandler_GetHealth(t *testing.T) {
	h := NewHealthHandler("1.0.0").
		WithStreams(testStreams()).
		WithDB(&fakeDB{}).
		WithHostSampler(fakeHost{}).
		WithScheduler(&fakeTasks{status: []scheduler.TaskStatus{{Name: "snapshot", Runs: 2}}})

	out, err := h.GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)

	body := out.Body
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "1.0.0", body.Version)
	assert.NotEmpty(t, body.Uptime)
	assert.Equal(t, StreamsHealth{Running: 2, Adaptive: 1, Failed: 1}, body.Streams)
	assert.Equal(t, "ok", body.Database.Status)
	require.NotNil(t, body.Database.Pool)
	assert.Equal(t, 1, body.Database.Pool.MaxOpenConnections)
	require.NotNil(t, body.Host)
	assert.Equal(t, "bench", body.Host.Hostname)
	require.Len(t, body.Tasks, 1)
	assert.Equal(t, uint64(2), body.Tasks[0].Runs)
}

func TestHealthHandler_Degraded(t *testing.T) {
	h := NewHealthHandler("1.0.0").WithDB(&fakeDB{err: errors.New("gone")})
	out, err := h.GetHealth(context.Background(), &HealthInput{})
	require.NoError(t, err)
	assert.Equal(t, "degraded", out.Body.Status)
	assert.Nil(t, out.Body.Host)
	assert.Nil(t, out.Body.Database.Pool)
}
