package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/timeclock/attendance"
)

// newTestRedis connects to TIMECLOCK_TEST_REDIS_URL, skipping when unset.
func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	url := os.Getenv("TIMECLOCK_TEST_REDIS_URL")
	if url == "" {
		t.Skip("TIMECLOCK_TEST_REDIS_URL not set")
	}
	r, err := NewRedis(context.Background(), url)
	require.NoError(t, err)
	r.prefix = "timeclock:test:" + t.Name() + ":"
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRedis_RoundTrip(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)

	s := attendance.Session{
		RequesterID: "boss",
		Step:        attendance.StepEnteringAmount,
		Worker:      "w-1",
		ExpiresAt:   time.Now().Add(time.Minute).UTC().Truncate(time.Second),
	}
	require.NoError(t, r.Put(ctx, s))

	got, err := r.Get(ctx, "boss")
	require.NoError(t, err)
	assert.Equal(t, s.Step, got.Step)
	assert.Equal(t, s.Worker, got.Worker)
	assert.True(t, s.ExpiresAt.Equal(got.ExpiresAt))

	require.NoError(t, r.Delete(ctx, "boss"))
	_, err = r.Get(ctx, "boss")
	assert.ErrorIs(t, err, attendance.ErrNoSession)
}

func TestRedis_ExpiredPutIsDelete(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)
	require.NoError(t, r.Put(ctx, attendance.Session{RequesterID: "boss", ExpiresAt: time.Now().Add(time.Minute)}))

	require.NoError(t, r.Put(ctx, attendance.Session{RequesterID: "boss", ExpiresAt: time.Now().Add(-time.Second)}))

	_, err := r.Get(ctx, "boss")
	assert.ErrorIs(t, err, attendance.ErrNoSession)
}
