package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestMemo(ttl time.Duration) (*Memo[string, int], *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := NewMemo[string, int](ttl)
	m.now = clock.now
	return m, clock
}

func TestMemoExpires(t *testing.T) {
	m, clock := newTestMemo(time.Minute)

	m.Set("stats", 42)
	v, ok := m.Get("stats")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	clock.t = clock.t.Add(59 * time.Second)
	_, ok = m.Get("stats")
	assert.True(t, ok)

	clock.t = clock.t.Add(time.Second)
	_, ok = m.Get("stats")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

func TestMemoZeroTTLNeverExpires(t *testing.T) {
	m, clock := newTestMemo(0)
	m.Set("k", 1)
	clock.t = clock.t.Add(24 * time.Hour)

	_, ok := m.Get("k")
	assert.True(t, ok)
}

func TestMemoGetOrLoad(t *testing.T) {
	m, _ := newTestMemo(time.Minute)
	ctx := context.Background()

	loads := 0
	load := func(ctx context.Context) (int, error) {
		loads++
		return 7, nil
	}

	for i := 0; i < 3; i++ {
		v, err := m.GetOrLoad(ctx, "k", load)
		require.NoError(t, err)
		assert.Equal(t, 7, v)
	}
	assert.Equal(t, 1, loads)

	m.Invalidate("k")
	_, err := m.GetOrLoad(ctx, "k", load)
	require.NoError(t, err)
	assert.Equal(t, 2, loads)
}

func TestMemoGetOrLoadDoesNotCacheErrors(t *testing.T) {
	m, _ := newTestMemo(time.Minute)
	boom := errors.New("db down")

	_, err := m.GetOrLoad(context.Background(), "k", func(ctx context.Context) (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)

	_, ok := m.Get("k")
	assert.False(t, ok)
}

func TestMemoInvalidateAll(t *testing.T) {
	m, _ := newTestMemo(time.Minute)
	m.Set("a", 1)
	m.Set("b", 2)

	m.InvalidateAll()
	assert.Equal(t, 0, m.Len())
}
