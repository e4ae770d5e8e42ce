package icons

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_TTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache(time.Minute, 10*time.Second)
	c.now = func() time.Time { return now }

	c.Set("hit", "<svg/>", true)
	c.Set("miss", "", false)

	body, ok, found := c.Get("hit")
	assert.True(t, found)
	assert.True(t, ok)
	assert.Equal(t, "<svg/>", body)

	_, ok, found = c.Get("miss")
	assert.True(t, found)
	assert.False(t, ok)

	now = now.Add(30 * time.Second)
	_, _, found = c.Get("miss")
	assert.False(t, found)
	_, _, found = c.Get("hit")
	assert.True(t, found)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())

	now = now.Add(time.Minute)
	assert.Equal(t, 1, c.Sweep())
	assert.Zero(t, c.Len())
}

func TestCache_MissCachingDisabled(t *testing.T) {
	c := NewCache(time.Minute, 0)
	c.Set("miss", "", false)
	assert.Zero(t, c.Len())
}

func TestJanitor_Schedule(t *testing.T) {
	j, err := NewJanitor(NewCache(time.Minute, 0), "", nil)
	require.NoError(t, err)

	from := time.Date(2026, 3, 1, 12, 2, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC), j.Next(from))

	_, err = NewJanitor(NewCache(time.Minute, 0), "every tuesday", nil)
	assert.Error(t, err)
}

func TestJanitor_StartStop(t *testing.T) {
	j, err := NewJanitor(NewCache(time.Minute, 0), "0 * * * *", nil)
	require.NoError(t, err)

	require.NoError(t, j.Start(context.Background()))
	assert.Error(t, j.Start(context.Background()))
	j.Stop()
	j.Stop()
	require.NoError(t, j.Start(context.Background()))
	j.Stop()
}
