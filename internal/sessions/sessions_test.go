package sessions_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redirectly/internal/sessions"
	"redirectly/internal/testsupport"
)

func TestContextClocks(t *testing.T) {
	now := time.Now().UTC()
	ctx := sessions.NewContext("s1", 1, now)

	assert.Equal(t, 10*time.Second, ctx.Elapsed(now.Add(10*time.Second)))
	assert.Equal(t, 10*time.Second, ctx.IdleFor(now.Add(10*time.Second)))

	ctx.LastInputAt = now.Add(8 * time.Second)
	assert.Equal(t, 2*time.Second, ctx.IdleFor(now.Add(10*time.Second)))

	assert.False(t, ctx.HasFired())
	ctx.FireCount = 1
	assert.True(t, ctx.HasFired())
}

func TestContextExpiry(t *testing.T) {
	now := time.Now().UTC()
	ctx := sessions.NewContext("s1", 1, now)
	ttl := 30 * time.Minute

	assert.False(t, ctx.ExpiredAt(now.Add(ttl), ttl), "exactly at the TTL is still live")
	assert.True(t, ctx.ExpiredAt(now.Add(ttl+time.Second), ttl))

	ctx.Touch(now.Add(20 * time.Minute))
	assert.False(t, ctx.ExpiredAt(now.Add(40*time.Minute), ttl), "beacon activity resets the clock")
}

func TestRegistry(t *testing.T) {
	now := time.Now().UTC()

	t.Run("put and access", func(t *testing.T) {
		reg := sessions.NewRegistry(30*time.Minute, testsupport.GetLogger())
		reg.Put(sessions.NewContext("s1", 1, now))
		require.Equal(t, 1, reg.Len())

		err := reg.WithSession("s1", func(ctx *sessions.Context) error {
			ctx.ScrollDepthPct = 42
			return nil
		})
		require.NoError(t, err)

		err = reg.WithSession("s1", func(ctx *sessions.Context) error {
			assert.Equal(t, 42.0, ctx.ScrollDepthPct)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("unknown session", func(t *testing.T) {
		reg := sessions.NewRegistry(30*time.Minute, testsupport.GetLogger())
		err := reg.WithSession("nope", func(*sessions.Context) error { return nil })
		assert.ErrorIs(t, err, sessions.ErrSessionNotFound)
	})

	t.Run("fn errors propagate", func(t *testing.T) {
		reg := sessions.NewRegistry(30*time.Minute, testsupport.GetLogger())
		reg.Put(sessions.NewContext("s1", 1, now))

		boom := errors.New("boom")
		err := reg.WithSession("s1", func(*sessions.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
	})

	t.Run("end removes and returns the final context", func(t *testing.T) {
		reg := sessions.NewRegistry(30*time.Minute, testsupport.GetLogger())
		ctx := sessions.NewContext("s1", 1, now)
		ctx.Pending = &sessions.PendingConfirmation{RuleID: 9, RequestedAt: now}
		reg.Put(ctx)

		final, ok := reg.End("s1")
		require.True(t, ok)
		assert.Equal(t, uint(9), final.Pending.RuleID)
		assert.Equal(t, 0, reg.Len())

		_, ok = reg.End("s1")
		assert.False(t, ok)

		err := reg.WithSession("s1", func(*sessions.Context) error { return nil })
		assert.ErrorIs(t, err, sessions.ErrSessionNotFound)
	})

	t.Run("sweep evicts only sessions past the TTL", func(t *testing.T) {
		reg := sessions.NewRegistry(30*time.Minute, testsupport.GetLogger())

		stale := sessions.NewContext("stale", 1, now.Add(-time.Hour))
		fresh := sessions.NewContext("fresh", 1, now.Add(-time.Minute))
		reg.Put(stale)
		reg.Put(fresh)

		assert.Equal(t, 1, reg.Sweep(now))
		assert.Equal(t, 1, reg.Len())

		err := reg.WithSession("fresh", func(*sessions.Context) error { return nil })
		assert.NoError(t, err)
		err = reg.WithSession("stale", func(*sessions.Context) error { return nil })
		assert.ErrorIs(t, err, sessions.ErrSessionNotFound)
	})

	t.Run("concurrent beacons for one session serialize", func(t *testing.T) {
		reg := sessions.NewRegistry(30*time.Minute, testsupport.GetLogger())
		reg.Put(sessions.NewContext("s1", 1, now))

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = reg.WithSession("s1", func(ctx *sessions.Context) error {
					ctx.FireCount++
					return nil
				})
			}()
		}
		wg.Wait()

		_ = reg.WithSession("s1", func(ctx *sessions.Context) error {
			assert.Equal(t, 50, ctx.FireCount)
			return nil
		})
	})
}
