package flowstate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/openidconnect/internal/cache"
)

func stores(t *testing.T) map[string]*Store {
	t.Helper()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return map[string]*Store{
		"memory": NewStore(cache.NewMemory("", time.Minute)),
		"redis":  NewStore(cache.WrapRedis(rdb, "oidc:")),
	}
}

func newState(token string) State {
	now := time.Now()
	return State{
		Token:          token,
		Nonce:          "n-" + token,
		Provider:       "google",
		CreatedAt:      now,
		ExpiresAt:      now.Add(10 * time.Minute),
		RedirectTarget: "/dashboard",
		CodeVerifier:   "verifier",
	}
}

func TestConsumeOnce(t *testing.T) {
	ctx := context.Background()
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.Save(ctx, newState("abc")))

			got, err := st.Consume(ctx, "abc")
			require.NoError(t, err)
			require.Equal(t, "abc", got.Token)
			require.Equal(t, "n-abc", got.Nonce)
			require.Equal(t, "/dashboard", got.RedirectTarget)
			require.Equal(t, "verifier", got.CodeVerifier)

			_, err = st.Consume(ctx, "abc")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestConsumeUnknownAndEmpty(t *testing.T) {
	ctx := context.Background()
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := st.Consume(ctx, "nope")
			require.ErrorIs(t, err, ErrNotFound)
			_, err = st.Consume(ctx, "")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestConsumeExpiredIsDeleted(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	st := NewStore(cache.NewMemory("", time.Minute)).WithClock(func() time.Time { return now })
	require.NoError(t, st.Save(ctx, newState("late")))

	now = now.Add(11 * time.Minute)
	_, err := st.Consume(ctx, "late")
	require.ErrorIs(t, err, ErrExpired)

	now = now.Add(-11 * time.Minute)
	_, err = st.Consume(ctx, "late")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSaveRejectsExpired(t *testing.T) {
	s := newState("x")
	s.ExpiresAt = time.Now().Add(-time.Second)
	err := NewStore(cache.NewMemory("", time.Minute)).Save(context.Background(), s)
	require.ErrorIs(t, err, ErrExpired)
}

func TestConcurrentConsumeSingleWinner(t *testing.T) {
	ctx := context.Background()
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.Save(ctx, newState("race")))
			var wins int32
			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := st.Consume(ctx, "race"); err == nil {
						atomic.AddInt32(&wins, 1)
					}
				}()
			}
			wg.Wait()
			require.EqualValues(t, 1, wins)
		})
	}
}
