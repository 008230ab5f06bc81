package sempool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSemaphorePool_Serializes(t *testing.T) {
	t.Parallel()
	p := NewSemaphorePool(1)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		running int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.Do(context.Background(), StringKey("asset"), func() error {
				mu.Lock()
				running++
				if running > maxSeen {
					maxSeen = running
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				running--
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, maxSeen)
}

func TestSemaphorePool_IndependentKeys(t *testing.T) {
	t.Parallel()
	p := NewSemaphorePool(1)
	a := p.Get(StringKey("a"))
	require.True(t, a.TryAcquire())
	defer a.Release()

	require.True(t, p.Get(StringKey("b")).TryAcquire())
	require.False(t, p.Get(StringKey("a")).TryAcquire())
}

func TestSemaphore_AcquireTimeout(t *testing.T) {
	t.Parallel()
	s := NewSemaphore(1)
	require.NoError(t, s.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Acquire(ctx), context.DeadlineExceeded)

	s.Release()
	require.Panics(t, s.Release)
}
