package barrier

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitBlocksUntilRelease(t *testing.T) {
	b := New()
	done := make(chan struct{})
	go func() {
		b.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before Release")
	case <-time.After(20 * time.Millisecond):
	}

	b.Release()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Release")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	b := New()
	require.False(t, b.Released())
	b.Release()
	b.Release()
	b.Release()
	assert.True(t, b.Released())
	b.Wait()
}

func TestLateWaiterReturnsImmediately(t *testing.T) {
	b := New()
	b.Release()

	done := make(chan struct{})
	go func() {
		b.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("late Wait blocked")
	}
}

func TestManyWaitersAllUnblock(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	var woke int64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Wait()
			atomic.AddInt64(&woke, 1)
		}()
	}

	time.Sleep(10 * time.Millisecond)
	b.Release()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("not all waiters woke up")
	}
	assert.EqualValues(t, 50, atomic.LoadInt64(&woke))
}

func TestWaitAnyReturnsOnFirstRelease(t *testing.T) {
	b1, b2, b3 := New(), New(), New()
	ctx := context.Background()

	go func() {
		time.Sleep(10 * time.Millisecond)
		b2.Release()
	}()

	start := time.Now()
	err := WaitAny(ctx, []*Barrier{b1, b2, b3})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitAnyRespectsContext(t *testing.T) {
	b1, b2 := New(), New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := WaitAny(ctx, []*Barrier{b1, b2})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitAnyAlreadyReleased(t *testing.T) {
	b1, b2 := New(), New()
	b2.Release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, WaitAny(ctx, []*Barrier{b1, b2}))
}
