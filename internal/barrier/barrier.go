// Package barrier implements a single-shot, many-waiter rendezvous.
//
// A Barrier starts unreleased. Any number of goroutines may call Wait and
// block until Release is called exactly once (further calls are no-ops).
// Release establishes a happens-before edge with every Wait that returns
// after it, so a waiter observes every write the releaser made before
// releasing.
package barrier

import (
	"context"
	"sync"
)

// Barrier is a single-use completion signal. The zero value is not usable;
// construct one with New.
type Barrier struct {
	done chan struct{}
	once sync.Once
}

// New returns a Barrier that is not yet released.
func New() *Barrier {
	return &Barrier{done: make(chan struct{})}
}

// Release unblocks every current and future waiter. It is safe to call
// Release more than once or from multiple goroutines; only the first call
// has effect.
func (b *Barrier) Release() {
	b.once.Do(func() { close(b.done) })
}

// Released reports whether Release has already been called. It never
// blocks.
func (b *Barrier) Released() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// Wait blocks until Release has been called, then returns immediately on
// every subsequent call.
func (b *Barrier) Wait() {
	<-b.done
}

// Chan exposes the underlying completion channel so callers can select on
// it alongside other events.
func (b *Barrier) Chan() <-chan struct{} {
	return b.done
}

// WaitAny blocks until at least one barrier in bs is released, or until ctx
// is done. It returns ctx.Err() if ctx is done first. Calling WaitAny with
// an empty slice blocks until ctx is done.
func WaitAny(ctx context.Context, bs []*Barrier) error {
	switch len(bs) {
	case 0:
		<-ctx.Done()
		return ctx.Err()
	case 1:
		select {
		case <-bs[0].done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	released := make(chan struct{}, len(bs))
	stop := make(chan struct{})
	defer close(stop)

	var wg sync.WaitGroup
	wg.Add(len(bs))
	for _, b := range bs {
		b := b
		go func() {
			defer wg.Done()
			select {
			case <-b.done:
				select {
				case released <- struct{}{}:
				default:
				}
			case <-stop:
			}
		}()
	}

	select {
	case <-released:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
