package async

import (
	"context"
	"time"
)

// Future is the pending result of a function started with Go.
type Future[T any] struct {
	result T
	err    error
	done   chan struct{}
}

// Await blocks until the function completes.
func (f *Future[T]) Await() (T, error) {
	<-f.done
	return f.result, f.err
}

// AwaitWithTimeout blocks until completion or the timeout, whichever comes
// first. On timeout the underlying goroutine keeps running; only the wait is
// abandoned.
func (f *Future[T]) AwaitWithTimeout(timeout time.Duration) (T, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-time.After(timeout):
		var zero T
		return zero, ErrTimeout
	}
}

// Done reports completion without blocking.
func (f *Future[T]) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Go runs fn in a goroutine and returns a Future for its result.
// A pre-cancelled context short-circuits without starting fn.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}

	go func() {
		defer close(f.done)

		select {
		case <-ctx.Done():
			f.err = ctx.Err()
			return
		default:
		}

		f.result, f.err = fn(ctx)
	}()

	return f
}
