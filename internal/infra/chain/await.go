package chain

import "context"

// Await runs fn and returns when it finishes or ctx ends, whichever is first.
// A client that ignores its context cannot hold the caller past the deadline;
// its late result is dropped.
func Await[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}

	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
