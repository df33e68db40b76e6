// Package poll repeats a status check until it reports completion, the wait
// budget runs out or the context is canceled.
//
// Usage:
//
//	err := poll.Until(ctx, poll.Fixed(3*time.Second, 30*time.Minute), func(ctx context.Context) (bool, error) {
//	    st, err := check(ctx)
//	    return st == "succeeded", err
//	})
//	if errors.Is(err, poll.ErrTimeout) {
//	    // gave up waiting
//	}
package poll
