package resilience

import "context"

// Guard runs fn through p and b. It returns the number of attempts and the
// number of those attempts that actually reached fn; the difference is the
// count of short-circuited attempts.
func Guard(ctx context.Context, p RetryPolicy, b *Breaker, fn func(context.Context) error) (attempts, invoked int, err error) {
	attempts, err = p.Do(ctx, func(ctx context.Context) error {
		return b.Execute(ctx, func(ctx context.Context) error {
			invoked++
			return fn(ctx)
		})
	})
	return attempts, invoked, err
}
