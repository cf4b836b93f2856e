package oracle

import (
	"context"

	"golang.org/x/time/rate"
)

// Limited throttles calls to o. rps <= 0 returns o unchanged.
func Limited(o Oracle, rps float64, burst int) Oracle {
	if rps <= 0 {
		return o
	}
	if burst < 1 {
		burst = 1
	}
	lim := rate.NewLimiter(rate.Limit(rps), burst)
	return Func(func(ctx context.Context, prompt string) (string, error) {
		if err := lim.Wait(ctx); err != nil {
			return "", Classify(ctxErr(ctx, err))
		}
		return o.Ask(ctx, prompt)
	})
}

// ctxErr prefers the context's own error so a deadline that the limiter
// predicted is still reported as a timeout.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if _, ok := ctx.Deadline(); ok {
		return context.DeadlineExceeded
	}
	return err
}
