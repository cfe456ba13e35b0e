package mail

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// ThrottledMailer bounds the outbound send rate of the wrapped Mailer with a token bucket.
// Send blocks until a token is available or ctx is done.
type ThrottledMailer struct {
	next    Mailer
	limiter *rate.Limiter
}

// NewThrottledMailer wraps next. A non-positive perSecond disables throttling.
func NewThrottledMailer(next Mailer, perSecond float64, burst int) Mailer {
	if next == nil || perSecond <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &ThrottledMailer{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (m *ThrottledMailer) Send(ctx context.Context, msg Message) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("mail: throttle: %w", err)
	}
	return m.next.Send(ctx, msg)
}
