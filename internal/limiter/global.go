package limiter

import "golang.org/x/time/rate"

// GlobalBudget is a process-wide token bucket applied before any per-key
// accounting. It bounds total packet throughput during distributed floods
// where no single source exceeds its own window.
type GlobalBudget struct {
	bucket *rate.Limiter
}

// NewGlobalBudget builds a budget of perSecond tokens with the given
// burst. A non-positive perSecond disables the budget and returns nil;
// methods on a nil budget always admit.
func NewGlobalBudget(perSecond, burst int) *GlobalBudget {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = perSecond
	}
	return &GlobalBudget{bucket: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Allow consumes one token, reporting false when the budget is spent.
func (g *GlobalBudget) Allow() bool {
	if g == nil {
		return true
	}
	return g.bucket.Allow()
}
