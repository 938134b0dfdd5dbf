package pipeline

import (
	"context"
	"math/rand"
	"time"

	"github.com/imovelink/broker-contacts/internal/config"
)

// DelayCategory names one throttled operation class.
type DelayCategory string

const (
	DelaySearch  DelayCategory = "search"
	DelayContact DelayCategory = "contact"
	DelayDecrypt DelayCategory = "decrypt"
	DelayRange   DelayCategory = "range"
)

// DelayPolicy samples randomized wait intervals per operation category.
// Sampling is separate from sleeping so the sampling logic can be tested
// without wall-clock waits.
type DelayPolicy struct {
	bounds map[DelayCategory]config.DelayBounds
	randFn func() float64
}

// NewDelayPolicy resolves per-category bounds once at construction. A
// category with no configured bounds inherits the search bounds.
func NewDelayPolicy(cfg config.DelaysConfig) *DelayPolicy {
	base := cfg.Search
	resolve := func(b config.DelayBounds) config.DelayBounds {
		if b.Min == 0 && b.Max == 0 {
			return base
		}
		return b
	}
	return &DelayPolicy{
		bounds: map[DelayCategory]config.DelayBounds{
			DelaySearch:  base,
			DelayContact: resolve(cfg.Contact),
			DelayDecrypt: resolve(cfg.Decrypt),
			DelayRange:   resolve(cfg.Range),
		},
		randFn: rand.Float64,
	}
}

// Sample returns a uniformly sampled duration in the closed interval
// configured for the category. Unknown categories use the search bounds.
func (p *DelayPolicy) Sample(category DelayCategory) time.Duration {
	b, ok := p.bounds[category]
	if !ok {
		b = p.bounds[DelaySearch]
	}
	secs := b.Min + p.randFn()*(b.Max-b.Min)
	return time.Duration(secs * float64(time.Second))
}

// Wait sleeps for a sampled interval, returning early on ctx cancellation.
func (p *DelayPolicy) Wait(ctx context.Context, category DelayCategory) error {
	d := p.Sample(category)
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
