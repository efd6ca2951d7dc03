package admission

import "ai-grid-bot-go/internal/models"

// Bias is the reactive direction derived from the latest price move.
type Bias string

const (
	BiasNeutral Bias = "neutral"
	BiasLong    Bias = "long"
	BiasShort   Bias = "short"
)

// ReactiveTracker flips its bias when a single tick moves price by at least the
// threshold percentage. Smaller moves leave the bias where it was.
type ReactiveTracker struct {
	threshold float64
	lastPrice float64
	bias      Bias
}

// NewReactiveTracker creates a tracker. threshold is in percent.
func NewReactiveTracker(threshold float64) *ReactiveTracker {
	return &ReactiveTracker{threshold: threshold, bias: BiasNeutral}
}

// Update records price and returns the resulting bias.
func (t *ReactiveTracker) Update(price float64) Bias {
	if price <= 0 {
		return t.bias
	}
	if t.lastPrice > 0 && t.threshold > 0 {
		change := (price - t.lastPrice) / t.lastPrice * 100
		switch {
		case change >= t.threshold:
			t.bias = BiasLong
		case change <= -t.threshold:
			t.bias = BiasShort
		}
	}
	t.lastPrice = price
	return t.bias
}

// Bias returns the current bias without updating it.
func (t *ReactiveTracker) Bias() Bias {
	return t.bias
}

// Reset clears the tracker, e.g. after the grid is regenerated.
func (t *ReactiveTracker) Reset() {
	t.lastPrice = 0
	t.bias = BiasNeutral
}

// Matches reports whether a level side agrees with the bias.
func (b Bias) Matches(side models.Side) bool {
	return (b == BiasLong && side == models.Long) || (b == BiasShort && side == models.Short)
}
