package signals

import "ai-grid-bot-go/internal/models"

// Window keeps the most recent candles, replacing the last one while it is still
// forming (same open time).
type Window struct {
	size    int
	candles []models.Candle
}

func NewWindow(size int) *Window {
	return &Window{size: size, candles: make([]models.Candle, 0, size)}
}

// Push adds or updates a candle.
func (w *Window) Push(c models.Candle) {
	if n := len(w.candles); n > 0 && w.candles[n-1].OpenTime.Equal(c.OpenTime) {
		w.candles[n-1] = c
		return
	}
	w.candles = append(w.candles, c)
	if len(w.candles) > w.size {
		w.candles = append(w.candles[:0], w.candles[len(w.candles)-w.size:]...)
	}
}

// Candles returns a copy of the window contents.
func (w *Window) Candles() []models.Candle {
	out := make([]models.Candle, len(w.candles))
	copy(out, w.candles)
	return out
}

func (w *Window) Len() int {
	return len(w.candles)
}
