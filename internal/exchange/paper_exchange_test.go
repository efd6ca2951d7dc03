package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"ai-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaperExchange_RoundTrip(t *testing.T) {
	ctx := context.Background()
	e := NewPaperExchange("BTCUSDT", models.ReplayConfig{InitialBalance: 1000})

	_, err := e.GetTicker(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, ErrNoPrice)

	e.SetPrice(100, time.Now())
	fill, err := e.OpenPosition(ctx, models.OpenRequest{Symbol: "BTCUSDT", Side: models.Long, SizeUSD: 100, Leverage: 10, Price: 100})
	require.NoError(t, err)
	assert.InDelta(t, 10.0, fill.Quantity, 1e-9)
	assert.InDelta(t, 900.0, e.Cash, 1e-9)
	assert.InDelta(t, 1000.0, e.Equity(), 1e-9)

	e.SetPrice(102, time.Now())
	assert.InDelta(t, 1020.0, e.Equity(), 1e-9)

	fill, err = e.ClosePosition(ctx, models.CloseRequest{Symbol: "BTCUSDT", Side: models.Long, Quantity: 10})
	require.NoError(t, err)
	assert.InDelta(t, 102.0, fill.Price, 1e-9)
	assert.InDelta(t, 1020.0, e.Cash, 1e-9)
	assert.Equal(t, 2, e.Fills)
}

func TestPaperExchange_ShortAndFees(t *testing.T) {
	ctx := context.Background()
	e := NewPaperExchange("BTCUSDT", models.ReplayConfig{InitialBalance: 1000, TakerFeeRate: 0.001})
	e.SetPrice(100, time.Now())

	_, err := e.OpenPosition(ctx, models.OpenRequest{Side: models.Short, SizeUSD: 100, Leverage: 5})
	require.NoError(t, err)
	e.SetPrice(90, time.Now())
	_, err = e.ClosePosition(ctx, models.CloseRequest{Side: models.Short, Quantity: 5})
	require.NoError(t, err)

	// +50 pnl, fees 0.5 on open and 0.45 on close
	assert.InDelta(t, 1049.05, e.Cash, 1e-9)
	assert.InDelta(t, 0.95, e.TotalFees, 1e-9)
}

func TestPaperExchange_Rejections(t *testing.T) {
	ctx := context.Background()
	e := NewPaperExchange("BTCUSDT", models.ReplayConfig{InitialBalance: 50})
	e.SetPrice(100, time.Now())

	_, err := e.OpenPosition(ctx, models.OpenRequest{Side: models.Long, SizeUSD: 100, Leverage: 10})
	var apiErr *models.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, -2019, apiErr.Code)

	_, err = e.ClosePosition(ctx, models.CloseRequest{Side: models.Short, Quantity: 1})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, -2022, apiErr.Code)
}
