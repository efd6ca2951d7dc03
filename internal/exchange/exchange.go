package exchange

import (
	"context"

	"ai-grid-bot-go/internal/models"
)

// Exchange 定义了机器人依赖的交易所操作。
// 实盘与回放模式分别由 LiveExchange 和 PaperExchange 实现。
type Exchange interface {
	GetTicker(ctx context.Context, symbol string) (float64, error)
	OpenPosition(ctx context.Context, req models.OpenRequest) (*models.Fill, error)
	ClosePosition(ctx context.Context, req models.CloseRequest) (*models.Fill, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}

// CandleSource 提供历史K线，用于信号计算的预热
type CandleSource interface {
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
}
