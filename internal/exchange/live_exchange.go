package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"ai-grid-bot-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LiveExchange 通过币安U本位合约接口下单
type LiveExchange struct {
	client    *futures.Client
	hedgeMode bool
	logger    *zap.Logger

	mu        sync.Mutex
	stepSizes map[string]decimal.Decimal
}

// NewLiveExchange 创建实盘交易所客户端
func NewLiveExchange(apiKey, secretKey string, testnet, hedgeMode bool, logger *zap.Logger) *LiveExchange {
	futures.UseTestnet = testnet
	return NewLiveExchangeWithClient(binance.NewFuturesClient(apiKey, secretKey), hedgeMode, logger)
}

// NewLiveExchangeWithClient 使用已有的客户端，便于测试时替换 BaseURL
func NewLiveExchangeWithClient(client *futures.Client, hedgeMode bool, logger *zap.Logger) *LiveExchange {
	return &LiveExchange{
		client:    client,
		hedgeMode: hedgeMode,
		logger:    logger,
		stepSizes: make(map[string]decimal.Decimal),
	}
}

// GetTicker 获取最新成交价
func (e *LiveExchange) GetTicker(ctx context.Context, symbol string) (float64, error) {
	prices, err := e.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("获取 %s 价格失败: %w", symbol, err)
	}
	for _, p := range prices {
		if p.Symbol == symbol {
			return strconv.ParseFloat(p.Price, 64)
		}
	}
	return 0, fmt.Errorf("未找到 %s 的价格", symbol)
}

// SetLeverage 设置杠杆倍数
func (e *LiveExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := e.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	if err != nil {
		return fmt.Errorf("设置杠杆失败: %w", err)
	}
	e.logger.Info("leverage set", zap.String("symbol", symbol), zap.Int("leverage", leverage))
	return nil
}

// OpenPosition 市价开仓，数量由保证金、杠杆和参考价格换算并按步长截断
func (e *LiveExchange) OpenPosition(ctx context.Context, req models.OpenRequest) (*models.Fill, error) {
	price := req.Price
	if price <= 0 {
		p, err := e.GetTicker(ctx, req.Symbol)
		if err != nil {
			return nil, err
		}
		price = p
	}

	qty, err := e.formatQuantity(ctx, req.Symbol, req.SizeUSD*float64(req.Leverage)/price)
	if err != nil {
		return nil, err
	}

	side := futures.SideTypeBuy
	if req.Side == models.Short {
		side = futures.SideTypeSell
	}

	svc := e.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(qty).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if e.hedgeMode {
		svc = svc.PositionSide(positionSide(req.Side))
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("开仓下单失败: %w", err)
	}
	return toFill(res), nil
}

// ClosePosition 市价平掉指定方向的部分持仓
func (e *LiveExchange) ClosePosition(ctx context.Context, req models.CloseRequest) (*models.Fill, error) {
	qty, err := e.formatQuantity(ctx, req.Symbol, req.Quantity)
	if err != nil {
		return nil, err
	}

	side := futures.SideTypeSell
	if req.Side == models.Short {
		side = futures.SideTypeBuy
	}

	svc := e.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(qty).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if e.hedgeMode {
		svc = svc.PositionSide(positionSide(req.Side))
	} else {
		svc = svc.ReduceOnly(true)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("平仓下单失败: %w", err)
	}
	return toFill(res), nil
}

// GetCandles 获取最近的K线，用于预热信号计算
func (e *LiveExchange) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	klines, err := e.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取K线失败: %w", err)
	}

	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		c, err := ParseCandle(k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			e.logger.Warn("skip malformed kline", zap.Int64("open_time", k.OpenTime), zap.Error(err))
			continue
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// formatQuantity 按交易对的 LOT_SIZE 步长向下截断数量
func (e *LiveExchange) formatQuantity(ctx context.Context, symbol string, qty float64) (string, error) {
	step, err := e.stepSize(ctx, symbol)
	if err != nil {
		return "", err
	}
	d := decimal.NewFromFloat(qty)
	if step.IsPositive() {
		d = d.Div(step).Floor().Mul(step)
	}
	if !d.IsPositive() {
		return "", fmt.Errorf("数量 %.8f 小于 %s 的最小步长 %s", qty, symbol, step.String())
	}
	return d.String(), nil
}

func (e *LiveExchange) stepSize(ctx context.Context, symbol string) (decimal.Decimal, error) {
	e.mu.Lock()
	step, ok := e.stepSizes[symbol]
	e.mu.Unlock()
	if ok {
		return step, nil
	}

	info, err := e.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("获取交易规则失败: %w", err)
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		if f := s.LotSizeFilter(); f != nil {
			step, err = decimal.NewFromString(f.StepSize)
			if err != nil {
				return decimal.Zero, fmt.Errorf("解析步长失败: %w", err)
			}
		}
		e.mu.Lock()
		e.stepSizes[symbol] = step
		e.mu.Unlock()
		return step, nil
	}
	return decimal.Zero, fmt.Errorf("交易规则中未找到 %s", symbol)
}

func positionSide(side models.Side) futures.PositionSideType {
	if side == models.Short {
		return futures.PositionSideTypeShort
	}
	return futures.PositionSideTypeLong
}

func toFill(res *futures.CreateOrderResponse) *models.Fill {
	price, _ := strconv.ParseFloat(res.AvgPrice, 64)
	qty, _ := strconv.ParseFloat(res.ExecutedQuantity, 64)
	return &models.Fill{
		OrderID:  strconv.FormatInt(res.OrderID, 10),
		Price:    price,
		Quantity: qty,
	}
}

// ParseCandle 将字符串形式的K线字段转换为 Candle
func ParseCandle(openTimeMs int64, open, high, low, close, volume string) (models.Candle, error) {
	var (
		c    = models.Candle{OpenTime: time.UnixMilli(openTimeMs)}
		errs [5]error
	)
	c.Open, errs[0] = strconv.ParseFloat(open, 64)
	c.High, errs[1] = strconv.ParseFloat(high, 64)
	c.Low, errs[2] = strconv.ParseFloat(low, 64)
	c.Close, errs[3] = strconv.ParseFloat(close, 64)
	c.Volume, errs[4] = strconv.ParseFloat(volume, 64)
	for _, err := range errs {
		if err != nil {
			return models.Candle{}, err
		}
	}
	return c, nil
}
