package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"ai-grid-bot-go/internal/models"
)

var ErrNoPrice = errors.New("no price available yet")

// book 单一方向的模拟持仓
type book struct {
	Qty      float64
	AvgEntry float64
	Margin   float64
}

// PaperExchange 以当前K线收盘价立即成交的模拟交易所，用于回放模式。
// 多空两侧分开记账，等同于双向持仓模式。
type PaperExchange struct {
	Symbol         string
	InitialBalance float64
	Cash           float64 // 可用余额，不含已占用保证金
	CurrentPrice   float64
	CurrentTime    time.Time
	TakerFeeRate   float64 // 吃单手续费率
	SlippageRate   float64 // 滑点率
	TotalFees      float64 // 累积总手续费
	EquityCurve    []float64
	Fills          int

	books       map[models.Side]*book
	nextOrderID int64
	mu          sync.Mutex
}

// NewPaperExchange 创建模拟交易所
func NewPaperExchange(symbol string, cfg models.ReplayConfig) *PaperExchange {
	return &PaperExchange{
		Symbol:         symbol,
		InitialBalance: cfg.InitialBalance,
		Cash:           cfg.InitialBalance,
		TakerFeeRate:   cfg.TakerFeeRate,
		SlippageRate:   cfg.SlippageRate,
		EquityCurve:    make([]float64, 0, 10000),
		books: map[models.Side]*book{
			models.Long:  {},
			models.Short: {},
		},
		nextOrderID: 1,
	}
}

// SetPrice 推进模拟时钟并记录权益
func (e *PaperExchange) SetPrice(price float64, ts time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CurrentPrice = price
	e.CurrentTime = ts
	e.EquityCurve = append(e.EquityCurve, e.equityLocked())
}

func (e *PaperExchange) GetTicker(ctx context.Context, symbol string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.CurrentPrice <= 0 {
		return 0, ErrNoPrice
	}
	return e.CurrentPrice, nil
}

func (e *PaperExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}

// OpenPosition 以当前价加滑点成交，扣除保证金和手续费
func (e *PaperExchange) OpenPosition(ctx context.Context, req models.OpenRequest) (*models.Fill, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.CurrentPrice <= 0 {
		return nil, ErrNoPrice
	}
	price := e.CurrentPrice * (1 + e.SlippageRate)
	if req.Side == models.Short {
		price = e.CurrentPrice * (1 - e.SlippageRate)
	}
	qty := req.SizeUSD * float64(req.Leverage) / price
	fee := price * qty * e.TakerFeeRate

	if e.Cash < req.SizeUSD+fee {
		return nil, &models.Error{Code: -2019, Message: "Margin is insufficient."}
	}
	e.Cash -= req.SizeUSD + fee
	e.TotalFees += fee

	b := e.books[req.Side]
	b.AvgEntry = (b.AvgEntry*b.Qty + price*qty) / (b.Qty + qty)
	b.Qty += qty
	b.Margin += req.SizeUSD

	return e.fillLocked(price, qty), nil
}

// ClosePosition 减少指定方向的持仓，释放对应比例的保证金并结算盈亏
func (e *PaperExchange) ClosePosition(ctx context.Context, req models.CloseRequest) (*models.Fill, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b := e.books[req.Side]
	if b == nil || b.Qty <= 0 || req.Quantity > b.Qty*(1+1e-9) {
		return nil, &models.Error{Code: -2022, Message: "ReduceOnly Order is rejected."}
	}
	if e.CurrentPrice <= 0 {
		return nil, ErrNoPrice
	}

	qty := req.Quantity
	if qty > b.Qty {
		qty = b.Qty
	}
	price := e.CurrentPrice * (1 - e.SlippageRate)
	if req.Side == models.Short {
		price = e.CurrentPrice * (1 + e.SlippageRate)
	}

	pnl := (price - b.AvgEntry) * qty
	if req.Side == models.Short {
		pnl = -pnl
	}
	fee := price * qty * e.TakerFeeRate
	released := b.Margin * qty / b.Qty

	e.Cash += released + pnl - fee
	e.TotalFees += fee
	b.Margin -= released
	b.Qty -= qty
	if b.Qty <= 1e-12 {
		*b = book{}
	}

	return e.fillLocked(price, qty), nil
}

// Equity 当前权益 = 可用余额 + 保证金 + 未实现盈亏
func (e *PaperExchange) Equity() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.equityLocked()
}

func (e *PaperExchange) equityLocked() float64 {
	eq := e.Cash
	for side, b := range e.books {
		if b.Qty <= 0 {
			continue
		}
		u := (e.CurrentPrice - b.AvgEntry) * b.Qty
		if side == models.Short {
			u = -u
		}
		eq += b.Margin + u
	}
	return eq
}

func (e *PaperExchange) fillLocked(price, qty float64) *models.Fill {
	id := e.nextOrderID
	e.nextOrderID++
	e.Fills++
	return &models.Fill{OrderID: strconv.FormatInt(id, 10), Price: price, Quantity: qty}
}

// String 便于日志输出
func (e *PaperExchange) String() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fmt.Sprintf("paper[%s] equity=%.2f fees=%.2f fills=%d", e.Symbol, e.equityLocked(), e.TotalFees, e.Fills)
}
