// Package feed streams futures klines over WebSocket, keeps a rolling candle window
// and hands each price update with fresh signals to a tick handler.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ai-grid-bot-go/internal/exchange"
	"ai-grid-bot-go/internal/models"
	"ai-grid-bot-go/internal/signals"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TickHandler receives one price update. It is typically GridBot.OnPriceUpdate.
type TickHandler func(ctx context.Context, price float64, sig *models.GridSignals) error

// Options configures a KlineStream.
type Options struct {
	BaseURL        string // e.g. wss://fstream.binance.com
	Symbol         string
	Interval       string
	History        int
	PingInterval   time.Duration
	PongWait       time.Duration
	ReconnectDelay time.Duration
}

// KlineStream owns one WebSocket connection per symbol and reconnects until its
// context is cancelled.
type KlineStream struct {
	opts    Options
	calc    *signals.Calculator
	source  exchange.CandleSource
	handler TickHandler
	logger  *zap.Logger

	window     *signals.Window
	ticks      chan tick
	superseded atomic.Int64
	wg         sync.WaitGroup

	// Quiet is the set of handler errors logged at debug level only.
	Quiet []error
}

type tick struct {
	price float64
	sig   *models.GridSignals
}

func NewKlineStream(opts Options, calc *signals.Calculator, source exchange.CandleSource, handler TickHandler, logger *zap.Logger) *KlineStream {
	if opts.History < calc.MinCandles() {
		opts.History = calc.MinCandles()
	}
	if opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
	}
	if opts.PingInterval <= 0 || opts.PingInterval >= opts.PongWait {
		opts.PingInterval = (opts.PongWait * 9) / 10 // Must be less than pongWait
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	return &KlineStream{
		opts:    opts,
		calc:    calc,
		source:  source,
		handler: handler,
		logger:  logger.With(zap.String("symbol", opts.Symbol), zap.String("interval", opts.Interval)),
		window:  signals.NewWindow(opts.History),
		ticks:   make(chan tick, 1),
	}
}

// StreamURL returns the single-stream endpoint for the configured symbol.
func (s *KlineStream) StreamURL() string {
	return fmt.Sprintf("%s/ws/%s@kline_%s",
		strings.TrimRight(s.opts.BaseURL, "/"), strings.ToLower(s.opts.Symbol), s.opts.Interval)
}

// Warmup fills the candle window from REST history so signals are available on the
// first streamed update.
func (s *KlineStream) Warmup(ctx context.Context) error {
	if s.source == nil {
		return nil
	}
	candles, err := s.source.GetCandles(ctx, s.opts.Symbol, s.opts.Interval, s.opts.History)
	if err != nil {
		return fmt.Errorf("warmup %s: %w", s.opts.Symbol, err)
	}
	for _, c := range candles {
		s.window.Push(c)
	}
	s.logger.Info("candle window warmed up", zap.Int("candles", s.window.Len()))
	return nil
}

// Run connects and reads until ctx is cancelled, reconnecting after failures.
// The in-flight handler call is awaited before it returns.
func (s *KlineStream) Run(ctx context.Context) {
	s.wg.Add(1)
	go s.dispatchLoop(ctx)
	defer s.wg.Wait()

	for {
		if ctx.Err() != nil {
			s.logger.Info("kline stream stopped")
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.StreamURL(), nil)
		if err != nil {
			s.logger.Warn("websocket connect failed, retrying", zap.Error(err), zap.Duration("delay", s.opts.ReconnectDelay))
			if !sleep(ctx, s.opts.ReconnectDelay) {
				return
			}
			continue
		}

		s.logger.Info("websocket connected", zap.String("url", s.StreamURL()))
		if err := s.readLoop(ctx, conn); err != nil {
			s.logger.Warn("websocket read failed", zap.Error(err))
		}
		conn.Close()

		if ctx.Err() != nil {
			continue
		}
		s.logger.Info("websocket disconnected, reconnecting", zap.Duration("delay", s.opts.ReconnectDelay))
		if !sleep(ctx, s.opts.ReconnectDelay) {
			return
		}
	}
}

// readLoop serves one connection with ping/pong keepalive. It returns nil on a clean
// shutdown.
func (s *KlineStream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	done := make(chan struct{})
	defer close(done)

	var writeMu sync.Mutex
	go func() {
		pingTicker := time.NewTicker(s.opts.PingInterval)
		defer pingTicker.Stop()
		for {
			select {
			case <-pingTicker.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
				writeMu.Unlock()
				if err != nil {
					s.logger.Warn("send ping failed", zap.Error(err))
					return
				}
			case <-ctx.Done():
				// unblock ReadMessage with a close frame
				writeMu.Lock()
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				writeMu.Unlock()
				conn.SetReadDeadline(time.Now())
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}
		price, sig, ok, err := s.Ingest(message)
		if err != nil {
			s.logger.Warn("skip malformed kline message", zap.Error(err))
			continue
		}
		if ok {
			s.offer(tick{price: price, sig: sig})
		}
	}
}

// Ingest parses one kline event and updates the window. ok is false when the message
// carries no tick yet, e.g. while the window is still shorter than the indicators need.
func (s *KlineStream) Ingest(message []byte) (price float64, sig *models.GridSignals, ok bool, err error) {
	var ev futures.WsKlineEvent
	if err := json.Unmarshal(message, &ev); err != nil {
		return 0, nil, false, fmt.Errorf("decode kline: %w", err)
	}
	if ev.Event != "kline" {
		return 0, nil, false, nil
	}
	k := ev.Kline
	c, err := exchange.ParseCandle(k.StartTime, k.Open, k.High, k.Low, k.Close, k.Volume)
	if err != nil {
		return 0, nil, false, fmt.Errorf("parse kline: %w", err)
	}
	s.window.Push(c)

	sig, err = s.calc.Calculate(s.window.Candles())
	if err != nil {
		if errors.Is(err, signals.ErrInsufficientData) {
			s.logger.Debug("waiting for candle history", zap.Int("have", s.window.Len()))
			return 0, nil, false, nil
		}
		return 0, nil, false, err
	}
	return c.Close, sig, true, nil
}

// offer queues t for the dispatcher, replacing a tick that has not been picked up yet.
func (s *KlineStream) offer(t tick) {
	for {
		select {
		case s.ticks <- t:
			return
		default:
		}
		select {
		case old := <-s.ticks:
			s.superseded.Add(1)
			s.logger.Debug("tick superseded by a newer price", zap.Float64("price", old.price))
		default:
		}
	}
}

// dispatchLoop hands ticks to the handler one at a time, in arrival order.
func (s *KlineStream) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-s.ticks:
			if err := s.handler(ctx, t.price, t.sig); err != nil {
				if s.quiet(err) {
					s.logger.Debug("tick not processed", zap.Error(err))
					continue
				}
				s.logger.Warn("tick failed", zap.Float64("price", t.price), zap.Error(err))
			}
		}
	}
}

// Superseded returns how many ticks were replaced before the handler saw them.
func (s *KlineStream) Superseded() int64 {
	return s.superseded.Load()
}

func (s *KlineStream) quiet(err error) bool {
	for _, q := range s.Quiet {
		if errors.Is(err, q) {
			return true
		}
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
