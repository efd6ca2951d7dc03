package models

import (
	"fmt"
	"time"
)

// Config 结构体定义了进程级别的全部配置参数
type Config struct {
	IsTestnet     bool   `json:"is_testnet" yaml:"is_testnet"`         // 是否使用测试网
	HedgeMode     bool   `json:"hedge_mode" yaml:"hedge_mode"`         // 对冲模式 (双向持仓); 网格多空并存, 单向模式下反向开仓会轧差, 实盘必须开启
	DBPath        string `json:"db_path" yaml:"db_path"`               // badger 状态快照目录
	JournalPath   string `json:"journal_path" yaml:"journal_path"`     // sqlite 交易日志文件
	LiveWSURL     string `json:"live_ws_url" yaml:"live_ws_url"`       // 生产网 WebSocket 地址
	TestnetWSURL  string `json:"testnet_ws_url" yaml:"testnet_ws_url"` // 测试网 WebSocket 地址
	KlineInterval string `json:"kline_interval" yaml:"kline_interval"` // 信号计算使用的K线周期
	CandleHistory int    `json:"candle_history" yaml:"candle_history"` // 保留的K线数量

	WebSocketPingIntervalSec int `json:"websocket_ping_interval_sec,omitempty" yaml:"websocket_ping_interval_sec"` // WebSocket Ping消息发送间隔(秒)
	WebSocketPongTimeoutSec  int `json:"websocket_pong_timeout_sec,omitempty" yaml:"websocket_pong_timeout_sec"`   // WebSocket Pong消息超时时间(秒)

	Signals   SignalConfig `json:"signals" yaml:"signals"`
	API       APIConfig    `json:"api" yaml:"api"`
	Replay    ReplayConfig `json:"replay" yaml:"replay"`
	LogConfig LogConfig    `json:"log" yaml:"log"`
	Bots      []GridConfig `json:"bots" yaml:"bots"` // 每个交易对一个机器人实例

	WSBaseURL string `json:"ws_base_url" yaml:"ws_base_url"` // WebSocket基础地址 (将由程序动态设置)
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level" yaml:"level"`             // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output" yaml:"output"`           // 输出模式: "console", "file", "both"
	File       string `json:"file" yaml:"file"`               // 日志文件路径
	MaxSize    int    `json:"max_size" yaml:"max_size"`       // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups" yaml:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age" yaml:"max_age"`         // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress" yaml:"compress"`       // 是否压缩旧日志文件
}

// SignalConfig 指标计算参数
type SignalConfig struct {
	SARStep               float64 `json:"sar_step" yaml:"sar_step"`
	SARMax                float64 `json:"sar_max" yaml:"sar_max"`
	ATRPeriod             int     `json:"atr_period" yaml:"atr_period"`
	VolumePeriod          int     `json:"volume_period" yaml:"volume_period"`
	VolumeSpikeMultiplier float64 `json:"volume_spike_multiplier" yaml:"volume_spike_multiplier"` // 成交量超过均值多少倍视为放量
	ROCPeriod             int     `json:"roc_period" yaml:"roc_period"`
	PanicThreshold        float64 `json:"panic_threshold" yaml:"panic_threshold"` // |ROC| 超过该百分比视为恐慌
}

// APIConfig 状态查询接口配置
type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// ReplayConfig 回放模式下模拟交易所的参数
type ReplayConfig struct {
	InitialBalance float64 `json:"initial_balance" yaml:"initial_balance"`
	TakerFeeRate   float64 `json:"taker_fee_rate" yaml:"taker_fee_rate"` // 吃单手续费率
	SlippageRate   float64 `json:"slippage_rate" yaml:"slippage_rate"`   // 滑点率
}

// Aggressiveness AI 决策激进程度
type Aggressiveness string

const (
	AggressivenessLow    Aggressiveness = "low"
	AggressivenessMedium Aggressiveness = "medium"
	AggressivenessHigh   Aggressiveness = "high"
)

// Factor 返回置信度缩放系数
func (a Aggressiveness) Factor() float64 {
	switch a {
	case AggressivenessLow:
		return 0.8
	case AggressivenessHigh:
		return 1.2
	default:
		return 1.0
	}
}

// GridConfig 单个网格机器人的参数，运行期间不可变
type GridConfig struct {
	Symbol          string  `json:"symbol" yaml:"symbol"`                     // 交易对，如 "BTCUSDT"
	TotalInvestment float64 `json:"total_investment" yaml:"total_investment"` // 投入资金 (USDT)
	Leverage        int     `json:"leverage" yaml:"leverage"`                 // 杠杆倍数
	GridSpacing     float64 `json:"grid_spacing" yaml:"grid_spacing"`         // 网格间距 (%)
	LevelsPerSide   int     `json:"levels_per_side" yaml:"levels_per_side"`   // 每侧虚拟网格数量

	MinPositions       int `json:"min_positions" yaml:"min_positions"`
	MaxPositions       int `json:"max_positions" yaml:"max_positions"`
	MaxActivePositions int `json:"max_active_positions" yaml:"max_active_positions"` // 同时持有的真实仓位上限

	StopLossPercent         float64 `json:"stop_loss_percent" yaml:"stop_loss_percent"`
	TakeProfitPercent       float64 `json:"take_profit_percent" yaml:"take_profit_percent"`
	UseDynamicStops         bool    `json:"use_dynamic_stops" yaml:"use_dynamic_stops"` // 使用ATR倍数计算止损止盈
	ATRStopMultiplier       float64 `json:"atr_stop_multiplier" yaml:"atr_stop_multiplier"`
	ATRTakeProfitMultiplier float64 `json:"atr_take_profit_multiplier" yaml:"atr_take_profit_multiplier"`
	UseTrailingStop         bool    `json:"use_trailing_stop" yaml:"use_trailing_stop"`
	TrailingStopPercent     float64 `json:"trailing_stop_percent" yaml:"trailing_stop_percent"`

	RebalanceThreshold    float64 `json:"rebalance_threshold" yaml:"rebalance_threshold"`         // 空仓时价格偏离中心超过该百分比则重建网格
	MaxCapitalUtilization float64 `json:"max_capital_utilization" yaml:"max_capital_utilization"` // 资金使用上限 (%)
	MaxPositionBias       float64 `json:"max_position_bias" yaml:"max_position_bias"`             // 多空偏离上限 (%)，100 表示不限制

	UseTrendFilter          bool    `json:"use_trend_filter" yaml:"use_trend_filter"`
	UseVolumeFilter         bool    `json:"use_volume_filter" yaml:"use_volume_filter"`
	MinVolumeMultiplier     float64 `json:"min_volume_multiplier" yaml:"min_volume_multiplier"`
	UseReversalConfirmation bool    `json:"use_reversal_confirmation" yaml:"use_reversal_confirmation"`

	ReactiveMode      bool    `json:"reactive_mode" yaml:"reactive_mode"`
	ReactionLookback  int     `json:"reaction_lookback" yaml:"reaction_lookback"` // 目前未使用，仅比较上一tick
	ReactionThreshold float64 `json:"reaction_threshold" yaml:"reaction_threshold"`

	LevelCooldownSec int `json:"level_cooldown_sec" yaml:"level_cooldown_sec"` // 平仓后网格冷却时间(秒)

	AIConfidenceThreshold float64        `json:"ai_confidence_threshold" yaml:"ai_confidence_threshold"`
	AIAggressiveness      Aggressiveness `json:"ai_aggressiveness" yaml:"ai_aggressiveness"`
}

// SpacingFraction 返回小数形式的网格间距
func (c GridConfig) SpacingFraction() float64 {
	return c.GridSpacing / 100
}

// LevelCooldown 返回冷却时长
func (c GridConfig) LevelCooldown() time.Duration {
	return time.Duration(c.LevelCooldownSec) * time.Second
}

// SlotMargin 返回单个仓位占用的保证金 (USDT)
func (c GridConfig) SlotMargin() float64 {
	if c.MaxPositions <= 0 {
		return 0
	}
	return c.TotalInvestment * (c.MaxCapitalUtilization / 100) / float64(c.MaxPositions)
}

// Candle K线数据
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// OpenRequest 开仓请求
type OpenRequest struct {
	Symbol   string
	Side     Side
	SizeUSD  float64 // 保证金 (USDT)
	Leverage int
	Price    float64 // 用于换算下单数量的参考价格
}

// CloseRequest 平仓请求，只减少指定方向、指定数量的持仓
type CloseRequest struct {
	Symbol   string
	Side     Side
	Quantity float64
}

// Fill 交易所成交回报
type Fill struct {
	OrderID  string  `json:"order_id"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// TradeRecord 已平仓交易记录
type TradeRecord struct {
	PositionID string    `json:"position_id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	LevelID    string    `json:"level_id"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Size       float64   `json:"size"`
	SizeUSD    float64   `json:"size_usd"`
	Leverage   int       `json:"leverage"`
	PnL        float64   `json:"pnl"`
	PnLPercent float64   `json:"pnl_percent"`
	Reason     string    `json:"reason"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at"`
}

// Error 定义了币安API返回的错误格式
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("API Error: code=%d, msg=%s", e.Code, e.Message)
}
