package models

import "time"

// Side 定义了仓位方向的类型
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// Opposite 返回相反方向
func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

// LevelStatus 虚拟网格的生命周期状态
type LevelStatus string

const (
	LevelPending  LevelStatus = "pending"
	LevelFilled   LevelStatus = "filled"
	LevelCooldown LevelStatus = "cooldown"
)

// VirtualLevel 虚拟网格线，被穿越并通过准入检查后才会转为真实仓位
type VirtualLevel struct {
	ID           string      `json:"id"`
	Price        float64     `json:"price"`
	Side         Side        `json:"side"`
	Distance     int         `json:"distance"` // 距中心的档位，空单为正，多单为负
	Status       LevelStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	LastClosedAt *time.Time  `json:"last_closed_at,omitempty"`
}

// GridPosition 真实的带杠杆仓位
type GridPosition struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	Size          float64   `json:"size"`     // 基础资产数量
	SizeUSD       float64   `json:"size_usd"` // 占用保证金 (USDT)
	EntryPrice    float64   `json:"entry_price"`
	CurrentPrice  float64   `json:"current_price"`
	StopLoss      float64   `json:"stop_loss"`
	TakeProfit    float64   `json:"take_profit"`
	Leverage      int       `json:"leverage"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	PnLPercent    float64   `json:"pnl_percent"` // 价格变动百分比，按方向取符号
	HighestPrice  float64   `json:"highest_price"`
	LowestPrice   float64   `json:"lowest_price"`
	LevelID       string    `json:"level_id,omitempty"`
	OpenedAt      time.Time `json:"opened_at"`
}

// Notional 返回名义价值
func (p *GridPosition) Notional() float64 {
	return p.SizeUSD * float64(p.Leverage)
}

// Performance 运行统计
type Performance struct {
	TotalTrades         int            `json:"total_trades"` // 已平仓交易数
	WinningTrades       int            `json:"winning_trades"`
	LosingTrades        int            `json:"losing_trades"`
	WinRate             float64        `json:"win_rate"`
	RealizedPnL         float64        `json:"realized_pnl"`
	UnrealizedPnL       float64        `json:"unrealized_pnl"`
	PositionsOpened     int            `json:"positions_opened"`
	OpenFailures        int            `json:"open_failures"`
	CloseFailures       int            `json:"close_failures"`
	RejectedLevels      map[string]int `json:"rejected_levels"` // 按拒绝原因统计
	DecisionsExecuted   int            `json:"decisions_executed"`
	DecisionsDiscarded  int            `json:"decisions_discarded"`
	DecisionsFailed     int            `json:"decisions_failed"` // 已执行但有平仓失败
	EmergencyRebalances int            `json:"emergency_rebalances"`
	Recenters           int            `json:"recenters"`
	DroppedTicks        int64          `json:"dropped_ticks"`
}

// GridState 机器人的全部可变状态，只由机器人自身的tick流程写入
type GridState struct {
	BotID         string          `json:"bot_id"`
	Config        GridConfig      `json:"config"`
	Positions     []*GridPosition `json:"positions"`
	Levels        []*VirtualLevel `json:"levels"`
	CenterPrice   float64         `json:"center_price"`
	CurrentPrice  float64         `json:"current_price"`
	LastRebalance time.Time       `json:"last_rebalance"`
	LastUpdate    time.Time       `json:"last_update"`
	Performance   Performance     `json:"performance"`
	Running       bool            `json:"running"`
	Stale         bool            `json:"stale"` // 最近一次交易所调用失败
	LastError     string          `json:"last_error,omitempty"`
}

// FindLevel 按ID查找网格线
func (s *GridState) FindLevel(id string) *VirtualLevel {
	for _, l := range s.Levels {
		if l.ID == id {
			return l
		}
	}
	return nil
}

// FindPosition 按ID查找仓位
func (s *GridState) FindPosition(id string) *GridPosition {
	for _, p := range s.Positions {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// Exposure 返回多空两侧的保证金占用
func (s *GridState) Exposure() (long, short float64) {
	for _, p := range s.Positions {
		if p.Side == Long {
			long += p.SizeUSD
		} else {
			short += p.SizeUSD
		}
	}
	return long, short
}

// PositionBias |多-空| / 总暴露，百分比
func (s *GridState) PositionBias() float64 {
	long, short := s.Exposure()
	return Bias(long, short)
}

// Bias 计算多空偏离百分比
func Bias(long, short float64) float64 {
	total := long + short
	if total <= 0 {
		return 0
	}
	diff := long - short
	if diff < 0 {
		diff = -diff
	}
	return diff / total * 100
}

// Clone 深拷贝，用于对外发布快照和持久化
func (s *GridState) Clone() *GridState {
	if s == nil {
		return nil
	}
	cp := *s

	if s.Positions != nil {
		cp.Positions = make([]*GridPosition, len(s.Positions))
		for i, p := range s.Positions {
			pc := *p
			cp.Positions[i] = &pc
		}
	}

	if s.Levels != nil {
		cp.Levels = make([]*VirtualLevel, len(s.Levels))
		for i, l := range s.Levels {
			lc := *l
			if l.LastClosedAt != nil {
				t := *l.LastClosedAt
				lc.LastClosedAt = &t
			}
			cp.Levels[i] = &lc
		}
	}

	if s.Performance.RejectedLevels != nil {
		cp.Performance.RejectedLevels = make(map[string]int, len(s.Performance.RejectedLevels))
		for k, v := range s.Performance.RejectedLevels {
			cp.Performance.RejectedLevels[k] = v
		}
	}

	return &cp
}
