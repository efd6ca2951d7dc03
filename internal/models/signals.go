package models

import "time"

// TrendSignal 趋势信号 (Parabolic SAR)
type TrendSignal struct {
	Value     float64 `json:"value"`
	IsUptrend bool    `json:"is_uptrend"`
}

// VolatilitySignal 波动率信号，Multiplier 为 ATR 占价格的百分比
type VolatilitySignal struct {
	Value      float64 `json:"value"`
	Multiplier float64 `json:"multiplier"`
}

// VolumeSignal 成交量信号，Multiplier 为当前量与均量之比
type VolumeSignal struct {
	Current    float64 `json:"current"`
	Average    float64 `json:"average"`
	Multiplier float64 `json:"multiplier"`
	IsSpike    bool    `json:"is_spike"`
}

// ROCSignal 变化率信号
type ROCSignal struct {
	Value   float64 `json:"value"`
	IsPanic bool    `json:"is_panic"`
}

// GridSignals 每个tick的外部信号快照，只读
type GridSignals struct {
	Trend      TrendSignal      `json:"trend"`
	Volatility VolatilitySignal `json:"volatility"`
	Volume     VolumeSignal     `json:"volume"`
	ROC        ROCSignal        `json:"roc"`
	Timestamp  time.Time        `json:"timestamp"`
}

// GridAction AI 决策动作
type GridAction string

const (
	ActionHold               GridAction = "HOLD"
	ActionCutLong            GridAction = "CUT_LONG"
	ActionCutShort           GridAction = "CUT_SHORT"
	ActionEmergencyRebalance GridAction = "EMERGENCY_REBALANCE"
	ActionCloseAll           GridAction = "CLOSE_ALL"
)

// AIDecision 一次决策评估的结果，生成后不再修改
type AIDecision struct {
	ID              string      `json:"id"`
	Action          GridAction  `json:"action"`
	Confidence      float64     `json:"confidence"`
	Reasoning       string      `json:"reasoning"`
	Signals         GridSignals `json:"signals"`
	Timestamp       time.Time   `json:"timestamp"`
	ExpectedOutcome string      `json:"expected_outcome"`
}
