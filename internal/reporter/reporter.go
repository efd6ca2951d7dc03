package reporter

import (
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"ai-grid-bot-go/internal/exchange"
	"ai-grid-bot-go/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Metrics 存储回放结束后的性能指标
type Metrics struct {
	Symbol           string
	DataPath         string
	InitialBalance   float64
	FinalEquity      float64
	TotalProfit      float64
	ProfitPercentage float64
	TotalFees        float64
	Fills            int
	TotalTrades      int
	WinningTrades    int
	LosingTrades     int
	WinRate          float64
	AvgProfitLoss    float64 // 平均盈利 / 平均亏损
	MaxDrawdown      float64 // 百分比
	Performance      models.Performance
	StartTime        time.Time
	EndTime          time.Time
}

// CalculateMetrics 根据模拟交易所的权益曲线和机器人的成交记录计算指标
func CalculateMetrics(pe *exchange.PaperExchange, perf models.Performance, trades []models.TradeRecord) Metrics {
	m := Metrics{
		Symbol:         pe.Symbol,
		InitialBalance: pe.InitialBalance,
		FinalEquity:    pe.Equity(),
		TotalFees:      pe.TotalFees,
		Fills:          pe.Fills,
		TotalTrades:    len(trades),
		Performance:    perf,
	}

	var totalProfit, totalLoss float64
	for _, tr := range trades {
		if tr.PnL > 0 {
			m.WinningTrades++
			totalProfit += tr.PnL
		} else {
			m.LosingTrades++
			totalLoss += tr.PnL
		}
	}
	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	}
	if m.LosingTrades > 0 && m.WinningTrades > 0 {
		avgWin := totalProfit / float64(m.WinningTrades)
		avgLoss := math.Abs(totalLoss / float64(m.LosingTrades))
		if avgLoss > 0 {
			m.AvgProfitLoss = avgWin / avgLoss
		}
	}

	m.TotalProfit = m.FinalEquity - m.InitialBalance
	if m.InitialBalance != 0 {
		m.ProfitPercentage = m.TotalProfit / m.InitialBalance * 100
	}
	m.MaxDrawdown = MaxDrawdown(pe.EquityCurve) * 100
	return m
}

// MaxDrawdown 返回权益曲线的最大回撤 (0-1)
func MaxDrawdown(equityCurve []float64) float64 {
	if len(equityCurve) < 2 {
		return 0.0
	}
	peak := equityCurve[0]
	maxDrawdown := 0.0

	for _, equity := range equityCurve {
		if equity > peak {
			peak = equity
		}
		if peak <= 0 {
			continue
		}
		drawdown := (peak - equity) / peak
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}

// WriteReplayReport 输出回放结果报告
func WriteReplayReport(w io.Writer, m Metrics) {
	t := newTable(w)
	t.SetTitle("回放结果报告 " + m.Symbol)
	t.AppendRows([]table.Row{
		{"数据文件", m.DataPath},
		{"回放周期", fmt.Sprintf("%s 到 %s", m.StartTime.Format("2006-01-02 15:04"), m.EndTime.Format("2006-01-02 15:04"))},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"初始资金", usdt(m.InitialBalance)},
		{"最终权益", usdt(m.FinalEquity)},
		{"总利润", usdt(m.TotalProfit)},
		{"收益率", pct(m.ProfitPercentage)},
		{"手续费", usdt(m.TotalFees)},
		{"最大回撤", pct(m.MaxDrawdown)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"成交笔数", m.Fills},
		{"平仓交易", m.TotalTrades},
		{"盈利/亏损", fmt.Sprintf("%d / %d", m.WinningTrades, m.LosingTrades)},
		{"胜率", pct(m.WinRate)},
		{"平均盈亏比", fmt.Sprintf("%.2f", m.AvgProfitLoss)},
	})
	t.Render()

	WritePerformance(w, m.Symbol, m.Performance)
}

// WritePerformance 输出机器人运行统计
func WritePerformance(w io.Writer, symbol string, p models.Performance) {
	t := newTable(w)
	t.SetTitle("运行统计 " + symbol)
	t.AppendRows([]table.Row{
		{"已实现盈亏", usdt(p.RealizedPnL)},
		{"未实现盈亏", usdt(p.UnrealizedPnL)},
		{"胜率", pct(p.WinRate)},
		{"开仓 / 失败", fmt.Sprintf("%d / %d", p.PositionsOpened, p.OpenFailures)},
		{"平仓失败", p.CloseFailures},
		{"AI决策 执行/丢弃/失败", fmt.Sprintf("%d / %d / %d", p.DecisionsExecuted, p.DecisionsDiscarded, p.DecisionsFailed)},
		{"紧急再平衡", p.EmergencyRebalances},
		{"网格重置", p.Recenters},
		{"丢弃的tick", p.DroppedTicks},
	})
	for _, reason := range sortedKeys(p.RejectedLevels) {
		t.AppendRow(table.Row{"拒绝: " + reason, p.RejectedLevels[reason]})
	}
	t.Render()
}

// WritePositions 输出当前持仓
func WritePositions(w io.Writer, positions []models.GridPosition) {
	t := newTable(w)
	t.SetTitle(fmt.Sprintf("当前持仓 (%d)", len(positions)))
	t.AppendHeader(table.Row{"ID", "方向", "入场价", "现价", "数量", "保证金", "止损", "止盈", "盈亏", "盈亏%"})
	var total float64
	for _, p := range positions {
		t.AppendRow(table.Row{
			p.ID, p.Side,
			fmt.Sprintf("%.4f", p.EntryPrice),
			fmt.Sprintf("%.4f", p.CurrentPrice),
			fmt.Sprintf("%.6f", p.Size),
			usdt(p.SizeUSD),
			fmt.Sprintf("%.4f", p.StopLoss),
			fmt.Sprintf("%.4f", p.TakeProfit),
			usdt(p.UnrealizedPnL),
			pct(p.PnLPercent),
		})
		total += p.UnrealizedPnL
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "", "合计", usdt(total), ""})
	t.Render()
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Title.Align = text.AlignCenter
	return t
}

func usdt(v float64) string {
	return fmt.Sprintf("%.2f USDT", v)
}

func pct(v float64) string {
	return fmt.Sprintf("%.2f%%", v)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
