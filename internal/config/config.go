package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ai-grid-bot-go/internal/models"

	"gopkg.in/yaml.v3"
)

// LoadConfig 从指定路径加载配置文件 (JSON 或 YAML，按扩展名判断)，填充默认值并校验
func LoadConfig(path string) (*models.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &models.Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}

	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults 为未设置的字段填充默认值
func ApplyDefaults(cfg *models.Config) {
	if cfg.DBPath == "" {
		cfg.DBPath = "data/state"
	}
	if cfg.JournalPath == "" {
		cfg.JournalPath = "data/journal.db"
	}
	if cfg.LiveWSURL == "" {
		cfg.LiveWSURL = "wss://fstream.binance.com"
	}
	if cfg.TestnetWSURL == "" {
		cfg.TestnetWSURL = "wss://stream.binancefuture.com"
	}
	if cfg.KlineInterval == "" {
		cfg.KlineInterval = "1m"
	}
	if cfg.CandleHistory <= 0 {
		cfg.CandleHistory = 200
	}
	if cfg.WebSocketPingIntervalSec <= 0 {
		cfg.WebSocketPingIntervalSec = 30
	}
	if cfg.WebSocketPongTimeoutSec <= 0 {
		cfg.WebSocketPongTimeoutSec = 60
	}
	if cfg.API.Addr == "" {
		cfg.API.Addr = ":8080"
	}
	if cfg.Replay.InitialBalance <= 0 {
		cfg.Replay.InitialBalance = 10000
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.LogConfig.Output == "" {
		cfg.LogConfig.Output = "console"
	}

	s := &cfg.Signals
	if s.SARStep <= 0 {
		s.SARStep = 0.02
	}
	if s.SARMax <= 0 {
		s.SARMax = 0.2
	}
	if s.ATRPeriod <= 0 {
		s.ATRPeriod = 14
	}
	if s.VolumePeriod <= 0 {
		s.VolumePeriod = 20
	}
	if s.VolumeSpikeMultiplier <= 0 {
		s.VolumeSpikeMultiplier = 2.0
	}
	if s.ROCPeriod <= 0 {
		s.ROCPeriod = 5
	}
	if s.PanicThreshold <= 0 {
		s.PanicThreshold = 3.0
	}

	for i := range cfg.Bots {
		ApplyGridDefaults(&cfg.Bots[i])
	}
}

// ApplyGridDefaults 为单个网格机器人填充默认值
func ApplyGridDefaults(g *models.GridConfig) {
	g.Symbol = strings.ToUpper(g.Symbol)
	if g.Leverage == 0 {
		g.Leverage = 10
	}
	if g.LevelsPerSide == 0 {
		g.LevelsPerSide = 25
	}
	if g.MaxPositions == 0 {
		g.MaxPositions = 10
	}
	if g.MaxActivePositions == 0 {
		g.MaxActivePositions = g.MaxPositions
	}
	if g.MaxCapitalUtilization == 0 {
		g.MaxCapitalUtilization = 80
	}
	if g.MaxPositionBias == 0 {
		g.MaxPositionBias = 100
	}
	if g.MinVolumeMultiplier == 0 {
		g.MinVolumeMultiplier = 1.0
	}
	if g.LevelCooldownSec == 0 {
		g.LevelCooldownSec = 60
	}
	if g.AIAggressiveness == "" {
		g.AIAggressiveness = models.AggressivenessMedium
	}
	if g.ReactionLookback == 0 {
		g.ReactionLookback = 1
	}
}

// Validate 检查进程级配置；任何一个机器人配置无效都会阻止启动
func Validate(cfg *models.Config) error {
	if len(cfg.Bots) == 0 {
		return errors.New("配置中没有任何机器人 (bots 为空)")
	}
	seen := make(map[string]bool, len(cfg.Bots))
	for _, b := range cfg.Bots {
		if err := ValidateGridConfig(b); err != nil {
			return err
		}
		if seen[b.Symbol] {
			return fmt.Errorf("交易对 %s 重复配置", b.Symbol)
		}
		seen[b.Symbol] = true
	}
	return nil
}

// ValidateLive 检查实盘额外要求：网格双向持仓，必须开启对冲模式
func ValidateLive(cfg *models.Config) error {
	if !cfg.HedgeMode {
		return errors.New("实盘交易需要 hedge_mode: true, 单向持仓模式下多空网格仓位会相互轧差")
	}
	return nil
}

// ValidateGridConfig 检查单个网格配置
func ValidateGridConfig(g models.GridConfig) error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(g.Symbol != "", "symbol 不能为空")
	check(g.TotalInvestment > 0, "total_investment 必须大于0")
	check(g.Leverage >= 1 && g.Leverage <= 125, "leverage 必须在 1-125 之间")
	check(g.GridSpacing > 0 && g.GridSpacing < 100, "grid_spacing 必须在 (0, 100) 之间")
	check(g.LevelsPerSide >= 1, "levels_per_side 必须至少为1")
	check(g.MaxPositions >= 1, "max_positions 必须至少为1")
	check(g.MaxActivePositions >= 1 && g.MaxActivePositions <= g.MaxPositions,
		"max_active_positions (%d) 必须在 1 和 max_positions (%d) 之间", g.MaxActivePositions, g.MaxPositions)
	check(g.MinPositions >= 0 && g.MinPositions <= g.MaxPositions, "min_positions 必须在 0 和 max_positions 之间")
	check(g.StopLossPercent >= 0 && g.TakeProfitPercent >= 0, "止损止盈百分比不能为负")
	check(!g.UseDynamicStops || (g.ATRStopMultiplier > 0 && g.ATRTakeProfitMultiplier > 0), "启用动态止损时 ATR 倍数必须大于0")
	check(!g.UseTrailingStop || g.TrailingStopPercent > 0, "启用移动止损时 trailing_stop_percent 必须大于0")
	check(g.RebalanceThreshold >= 0, "rebalance_threshold 不能为负")
	check(g.MaxCapitalUtilization > 0 && g.MaxCapitalUtilization <= 100, "max_capital_utilization 必须在 (0, 100] 之间")
	check(g.MaxPositionBias > 0 && g.MaxPositionBias <= 100, "max_position_bias 必须在 (0, 100] 之间")
	check(!g.ReactiveMode || g.ReactionThreshold > 0, "启用反应模式时 reaction_threshold 必须大于0")
	check(g.LevelCooldownSec >= 0, "level_cooldown_sec 不能为负")
	check(g.AIConfidenceThreshold >= 0 && g.AIConfidenceThreshold <= 100, "ai_confidence_threshold 必须在 [0, 100] 之间")
	switch g.AIAggressiveness {
	case models.AggressivenessLow, models.AggressivenessMedium, models.AggressivenessHigh:
	default:
		errs = append(errs, fmt.Errorf("未知的 ai_aggressiveness: %q", g.AIAggressiveness))
	}

	if len(errs) > 0 {
		return fmt.Errorf("机器人 %q 配置无效: %w", g.Symbol, errors.Join(errs...))
	}
	return nil
}
