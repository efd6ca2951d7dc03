package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"ai-grid-bot-go/internal/api"
	"ai-grid-bot-go/internal/bot"
	"ai-grid-bot-go/internal/config"
	"ai-grid-bot-go/internal/downloader"
	"ai-grid-bot-go/internal/exchange"
	"ai-grid-bot-go/internal/feed"
	"ai-grid-bot-go/internal/logger"
	"ai-grid-bot-go/internal/models"
	"ai-grid-bot-go/internal/persistence"
	"ai-grid-bot-go/internal/reporter"
	"ai-grid-bot-go/internal/signals"
	"ai-grid-bot-go/internal/statemanager"
	"ai-grid-bot-go/internal/storage"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const stopTimeout = 30 * time.Second

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "config.json", "path to the config file (.json or .yaml)")
	mode := flag.String("mode", "live", "running mode: live or replay")
	dataPath := flag.String("data", "", "path to historical kline CSV for replay")
	symbol := flag.String("symbol", "", "symbol to replay (e.g., BNBUSDT)")
	startDate := flag.String("start", "", "start date for replay download (YYYY-MM-DD)")
	endDate := flag.String("end", "", "end date for replay download (YYYY-MM-DD)")
	flag.Parse()

	// --- 初始化日志 (提前) ---
	// 加载.env或配置时就需要记录日志，先用默认配置初始化
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	// --- 使用文件中的配置重新初始化日志 ---
	log := logger.InitLogger(cfg.LogConfig)
	defer logger.Sync()

	switch *mode {
	case "live":
		if err := runLiveMode(cfg, log); err != nil {
			log.Fatal("实时模式异常退出", zap.Error(err))
		}
	case "replay", "backtest":
		path, err := resolveReplayData(cfg, *symbol, *startDate, *endDate, *dataPath, log)
		if err != nil {
			log.Fatal("无法准备回放数据", zap.Error(err))
		}
		if err := runReplayMode(cfg, path, *symbol, log); err != nil {
			log.Fatal("回放失败", zap.Error(err))
		}
	default:
		log.Fatal("未知的运行模式，请选择 'live' 或 'replay'", zap.String("mode", *mode))
	}
}

// runLiveMode 为每个配置的交易对启动一个机器人和一条K线数据流，直到收到退出信号
func runLiveMode(cfg *models.Config, log *zap.Logger) error {
	log.Info("--- 启动实时交易模式 ---", zap.Bool("testnet", cfg.IsTestnet), zap.Int("bots", len(cfg.Bots)))

	// 从环境变量加载API密钥
	apiKey := os.Getenv("BINANCE_API_KEY")
	secretKey := os.Getenv("BINANCE_SECRET_KEY")
	if apiKey == "" || secretKey == "" {
		return errors.New("BINANCE_API_KEY 和 BINANCE_SECRET_KEY 环境变量必须被设置")
	}
	if err := config.ValidateLive(cfg); err != nil {
		return err
	}

	cfg.WSBaseURL = cfg.LiveWSURL
	if cfg.IsTestnet {
		cfg.WSBaseURL = cfg.TestnetWSURL
	}

	ex := exchange.NewLiveExchange(apiKey, secretKey, cfg.IsTestnet, cfg.HedgeMode, log)

	repo, err := persistence.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("打开状态数据库失败: %w", err)
	}
	defer repo.Close()

	journal, err := storage.OpenJournal(cfg.JournalPath)
	if err != nil {
		return fmt.Errorf("打开交易日志失败: %w", err)
	}
	defer journal.Close()

	sm := statemanager.NewStateManager(repo, journal, log)
	sm.Start()
	defer sm.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bots := make([]*bot.GridBot, 0, len(cfg.Bots))
	streams := make([]*feed.KlineStream, 0, len(cfg.Bots))
	for _, bc := range cfg.Bots {
		gb, err := startBot(ctx, bc, ex, repo, sm, log)
		if err != nil {
			stopBots(bots, log)
			return err
		}
		bots = append(bots, gb)

		stream := feed.NewKlineStream(feed.Options{
			BaseURL:      cfg.WSBaseURL,
			Symbol:       bc.Symbol,
			Interval:     cfg.KlineInterval,
			History:      cfg.CandleHistory,
			PingInterval: time.Duration(cfg.WebSocketPingIntervalSec) * time.Second,
			PongWait:     time.Duration(cfg.WebSocketPongTimeoutSec) * time.Second,
		}, signals.NewCalculator(cfg.Signals), ex, gb.OnPriceUpdate, log)
		stream.Quiet = []error{bot.ErrTickInProgress, bot.ErrNotRunning, bot.ErrSignalUnavailable}
		if err := stream.Warmup(ctx); err != nil {
			log.Warn("K线预热失败，等待数据流补齐", zap.String("symbol", bc.Symbol), zap.Error(err))
		}
		streams = append(streams, stream)
	}

	var wg sync.WaitGroup
	for _, s := range streams {
		wg.Add(1)
		go func(s *feed.KlineStream) {
			defer wg.Done()
			s.Run(ctx)
		}(s)
	}

	if cfg.API.Enabled {
		apiBots := make([]api.Bot, len(bots))
		for i, b := range bots {
			apiBots[i] = b
		}
		srv := api.NewServer(cfg.API.Addr, apiBots, journal, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				log.Error("API 服务异常退出", zap.Error(err))
			}
		}()
	}

	log.Info("所有机器人已启动，按 Ctrl+C 退出")
	<-ctx.Done()
	log.Info("收到退出信号，正在停止...")
	wg.Wait()

	stopBots(bots, log)
	log.Info("机器人已停止，状态已保存。", zap.Int64("dropped_events", sm.DroppedEvents()))
	return nil
}

// startBot 创建机器人：有保存的状态则恢复，否则以当前价格生成新的虚拟网格
func startBot(ctx context.Context, bc models.GridConfig, ex *exchange.LiveExchange, repo persistence.StateRepository, rec bot.Recorder, log *zap.Logger) (*bot.GridBot, error) {
	gb, err := bot.NewGridBot(bc, ex, log, bot.WithRecorder(rec))
	if err != nil {
		return nil, err
	}

	saved, err := repo.LoadState(bc.Symbol)
	if err != nil {
		log.Warn("无法加载状态，将以全新状态启动", zap.String("symbol", bc.Symbol), zap.Error(err))
	}
	if saved != nil {
		if err := gb.Restore(saved); err != nil {
			// 无法使用的快照直接丢弃，以全新网格启动
			log.Warn("丢弃无法恢复的状态快照", zap.String("symbol", bc.Symbol), zap.Error(err))
			if err := repo.DeleteState(bc.Symbol); err != nil {
				return nil, fmt.Errorf("删除 %s 状态失败: %w", bc.Symbol, err)
			}
			saved = nil
		}
	}
	if saved == nil || len(gb.GetState().Levels) == 0 {
		price, err := ex.GetTicker(ctx, bc.Symbol)
		if err != nil {
			return nil, fmt.Errorf("获取 %s 初始价格失败: %w", bc.Symbol, err)
		}
		if err := gb.Initialize(price); err != nil {
			return nil, err
		}
	}

	if err := gb.Start(ctx); err != nil {
		return nil, fmt.Errorf("机器人 %s 启动失败: %w", bc.Symbol, err)
	}
	return gb, nil
}

// stopBots 平掉所有仓位并打印最终统计
func stopBots(bots []*bot.GridBot, log *zap.Logger) {
	for _, gb := range bots {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		if err := gb.Stop(ctx); err != nil && !errors.Is(err, bot.ErrNotRunning) {
			log.Error("停止机器人时平仓失败", zap.String("symbol", gb.Symbol()), zap.Error(err))
		}
		cancel()
		reporter.WritePositions(os.Stdout, gb.GetPositions())
		reporter.WritePerformance(os.Stdout, gb.Symbol(), gb.GetPerformance())
	}
}

// resolveReplayData 处理回放数据来源：指定了 symbol/start/end 则下载，否则使用 --data
func resolveReplayData(cfg *models.Config, symbol, startDate, endDate, dataPath string, log *zap.Logger) (string, error) {
	if symbol == "" || startDate == "" || endDate == "" {
		if dataPath == "" {
			return "", errors.New("回放模式需要通过 --data 或 --symbol/--start/--end 参数指定数据源")
		}
		return dataPath, nil
	}

	startTime, err1 := time.Parse("2006-01-02", startDate)
	endTime, err2 := time.Parse("2006-01-02", endDate)
	if err := errors.Join(err1, err2); err != nil {
		return "", fmt.Errorf("日期格式错误，请使用 YYYY-MM-DD 格式: %w", err)
	}
	if !endTime.After(startTime) {
		return "", errors.New("结束日期必须晚于开始日期")
	}

	symbol = strings.ToUpper(symbol)
	path := downloader.FileName("data", symbol, cfg.KlineInterval, startDate, endDate)
	d := downloader.NewKlineDownloader(cfg.KlineInterval, log)
	if err := d.DownloadKlines(context.Background(), symbol, path, startTime, endTime); err != nil {
		return "", err
	}
	return path, nil
}

// tradeCollector 在回放中收集平仓记录，用于计算胜率等指标
type tradeCollector struct {
	trades    []models.TradeRecord
	decisions int
}

func (c *tradeCollector) RecordSnapshot(*models.GridState) {}

func (c *tradeCollector) RecordTrade(rec models.TradeRecord) {
	c.trades = append(c.trades, rec)
}

func (c *tradeCollector) RecordDecision(string, models.AIDecision, bool) {
	c.decisions++
}

// runReplayMode 按K线逐根驱动机器人，使用模拟交易所撮合
func runReplayMode(cfg *models.Config, dataPath, symbolFlag string, log *zap.Logger) error {
	log.Info("--- 启动回放模式 ---", zap.String("data", dataPath))

	candles, err := downloader.LoadCSV(dataPath)
	if err != nil {
		return err
	}

	symbol := strings.ToUpper(symbolFlag)
	if symbol == "" {
		symbol = downloader.SymbolFromPath(dataPath)
	}
	bc := botConfigFor(cfg, symbol)

	pe := exchange.NewPaperExchange(bc.Symbol, cfg.Replay)
	collector := &tradeCollector{}
	var now time.Time
	gb, err := bot.NewGridBot(bc, pe, log, bot.WithRecorder(collector), bot.WithClock(func() time.Time { return now }))
	if err != nil {
		return err
	}

	calc := signals.NewCalculator(cfg.Signals)
	window := signals.NewWindow(cfg.CandleHistory)
	ctx := context.Background()

	log.Info("开始回放...", zap.String("symbol", bc.Symbol), zap.Int("candles", len(candles)))
	for _, c := range candles {
		now = c.OpenTime
		pe.SetPrice(c.Close, c.OpenTime)
		window.Push(c)

		sig, err := calc.Calculate(window.Candles())
		if err != nil {
			continue // 历史数据不足
		}

		if !gb.IsRunning() {
			if err := gb.Initialize(c.Close); err != nil {
				return err
			}
			if err := gb.Start(ctx); err != nil {
				return err
			}
			log.Info("完成机器人初始化", zap.Float64("price", c.Close), zap.Time("time", c.OpenTime))
		}

		if err := gb.OnPriceUpdate(ctx, c.Close, sig); err != nil {
			log.Debug("tick 未处理", zap.Error(err))
		}
		if pe.Equity() <= 0 {
			log.Warn("权益归零，提前终止回放", zap.Time("time", c.OpenTime))
			break
		}
	}

	if gb.IsRunning() {
		if err := gb.Stop(ctx); err != nil {
			log.Warn("回放结束时平仓失败", zap.Error(err))
		}
	}
	log.Info("回放结束。", zap.Int("decisions", collector.decisions))

	m := reporter.CalculateMetrics(pe, gb.GetPerformance(), collector.trades)
	m.DataPath = dataPath
	m.StartTime = candles[0].OpenTime
	m.EndTime = candles[len(candles)-1].OpenTime
	reporter.WriteReplayReport(os.Stdout, m)
	return nil
}

// botConfigFor 返回与交易对匹配的机器人配置；没有匹配时使用第一个并覆盖交易对
func botConfigFor(cfg *models.Config, symbol string) models.GridConfig {
	for _, b := range cfg.Bots {
		if b.Symbol == symbol {
			return b
		}
	}
	bc := cfg.Bots[0]
	if symbol != "" {
		bc.Symbol = symbol
	}
	return bc
}
