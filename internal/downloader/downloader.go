package downloader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ai-grid-bot-go/internal/exchange"
	"ai-grid-bot-go/internal/models"

	"github.com/adshao/go-binance/v2/futures"
	"go.uber.org/zap"
)

var csvHeader = []string{"open_time", "open", "high", "low", "close", "volume", "close_time", "quote_asset_volume", "number_of_trades", "taker_buy_base_asset_volume", "taker_buy_quote_asset_volume"}

// KlineDownloader 用于从币安U本位合约下载K线数据
type KlineDownloader struct {
	client   *futures.Client
	interval string
	pause    time.Duration
	logger   *zap.Logger
}

// NewKlineDownloader 创建一个新的下载器实例，公共接口不需要API Key
func NewKlineDownloader(interval string, logger *zap.Logger) *KlineDownloader {
	return NewKlineDownloaderWithClient(futures.NewClient("", ""), interval, logger)
}

// NewKlineDownloaderWithClient 使用已有的客户端，便于测试时替换 BaseURL
func NewKlineDownloaderWithClient(client *futures.Client, interval string, logger *zap.Logger) *KlineDownloader {
	if interval == "" {
		interval = "1m"
	}
	return &KlineDownloader{client: client, interval: interval, pause: 200 * time.Millisecond, logger: logger}
}

// FileName 返回缓存文件名，例如 data/BTCUSDT-1m-2025-03-15-2025-06-15.csv
func FileName(dir, symbol, interval, startDate, endDate string) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s-%s-%s.csv", symbol, interval, startDate, endDate))
}

// DownloadKlines 下载指定交易对和时间范围内的K线数据，并保存到CSV文件
// 如果文件已存在，则会跳过下载，直接使用缓存。
func (d *KlineDownloader) DownloadKlines(ctx context.Context, symbol, filePath string, startTime, endTime time.Time) error {
	if _, err := os.Stat(filePath); err == nil {
		d.logger.Info("从缓存加载数据", zap.String("file", filePath))
		return nil
	}

	d.logger.Info("开始下载K线数据",
		zap.String("symbol", symbol),
		zap.String("interval", d.interval),
		zap.Time("start", startTime),
		zap.Time("end", endTime))

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("无法创建目录 %s: %w", filepath.Dir(filePath), err)
	}

	// 先写临时文件，完成后再改名，避免中断留下残缺的缓存
	tmpPath := filePath + ".part"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("无法创建文件 %s: %w", tmpPath, err)
	}
	defer os.Remove(tmpPath)

	rows, err := d.writeKlines(ctx, file, symbol, startTime, endTime)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		return err
	}

	d.logger.Info("成功下载K线数据", zap.String("file", filePath), zap.Int("rows", rows))
	return nil
}

func (d *KlineDownloader) writeKlines(ctx context.Context, out io.Writer, symbol string, startTime, endTime time.Time) (int, error) {
	writer := csv.NewWriter(out)
	if err := writer.Write(csvHeader); err != nil {
		return 0, fmt.Errorf("写入CSV表头失败: %w", err)
	}

	rows := 0
	for t := startTime; t.Before(endTime); {
		klines, err := d.client.NewKlinesService().
			Symbol(symbol).
			Interval(d.interval).
			StartTime(t.UnixMilli()).
			EndTime(endTime.UnixMilli()).
			Limit(1000). // 单次请求最多1000条
			Do(ctx)
		if err != nil {
			return rows, fmt.Errorf("下载K线数据失败: %w", err)
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			record := []string{
				strconv.FormatInt(k.OpenTime, 10),
				k.Open,
				k.High,
				k.Low,
				k.Close,
				k.Volume,
				strconv.FormatInt(k.CloseTime, 10),
				k.QuoteAssetVolume,
				strconv.FormatInt(k.TradeNum, 10),
				k.TakerBuyBaseAssetVolume,
				k.TakerBuyQuoteAssetVolume,
			}
			if err := writer.Write(record); err != nil {
				return rows, fmt.Errorf("写入CSV记录失败: %w", err)
			}
			rows++
		}

		// 更新下一次请求的开始时间
		t = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		d.logger.Debug("已下载数据", zap.Time("until", t))

		select {
		case <-ctx.Done():
			return rows, ctx.Err()
		case <-time.After(d.pause): // 避免过于频繁的请求
		}
	}

	writer.Flush()
	return rows, writer.Error()
}

// LoadCSV 读取下载器生成的CSV文件 (或同样列顺序的币安导出文件)
func LoadCSV(path string) ([]models.Candle, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("无法打开历史数据文件: %w", err)
	}
	defer file.Close()
	return ReadCandles(file)
}

// ReadCandles 解析CSV格式的K线，表头行可选
func ReadCandles(r io.Reader) ([]models.Candle, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var candles []models.Candle
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("第 %d 行: %w", line, err)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(record[0]), "open_time") {
			continue
		}
		if len(record) < 6 {
			return nil, fmt.Errorf("第 %d 行: 列数不足 (%d)", line, len(record))
		}
		openTime, err := strconv.ParseInt(record[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("第 %d 行: 无法解析时间: %w", line, err)
		}
		c, err := exchange.ParseCandle(openTime, record[1], record[2], record[3], record[4], record[5])
		if err != nil {
			return nil, fmt.Errorf("第 %d 行: %w", line, err)
		}
		candles = append(candles, c)
	}
	if len(candles) == 0 {
		return nil, errors.New("历史数据文件为空或只有表头")
	}
	return candles, nil
}

// SymbolFromPath 从数据文件路径中提取交易对名称
// 例如: "data/BNBUSDT-1m-2025-03-15-2025-06-15.csv" -> "BNBUSDT"
func SymbolFromPath(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.ToUpper(strings.SplitN(name, "-", 2)[0])
}
