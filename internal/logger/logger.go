package logger

import (
	"os"
	"strings"

	"ai-grid-bot-go/internal/models"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var baseLogger *zap.Logger

// InitLogger 初始化zap日志记录器，返回的 *zap.Logger 供各组件使用结构化字段记录日志
func InitLogger(cfg models.LogConfig) *zap.Logger {
	// 配置日志级别
	logLevel := zap.NewAtomicLevel()
	if err := logLevel.UnmarshalText([]byte(cfg.Level)); err != nil {
		logLevel.SetLevel(zap.InfoLevel) // 默认为Info级别
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var cores []zapcore.Core

	output := strings.ToLower(cfg.Output)
	if (output == "file" || output == "both") && cfg.File != "" {
		// 文件使用JSON格式，便于检索；lumberjack 负责切割
		lumberjackLogger := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(lumberjackLogger), logLevel))
	}

	// 控制台输出启用颜色
	consoleConfig := encoderConfig
	consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleCore := zapcore.NewCore(zapcore.NewConsoleEncoder(consoleConfig), zapcore.AddSync(os.Stdout), logLevel)

	if output == "console" || output == "both" {
		cores = append(cores, consoleCore)
	}

	// 如果没有有效的core（例如配置错误），则默认输出到控制台
	if len(cores) == 0 {
		cores = append(cores, consoleCore)
	}

	baseLogger = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	return baseLogger
}

// L 返回全局的 logger 实例
func L() *zap.Logger {
	if baseLogger == nil {
		// 如果logger未初始化，则提供一个默认的应急logger
		logger, _ := zap.NewDevelopment()
		return logger
	}
	return baseLogger
}

// S 返回全局的sugared logger实例
func S() *zap.SugaredLogger {
	return L().Sugar()
}

// Sync 刷新缓冲的日志
func Sync() {
	if baseLogger != nil {
		_ = baseLogger.Sync()
	}
}
