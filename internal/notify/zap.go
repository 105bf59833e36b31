// =============================================================================
// 文件: internal/notify/zap.go
// 描述: 基于 zap 的结构化通知器，支持文件输出与 lumberjack 轮转
// =============================================================================
package notify

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig zap 输出配置
type LogConfig struct {
	Level       string   // debug, info, warn, error
	Format      string   // console, json
	Outputs     []string // stdout, stderr 或文件路径
	Development bool
	Rotation    RotationConfig
}

// RotationConfig 文件轮转配置
type RotationConfig struct {
	Enable     bool
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// ZapNotifier zap 通知器
type ZapNotifier struct {
	logger *zap.Logger

	// 文件输出句柄，由 Close 释放
	files     []io.Closer
	closeOnce sync.Once
	closeErr  error
}

// NewZapNotifierFromLogger 包装已有 logger
func NewZapNotifierFromLogger(logger *zap.Logger) *ZapNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapNotifier{logger: logger.Named("traffic")}
}

// NewZapNotifier 按配置构建 zap logger
func NewZapNotifier(c LogConfig) (*ZapNotifier, error) {
	level := zap.NewAtomicLevel()
	switch strings.ToLower(c.Level) {
	case "debug":
		level.SetLevel(zap.DebugLevel)
	case "warn", "warning":
		level.SetLevel(zap.WarnLevel)
	case "error":
		level.SetLevel(zap.ErrorLevel)
	default:
		level.SetLevel(zap.InfoLevel)
	}

	var encCfg zapcore.EncoderConfig
	if c.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
	} else {
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	var encoder zapcore.Encoder
	if strings.ToLower(c.Format) == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	outputs := c.Outputs
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	cores := make([]zapcore.Core, 0, len(outputs))
	var files []io.Closer
	for _, out := range outputs {
		ws, f, err := writeSyncer(out, c.Rotation)
		if err != nil {
			for _, opened := range files {
				_ = opened.Close()
			}
			return nil, err
		}
		if f != nil {
			files = append(files, f)
		}
		cores = append(cores, zapcore.NewCore(encoder, ws, level))
	}

	opts := []zap.Option{}
	if c.Development {
		opts = append(opts, zap.Development())
	}

	n := NewZapNotifierFromLogger(zap.New(zapcore.NewTee(cores...), opts...))
	n.files = files
	return n, nil
}

// writeSyncer 返回输出目标；文件输出同时返回需要关闭的句柄
func writeSyncer(out string, rot RotationConfig) (zapcore.WriteSyncer, io.Closer, error) {
	switch strings.ToLower(out) {
	case "stdout":
		return zapcore.AddSync(os.Stdout), nil, nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil, nil
	}

	if dir := filepath.Dir(out); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("创建日志目录失败: %w", err)
		}
	}

	if rot.Enable {
		filename := out
		if strings.TrimSpace(rot.Filename) != "" {
			filename = rot.Filename
		}
		lj := &lumberjack.Logger{
			Filename:   filename,
			MaxSize:    atLeast(rot.MaxSizeMB, 10),
			MaxBackups: atLeast(rot.MaxBackups, 1),
			MaxAge:     atLeast(rot.MaxAgeDays, 7),
			Compress:   rot.Compress,
		}
		return zapcore.AddSync(lj), lj, nil
	}

	f, err := os.OpenFile(out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("打开日志文件失败: %w", err)
	}
	return zapcore.AddSync(f), f, nil
}

// Info 输出 info 级别消息
func (n *ZapNotifier) Info(message string) {
	n.logger.Info(message)
}

// Error 输出 error 级别消息
func (n *ZapNotifier) Error(message string) {
	n.logger.Error(message)
}

// Sync 刷新缓冲
func (n *ZapNotifier) Sync() error {
	return n.logger.Sync()
}

// Close 刷新缓冲并关闭文件输出，可重复调用
// Sync 错误被忽略（stdout/stderr 上常见 EINVAL）
func (n *ZapNotifier) Close() error {
	n.closeOnce.Do(func() {
		_ = n.logger.Sync()
		var errs []error
		for _, f := range n.files {
			if err := f.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		n.closeErr = errors.Join(errs...)
	})
	return n.closeErr
}

func atLeast(v, floor int) int {
	if v < floor {
		return floor
	}
	return v
}
