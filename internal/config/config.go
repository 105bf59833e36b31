// =============================================================================
// 文件: internal/config/config.go
// 描述: 配置管理 - 默认值、YAML 加载、启动前校验（字符集、端口冲突、状态码）
// =============================================================================
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mrcgq/wiretap/internal/charset"
	"github.com/mrcgq/wiretap/internal/notify"
)

// Config 主配置
type Config struct {
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`

	Traffic TrafficConfig `yaml:"traffic"`
	Log     LogConfig     `yaml:"log"`
	Mock    MockConfig    `yaml:"mock"`
	TLS     TLSConfig     `yaml:"tls"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// TrafficConfig 流量监听配置
type TrafficConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Encoding string `yaml:"encoding"`  // UTF-8, UTF-16, ISO-8859-1 ...
	Verbose  bool   `yaml:"verbose"`   // false 时只输出解码失败
	Sink     string `yaml:"sink"`      // console, zap
	TailPath string `yaml:"tail_path"` // WebSocket 实时查看路径，挂在 metrics 服务上，空则关闭
}

// LogConfig zap 输出配置（sink = zap 时生效）
type LogConfig struct {
	Level       string         `yaml:"level"`
	Format      string         `yaml:"format"`  // console, json
	Outputs     []string       `yaml:"outputs"` // stdout, stderr 或文件路径
	Development bool           `yaml:"development"`
	Rotation    RotationConfig `yaml:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	Enable     bool   `yaml:"enable"`
	Filename   string `yaml:"filename"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// MockConfig 默认响应配置
type MockConfig struct {
	Status      int    `yaml:"status"`
	ContentType string `yaml:"content_type"`
	Body        string `yaml:"body"`
}

// TLSConfig 模拟服务器 TLS 配置，两项均为空时使用明文
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Enabled 是否启用 TLS
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" || t.KeyFile != ""
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Listen      string `yaml:"listen"`
	Path        string `yaml:"path"`
	HealthPath  string `yaml:"health_path"`
	EnablePprof bool   `yaml:"enable_pprof"`
}

// Load 加载配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Listen:   ":8080",
		LogLevel: "info",

		Traffic: TrafficConfig{
			Enabled:  true,
			Encoding: "UTF-8",
			Verbose:  true,
			Sink:     "console",
			TailPath: "/traffic",
		},

		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stdout"},
			Rotation: RotationConfig{
				MaxSizeMB:  100,
				MaxBackups: 3,
				MaxAgeDays: 7,
			},
		},

		Mock: MockConfig{
			Status:      404,
			ContentType: "text/plain; charset=utf-8",
			Body:        "No stub mapping matched the request\n",
		},

		Metrics: MetricsConfig{
			Enabled:     true,
			Listen:      ":9100",
			Path:        "/metrics",
			HealthPath:  "/health",
			EnablePprof: false,
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if _, err := parsePort(c.Listen); err != nil {
		return fmt.Errorf("listen 地址无效 %q: %w", c.Listen, err)
	}

	switch c.LogLevel {
	case "debug", "info", "error":
	default:
		return fmt.Errorf("log_level 无效: %q (可选 debug/info/error)", c.LogLevel)
	}

	if err := c.validateTrafficConfig(); err != nil {
		return err
	}

	if c.Mock.Status < 100 || c.Mock.Status > 599 {
		return fmt.Errorf("mock.status 需在 100-599 之间: %d", c.Mock.Status)
	}

	if err := c.validateTLSConfig(); err != nil {
		return err
	}

	return c.validateMetricsConfig()
}

func (c *Config) validateTLSConfig() error {
	if !c.TLS.Enabled() {
		return nil
	}
	if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
		return fmt.Errorf("tls.cert_file 与 tls.key_file 必须同时配置")
	}
	for name, path := range map[string]string{"tls.cert_file": c.TLS.CertFile, "tls.key_file": c.TLS.KeyFile} {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("%s 无法读取: %w", name, err)
		}
	}
	return nil
}

func (c *Config) validateTrafficConfig() error {
	if _, err := charset.Lookup(c.Traffic.Encoding); err != nil {
		return fmt.Errorf("traffic.encoding: %w", err)
	}

	switch c.Traffic.Sink {
	case "console", "zap":
	default:
		return fmt.Errorf("traffic.sink 无效: %q (可选 console/zap)", c.Traffic.Sink)
	}

	if c.Traffic.Sink == "zap" {
		switch strings.ToLower(c.Log.Format) {
		case "", "console", "json":
		default:
			return fmt.Errorf("log.format 无效: %q (可选 console/json)", c.Log.Format)
		}
	}

	if c.Traffic.TailPath != "" && !strings.HasPrefix(c.Traffic.TailPath, "/") {
		return fmt.Errorf("traffic.tail_path 必须以 / 开头: %q", c.Traffic.TailPath)
	}
	return nil
}

func (c *Config) validateMetricsConfig() error {
	if !c.Metrics.Enabled {
		return nil
	}

	mport, err := parsePort(c.Metrics.Listen)
	if err != nil {
		return fmt.Errorf("metrics.listen 地址无效 %q: %w", c.Metrics.Listen, err)
	}
	if port, _ := parsePort(c.Listen); port != 0 && port == mport {
		return fmt.Errorf("端口冲突: listen 与 metrics.listen 均为 %d", port)
	}

	for name, p := range map[string]string{"metrics.path": c.Metrics.Path, "metrics.health_path": c.Metrics.HealthPath} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%s 必须以 / 开头: %q", name, p)
		}
	}

	tail := c.Traffic.TailPath
	if c.Traffic.Enabled && tail != "" && (tail == c.Metrics.Path || tail == c.Metrics.HealthPath) {
		return fmt.Errorf("路径冲突: traffic.tail_path 与 metrics 路径相同 %q", tail)
	}
	return nil
}

// parsePort 解析端口号
func parsePort(addr string) (int, error) {
	if strings.HasPrefix(addr, ":") {
		return strconv.Atoi(addr[1:])
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return strconv.Atoi(addr)
	}
	return strconv.Atoi(portStr)
}

// GetListenPort 获取监听端口
func (c *Config) GetListenPort() int {
	port, _ := parsePort(c.Listen)
	return port
}

// TrafficEncoding 返回已校验的字符集
func (c *Config) TrafficEncoding() charset.Encoding {
	enc, err := charset.Lookup(c.Traffic.Encoding)
	if err != nil {
		return charset.UTF8
	}
	return enc
}

// ToNotifyLogConfig 转换为 notify 包的 zap 配置
func (c *LogConfig) ToNotifyLogConfig() notify.LogConfig {
	return notify.LogConfig{
		Level:       c.Level,
		Format:      c.Format,
		Outputs:     c.Outputs,
		Development: c.Development,
		Rotation: notify.RotationConfig{
			Enable:     c.Rotation.Enable,
			Filename:   c.Rotation.Filename,
			MaxSizeMB:  c.Rotation.MaxSizeMB,
			MaxBackups: c.Rotation.MaxBackups,
			MaxAgeDays: c.Rotation.MaxAgeDays,
			Compress:   c.Rotation.Compress,
		},
	}
}

// =============================================================================
// 配置文件示例生成
// =============================================================================

// GenerateExampleConfig 生成示例配置
func GenerateExampleConfig() string {
	return `# Wiretap Server 配置文件示例
# =============================================================================

listen: ":8080"                     # 模拟服务器监听地址
log_level: "info"                   # 日志级别: debug, info, error

# 流量监听
traffic:
  enabled: true
  encoding: "UTF-8"                 # 解码字符集: UTF-8, UTF-16, UTF-16LE, ISO-8859-1 ...
  verbose: true                     # false 时只输出解码失败
  sink: "console"                   # console 或 zap
  tail_path: "/traffic"             # WebSocket 实时查看 (挂在 metrics 服务上)

# zap 输出 (traffic.sink = zap 时生效)
log:
  level: "info"
  format: "console"                 # console 或 json
  outputs:
    - stdout
#   - /var/log/wiretap/traffic.log
  rotation:
    enable: false
    max_size_mb: 100
    max_backups: 3
    max_age_days: 7
    compress: false

# 未匹配任何桩时的默认响应
mock:
  status: 404
  content_type: "text/plain; charset=utf-8"
  body: "No stub mapping matched the request\n"

# 模拟服务器 TLS (留空为明文；流量监听器位于 TLS 之下，看到的是密文)
tls:
  cert_file: ""
  key_file: ""

# Prometheus 指标与健康检查
metrics:
  enabled: true
  listen: ":9100"
  path: "/metrics"
  health_path: "/health"
  enable_pprof: false
`
}

// WriteExampleConfig 写入示例配置文件
func WriteExampleConfig(path string) error {
	return os.WriteFile(path, []byte(GenerateExampleConfig()), 0644)
}
