// =============================================================================
// 文件: cmd/wiretap-server/main.go
// 描述: 主程序入口 - 模拟服务器 + 流量监听 + Prometheus 指标 + 实时流量查看
// =============================================================================
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrcgq/wiretap/internal/config"
	"github.com/mrcgq/wiretap/internal/metrics"
	"github.com/mrcgq/wiretap/internal/notify"
	"github.com/mrcgq/wiretap/internal/trafficlistener"
	"github.com/mrcgq/wiretap/internal/transport"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("c", "", "配置文件路径 (为空则使用默认配置)")
	showVersion := flag.Bool("v", false, "显示版本")
	genConfig := flag.Bool("gen-config", false, "生成示例配置文件")
	listen := flag.String("listen", "", "覆盖监听地址")
	encoding := flag.String("charset", "", "覆盖流量解码字符集，如 UTF-8 / UTF-16")
	quiet := flag.Bool("quiet", false, "只输出解码失败")
	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	if *genConfig {
		if err := config.WriteExampleConfig("config.example.yaml"); err != nil {
			fmt.Fprintf(os.Stderr, "生成配置失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("已生成示例配置文件: config.example.yaml")
		return
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// 命令行覆盖
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *encoding != "" {
		cfg.Traffic.Encoding = *encoding
	}
	if *quiet {
		cfg.Traffic.Verbose = false
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "运行失败: %v\n", err)
		os.Exit(1)
	}
}

// app 已装配的组件
type app struct {
	server        *transport.Server
	metricsServer *metrics.MetricsServer
	hub           *notify.Hub
	notifier      notify.Notifier
	closers       []func()
}

// build 按配置装配组件（不启动）
func build(cfg *config.Config) (*app, error) {
	a := &app{}

	var serverOpts []transport.ServerOption
	if cfg.TLS.Enabled() {
		tlsCfg, err := transport.LoadTLSConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			return nil, err
		}
		serverOpts = append(serverOpts, transport.WithTLSConfig(tlsCfg))
	}

	if cfg.Metrics.Enabled {
		a.metricsServer = metrics.NewMetricsServer(
			cfg.Metrics.Listen,
			cfg.Metrics.Path,
			cfg.Metrics.HealthPath,
			cfg.Metrics.EnablePprof,
		)
	}

	var traffic trafficlistener.Listener = trafficlistener.Noop{}
	if cfg.Traffic.Enabled {
		notifier, err := buildNotifier(cfg, a)
		if err != nil {
			return nil, err
		}
		a.notifier = notifier

		observer := trafficlistener.NewConsoleNotifyingListener(
			trafficlistener.WithNotifier(notifier),
			trafficlistener.WithEncoding(cfg.TrafficEncoding()),
		)
		traffic = observer
	}

	if a.metricsServer != nil {
		traffic = trafficlistener.Multi(traffic, metrics.NewTrafficMetrics(a.metricsServer.Registry()))
	}

	a.server = transport.NewServer(cfg.Listen, transport.MockResponse{
		Status:      cfg.Mock.Status,
		ContentType: cfg.Mock.ContentType,
		Body:        cfg.Mock.Body,
	}, traffic, cfg.LogLevel, serverOpts...)

	return a, nil
}

// buildNotifier 主输出 + 可选的实时查看 + 计数
func buildNotifier(cfg *config.Config, a *app) (notify.Notifier, error) {
	var primary notify.Notifier
	switch cfg.Traffic.Sink {
	case "zap":
		lc := cfg.Log.ToNotifyLogConfig()
		if !cfg.Traffic.Verbose {
			// 非 verbose 只保留解码失败
			lc.Level = "error"
		}
		zn, err := notify.NewZapNotifier(lc)
		if err != nil {
			return nil, fmt.Errorf("创建 zap 输出失败: %w", err)
		}
		a.closers = append(a.closers, func() { _ = zn.Close() })
		primary = zn
	default:
		primary = notify.NewConsoleNotifier(os.Stdout, cfg.Traffic.Verbose)
	}

	if a.metricsServer == nil {
		return primary, nil
	}

	var sink notify.Notifier = primary
	if cfg.Traffic.TailPath != "" {
		a.hub = notify.NewHub()
		a.metricsServer.Handle(cfg.Traffic.TailPath, a.hub)
		a.closers = append(a.closers, a.hub.Close)
		sink = notify.Multi(primary, a.hub)
	}
	return metrics.NewCountingNotifier(a.metricsServer.Registry(), sink), nil
}

// run 启动全部服务并阻塞到 ctx 结束
func run(ctx context.Context, cfg *config.Config) error {
	a, err := build(cfg)
	if err != nil {
		return err
	}
	defer func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			a.closers[i]()
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	if a.metricsServer != nil {
		a.metricsServer.SetHealthCheck(func() metrics.HealthStatus {
			return healthStatus(a)
		})
		if err := a.metricsServer.Start(gctx); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			a.metricsServer.Stop()
			return nil
		})
	}

	if err := a.server.Start(gctx); err != nil {
		if a.metricsServer != nil {
			a.metricsServer.Stop()
		}
		return err
	}
	g.Go(func() error {
		<-gctx.Done()
		fmt.Println("\n正在关闭...")
		a.server.Stop()
		return nil
	})

	printBanner(cfg)
	return g.Wait()
}

func healthStatus(a *app) metrics.HealthStatus {
	components := map[string]metrics.ComponentHealth{
		"mock_server": {Status: "healthy"},
	}
	if a.server.Addr() == nil {
		components["mock_server"] = metrics.ComponentHealth{Status: "unhealthy", Message: "not listening"}
	}
	if a.hub != nil {
		components["traffic_tail"] = metrics.ComponentHealth{
			Status:  "healthy",
			Message: fmt.Sprintf("%d subscribers", a.hub.Subscribers()),
		}
	}

	status := "healthy"
	for _, c := range components {
		if c.Status != "healthy" {
			status = "unhealthy"
		}
	}
	return metrics.HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Version:    Version,
		Components: components,
	}
}

func printVersion() {
	fmt.Printf("Wiretap Server %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
	fmt.Printf("  Go Version: %s\n", runtime.Version())
	fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func printBanner(cfg *config.Config) {
	fmt.Println("=============================================================")
	fmt.Printf("  Wiretap Server %s\n", Version)
	fmt.Println("=============================================================")
	fmt.Printf("  监听地址:   %s (TLS: %v)\n", cfg.Listen, cfg.TLS.Enabled())
	if cfg.Traffic.Enabled {
		fmt.Printf("  流量监听:   %s (字符集 %s, verbose=%v)\n", cfg.Traffic.Sink, cfg.TrafficEncoding(), cfg.Traffic.Verbose)
	} else {
		fmt.Println("  流量监听:   关闭")
	}
	if cfg.Metrics.Enabled {
		fmt.Printf("  指标:       http://%s%s\n", cfg.Metrics.Listen, cfg.Metrics.Path)
		fmt.Printf("  健康检查:   http://%s%s\n", cfg.Metrics.Listen, cfg.Metrics.HealthPath)
		if cfg.Traffic.Enabled && cfg.Traffic.TailPath != "" {
			fmt.Printf("  实时流量:   ws://%s%s\n", cfg.Metrics.Listen, cfg.Traffic.TailPath)
		}
	}
	fmt.Println("=============================================================")
}
