// =============================================================================
// 文件: internal/metrics/server.go
// 描述: 健康检查、Metrics 与实时流量服务 - Prometheus 标准格式
// =============================================================================
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer 指标服务器
type MetricsServer struct {
	listen      string
	metricsPath string
	healthPath  string
	enablePprof bool
	startTime   time.Time

	mux        *http.ServeMux
	httpServer *http.Server
	listener   net.Listener
	registry   *prometheus.Registry

	healthy     int32
	healthCheck func() HealthStatus

	routesOnce sync.Once
	wg         sync.WaitGroup
	mu         sync.RWMutex
}

// HealthStatus 健康状态
type HealthStatus struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// ComponentHealth 组件健康状态
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// NewMetricsServer 创建指标服务器
func NewMetricsServer(listen, metricsPath, healthPath string, enablePprof bool) *MetricsServer {
	// 自定义 registry，避免污染全局
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &MetricsServer{
		listen:      listen,
		metricsPath: metricsPath,
		healthPath:  healthPath,
		enablePprof: enablePprof,
		startTime:   time.Now(),
		mux:         http.NewServeMux(),
		healthy:     1,
		registry:    registry,
	}
}

// Registry 获取 registry
func (s *MetricsServer) Registry() *prometheus.Registry {
	return s.registry
}

// Handle 挂载额外的处理器（需在 Start 之前调用）
func (s *MetricsServer) Handle(path string, h http.Handler) {
	s.mux.Handle(path, h)
}

// SetHealthCheck 设置健康检查函数
func (s *MetricsServer) SetHealthCheck(fn func() HealthStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthCheck = fn
}

// SetHealthy 设置存活状态
func (s *MetricsServer) SetHealthy(healthy bool) {
	if healthy {
		atomic.StoreInt32(&s.healthy, 1)
	} else {
		atomic.StoreInt32(&s.healthy, 0)
	}
}

// Handler 返回完整的路由（测试用）
func (s *MetricsServer) Handler() http.Handler {
	s.routes()
	return s.mux
}

func (s *MetricsServer) routes() {
	s.routesOnce.Do(func() {
		s.mux.HandleFunc(s.healthPath, s.handleHealth)
		s.mux.HandleFunc(s.healthPath+"/live", s.handleLiveness)
		s.mux.HandleFunc(s.healthPath+"/ready", s.handleReadiness)

		s.mux.Handle(s.metricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			Registry:          s.registry,
		}))

		if s.enablePprof {
			s.mux.HandleFunc("/debug/pprof/", pprof.Index)
			s.mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
			s.mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
			s.mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
			s.mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		}
	})
}

// Start 启动服务器，监听失败直接返回错误
func (s *MetricsServer) Start(ctx context.Context) error {
	s.routes()

	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("metrics 监听失败: %w", err)
	}

	srv := &http.Server{
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.listener = ln
	s.httpServer = srv
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("[ERROR] %s [Metrics] 服务器错误: %v\n", time.Now().Format("15:04:05"), err)
		}
	}()

	return nil
}

// Addr 实际监听地址
func (s *MetricsServer) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// handleHealth 健康检查处理
func (s *MetricsServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	healthCheck := s.healthCheck
	s.mu.RUnlock()

	var status HealthStatus
	if healthCheck != nil {
		status = healthCheck()
	} else {
		status = HealthStatus{Status: "healthy", Timestamp: time.Now()}
	}
	if status.Uptime == "" {
		status.Uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	w.Header().Set("Content-Type", "application/json")
	if status.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

// handleLiveness 存活探针
func (s *MetricsServer) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&s.healthy) == 1 {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("NOT OK"))
}

// handleReadiness 就绪探针
// 未设置健康检查时，以存活状态为准
func (s *MetricsServer) handleReadiness(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	healthCheck := s.healthCheck
	s.mu.RUnlock()

	ready := atomic.LoadInt32(&s.healthy) == 1
	if healthCheck != nil {
		status := healthCheck()
		ready = status.Status == "healthy" || status.Status == "degraded"
	}

	if ready {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("NOT READY"))
}

// Stop 停止服务器
func (s *MetricsServer) Stop() {
	s.mu.RLock()
	srv := s.httpServer
	s.mu.RUnlock()

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	s.wg.Wait()
}
