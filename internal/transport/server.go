// =============================================================================
// 文件: internal/transport/server.go
// 描述: HTTP 模拟服务器 - 所有连接经由 ObservedListener 接入，流量交给监听器
// =============================================================================
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/mrcgq/wiretap/internal/trafficlistener"
)

const (
	// 读写超时
	ReadTimeout     = 30 * time.Second
	WriteTimeout    = 30 * time.Second
	ShutdownTimeout = 5 * time.Second
)

// MockResponse 默认响应
type MockResponse struct {
	Status      int
	ContentType string
	Body        string
}

// Server HTTP 模拟服务器
type Server struct {
	addr     string
	handler  http.Handler
	traffic  trafficlistener.Listener
	logLevel int

	tlsConfig *tls.Config

	httpServer *http.Server
	listener   net.Listener
	wg         sync.WaitGroup
	mu         sync.Mutex
}

// ServerOption 服务器选项
type ServerOption func(*Server)

// WithTLSConfig 启用 TLS（在观察层之上握手，监听器看到的是密文）
func WithTLSConfig(cfg *tls.Config) ServerOption {
	return func(s *Server) {
		s.tlsConfig = cfg
	}
}

// LoadTLSConfig 从 PEM 证书与私钥构建服务端 TLS 配置
func LoadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("加载证书失败: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// NewServer 创建服务器
func NewServer(addr string, resp MockResponse, traffic trafficlistener.Listener, logLevel string, opts ...ServerOption) *Server {
	s := &Server{
		addr:     addr,
		handler:  MockHandler(resp),
		traffic:  traffic,
		logLevel: ParseLogLevel(logLevel),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ParseLogLevel 日志级别: error=0, info=1, debug=2
func ParseLogLevel(level string) int {
	switch level {
	case "debug":
		return 2
	case "error":
		return 0
	}
	return 1
}

// MockHandler 对所有请求返回固定响应
func MockHandler(resp MockResponse) http.Handler {
	status := resp.Status
	if status == 0 {
		status = http.StatusNotFound
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if resp.ContentType != "" {
			w.Header().Set("Content-Type", resp.ContentType)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(resp.Body))
	})
}

// Start 启动服务器
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("监听失败: %w", err)
	}

	// 观察层必须在 TLS 之下，才能看到每一个被接受的连接
	var served net.Listener = NewObservedListener(ln, s.traffic)
	if s.tlsConfig != nil {
		served = tls.NewListener(served, s.tlsConfig)
	}

	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  ReadTimeout,
		WriteTimeout: WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.listener = ln
	s.httpServer = srv
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(served); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log(0, "HTTP 服务器错误: %v", err)
		}
	}()

	s.log(1, "模拟服务器已启动: %s (TLS: %v)", ln.Addr(), s.tlsConfig != nil)
	return nil
}

// Addr 实际监听地址（未启动时为 nil）
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop 停止服务器
func (s *Server) Stop() {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			s.log(2, "关闭超时，强制断开: %v", err)
			_ = srv.Close()
		}
	}

	s.wg.Wait()
	s.log(1, "模拟服务器已停止")
}

func (s *Server) log(level int, format string, args ...interface{}) {
	if level > s.logLevel {
		return
	}
	prefix := map[int]string{0: "[ERROR]", 1: "[INFO]", 2: "[DEBUG]"}[level]
	fmt.Printf("%s %s [HTTP] %s\n", prefix, time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
}
