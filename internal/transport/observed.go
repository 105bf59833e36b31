// =============================================================================
// 文件: internal/transport/observed.go
// 描述: 被观察的连接/监听器包装 - 在 accept、读写、关闭时回调流量监听器
// =============================================================================
package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mrcgq/wiretap/internal/trafficlistener"
)

const (
	// TCP keep-alive 周期
	KeepAlivePeriod = 30 * time.Second
)

// ObservedConn 被观察的连接
// 实现 net.Conn，每次成功读写都回调一次监听器
type ObservedConn struct {
	net.Conn
	id       string
	listener trafficlistener.Listener

	closeOnce sync.Once
	closeErr  error
}

// NewObservedConn 包装连接（不会触发 Opened）
func NewObservedConn(conn net.Conn, listener trafficlistener.Listener) *ObservedConn {
	if listener == nil {
		listener = trafficlistener.Noop{}
	}
	return &ObservedConn{
		Conn:     conn,
		id:       uuid.NewString()[:8],
		listener: listener,
	}
}

// ID 连接短标识
func (c *ObservedConn) ID() string {
	return c.id
}

// Read 读取数据
func (c *ObservedConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 {
		c.listener.Incoming(c, b[:n])
	}
	return n, err
}

// Write 写入数据
func (c *ObservedConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if n > 0 {
		c.listener.Outgoing(c, b[:n])
	}
	return n, err
}

// Close 关闭连接，Closed 只回调一次
func (c *ObservedConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.Conn.Close()
		c.listener.Closed(c)
	})
	return c.closeErr
}

// String 连接描述: conn <id> remote -> local
func (c *ObservedConn) String() string {
	return fmt.Sprintf("conn %s %s -> %s", c.id, addrString(c.Conn.RemoteAddr()), addrString(c.Conn.LocalAddr()))
}

func addrString(a net.Addr) string {
	if a == nil {
		return "<unbound>"
	}
	return a.String()
}

// ObservedListener 被观察的监听器
type ObservedListener struct {
	net.Listener
	listener trafficlistener.Listener
}

// NewObservedListener 包装监听器
func NewObservedListener(ln net.Listener, listener trafficlistener.Listener) *ObservedListener {
	if listener == nil {
		listener = trafficlistener.Noop{}
	}
	return &ObservedListener{Listener: ln, listener: listener}
}

// Accept 接受连接并回调 Opened
func (l *ObservedListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	// 配置连接
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(KeepAlivePeriod)
	}

	observed := NewObservedConn(conn, l.listener)
	l.listener.Opened(observed)
	return observed, nil
}
