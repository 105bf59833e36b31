// =============================================================================
// 文件: internal/trafficlistener/listener.go
// 描述: 网络流量监听接口 - 由传输层在连接建立/关闭及收发字节时回调
// =============================================================================
package trafficlistener

import (
	"fmt"
	"net"
)

// Listener 流量监听器
// 同一实例被所有连接共享，实现必须可并发调用；
// chunk 只在回调期间有效，不得持有
type Listener interface {
	Opened(conn net.Conn)
	Closed(conn net.Conn)
	Incoming(conn net.Conn, chunk []byte)
	Outgoing(conn net.Conn, chunk []byte)
}

type multiListener []Listener

// Multi 将事件按顺序分发给多个监听器
func Multi(listeners ...Listener) Listener {
	out := make(multiListener, 0, len(listeners))
	for _, l := range listeners {
		if l != nil {
			out = append(out, l)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

func (m multiListener) Opened(conn net.Conn) {
	for _, l := range m {
		l.Opened(conn)
	}
}

func (m multiListener) Closed(conn net.Conn) {
	for _, l := range m {
		l.Closed(conn)
	}
}

func (m multiListener) Incoming(conn net.Conn, chunk []byte) {
	for _, l := range m {
		l.Incoming(conn, chunk)
	}
}

func (m multiListener) Outgoing(conn net.Conn, chunk []byte) {
	for _, l := range m {
		l.Outgoing(conn, chunk)
	}
}

// Noop 忽略所有事件
type Noop struct{}

func (Noop) Opened(net.Conn)           {}
func (Noop) Closed(net.Conn)           {}
func (Noop) Incoming(net.Conn, []byte) {}
func (Noop) Outgoing(net.Conn, []byte) {}

// Describe 返回连接的文本描述
// 优先使用 fmt.Stringer；未连接的 socket 不会 panic
func Describe(conn net.Conn) (desc string) {
	if conn == nil {
		return "<nil connection>"
	}
	defer func() {
		// 某些实现在未连接时访问地址会 panic
		if recover() != nil {
			desc = fmt.Sprintf("%T <unconnected>", conn)
		}
	}()

	if s, ok := conn.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%s -> %s", addrString(conn.RemoteAddr()), addrString(conn.LocalAddr()))
}

func addrString(a net.Addr) string {
	if a == nil {
		return "<unbound>"
	}
	return a.String()
}
