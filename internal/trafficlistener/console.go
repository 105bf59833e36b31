// =============================================================================
// 文件: internal/trafficlistener/console.go
// 描述: 通知型流量监听器 - 将连接事件与按字符集严格解码后的字节转发给通知器
// 说明:
//   - 每次回调恰好产生一条通知
//   - 解码失败只输出固定的方向性错误文本，绝不输出原始字节或部分解码结果
//   - 每个数据块独立解码，不跨块拼接；跨块截断的多字节字符会报告为解码失败
// =============================================================================
package trafficlistener

import (
	"fmt"
	"net"
	"os"

	"github.com/mrcgq/wiretap/internal/charset"
	"github.com/mrcgq/wiretap/internal/notify"
)

const (
	incomingOmitted = "Incoming bytes omitted."
	outgoingOmitted = "Outgoing bytes omitted."
)

// ConsoleNotifyingListener 通知型流量监听器
// 无跨调用状态，可被所有连接并发共享
type ConsoleNotifyingListener struct {
	notifier notify.Notifier
	encoding charset.Encoding
}

// Option 构造选项
type Option func(*ConsoleNotifyingListener)

// WithNotifier 设置通知器
func WithNotifier(n notify.Notifier) Option {
	return func(l *ConsoleNotifyingListener) {
		if n != nil {
			l.notifier = n
		}
	}
}

// WithEncoding 设置解码字符集
func WithEncoding(e charset.Encoding) Option {
	return func(l *ConsoleNotifyingListener) {
		l.encoding = e
	}
}

// NewConsoleNotifyingListener 创建监听器
// 默认输出到标准输出，字符集 UTF-8
func NewConsoleNotifyingListener(opts ...Option) *ConsoleNotifyingListener {
	l := &ConsoleNotifyingListener{
		notifier: notify.NewConsoleNotifier(os.Stdout, true),
		encoding: charset.UTF8,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Encoding 返回当前字符集
func (l *ConsoleNotifyingListener) Encoding() charset.Encoding {
	return l.encoding
}

// Opened 连接建立
func (l *ConsoleNotifyingListener) Opened(conn net.Conn) {
	l.info("Opened " + Describe(conn))
}

// Closed 连接关闭
func (l *ConsoleNotifyingListener) Closed(conn net.Conn) {
	l.info("Closed " + Describe(conn))
}

// Incoming 收到数据
func (l *ConsoleNotifyingListener) Incoming(conn net.Conn, chunk []byte) {
	l.traffic(chunk, "Incoming bytes from "+Describe(conn), incomingOmitted)
}

// Outgoing 发出数据
func (l *ConsoleNotifyingListener) Outgoing(conn net.Conn, chunk []byte) {
	l.traffic(chunk, "Outgoing bytes to "+Describe(conn), outgoingOmitted)
}

// traffic 成功时消息以解码文本结尾: "<prefix>: <text>"
func (l *ConsoleNotifyingListener) traffic(chunk []byte, prefix, omitted string) {
	text, err := l.encoding.Decode(chunk)
	if err != nil {
		l.error(fmt.Sprintf("%s Could not decode with charset: %s", omitted, l.encoding.Name()))
		return
	}
	l.info(prefix + ": " + text)
}

// 通知器的 panic 在此吞掉，不能影响连接本身

func (l *ConsoleNotifyingListener) info(message string) {
	defer func() { _ = recover() }()
	l.notifier.Info(message)
}

func (l *ConsoleNotifyingListener) error(message string) {
	defer func() { _ = recover() }()
	l.notifier.Error(message)
}
