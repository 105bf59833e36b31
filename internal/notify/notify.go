// =============================================================================
// 文件: internal/notify/notify.go
// 描述: 通知接收器 - 分级文本消息（info / error）的输出能力
// =============================================================================
package notify

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Notifier 分级通知接口
// 调用方视其为即发即忘；并发安全由实现方自行保证
type Notifier interface {
	Info(message string)
	Error(message string)
}

// =============================================================================
// 控制台通知器
// =============================================================================

// ConsoleNotifier 控制台通知器
// 输出格式与其他组件的日志一致: [INFO] 15:04:05 [TRAFFIC] message
type ConsoleNotifier struct {
	out     io.Writer
	tag     string
	verbose bool
	now     func() time.Time

	mu sync.Mutex
}

// NewConsoleNotifier 创建控制台通知器
// verbose 为 false 时只输出 error 级别
func NewConsoleNotifier(out io.Writer, verbose bool) *ConsoleNotifier {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleNotifier{
		out:     out,
		tag:     "TRAFFIC",
		verbose: verbose,
		now:     time.Now,
	}
}

// Info 输出 info 级别消息
func (n *ConsoleNotifier) Info(message string) {
	if !n.verbose {
		return
	}
	n.write("[INFO]", message)
}

// Error 输出 error 级别消息
func (n *ConsoleNotifier) Error(message string) {
	n.write("[ERROR]", message)
}

func (n *ConsoleNotifier) write(prefix, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	// 写失败不向上传播
	_, _ = fmt.Fprintf(n.out, "%s %s [%s] %s\n", prefix, n.now().Format("15:04:05"), n.tag, message)
}

// =============================================================================
// 组合通知器
// =============================================================================

type multiNotifier []Notifier

// Multi 将消息依次分发给多个通知器，nil 项会被忽略
func Multi(notifiers ...Notifier) Notifier {
	out := make(multiNotifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

func (m multiNotifier) Info(message string) {
	for _, n := range m {
		n.Info(message)
	}
}

func (m multiNotifier) Error(message string) {
	for _, n := range m {
		n.Error(message)
	}
}
