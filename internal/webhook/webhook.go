// =============================================================================
// 文件: internal/webhook/webhook.go
// 描述: Webhook 改写扩展点 - 在派发前根据触发它的请求/响应改写出站调用
// 说明: 派发、重试以及多个改写器的执行顺序由外部派发管线负责
// =============================================================================
package webhook

import (
	"net/http"
	"time"
)

// LoggedRequest 已完成交换中的请求记录
type LoggedRequest struct {
	Method     string
	URL        string
	Headers    http.Header
	Body       []byte
	ReceivedAt time.Time
}

// LoggedResponse 已完成交换中的响应记录
type LoggedResponse struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// ServeEvent 一次已完成的请求/响应交换，视为只读
type ServeEvent struct {
	ID       string
	Request  LoggedRequest
	Response LoggedResponse
}

// Definition 出站 webhook 调用
// 所有 With* 方法返回副本，不修改接收者
type Definition struct {
	URL     string
	Method  string
	Headers http.Header
	Body    []byte
}

// Transformer 出站调用改写器
// 对输入应为纯函数：可原样返回 def，也可返回修改后的副本
type Transformer interface {
	Transform(event ServeEvent, def Definition) Definition
}

// TransformerFunc 函数适配器
type TransformerFunc func(event ServeEvent, def Definition) Definition

// Transform 实现 Transformer
func (f TransformerFunc) Transform(event ServeEvent, def Definition) Definition {
	return f(event, def)
}

// Clone 深拷贝
func (d Definition) Clone() Definition {
	out := d
	if d.Headers != nil {
		out.Headers = d.Headers.Clone()
	}
	if d.Body != nil {
		out.Body = append([]byte(nil), d.Body...)
	}
	return out
}

// WithURL 替换目标地址
func (d Definition) WithURL(url string) Definition {
	out := d.Clone()
	out.URL = url
	return out
}

// WithMethod 替换请求方法
func (d Definition) WithMethod(method string) Definition {
	out := d.Clone()
	out.Method = method
	return out
}

// WithHeader 设置请求头（覆盖同名头）
func (d Definition) WithHeader(key, value string) Definition {
	out := d.Clone()
	if out.Headers == nil {
		out.Headers = http.Header{}
	}
	out.Headers.Set(key, value)
	return out
}

// WithBody 替换请求体
func (d Definition) WithBody(body []byte) Definition {
	out := d.Clone()
	out.Body = append([]byte(nil), body...)
	return out
}

// RequestMethod 返回方法，未设置时为 POST
func (d Definition) RequestMethod() string {
	if d.Method == "" {
		return http.MethodPost
	}
	return d.Method
}
