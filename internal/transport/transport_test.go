// =============================================================================
// 文件: internal/transport/transport_test.go
// 描述: 被观察连接与模拟服务器测试
// =============================================================================
package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mrcgq/wiretap/internal/trafficlistener"
)

type event struct {
	kind string
	conn net.Conn
	data string
}

// recordingListener 记录所有回调（复制数据块，不持有原切片）
type recordingListener struct {
	mu     sync.Mutex
	events []event
}

func (r *recordingListener) add(kind string, conn net.Conn, b []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{kind, conn, string(b)})
}

func (r *recordingListener) Opened(c net.Conn)              { r.add("opened", c, nil) }
func (r *recordingListener) Closed(c net.Conn)              { r.add("closed", c, nil) }
func (r *recordingListener) Incoming(c net.Conn, b []byte) { r.add("incoming", c, b) }
func (r *recordingListener) Outgoing(c net.Conn, b []byte) { r.add("outgoing", c, b) }

func (r *recordingListener) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.kind
	}
	return out
}

func (r *recordingListener) joined(kind string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sb strings.Builder
	for _, e := range r.events {
		if e.kind == kind {
			sb.WriteString(e.data)
		}
	}
	return sb.String()
}

func (r *recordingListener) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.kind == kind {
			n++
		}
	}
	return n
}

func TestObservedConn(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	rec := &recordingListener{}
	conn := NewObservedConn(a, rec)

	go func() {
		buf := make([]byte, 5)
		_, _ = io.ReadFull(b, buf)
		_, _ = b.Write([]byte("pong"))
	}()

	if _, err := conn.Write([]byte("ping!")); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("读取失败: %v", err)
	}

	_ = conn.Close()
	_ = conn.Close()

	if got := rec.joined("outgoing"); got != "ping!" {
		t.Errorf("outgoing = %q", got)
	}
	if got := rec.joined("incoming"); got != "pong" {
		t.Errorf("incoming = %q", got)
	}
	if n := rec.count("closed"); n != 1 {
		t.Errorf("重复关闭应只回调一次 Closed, got %d", n)
	}
	if rec.count("opened") != 0 {
		t.Error("NewObservedConn 不应触发 Opened")
	}

	for _, e := range rec.events {
		if e.conn != conn {
			t.Errorf("回调的连接应为包装后的连接")
		}
	}
}

func TestObservedConnString(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	conn := NewObservedConn(a, nil)
	s := conn.String()
	if !strings.HasPrefix(s, "conn "+conn.ID()+" ") || !strings.HasSuffix(s, "pipe -> pipe") {
		t.Errorf("描述格式错误: %q", s)
	}
	if len(conn.ID()) != 8 {
		t.Errorf("ID 长度错误: %q", conn.ID())
	}
	if NewObservedConn(a, nil).ID() == conn.ID() {
		t.Error("连接 ID 应唯一")
	}
}

func TestObservedListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("监听失败: %v", err)
	}
	rec := &recordingListener{}
	oln := NewObservedListener(ln, rec)
	defer oln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := oln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("连接失败: %v", err)
	}
	defer client.Close()

	server, ok := <-accepted
	if !ok {
		t.Fatal("Accept 失败")
	}
	if _, ok := server.(*ObservedConn); !ok {
		t.Fatalf("Accept 应返回 *ObservedConn, got %T", server)
	}
	_ = server.Close()

	kinds := rec.kinds()
	if len(kinds) != 2 || kinds[0] != "opened" || kinds[1] != "closed" {
		t.Errorf("事件序列错误: %v", kinds)
	}
}

func TestServer(t *testing.T) {
	rec := &recordingListener{}
	srv := NewServer("127.0.0.1:0", MockResponse{
		Status:      http.StatusTeapot,
		ContentType: "text/plain",
		Body:        "no stub matched",
	}, rec, "error")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("启动失败: %v", err)
	}

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + srv.Addr().String() + "/hello")
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("状态码错误: %d", resp.StatusCode)
	}
	if string(body) != "no stub matched" {
		t.Errorf("响应体错误: %q", body)
	}

	srv.Stop()

	// 服务端在 Shutdown 后才会关闭连接
	deadline := time.Now().Add(2 * time.Second)
	for rec.count("closed") == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if rec.count("opened") != 1 {
		t.Errorf("应有 1 次 Opened, got %d", rec.count("opened"))
	}
	if rec.count("closed") != 1 {
		t.Errorf("应有 1 次 Closed, got %d", rec.count("closed"))
	}
	if in := rec.joined("incoming"); !strings.HasPrefix(in, "GET /hello HTTP/1.1\r\n") {
		t.Errorf("incoming 应为原始请求: %q", in)
	}
	if out := rec.joined("outgoing"); !strings.Contains(out, "418") || !strings.HasSuffix(out, "no stub matched") {
		t.Errorf("outgoing 应为原始响应: %q", out)
	}
}

// writeTestCert 生成自签名证书，返回 PEM 文件路径
func writeTestCert(t *testing.T) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("生成私钥失败: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "wiretap-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("生成证书失败: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("编码私钥失败: %v", err)
	}

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0600); err != nil {
		t.Fatalf("写入证书失败: %v", err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0600); err != nil {
		t.Fatalf("写入私钥失败: %v", err)
	}
	return certFile, keyFile
}

// noteRecorder 记录通知文本
type noteRecorder struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (n *noteRecorder) Info(m string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.infos = append(n.infos, m)
}

func (n *noteRecorder) Error(m string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, m)
}

func (n *noteRecorder) snapshot() (infos, errors []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.infos...), append([]string(nil), n.errors...)
}

func TestLoadTLSConfig(t *testing.T) {
	certFile, keyFile := writeTestCert(t)

	cfg, err := LoadTLSConfig(certFile, keyFile)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if len(cfg.Certificates) != 1 || cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("TLS 配置错误: %+v", cfg)
	}

	if _, err := LoadTLSConfig(filepath.Join(t.TempDir(), "none.pem"), keyFile); err == nil {
		t.Error("证书不存在时应报错")
	}
	if _, err := LoadTLSConfig(keyFile, certFile); err == nil {
		t.Error("证书与私钥颠倒时应报错")
	}
}

func TestServerTLSObservesCiphertext(t *testing.T) {
	certFile, keyFile := writeTestCert(t)
	tlsCfg, err := LoadTLSConfig(certFile, keyFile)
	if err != nil {
		t.Fatalf("加载证书失败: %v", err)
	}

	notes := &noteRecorder{}
	observer := trafficlistener.NewConsoleNotifyingListener(trafficlistener.WithNotifier(notes))
	srv := NewServer("127.0.0.1:0", MockResponse{
		Status: http.StatusOK,
		Body:   "short and stout",
	}, observer, "error", WithTLSConfig(tlsCfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("启动失败: %v", err)
	}

	client := &http.Client{Transport: &http.Transport{
		DisableKeepAlives: true,
		TLSClientConfig:   &tls.Config{InsecureSkipVerify: true},
	}}
	resp, err := client.Get("https://" + srv.Addr().String() + "/secret")
	if err != nil {
		srv.Stop()
		t.Fatalf("请求失败: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	srv.Stop()

	if string(body) != "short and stout" {
		t.Errorf("响应体错误: %q", body)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		infos, _ := notes.snapshot()
		if len(infos) > 0 && strings.HasPrefix(infos[len(infos)-1], "Closed ") {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	infos, errs := notes.snapshot()
	if len(infos) == 0 || !strings.HasPrefix(infos[0], "Opened ") {
		t.Errorf("第一条应为 Opened: %v", infos)
	}

	// 握手字节不是合法 UTF-8，只能看到固定的错误文本
	handshake := false
	for _, e := range errs {
		if strings.HasPrefix(e, "Incoming bytes omitted.") {
			handshake = true
		}
	}
	if !handshake {
		t.Errorf("握手数据应报告解码失败: %v", errs)
	}

	for _, m := range infos {
		if strings.Contains(m, "GET /secret") || strings.Contains(m, "short and stout") {
			t.Errorf("监听器位于 TLS 之下，不应看到明文: %q", m)
		}
	}
}

func TestMockHandlerDefaultStatus(t *testing.T) {
	h := MockHandler(MockResponse{})
	rw := &recorderWriter{header: http.Header{}}
	h.ServeHTTP(rw, &http.Request{})
	if rw.status != http.StatusNotFound {
		t.Errorf("默认状态码应为 404, got %d", rw.status)
	}
}

type recorderWriter struct {
	header http.Header
	status int
}

func (w *recorderWriter) Header() http.Header         { return w.header }
func (w *recorderWriter) Write(b []byte) (int, error) { return len(b), nil }
func (w *recorderWriter) WriteHeader(code int)        { w.status = code }

func TestParseLogLevel(t *testing.T) {
	cases := map[string]int{"debug": 2, "info": 1, "error": 0, "": 1}
	for in, want := range cases {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %d, want %d", in, got, want)
		}
	}
}
