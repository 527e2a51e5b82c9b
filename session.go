// Package teleop 实现机器人遥操作的远程控制传输层：
// 客户端代理经长连接会话调用服务端固定动词集，
// 载荷经codec包络往返，对上层调用方与本地控制无差别。
package teleop

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/transairobot/teleop_go/protocol"
)

const (
	alpnProtocol    = "teleop"
	protocolVersion = 1
)

// 默认端口：底盘18861，机械臂18862
const (
	DefaultRoverPort = 18861
	DefaultArmPort   = 18862
)

// DialOptions 控制会话建立与调用超时。
type DialOptions struct {
	// Timeout 是单次握手与单次调用的同步超时，默认30秒
	Timeout time.Duration
	// MaxAttempts 是连接尝试上限，默认3次
	MaxAttempts int
	// RetryDelay 是两次尝试之间的固定等待，默认1秒
	RetryDelay time.Duration
	// TLS 为nil时跳过证书校验（生产环境应提供受信配置）
	TLS *tls.Config
}

func (o *DialOptions) withDefaults() DialOptions {
	opts := DialOptions{}
	if o != nil {
		opts = *o
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{
			InsecureSkipVerify: true, // 生产环境应验证证书
			NextProtos:         []string{alpnProtocol},
		}
	}
	return opts
}

var ErrSessionClosed = errors.New("session closed")

// retryableDialError 判断拨号失败是否值得重试。只有网络层错误
// （拒绝连接、超时、系统级网络失败）才重试；TLS/ALPN握手被拒
// 是确定性失败，重试只会原样重演，立即向上传播。
func retryableDialError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var transportErr *quic.TransportError
	if errors.As(err, &transportErr) {
		return !transportErr.ErrorCode.IsCryptoError()
	}

	// 覆盖quic的空闲/握手超时与系统网络错误(含*net.OpError，
	// 均实现net.Error)
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Session 是代理到服务实例的一条传输连接。
// 同一时刻最多一个在途请求（同步请求/应答成帧），
// 会话自身不携带应用状态。
type Session struct {
	addr    string
	conn    *quic.Conn
	timeout time.Duration
	logger  *zap.Logger

	// mu 串行化调用：一条会话上严格一问一答
	mu     sync.Mutex
	closed atomic.Bool
}

func defaultQUICConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  3 * time.Minute,
		KeepAlivePeriod: 20 * time.Second,
	}
}

// Dial 建立到远端的会话，按固定间隔做有界重试。
// 只有网络层失败才重试；耗尽尝试后返回ConnectionError，
// 内含最后一次底层错误。
func Dial(ctx context.Context, addr string, opts *DialOptions) (*Session, error) {
	o := opts.withDefaults()

	var conn *quic.Conn
	dial := func() error {
		dialCtx, cancel := context.WithTimeout(ctx, o.Timeout)
		defer cancel()

		c, err := quic.DialAddr(dialCtx, addr, o.TLS, defaultQUICConfig())
		if err != nil {
			return err
		}
		conn = c
		return nil
	}

	if err := Retry(ctx, o.MaxAttempts, o.RetryDelay, dial, retryableDialError); err != nil {
		return nil, &ConnectionError{Addr: addr, Attempts: o.MaxAttempts, Err: err}
	}

	zap.L().Info("会话已建立", zap.String("addr", addr))

	return &Session{
		addr:    addr,
		conn:    conn,
		timeout: o.Timeout,
		logger:  zap.L(),
	}, nil
}

// Call 在会话上执行一次同步动词调用：开一条流，写请求帧，
// 读应答帧。服务端失败按错误码还原为本地错误类型；
// out 为nil时丢弃应答体。
func (s *Session) Call(ctx context.Context, verb uint16, req any, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return ErrSessionClosed
	}

	var body []byte
	if req != nil {
		var err error
		body, err = msgpack.Marshal(req)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	msg := protocol.NewMessage()
	msg.SetVersion(protocolVersion)
	msg.SetTimestampMS(uint64(time.Now().UnixMilli()))
	msg.SetContentType(protocol.MessagePack)
	msg.SetVerb(verb)
	msg.Body = body

	stream, err := s.conn.OpenStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer stream.Close()

	deadline := time.Now().Add(s.timeout)
	if err := stream.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := stream.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set read deadline: %w", err)
	}

	buf := msg.Encode()
	defer buf.Free()

	if _, err := stream.Write(buf.ReadOnlyData()); err != nil {
		return s.callError(verb, "send request", err)
	}

	response := protocol.NewMessage()
	if err := response.Decode(stream); err != nil {
		return s.callError(verb, "decode response", err)
	}

	var reply protocol.Reply
	if err := msgpack.Unmarshal(response.Body, &reply); err != nil {
		return fmt.Errorf("failed to unmarshal reply: %w", err)
	}

	if !reply.OK {
		return remoteError(reply.ErrCode, reply.ErrMsg)
	}

	if out != nil && len(reply.Body) > 0 {
		if err := msgpack.Unmarshal(reply.Body, out); err != nil {
			return fmt.Errorf("failed to unmarshal reply body: %w", err)
		}
	}

	return nil
}

// callError 将流超时归一化为TimeoutError，其余原样包装
func (s *Session) callError(verb uint16, op string, err error) error {
	if os.IsTimeout(err) {
		s.logger.Warn("调用超时，结果未知",
			zap.Uint16("verb", verb),
			zap.Duration("timeout", s.timeout))
		return &TimeoutError{Verb: verb, Timeout: s.timeout}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// IsAlive 无损探测会话存活，对死会话返回false而非报错。
func (s *Session) IsAlive(ctx context.Context) bool {
	if s.closed.Load() {
		return false
	}
	if s.conn.Context().Err() != nil {
		return false
	}
	return s.Call(ctx, protocol.Ping, nil, nil) == nil
}

// Close 关闭会话。幂等：多条清理路径都会走到这里，
// 对已关闭会话调用是空操作。
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.conn.CloseWithError(0, "session closed by client")
}

// RemoteAddr 返回远端地址
func (s *Session) RemoteAddr() string {
	return s.addr
}
