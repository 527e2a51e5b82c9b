package teleop

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/transairobot/teleop_go/codec"
	"github.com/transairobot/teleop_go/protocol"
)

// ServerConfig 是服务端运行配置。
// 证书文件留空时使用临时自签证书（仅限开发/测试）。
type ServerConfig struct {
	CertFile string
	KeyFile  string
	// Encoding 控制观测图像的压缩方式
	Encoding codec.Options
}

// Server 在一个端口上服务一台机器人。每条接入连接各占一个
// goroutine 并绑定一个独立的服务状态机；同一连接上的流严格
// 按序处理，保证会话内FIFO的请求/应答语义。
//
// 两条会话同时指向同一台物理硬件是未建模的危险场景，
// 设计假定每个端点同一时刻只有一个客户端。
type Server struct {
	conf    *ServerConfig
	factory RobotFactory
	lis     *quic.Listener
	clients sync.Map // map[*quic.Conn]*ClientSession
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// ClientSession 表示已连接的客户端会话
type ClientSession struct {
	ID           string    `json:"id"`
	RemoteAddr   string    `json:"remote_addr"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	RequestCount uint64    `json:"request_count"`
	ErrorCount   uint64    `json:"error_count"`

	mu sync.RWMutex
}

func (c *ClientSession) touch(failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LastActivity = time.Now()
	c.RequestCount++
	if failed {
		c.ErrorCount++
	}
}

// snapshot 返回会话统计的副本
func (c *ClientSession) snapshot() ClientSession {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ClientSession{
		ID:           c.ID,
		RemoteAddr:   c.RemoteAddr,
		ConnectedAt:  c.ConnectedAt,
		LastActivity: c.LastActivity,
		RequestCount: c.RequestCount,
		ErrorCount:   c.ErrorCount,
	}
}

// NewServer 创建机器人控制服务器。factory在每条会话首次
// connect时被调用，产出该会话独占的硬件句柄。
func NewServer(factory RobotFactory, conf *ServerConfig) *Server {
	if conf == nil {
		conf = &ServerConfig{}
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		conf:    conf,
		factory: factory,
		logger:  zap.L(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Serve 启动服务器并接受连接，阻塞直到Stop。
func (s *Server) Serve(addr string) error {
	cert, err := s.serverCert()
	if err != nil {
		return fmt.Errorf("failed to load certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpnProtocol},
	}

	listener, err := quic.ListenAddr(addr, tlsConfig, &quic.Config{
		MaxIdleTimeout:                 3 * time.Minute,
		KeepAlivePeriod:                20 * time.Second,
		MaxIncomingStreams:             256,
		InitialStreamReceiveWindow:     512 * 1024,
		MaxStreamReceiveWindow:         1024 * 1024,
		InitialConnectionReceiveWindow: 1024 * 1024,
		MaxConnectionReceiveWindow:     2048 * 1024,
	})
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.lis = listener
	s.logger.Info("服务器已启动", zap.String("addr", addr))

	for {
		conn, err := listener.Accept(s.ctx)
		if err != nil {
			select {
			case <-s.ctx.Done():
				return nil
			default:
				s.logger.Error("接受连接失败", zap.Error(err))
				continue
			}
		}

		go s.handleConnection(conn)
	}
}

func (s *Server) serverCert() (tls.Certificate, error) {
	if s.conf.CertFile == "" && s.conf.KeyFile == "" {
		s.logger.Warn("未配置证书，使用临时自签证书")
		return selfSignedCert()
	}
	return loadCert(s.conf.CertFile, s.conf.KeyFile)
}

// handleConnection 处理单条连接的完整生命周期。
// 流在本goroutine内按序处理，不做流内并发；退出前无条件
// 执行服务状态机的安全清理钩子。
func (s *Server) handleConnection(conn *quic.Conn) {
	defer conn.CloseWithError(0, "session end")

	session := &ClientSession{
		ID:          uuid.NewString(),
		RemoteAddr:  conn.RemoteAddr().String(),
		ConnectedAt: time.Now(),
	}

	s.clients.Store(conn, session)
	defer s.clients.Delete(conn)

	logger := s.logger.With(
		zap.String("session", session.ID),
		zap.String("remote", session.RemoteAddr))
	logger.Info("客户端已连接")

	svc := newRobotService(s.factory, s.conf.Encoding, logger)
	// 无论连接如何结束，硬件都要回到安全态
	defer svc.cleanup(s.ctx)

	for {
		stream, err := conn.AcceptStream(s.ctx)
		if err != nil {
			logger.Info("连接结束", zap.Error(err))
			return
		}

		s.handleStream(svc, session, stream)
	}
}

// handleStream 处理一次请求/应答交换
func (s *Server) handleStream(svc *robotService, session *ClientSession, stream *quic.Stream) {
	defer stream.Close()

	msg := protocol.NewMessage()
	if err := msg.Decode(stream); err != nil {
		svc.logger.Debug("解码请求帧失败", zap.Error(err))
		session.touch(true)
		return
	}

	var reply *protocol.Reply
	if msg.ContentType != protocol.MessagePack {
		svc.logger.Warn("不支持的内容类型", zap.Uint16("type", msg.ContentType))
		reply = failReply(protocol.CodeDecode, "unsupported content type")
	} else {
		reply = svc.handle(s.ctx, msg.Verb, msg.Body)
	}

	session.touch(!reply.OK)

	body, err := msgpack.Marshal(reply)
	if err != nil {
		svc.logger.Error("应答壳序列化失败", zap.Error(err))
		return
	}

	response := protocol.NewMessage()
	response.SetVersion(protocolVersion)
	response.SetTimestampMS(uint64(time.Now().UnixMilli()))
	response.SetContentType(protocol.MessagePack)
	response.SetVerb(msg.Verb)
	response.Body = body

	buf := response.Encode()
	defer buf.Free()

	if _, err := stream.Write(buf.ReadOnlyData()); err != nil {
		svc.logger.Error("发送应答失败", zap.Error(err))
	}
}

// Sessions 返回当前所有会话的统计快照
func (s *Server) Sessions() []ClientSession {
	var out []ClientSession
	s.clients.Range(func(_, value any) bool {
		out = append(out, value.(*ClientSession).snapshot())
		return true
	})
	return out
}

// Stop 停止服务器
func (s *Server) Stop() error {
	s.cancel()

	if s.lis != nil {
		return s.lis.Close()
	}
	return nil
}
