package teleop

import (
	"context"
	"errors"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/transairobot/teleop_go/codec"
	"github.com/transairobot/teleop_go/protocol"
	"github.com/transairobot/teleop_go/robot"
)

// RobotFactory 延迟创建硬件句柄。首次connect动词才会调用，
// 对象构造时不触碰电机/舵机/相机驱动。
type RobotFactory func() (robot.Robot, error)

type serviceState int

const (
	// 尚无硬件句柄
	stateUninitialized serviceState = iota
	// 句柄存活，执行器处于已定义状态
	stateConnected
	// 会话内终态，句柄已释放
	stateDisconnected
)

// robotService 是绑定到单条会话的服务端状态机。
// 硬件句柄由它独占，会话结束时无条件走安全停机路径。
type robotService struct {
	factory RobotFactory
	enc     codec.Options
	logger  *zap.Logger

	rob   robot.Robot
	state serviceState
}

func newRobotService(factory RobotFactory, enc codec.Options, logger *zap.Logger) *robotService {
	return &robotService{
		factory: factory,
		enc:     enc,
		logger:  logger,
	}
}

// handle 分派一个动词并构造应答。硬件/编解码错误在这里
// 带上下文记录后转为应答错误码传回客户端，绝不让服务进程崩溃。
func (s *robotService) handle(ctx context.Context, verb uint16, body []byte) *protocol.Reply {
	switch verb {
	case protocol.Connect:
		return s.handleConnect(ctx, body)
	case protocol.Disconnect:
		return s.handleDisconnect(ctx)
	case protocol.Calibrate:
		return s.handleCalibrate(ctx)
	case protocol.Configure:
		return s.handleConfigure(ctx)
	case protocol.GetObservation:
		return s.handleGetObservation(ctx)
	case protocol.SendAction:
		return s.handleSendAction(ctx, body)
	case protocol.IsConnected:
		return s.okReply(&protocol.BoolReply{Value: s.rob != nil && s.rob.IsConnected(ctx)})
	case protocol.IsCalibrated:
		return s.okReply(&protocol.BoolReply{Value: s.rob != nil && s.rob.IsCalibrated(ctx)})
	case protocol.GetObservationFeatures:
		return s.handleFeatures(ctx, false)
	case protocol.GetActionFeatures:
		return s.handleFeatures(ctx, true)
	case protocol.Ping:
		return s.okReply(nil)
	default:
		s.logger.Warn("未知动词", zap.Uint16("verb", verb))
		return failReply(protocol.CodeUnknownVerb, "unknown verb")
	}
}

func (s *robotService) handleConnect(ctx context.Context, body []byte) *protocol.Reply {
	switch s.state {
	case stateConnected:
		return failReply(protocol.CodeAlreadyConnected, robot.ErrAlreadyConnected.Error())
	case stateDisconnected:
		return failReply(protocol.CodeSessionEnded, "session already ended, reconnect with a new session")
	}

	// 硬件句柄在首次connect时才创建
	if s.rob == nil {
		s.logger.Info("初始化硬件句柄")
		rob, err := s.factory()
		if err != nil {
			s.logger.Error("硬件初始化失败", zap.Error(err))
			return failReply(protocol.CodeHardware, err.Error())
		}
		s.rob = rob
	}

	req := protocol.ConnectRequest{Calibrate: true}
	if len(body) > 0 {
		if err := msgpack.Unmarshal(body, &req); err != nil {
			return failReply(protocol.CodeDecode, err.Error())
		}
	}

	s.logger.Info("接通硬件", zap.Bool("calibrate", req.Calibrate))
	if err := s.rob.Connect(ctx, req.Calibrate); err != nil {
		s.logger.Error("接通硬件失败", zap.Error(err))
		return s.failFromError(err)
	}

	s.state = stateConnected
	return s.okReply(nil)
}

func (s *robotService) handleDisconnect(ctx context.Context) *protocol.Reply {
	if s.state != stateConnected {
		return failReply(protocol.CodeNotConnected, robot.ErrNotConnected.Error())
	}

	if err := s.teardown(ctx); err != nil {
		return s.failFromError(err)
	}
	return s.okReply(nil)
}

func (s *robotService) handleCalibrate(ctx context.Context) *protocol.Reply {
	if s.rob == nil {
		return failReply(protocol.CodeUninitialized, robot.ErrUninitialized.Error())
	}
	if err := s.rob.Calibrate(ctx); err != nil {
		s.logger.Error("标定失败", zap.Error(err))
		return s.failFromError(err)
	}
	return s.okReply(nil)
}

func (s *robotService) handleConfigure(ctx context.Context) *protocol.Reply {
	if s.rob == nil {
		return failReply(protocol.CodeUninitialized, robot.ErrUninitialized.Error())
	}
	if err := s.rob.Configure(ctx); err != nil {
		s.logger.Error("配置失败", zap.Error(err))
		return s.failFromError(err)
	}
	return s.okReply(nil)
}

func (s *robotService) handleGetObservation(ctx context.Context) *protocol.Reply {
	if s.rob == nil {
		return failReply(protocol.CodeUninitialized, robot.ErrUninitialized.Error())
	}

	obs, err := s.rob.Observation(ctx)
	if err != nil {
		s.logger.Error("获取观测失败", zap.Error(err))
		return s.failFromError(err)
	}

	encoded, err := codec.EncodeObservation(obs, s.enc)
	if err != nil {
		s.logger.Error("观测编码失败", zap.Error(err), zap.Int("keys", len(obs)))
		return failReply(protocol.CodeDecode, err.Error())
	}

	return s.okReply(&protocol.ObservationReply{Observation: encoded})
}

func (s *robotService) handleSendAction(ctx context.Context, body []byte) *protocol.Reply {
	if s.rob == nil {
		return failReply(protocol.CodeUninitialized, robot.ErrUninitialized.Error())
	}

	var req protocol.ActionRequest
	if err := msgpack.Unmarshal(body, &req); err != nil {
		s.logger.Error("动作请求反序列化失败", zap.Error(err))
		return failReply(protocol.CodeDecode, err.Error())
	}

	action, err := codec.DecodeAction(req.Action)
	if err != nil {
		// 记录完整载荷便于排查畸形包络
		s.logger.Error("动作包络解码失败", zap.Error(err), zap.Any("payload", req.Action))
		return failReply(protocol.CodeDecode, err.Error())
	}

	applied, err := s.rob.SendAction(ctx, action)
	if err != nil {
		// 执行器写入失败永远上抛，不做静默降级
		s.logger.Error("动作下发失败", zap.Error(err), zap.Any("action", action))
		return s.failFromError(err)
	}

	return s.okReply(&protocol.ActionReply{Applied: codec.EncodeAction(applied)})
}

func (s *robotService) handleFeatures(ctx context.Context, action bool) *protocol.Reply {
	if s.rob == nil {
		return failReply(protocol.CodeUninitialized, robot.ErrUninitialized.Error())
	}

	var features map[string]robot.Feature
	var err error
	if action {
		features, err = s.rob.ActionFeatures(ctx)
	} else {
		features, err = s.rob.ObservationFeatures(ctx)
	}
	if err != nil {
		s.logger.Error("获取特征失败", zap.Error(err))
		return s.failFromError(err)
	}

	out := make(map[string]protocol.Feature, len(features))
	for key, f := range features {
		out[key] = protocol.Feature{Kind: f.Kind, Shape: f.Shape}
	}
	return s.okReply(&protocol.FeaturesReply{Features: out})
}

// cleanup 是会话结束时的无条件安全钩子。无论会话是正常断开
// 还是网络层中断，只要硬件还在接通状态，就强制走一次安全停机，
// 不让执行器停在最后一次指令上无人看管。
func (s *robotService) cleanup(ctx context.Context) {
	if s.state != stateConnected {
		return
	}

	s.logger.Warn("会话结束但硬件仍在接通状态，强制安全停机")
	if err := s.teardown(ctx); err != nil {
		s.logger.Error("安全停机失败", zap.Error(err))
	}
}

// teardown 执行安全停机并释放硬件句柄。驱动报错也要完成释放。
func (s *robotService) teardown(ctx context.Context) error {
	err := s.rob.Disconnect(ctx)
	if err != nil {
		s.logger.Error("硬件断开失败", zap.Error(err))
	}
	s.rob = nil
	s.state = stateDisconnected
	return err
}

func (s *robotService) okReply(body any) *protocol.Reply {
	reply := &protocol.Reply{OK: true}
	if body != nil {
		data, err := msgpack.Marshal(body)
		if err != nil {
			s.logger.Error("应答序列化失败", zap.Error(err))
			return failReply(protocol.CodeDecode, err.Error())
		}
		reply.Body = data
	}
	return reply
}

func failReply(code, msg string) *protocol.Reply {
	return &protocol.Reply{ErrCode: code, ErrMsg: msg}
}

// failFromError 将机器人层错误翻译为应答错误码
func (s *robotService) failFromError(err error) *protocol.Reply {
	return failReply(errCodeOf(err), err.Error())
}

func errCodeOf(err error) string {
	switch {
	case errors.Is(err, robot.ErrAlreadyConnected):
		return protocol.CodeAlreadyConnected
	case errors.Is(err, robot.ErrNotConnected):
		return protocol.CodeNotConnected
	case errors.Is(err, robot.ErrUninitialized):
		return protocol.CodeUninitialized
	}

	var decodeErr *codec.DecodeError
	if errors.As(err, &decodeErr) {
		return protocol.CodeDecode
	}
	return protocol.CodeHardware
}
