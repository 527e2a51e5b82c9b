package teleop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/transairobot/teleop_go/codec"
	"github.com/transairobot/teleop_go/protocol"
	"github.com/transairobot/teleop_go/robot"
)

// RemoteRobot 是服务端机器人的客户端代理，实现robot.Robot，
// 对上层与本地实现无差别。每个数据调用都经codec包络往返，
// 绝不向传输层直接写原始数组。
//
// 连接状态一律以服务端往返查询为准（不缓存本地标志），
// 特征查询结果在首次成功后缓存至对象生命周期结束——
// 特征集按硬件配置固定，不会在连接期间变化。
type RemoteRobot struct {
	addr   string
	opts   DialOptions
	logger *zap.Logger

	mu      sync.Mutex
	session *Session
	obsFeat map[string]robot.Feature
	actFeat map[string]robot.Feature
}

var _ robot.Robot = (*RemoteRobot)(nil)

// NewRemoteRobot 创建远端机器人代理，不建立连接。
func NewRemoteRobot(addr string, opts *DialOptions) *RemoteRobot {
	return &RemoteRobot{
		addr:   addr,
		opts:   opts.withDefaults(),
		logger: zap.L().With(zap.String("remote", addr)),
	}
}

// Connect 建立会话并接通远端硬件。一个代理同一时刻最多一条会话，
// 重连前必须先断开。远端connect失败时会话随之关闭，不保留半开状态。
func (r *RemoteRobot) Connect(ctx context.Context, calibrate bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil {
		return robot.ErrAlreadyConnected
	}

	r.logger.Info("连接远端机器人", zap.Bool("calibrate", calibrate))

	session, err := Dial(ctx, r.addr, &r.opts)
	if err != nil {
		return err
	}

	req := &protocol.ConnectRequest{Calibrate: calibrate}
	if err := session.Call(ctx, protocol.Connect, req, nil); err != nil {
		_ = session.Close()
		return fmt.Errorf("remote connect failed: %w", err)
	}

	r.session = session
	r.logger.Info("远端机器人已连接")
	return nil
}

// Disconnect 通知远端安全停机并关闭会话。
// 无论远端应答如何，本地会话都会关闭。
func (r *RemoteRobot) Disconnect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return robot.ErrNotConnected
	}

	err := r.session.Call(ctx, protocol.Disconnect, nil, nil)
	if err != nil {
		r.logger.Error("远端断开失败", zap.Error(err))
	}

	_ = r.session.Close()
	r.session = nil
	r.logger.Info("远端机器人已断开")
	return err
}

func (r *RemoteRobot) Calibrate(ctx context.Context) error {
	session, err := r.liveSession()
	if err != nil {
		return err
	}
	return session.Call(ctx, protocol.Calibrate, nil, nil)
}

func (r *RemoteRobot) Configure(ctx context.Context) error {
	session, err := r.liveSession()
	if err != nil {
		return err
	}
	return session.Call(ctx, protocol.Configure, nil, nil)
}

// Observation 拉取远端观测并解码包络。
func (r *RemoteRobot) Observation(ctx context.Context) (codec.Observation, error) {
	session, err := r.liveSession()
	if err != nil {
		return nil, err
	}

	var reply protocol.ObservationReply
	if err := session.Call(ctx, protocol.GetObservation, nil, &reply); err != nil {
		return nil, err
	}

	return codec.DecodeObservation(reply.Observation)
}

// SendAction 编码动作下发远端，返回限幅后实际应用的值。
func (r *RemoteRobot) SendAction(ctx context.Context, action codec.Action) (codec.Action, error) {
	session, err := r.liveSession()
	if err != nil {
		return nil, err
	}

	req := &protocol.ActionRequest{Action: codec.EncodeAction(action)}
	var reply protocol.ActionReply
	if err := session.Call(ctx, protocol.SendAction, req, &reply); err != nil {
		return nil, err
	}

	return codec.DecodeAction(reply.Applied)
}

// IsConnected 每次都向服务端做往返查询，任何传输错误视为未连接。
func (r *RemoteRobot) IsConnected(ctx context.Context) bool {
	session, err := r.liveSession()
	if err != nil {
		return false
	}

	var reply protocol.BoolReply
	if err := session.Call(ctx, protocol.IsConnected, nil, &reply); err != nil {
		return false
	}
	return reply.Value
}

func (r *RemoteRobot) IsCalibrated(ctx context.Context) bool {
	session, err := r.liveSession()
	if err != nil {
		return false
	}

	var reply protocol.BoolReply
	if err := session.Call(ctx, protocol.IsCalibrated, nil, &reply); err != nil {
		return false
	}
	return reply.Value
}

// ObservationFeatures 首次成功查询后缓存。
func (r *RemoteRobot) ObservationFeatures(ctx context.Context) (map[string]robot.Feature, error) {
	r.mu.Lock()
	cached := r.obsFeat
	r.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	features, err := r.fetchFeatures(ctx, protocol.GetObservationFeatures)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.obsFeat = features
	r.mu.Unlock()
	return features, nil
}

// ActionFeatures 首次成功查询后缓存。
func (r *RemoteRobot) ActionFeatures(ctx context.Context) (map[string]robot.Feature, error) {
	r.mu.Lock()
	cached := r.actFeat
	r.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	features, err := r.fetchFeatures(ctx, protocol.GetActionFeatures)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.actFeat = features
	r.mu.Unlock()
	return features, nil
}

func (r *RemoteRobot) fetchFeatures(ctx context.Context, verb uint16) (map[string]robot.Feature, error) {
	session, err := r.liveSession()
	if err != nil {
		return nil, err
	}

	var reply protocol.FeaturesReply
	if err := session.Call(ctx, verb, nil, &reply); err != nil {
		return nil, err
	}

	features := make(map[string]robot.Feature, len(reply.Features))
	for key, f := range reply.Features {
		features[key] = robot.Feature{Kind: f.Kind, Shape: f.Shape}
	}
	return features, nil
}

// Close 在代理被丢弃时兜底断开远端，避免执行器无人看管。
// 尽力而为：这里没有调用方可以上报，所有错误吞掉。
func (r *RemoteRobot) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.session.Call(ctx, protocol.Disconnect, nil, nil); err != nil {
		r.logger.Debug("兜底断开失败", zap.Error(err))
	}
	_ = r.session.Close()
	r.session = nil
}

func (r *RemoteRobot) liveSession() (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return nil, robot.ErrNotConnected
	}
	return r.session, nil
}
