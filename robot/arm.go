package robot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/transairobot/teleop_go/codec"
)

// 六轴机械臂的关节，顺序与舵机ID 1-6 对应
var ArmJoints = []string{
	"shoulder_pan",
	"shoulder_lift",
	"elbow_flex",
	"wrist_flex",
	"wrist_roll",
	"gripper",
}

const posSuffix = ".pos"

// JointLimit 是单关节的位置边界（设备单位）
type JointLimit struct {
	Min float64
	Max float64
}

// DefaultJointLimits 返回默认关节边界：
// 常规关节±100，夹爪0-100。
func DefaultJointLimits() map[string]JointLimit {
	limits := make(map[string]JointLimit, len(ArmJoints))
	for _, joint := range ArmJoints {
		limits[joint] = JointLimit{Min: -100, Max: 100}
	}
	limits["gripper"] = JointLimit{Min: 0, Max: 100}
	return limits
}

// ServoBus 是机械臂舵机总线边界。
type ServoBus interface {
	Connect() error
	// ReadPositions 返回各关节当前位置，键为关节名
	ReadPositions() (map[string]float64, error)
	// WritePositions 同步写入各关节目标位置
	WritePositions(goal map[string]float64) error
	// DisableTorque 释放所有舵机扭矩，是断开前的安全态
	DisableTorque() error
	Calibrate() error
	Configure() error
	IsCalibrated() bool
	Close() error
}

// Arm 是六舵机机械臂。动作为各关节目标位置，
// 按关节边界限幅后写入总线；未知关节键直接拒绝。
type Arm struct {
	bus    ServoBus
	camera Camera // 可为nil
	limits map[string]JointLimit
	logger *zap.Logger

	mu        sync.Mutex
	connected bool
}

var _ Robot = (*Arm)(nil)

// NewArm 创建机械臂。limits传nil取DefaultJointLimits。
func NewArm(bus ServoBus, camera Camera, limits map[string]JointLimit) *Arm {
	if limits == nil {
		limits = DefaultJointLimits()
	}
	return &Arm{
		bus:    bus,
		camera: camera,
		limits: limits,
		logger: zap.L(),
	}
}

// Connect 接通舵机总线，按需标定。
func (a *Arm) Connect(ctx context.Context, calibrate bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.connected {
		return ErrAlreadyConnected
	}

	if err := a.bus.Connect(); err != nil {
		return &HardwareError{Op: "connect", Err: err}
	}

	if calibrate && !a.bus.IsCalibrated() {
		a.logger.Info("机械臂未标定，开始标定")
		if err := a.bus.Calibrate(); err != nil {
			return &HardwareError{Op: "calibrate", Err: err}
		}
	}

	a.connected = true
	a.logger.Info("机械臂已连接")
	return nil
}

// Disconnect 先释放扭矩再断开总线。
func (a *Arm) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return ErrNotConnected
	}
	a.connected = false

	// 扭矩释放失败也要继续断开总线
	torqueErr := a.bus.DisableTorque()
	if torqueErr != nil {
		a.logger.Error("断开时释放扭矩失败", zap.Error(torqueErr))
	}

	if err := a.bus.Close(); err != nil {
		a.logger.Error("关闭舵机总线失败", zap.Error(err))
	}
	if a.camera != nil {
		if err := a.camera.Close(); err != nil {
			a.logger.Error("关闭相机失败", zap.Error(err))
		}
	}

	a.logger.Info("机械臂已断开")
	if torqueErr != nil {
		return &HardwareError{Op: "disconnect", Err: torqueErr}
	}
	return nil
}

func (a *Arm) Calibrate(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.bus.Calibrate(); err != nil {
		return &HardwareError{Op: "calibrate", Err: err}
	}
	return nil
}

func (a *Arm) Configure(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.bus.Configure(); err != nil {
		return &HardwareError{Op: "configure", Err: err}
	}
	return nil
}

// Observation 返回各关节位置与相机帧。
// 读帧失败只降级，关节读数失败则整体失败。
func (a *Arm) Observation(ctx context.Context) (codec.Observation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return nil, ErrNotConnected
	}

	positions, err := a.bus.ReadPositions()
	if err != nil {
		return nil, &HardwareError{Op: "read_positions", Err: err}
	}

	obs := make(codec.Observation, len(positions)+1)
	for joint, pos := range positions {
		obs[joint+posSuffix] = codec.Scalar(pos)
	}

	if a.camera != nil {
		frame, err := a.camera.Frame()
		if err != nil {
			a.logger.Warn("读取相机帧失败，观测降级", zap.Error(err))
		} else {
			obs[KeyCamera] = frame
		}
	}

	return obs, nil
}

// SendAction 校验并限幅各关节目标后写入总线，返回实际应用值。
// 未配置边界的关节键视为非法动作。
func (a *Arm) SendAction(ctx context.Context, action codec.Action) (codec.Action, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return nil, ErrNotConnected
	}

	goal := make(map[string]float64, len(action))
	applied := make(codec.Action, len(action))
	for key, target := range action {
		joint, ok := strings.CutSuffix(key, posSuffix)
		if !ok {
			return nil, fmt.Errorf("invalid action key %q: missing %s suffix", key, posSuffix)
		}
		limit, ok := a.limits[joint]
		if !ok {
			return nil, fmt.Errorf("invalid action key %q: unknown joint", key)
		}

		clamped := clamp(target, limit.Min, limit.Max)
		if clamped != target {
			a.logger.Warn("关节目标超界，已限幅",
				zap.String("joint", joint),
				zap.Float64("requested", target),
				zap.Float64("applied", clamped))
		}
		goal[joint] = clamped
		applied[key] = clamped
	}

	if err := a.bus.WritePositions(goal); err != nil {
		return nil, &HardwareError{Op: "send_action", Err: err}
	}

	return applied, nil
}

func (a *Arm) IsConnected(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *Arm) IsCalibrated(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bus.IsCalibrated()
}

func (a *Arm) ObservationFeatures(ctx context.Context) (map[string]Feature, error) {
	features := a.jointFeatures()
	if a.camera != nil {
		w, h := a.camera.Resolution()
		features[KeyCamera] = ImageFeature(h, w)
	}
	return features, nil
}

func (a *Arm) ActionFeatures(ctx context.Context) (map[string]Feature, error) {
	return a.jointFeatures(), nil
}

func (a *Arm) jointFeatures() map[string]Feature {
	joints := make([]string, 0, len(a.limits))
	for joint := range a.limits {
		joints = append(joints, joint)
	}
	sort.Strings(joints)

	features := make(map[string]Feature, len(joints))
	for _, joint := range joints {
		features[joint+posSuffix] = ScalarFeature()
	}
	return features
}
