package robot

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/transairobot/teleop_go/codec"
)

// 差速底盘的观测/动作键
const (
	KeyLeftMotor  = "left_motor.value"
	KeyRightMotor = "right_motor.value"
	KeyCamera     = "camera"
)

// MotorDriver 是差速底盘的电机驱动边界。
type MotorDriver interface {
	// SetSpeeds 设置左右电机占空比，取值[-1, 1]
	SetSpeeds(left, right float64) error
	// Stop 将两个电机回到零速安全态
	Stop() error
	Close() error
}

// Camera 是相机采集边界，帧为BGR格式。
type Camera interface {
	Frame() (*codec.Image, error)
	// Resolution 返回帧宽高
	Resolution() (width, height int)
	Close() error
}

// Rover 是两电机差速底盘。动作为左右占空比，限幅到[-1, 1]；
// 观测为最近一次下发的占空比，外加可选的相机帧。
type Rover struct {
	motors MotorDriver
	camera Camera // 可为nil
	logger *zap.Logger

	mu        sync.Mutex
	connected bool
	lastLeft  float64
	lastRight float64
}

var _ Robot = (*Rover)(nil)

// NewRover 创建差速底盘，camera传nil表示无相机。
func NewRover(motors MotorDriver, camera Camera) *Rover {
	return &Rover{
		motors: motors,
		camera: camera,
		logger: zap.L(),
	}
}

// Connect 接通底盘并将电机置于零速安全态。
// calibrate 对底盘无意义，忽略。
func (r *Rover) Connect(ctx context.Context, calibrate bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.connected {
		return ErrAlreadyConnected
	}

	if err := r.motors.Stop(); err != nil {
		return &HardwareError{Op: "connect", Err: err}
	}

	r.lastLeft, r.lastRight = 0, 0
	r.connected = true
	r.logger.Info("底盘已连接")
	return nil
}

// Disconnect 先将电机回零再释放驱动。
func (r *Rover) Disconnect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.connected {
		return ErrNotConnected
	}
	r.connected = false

	// 回零失败也要继续释放驱动
	stopErr := r.motors.Stop()
	if stopErr != nil {
		r.logger.Error("断开时电机回零失败", zap.Error(stopErr))
	}

	if err := r.motors.Close(); err != nil {
		r.logger.Error("关闭电机驱动失败", zap.Error(err))
	}
	if r.camera != nil {
		if err := r.camera.Close(); err != nil {
			r.logger.Error("关闭相机失败", zap.Error(err))
		}
	}

	r.logger.Info("底盘已断开")
	if stopErr != nil {
		return &HardwareError{Op: "disconnect", Err: stopErr}
	}
	return nil
}

// Calibrate 底盘无需标定。
func (r *Rover) Calibrate(ctx context.Context) error {
	r.logger.Info("底盘无需标定")
	return nil
}

// Configure 底盘无运行时配置。
func (r *Rover) Configure(ctx context.Context) error {
	return nil
}

// Observation 返回最近下发的占空比与相机帧。
// 读帧失败只降级（省略camera键并告警），不让整次调用失败。
func (r *Rover) Observation(ctx context.Context) (codec.Observation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.connected {
		return nil, ErrNotConnected
	}

	obs := codec.Observation{
		KeyLeftMotor:  codec.Scalar(r.lastLeft),
		KeyRightMotor: codec.Scalar(r.lastRight),
	}

	if r.camera != nil {
		frame, err := r.camera.Frame()
		if err != nil {
			r.logger.Warn("读取相机帧失败，观测降级", zap.Error(err))
		} else {
			obs[KeyCamera] = frame
		}
	}

	return obs, nil
}

// SendAction 将占空比限幅到[-1, 1]后下发，返回实际应用值。
func (r *Rover) SendAction(ctx context.Context, action codec.Action) (codec.Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.connected {
		return nil, ErrNotConnected
	}

	left := clamp(action[KeyLeftMotor], -1.0, 1.0)
	right := clamp(action[KeyRightMotor], -1.0, 1.0)

	if err := r.motors.SetSpeeds(left, right); err != nil {
		return nil, &HardwareError{Op: "send_action", Err: err}
	}

	r.lastLeft, r.lastRight = left, right

	return codec.Action{
		KeyLeftMotor:  left,
		KeyRightMotor: right,
	}, nil
}

func (r *Rover) IsConnected(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// IsCalibrated 底盘不存在标定态，恒为true。
func (r *Rover) IsCalibrated(ctx context.Context) bool {
	return true
}

func (r *Rover) ObservationFeatures(ctx context.Context) (map[string]Feature, error) {
	features := map[string]Feature{
		KeyLeftMotor:  ScalarFeature(),
		KeyRightMotor: ScalarFeature(),
	}
	if r.camera != nil {
		w, h := r.camera.Resolution()
		features[KeyCamera] = ImageFeature(h, w)
	}
	return features, nil
}

func (r *Rover) ActionFeatures(ctx context.Context) (map[string]Feature, error) {
	return map[string]Feature{
		KeyLeftMotor:  ScalarFeature(),
		KeyRightMotor: ScalarFeature(),
	}, nil
}
