// Package robot 定义机器人控制接口与两种硬件形态的实现。
//
// Robot 在本地与远端之间完全同构：本地实现直接驱动硬件，
// 远端代理经会话转发到服务端，上层调用方无法区分两者。
// 真正的硬件访问（电机总线、舵机串口、相机采集）通过
// MotorDriver / ServoBus / Camera 接口注入。
package robot

import (
	"context"
	"errors"
	"fmt"

	"github.com/transairobot/teleop_go/codec"
)

var (
	// ErrAlreadyConnected 表示对已连接设备重复connect
	ErrAlreadyConnected = errors.New("device already connected")
	// ErrNotConnected 表示设备未连接时调用了需要连接的操作
	ErrNotConnected = errors.New("device not connected")
	// ErrUninitialized 表示硬件句柄尚未创建
	ErrUninitialized = errors.New("device not initialized")
)

// HardwareError 表示驱动层失败（总线不可达、相机读帧失败等）。
type HardwareError struct {
	Op  string
	Err error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("hardware %s: %v", e.Op, e.Err)
}

func (e *HardwareError) Unwrap() error {
	return e.Err
}

// 特征形态
const (
	KindScalar = "scalar"
	KindImage  = "image"
)

// Feature 描述一个观测/动作键的形态
type Feature struct {
	Kind  string // KindScalar 或 KindImage
	Shape []int  // 仅图像携带 (H, W, C)
}

// ScalarFeature 返回标量特征描述
func ScalarFeature() Feature {
	return Feature{Kind: KindScalar}
}

// ImageFeature 返回图像特征描述
func ImageFeature(height, width int) Feature {
	return Feature{Kind: KindImage, Shape: []int{height, width, 3}}
}

// Robot 是统一的机器人控制接口。
// SendAction 返回限幅后实际下发的值，而非调用方的原始请求。
type Robot interface {
	Connect(ctx context.Context, calibrate bool) error
	Disconnect(ctx context.Context) error
	Calibrate(ctx context.Context) error
	Configure(ctx context.Context) error
	Observation(ctx context.Context) (codec.Observation, error)
	SendAction(ctx context.Context, action codec.Action) (codec.Action, error)
	IsConnected(ctx context.Context) bool
	IsCalibrated(ctx context.Context) bool
	ObservationFeatures(ctx context.Context) (map[string]Feature, error)
	ActionFeatures(ctx context.Context) (map[string]Feature, error)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
