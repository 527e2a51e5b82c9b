package robot

import (
	"errors"
	"sync"

	"github.com/transairobot/teleop_go/codec"
)

// 模拟驱动，用于无硬件环境（参考服务器、测试）。
// 行为与真实驱动的边界语义一致：记录写入、支持故障注入。

var ErrDriverClosed = errors.New("driver closed")

// SimMotorDriver 是内存中的差速电机驱动。
type SimMotorDriver struct {
	mu        sync.Mutex
	left      float64
	right     float64
	stopCount int
	closed    bool

	// FailNext 非nil时，下一次写入返回该错误（故障注入）
	FailNext error
}

var _ MotorDriver = (*SimMotorDriver)(nil)

func NewSimMotorDriver() *SimMotorDriver {
	return &SimMotorDriver{}
}

func (d *SimMotorDriver) SetSpeeds(left, right float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDriverClosed
	}
	if err := d.takeFailure(); err != nil {
		return err
	}
	d.left, d.right = left, right
	return nil
}

func (d *SimMotorDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFailure(); err != nil {
		return err
	}
	d.left, d.right = 0, 0
	d.stopCount++
	return nil
}

func (d *SimMotorDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Speeds 返回当前占空比
func (d *SimMotorDriver) Speeds() (left, right float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.left, d.right
}

// StopCount 返回Stop被调用的次数
func (d *SimMotorDriver) StopCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopCount
}

func (d *SimMotorDriver) takeFailure() error {
	if d.FailNext != nil {
		err := d.FailNext
		d.FailNext = nil
		return err
	}
	return nil
}

// SimCamera 生成固定尺寸的合成BGR帧。
type SimCamera struct {
	width  int
	height int

	mu       sync.Mutex
	FailNext error
}

var _ Camera = (*SimCamera)(nil)

func NewSimCamera(width, height int) *SimCamera {
	return &SimCamera{width: width, height: height}
}

func (c *SimCamera) Frame() (*codec.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailNext != nil {
		err := c.FailNext
		c.FailNext = nil
		return nil, err
	}

	// 平滑渐变，JPEG往返误差小，便于验证
	pix := make([]byte, c.height*c.width*3)
	i := 0
	for y := 0; y < c.height; y++ {
		for x := 0; x < c.width; x++ {
			pix[i] = byte(x * 255 / c.width)
			pix[i+1] = byte(y * 255 / c.height)
			pix[i+2] = 128
			i += 3
		}
	}

	return &codec.Image{
		Rows:     c.height,
		Cols:     c.width,
		Channels: 3,
		Pix:      pix,
	}, nil
}

func (c *SimCamera) Resolution() (width, height int) {
	return c.width, c.height
}

func (c *SimCamera) Close() error {
	return nil
}

// SimServoBus 是内存中的舵机总线。
type SimServoBus struct {
	mu            sync.Mutex
	positions     map[string]float64
	torqueEnabled bool
	calibrated    bool
	connected     bool
	disableCount  int

	FailNext error
}

var _ ServoBus = (*SimServoBus)(nil)

func NewSimServoBus() *SimServoBus {
	positions := make(map[string]float64, len(ArmJoints))
	for _, joint := range ArmJoints {
		positions[joint] = 0
	}
	return &SimServoBus{positions: positions}
}

func (b *SimServoBus) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	b.torqueEnabled = true
	return nil
}

func (b *SimServoBus) ReadPositions() (map[string]float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil, ErrDriverClosed
	}
	out := make(map[string]float64, len(b.positions))
	for joint, pos := range b.positions {
		out[joint] = pos
	}
	return out, nil
}

func (b *SimServoBus) WritePositions(goal map[string]float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return ErrDriverClosed
	}
	if b.FailNext != nil {
		err := b.FailNext
		b.FailNext = nil
		return err
	}
	for joint, pos := range goal {
		b.positions[joint] = pos
	}
	return nil
}

func (b *SimServoBus) DisableTorque() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.torqueEnabled = false
	b.disableCount++
	return nil
}

func (b *SimServoBus) Calibrate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calibrated = true
	return nil
}

func (b *SimServoBus) Configure() error {
	return nil
}

func (b *SimServoBus) IsCalibrated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calibrated
}

func (b *SimServoBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

// TorqueEnabled 返回当前扭矩状态
func (b *SimServoBus) TorqueEnabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.torqueEnabled
}

// DisableCount 返回DisableTorque被调用的次数
func (b *SimServoBus) DisableCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disableCount
}

// Positions 返回当前各关节位置副本
func (b *SimServoBus) Positions() map[string]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]float64, len(b.positions))
	for joint, pos := range b.positions {
		out[joint] = pos
	}
	return out
}
