package teleop

import (
	"context"
	"crypto/tls"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/transairobot/teleop_go/codec"
	"github.com/transairobot/teleop_go/protocol"
	"github.com/transairobot/teleop_go/robot"
)

// 端到端测试：真实QUIC回环，自签证书，模拟驱动。

func testDialOptions() *DialOptions {
	return &DialOptions{
		Timeout:     5 * time.Second,
		MaxAttempts: 3,
		RetryDelay:  200 * time.Millisecond,
	}
}

// startServer 启动回环服务器并等待端口就绪
func startServer(t *testing.T, addr string, factory RobotFactory) *Server {
	t.Helper()

	server := NewServer(factory, nil)
	go func() {
		if err := server.Serve(addr); err != nil {
			t.Errorf("服务器退出异常: %v", err)
		}
	}()
	t.Cleanup(func() { _ = server.Stop() })

	// 等待监听就绪
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		session, err := Dial(ctx, addr, &DialOptions{Timeout: time.Second, MaxAttempts: 1})
		cancel()
		if err == nil {
			_ = session.Close()
			return server
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("服务器启动超时")
	return nil
}

// waitFor 轮询直到条件满足或超时
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestMain(m *testing.M) {
	logger, _ := zap.NewDevelopment()
	zap.ReplaceGlobals(logger)
	m.Run()
}

func TestRemoteRoverLifecycle(t *testing.T) {
	const addr = "127.0.0.1:18871"
	ctx := context.Background()

	driver := robot.NewSimMotorDriver()
	startServer(t, addr, func() (robot.Robot, error) {
		return robot.NewRover(driver, nil), nil
	})

	remote := NewRemoteRobot(addr, testDialOptions())

	if remote.IsConnected(ctx) {
		t.Error("连接前is_connected应为false")
	}

	if err := remote.Connect(ctx, false); err != nil {
		t.Fatalf("连接远端失败: %v", err)
	}
	if !remote.IsConnected(ctx) {
		t.Error("连接后is_connected应为true")
	}

	// 重复connect被远端状态机拒绝
	if err := remote.Connect(ctx, false); !errors.Is(err, robot.ErrAlreadyConnected) {
		t.Errorf("重复连接期望 ErrAlreadyConnected, 得到 %v", err)
	}

	// 超界动作经远端限幅，返回实际应用值
	applied, err := remote.SendAction(ctx, map[string]float64{
		robot.KeyLeftMotor:  2.0,
		robot.KeyRightMotor: -5.0,
	})
	if err != nil {
		t.Fatalf("下发动作失败: %v", err)
	}
	if applied[robot.KeyLeftMotor] != 1.0 || applied[robot.KeyRightMotor] != -1.0 {
		t.Errorf("限幅结果不匹配: %v", applied)
	}
	left, right := driver.Speeds()
	if left != 1.0 || right != -1.0 {
		t.Errorf("服务端电机占空比不匹配: (%v, %v)", left, right)
	}

	// 观测经包络往返
	obs, err := remote.Observation(ctx)
	if err != nil {
		t.Fatalf("获取观测失败: %v", err)
	}
	if obs[robot.KeyLeftMotor] != codec.Scalar(1.0) {
		t.Errorf("观测左电机不匹配: %v", obs[robot.KeyLeftMotor])
	}

	if err := remote.Disconnect(ctx); err != nil {
		t.Fatalf("断开远端失败: %v", err)
	}
	if l, r := driver.Speeds(); l != 0 || r != 0 {
		t.Errorf("断开后电机未回零: (%v, %v)", l, r)
	}

	if err := remote.Disconnect(ctx); !errors.Is(err, robot.ErrNotConnected) {
		t.Errorf("重复断开期望 ErrNotConnected, 得到 %v", err)
	}
}

func TestRemoteArmClampAndFeatures(t *testing.T) {
	const addr = "127.0.0.1:18872"
	ctx := context.Background()

	bus := robot.NewSimServoBus()
	startServer(t, addr, func() (robot.Robot, error) {
		return robot.NewArm(bus, nil, nil), nil
	})

	remote := NewRemoteRobot(addr, testDialOptions())

	if err := remote.Connect(ctx, true); err != nil {
		t.Fatalf("连接远端失败: %v", err)
	}
	defer remote.Close()

	if !remote.IsCalibrated(ctx) {
		t.Error("要求标定的连接后is_calibrated应为true")
	}

	applied, err := remote.SendAction(ctx, map[string]float64{
		"shoulder_pan.pos": 250,
		"gripper.pos":      -20,
	})
	if err != nil {
		t.Fatalf("下发动作失败: %v", err)
	}
	if applied["shoulder_pan.pos"] != 100 || applied["gripper.pos"] != 0 {
		t.Errorf("远端限幅不匹配: %v", applied)
	}

	// 未知关节的失败经应答传回，不中断会话
	if _, err := remote.SendAction(ctx, map[string]float64{"tail.pos": 1}); err == nil {
		t.Error("未知关节应报错")
	}
	if !remote.IsConnected(ctx) {
		t.Error("动作失败后会话应保持存活")
	}

	// 特征查询一次往返后缓存
	features, err := remote.ActionFeatures(ctx)
	if err != nil {
		t.Fatalf("查询动作特征失败: %v", err)
	}
	if len(features) != len(robot.ArmJoints) {
		t.Errorf("动作特征数量不匹配: 得到 %d", len(features))
	}
	again, err := remote.ActionFeatures(ctx)
	if err != nil {
		t.Fatalf("二次查询动作特征失败: %v", err)
	}
	if len(again) != len(features) {
		t.Error("缓存的特征不一致")
	}
}

func TestAbruptSessionEndTriggersCleanup(t *testing.T) {
	const addr = "127.0.0.1:18873"
	ctx := context.Background()

	driver := robot.NewSimMotorDriver()
	startServer(t, addr, func() (robot.Robot, error) {
		return robot.NewRover(driver, nil), nil
	})

	session, err := Dial(ctx, addr, testDialOptions())
	if err != nil {
		t.Fatalf("建立会话失败: %v", err)
	}

	if err := session.Call(ctx, protocol.Connect, &protocol.ConnectRequest{}, nil); err != nil {
		t.Fatalf("connect调用失败: %v", err)
	}

	var reply protocol.ActionReply
	err = session.Call(ctx, protocol.SendAction, &protocol.ActionRequest{Action: map[string]any{
		robot.KeyLeftMotor:  0.6,
		robot.KeyRightMotor: 0.6,
	}}, &reply)
	if err != nil {
		t.Fatalf("send_action调用失败: %v", err)
	}
	if l, _ := driver.Speeds(); l != 0.6 {
		t.Fatalf("电机占空比不匹配: %v", l)
	}

	// 不发disconnect直接断开连接，模拟网络中断
	if err := session.Close(); err != nil {
		t.Fatalf("关闭会话失败: %v", err)
	}

	// 服务端清理钩子必须把电机带回安全态
	waitFor(t, 5*time.Second, func() bool {
		l, r := driver.Speeds()
		return l == 0 && r == 0
	}, "会话中断后服务端未执行安全停机")
}

func TestSessionIsAlive(t *testing.T) {
	const addr = "127.0.0.1:18874"
	ctx := context.Background()

	startServer(t, addr, func() (robot.Robot, error) {
		return robot.NewRover(robot.NewSimMotorDriver(), nil), nil
	})

	session, err := Dial(ctx, addr, testDialOptions())
	if err != nil {
		t.Fatalf("建立会话失败: %v", err)
	}

	if !session.IsAlive(ctx) {
		t.Error("活跃会话is_alive应为true")
	}

	if err := session.Close(); err != nil {
		t.Fatalf("关闭会话失败: %v", err)
	}
	if session.IsAlive(ctx) {
		t.Error("已关闭会话is_alive应为false")
	}
	// 幂等关闭
	if err := session.Close(); err != nil {
		t.Errorf("重复关闭应为空操作: %v", err)
	}
}

func TestDialRetryExhaustion(t *testing.T) {
	// 无人监听的端口
	ctx := context.Background()

	start := time.Now()
	_, err := Dial(ctx, "127.0.0.1:18899", &DialOptions{
		Timeout:     500 * time.Millisecond,
		MaxAttempts: 2,
		RetryDelay:  100 * time.Millisecond,
	})

	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("期望 ConnectionError, 得到 %v", err)
	}
	if connErr.Attempts != 2 {
		t.Errorf("尝试次数不匹配: 得到 %d", connErr.Attempts)
	}
	// 两次尝试加一次固定间隔
	if elapsed := time.Since(start); elapsed < 600*time.Millisecond {
		t.Errorf("重试耗时过短: %v", elapsed)
	}
}

func TestDialHandshakeRejectionFailsFast(t *testing.T) {
	const addr = "127.0.0.1:18876"
	ctx := context.Background()

	startServer(t, addr, func() (robot.Robot, error) {
		return robot.NewRover(robot.NewSimMotorDriver(), nil), nil
	})

	// 开启证书校验：自签服务器必然被拒，属确定性握手失败，
	// 不应按网络错误重试
	start := time.Now()
	_, err := Dial(ctx, addr, &DialOptions{
		Timeout:     5 * time.Second,
		MaxAttempts: 3,
		RetryDelay:  2 * time.Second,
		TLS: &tls.Config{
			NextProtos: []string{alpnProtocol},
		},
	})

	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("期望 ConnectionError, 得到 %v", err)
	}
	// 首次失败即传播，不消耗重试间隔
	if elapsed := time.Since(start); elapsed >= 2*time.Second {
		t.Errorf("握手被拒后仍在重试: 耗时 %v", elapsed)
	}
}

func TestCallTimeoutSurfaces(t *testing.T) {
	const addr = "127.0.0.1:18877"
	ctx := context.Background()

	startServer(t, addr, func() (robot.Robot, error) {
		return &stalledObservationRobot{Rover: robot.NewRover(robot.NewSimMotorDriver(), nil)}, nil
	})

	session, err := Dial(ctx, addr, testDialOptions())
	if err != nil {
		t.Fatalf("建立会话失败: %v", err)
	}
	defer session.Close()

	if err := session.Call(ctx, protocol.Connect, &protocol.ConnectRequest{}, nil); err != nil {
		t.Fatalf("connect调用失败: %v", err)
	}

	// 观测卡死在服务端，客户端同步超时先到
	session.timeout = 300 * time.Millisecond
	err = session.Call(ctx, protocol.GetObservation, nil, nil)

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("期望 TimeoutError, 得到 %v", err)
	}
	if timeoutErr.Verb != protocol.GetObservation {
		t.Errorf("超时动词不匹配: 得到 %d", timeoutErr.Verb)
	}
	if !timeoutErr.IsTimeout() {
		t.Error("is_timeout应为true")
	}
}

// stalledObservationRobot 模拟卡死的硬件读取
type stalledObservationRobot struct {
	*robot.Rover
}

func (s *stalledObservationRobot) Observation(ctx context.Context) (codec.Observation, error) {
	time.Sleep(2 * time.Second)
	return s.Rover.Observation(ctx)
}

func TestServerSessionRegistry(t *testing.T) {
	const addr = "127.0.0.1:18875"
	ctx := context.Background()

	server := startServer(t, addr, func() (robot.Robot, error) {
		return robot.NewRover(robot.NewSimMotorDriver(), nil), nil
	})

	session, err := Dial(ctx, addr, testDialOptions())
	if err != nil {
		t.Fatalf("建立会话失败: %v", err)
	}
	defer session.Close()

	if err := session.Call(ctx, protocol.Ping, nil, nil); err != nil {
		t.Fatalf("ping失败: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		sessions := server.Sessions()
		for i := range sessions {
			if sessions[i].RequestCount > 0 {
				return true
			}
		}
		return false
	}, "会话注册表未记录请求")
}
