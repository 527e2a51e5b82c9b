package robot

import (
	"context"
	"errors"
	"testing"
)

func TestRoverActionClamp(t *testing.T) {
	driver := NewSimMotorDriver()
	rover := NewRover(driver, nil)
	ctx := context.Background()

	if err := rover.Connect(ctx, false); err != nil {
		t.Fatalf("连接底盘失败: %v", err)
	}

	applied, err := rover.SendAction(ctx, map[string]float64{
		KeyLeftMotor:  2.0,
		KeyRightMotor: -5.0,
	})
	if err != nil {
		t.Fatalf("下发动作失败: %v", err)
	}

	if applied[KeyLeftMotor] != 1.0 || applied[KeyRightMotor] != -1.0 {
		t.Errorf("限幅结果不匹配: 得到 %v", applied)
	}

	left, right := driver.Speeds()
	if left != 1.0 || right != -1.0 {
		t.Errorf("电机占空比不匹配: 得到 (%v, %v)", left, right)
	}
}

func TestRoverMissingKeyDefaultsToZero(t *testing.T) {
	driver := NewSimMotorDriver()
	rover := NewRover(driver, nil)
	ctx := context.Background()

	if err := rover.Connect(ctx, false); err != nil {
		t.Fatalf("连接底盘失败: %v", err)
	}

	applied, err := rover.SendAction(ctx, map[string]float64{KeyLeftMotor: 0.5})
	if err != nil {
		t.Fatalf("下发动作失败: %v", err)
	}

	if applied[KeyRightMotor] != 0 {
		t.Errorf("缺失键应默认为0: 得到 %v", applied[KeyRightMotor])
	}
}

func TestRoverDoubleConnect(t *testing.T) {
	rover := NewRover(NewSimMotorDriver(), nil)
	ctx := context.Background()

	if err := rover.Connect(ctx, false); err != nil {
		t.Fatalf("首次连接失败: %v", err)
	}

	if err := rover.Connect(ctx, false); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("期望 ErrAlreadyConnected, 得到 %v", err)
	}
}

func TestRoverDisconnectStopsMotors(t *testing.T) {
	driver := NewSimMotorDriver()
	rover := NewRover(driver, nil)
	ctx := context.Background()

	if err := rover.Connect(ctx, false); err != nil {
		t.Fatalf("连接底盘失败: %v", err)
	}
	if _, err := rover.SendAction(ctx, map[string]float64{KeyLeftMotor: 0.8, KeyRightMotor: 0.8}); err != nil {
		t.Fatalf("下发动作失败: %v", err)
	}

	if err := rover.Disconnect(ctx); err != nil {
		t.Fatalf("断开底盘失败: %v", err)
	}

	left, right := driver.Speeds()
	if left != 0 || right != 0 {
		t.Errorf("断开后电机未回零: (%v, %v)", left, right)
	}
	// 连接、断开各回零一次
	if driver.StopCount() != 2 {
		t.Errorf("回零次数不匹配: 得到 %d, 期望 2", driver.StopCount())
	}

	if err := rover.Disconnect(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("重复断开期望 ErrNotConnected, 得到 %v", err)
	}
}

func TestRoverObservationNotConnected(t *testing.T) {
	rover := NewRover(NewSimMotorDriver(), nil)

	if _, err := rover.Observation(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("期望 ErrNotConnected, 得到 %v", err)
	}
}

func TestRoverObservationDegradesOnCameraFailure(t *testing.T) {
	camera := NewSimCamera(32, 32)
	rover := NewRover(NewSimMotorDriver(), camera)
	ctx := context.Background()

	if err := rover.Connect(ctx, false); err != nil {
		t.Fatalf("连接底盘失败: %v", err)
	}

	camera.FailNext = errors.New("frame grab timed out")

	obs, err := rover.Observation(ctx)
	if err != nil {
		t.Fatalf("观测应降级而不是失败: %v", err)
	}
	if _, ok := obs[KeyCamera]; ok {
		t.Error("读帧失败时观测不应包含camera键")
	}
	if _, ok := obs[KeyLeftMotor]; !ok {
		t.Error("降级观测应保留电机读数")
	}

	// 相机恢复后camera键回归
	obs, err = rover.Observation(ctx)
	if err != nil {
		t.Fatalf("观测失败: %v", err)
	}
	if _, ok := obs[KeyCamera]; !ok {
		t.Error("相机恢复后观测应包含camera键")
	}
}

func TestRoverSendActionHardwareError(t *testing.T) {
	driver := NewSimMotorDriver()
	rover := NewRover(driver, nil)
	ctx := context.Background()

	if err := rover.Connect(ctx, false); err != nil {
		t.Fatalf("连接底盘失败: %v", err)
	}

	driver.FailNext = errors.New("i2c write failed")

	_, err := rover.SendAction(ctx, map[string]float64{KeyLeftMotor: 0.3})
	var hwErr *HardwareError
	if !errors.As(err, &hwErr) {
		t.Fatalf("期望 HardwareError, 得到 %v", err)
	}
}

func TestRoverFeatures(t *testing.T) {
	camera := NewSimCamera(224, 224)
	rover := NewRover(NewSimMotorDriver(), camera)
	ctx := context.Background()

	obsFeat, err := rover.ObservationFeatures(ctx)
	if err != nil {
		t.Fatalf("查询观测特征失败: %v", err)
	}
	camFeat, ok := obsFeat[KeyCamera]
	if !ok {
		t.Fatal("观测特征缺少camera键")
	}
	if camFeat.Kind != KindImage || len(camFeat.Shape) != 3 || camFeat.Shape[0] != 224 {
		t.Errorf("camera特征不匹配: %+v", camFeat)
	}

	actFeat, err := rover.ActionFeatures(ctx)
	if err != nil {
		t.Fatalf("查询动作特征失败: %v", err)
	}
	if len(actFeat) != 2 {
		t.Errorf("动作特征数量不匹配: 得到 %d", len(actFeat))
	}
	if _, ok := actFeat[KeyCamera]; ok {
		t.Error("动作特征不应包含camera键")
	}
}
