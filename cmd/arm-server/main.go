// arm-server 在连接六轴机械臂的机器上运行，
// 将舵机总线暴露给远端控制。
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	teleop "github.com/transairobot/teleop_go"
	"github.com/transairobot/teleop_go/robot"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML配置文件路径")
		addr       = flag.String("addr", "", "监听地址，覆盖配置文件")
		mock       = flag.Bool("mock", false, "使用模拟驱动运行")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	conf, err := teleop.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("读取配置失败", zap.Error(err))
	}
	if *mock {
		conf.Mock = true
	}
	if *addr != "" {
		conf.Addr = *addr
	}
	if conf.Addr == "" {
		conf.Addr = fmt.Sprintf("0.0.0.0:%d", teleop.DefaultArmPort)
	}

	factory := func() (robot.Robot, error) {
		if !conf.Mock {
			// 真实舵机总线驱动属外部协作方，经库方式注入；
			// 本参考服务器只带模拟驱动
			return nil, fmt.Errorf("no hardware servo bus linked for %s, run with -mock or embed your ServoBus", conf.SerialPort)
		}
		var camera robot.Camera
		if conf.Camera.Enabled() {
			camera = robot.NewSimCamera(conf.Camera.Width, conf.Camera.Height)
		}
		return robot.NewArm(robot.NewSimServoBus(), camera, nil), nil
	}

	server := teleop.NewServer(factory, conf.ServerConfig())

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("收到退出信号，停止服务器")
		_ = server.Stop()
	}()

	logger.Info("启动机械臂服务器",
		zap.String("addr", conf.Addr),
		zap.Bool("mock", conf.Mock),
		zap.String("serial_port", conf.SerialPort))

	if err := server.Serve(conf.Addr); err != nil {
		logger.Fatal("服务器退出", zap.Error(err))
	}
}
