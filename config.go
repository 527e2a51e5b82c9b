package teleop

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/transairobot/teleop_go/codec"
)

// FileConfig 是服务端二进制的文件配置。
type FileConfig struct {
	// Addr 是监听地址，默认绑定所有网卡
	Addr     string `yaml:"addr"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// JPEGQuality 是观测图像的压缩质量(1-100)
	JPEGQuality int `yaml:"jpeg_quality"`

	// Camera 为空尺寸时不启用相机
	Camera CameraConfig `yaml:"camera"`

	// SerialPort 是机械臂舵机总线的串口设备路径
	SerialPort string `yaml:"serial_port"`

	// Mock 为true时使用模拟驱动，无需真实硬件
	Mock bool `yaml:"mock"`
}

// CameraConfig 是相机采集配置
type CameraConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Enabled 判断是否配置了相机
func (c CameraConfig) Enabled() bool {
	return c.Width > 0 && c.Height > 0
}

// LoadConfig 从YAML文件读取配置，path为空时返回零值配置。
func LoadConfig(path string) (*FileConfig, error) {
	conf := &FileConfig{}
	if path == "" {
		return conf, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return conf, nil
}

// ServerConfig 将文件配置转为服务器运行配置
func (c *FileConfig) ServerConfig() *ServerConfig {
	return &ServerConfig{
		CertFile: c.CertFile,
		KeyFile:  c.KeyFile,
		Encoding: codec.Options{Quality: c.JPEGQuality},
	}
}
