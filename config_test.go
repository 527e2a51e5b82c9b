package teleop

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	content := `
addr: "0.0.0.0:18861"
jpeg_quality: 75
camera:
  width: 640
  height: 480
serial_port: /dev/ttyACM0
mock: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写配置文件失败: %v", err)
	}

	conf, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("读取配置失败: %v", err)
	}

	if conf.Addr != "0.0.0.0:18861" {
		t.Errorf("addr不匹配: %q", conf.Addr)
	}
	if conf.JPEGQuality != 75 {
		t.Errorf("jpeg_quality不匹配: %d", conf.JPEGQuality)
	}
	if !conf.Camera.Enabled() || conf.Camera.Width != 640 {
		t.Errorf("camera配置不匹配: %+v", conf.Camera)
	}
	if conf.SerialPort != "/dev/ttyACM0" {
		t.Errorf("serial_port不匹配: %q", conf.SerialPort)
	}
	if !conf.Mock {
		t.Error("mock应为true")
	}

	sc := conf.ServerConfig()
	if sc.Encoding.Quality != 75 {
		t.Errorf("编码质量未透传: %d", sc.Encoding.Quality)
	}
}

func TestLoadConfigEmptyPath(t *testing.T) {
	conf, err := LoadConfig("")
	if err != nil {
		t.Fatalf("空路径应返回零值配置: %v", err)
	}
	if conf.Camera.Enabled() {
		t.Error("零值配置不应启用相机")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/server.yaml"); err == nil {
		t.Fatal("不存在的配置文件应报错")
	}
}
