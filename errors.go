package teleop

import (
	"fmt"
	"time"

	"github.com/transairobot/teleop_go/protocol"
	"github.com/transairobot/teleop_go/robot"
)

// ConnectionError 表示重试耗尽后仍未建立会话，携带最后一次底层错误。
type ConnectionError struct {
	Addr     string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s after %d attempts: %v", e.Addr, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TimeoutError 表示一次调用超出同步超时。结果未知：
// 服务端可能已应用动作，调用方必须重新查询状态，
// 不能当作"动作未发生"。
type TimeoutError struct {
	Verb    uint16
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("call verb %d timed out after %s (outcome unknown)", e.Verb, e.Timeout)
}

func (e *TimeoutError) IsTimeout() bool {
	return true
}

// RemoteError 是服务端传回的无法归类到本地错误类型的失败。
type RemoteError struct {
	Code string
	Msg  string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote failure [%s]: %s", e.Code, e.Msg)
}

// remoteError 将应答错误码还原为本地错误类型
func remoteError(code, msg string) error {
	switch code {
	case protocol.CodeAlreadyConnected:
		return robot.ErrAlreadyConnected
	case protocol.CodeNotConnected:
		return robot.ErrNotConnected
	case protocol.CodeUninitialized:
		return robot.ErrUninitialized
	default:
		return &RemoteError{Code: code, Msg: msg}
	}
}
