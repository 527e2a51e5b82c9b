package teleop

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/quic-go/quic-go"
)

func TestRetryableDialError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"上层取消", context.Canceled, false},
		{"拨号超时", context.DeadlineExceeded, true},
		{"quic空闲超时", &quic.IdleTimeoutError{}, true},
		{"quic握手超时", &quic.HandshakeTimeoutError{}, true},
		{"系统网络错误", &net.OpError{Op: "write", Err: syscall.ECONNREFUSED}, true},
		{"传输层错误", &quic.TransportError{ErrorCode: quic.ConnectionRefused}, true},
		// TLS告警映射到0x100-0x1ff的crypto错误码段，确定性失败
		{"TLS握手被拒", &quic.TransportError{ErrorCode: 0x12a}, false},
		{"包装的crypto错误", fmt.Errorf("dial: %w", &quic.TransportError{ErrorCode: 0x150}), false},
		{"协议层错误", errors.New("invalid magic number"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := retryableDialError(tc.err); got != tc.want {
				t.Errorf("err=%v: 得到 %v, 期望 %v", tc.err, got, tc.want)
			}
		})
	}
}
