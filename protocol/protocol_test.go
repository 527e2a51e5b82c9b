package protocol

import (
	"bytes"
	"testing"
	"time"
)

func TestMessageEncodeDecode(t *testing.T) {
	msg := NewMessage()
	msg.SetVersion(1)
	msg.SetTimestampMS(uint64(time.Now().UnixMilli()))
	msg.SetContentType(MessagePack)
	msg.SetVerb(SendAction)
	msg.Body = []byte("test message body")

	buf := msg.Encode()
	defer buf.Free()

	reader := bytes.NewReader(buf.ReadOnlyData())
	decodedMsg := NewMessage()
	err := decodedMsg.Decode(reader)

	if err != nil {
		t.Fatalf("解码消息失败: %v", err)
	}

	if decodedMsg.Magic != magicNumber {
		t.Errorf("魔数不匹配: 得到 %x, 期望 %x", decodedMsg.Magic, magicNumber)
	}

	if decodedMsg.Version != msg.Version {
		t.Errorf("版本不匹配: 得到 %d, 期望 %d", decodedMsg.Version, msg.Version)
	}

	if decodedMsg.ContentType != msg.ContentType {
		t.Errorf("内容类型不匹配: 得到 %d, 期望 %d", decodedMsg.ContentType, msg.ContentType)
	}

	if decodedMsg.Verb != msg.Verb {
		t.Errorf("动词不匹配: 得到 %d, 期望 %d", decodedMsg.Verb, msg.Verb)
	}

	if !bytes.Equal(decodedMsg.Body, msg.Body) {
		t.Errorf("消息体不匹配: 得到 %s, 期望 %s", string(decodedMsg.Body), string(msg.Body))
	}
}

func TestMessageEmptyBody(t *testing.T) {
	msg := NewMessage()
	msg.SetVersion(1)
	msg.SetContentType(MessagePack)
	msg.SetVerb(Ping)

	buf := msg.Encode()
	defer buf.Free()

	decoded := NewMessage()
	if err := decoded.Decode(bytes.NewReader(buf.ReadOnlyData())); err != nil {
		t.Fatalf("解码空消息体失败: %v", err)
	}

	if decoded.Body != nil {
		t.Errorf("期望空消息体, 得到 %d 字节", len(decoded.Body))
	}
}

func TestMessageInvalidMagic(t *testing.T) {
	msg := NewMessage()
	msg.SetVersion(1)
	msg.SetContentType(MessagePack)
	msg.SetVerb(Connect)
	msg.Body = []byte("x")

	buf := msg.Encode()
	defer buf.Free()

	data := append([]byte(nil), buf.ReadOnlyData()...)
	data[0] = 0xFF // 破坏魔数

	decoded := NewMessage()
	if err := decoded.Decode(bytes.NewReader(data)); err == nil {
		t.Fatal("期望魔数校验失败")
	}
}

// panicReader 模拟会panic的底层流
type panicReader struct{}

func (panicReader) Read([]byte) (int, error) {
	panic("stream implementation failure")
}

func TestMessageDecodePanicSurfaces(t *testing.T) {
	msg := NewMessage()
	if err := msg.Decode(panicReader{}); err == nil {
		t.Fatal("解码panic应转为错误返回，而不是静默吞掉")
	}
}

func TestMessageTruncatedBody(t *testing.T) {
	msg := NewMessage()
	msg.SetVersion(1)
	msg.SetContentType(MessagePack)
	msg.SetVerb(GetObservation)
	msg.Body = []byte("truncated payload")

	buf := msg.Encode()
	defer buf.Free()

	data := buf.ReadOnlyData()
	decoded := NewMessage()
	if err := decoded.Decode(bytes.NewReader(data[:len(data)-5])); err == nil {
		t.Fatal("期望消息体截断报错")
	}
}
