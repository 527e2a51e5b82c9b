package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"runtime"

	"go.uber.org/zap"

	"github.com/transairobot/teleop_go/mem"
)

// 单条消息体上限。最大观测为一帧高分辨率JPEG加关节读数，
// 远小于这个值，超过即视为流损坏。
const maxBodyLength = 16 * 1024 * 1024

const (
	// magicNumber 用于校验消息是否采用本协议
	magicNumber uint32 = 0x7431
)

// 消息体内容类型
const (
	MessagePack uint16 = iota + 1
	Unknown
)

const serializedHeaderSize = 28

type Header struct {
	Magic       uint32
	Version     uint32
	BodyLength  uint64
	TimestampMS uint64 // 发送方时间戳(毫秒)
	ContentType uint16
	Verb        uint16
}

// Message 是一次请求或应答的完整帧：定长头 + msgpack消息体。
type Message struct {
	*Header
	Body []byte
}

func NewMessage() *Message {
	header := &Header{
		Magic: magicNumber,
	}
	return &Message{
		Header: header,
	}
}

func (m *Message) SetVersion(version uint32) {
	m.Version = version
}

func (m *Message) SetTimestampMS(timestamp uint64) {
	m.TimestampMS = timestamp
}

func (m *Message) SetContentType(contentType uint16) {
	m.ContentType = contentType
}

func (m *Message) SetVerb(verb uint16) {
	m.Verb = verb
}

// Encode 将消息编码为可写入流的帧，内存来自全局池。
func (m *Message) Encode() mem.Buffer {
	bodyLen := len(m.Body)
	m.BodyLength = uint64(bodyLen)

	totalLen := serializedHeaderSize + bodyLen

	pool := mem.DefaultBufferPool()
	buf := pool.Get(totalLen)

	// 按小端序顺序写入 Header
	offset := 0
	binary.LittleEndian.PutUint32((*buf)[offset:], m.Magic)
	offset += 4
	binary.LittleEndian.PutUint32((*buf)[offset:], m.Version)
	offset += 4
	binary.LittleEndian.PutUint64((*buf)[offset:], m.BodyLength)
	offset += 8
	binary.LittleEndian.PutUint64((*buf)[offset:], m.TimestampMS)
	offset += 8
	binary.LittleEndian.PutUint16((*buf)[offset:], m.ContentType)
	offset += 2
	binary.LittleEndian.PutUint16((*buf)[offset:], m.Verb)
	offset += 2

	copy((*buf)[offset:], m.Body)

	return mem.NewBuffer(buf, pool)
}

// Decode 从流中读出一帧完整消息。
func (m *Message) Decode(r io.Reader) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			var errStack = make([]byte, 1024)
			n := runtime.Stack(errStack, true)
			zap.L().Error(fmt.Sprintf("panic in message decode: %v, stack: %s", rec, errStack[:n]))
			err = fmt.Errorf("panic in message decode: %v", rec)
		}
	}()

	headerBuf := make([]byte, serializedHeaderSize)
	n, err := io.ReadFull(r, headerBuf)
	if err != nil {
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("stream closed or insufficient data (%d/%d bytes): %w", n, serializedHeaderSize, err)
		}
		return fmt.Errorf("failed to read header (%d/%d bytes): %w", n, serializedHeaderSize, err)
	}

	// 逐个字段从小端序解码 Header
	offset := 0
	m.Magic = binary.LittleEndian.Uint32(headerBuf[offset:])
	offset += 4

	if m.Magic != magicNumber {
		// 魔数全零通常意味着对端已关闭流
		if m.Magic == 0 {
			return fmt.Errorf("stream appears to be closed (magic=0x0)")
		}
		return fmt.Errorf("invalid magic number: got 0x%x, expected 0x%x (raw bytes: %x)", m.Magic, magicNumber, headerBuf[:4])
	}

	m.Version = binary.LittleEndian.Uint32(headerBuf[offset:])
	offset += 4
	m.BodyLength = binary.LittleEndian.Uint64(headerBuf[offset:])
	offset += 8
	m.TimestampMS = binary.LittleEndian.Uint64(headerBuf[offset:])
	offset += 8
	m.ContentType = binary.LittleEndian.Uint16(headerBuf[offset:])
	offset += 2
	m.Verb = binary.LittleEndian.Uint16(headerBuf[offset:])
	offset += 2

	if m.BodyLength > maxBodyLength {
		return fmt.Errorf("body length too large: %d bytes (max: %d)", m.BodyLength, maxBodyLength)
	}

	// 根据 Header 中的 BodyLength 读取 Body 部分
	if m.BodyLength > 0 {
		m.Body = make([]byte, m.BodyLength)
		n, err = io.ReadFull(r, m.Body)
		if err != nil {
			return fmt.Errorf("failed to read body (%d/%d bytes): %w", n, m.BodyLength, err)
		}
	} else {
		m.Body = nil
	}

	return nil
}
