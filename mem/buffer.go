package mem

import (
	"sync"
	"sync/atomic"
)

var (
	// 小于该阈值的缓冲区不值得池化
	bufferPoolingThreshold = 1 << 12 // 4KB

	bufferObjectPool = sync.Pool{New: func() any { return new(buffer) }}
	refObjectPool    = sync.Pool{New: func() any { return new(atomic.Int32) }}
)

// Buffer 表示一段编码后的协议数据，引用计数归零后底层内存回池。
type Buffer interface {
	// ReadOnlyData 返回底层字节切片，调用方不得修改
	ReadOnlyData() []byte
	// Ref 增加引用计数
	Ref()
	// Free 减少引用计数，归零时释放底层字节切片
	Free()
	// Len 返回数据长度
	Len() int
}

// NewBuffer 使用给定数据初始化Buffer，计数器初始化为1。
// 未达到池化阈值的小数据直接按普通切片返回。
func NewBuffer(data *[]byte, pool BufferPool) Buffer {
	if pool == nil && IsLessBufferPoolThreshold(cap(*data)) {
		return (SliceBuffer)(*data)
	}

	b := bufferObjectPool.Get().(*buffer)
	b.originData = data
	b.data = *data
	b.pool = pool
	b.refs = refObjectPool.Get().(*atomic.Int32)
	b.refs.Add(1)
	return b
}

type buffer struct {
	originData *[]byte
	data       []byte
	refs       *atomic.Int32
	pool       BufferPool
}

func (b *buffer) ReadOnlyData() []byte {
	if b.refs == nil {
		panic("无法读取已释放的缓冲区")
	}
	return b.data
}

func (b *buffer) Ref() {
	if b.refs == nil {
		panic("无法引用已释放的缓冲区")
	}
	b.refs.Add(1)
}

func (b *buffer) Free() {
	if b.refs == nil {
		panic("无法释放已释放的缓冲区")
	}

	refs := b.refs.Add(-1)
	switch {
	case refs > 0:
		return
	case refs == 0:
		if b.pool != nil {
			b.pool.Put(b.originData)
		}

		refObjectPool.Put(b.refs)
		b.originData = nil
		b.data = nil
		b.refs = nil
		b.pool = nil
		bufferObjectPool.Put(b)
	default:
		panic("无法释放已释放的缓冲区")
	}
}

func (b *buffer) Len() int {
	return len(b.ReadOnlyData())
}

// IsLessBufferPoolThreshold 判断所需大小是否低于池化阈值。
func IsLessBufferPoolThreshold(size int) bool {
	return size <= bufferPoolingThreshold
}

// SliceBuffer 是包装普通字节切片的Buffer实现，
// 用于未达到池化阈值的小数据。
type SliceBuffer []byte

func (s SliceBuffer) ReadOnlyData() []byte { return s }

func (s SliceBuffer) Ref() {}

func (s SliceBuffer) Free() {}

func (s SliceBuffer) Len() int { return len(s) }
