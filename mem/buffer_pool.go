package mem

import (
	"sync"
)

// BufferPool 是一个覆盖多档大小的自管理内存池。
type BufferPool interface {
	// Get 返回指定大小的缓冲区
	Get(size int) *[]byte
	// Put 将缓冲区归还到池中
	Put(buffer *[]byte)
}

var defaultPool bufferPool

// 按遥操作消息的典型大小分档：
// 小档覆盖动作指令与关节读数，大档覆盖JPEG相机帧。
var bufferPoolSizes = []int{
	1 << 7,  // 128B - 动作指令
	1 << 8,  // 256B - 协议头+小回复
	1 << 10, // 1KB - 关节观测
	1 << 12, // 4KB - 复合观测(无图像)
	1 << 14, // 16KB - 低分辨率JPEG帧
	1 << 16, // 64KB - 224x224 JPEG帧
	1 << 18, // 256KB - 高质量帧
	1 << 20, // 1MB - 高分辨率帧
	1 << 22, // 4MB - 最大支持帧
}

type bufferPool struct {
	pools   []*sync.Pool
	maxSize int
}

func init() {
	defaultPool.maxSize = bufferPoolSizes[len(bufferPoolSizes)-1]
	defaultPool.pools = make([]*sync.Pool, len(bufferPoolSizes))

	for i := range bufferPoolSizes {
		size := bufferPoolSizes[i]
		defaultPool.pools[i] = &sync.Pool{
			New: func() interface{} {
				buf := make([]byte, 0, size)
				return &buf
			},
		}
	}
}

// DefaultBufferPool 返回全局内存池
func DefaultBufferPool() BufferPool {
	return &defaultPool
}

// Get 返回指定大小的缓冲区。
func (p *bufferPool) Get(size int) *[]byte {
	if size <= 0 {
		return &[]byte{}
	}

	if index := p.findBestFitPool(size); index >= 0 {
		buf := p.pools[index].Get().(*[]byte)
		*buf = (*buf)[0:size]
		return buf
	}

	buf := make([]byte, size)
	return &buf
}

// Put 将缓冲区归还到池中。
func (p *bufferPool) Put(buffer *[]byte) {
	if buffer == nil {
		return
	}

	size := cap(*buffer)
	if size <= 0 || size > p.maxSize {
		return
	}

	*buffer = (*buffer)[:0]

	if index := p.findClosestPool(size); index >= 0 {
		p.pools[index].Put(buffer)
	}
}

func (p *bufferPool) findBestFitPool(size int) int {
	for i, poolSize := range bufferPoolSizes {
		if size <= poolSize {
			return i
		}
	}
	return -1
}

// findClosestPool 返回容量不超过size的最大档位。
// 低于最小档的缓冲区不回池，否则后续Get按档位长度重切片会越界。
func (p *bufferPool) findClosestPool(size int) int {
	for i := len(bufferPoolSizes) - 1; i >= 0; i-- {
		if size >= bufferPoolSizes[i] {
			return i
		}
	}
	return -1
}
