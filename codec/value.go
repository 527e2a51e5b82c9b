// Package codec 实现观测/动作载荷与线上包络之间的双向转换。
//
// 包络是一个 map[string]any：标量原样通过，多维数组带上
// {kind, data, shape, dtype} 标记。图像默认走JPEG有损压缩换带宽，
// 如需无损请使用PNG格式选项。编解码均为纯函数，无任何I/O。
package codec

import "fmt"

// Value 是观测值的封闭标签联合：Scalar、Array 或 Image。
type Value interface {
	isValue()
}

// Scalar 是单个浮点读数
type Scalar float64

func (Scalar) isValue() {}

// Array 是1维或2维数值数组，精确往返
type Array struct {
	Shape []int
	Dtype string // 元素类型名，如 "float64"
	Data  []float64
}

func (*Array) isValue() {}

// Image 是 HxWx3 的8位图像，通道顺序BGR（与相机驱动一致）
type Image struct {
	Rows     int
	Cols     int
	Channels int
	Pix      []byte // 按行排列的像素，长度 Rows*Cols*Channels
}

func (*Image) isValue() {}

// Shape 返回图像的 (H, W, C) 维度
func (img *Image) Shape() []int {
	return []int{img.Rows, img.Cols, img.Channels}
}

// Observation 是一次观测快照，键到值的无序映射
type Observation map[string]Value

// Action 是一组执行器目标值。当前协议约定动作载荷为纯标量映射，
// 不携带shape/dtype标记（与观测编码不对称，属有意简化）。
type Action map[string]float64

// DecodeError 表示包络格式非法或与声明的shape/dtype不一致。
type DecodeError struct {
	Key    string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %q: %s: %v", e.Key, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode %q: %s", e.Key, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
