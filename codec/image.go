package codec

import (
	"encoding/base64"
	"fmt"

	"gocv.io/x/gocv"
)

// 图像编码格式
const (
	FormatJPEG = ".jpg" // 有损，默认
	FormatPNG  = ".png" // 无损
)

// DefaultQuality 是JPEG默认质量
const DefaultQuality = 90

// Options 控制图像编码方式
type Options struct {
	// Format 为 FormatJPEG 或 FormatPNG，空值取JPEG
	Format string
	// Quality 为JPEG质量(1-100)，0取DefaultQuality，PNG忽略
	Quality int
}

func (o Options) withDefaults() Options {
	if o.Format == "" {
		o.Format = FormatJPEG
	}
	if o.Quality <= 0 {
		o.Quality = DefaultQuality
	}
	return o
}

// EncodeImage 将图像压缩并编码为base64文本。
func EncodeImage(img *Image, opts Options) (string, error) {
	opts = opts.withDefaults()

	if img.Channels != 3 {
		return "", fmt.Errorf("unsupported channel count %d, want 3", img.Channels)
	}
	if len(img.Pix) != img.Rows*img.Cols*img.Channels {
		return "", fmt.Errorf("pixel buffer length %d does not match shape %v", len(img.Pix), img.Shape())
	}

	mat, err := gocv.NewMatFromBytes(img.Rows, img.Cols, gocv.MatTypeCV8UC3, img.Pix)
	if err != nil {
		return "", fmt.Errorf("failed to wrap image data: %w", err)
	}
	defer mat.Close()

	var params []int
	if opts.Format == FormatJPEG {
		params = []int{gocv.IMWriteJpegQuality, opts.Quality}
	}

	buf, err := gocv.IMEncodeWithParams(gocv.FileExt(opts.Format), mat, params)
	if err != nil {
		return "", fmt.Errorf("failed to encode image to %s: %w", opts.Format, err)
	}
	defer buf.Close()

	return base64.StdEncoding.EncodeToString(buf.GetBytes()), nil
}

// DecodeImage 解码base64图像文本，返回BGR格式图像。
func DecodeImage(encoded string) (*Image, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}

	mat, err := gocv.IMDecode(raw, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, fmt.Errorf("decoded image is empty")
	}

	pix := mat.ToBytes()

	return &Image{
		Rows:     mat.Rows(),
		Cols:     mat.Cols(),
		Channels: mat.Channels(),
		Pix:      pix,
	}, nil
}
