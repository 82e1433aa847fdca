// Package mask 对帧内的敏感区域做不可逆遮蔽（高斯模糊或马赛克）。
//
// 约束：
// - 纯函数：不修改输入帧，返回新帧（可组合、可测试）
// - 相同 (帧, bbox, 方法, 参数) 输入必须产出逐字节一致的结果
// - 各区域独立处理，允许重叠（重复施加是幂等式的“并集”遮蔽）
package mask

import (
	"image"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"

	"github.com/videovault/dlp/internal/domain"
)

// Method 是遮蔽方式。
type Method string

const (
	MethodBlur     Method = "blur"
	MethodPixelate Method = "pixelate"
)

// Valid 判断 m 是否为受支持的遮蔽方式。
func (m Method) Valid() bool {
	return m == MethodBlur || m == MethodPixelate
}

// Options 是遮蔽参数。零值无效，使用 DefaultOptions 再覆盖。
type Options struct {
	// BlurKernel 是高斯核边长；必须为奇数，偶数会被 +1 规范化。
	BlurKernel int
	// PixelSize 是马赛克缩小后的边长（块数）。
	PixelSize int
	// Padding 是 bbox 四周扩展的像素数（避免数字边缘漏出）。
	Padding int
}

// DefaultOptions 与线上默认参数一致：核 51、块 20、扩边 10px。
func DefaultOptions() Options {
	return Options{BlurKernel: 51, PixelSize: 20, Padding: 10}
}

func (o Options) normalized() Options {
	if o.BlurKernel < 3 {
		o.BlurKernel = 3
	}
	if o.BlurKernel%2 == 0 {
		o.BlurKernel++
	}
	if o.PixelSize < 1 {
		o.PixelSize = 1
	}
	if o.Padding < 0 {
		o.Padding = 0
	}
	return o
}

// Apply 对 src 的每个 bbox 区域施加遮蔽，返回新帧。
// bbox 先按 Padding 扩展并裁剪到帧边界；落在帧外或空的区域直接跳过。
func Apply(src *image.RGBA, boxes []domain.BBox, method Method, opts Options) *image.RGBA {
	opts = opts.normalized()

	dst := cloneRGBA(src)
	for _, b := range boxes {
		region := padClamp(b, opts.Padding, dst.Bounds())
		if region.Empty() {
			continue
		}
		switch method {
		case MethodPixelate:
			pixelateRegion(dst, region, opts.PixelSize)
		default:
			// 未知方式按 blur 处理：漏识别一个参数不应让敏感内容漏出。
			blurRegion(dst, region, opts.BlurKernel)
		}
	}
	return dst
}

// padClamp 把 bbox 扩展 padding 像素并裁剪到 bounds。
func padClamp(b domain.BBox, padding int, bounds image.Rectangle) image.Rectangle {
	r := image.Rect(b.X-padding, b.Y-padding, b.X+b.Width+padding, b.Y+b.Height+padding)
	return r.Intersect(bounds)
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	return dst
}

// pixelateRegion 先把区域双线性缩小到 ps×ps，再最近邻放大回原尺寸。
// 线性缩小 + 最近邻放大，块边界清晰。
func pixelateRegion(dst *image.RGBA, region image.Rectangle, ps int) {
	small := image.NewRGBA(image.Rect(0, 0, ps, ps))
	xdraw.ApproxBiLinear.Scale(small, small.Bounds(), dst, region, xdraw.Src, nil)
	xdraw.NearestNeighbor.Scale(dst, region, small, small.Bounds(), xdraw.Src, nil)
}

// blurRegion 对区域做可分离高斯卷积（先横后纵）。
// sigma 采用从核长推导的惯用公式（0.3*((k-1)*0.5-1)+0.8），
// 边界在区域内部做 clamp 采样，保证结果只取决于区域内容。
func blurRegion(dst *image.RGBA, region image.Rectangle, ksize int) {
	kernel := gaussianKernel(ksize)
	w := region.Dx()
	h := region.Dy()
	half := ksize / 2

	// 提取区域到浮点缓冲（RGBA 各通道独立卷积）。
	buf := make([]float64, w*h*4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := dst.PixOffset(region.Min.X+x, region.Min.Y+y)
			j := (y*w + x) * 4
			buf[j+0] = float64(dst.Pix[i+0])
			buf[j+1] = float64(dst.Pix[i+1])
			buf[j+2] = float64(dst.Pix[i+2])
			buf[j+3] = float64(dst.Pix[i+3])
		}
	}

	tmp := make([]float64, len(buf))

	// 横向。
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var r, g, b, a float64
			for k := -half; k <= half; k++ {
				sx := clamp(x+k, 0, w-1)
				j := (y*w + sx) * 4
				wgt := kernel[k+half]
				r += buf[j+0] * wgt
				g += buf[j+1] * wgt
				b += buf[j+2] * wgt
				a += buf[j+3] * wgt
			}
			j := (y*w + x) * 4
			tmp[j+0], tmp[j+1], tmp[j+2], tmp[j+3] = r, g, b, a
		}
	}

	// 纵向，并写回。
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var r, g, b, a float64
			for k := -half; k <= half; k++ {
				sy := clamp(y+k, 0, h-1)
				j := (sy*w + x) * 4
				wgt := kernel[k+half]
				r += tmp[j+0] * wgt
				g += tmp[j+1] * wgt
				b += tmp[j+2] * wgt
				a += tmp[j+3] * wgt
			}
			i := dst.PixOffset(region.Min.X+x, region.Min.Y+y)
			dst.Pix[i+0] = clampByte(r)
			dst.Pix[i+1] = clampByte(g)
			dst.Pix[i+2] = clampByte(b)
			dst.Pix[i+3] = clampByte(a)
		}
	}
}

func gaussianKernel(ksize int) []float64 {
	sigma := 0.3*(float64(ksize-1)*0.5-1) + 0.8
	kernel := make([]float64, ksize)
	half := ksize / 2
	sum := 0.0
	for i := 0; i < ksize; i++ {
		d := float64(i - half)
		kernel[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampByte(v float64) uint8 {
	r := math.Round(v)
	if r < 0 {
		return 0
	}
	if r > 255 {
		return 255
	}
	return uint8(r)
}
