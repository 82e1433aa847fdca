// Package media 定义流水线消费的视频读写能力。
//
// 与识别后端一样，这是外部能力：核心逻辑只依赖这里的接口，
// 具体实现（本地 ffmpeg、云端转码服务）在进程装配时注入。
package media

import (
	"context"
	"fmt"
	"image"

	"github.com/videovault/dlp/internal/domain"
)

// Frame 是一个解码出的关键帧：调度信息 + 像素。
type Frame struct {
	Keyframe domain.Keyframe
	Image    *image.RGBA
}

// RewriteFunc 逐帧改写：输入第 index 帧，返回要写出的帧。
// 返回原帧即“不变直通”；实现不得修改输入帧（遮蔽是纯函数）。
type RewriteFunc func(index int, frame *image.RGBA) *image.RGBA

// Engine 是切片/扫描/脱敏阶段需要的全部媒体操作。
type Engine interface {
	// Probe 探测源视频属性；无法解码时返回 *UnreadableError。
	Probe(ctx context.Context, path string) (domain.VideoInfo, error)

	// CutSlice 把 [start, start+duration) 写出为独立切片文件。
	CutSlice(ctx context.Context, src, dst string, start, duration float64) error

	// ExtractKeyframes 按 interval（秒）采样关键帧，ID 从 0 单调递增。
	ExtractKeyframes(ctx context.Context, path string, interval float64) ([]Frame, error)

	// Rewrite 逐帧解码 src、经 fn 改写后编码到 dst。
	Rewrite(ctx context.Context, src, dst string, info domain.VideoInfo, fn RewriteFunc) error
}

// Transcoder 是合并阶段需要的拼接能力。
// 实现应先尝试流复制拼接，被底层拒绝时回退重编码。
type Transcoder interface {
	Concat(ctx context.Context, srcs []string, dst string) error
}

// UnreadableError 表示源视频无法解码/探测（错误码 unreadable_source）。
type UnreadableError struct {
	Path string
	Err  error
}

func (e *UnreadableError) Error() string {
	return fmt.Sprintf("无法读取源视频 %q：%v", e.Path, e.Err)
}

func (e *UnreadableError) Unwrap() error { return e.Err }
