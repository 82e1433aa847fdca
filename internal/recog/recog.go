// Package recog 定义文字识别能力（外部能力，消费不实现）。
//
// 识别后端是典型的云端依赖：不可用属于常态。契约是按帧降级——
// 某帧识别失败时该帧按“无检测”处理并上报跳帧计数，绝不让整个切片失败
// （漏检一帧好过废掉整个视频）。
package recog

import (
	"context"
	"fmt"
	"image"

	"github.com/videovault/dlp/internal/domain"
)

// Item 是一段识别出的文本及其几何与置信度。
type Item struct {
	Text       string
	Confidence float64 // 0.0–1.0
	BBox       domain.BBox
}

// Recognizer 把一帧图像转换为文本区域列表。
// 实现必须并发安全：多个 SliceWorker 会同时调用。
type Recognizer interface {
	Recognize(ctx context.Context, frame *image.RGBA) ([]Item, error)
}

// UnavailableError 表示识别后端不可用（网络/服务端失败）。
// 调用方据此走“跳帧降级”，映射错误码 recognition_unavailable。
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("识别后端不可用：%v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Disabled 是未配置识别后端时的占位实现：每帧都报不可用。
// 流水线按既有降级路径跳帧，产出等同“全程无检测”，且跳帧数计入报告。
type Disabled struct{}

func (Disabled) Recognize(context.Context, *image.RGBA) ([]Item, error) {
	return nil, &UnavailableError{Err: fmt.Errorf("未配置 OCR 后端")}
}
