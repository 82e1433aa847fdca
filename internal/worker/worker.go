// Package worker 处理单个视频切片：识别敏感文本并生成脱敏副本。
//
// 一个 SliceWorker 实例被多个 goroutine 并发调用，自身不携带可变状态；
// 处理结果通过返回值交给协调器，失败的切片可以原样重投。
package worker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/videovault/dlp/internal/detect"
	"github.com/videovault/dlp/internal/domain"
	"github.com/videovault/dlp/internal/infra/blob"
	"github.com/videovault/dlp/internal/mask"
	"github.com/videovault/dlp/internal/media"
	"github.com/videovault/dlp/internal/recog"
	"github.com/videovault/dlp/internal/slicer"
)

// SliceWorker 持有处理一个切片所需的全部外部能力。
type SliceWorker struct {
	Blob       blob.Store
	Media      media.Engine
	Recognizer recog.Recognizer
	Method     mask.Method
	Opts       mask.Options
	Log        *slog.Logger
}

// Process 下载切片、逐关键帧识别、按桶遮蔽后写回处理产物。
//
// 识别后端不可用只降级当前帧（计入 SkippedFrames），不会让切片失败；
// 无检测结果的切片直接转存原始字节，跳过重编码。
func (w *SliceWorker) Process(ctx context.Context, videoID domain.VideoID, sl domain.Slice) (domain.SliceResult, error) {
	result := domain.SliceResult{
		VideoID:      videoID,
		SliceIndex:   sl.Index,
		ProcessedKey: blob.ProcessedKey(videoID, sl.Index),
	}

	raw, err := w.Blob.Get(sl.Key)
	if err != nil {
		return result, fmt.Errorf("下载切片 %s: %w", sl.Key, err)
	}

	dir, err := os.MkdirTemp("", "vvdlp-slice-")
	if err != nil {
		return result, err
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "slice.mp4")
	if err := os.WriteFile(src, raw, 0o644); err != nil {
		return result, err
	}

	info, err := w.Media.Probe(ctx, src)
	if err != nil {
		return result, err
	}

	frames, err := w.Media.ExtractKeyframes(ctx, src, domain.KeyframeInterval)
	if err != nil {
		return result, fmt.Errorf("提取切片 %d 关键帧: %w", sl.Index, err)
	}

	// buckets[k] = 第 k 个关键帧命中的区域，覆盖该关键帧之后一个采样间隔内的所有帧。
	buckets := make(map[int][]domain.BBox)
	for _, fr := range frames {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		items, err := w.Recognizer.Recognize(ctx, fr.Image)
		if err != nil {
			var ue *recog.UnavailableError
			if errors.As(err, &ue) {
				result.SkippedFrames++
				w.Log.Warn("识别后端不可用，跳过当前帧",
					"video_id", videoID, "slice", sl.Index, "frame", fr.Keyframe.ID, "err", err)
				continue
			}
			return result, fmt.Errorf("识别切片 %d 第 %d 帧: %w", sl.Index, fr.Keyframe.ID, err)
		}
		for _, it := range items {
			dets := detect.Evaluate(sl.Index, fr.Keyframe, it.Text, it.Confidence, it.BBox)
			for _, d := range dets {
				result.Detections = append(result.Detections, d)
				buckets[fr.Keyframe.ID] = append(buckets[fr.Keyframe.ID], d.BBox)
			}
		}
	}

	if len(buckets) == 0 {
		// 干净切片：原样转存，省一次重编码。
		if err := w.Blob.Put(result.ProcessedKey, raw); err != nil {
			return result, fmt.Errorf("转存干净切片 %d: %w", sl.Index, err)
		}
		return result, nil
	}

	fpi := slicer.FramesPerInterval(info.FPS, domain.KeyframeInterval)
	dst := filepath.Join(dir, "masked.mp4")
	err = w.Media.Rewrite(ctx, src, dst, info, func(index int, frame *image.RGBA) *image.RGBA {
		boxes := buckets[index/fpi]
		if len(boxes) == 0 {
			return frame
		}
		return mask.Apply(frame, boxes, w.Method, w.Opts)
	})
	if err != nil {
		return result, fmt.Errorf("重写切片 %d: %w", sl.Index, err)
	}

	masked, err := os.ReadFile(dst)
	if err != nil {
		return result, err
	}
	if err := w.Blob.Put(result.ProcessedKey, masked); err != nil {
		return result, fmt.Errorf("上传脱敏切片 %d: %w", sl.Index, err)
	}
	return result, nil
}
