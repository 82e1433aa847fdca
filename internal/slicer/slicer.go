// Package slicer 负责切片规划与关键帧调度，这是整个流水线时间轴的唯一来源。
//
// 约束：
// - 切片必须无缝平铺 [0, D)：无空洞、无重叠（合并依赖该不变量）
// - 规划是纯函数：同样的 (时长, 切片时长) 恒产出同样的切片表
// - 关键帧 ID=i 恒对应切片内第 i*interval 秒（扫描/脱敏两侧共用）
package slicer

import (
	"fmt"
	"math"

	"github.com/videovault/dlp/internal/domain"
)

// InvalidDurationError 表示探测到的时长不合法（≤0）。
type InvalidDurationError struct {
	Duration float64
}

func (e *InvalidDurationError) Error() string {
	return fmt.Sprintf("视频时长不合法：%.3f 秒", e.Duration)
}

// Plan 把 [0, totalDuration) 切成时长约 sliceDuration 的连续切片。
//
// 规则：
// - 切片数 = ceil(D/S)；若末片不足 MinSliceSeconds，则并入前一片
//   （而不是丢弃：丢弃会在时间轴末尾留下空洞，破坏平铺不变量）
// - 只有一片且不足 MinSliceSeconds 时保留该片（短视频仍要能处理）
func Plan(totalDuration, sliceDuration float64) ([]domain.Slice, error) {
	if totalDuration <= 0 {
		return nil, &InvalidDurationError{Duration: totalDuration}
	}
	if sliceDuration <= 0 {
		return nil, fmt.Errorf("切片时长必须大于 0，实际 %.3f", sliceDuration)
	}

	n := int(math.Ceil(totalDuration / sliceDuration))
	if n < 1 {
		n = 1
	}

	slices := make([]domain.Slice, 0, n)
	for i := 0; i < n; i++ {
		start := float64(i) * sliceDuration
		end := math.Min(start+sliceDuration, totalDuration)
		if end <= start {
			break
		}
		slices = append(slices, domain.Slice{Index: i, Start: start, End: end})
	}

	// 末片过短：并入前一片。
	if len(slices) > 1 {
		last := slices[len(slices)-1]
		if last.Len() < domain.MinSliceSeconds {
			slices = slices[:len(slices)-1]
			slices[len(slices)-1].End = totalDuration
		}
	}
	return slices, nil
}

// KeyframeSchedule 给出切片内的关键帧序列：i*interval（i 从 0 起）且小于切片时长。
// 至少包含第 0 帧（切片再短也要被扫描到）。
func KeyframeSchedule(sliceLen, interval float64) []domain.Keyframe {
	if interval <= 0 {
		interval = domain.KeyframeInterval
	}
	var out []domain.Keyframe
	for i := 0; ; i++ {
		ts := float64(i) * interval
		if i > 0 && ts >= sliceLen {
			break
		}
		out = append(out, domain.Keyframe{ID: i, Timestamp: ts})
	}
	return out
}

// FramesPerInterval 返回一个采样间隔覆盖的帧数（脱敏阶段的分桶除数）。
// 取整数截断；至少为 1，避免低帧率下除零。
func FramesPerInterval(fps, interval float64) int {
	n := int(fps * interval)
	if n < 1 {
		n = 1
	}
	return n
}
