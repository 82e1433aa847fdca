package pipeline

import (
	"time"

	"github.com/videovault/dlp/internal/domain"
)

// Observer 把“阶段/切片进度”从核心执行流程中解耦出来。
//
// 约束：
// - pipeline 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - 实现必须并发安全：切片事件来自多个 worker goroutine。
type Observer interface {
	// OnStart 在探测成功、切片计划确定后调用。
	OnStart(id domain.VideoID, title string, info domain.VideoInfo, slices int)
	// OnPhaseDone 在阶段结束时调用（slice/scan/merge/audit）。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnSliceDone 在单个切片处理完成时调用。
	OnSliceDone(done, total int, rep domain.SliceReport, dur time.Duration)
}
