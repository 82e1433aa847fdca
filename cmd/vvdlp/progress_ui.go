package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/videovault/dlp/internal/domain"
	"github.com/videovault/dlp/internal/pipeline"
)

var _ pipeline.Observer = (*progressUI)(nil)

// progressUI 是交互终端的进度输出。
//
// 约束：
// - 所有过程信息写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON 输出契约
// - 事件可能来自多个 worker goroutine，所有输出走同一把锁
type progressUI struct {
	w io.Writer

	mu        sync.Mutex
	startedAt time.Time
	total     int
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{w: w}
}

func (p *progressUI) OnStart(id domain.VideoID, title string, info domain.VideoInfo, slices int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startedAt = time.Now()
	p.total = slices

	fmt.Fprintf(p.w, "[%s] vvdlp run\n", p.startedAt.Format("15:04:05"))
	fmt.Fprintf(p.w, "  video: %s (%s)\n", title, id)
	fmt.Fprintf(p.w, "  时长: %.1fs  帧率: %.2f  分辨率: %dx%d\n",
		info.Duration, info.FPS, info.Width, info.Height)
	fmt.Fprintf(p.w, "  切片: %d\n\n", slices)
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case "slice":
		fmt.Fprintf(p.w, "切片: slices=%d (%s)\n", intField(fields, "slices"), formatShortDuration(dur))
	case "scan":
		fmt.Fprintf(p.w, "扫描: slices=%d (%s)\n", intField(fields, "slices"), formatShortDuration(dur))
	case "merge":
		fmt.Fprintf(p.w, "合并: output=%v (%s)\n", fields["output"], formatShortDuration(dur))
	case "audit":
		fmt.Fprintf(p.w, "审计: detections=%d (%s)\n", intField(fields, "detections"), formatShortDuration(dur))
	}
}

func (p *progressUI) OnSliceDone(done, total int, rep domain.SliceReport, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	line := fmt.Sprintf("[%d/%d] 切片 %d %s", done, total, rep.Index, rep.Status)
	if rep.Detections > 0 {
		line += fmt.Sprintf(" detections=%d", rep.Detections)
	}
	if rep.SkippedFrames > 0 {
		line += fmt.Sprintf(" skipped_frames=%d", rep.SkippedFrames)
	}
	if rep.ErrorCode != "" {
		line += fmt.Sprintf(" %s: %s", rep.ErrorCode, rep.ErrorMsg)
	}
	fmt.Fprintf(p.w, "%s (%s)\n", line, formatShortDuration(dur))
}

func intField(fields map[string]any, key string) int {
	if fields == nil {
		return 0
	}
	if v, ok := fields[key].(int); ok {
		return v
	}
	return 0
}

// formatShortDuration 输出紧凑的耗时：亚秒取毫秒，其余保留一位小数的秒。
func formatShortDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
