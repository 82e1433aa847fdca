package domain

import (
	"sort"
	"time"
)

// 切片条目状态（report 内）。
const (
	SliceStatusProcessed = "processed" // 正常完成（零检测直通）
	SliceStatusMasked    = "masked"    // 完成且做了脱敏重编码
	SliceStatusFailed    = "failed"
)

// PipelineReport 是一次端到端处理的对外稳定输出（stdout JSON / report.json）。
type PipelineReport struct {
	VideoID VideoID `json:"video_id"`
	Title   string  `json:"title"`
	Status  string  `json:"status"` // 视频终态：completed|failed

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	OutputKey string `json:"output_key"`
	AuditKey  string `json:"audit_key"`

	ErrorCode string `json:"error_code,omitempty"`
	ErrorMsg  string `json:"error_msg,omitempty"`

	Summary ReportSummary `json:"summary"`
	Slices  []SliceReport `json:"slices"`
}

type ReportSummary struct {
	Slices        int `json:"slices"`
	Masked        int `json:"masked"`
	Failed        int `json:"failed"`
	Detections    int `json:"detections"`
	SkippedFrames int `json:"skipped_frames"`
}

// SliceReport 是单切片的结果条目。
type SliceReport struct {
	Index         int    `json:"index"`
	Status        string `json:"status"`
	Detections    int    `json:"detections"`
	SkippedFrames int    `json:"skipped_frames"`
	ErrorCode     string `json:"error_code,omitempty"`
	ErrorMsg      string `json:"error_msg,omitempty"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC（确保 JSON 为 RFC3339 且后缀 Z）
// 2) slices 按 index 稳定排序（完成顺序是并发的，输出顺序必须确定）
// 3) summary 由 slices 计算得出
func (r *PipelineReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	sort.SliceStable(r.Slices, func(i, j int) bool {
		return r.Slices[i].Index < r.Slices[j].Index
	})

	var s ReportSummary
	s.Slices = len(r.Slices)
	for _, it := range r.Slices {
		switch it.Status {
		case SliceStatusMasked:
			s.Masked++
		case SliceStatusFailed:
			s.Failed++
		}
		s.Detections += it.Detections
		s.SkippedFrames += it.SkippedFrames
	}
	r.Summary = s
}
