package domain

import "sort"

// AuditTextLimit 是写入审计记录的命中文本长度上限（字符）。
// 审计要能定位问题，但不应成为敏感内容的第二个泄露面。
const AuditTextLimit = 100

// AuditRecord 是对外稳定的单视频审计记录（logs/<id>_audit.json）。
// 前端只依赖该结构与字段名，不依赖产生它的存储实现。
type AuditRecord struct {
	VideoID         VideoID     `json:"video_id"`
	VideoTitle      string      `json:"video_title"`
	TotalDetections int         `json:"total_detections"`
	Detections      []Detection `json:"detections"`
}

// Finalize 规范化审计记录的输出：
// 1) detections 按 (slice_index, frame_id) 稳定排序，输出与到达顺序无关
// 2) total_detections 由 detections 计算得出（不信任调用方传入的计数）
func (r *AuditRecord) Finalize() {
	sort.SliceStable(r.Detections, func(i, j int) bool {
		a, b := r.Detections[i], r.Detections[j]
		if a.SliceIndex != b.SliceIndex {
			return a.SliceIndex < b.SliceIndex
		}
		return a.FrameID < b.FrameID
	})
	r.TotalDetections = len(r.Detections)
}

// TruncateForAudit 把命中文本截断到审计上限。
func TruncateForAudit(text string) string {
	runes := []rune(text)
	if len(runes) <= AuditTextLimit {
		return text
	}
	return string(runes[:AuditTextLimit])
}
