package detect

import "github.com/videovault/dlp/internal/domain"

// Evaluate 对一条识别文本求值目录，并把命中物化为 Detection。
//
// bbox/confidence 原样携带识别后端给出的值：检测阶段只负责“这段文本
// 是否敏感”，不修正识别结果的几何与置信度。
func Evaluate(sliceIndex int, kf domain.Keyframe, text string, confidence float64, bbox domain.BBox) []domain.Detection {
	matches := Scan(text)
	if len(matches) == 0 {
		return nil
	}
	out := make([]domain.Detection, 0, len(matches))
	for _, m := range matches {
		out = append(out, domain.Detection{
			SliceIndex: sliceIndex,
			FrameID:    kf.ID,
			Timestamp:  kf.Timestamp,
			Category:   m.Category,
			Text:       domain.TruncateForAudit(m.Text),
			Confidence: confidence,
			BBox:       bbox,
		})
	}
	return out
}
