// Package audit 从状态库聚合检测明细并导出审计记录。
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/videovault/dlp/internal/domain"
	"github.com/videovault/dlp/internal/infra/blob"
	"github.com/videovault/dlp/internal/infra/store"
)

// Exporter 把一个视频的全部检测明细汇成审计记录并写入对象存储。
// 明细来自按切片整体替换的存储（同一切片只保留最近一次结果），
// 导出可以重复执行，写入也是覆盖写，整条链路可重放。
type Exporter struct {
	Store *store.Store
	Blob  blob.Store
	Log   *slog.Logger
}

// Export 聚合并写出 logs/<id>_audit.json，返回写出的记录。
func (e *Exporter) Export(id domain.VideoID) (domain.AuditRecord, error) {
	v, err := e.Store.GetVideo(id)
	if err != nil {
		return domain.AuditRecord{}, err
	}

	dets, err := e.Store.Detections(id)
	if err != nil {
		return domain.AuditRecord{}, fmt.Errorf("读取视频 %s 检测明细: %w", id, err)
	}

	rec := domain.AuditRecord{
		VideoID:    id,
		VideoTitle: v.Title,
		Detections: dets,
	}
	rec.Finalize()

	data, err := json.MarshalIndent(&rec, "", "  ")
	if err != nil {
		return domain.AuditRecord{}, err
	}
	key := blob.AuditLogKey(id)
	if err := e.Blob.Put(key, data); err != nil {
		return domain.AuditRecord{}, fmt.Errorf("写出审计记录 %s: %w", key, err)
	}
	e.Log.Info("审计记录已导出", "video_id", id, "key", key, "detections", rec.TotalDetections)
	return rec, nil
}

// Load 从对象存储读回某视频的审计记录。
func Load(b blob.Store, id domain.VideoID) (domain.AuditRecord, error) {
	data, err := b.Get(blob.AuditLogKey(id))
	if err != nil {
		return domain.AuditRecord{}, err
	}
	var rec domain.AuditRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.AuditRecord{}, fmt.Errorf("解析审计记录 %s: %w", id, err)
	}
	return rec, nil
}
