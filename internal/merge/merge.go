// Package merge 把全部脱敏切片按序拼接为最终输出。
package merge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/videovault/dlp/internal/domain"
	"github.com/videovault/dlp/internal/infra/blob"
	"github.com/videovault/dlp/internal/infra/store"
	"github.com/videovault/dlp/internal/media"
)

// IncompleteError 表示合并前置条件不成立：存在未完成的切片。
// 正常流程不会出现（协调器凑齐才触发），出现说明状态被外部篡改或有缺陷。
type IncompleteError struct {
	VideoID domain.VideoID
	Missing []int
}

func (e *IncompleteError) Error() string {
	parts := make([]string, len(e.Missing))
	for i, idx := range e.Missing {
		parts[i] = fmt.Sprintf("%d", idx)
	}
	return fmt.Sprintf("视频 %s 缺少切片 [%s]，拒绝合并", e.VideoID, strings.Join(parts, " "))
}

// TranscodeError 表示拼接/重编码本身失败（错误码 transcode_error）。
type TranscodeError struct {
	VideoID domain.VideoID
	Err     error
}

func (e *TranscodeError) Error() string {
	return fmt.Sprintf("视频 %s 拼接失败：%v", e.VideoID, e.Err)
}

func (e *TranscodeError) Unwrap() error { return e.Err }

// Merger 执行合并阶段：校验完整性、拼接、上传产物并收口状态。
type Merger struct {
	Blob       blob.Store
	Store      *store.Store
	Transcoder media.Transcoder
	Log        *slog.Logger

	// KeepIntermediates 为 true 时保留切片与脱敏中间产物（默认合并后清理）。
	KeepIntermediates bool
}

// Merge 拼接视频 id 的全部脱敏切片，返回输出对象键。
// 失败时把视频标记为 failed（merge_incomplete / transcode_error）。
func (m *Merger) Merge(ctx context.Context, id domain.VideoID) (string, error) {
	v, err := m.Store.GetVideo(id)
	if err != nil {
		return "", err
	}

	if missing, err := m.missingSlices(id, v.ExpectedSlices); err != nil {
		return "", err
	} else if len(missing) > 0 {
		m.fail(id, domain.ErrCodeMergeIncomplete)
		return "", &IncompleteError{VideoID: id, Missing: missing}
	}

	dir, err := os.MkdirTemp("", "vvdlp-merge-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	// 严格按切片序号升序拼接，顺序就是时间轴。
	srcs := make([]string, v.ExpectedSlices)
	for i := 0; i < v.ExpectedSlices; i++ {
		data, err := m.Blob.Get(blob.ProcessedKey(id, i))
		if err != nil {
			m.fail(id, domain.ErrCodeMergeIncomplete)
			return "", &IncompleteError{VideoID: id, Missing: []int{i}}
		}
		p := filepath.Join(dir, fmt.Sprintf("part_%04d.mp4", i))
		if err := os.WriteFile(p, data, 0o644); err != nil {
			return "", err
		}
		srcs[i] = p
	}

	out := filepath.Join(dir, "output.mp4")
	if err := m.Transcoder.Concat(ctx, srcs, out); err != nil {
		m.fail(id, domain.ErrCodeTranscodeError)
		return "", &TranscodeError{VideoID: id, Err: err}
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return "", err
	}
	outputKey := blob.OutputKey(id)
	if err := m.Blob.Put(outputKey, data); err != nil {
		return "", fmt.Errorf("上传输出 %s: %w", outputKey, err)
	}

	if err := m.Store.MarkCompleted(id, outputKey); err != nil {
		return "", err
	}
	m.Log.Info("合并完成", "video_id", id, "slices", v.ExpectedSlices, "output", outputKey)

	if !m.KeepIntermediates {
		m.cleanup(id, v.ExpectedSlices)
	}
	return outputKey, nil
}

// missingSlices 对照期望数量找出缺失的切片索引。
func (m *Merger) missingSlices(id domain.VideoID, expected int) ([]int, error) {
	done, err := m.Store.CompletedIndices(id)
	if err != nil {
		return nil, err
	}
	have := make(map[int]bool, len(done))
	for _, i := range done {
		have[i] = true
	}
	var missing []int
	for i := 0; i < expected; i++ {
		if !have[i] {
			missing = append(missing, i)
		}
	}
	return missing, nil
}

// cleanup 删除中间产物，失败只记日志（输出已经安全落地）。
func (m *Merger) cleanup(id domain.VideoID, n int) {
	for i := 0; i < n; i++ {
		for _, key := range []string{blob.SliceKey(id, i), blob.ProcessedKey(id, i)} {
			if err := m.Blob.Delete(key); err != nil {
				m.Log.Warn("清理中间产物失败", "key", key, "err", err)
			}
		}
	}
}

func (m *Merger) fail(id domain.VideoID, code string) {
	if err := m.Store.MarkFailed(id, code); err != nil {
		m.Log.Error("标记合并失败状态出错", "video_id", id, "err", err)
	}
}
