package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videovault/dlp/internal/domain"
)

func open(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGetVideo(t *testing.T) {
	s := open(t)

	v := domain.Video{ID: "vid-1", Title: "demo.mp4", Duration: 150, FPS: 25, Width: 1280, Height: 720}
	require.NoError(t, s.CreateVideo(v))

	got, err := s.GetVideo("vid-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSlicing, got.Status)
	assert.Equal(t, "demo.mp4", got.Title)
	assert.Equal(t, 150.0, got.Duration)

	_, err = s.GetVideo("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkSliceDone_Progress(t *testing.T) {
	s := open(t)
	require.NoError(t, s.CreateVideo(domain.Video{ID: "vid-1", Title: "t"}))
	require.NoError(t, s.SetExpectedSlices("vid-1", 3))

	p, err := s.MarkSliceDone("vid-1", 2, "processed/vid-1/slice_0002.mp4", 0)
	require.NoError(t, err)
	assert.Equal(t, Progress{Completed: 1, Expected: 3}, p)
	assert.False(t, p.Done())

	p, err = s.MarkSliceDone("vid-1", 0, "processed/vid-1/slice_0000.mp4", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Completed)

	p, err = s.MarkSliceDone("vid-1", 1, "processed/vid-1/slice_0001.mp4", 0)
	require.NoError(t, err)
	assert.True(t, p.Done())
}

func TestMarkSliceDone_DuplicateIsUpsert(t *testing.T) {
	s := open(t)
	require.NoError(t, s.CreateVideo(domain.Video{ID: "vid-1", Title: "t"}))
	require.NoError(t, s.SetExpectedSlices("vid-1", 2))

	// 同一切片重复完成（at-least-once 重试）：completed 集合不膨胀。
	for i := 0; i < 3; i++ {
		p, err := s.MarkSliceDone("vid-1", 0, "processed/vid-1/slice_0000.mp4", 1)
		require.NoError(t, err)
		assert.Equal(t, 1, p.Completed)
	}

	idx, err := s.CompletedIndices("vid-1")
	require.NoError(t, err)
	assert.Equal(t, []int{0}, idx)
}

func TestCASStatus_ExactlyOnce(t *testing.T) {
	s := open(t)
	require.NoError(t, s.CreateVideo(domain.Video{ID: "vid-1", Title: "t"}))
	require.NoError(t, s.SetExpectedSlices("vid-1", 1))

	ok, err := s.CASStatus("vid-1", domain.StatusScanning, domain.StatusMerging)
	require.NoError(t, err)
	assert.True(t, ok, "第一次 CAS 应成功")

	ok, err = s.CASStatus("vid-1", domain.StatusScanning, domain.StatusMerging)
	require.NoError(t, err)
	assert.False(t, ok, "第二次 CAS 必须失败（合并只触发一次）")
}

func TestMarkFailedAndCompleted(t *testing.T) {
	s := open(t)
	require.NoError(t, s.CreateVideo(domain.Video{ID: "vid-1", Title: "t"}))

	require.NoError(t, s.MarkFailed("vid-1", domain.ErrCodeStallTimeout))
	v, err := s.GetVideo("vid-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, v.Status)
	assert.Equal(t, domain.ErrCodeStallTimeout, v.ErrorCode)

	// 终态不再被 MarkFailed 覆盖。
	require.NoError(t, s.CreateVideo(domain.Video{ID: "vid-2", Title: "t"}))
	require.NoError(t, s.MarkCompleted("vid-2", "outputs/vid-2_sanitized.mp4"))
	require.NoError(t, s.MarkFailed("vid-2", domain.ErrCodeTranscodeError))
	v2, err := s.GetVideo("vid-2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, v2.Status)
	assert.Equal(t, "outputs/vid-2_sanitized.mp4", v2.OutputKey)
}

func TestReplaceDetections_RetryOverwrites(t *testing.T) {
	s := open(t)
	require.NoError(t, s.CreateVideo(domain.Video{ID: "vid-1", Title: "t"}))

	det := func(frame int, cat string) domain.Detection {
		return domain.Detection{
			SliceIndex: 1, FrameID: frame, Timestamp: float64(frame), Category: cat,
			Text: "x", Confidence: 0.9, BBox: domain.BBox{X: 1, Y: 2, Width: 3, Height: 4},
		}
	}

	// 第一次存入（模拟部分完成后的重试前状态）。
	require.NoError(t, s.ReplaceDetections("vid-1", 1, []domain.Detection{det(0, "phone")}))
	// 重试后的完整结果：覆盖而不是追加。
	require.NoError(t, s.ReplaceDetections("vid-1", 1, []domain.Detection{det(0, "phone"), det(2, "email")}))

	got, err := s.Detections("vid-1")
	require.NoError(t, err)
	require.Len(t, got, 2, "重试必须覆盖旧存入，不允许重复条目")
	assert.Equal(t, "phone", got[0].Category)
	assert.Equal(t, "email", got[1].Category)
	assert.Equal(t, domain.BBox{X: 1, Y: 2, Width: 3, Height: 4}, got[0].BBox)
}

func TestDetections_UnionAcrossSlices(t *testing.T) {
	s := open(t)
	require.NoError(t, s.CreateVideo(domain.Video{ID: "vid-1", Title: "t"}))

	d := domain.Detection{Category: "phone", Text: "13800138000", Confidence: 0.8}
	d.SliceIndex = 2
	require.NoError(t, s.ReplaceDetections("vid-1", 2, []domain.Detection{d}))
	d.SliceIndex = 0
	require.NoError(t, s.ReplaceDetections("vid-1", 0, []domain.Detection{d}))

	got, err := s.Detections("vid-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	// 输出按 slice_index 升序，与到达顺序无关。
	assert.Equal(t, 0, got[0].SliceIndex)
	assert.Equal(t, 2, got[1].SliceIndex)
}

func TestCreateVideo_ReplayClearsHistory(t *testing.T) {
	s := open(t)
	require.NoError(t, s.CreateVideo(domain.Video{ID: "vid-1", Title: "t"}))
	require.NoError(t, s.SetExpectedSlices("vid-1", 1))
	_, err := s.MarkSliceDone("vid-1", 0, "k", 1)
	require.NoError(t, err)
	require.NoError(t, s.ReplaceDetections("vid-1", 0, []domain.Detection{{Category: "phone"}}))

	// 同 ID 重建：历史进度与审计明细清零。
	require.NoError(t, s.CreateVideo(domain.Video{ID: "vid-1", Title: "t2"}))
	idx, err := s.CompletedIndices("vid-1")
	require.NoError(t, err)
	assert.Empty(t, idx)
	dets, err := s.Detections("vid-1")
	require.NoError(t, err)
	assert.Empty(t, dets)
}
