package audit

import (
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videovault/dlp/internal/domain"
	"github.com/videovault/dlp/internal/infra/blob"
	"github.com/videovault/dlp/internal/infra/store"
)

func newExporter(t *testing.T) (*Exporter, *store.Store, *blob.FS) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	fs := &blob.FS{Root: t.TempDir()}

	require.NoError(t, s.CreateVideo(domain.Video{ID: "vid-1", Title: "demo.mp4"}))
	e := &Exporter{Store: s, Blob: fs, Log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	return e, s, fs
}

func det(slice, frame int, text string) domain.Detection {
	return domain.Detection{
		SliceIndex: slice,
		FrameID:    frame,
		Timestamp:  float64(frame),
		Category:   "email",
		Text:       text,
		Confidence: 0.9,
		BBox:       domain.BBox{X: 1, Y: 2, Width: 30, Height: 4},
	}
}

func TestExportAggregatesAcrossSlices(t *testing.T) {
	e, s, fs := newExporter(t)

	// 乱序存入：切片 2 先到。
	require.NoError(t, s.ReplaceDetections("vid-1", 2, []domain.Detection{det(2, 5, "c@x.io")}))
	require.NoError(t, s.ReplaceDetections("vid-1", 0, []domain.Detection{det(0, 9, "a@x.io"), det(0, 3, "b@x.io")}))

	rec, err := e.Export("vid-1")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.TotalDetections)
	assert.Equal(t, "demo.mp4", rec.VideoTitle)

	// 输出按 (slice_index, frame_id) 排序。
	require.Len(t, rec.Detections, 3)
	assert.Equal(t, [2]int{0, 3}, [2]int{rec.Detections[0].SliceIndex, rec.Detections[0].FrameID})
	assert.Equal(t, [2]int{0, 9}, [2]int{rec.Detections[1].SliceIndex, rec.Detections[1].FrameID})
	assert.Equal(t, [2]int{2, 5}, [2]int{rec.Detections[2].SliceIndex, rec.Detections[2].FrameID})

	// 落盘的 JSON 形状对前端稳定。
	raw, err := fs.Get(blob.AuditLogKey("vid-1"))
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "vid-1", m["video_id"])
	assert.Equal(t, float64(3), m["total_detections"])
	first := m["detections"].([]any)[0].(map[string]any)
	assert.Equal(t, "email", first["type"])
	assert.Contains(t, first["bbox"], "width")
}

func TestExportIsReplaceableOnRetry(t *testing.T) {
	e, s, _ := newExporter(t)

	require.NoError(t, s.ReplaceDetections("vid-1", 0, []domain.Detection{det(0, 1, "a@x.io"), det(0, 2, "b@x.io")}))
	// worker 重试后同一切片只剩一条。
	require.NoError(t, s.ReplaceDetections("vid-1", 0, []domain.Detection{det(0, 2, "b@x.io")}))

	rec, err := e.Export("vid-1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.TotalDetections)
}

func TestExportEmptyVideo(t *testing.T) {
	e, _, fs := newExporter(t)

	rec, err := e.Export("vid-1")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.TotalDetections)

	loaded, err := Load(fs, "vid-1")
	require.NoError(t, err)
	assert.Equal(t, rec.VideoID, loaded.VideoID)
}

func TestLoadMissing(t *testing.T) {
	fs := &blob.FS{Root: t.TempDir()}
	_, err := Load(fs, "nope")
	assert.ErrorIs(t, err, blob.ErrNotFound)
}
