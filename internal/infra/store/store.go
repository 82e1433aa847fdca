// Package store 提供 SQLite 持久化的流水线状态与审计明细。
//
// 这是系统里唯一的可变共享状态。并发的切片完成事件全部收敛到这里：
// 单次到达 = 单个事务，completed 集合的并集与状态迁移都在事务内完成，
// “两个并发的最后切片同时触发合并”被数据库的串行化天然排除。
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/videovault/dlp/internal/domain"
)

// ErrNotFound 表示视频记录不存在。
var ErrNotFound = errors.New("store: 视频不存在")

const schema = `
CREATE TABLE IF NOT EXISTS videos (
    video_id        TEXT PRIMARY KEY,
    title           TEXT NOT NULL,
    status          TEXT NOT NULL,
    duration        REAL NOT NULL DEFAULT 0,
    fps             REAL NOT NULL DEFAULT 0,
    width           INTEGER NOT NULL DEFAULT 0,
    height          INTEGER NOT NULL DEFAULT 0,
    expected_slices INTEGER NOT NULL DEFAULT 0,
    output_key      TEXT NOT NULL DEFAULT '',
    error_code      TEXT NOT NULL DEFAULT '',
    created_at      INTEGER NOT NULL DEFAULT (strftime('%s','now')),
    updated_at      INTEGER NOT NULL DEFAULT (strftime('%s','now'))
);

CREATE TABLE IF NOT EXISTS slice_done (
    video_id      TEXT NOT NULL REFERENCES videos(video_id),
    slice_index   INTEGER NOT NULL,
    processed_key TEXT NOT NULL,
    detections    INTEGER NOT NULL DEFAULT 0,
    completed_at  INTEGER NOT NULL DEFAULT (strftime('%s','now')),
    PRIMARY KEY (video_id, slice_index)
);

CREATE TABLE IF NOT EXISTS audit_detections (
    video_id    TEXT NOT NULL REFERENCES videos(video_id),
    slice_index INTEGER NOT NULL,
    ordinal     INTEGER NOT NULL,
    frame_id    INTEGER NOT NULL,
    ts          REAL NOT NULL,
    category    TEXT NOT NULL,
    text        TEXT NOT NULL,
    confidence  REAL NOT NULL,
    bbox_x      INTEGER NOT NULL,
    bbox_y      INTEGER NOT NULL,
    bbox_w      INTEGER NOT NULL,
    bbox_h      INTEGER NOT NULL,
    PRIMARY KEY (video_id, slice_index, ordinal)
);

CREATE INDEX IF NOT EXISTS idx_audit_video ON audit_detections(video_id, slice_index);
`

// Store 是 SQLite 状态库句柄。*sql.DB 本身并发安全。
type Store struct {
	db *sql.DB
}

// Open 打开（必要时创建）状态库并应用 schema。
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建状态库目录失败：%w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("打开状态库失败：%w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("应用 schema 失败：%w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// CreateVideo 建立主记录，初始状态 slicing。
// 同 ID 重建（人工重放）允许：覆盖旧记录并清掉历史进度。
func (s *Store) CreateVideo(v domain.Video) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM slice_done WHERE video_id = ?`, string(v.ID)); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM audit_detections WHERE video_id = ?`, string(v.ID)); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT INTO videos (video_id, title, status, duration, fps, width, height, expected_slices)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(video_id) DO UPDATE SET
			title = excluded.title,
			status = excluded.status,
			duration = excluded.duration,
			fps = excluded.fps,
			width = excluded.width,
			height = excluded.height,
			expected_slices = excluded.expected_slices,
			output_key = '',
			error_code = '',
			updated_at = strftime('%s','now')`,
		string(v.ID), v.Title, domain.StatusSlicing, v.Duration, v.FPS, v.Width, v.Height, v.ExpectedSlices,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// SetExpectedSlices 记录切片总数并把视频推进到 scanning。
func (s *Store) SetExpectedSlices(id domain.VideoID, n int) error {
	res, err := s.db.Exec(`
		UPDATE videos SET expected_slices = ?, status = ?, updated_at = strftime('%s','now')
		WHERE video_id = ?`, n, domain.StatusScanning, string(id))
	if err != nil {
		return err
	}
	return requireRow(res)
}

// GetVideo 读取主记录。
func (s *Store) GetVideo(id domain.VideoID) (domain.Video, error) {
	var v domain.Video
	var vid string
	err := s.db.QueryRow(`
		SELECT video_id, title, status, duration, fps, width, height, expected_slices, output_key, error_code
		FROM videos WHERE video_id = ?`, string(id)).
		Scan(&vid, &v.Title, &v.Status, &v.Duration, &v.FPS, &v.Width, &v.Height, &v.ExpectedSlices, &v.OutputKey, &v.ErrorCode)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Video{}, ErrNotFound
	}
	if err != nil {
		return domain.Video{}, err
	}
	v.ID = domain.VideoID(vid)
	return v, nil
}

// CASStatus 做一次状态的比较并交换：status==from 时迁移到 to。
// 返回是否由本次调用完成迁移。合并“恰好触发一次”依赖它。
func (s *Store) CASStatus(id domain.VideoID, from, to string) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE videos SET status = ?, updated_at = strftime('%s','now')
		WHERE video_id = ? AND status = ?`, to, string(id), from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkFailed 把视频置为 failed 并记录错误码（幂等；终态不再被覆盖）。
func (s *Store) MarkFailed(id domain.VideoID, errCode string) error {
	_, err := s.db.Exec(`
		UPDATE videos SET status = ?, error_code = ?, updated_at = strftime('%s','now')
		WHERE video_id = ? AND status NOT IN (?, ?)`,
		domain.StatusFailed, errCode, string(id), domain.StatusCompleted, domain.StatusFailed)
	return err
}

// MarkCompleted 记录终产物 key 并把视频置为 completed。
func (s *Store) MarkCompleted(id domain.VideoID, outputKey string) error {
	res, err := s.db.Exec(`
		UPDATE videos SET status = ?, output_key = ?, error_code = '', updated_at = strftime('%s','now')
		WHERE video_id = ?`, domain.StatusCompleted, outputKey, string(id))
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Progress 是一次切片完成事件落库后的进度快照。
type Progress struct {
	Completed int
	Expected  int
}

// Done 判断全部切片是否已完成。
func (p Progress) Done() bool {
	return p.Expected > 0 && p.Completed == p.Expected
}

// MarkSliceDone 在单个事务内把切片标记为完成并返回进度快照。
//
// 重复到达（at-least-once 重试）按 upsert 处理：同一 (video, index)
// 只占一行，completed 集合是真正的“已完成索引集”，不是递增计数器。
func (s *Store) MarkSliceDone(id domain.VideoID, index int, processedKey string, detections int) (Progress, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return Progress{}, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO slice_done (video_id, slice_index, processed_key, detections)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(video_id, slice_index) DO UPDATE SET
			processed_key = excluded.processed_key,
			detections = excluded.detections,
			completed_at = strftime('%s','now')`,
		string(id), index, processedKey, detections,
	); err != nil {
		return Progress{}, err
	}

	var p Progress
	if err := tx.QueryRow(`SELECT COUNT(*) FROM slice_done WHERE video_id = ?`, string(id)).
		Scan(&p.Completed); err != nil {
		return Progress{}, err
	}
	if err := tx.QueryRow(`SELECT expected_slices FROM videos WHERE video_id = ?`, string(id)).
		Scan(&p.Expected); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Progress{}, ErrNotFound
		}
		return Progress{}, err
	}

	if err := tx.Commit(); err != nil {
		return Progress{}, err
	}
	return p, nil
}

// Progress 读取当前进度快照（不落任何写）。
func (s *Store) Progress(id domain.VideoID) (Progress, error) {
	var p Progress
	if err := s.db.QueryRow(`SELECT expected_slices FROM videos WHERE video_id = ?`, string(id)).
		Scan(&p.Expected); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Progress{}, ErrNotFound
		}
		return Progress{}, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM slice_done WHERE video_id = ?`, string(id)).
		Scan(&p.Completed); err != nil {
		return Progress{}, err
	}
	return p, nil
}

// CompletedIndices 返回已完成切片索引（升序）。
func (s *Store) CompletedIndices(id domain.VideoID) ([]int, error) {
	rows, err := s.db.Query(`
		SELECT slice_index FROM slice_done WHERE video_id = ? ORDER BY slice_index`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var i int
		if err := rows.Scan(&i); err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// ReplaceDetections 以“整切片替换”的方式写入审计明细：
// 同一事务内先删后插，重试的 worker 覆盖自己上一次的部分结果，
// 不会追加出重复条目。这是审计聚合“按切片取最新一次存入”的保证。
func (s *Store) ReplaceDetections(id domain.VideoID, index int, dets []domain.Detection) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM audit_detections WHERE video_id = ? AND slice_index = ?`,
		string(id), index); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO audit_detections
			(video_id, slice_index, ordinal, frame_id, ts, category, text, confidence, bbox_x, bbox_y, bbox_w, bbox_h)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for ord, d := range dets {
		if _, err := stmt.Exec(
			string(id), index, ord, d.FrameID, d.Timestamp, d.Category, d.Text, d.Confidence,
			d.BBox.X, d.BBox.Y, d.BBox.Width, d.BBox.Height,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Detections 返回某视频的全部审计明细，按 (slice_index, ordinal) 升序。
func (s *Store) Detections(id domain.VideoID) ([]domain.Detection, error) {
	rows, err := s.db.Query(`
		SELECT slice_index, frame_id, ts, category, text, confidence, bbox_x, bbox_y, bbox_w, bbox_h
		FROM audit_detections WHERE video_id = ?
		ORDER BY slice_index, ordinal`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Detection
	for rows.Next() {
		var d domain.Detection
		if err := rows.Scan(&d.SliceIndex, &d.FrameID, &d.Timestamp, &d.Category, &d.Text, &d.Confidence,
			&d.BBox.X, &d.BBox.Y, &d.BBox.Width, &d.BBox.Height); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
