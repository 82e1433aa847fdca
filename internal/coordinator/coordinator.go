// Package coordinator 汇聚切片完成事件并决定何时进入合并阶段。
//
// 完成判定不依赖事件到达顺序：每个事件在 SQLite 事务里登记到已完成
// 集合（重复投递只是覆盖写），集合凑齐后用状态 CAS 保证合并只触发一次。
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/videovault/dlp/internal/domain"
	"github.com/videovault/dlp/internal/infra/store"
)

// MergeTrigger 在全部切片就绪后被恰好调用一次。
type MergeTrigger interface {
	TriggerMerge(ctx context.Context, id domain.VideoID) error
}

// TriggerFunc 把普通函数适配为 MergeTrigger。
type TriggerFunc func(ctx context.Context, id domain.VideoID) error

func (f TriggerFunc) TriggerMerge(ctx context.Context, id domain.VideoID) error {
	return f(ctx, id)
}

// Coordinator 是扫描阶段的扇入端。方法可被多个 worker goroutine 并发调用，
// 互斥完全交给 store 的事务与 CAS。
type Coordinator struct {
	Store   *store.Store
	Trigger MergeTrigger
	Log     *slog.Logger
}

// OnSliceResult 登记一个切片的处理结果。
// 返回值表示本次调用是否就是触发合并的那一次。
func (c *Coordinator) OnSliceResult(ctx context.Context, res domain.SliceResult) (bool, error) {
	// 先落审计明细再记完成：崩溃重投时明细被整体覆盖，不会重复计数。
	if err := c.Store.ReplaceDetections(res.VideoID, res.SliceIndex, res.Detections); err != nil {
		return false, fmt.Errorf("登记切片 %d 审计明细: %w", res.SliceIndex, err)
	}

	prog, err := c.Store.MarkSliceDone(res.VideoID, res.SliceIndex, res.ProcessedKey, len(res.Detections))
	if err != nil {
		return false, fmt.Errorf("登记切片 %d 完成: %w", res.SliceIndex, err)
	}
	c.Log.Info("切片完成",
		"video_id", res.VideoID, "slice", res.SliceIndex,
		"done", prog.Completed, "expected", prog.Expected,
		"detections", len(res.Detections), "skipped_frames", res.SkippedFrames)

	if !prog.Done() {
		return false, nil
	}

	// 多个事件可能同时观察到“已凑齐”，CAS 让恰好一个赢。
	won, err := c.Store.CASStatus(res.VideoID, domain.StatusScanning, domain.StatusMerging)
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}

	c.Log.Info("全部切片就绪，进入合并", "video_id", res.VideoID, "slices", prog.Expected)
	if err := c.Trigger.TriggerMerge(ctx, res.VideoID); err != nil {
		return true, fmt.Errorf("触发合并: %w", err)
	}
	return true, nil
}

// WatchStall 监视扫描进度，progress 在 timeout 内无变化则把视频标记为失败。
// 状态离开 scanning 或 ctx 取消时返回。通常在独立 goroutine 里运行。
func (c *Coordinator) WatchStall(ctx context.Context, id domain.VideoID, timeout time.Duration) {
	tick := timeout / 4
	if tick < time.Second {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	lastCompleted := -1
	lastChange := time.Now()

	for {
		v, err := c.Store.GetVideo(id)
		if err != nil {
			c.Log.Error("停滞监视读取状态失败", "video_id", id, "err", err)
			return
		}
		if v.Status != domain.StatusScanning {
			return
		}

		prog, err := c.Store.Progress(id)
		if err != nil {
			c.Log.Error("停滞监视读取进度失败", "video_id", id, "err", err)
			return
		}
		if prog.Completed != lastCompleted {
			lastCompleted = prog.Completed
			lastChange = time.Now()
		} else if time.Since(lastChange) >= timeout {
			c.Log.Error("扫描进度停滞，标记失败",
				"video_id", id, "done", prog.Completed, "expected", prog.Expected, "timeout", timeout)
			if err := c.Store.MarkFailed(id, domain.ErrCodeStallTimeout); err != nil {
				c.Log.Error("标记停滞失败状态出错", "video_id", id, "err", err)
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
