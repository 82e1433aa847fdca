// Package pipeline 串起端到端流程：切片 → 并发扫描/脱敏 → 合并 → 审计。
//
// Execute 尽量把错误“降级”为切片级失败（单个切片失败不影响其他切片），
// 只有切片计划失败、源不可读或合并失败才让整个视频失败。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/videovault/dlp/internal/audit"
	"github.com/videovault/dlp/internal/config"
	"github.com/videovault/dlp/internal/coordinator"
	"github.com/videovault/dlp/internal/domain"
	"github.com/videovault/dlp/internal/infra/blob"
	"github.com/videovault/dlp/internal/infra/store"
	"github.com/videovault/dlp/internal/media"
	"github.com/videovault/dlp/internal/merge"
	"github.com/videovault/dlp/internal/recog"
	"github.com/videovault/dlp/internal/slicer"
	"github.com/videovault/dlp/internal/worker"
)

// 单个切片的处理重试次数（at-least-once：重试落库是幂等覆盖写）。
const sliceAttempts = 2

// Pipeline 持有一次端到端处理需要的全部外部能力，方法可重入。
type Pipeline struct {
	Cfg        config.EffectiveConfig
	Blob       blob.Store
	Store      *store.Store
	Media      media.Engine
	Transcoder media.Transcoder
	Recognizer recog.Recognizer
	Log        *slog.Logger
}

// Execute 处理一个本地视频文件并返回对外稳定的报告。
func (p *Pipeline) Execute(ctx context.Context, srcPath string) domain.PipelineReport {
	return p.ExecuteWithObserver(ctx, srcPath, nil)
}

// ExecuteWithObserver 与 Execute 相同，但允许传入 Observer 输出进度。
func (p *Pipeline) ExecuteWithObserver(ctx context.Context, srcPath string, obs Observer) domain.PipelineReport {
	started := time.Now().UTC()
	id := domain.VideoID(uuid.NewString())
	title := filepath.Base(srcPath)

	rep := domain.PipelineReport{
		VideoID:   id,
		Title:     title,
		StartedAt: started,
	}
	finish := func(code string, err error) domain.PipelineReport {
		if code != "" {
			rep.Status = domain.StatusFailed
			rep.ErrorCode = code
			if err != nil {
				rep.ErrorMsg = err.Error()
			}
		}
		rep.FinishedAt = time.Now().UTC()
		rep.Finalize()
		return rep
	}

	info, err := p.Media.Probe(ctx, srcPath)
	if err != nil {
		p.Log.Error("源视频不可读", "path", srcPath, "err", err)
		return finish(domain.ErrCodeUnreadableSource, err)
	}

	slices, err := slicer.Plan(info.Duration, p.Cfg.SliceSeconds)
	if err != nil {
		return finish(domain.ErrCodeInvalidDuration, err)
	}

	if err := p.Store.CreateVideo(domain.Video{
		ID: id, Title: title,
		Duration: info.Duration, FPS: info.FPS,
		Width: info.Width, Height: info.Height,
	}); err != nil {
		return finish(domain.ErrCodeIOFailed, err)
	}

	if obs != nil {
		obs.OnStart(id, title, info, len(slices))
	}

	// ---- 切片阶段 ----
	sliceStarted := time.Now()
	if err := p.cutSlices(ctx, id, srcPath, slices); err != nil {
		p.failVideo(id, domain.ErrCodeTranscodeError)
		return finish(domain.ErrCodeTranscodeError, err)
	}
	if err := p.Store.SetExpectedSlices(id, len(slices)); err != nil {
		return finish(domain.ErrCodeIOFailed, err)
	}
	if obs != nil {
		obs.OnPhaseDone("slice", map[string]any{"slices": len(slices)}, time.Since(sliceStarted))
	}

	// ---- 扫描/脱敏阶段（worker pool 扇出，coordinator 扇入）----
	merged := make(chan struct{}, 1)
	coord := &coordinator.Coordinator{
		Store: p.Store,
		Trigger: coordinator.TriggerFunc(func(context.Context, domain.VideoID) error {
			merged <- struct{}{}
			return nil
		}),
		Log: p.Log,
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	go coord.WatchStall(watchCtx, id, time.Duration(p.Cfg.StallSeconds)*time.Second)

	scanStarted := time.Now()
	rep.Slices = p.scanSlices(ctx, id, slices, coord, obs)
	stopWatch()
	if obs != nil {
		obs.OnPhaseDone("scan", map[string]any{"slices": len(slices)}, time.Since(scanStarted))
	}

	// ---- 合并阶段 ----
	select {
	case <-merged:
	default:
		// 集合没凑齐：有切片彻底失败，或停滞监视已把视频标记失败。
		code, msg := p.terminalFailure(id, rep.Slices)
		p.failVideo(id, code)
		p.exportAudit(id, &rep, obs)
		return finish(code, errors.New(msg))
	}

	mergeStarted := time.Now()
	merger := &merge.Merger{
		Blob: p.Blob, Store: p.Store, Transcoder: p.Transcoder,
		Log: p.Log, KeepIntermediates: p.Cfg.KeepIntermediates,
	}
	outputKey, err := merger.Merge(ctx, id)
	if err != nil {
		p.exportAudit(id, &rep, obs)
		return finish(mergeErrorCode(err), err)
	}
	rep.OutputKey = outputKey
	if obs != nil {
		obs.OnPhaseDone("merge", map[string]any{"output": outputKey}, time.Since(mergeStarted))
	}

	// ---- 审计阶段 ----
	p.exportAudit(id, &rep, obs)

	rep.Status = domain.StatusCompleted
	return finish("", nil)
}

// cutSlices 按计划切割源视频并逐个写入对象存储。
func (p *Pipeline) cutSlices(ctx context.Context, id domain.VideoID, srcPath string, slices []domain.Slice) error {
	dir, err := os.MkdirTemp("", "vvdlp-cut-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	for i := range slices {
		sl := &slices[i]
		dst := filepath.Join(dir, fmt.Sprintf("slice_%04d.mp4", sl.Index))
		if err := p.Media.CutSlice(ctx, srcPath, dst, sl.Start, sl.Len()); err != nil {
			return fmt.Errorf("切割切片 %d: %w", sl.Index, err)
		}
		data, err := os.ReadFile(dst)
		if err != nil {
			return err
		}
		sl.Key = blob.SliceKey(id, sl.Index)
		if err := p.Blob.Put(sl.Key, data); err != nil {
			return fmt.Errorf("上传切片 %d: %w", sl.Index, err)
		}
		// 单个切片落地即删本地副本，限制峰值磁盘占用。
		os.Remove(dst)
	}
	return nil
}

// scanSlices 以固定大小 worker pool 并发处理切片，返回按完成顺序的条目。
func (p *Pipeline) scanSlices(ctx context.Context, id domain.VideoID, slices []domain.Slice, coord *coordinator.Coordinator, obs Observer) []domain.SliceReport {
	workers := p.Cfg.Concurrency
	if workers < 1 {
		workers = 1
	}
	if workers > len(slices) {
		workers = len(slices)
	}

	w := &worker.SliceWorker{
		Blob: p.Blob, Media: p.Media, Recognizer: p.Recognizer,
		Method: p.Cfg.MaskMethod, Opts: p.Cfg.MaskOpts,
		Log: p.Log,
	}

	type outcome struct {
		rep domain.SliceReport
		dur time.Duration
	}

	jobs := make(chan domain.Slice)
	results := make(chan outcome, len(slices))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sl := range jobs {
				oneStarted := time.Now()
				results <- outcome{
					rep: p.processOne(ctx, id, sl, w, coord),
					dur: time.Since(oneStarted),
				}
			}
		}()
	}

	go func() {
		for _, sl := range slices {
			jobs <- sl
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	out := make([]domain.SliceReport, 0, len(slices))
	done := 0
	for o := range results {
		done++
		out = append(out, o.rep)
		if obs != nil {
			obs.OnSliceDone(done, len(slices), o.rep, o.dur)
		}
	}
	return out
}

// processOne 处理单个切片（带有限次重试）并把成功结果交给协调器。
func (p *Pipeline) processOne(ctx context.Context, id domain.VideoID, sl domain.Slice, w *worker.SliceWorker, coord *coordinator.Coordinator) domain.SliceReport {
	var lastErr error
	for attempt := 1; attempt <= sliceAttempts; attempt++ {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		res, err := w.Process(ctx, id, sl)
		if err == nil {
			if _, err := coord.OnSliceResult(ctx, res); err != nil {
				lastErr = err
				break
			}
			status := domain.SliceStatusProcessed
			if len(res.Detections) > 0 {
				status = domain.SliceStatusMasked
			}
			return domain.SliceReport{
				Index:         sl.Index,
				Status:        status,
				Detections:    len(res.Detections),
				SkippedFrames: res.SkippedFrames,
			}
		}
		lastErr = err
		p.Log.Warn("切片处理失败", "video_id", id, "slice", sl.Index, "attempt", attempt, "err", err)
	}
	return domain.SliceReport{
		Index:     sl.Index,
		Status:    domain.SliceStatusFailed,
		ErrorCode: domain.ErrCodeIOFailed,
		ErrorMsg:  lastErr.Error(),
	}
}

// exportAudit 导出审计记录；失败降级为日志（审计缺失不该掩盖主流程结果）。
func (p *Pipeline) exportAudit(id domain.VideoID, rep *domain.PipelineReport, obs Observer) {
	auditStarted := time.Now()
	ex := &audit.Exporter{Store: p.Store, Blob: p.Blob, Log: p.Log}
	rec, err := ex.Export(id)
	if err != nil {
		p.Log.Error("导出审计记录失败", "video_id", id, "err", err)
		return
	}
	rep.AuditKey = blob.AuditLogKey(id)
	if obs != nil {
		obs.OnPhaseDone("audit", map[string]any{"detections": rec.TotalDetections}, time.Since(auditStarted))
	}
}

// terminalFailure 根据库内状态与切片条目归因视频级失败。
func (p *Pipeline) terminalFailure(id domain.VideoID, slices []domain.SliceReport) (code, msg string) {
	if v, err := p.Store.GetVideo(id); err == nil && v.Status == domain.StatusFailed && v.ErrorCode != "" {
		return v.ErrorCode, fmt.Sprintf("视频已标记失败（%s）", v.ErrorCode)
	}
	failed := 0
	for _, s := range slices {
		if s.Status == domain.SliceStatusFailed {
			failed++
		}
	}
	return domain.ErrCodeIOFailed, fmt.Sprintf("%d 个切片处理失败", failed)
}

// failVideo 仅在视频尚未处于终态时落失败标记。
func (p *Pipeline) failVideo(id domain.VideoID, code string) {
	if err := p.Store.MarkFailed(id, code); err != nil && !errors.Is(err, store.ErrNotFound) {
		p.Log.Error("标记视频失败状态出错", "video_id", id, "err", err)
	}
}

func mergeErrorCode(err error) string {
	var ie *merge.IncompleteError
	if errors.As(err, &ie) {
		return domain.ErrCodeMergeIncomplete
	}
	var te *merge.TranscodeError
	if errors.As(err, &te) {
		return domain.ErrCodeTranscodeError
	}
	return domain.ErrCodeIOFailed
}
