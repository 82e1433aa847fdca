// Package watch 监视收件目录，新视频文件落稳后交给处理回调。
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// 默认的落稳判定间隔：文件大小在一个间隔内不再变化才算写完。
// 上传/拷贝大视频是逐块写入的，fsnotify 的首个事件远早于写完。
const defaultSettle = 2 * time.Second

// Handler 处理一个已落稳的视频文件。
type Handler func(ctx context.Context, path string)

// Watcher 监视单个收件目录（不递归）。
type Watcher struct {
	Inbox  string
	Settle time.Duration
	Log    *slog.Logger
}

// 只认这些容器后缀，其余文件（字幕、临时文件）直接忽略。
var videoExt = map[string]bool{
	".mp4": true, ".mov": true, ".mkv": true, ".avi": true, ".webm": true,
}

// IsVideo 判断路径是否是受支持的视频文件。
func IsVideo(path string) bool {
	return videoExt[strings.ToLower(filepath.Ext(path))]
}

// Run 阻塞监视收件目录直到 ctx 取消。
// 启动时先处理目录里已有的文件（进程重启不丢已投递的视频）。
func (w *Watcher) Run(ctx context.Context, handle Handler) error {
	settle := w.Settle
	if settle <= 0 {
		settle = defaultSettle
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.Inbox); err != nil {
		return fmt.Errorf("监视目录 %q: %w", w.Inbox, err)
	}

	entries, err := os.ReadDir(w.Inbox)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		p := filepath.Join(w.Inbox, e.Name())
		if IsVideo(p) {
			w.settleAndHandle(ctx, p, settle, handle)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.Log.Error("目录监视出错", "err", err)
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if !IsVideo(ev.Name) {
				continue
			}
			w.settleAndHandle(ctx, ev.Name, settle, handle)
		}
	}
}

// settleAndHandle 等待文件大小稳定后调用处理回调。
// 文件在等待期间被移走则放弃（多进程抢同一收件目录的情况）。
func (w *Watcher) settleAndHandle(ctx context.Context, path string, settle time.Duration, handle Handler) {
	var lastSize int64 = -1
	for {
		info, err := os.Stat(path)
		if err != nil {
			w.Log.Warn("文件在落稳前消失", "path", path, "err", err)
			return
		}
		if info.Size() == lastSize {
			break
		}
		lastSize = info.Size()
		select {
		case <-ctx.Done():
			return
		case <-time.After(settle):
		}
	}

	w.Log.Info("收到新视频", "path", path, "size", lastSize)
	handle(ctx, path)
}
