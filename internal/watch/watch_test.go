package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestIsVideo(t *testing.T) {
	cases := map[string]bool{
		"a.mp4": true, "B.MP4": true, "c.mkv": true, "d.webm": true,
		"e.srt": false, "f.mp4.part": false, "g": false,
	}
	for path, want := range cases {
		if got := IsVideo(path); got != want {
			t.Fatalf("IsVideo(%q) 期望 %v，实际 %v", path, want, got)
		}
	}
}

// collector 并发安全地收集被处理的路径。
type collector struct {
	mu    sync.Mutex
	paths []string
}

func (c *collector) handle(ctx context.Context, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = append(c.paths, path)
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...)
}

func TestRunProcessesExistingAndNewFiles(t *testing.T) {
	inbox := t.TempDir()
	existing := filepath.Join(inbox, "old.mp4")
	if err := os.WriteFile(existing, []byte("v"), 0o644); err != nil {
		t.Fatalf("写文件出错：%v", err)
	}
	// 非视频文件不应触发处理。
	if err := os.WriteFile(filepath.Join(inbox, "note.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("写文件出错：%v", err)
	}

	w := &Watcher{
		Inbox:  inbox,
		Settle: 50 * time.Millisecond,
		Log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := &collector{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx, c.handle)
	}()

	// 等启动扫描拾起已有文件。
	deadline := time.Now().Add(5 * time.Second)
	for len(c.snapshot()) < 1 {
		if time.Now().After(deadline) {
			t.Fatal("已有文件未被处理")
		}
		time.Sleep(20 * time.Millisecond)
	}

	fresh := filepath.Join(inbox, "new.mp4")
	if err := os.WriteFile(fresh, []byte("vv"), 0o644); err != nil {
		t.Fatalf("写文件出错：%v", err)
	}

	deadline = time.Now().Add(5 * time.Second)
	for len(c.snapshot()) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("新文件未被处理")
		}
		time.Sleep(20 * time.Millisecond)
	}

	got := c.snapshot()
	if got[0] != existing {
		t.Fatalf("第一个处理的应是已有文件，实际 %q", got[0])
	}
	if got[1] != fresh {
		t.Fatalf("第二个处理的应是新文件，实际 %q", got[1])
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("取消后 Run 未退出")
	}
}
