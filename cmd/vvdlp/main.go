package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/videovault/dlp/internal/audit"
	"github.com/videovault/dlp/internal/config"
	"github.com/videovault/dlp/internal/domain"
	"github.com/videovault/dlp/internal/infra/blob"
	"github.com/videovault/dlp/internal/infra/store"
	"github.com/videovault/dlp/internal/media/ffmpeg"
	"github.com/videovault/dlp/internal/pipeline"
	"github.com/videovault/dlp/internal/recog"
	"github.com/videovault/dlp/internal/watch"
)

const version = "0.3.0"

// 退出码约定：0 成功；1 处理失败；2 参数/配置错误。
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

var (
	flagConfig      string
	flagConcurrency int
	flagMethod      string
	flagInbox       string
)

var rootCmd = &cobra.Command{
	Use:           "vvdlp",
	Short:         "视频敏感文本脱敏流水线",
	Long:          "vvdlp 对视频做切片 → OCR 识别 → 敏感文本遮蔽 → 合并，并输出审计记录。",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "配置文件路径（默认 <cwd>/vvdlp.json）")

	runCmd.Flags().IntVar(&flagConcurrency, "concurrency", 0, "切片并发数（覆盖配置文件，范围 [1,32]）")
	runCmd.Flags().StringVar(&flagMethod, "method", "", "遮蔽方式：blur|pixelate（覆盖配置文件）")
	watchCmd.Flags().StringVar(&flagInbox, "inbox", "", "收件目录（默认 <storage_root>/uploads）")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误：%v\n", err)
		os.Exit(exitUsage)
	}
	os.Exit(exitCode)
}

// exitCode 由各命令处理器设置。
var exitCode = exitOK

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "打印版本号",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(os.Stdout, "vvdlp version %s\n", version)
	},
}

var runCmd = &cobra.Command{
	Use:   "run <视频文件>",
	Short: "处理单个视频文件",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps(cmd)
		if err != nil {
			exitCode = exitUsage
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return nil
		}
		defer deps.Close()

		ctx, stop := signalContext()
		defer stop()

		var obs pipeline.Observer
		progressW, interactive := pickProgressWriter()
		if interactive {
			obs = newProgressUI(progressW)
		}

		rep := deps.Pipeline.ExecuteWithObserver(ctx, args[0], obs)
		emitReport(rep)
		if rep.Status != domain.StatusCompleted {
			exitCode = exitFailed
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "监视收件目录，自动处理新投递的视频",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps(cmd)
		if err != nil {
			exitCode = exitUsage
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return nil
		}
		defer deps.Close()

		inbox := flagInbox
		if inbox == "" {
			inbox = filepath.Join(deps.Cfg.StorageRoot, "uploads")
		}
		if err := os.MkdirAll(inbox, 0o755); err != nil {
			exitCode = exitFailed
			fmt.Fprintf(os.Stderr, "创建收件目录失败：%v\n", err)
			return nil
		}

		ctx, stop := signalContext()
		defer stop()

		deps.Log.Info("开始监视收件目录", "inbox", inbox)
		w := &watch.Watcher{Inbox: inbox, Log: deps.Log}
		err = w.Run(ctx, func(ctx context.Context, path string) {
			rep := deps.Pipeline.Execute(ctx, path)
			emitReport(rep)
			if rep.Status == domain.StatusCompleted {
				// 处理成功后移出收件目录，避免重启后重复处理。
				if err := os.Remove(path); err != nil {
					deps.Log.Warn("清理收件文件失败", "path", path, "err", err)
				}
			}
		})
		if err != nil && ctx.Err() == nil {
			exitCode = exitFailed
			fmt.Fprintf(os.Stderr, "监视失败：%v\n", err)
		}
		return nil
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit <video-id>",
	Short: "输出某视频的审计记录（JSON）",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps(cmd)
		if err != nil {
			exitCode = exitUsage
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return nil
		}
		defer deps.Close()

		rec, err := audit.Load(deps.Blob, domain.VideoID(args[0]))
		if err != nil {
			exitCode = exitFailed
			fmt.Fprintf(os.Stderr, "读取审计记录失败：%v\n", err)
			return nil
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

// deps 是一次命令执行的装配结果。
type deps struct {
	Cfg      config.EffectiveConfig
	Blob     *blob.FS
	Store    *store.Store
	Log      *slog.Logger
	Pipeline *pipeline.Pipeline
}

func (d *deps) Close() {
	if d.Store != nil {
		_ = d.Store.Close()
	}
}

// buildDeps 解析配置并装配全部依赖。核心包不读全局状态，装配只发生在这里。
func buildDeps(cmd *cobra.Command) (*deps, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("读取当前目录失败：%w", err)
	}

	cli := config.CLIArgs{ConfigPath: flagConfig}
	if f := cmd.Flags().Lookup("concurrency"); f != nil && f.Changed {
		cli.Concurrency = flagConcurrency
		cli.ConcurrencySet = true
	}
	if f := cmd.Flags().Lookup("method"); f != nil && f.Changed {
		cli.Method = flagMethod
		cli.MethodSet = true
	}

	eff, err := config.LoadEffective(cwd, cli)
	if err != nil {
		return nil, err
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	st, err := store.Open(eff.StateDB)
	if err != nil {
		return nil, err
	}

	fs := &blob.FS{Root: eff.StorageRoot}
	eng := ffmpeg.New(eff.FFmpegPath, eff.FFprobePath)

	var rec recog.Recognizer = recog.Disabled{}
	if eff.OCREndpoint != "" {
		c, err := recog.NewHTTPClient(eff.OCREndpoint, eff.OCRToken, eff.OCRConfidence)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		rec = c
	} else {
		log.Warn("未配置 OCR endpoint，识别被禁用：所有帧按无检测处理")
	}

	return &deps{
		Cfg:   eff,
		Blob:  fs,
		Store: st,
		Log:   log,
		Pipeline: &pipeline.Pipeline{
			Cfg: eff, Blob: fs, Store: st,
			Media: eng, Transcoder: eng,
			Recognizer: rec, Log: log,
		},
	}, nil
}

// emitReport 按 stdout 是否 TTY 选择人类摘要或 JSON 契约输出。
func emitReport(rep domain.PipelineReport) {
	if isTTY(os.Stdout) {
		fmt.Fprintf(os.Stdout, "完成：video=%s status=%s slices=%d masked=%d failed=%d detections=%d\n",
			rep.VideoID, rep.Status,
			rep.Summary.Slices, rep.Summary.Masked, rep.Summary.Failed, rep.Summary.Detections,
		)
		if rep.Status == domain.StatusFailed {
			fmt.Fprintf(os.Stderr, "%s: %s\n", rep.ErrorCode, rep.ErrorMsg)
		}
		return
	}

	// stdout 非 TTY：stdout 只输出一个 PipelineReport JSON（摘要走 stderr）。
	enc := json.NewEncoder(os.Stdout)
	_ = enc.Encode(rep)
	fmt.Fprintf(os.Stderr, "完成：video=%s status=%s slices=%d masked=%d failed=%d detections=%d\n",
		rep.VideoID, rep.Status,
		rep.Summary.Slices, rep.Summary.Masked, rep.Summary.Failed, rep.Summary.Detections,
	)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func pickProgressWriter() (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if isTTY(os.Stderr) {
		return os.Stderr, true
	}
	if isTTY(os.Stdout) {
		return os.Stdout, true
	}
	return nil, false
}
