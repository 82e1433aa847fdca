// Package ffmpeg 用本机 ffmpeg/ffprobe 进程实现 media 接口。
//
// 所有调用都经 exec.CommandContext 执行，ctx 取消即杀进程；
// 帧级读写走 rawvideo rgba 管道，避免落盘中间帧。
package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/videovault/dlp/internal/domain"
	"github.com/videovault/dlp/internal/media"
)

// Engine 封装 ffmpeg 与 ffprobe 的二进制路径。
// 零值不可用，请通过 New 创建。
type Engine struct {
	ffmpeg  string
	ffprobe string
}

// New 创建引擎；路径为空时使用 PATH 中的默认命令名。
func New(ffmpegPath, ffprobePath string) *Engine {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Engine{ffmpeg: ffmpegPath, ffprobe: ffprobePath}
}

// probeOutput 对应 ffprobe -print_format json 的字段子集。
type probeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe 读取视频时长、帧率与分辨率。
func (e *Engine) Probe(ctx context.Context, path string) (domain.VideoInfo, error) {
	out, err := e.runOutput(ctx, e.ffprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)
	if err != nil {
		return domain.VideoInfo{}, &media.UnreadableError{Path: path, Err: err}
	}

	var po probeOutput
	if err := json.Unmarshal(out, &po); err != nil {
		return domain.VideoInfo{}, &media.UnreadableError{Path: path, Err: err}
	}

	var info domain.VideoInfo
	info.Duration, err = strconv.ParseFloat(po.Format.Duration, 64)
	if err != nil {
		return domain.VideoInfo{}, &media.UnreadableError{Path: path, Err: fmt.Errorf("解析时长 %q: %w", po.Format.Duration, err)}
	}
	for _, s := range po.Streams {
		if s.CodecType != "video" {
			continue
		}
		info.Width = s.Width
		info.Height = s.Height
		info.FPS, err = parseFrameRate(s.RFrameRate)
		if err != nil {
			return domain.VideoInfo{}, &media.UnreadableError{Path: path, Err: err}
		}
		break
	}
	if info.Width == 0 || info.Height == 0 || info.FPS <= 0 {
		return domain.VideoInfo{}, &media.UnreadableError{Path: path, Err: fmt.Errorf("未找到有效视频流")}
	}
	return info, nil
}

// parseFrameRate 解析 ffprobe 的 "30000/1001" 形式分数帧率。
func parseFrameRate(s string) (float64, error) {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return strconv.ParseFloat(s, 64)
	}
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("解析帧率 %q: %w", s, err)
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0, fmt.Errorf("解析帧率 %q: 分母非法", s)
	}
	return n / d, nil
}

// CutSlice 写出 [start, start+duration) 的切片。
// 重编码视频流并丢弃音频，保证每个切片首帧可独立解码。
func (e *Engine) CutSlice(ctx context.Context, src, dst string, start, duration float64) error {
	_, err := e.runOutput(ctx, e.ffmpeg,
		"-y", "-v", "error",
		"-ss", formatSeconds(start),
		"-t", formatSeconds(duration),
		"-i", src,
		"-an",
		"-c:v", "libx264", "-preset", "fast", "-crf", "23",
		dst,
	)
	if err != nil {
		return fmt.Errorf("切片 %q [%.3f,%.3f): %w", src, start, start+duration, err)
	}
	return nil
}

// ExtractKeyframes 按 interval 秒采样帧，经 image2pipe 输出 PNG 流逐张解码。
func (e *Engine) ExtractKeyframes(ctx context.Context, path string, interval float64) ([]media.Frame, error) {
	cmd := exec.CommandContext(ctx, e.ffmpeg,
		"-v", "error",
		"-i", path,
		"-vf", fmt.Sprintf("fps=1/%s", formatSeconds(interval)),
		"-f", "image2pipe", "-vcodec", "png",
		"-",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var frames []media.Frame
	for id := 0; ; id++ {
		img, err := png.Decode(stdout)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			// PNG 流中途损坏：放弃剩余帧。
			cmd.Process.Kill()
			cmd.Wait()
			return nil, fmt.Errorf("解码第 %d 帧: %w", id, err)
		}
		frames = append(frames, media.Frame{
			Keyframe: domain.Keyframe{ID: id, Timestamp: float64(id) * interval},
			Image:    toRGBA(img),
		})
	}
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("提取关键帧 %q: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	return frames, nil
}

// Rewrite 以 rawvideo rgba 管道串联解码与编码两个进程，逐帧过 fn。
func (e *Engine) Rewrite(ctx context.Context, src, dst string, info domain.VideoInfo, fn media.RewriteFunc) error {
	size := fmt.Sprintf("%dx%d", info.Width, info.Height)
	rate := strconv.FormatFloat(info.FPS, 'f', -1, 64)

	dec := exec.CommandContext(ctx, e.ffmpeg,
		"-v", "error",
		"-i", src,
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-",
	)
	enc := exec.CommandContext(ctx, e.ffmpeg,
		"-y", "-v", "error",
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-s", size, "-r", rate,
		"-i", "-",
		"-an",
		"-c:v", "libx264", "-preset", "fast", "-crf", "23",
		"-pix_fmt", "yuv420p",
		dst,
	)

	var decErr, encErr bytes.Buffer
	dec.Stderr = &decErr
	enc.Stderr = &encErr

	decOut, err := dec.StdoutPipe()
	if err != nil {
		return err
	}
	encIn, err := enc.StdinPipe()
	if err != nil {
		return err
	}

	if err := dec.Start(); err != nil {
		return fmt.Errorf("启动解码 %q: %w", src, err)
	}
	if err := enc.Start(); err != nil {
		dec.Process.Kill()
		dec.Wait()
		return fmt.Errorf("启动编码 %q: %w", dst, err)
	}

	frameBytes := info.Width * info.Height * 4
	buf := make([]byte, frameBytes)
	var copyErr error
	for index := 0; ; index++ {
		_, err := io.ReadFull(decOut, buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			copyErr = fmt.Errorf("读取第 %d 帧: %w", index, err)
			break
		}
		frame := &image.RGBA{
			Pix:    buf,
			Stride: info.Width * 4,
			Rect:   image.Rect(0, 0, info.Width, info.Height),
		}
		out := fn(index, frame)
		if _, err := encIn.Write(out.Pix); err != nil {
			copyErr = fmt.Errorf("写出第 %d 帧: %w", index, err)
			break
		}
	}
	encIn.Close()

	// 中途失败时解码器可能还在往满管道里写，杀掉避免 Wait 卡死。
	if copyErr != nil {
		dec.Process.Kill()
	}

	if err := dec.Wait(); err != nil && copyErr == nil {
		copyErr = fmt.Errorf("解码 %q: %w: %s", src, err, strings.TrimSpace(decErr.String()))
	}
	if err := enc.Wait(); err != nil && copyErr == nil {
		copyErr = fmt.Errorf("编码 %q: %w: %s", dst, err, strings.TrimSpace(encErr.String()))
	}
	return copyErr
}

// Concat 用 concat demuxer 流复制拼接；容器拒绝时回退整体重编码。
func (e *Engine) Concat(ctx context.Context, srcs []string, dst string) error {
	if len(srcs) == 0 {
		return fmt.Errorf("拼接源列表为空")
	}

	list, err := writeConcatList(srcs)
	if err != nil {
		return err
	}
	defer os.Remove(list)

	_, err = e.runOutput(ctx, e.ffmpeg,
		"-y", "-v", "error",
		"-f", "concat", "-safe", "0",
		"-i", list,
		"-c", "copy",
		dst,
	)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	// 流复制失败（时间戳/参数不齐），退回重编码。
	_, reErr := e.runOutput(ctx, e.ffmpeg,
		"-y", "-v", "error",
		"-f", "concat", "-safe", "0",
		"-i", list,
		"-c:v", "libx264", "-preset", "fast", "-crf", "23",
		dst,
	)
	if reErr != nil {
		return fmt.Errorf("拼接 %d 个切片失败（流复制: %v）: %w", len(srcs), err, reErr)
	}
	return nil
}

// writeConcatList 生成 concat demuxer 的清单文件。
func writeConcatList(srcs []string) (string, error) {
	f, err := os.CreateTemp("", "vvdlp-concat-*.txt")
	if err != nil {
		return "", err
	}
	for _, s := range srcs {
		// concat 清单的单引号转义规则：' → '\''
		escaped := strings.ReplaceAll(s, "'", `'\''`)
		if _, err := fmt.Fprintf(f, "file '%s'\n", escaped); err != nil {
			f.Close()
			os.Remove(f.Name())
			return "", err
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// runOutput 执行命令并在失败时把 stderr 并入错误。
func (e *Engine) runOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// formatSeconds 输出不带多余零的秒数字符串。
func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// toRGBA 把任意解码结果规整为 RGBA。
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
