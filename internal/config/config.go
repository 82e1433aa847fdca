// Package config 负责 vvdlp.json 的发现、解析与合并。
//
// 配置只在进程入口解析一次，实现层拿到 EffectiveConfig 后不再做
// 二次默认值/优先级判断。
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/videovault/dlp/internal/domain"
	"github.com/videovault/dlp/internal/mask"
)

const (
	// DefaultSliceSeconds 是切片时长默认值（秒）。
	DefaultSliceSeconds = 60.0
	// DefaultConcurrency 是切片并发的内置默认值。
	DefaultConcurrency = 4
	// DefaultConfidence 是 OCR 置信度过滤阈值默认值。
	DefaultConfidence = 0.6
	// DefaultStallSeconds 是扫描进度停滞判定时长默认值（秒）。
	DefaultStallSeconds = 300
)

// CLIArgs 是 CLI 暴露的入口参数，保留“是否显式指定”的信息，
// 保证覆盖优先级可实现（例如 --concurrency=1 必须能覆盖配置文件）。
type CLIArgs struct {
	ConfigPath string

	Concurrency    int
	ConcurrencySet bool

	Method    string
	MethodSet bool
}

// FileConfig 对应 vvdlp.json 的解析结构。
type FileConfig struct {
	StorageRoot  string  `json:"storage_root"`
	StateDB      string  `json:"state_db"`
	SliceSeconds float64 `json:"slice_duration"`
	Concurrency  int     `json:"concurrency"`
	StallSeconds int     `json:"stall_timeout"`

	OCR *struct {
		Endpoint   string  `json:"endpoint"`
		Token      string  `json:"token"`
		Confidence float64 `json:"confidence_threshold"`
	} `json:"ocr"`

	Mask *struct {
		Method        string `json:"method"`
		BlurIntensity int    `json:"blur_intensity"`
		PixelSize     int    `json:"pixel_size"`
		Padding       *int   `json:"padding"`
	} `json:"mask"`

	FFmpeg *struct {
		FFmpegPath  string `json:"ffmpeg_path"`
		FFprobePath string `json:"ffprobe_path"`
	} `json:"ffmpeg"`

	KeepIntermediates bool `json:"keep_intermediates"`
}

// EffectiveConfig 是合并与规范化后的最终配置。
type EffectiveConfig struct {
	StorageRoot  string
	StateDB      string
	SliceSeconds float64
	Concurrency  int
	StallSeconds int

	OCREndpoint   string
	OCRToken      string
	OCRConfidence float64

	MaskMethod mask.Method
	MaskOpts   mask.Options

	FFmpegPath  string
	FFprobePath string

	KeepIntermediates bool
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case domain.ErrCodeConfigNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case domain.ErrCodeConfigMissingRoot:
		return fmt.Sprintf("%s：配置文件 %q 缺少必填字段 storage_root", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 发现并读取配置文件，与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 --config：读取该文件（必须存在）
// 2) 否则：读取 <cwd>/vvdlp.json（必须存在）
//
// 覆盖优先级：concurrency/method 为 CLI > config > 默认；
// 其余字段仅由配置文件控制。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: domain.ErrCodeConfigInvalid, Path: cwd, Err: err}
	}

	cfgPath := filepath.Join(cwdAbs, "vvdlp.json")
	if strings.TrimSpace(cli.ConfigPath) != "" {
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigPath)
	}

	data, err := os.ReadFile(cfgPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return EffectiveConfig{}, &Error{Code: domain.ErrCodeConfigNotFound, Path: cfgPath, Err: err}
		}
		return EffectiveConfig{}, &Error{Code: domain.ErrCodeConfigInvalid, Path: cfgPath, Err: err}
	}

	var fc FileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return EffectiveConfig{}, &Error{Code: domain.ErrCodeConfigInvalid, Path: cfgPath, Err: err}
	}

	return merge(cwdAbs, cfgPath, cli, fc)
}

func merge(cwdAbs, cfgPath string, cli CLIArgs, fc FileConfig) (EffectiveConfig, error) {
	invalid := func(err error) (EffectiveConfig, error) {
		return EffectiveConfig{}, &Error{Code: domain.ErrCodeConfigInvalid, Path: cfgPath, Err: err}
	}

	root := strings.TrimSpace(fc.StorageRoot)
	if root == "" {
		return EffectiveConfig{}, &Error{Code: domain.ErrCodeConfigMissingRoot, Path: cfgPath}
	}
	root = absCleanFrom(cwdAbs, root)

	stateDB := strings.TrimSpace(fc.StateDB)
	if stateDB == "" {
		stateDB = filepath.Join(root, "state.db")
	} else {
		stateDB = absCleanFrom(cwdAbs, stateDB)
	}

	sliceSeconds := fc.SliceSeconds
	if sliceSeconds == 0 {
		sliceSeconds = DefaultSliceSeconds
	}
	if sliceSeconds <= 0 {
		return invalid(fmt.Errorf("slice_duration 必须为正数，实际 %v", fc.SliceSeconds))
	}

	// 并发：CLI > config > 默认；范围 [1, 32]，超出截断。
	concurrency := fc.Concurrency
	if cli.ConcurrencySet {
		concurrency = cli.Concurrency
	}
	if concurrency == 0 {
		concurrency = DefaultConcurrency
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > 32 {
		concurrency = 32
	}

	stall := fc.StallSeconds
	if stall == 0 {
		stall = DefaultStallSeconds
	}
	if stall < 0 {
		return invalid(fmt.Errorf("stall_timeout 必须为正数，实际 %d", fc.StallSeconds))
	}

	ec := EffectiveConfig{
		StorageRoot:       root,
		StateDB:           stateDB,
		SliceSeconds:      sliceSeconds,
		Concurrency:       concurrency,
		StallSeconds:      stall,
		OCRConfidence:     DefaultConfidence,
		MaskMethod:        mask.MethodBlur,
		MaskOpts:          mask.DefaultOptions(),
		KeepIntermediates: fc.KeepIntermediates,
	}

	if fc.OCR != nil {
		ec.OCREndpoint = strings.TrimSpace(fc.OCR.Endpoint)
		ec.OCRToken = fc.OCR.Token
		if ec.OCREndpoint != "" {
			u, err := url.Parse(ec.OCREndpoint)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return invalid(fmt.Errorf("ocr.endpoint 无效：%q", ec.OCREndpoint))
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return invalid(fmt.Errorf("ocr.endpoint 必须是 http/https：%q", ec.OCREndpoint))
			}
		}
		if fc.OCR.Confidence != 0 {
			if fc.OCR.Confidence < 0 || fc.OCR.Confidence > 1 {
				return invalid(fmt.Errorf("ocr.confidence_threshold 必须在 [0,1]，实际 %v", fc.OCR.Confidence))
			}
			ec.OCRConfidence = fc.OCR.Confidence
		}
	}

	// method：CLI > config > 默认 blur。
	method := ""
	if fc.Mask != nil {
		method = strings.TrimSpace(fc.Mask.Method)
	}
	if cli.MethodSet {
		method = cli.Method
	}
	if method != "" {
		m := mask.Method(method)
		if !m.Valid() {
			return invalid(fmt.Errorf("mask.method 只能是 blur 或 pixelate，实际 %q", method))
		}
		ec.MaskMethod = m
	}
	if fc.Mask != nil {
		if fc.Mask.BlurIntensity != 0 {
			if fc.Mask.BlurIntensity < 3 {
				return invalid(fmt.Errorf("mask.blur_intensity 过小：%d", fc.Mask.BlurIntensity))
			}
			ec.MaskOpts.BlurKernel = fc.Mask.BlurIntensity
		}
		if fc.Mask.PixelSize != 0 {
			if fc.Mask.PixelSize < 1 {
				return invalid(fmt.Errorf("mask.pixel_size 必须为正数：%d", fc.Mask.PixelSize))
			}
			ec.MaskOpts.PixelSize = fc.Mask.PixelSize
		}
		if fc.Mask.Padding != nil {
			if *fc.Mask.Padding < 0 {
				return invalid(fmt.Errorf("mask.padding 不能为负：%d", *fc.Mask.Padding))
			}
			ec.MaskOpts.Padding = *fc.Mask.Padding
		}
	}

	if fc.FFmpeg != nil {
		ec.FFmpegPath = strings.TrimSpace(fc.FFmpeg.FFmpegPath)
		ec.FFprobePath = strings.TrimSpace(fc.FFmpeg.FFprobePath)
	}

	return ec, nil
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}
