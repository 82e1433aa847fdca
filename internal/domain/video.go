package domain

import "fmt"

// KeyframeInterval 是关键帧采样间隔（秒）。
//
// 扫描阶段与脱敏阶段必须使用同一个间隔：帧到检测结果的映射
// （frameIndex / framesPerInterval）依赖它。任何一侧单独改动都会
// 让脱敏落到错误的帧区间上，所以它是常量而不是配置项。
const KeyframeInterval = 1.0

// MinSliceSeconds 是切片的最小时长（秒）。
// 末尾不足该时长的“尾巴”并入前一个切片，避免产生近零长度的病态切片。
const MinSliceSeconds = 1.0

// VideoID 是视频的不透明唯一标识（入库时生成，全流程透传）。
type VideoID string

func (id VideoID) String() string { return string(id) }

// 视频生命周期状态。入库后依次经过 slicing → scanning → merging，
// 终态是 completed 或 failed。
const (
	StatusSlicing   = "slicing"
	StatusScanning  = "scanning"
	StatusMerging   = "merging"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// 结构化错误码（对外稳定；report/audit 直接输出）。
const (
	ErrCodeUnreadableSource       = "unreadable_source"
	ErrCodeInvalidDuration        = "invalid_duration"
	ErrCodeRecognitionUnavailable = "recognition_unavailable"
	ErrCodeMergeIncomplete        = "merge_incomplete"
	ErrCodeTranscodeError         = "transcode_error"
	ErrCodeStallTimeout           = "stall_timeout"
	ErrCodeIOFailed               = "io_failed"
	ErrCodeConfigNotFound         = "config_not_found"
	ErrCodeConfigInvalid          = "config_invalid"
	ErrCodeConfigMissingRoot      = "config_missing_root"
)

// Video 是一次处理任务的主记录。
// ExpectedSlices 在切片完成前为 0（切片数只有切完才知道）。
type Video struct {
	ID             VideoID
	Title          string
	Status         string
	Duration       float64 // 秒
	FPS            float64
	Width          int
	Height         int
	ExpectedSlices int
	OutputKey      string // 终产物（脱敏视频）的存储 key；completed 前为空
	ErrorCode      string // 仅 failed 时非空（上文错误码之一）
}

// VideoInfo 是探测（probe）得到的源视频属性。
type VideoInfo struct {
	Duration   float64 // 秒
	FPS        float64
	FrameCount int
	Width      int
	Height     int
}

// Slice 是源视频的一个连续时间段，也是并行处理的最小单元。
// 由切片器一次性产出后不可变。
type Slice struct {
	Index int     // 0 基、连续、决定播放顺序
	Start float64 // 相对源视频起点（秒）
	End   float64 // 开区间右端（秒）
	Key   string  // 切片文件在存储中的 key
}

// Len 返回切片时长（秒）。
func (s Slice) Len() float64 { return s.End - s.Start }

// Keyframe 是切片内按固定间隔采样的一帧。
// ID 在切片内单调递增：ID=i 恒对应“切片内第 i*interval 秒”。
type Keyframe struct {
	ID        int
	Timestamp float64 // 相对切片起点（秒）
}

func (k Keyframe) String() string {
	return fmt.Sprintf("keyframe %d @%.2fs", k.ID, k.Timestamp)
}
