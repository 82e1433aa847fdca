// Package blob 定义流水线使用的对象存储能力，以及本地文件系统实现。
//
// 核心流程只依赖 Store 接口：本地盘或云端对象存储在进程装配时注入，
// 核心逻辑里不允许出现“本地/云端”的隐式全局开关。
package blob

import (
	"errors"
	"fmt"

	"github.com/videovault/dlp/internal/domain"
)

// ErrNotFound 表示 key 不存在。
var ErrNotFound = errors.New("blob: key 不存在")

// Store 是流水线消费的对象存储契约。
//
// 约束：
// - Put 是“覆盖写”：同一 key 重复写入收敛到最后一次内容
//   （worker at-least-once 重试的幂等性依赖该语义）
// - 实现不做客户端加锁；正确性完全靠按 (videoId, sliceIndex) 键控的幂等写
type Store interface {
	Put(key string, data []byte) error
	Get(key string) ([]byte, error)
	List(prefix string) ([]string, error)
	Delete(key string) error
}

// key 布局与前端约定一致，不允许改动。
const (
	uploadsPrefix   = "uploads/"
	slicesPrefix    = "slices/"
	processedPrefix = "processed/"
	outputsPrefix   = "outputs/"
	logsPrefix      = "logs/"
)

// UploadKey 返回源视频上传位置。
func UploadKey(name string) string {
	return uploadsPrefix + name
}

// SliceKey 返回原始切片的 key（4 位零填充保证字典序即播放序）。
func SliceKey(videoID domain.VideoID, index int) string {
	return fmt.Sprintf("%s%s/slice_%04d.mp4", slicesPrefix, videoID, index)
}

// ProcessedKey 返回处理后（脱敏或直通）切片的 key。
func ProcessedKey(videoID domain.VideoID, index int) string {
	return fmt.Sprintf("%s%s/slice_%04d.mp4", processedPrefix, videoID, index)
}

// ProcessedPrefix 返回某视频全部处理后切片的公共前缀。
func ProcessedPrefix(videoID domain.VideoID) string {
	return processedPrefix + string(videoID) + "/"
}

// OutputKey 返回脱敏终产物的 key。
func OutputKey(videoID domain.VideoID) string {
	return fmt.Sprintf("%s%s_sanitized.mp4", outputsPrefix, videoID)
}

// AuditLogKey 返回单视频审计记录的 key。
func AuditLogKey(videoID domain.VideoID) string {
	return fmt.Sprintf("%s%s_audit.json", logsPrefix, videoID)
}
