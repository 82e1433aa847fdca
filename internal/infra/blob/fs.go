package blob

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/videovault/dlp/internal/infra/fsx"
)

// FS 是 Store 的本地文件系统实现：key 映射为 <Root>/<key>。
//
// 写入走原子替换（临时文件 + rename），List 结果按 key 字典序稳定输出。
type FS struct {
	Root string
}

// keyRE 限制 key 的字符集，拒绝路径穿越（".."、绝对路径、反斜杠）。
var keyRE = regexp.MustCompile(`^[a-zA-Z0-9._\-]+(/[a-zA-Z0-9._\-]+)*$`)

// NewFS 创建以 root 为根的本地存储。
func NewFS(root string) *FS {
	return &FS{Root: filepath.Clean(strings.TrimSpace(root))}
}

func (s *FS) path(key string) (string, error) {
	if !keyRE.MatchString(key) || strings.Contains(key, "..") {
		return "", fmt.Errorf("非法 key：%q", key)
	}
	return filepath.Join(s.Root, filepath.FromSlash(key)), nil
}

func (s *FS) Put(key string, data []byte) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomicReplace(filepath.Dir(p), filepath.Base(p), data)
}

func (s *FS) Get(key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

func (s *FS) List(prefix string) ([]string, error) {
	keys := make([]string, 0, 16)
	err := filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				// 根目录尚未创建：视为空存储。
				return filepath.SkipAll
			}
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		// 跳过写入中的临时文件。
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(s.Root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FS) Delete(key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
