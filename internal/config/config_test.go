package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/videovault/dlp/internal/domain"
	"github.com/videovault/dlp/internal/mask"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	p := filepath.Join(dir, "vvdlp.json")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("写配置文件出错：%v", err)
	}
	return p
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{"storage_root": "data"}`)

	ec, err := LoadEffective(dir, CLIArgs{})
	if err != nil {
		t.Fatalf("加载出错：%v", err)
	}
	if ec.StorageRoot != filepath.Join(dir, "data") {
		t.Fatalf("storage_root 应相对 cwd 解析，实际 %q", ec.StorageRoot)
	}
	if ec.StateDB != filepath.Join(dir, "data", "state.db") {
		t.Fatalf("state_db 默认应在 storage_root 下，实际 %q", ec.StateDB)
	}
	if ec.SliceSeconds != DefaultSliceSeconds {
		t.Fatalf("期望默认切片时长 %v，实际 %v", DefaultSliceSeconds, ec.SliceSeconds)
	}
	if ec.Concurrency != DefaultConcurrency {
		t.Fatalf("期望默认并发 %d，实际 %d", DefaultConcurrency, ec.Concurrency)
	}
	if ec.OCRConfidence != DefaultConfidence {
		t.Fatalf("期望默认置信度 %v，实际 %v", DefaultConfidence, ec.OCRConfidence)
	}
	if ec.MaskMethod != mask.MethodBlur {
		t.Fatalf("期望默认 blur，实际 %q", ec.MaskMethod)
	}
	if ec.MaskOpts != mask.DefaultOptions() {
		t.Fatalf("期望默认遮蔽参数，实际 %+v", ec.MaskOpts)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadEffective(t.TempDir(), CLIArgs{})
	if Code(err) != domain.ErrCodeConfigNotFound {
		t.Fatalf("期望 %s，实际 %v", domain.ErrCodeConfigNotFound, err)
	}
}

func TestLoadMissingStorageRoot(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{"slice_duration": 30}`)

	_, err := LoadEffective(dir, CLIArgs{})
	if Code(err) != domain.ErrCodeConfigMissingRoot {
		t.Fatalf("期望 %s，实际 %v", domain.ErrCodeConfigMissingRoot, err)
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{storage_root}`)

	_, err := LoadEffective(dir, CLIArgs{})
	if Code(err) != domain.ErrCodeConfigInvalid {
		t.Fatalf("期望 %s，实际 %v", domain.ErrCodeConfigInvalid, err)
	}
}

func TestCLIOverridesFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{
		"storage_root": "/srv/vault",
		"concurrency": 8,
		"mask": {"method": "pixelate", "pixel_size": 10, "padding": 0}
	}`)

	ec, err := LoadEffective(dir, CLIArgs{
		Concurrency: 2, ConcurrencySet: true,
		Method: "blur", MethodSet: true,
	})
	if err != nil {
		t.Fatalf("加载出错：%v", err)
	}
	if ec.Concurrency != 2 {
		t.Fatalf("CLI 并发应覆盖配置文件，实际 %d", ec.Concurrency)
	}
	if ec.MaskMethod != mask.MethodBlur {
		t.Fatalf("CLI method 应覆盖配置文件，实际 %q", ec.MaskMethod)
	}
	if ec.MaskOpts.PixelSize != 10 {
		t.Fatalf("pixel_size 应来自配置文件，实际 %d", ec.MaskOpts.PixelSize)
	}
	if ec.MaskOpts.Padding != 0 {
		t.Fatalf("padding=0 是显式值，不应回退默认，实际 %d", ec.MaskOpts.Padding)
	}
}

func TestConcurrencyClamped(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{"storage_root": "d", "concurrency": 100}`)

	ec, err := LoadEffective(dir, CLIArgs{})
	if err != nil {
		t.Fatalf("加载出错：%v", err)
	}
	if ec.Concurrency != 32 {
		t.Fatalf("并发应截断到 32，实际 %d", ec.Concurrency)
	}
}

func TestInvalidFields(t *testing.T) {
	cases := []string{
		`{"storage_root": "d", "slice_duration": -1}`,
		`{"storage_root": "d", "mask": {"method": "invert"}}`,
		`{"storage_root": "d", "mask": {"blur_intensity": 1}}`,
		`{"storage_root": "d", "ocr": {"endpoint": "not-a-url"}}`,
		`{"storage_root": "d", "ocr": {"confidence_threshold": 1.5}}`,
	}
	for _, c := range cases {
		dir := t.TempDir()
		writeConfig(t, dir, c)
		_, err := LoadEffective(dir, CLIArgs{})
		if Code(err) != domain.ErrCodeConfigInvalid {
			t.Fatalf("配置 %s 期望 %s，实际 %v", c, domain.ErrCodeConfigInvalid, err)
		}
	}
}

func TestExplicitConfigPath(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "custom.json")
	if err := os.WriteFile(p, []byte(`{"storage_root": "/srv/vault"}`), 0o644); err != nil {
		t.Fatalf("写配置文件出错：%v", err)
	}

	ec, err := LoadEffective(t.TempDir(), CLIArgs{ConfigPath: p})
	if err != nil {
		t.Fatalf("加载出错：%v", err)
	}
	if ec.StorageRoot != "/srv/vault" {
		t.Fatalf("storage_root 解析错误：%q", ec.StorageRoot)
	}
}
