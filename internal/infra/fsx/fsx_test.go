package fsx

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileAtomicReplace_CreatesAndReplaces(t *testing.T) {
	dir := t.TempDir()

	if err := WriteFileAtomicReplace(dir, "a.bin", []byte("v1")); err != nil {
		t.Fatalf("首次写入失败：%v", err)
	}
	if err := WriteFileAtomicReplace(dir, "a.bin", []byte("v2")); err != nil {
		t.Fatalf("覆盖写入失败：%v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "a.bin"))
	if err != nil {
		t.Fatalf("读取失败：%v", err)
	}
	if !bytes.Equal(b, []byte("v2")) {
		t.Fatalf("期望 v2，实际 %q", b)
	}
}

func TestWriteFileAtomicReplace_CreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", "dir")
	if err := WriteFileAtomicReplace(dir, "b.bin", []byte("x")); err != nil {
		t.Fatalf("写入失败：%v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "b.bin")); err != nil {
		t.Fatalf("目标文件应存在：%v", err)
	}
}

func TestWriteFileAtomicReplace_NoTempLeftover(t *testing.T) {
	dir := t.TempDir()
	if err := WriteFileAtomicReplace(dir, "c.bin", []byte("x")); err != nil {
		t.Fatalf("写入失败：%v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("读目录失败：%v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("不应留下临时文件：%v", entries)
	}
}
