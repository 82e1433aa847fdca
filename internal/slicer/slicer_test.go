package slicer

import (
	"errors"
	"math"
	"testing"

	"github.com/videovault/dlp/internal/domain"
)

func TestPlan_ExactTiling(t *testing.T) {
	// 150 秒 / 60 秒切片：3 片，时长 60/60/30。
	slices, err := Plan(150, 60)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(slices) != 3 {
		t.Fatalf("期望 3 片，实际 %d", len(slices))
	}
	wantLens := []float64{60, 60, 30}
	for i, s := range slices {
		if s.Index != i {
			t.Fatalf("切片 %d 的 index=%d", i, s.Index)
		}
		if math.Abs(s.Len()-wantLens[i]) > 1e-9 {
			t.Fatalf("切片 %d 期望时长 %.0f，实际 %.3f", i, wantLens[i], s.Len())
		}
	}
	assertTiles(t, slices, 150)
}

func TestPlan_CountIsCeil(t *testing.T) {
	cases := []struct {
		d, s float64
		want int
	}{
		{120, 60, 2},
		{121, 60, 3},
		{59, 60, 1},
		{60, 60, 1},
		{600, 60, 10},
	}
	for _, c := range cases {
		slices, err := Plan(c.d, c.s)
		if err != nil {
			t.Fatalf("Plan(%v,%v) 错误：%v", c.d, c.s, err)
		}
		if len(slices) != c.want {
			t.Fatalf("Plan(%v,%v) 期望 %d 片，实际 %d", c.d, c.s, c.want, len(slices))
		}
		assertTiles(t, slices, c.d)
	}
}

func TestPlan_ShortTailMergedIntoPrevious(t *testing.T) {
	// 120.5 秒：末片只有 0.5 秒，必须并入前一片而不是丢弃。
	slices, err := Plan(120.5, 60)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(slices) != 2 {
		t.Fatalf("期望 2 片，实际 %d", len(slices))
	}
	last := slices[len(slices)-1]
	if math.Abs(last.End-120.5) > 1e-9 {
		t.Fatalf("末片必须覆盖到视频结尾：%+v", last)
	}
	assertTiles(t, slices, 120.5)
}

func TestPlan_SingleShortVideoKept(t *testing.T) {
	slices, err := Plan(0.5, 60)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(slices) != 1 {
		t.Fatalf("单个短视频仍应有 1 片，实际 %d", len(slices))
	}
	assertTiles(t, slices, 0.5)
}

func TestPlan_InvalidDuration(t *testing.T) {
	for _, d := range []float64{0, -1} {
		_, err := Plan(d, 60)
		var ide *InvalidDurationError
		if !errors.As(err, &ide) {
			t.Fatalf("Plan(%v) 期望 InvalidDurationError，实际 %v", d, err)
		}
	}
}

func TestKeyframeSchedule(t *testing.T) {
	kfs := KeyframeSchedule(60, 1.0)
	if len(kfs) != 60 {
		t.Fatalf("60 秒切片按 1 秒采样应有 60 帧，实际 %d", len(kfs))
	}
	for i, kf := range kfs {
		if kf.ID != i {
			t.Fatalf("帧 %d 的 ID=%d", i, kf.ID)
		}
		if math.Abs(kf.Timestamp-float64(i)*1.0) > 1e-9 {
			t.Fatalf("帧 ID=%d 的时间戳必须是 i*interval，实际 %.3f", i, kf.Timestamp)
		}
	}
}

func TestKeyframeSchedule_ShortSliceHasFrameZero(t *testing.T) {
	kfs := KeyframeSchedule(0.4, 1.0)
	if len(kfs) != 1 || kfs[0].ID != 0 {
		t.Fatalf("再短的切片也必须包含第 0 帧：%+v", kfs)
	}
}

func TestFramesPerInterval(t *testing.T) {
	if got := FramesPerInterval(25, 1.0); got != 25 {
		t.Fatalf("期望 25，实际 %d", got)
	}
	if got := FramesPerInterval(29.97, 1.0); got != 29 {
		t.Fatalf("帧数取截断：期望 29，实际 %d", got)
	}
	if got := FramesPerInterval(0.5, 1.0); got != 1 {
		t.Fatalf("低帧率下除数至少为 1，实际 %d", got)
	}
}

// assertTiles 校验切片表正好无缝平铺 [0, d)。
func assertTiles(t *testing.T, slices []domain.Slice, d float64) {
	t.Helper()
	if len(slices) == 0 {
		t.Fatalf("切片表为空")
	}
	if slices[0].Start != 0 {
		t.Fatalf("首片必须从 0 开始：%+v", slices[0])
	}
	for i := 1; i < len(slices); i++ {
		if math.Abs(slices[i].Start-slices[i-1].End) > 1e-9 {
			t.Fatalf("切片 %d 与前一片之间有空洞/重叠：%+v %+v", i, slices[i-1], slices[i])
		}
	}
	if math.Abs(slices[len(slices)-1].End-d) > 1e-9 {
		t.Fatalf("末片必须覆盖到 %v：%+v", d, slices[len(slices)-1])
	}
}
