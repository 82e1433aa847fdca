package recog

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/videovault/dlp/internal/domain"
)

func frame() *image.RGBA { return image.NewRGBA(image.Rect(0, 0, 8, 8)) }

func TestHTTPClient_ParsesBlocksAndFiltersThreshold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("期望 POST，实际 %s", r.Method)
		}
		var req ocrRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Image == "" {
			t.Errorf("请求体必须携带 base64 图像：%v", err)
		}
		_, _ = w.Write([]byte(`{
			"result": {"words_block_list": [
				{"words": "13800138000", "confidence": 0.95,
				 "location": [[10,20],[210,20],[210,50],[10,50]]},
				{"words": "噪声", "confidence": 0.3,
				 "location": [[0,0],[5,0],[5,5],[0,5]]}
			]}
		}`))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL, "tok", 0.6)
	if err != nil {
		t.Fatalf("构造失败：%v", err)
	}

	items, err := c.Recognize(context.Background(), frame())
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(items) != 1 {
		t.Fatalf("低置信度块必须被过滤：期望 1 条，实际 %d", len(items))
	}
	it := items[0]
	if it.Text != "13800138000" || it.Confidence != 0.95 {
		t.Fatalf("解析不符：%+v", it)
	}
	want := domain.BBox{X: 10, Y: 20, Width: 200, Height: 30}
	if it.BBox != want {
		t.Fatalf("bbox 期望 %+v，实际 %+v", want, it.BBox)
	}
}

func TestHTTPClient_RetriesThenUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL, "", 0.6)
	if err != nil {
		t.Fatalf("构造失败：%v", err)
	}

	_, err = c.Recognize(context.Background(), frame())
	var ue *UnavailableError
	if !errors.As(err, &ue) {
		t.Fatalf("期望 UnavailableError，实际 %v", err)
	}
	if got := calls.Load(); got != int32(1+c.RetryMax) {
		t.Fatalf("期望 %d 次尝试，实际 %d", 1+c.RetryMax, got)
	}
}

func TestHTTPClient_RecoversOnRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"result":{"words_block_list":[]}}`))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL, "", 0.6)
	if err != nil {
		t.Fatalf("构造失败：%v", err)
	}
	items, err := c.Recognize(context.Background(), frame())
	if err != nil {
		t.Fatalf("重试后应成功：%v", err)
	}
	if len(items) != 0 {
		t.Fatalf("期望空结果，实际 %+v", items)
	}
}

func TestDisabled_AlwaysUnavailable(t *testing.T) {
	_, err := Disabled{}.Recognize(context.Background(), frame())
	var ue *UnavailableError
	if !errors.As(err, &ue) {
		t.Fatalf("期望 UnavailableError，实际 %v", err)
	}
}

func TestNewHTTPClient_RequiresEndpoint(t *testing.T) {
	if _, err := NewHTTPClient("  ", "", 0.6); err == nil {
		t.Fatalf("空 endpoint 应报错")
	}
}
