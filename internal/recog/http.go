package recog

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout  = 20 * time.Second
	defaultRetryMax = 2
)

// HTTPClient 调用通用文字识别 REST 接口（请求体 {"image": <base64>}，
// 响应体 result.words_block_list，location 为四点多边形）。
//
// 网络策略集中在这里：有界重试 + 总超时。识别请求是幂等的只读调用，
// 重试安全；重试耗尽后以 UnavailableError 上报，由调用方降级。
type HTTPClient struct {
	Endpoint string
	Token    string // 可选：鉴权 token，放 X-Auth-Token 头

	// Threshold 是置信度下限，低于该值的识别块直接丢弃（默认 0.6）。
	Threshold float64

	// RetryMax 是最大重试次数（不含首次尝试）。
	RetryMax int

	client *http.Client
}

// NewHTTPClient 构造 OCR 客户端。endpoint 不能为空。
func NewHTTPClient(endpoint, token string, threshold float64) (*HTTPClient, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("OCR endpoint 不能为空")
	}
	if threshold <= 0 {
		threshold = 0.6
	}
	return &HTTPClient{
		Endpoint:  endpoint,
		Token:     token,
		Threshold: threshold,
		RetryMax:  defaultRetryMax,
		client: &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 15 * time.Second,
			},
		},
	}, nil
}

type ocrRequest struct {
	Image string `json:"image"`
}

type ocrResponse struct {
	Result struct {
		WordsBlockList []struct {
			Words      string  `json:"words"`
			Confidence float64 `json:"confidence"`
			// location 是四点多边形 [[x1,y1],[x2,y2],[x3,y3],[x4,y4]]，
			// 左上角为第 1 点、右下角为第 3 点。
			Location [][]int `json:"location"`
		} `json:"words_block_list"`
	} `json:"result"`
}

func (c *HTTPClient) Recognize(ctx context.Context, frame *image.RGBA) ([]Item, error) {
	body, err := c.encodeRequest(frame)
	if err != nil {
		return nil, err
	}

	max := c.RetryMax
	if max < 0 {
		max = 0
	}

	var lastErr error
	for attempt := 0; attempt <= max; attempt++ {
		items, err := c.once(ctx, body)
		if err == nil {
			return items, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			// ctx 已取消：不再重试，直接返回最后错误（更可解释）。
			break
		}
	}
	return nil, &UnavailableError{Err: lastErr}
}

func (c *HTTPClient) encodeRequest(frame *image.RGBA) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, frame); err != nil {
		return nil, fmt.Errorf("编码帧失败：%w", err)
	}
	return json.Marshal(ocrRequest{Image: base64.StdEncoding.EncodeToString(buf.Bytes())})
}

func (c *HTTPClient) once(ctx context.Context, body []byte) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("X-Auth-Token", c.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("OCR 返回 HTTP %d", resp.StatusCode)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var parsed ocrResponse
	if err := json.Unmarshal(b, &parsed); err != nil {
		return nil, fmt.Errorf("解析 OCR 响应失败：%w", err)
	}
	return c.filter(parsed), nil
}

func (c *HTTPClient) filter(parsed ocrResponse) []Item {
	var out []Item
	for _, blk := range parsed.Result.WordsBlockList {
		if blk.Confidence < c.Threshold {
			continue
		}
		item := Item{Text: blk.Words, Confidence: blk.Confidence}
		if len(blk.Location) >= 4 && len(blk.Location[0]) >= 2 && len(blk.Location[2]) >= 2 {
			x, y := blk.Location[0][0], blk.Location[0][1]
			item.BBox.X = x
			item.BBox.Y = y
			item.BBox.Width = blk.Location[2][0] - x
			item.BBox.Height = blk.Location[2][1] - y
		}
		out = append(out, item)
	}
	return out
}
