package domain

// BBox 是识别结果在源帧像素坐标系中的边界框。
type BBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Detection 是在某个关键帧上命中的一条敏感信息。
// 一旦产出即不可变，归审计记录所有。
type Detection struct {
	SliceIndex int     `json:"slice_index"`
	FrameID    int     `json:"frame_id"`
	Timestamp  float64 `json:"timestamp"` // 相对切片起点（秒）
	Category   string  `json:"type"`      // 敏感类别（detect 包的固定目录）
	Text       string  `json:"text"`      // 命中的子串（入审计前截断至 100 字符）
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}

// SliceResult 是 SliceWorker 对一个切片的全部产出：
// 脱敏后切片的存储 key + 该切片内的全部检测。
// 每个切片恰好产出一次结果，由 Coordinator 与审计各消费一次。
type SliceResult struct {
	VideoID      VideoID
	SliceIndex   int
	ProcessedKey string
	Detections   []Detection

	// SkippedFrames 是因识别后端不可用而跳过的关键帧数。
	// 按契约降级为“该帧无检测”，不导致切片失败，但要可见。
	SkippedFrames int
}
