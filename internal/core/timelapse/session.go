package timelapse

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Session 一次延时摄影录制，从 Start 到成片
// 捕获路径由 Recorder 独占，外部只读快照
type Session struct {
	name string
	dir  string

	startTime      time.Time
	frameCount     atomic.Int64
	captureEnabled atomic.Bool // start_after_layer1 开启时等第 1 层后才置位
	isPaused       atomic.Bool
	isStopped      atomic.Bool
	needRecount    atomic.Bool // 外部删帧后下次写入前重扫目录

	writeMu     sync.Mutex
	lastCapture atomic.Int64 // unix nano，0 表示尚未捕获

	totalLayersHint  int
	slicer           string
	estimatedSeconds float64
	filamentTotalMM  float64
	meta             Metadata
}

// Info 状态查询用的不可变快照
type Info struct {
	Name            string    `json:"name"`
	Dir             string    `json:"dir"`
	StartTime       time.Time `json:"start_time"`
	FrameCount      int64     `json:"frame_count"`
	CaptureEnabled  bool      `json:"capture_enabled"`
	IsPaused        bool      `json:"is_paused"`
	IsStopped       bool      `json:"is_stopped"`
	LastCaptureTime time.Time `json:"last_capture_time,omitzero"`
	TotalLayersHint int       `json:"total_layers_hint,omitempty"`
	Slicer          string    `json:"slicer,omitempty"`
	YouTubeURL      string    `json:"youtube_url,omitempty"`
}

func (s *Session) Name() string { return s.name }
func (s *Session) Dir() string  { return s.dir }

func (s *Session) Info() Info {
	info := Info{
		Name:            s.name,
		Dir:             s.dir,
		StartTime:       s.startTime,
		FrameCount:      s.frameCount.Load(),
		CaptureEnabled:  s.captureEnabled.Load(),
		IsPaused:        s.isPaused.Load(),
		IsStopped:       s.isStopped.Load(),
		TotalLayersHint: s.totalLayersHint,
		Slicer:          s.slicer,
		YouTubeURL:      s.meta.YouTubeURL,
	}
	if ns := s.lastCapture.Load(); ns > 0 {
		info.LastCaptureTime = time.Unix(0, ns)
	}
	return info
}

// framePath 六位零填充的帧文件路径
func (s *Session) framePath(idx int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("frame_%06d.jpg", idx))
}

// SaveFrame 取下一个帧序号并落盘
// 取号与写入之间会话被停止时放弃写入，序号回滚保持无空洞
func (s *Session) SaveFrame(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.isStopped.Load() {
		return nil
	}
	if s.needRecount.CompareAndSwap(true, false) {
		s.recountLocked()
	}
	idx := s.frameCount.Add(1) - 1
	if s.isStopped.Load() {
		s.frameCount.Add(-1)
		return nil
	}
	if err := os.WriteFile(s.framePath(idx), data, 0o644); err != nil {
		s.frameCount.Add(-1)
		return err
	}
	s.lastCapture.Store(time.Now().UnixNano())
	return nil
}

// MarkExternalChange 外部删帧后调用，下一次写入前触发重扫
func (s *Session) MarkExternalChange() {
	s.needRecount.Store(true)
}

// Recount 按目录实际帧数重置计数器
func (s *Session) Recount() int64 {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.recountLocked()
}

func (s *Session) recountLocked() int64 {
	n := int64(len(listFrames(s.dir)))
	s.frameCount.Store(n)
	return n
}

// listFrames 目录内的帧文件名，按序号排序
func listFrames(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var frames []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, "frame_") && strings.HasSuffix(name, ".jpg") {
			frames = append(frames, name)
		}
	}
	sort.Strings(frames)
	return frames
}

// ReindexFrames 删帧后把幸存文件重命名回无空洞的连续序号
func ReindexFrames(dir string) (int64, error) {
	frames := listFrames(dir)
	for i, name := range frames {
		want := fmt.Sprintf("frame_%06d.jpg", i)
		if name == want {
			continue
		}
		if err := os.Rename(filepath.Join(dir, name), filepath.Join(dir, want)); err != nil {
			return int64(i), err
		}
	}
	return int64(len(frames)), nil
}

func hasVideo(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".mp4") {
			return true
		}
	}
	return false
}
