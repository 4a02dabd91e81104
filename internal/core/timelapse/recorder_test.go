package timelapse

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go3dp/printcam/internal/conf"
)

type fakeSnap struct {
	data []byte
	err  error
}

func (f fakeSnap) Snapshot(context.Context) ([]byte, error) {
	return f.data, f.err
}

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	var cfg conf.Bootstrap
	cfg.Timelapse.Root = t.TempDir()
	cfg.Timelapse.AutoFinalize = true
	cfg.Timelapse.LastLayerOffset = 1
	r := NewRecorder(&cfg, fakeSnap{data: []byte("jpegdata")}, nil, nil)
	r.fin.BinPath = "true" // 编码替身，立即成功退出
	return r
}

func writeFrames(t *testing.T, dir string, n int) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		p := filepath.Join(dir, fmt.Sprintf("frame_%06d.jpg", i))
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

// TestStartCreatesSanitizedDir 新会话建目录并写元数据
func TestStartCreatesSanitizedDir(t *testing.T) {
	r := newTestRecorder(t)
	name, err := r.Start(context.Background(), "My Print (v2)", "")
	if err != nil {
		t.Fatal(err)
	}
	if name != "My_Print_v2" {
		t.Errorf("name = %q, want My_Print_v2", name)
	}
	if _, err := os.Stat(filepath.Join(r.Root(), name, MetadataFileName)); err != nil {
		t.Errorf("metadata not written: %v", err)
	}
}

// TestStartCollisionSuffix 目录冲突追加 _N 后缀
func TestStartCollisionSuffix(t *testing.T) {
	r := newTestRecorder(t)
	if err := os.MkdirAll(filepath.Join(r.Root(), "job"), 0o755); err != nil {
		t.Fatal(err)
	}
	name, err := r.Start(context.Background(), "job", "")
	if err != nil {
		t.Fatal(err)
	}
	if name != "job_1" {
		t.Errorf("name = %q, want job_1", name)
	}
}

// TestResumeExistingFolder 元数据匹配且有帧无成片时续录，序号从已有帧数继续
func TestResumeExistingFolder(t *testing.T) {
	r := newTestRecorder(t)
	dir := filepath.Join(r.Root(), "job")
	writeFrames(t, dir, 50)
	md := Metadata{
		CreatedAt:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		JobFilename: "job.gcode",
	}
	if err := WriteMetadata(dir, md); err != nil {
		t.Fatal(err)
	}

	name, err := r.Start(context.Background(), "unused", "job.gcode")
	if err != nil {
		t.Fatal(err)
	}
	if name != "job" {
		t.Fatalf("name = %q, want job", name)
	}

	s, ok := r.reg.TryGet("job")
	if !ok {
		t.Fatal("session not registered")
	}
	s.captureEnabled.Store(true)
	if err := s.SaveFrame([]byte("new")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "frame_000050.jpg")); err != nil {
		t.Errorf("next frame not at index 50: %v", err)
	}
}

// TestNoResumeWithVideo 已有成片的目录不续录
func TestNoResumeWithVideo(t *testing.T) {
	r := newTestRecorder(t)
	dir := filepath.Join(r.Root(), "job")
	writeFrames(t, dir, 5)
	if err := WriteMetadata(dir, Metadata{JobFilename: "job.gcode"}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "job.mp4"), []byte("v"), 0o644); err != nil {
		t.Fatal(err)
	}

	name, err := r.Start(context.Background(), "unused", "job.gcode")
	if err != nil {
		t.Fatal(err)
	}
	if name != "job_1" {
		t.Errorf("name = %q, want fresh job_1", name)
	}
}

// TestAutoFinalizeAtLastLayer current >= total-offset 时自动成片并摘除会话
func TestAutoFinalizeAtLastLayer(t *testing.T) {
	r := newTestRecorder(t)
	name, err := r.Start(context.Background(), "tower", "")
	if err != nil {
		t.Fatal(err)
	}
	s, _ := r.reg.TryGet(name)
	s.captureEnabled.Store(true)
	for i := 0; i < 3; i++ {
		if err := s.SaveFrame([]byte("f")); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := r.NotifyPrintProgress(context.Background(), name, 100, 200); err != nil {
		t.Fatal(err)
	}
	if _, ok := r.reg.TryGet(name); !ok {
		t.Fatal("session removed too early")
	}

	if _, err := r.NotifyPrintProgress(context.Background(), name, 199, 200); err != nil {
		t.Fatal(err)
	}
	if _, ok := r.reg.TryGet(name); ok {
		t.Error("session still registered after auto finalize")
	}
	if _, err := r.NotifyPrintProgress(context.Background(), name, 200, 200); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

// TestAutoFinalizeDisabled 关闭自动成片时只标记停止
func TestAutoFinalizeDisabled(t *testing.T) {
	r := newTestRecorder(t)
	r.cfg.Timelapse.AutoFinalize = false
	name, err := r.Start(context.Background(), "tower", "")
	if err != nil {
		t.Fatal(err)
	}
	video, err := r.NotifyPrintProgress(context.Background(), name, 199, 200)
	if err != nil {
		t.Fatal(err)
	}
	if video != "" {
		t.Errorf("video = %q, want empty", video)
	}
	s, ok := r.reg.TryGet(name)
	if !ok {
		t.Fatal("session removed without auto finalize")
	}
	if !s.isStopped.Load() {
		t.Error("session not marked stopped")
	}
}

// TestPauseGating paused 状态跳过抓帧
func TestPauseGating(t *testing.T) {
	r := newTestRecorder(t)
	name, err := r.Start(context.Background(), "job", "")
	if err != nil {
		t.Fatal(err)
	}
	s, _ := r.reg.TryGet(name)
	s.captureEnabled.Store(true)

	if err := r.NotifyPrinterState(name, "paused"); err != nil {
		t.Fatal(err)
	}
	r.tick(context.Background())
	if n := s.frameCount.Load(); n != 0 {
		t.Errorf("frames while paused = %d, want 0", n)
	}

	if err := r.NotifyPrinterState(name, "printing"); err != nil {
		t.Fatal(err)
	}
	r.tick(context.Background())
	if n := s.frameCount.Load(); n != 1 {
		t.Errorf("frames after resume = %d, want 1", n)
	}
}

// TestStartAfterLayer1Gating 开启等层后首层前不抓帧
func TestStartAfterLayer1Gating(t *testing.T) {
	r := newTestRecorder(t)
	r.cfg.Timelapse.StartAfterLayer1 = true
	name, err := r.Start(context.Background(), "job", "")
	if err != nil {
		t.Fatal(err)
	}
	s, _ := r.reg.TryGet(name)

	r.tick(context.Background())
	if n := s.frameCount.Load(); n != 0 {
		t.Errorf("frames before layer 1 = %d, want 0", n)
	}

	if _, err := r.NotifyPrintProgress(context.Background(), name, 1, 200); err != nil {
		t.Fatal(err)
	}
	r.tick(context.Background())
	if n := s.frameCount.Load(); n != 1 {
		t.Errorf("frames after layer 1 = %d, want 1", n)
	}
}

// TestFrameDeletionReindex 删帧后重命名回无空洞序列并重计数
func TestFrameDeletionReindex(t *testing.T) {
	dir := t.TempDir()
	writeFrames(t, dir, 5)
	if err := os.Remove(filepath.Join(dir, "frame_000002.jpg")); err != nil {
		t.Fatal(err)
	}

	n, err := ReindexFrames(dir)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("count = %d, want 4", n)
	}
	for i := 0; i < 4; i++ {
		if _, err := os.Stat(filepath.Join(dir, fmt.Sprintf("frame_%06d.jpg", i))); err != nil {
			t.Errorf("frame %d missing after reindex: %v", i, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "frame_000004.jpg")); !os.IsNotExist(err) {
		t.Error("stale tail frame still present")
	}
}

// TestSaveFrameAbortsWhenStopped 取号与写入之间被停止则放弃写入
func TestSaveFrameAbortsWhenStopped(t *testing.T) {
	dir := t.TempDir()
	s := Session{name: "x", dir: dir}
	s.captureEnabled.Store(true)
	s.isStopped.Store(true)
	if err := s.SaveFrame([]byte("f")); err != nil {
		t.Fatal(err)
	}
	if n := s.frameCount.Load(); n != 0 {
		t.Errorf("frameCount = %d, want 0", n)
	}
	if frames := listFrames(dir); len(frames) != 0 {
		t.Errorf("frames on disk = %d, want 0", len(frames))
	}
}

// TestStopWithoutFrames 无帧会话 Stop 返回空路径
func TestStopWithoutFrames(t *testing.T) {
	r := newTestRecorder(t)
	name, err := r.Start(context.Background(), "empty", "")
	if err != nil {
		t.Fatal(err)
	}
	video, err := r.Stop(context.Background(), name)
	if err != nil {
		t.Fatal(err)
	}
	if video != "" {
		t.Errorf("video = %q, want empty", video)
	}
	if _, ok := r.reg.TryGet(name); ok {
		t.Error("session still registered after stop")
	}
}

// TestResumeSkipsUnrelatedPrefix 标签 job 不应续录 jobber，带 _N 后缀的目录仍可续录
func TestResumeSkipsUnrelatedPrefix(t *testing.T) {
	r := newTestRecorder(t)
	dir := filepath.Join(r.Root(), "jobber")
	writeFrames(t, dir, 3)
	if err := WriteMetadata(dir, Metadata{CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	name, err := r.Start(context.Background(), "job", "")
	if err != nil {
		t.Fatal(err)
	}
	if name != "job" {
		t.Errorf("name = %q, want fresh job", name)
	}

	r2 := newTestRecorder(t)
	dir2 := filepath.Join(r2.Root(), "job_1")
	writeFrames(t, dir2, 3)
	if err := WriteMetadata(dir2, Metadata{CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	name2, err := r2.Start(context.Background(), "job", "")
	if err != nil {
		t.Fatal(err)
	}
	if name2 != "job_1" {
		t.Errorf("name = %q, want job_1 resume", name2)
	}
}
