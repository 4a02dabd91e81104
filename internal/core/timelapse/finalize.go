package timelapse

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go3dp/printcam/pkg/ffkit"
)

const (
	defaultFrameRate  = 30
	defaultPadSeconds = 5
)

// Finalizer 把帧序列编码成延时视频
type Finalizer struct {
	FrameRate  int
	PadSeconds int
	BinPath    string // 测试注入
}

// Finalize 产出 <dir>/<base>.mp4，序号形式失败后退回 glob 形式
func (f *Finalizer) Finalize(ctx context.Context, dir string) (string, error) {
	if len(listFrames(dir)) == 0 {
		return "", fmt.Errorf("timelapse: no frames in %s", dir)
	}
	out := filepath.Join(dir, filepath.Base(dir)+".mp4")

	if err := f.encode(ctx, f.sequenceArgs(dir, out)); err != nil {
		slog.WarnContext(ctx, "序号编码失败，尝试 glob 方式", "dir", dir, "err", err)
		_ = os.Remove(out)
		if err := f.encode(ctx, f.globArgs(dir, out)); err != nil {
			return "", err
		}
	}
	return out, nil
}

func (f *Finalizer) rate() int {
	if f.FrameRate > 0 {
		return f.FrameRate
	}
	return defaultFrameRate
}

func (f *Finalizer) pad() int {
	if f.PadSeconds > 0 {
		return f.PadSeconds
	}
	return defaultPadSeconds
}

func (f *Finalizer) commonOut(out string) []string {
	return []string{
		"-vf", fmt.Sprintf("tpad=stop_mode=clone:stop_duration=%d", f.pad()),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-y", out,
	}
}

func (f *Finalizer) sequenceArgs(dir, out string) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-framerate", strconv.Itoa(f.rate()),
		"-start_number", "0",
		"-i", filepath.Join(dir, "frame_%06d.jpg"),
	}
	return append(args, f.commonOut(out)...)
}

func (f *Finalizer) globArgs(dir, out string) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-framerate", strconv.Itoa(f.rate()),
		"-pattern_type", "glob",
		"-i", filepath.Join(dir, "frame_*.jpg"),
	}
	return append(args, f.commonOut(out)...)
}

func (f *Finalizer) encode(ctx context.Context, args []string) error {
	proc, err := ffkit.Start(ffkit.Config{
		Name:    "timelapse-encode",
		Args:    args,
		BinPath: f.BinPath,
	})
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { proc.KillTree() })
	defer stop()

	if err := proc.Wait(); err != nil {
		if logs := proc.Log(); len(logs) > 0 {
			return fmt.Errorf("%w: %s", err, strings.Join(logs, "; "))
		}
		return err
	}
	return nil
}
