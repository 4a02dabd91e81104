// Package mix 将叠加后的 MJPEG 视频与广播音频合成单路 fMP4
package mix

import (
	"fmt"
	"io"

	"github.com/go3dp/printcam/internal/conf"
	"github.com/go3dp/printcam/pkg/ffkit"
)

// Core 按请求起独立的合成进程，互不共享
type Core struct {
	cfg *conf.Bootstrap
}

func NewCore(cfg *conf.Bootstrap) *Core {
	return &Core{cfg: cfg}
}

// videoURL 回环拉取本服务的叠加流，避免重复叠加逻辑
func (c *Core) videoURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d/stream/overlay", c.cfg.Server.HTTP.Port)
}

func (c *Core) audioURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d/stream/audio", c.cfg.Server.HTTP.Port)
}

// BuildArgs 碎片化 MP4 参数，浏览器可边收边播
func (c *Core) BuildArgs() []string {
	a := c.cfg.Audio
	bitrate := a.Bitrate
	if bitrate == "" {
		bitrate = "128k"
	}
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "mjpeg", "-i", c.videoURL(),
	}
	withAudio := a.Enabled
	if withAudio {
		args = append(args, "-f", "mp3", "-i", c.audioURL())
	}
	args = append(args,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-pix_fmt", "yuv420p",
	)
	if withAudio {
		args = append(args,
			"-c:a", "aac",
			"-b:a", bitrate,
			"-shortest",
		)
	} else {
		args = append(args, "-an")
	}
	return append(args,
		"-movflags", "+frag_keyframe+empty_moov",
		"-f", "mp4",
		"pipe:1",
	)
}

// Open 启动合成进程，调用方读完或断开后必须 Close
func (c *Core) Open() (io.ReadCloser, error) {
	proc, err := ffkit.Start(ffkit.Config{
		Name: "mix",
		Args: c.BuildArgs(),
	})
	if err != nil {
		return nil, err
	}
	return &session{proc: proc}, nil
}

type session struct {
	proc *ffkit.Process
}

func (s *session) Read(p []byte) (int, error) {
	return s.proc.Stdout().Read(p)
}

func (s *session) Close() error {
	s.proc.KillTree()
	return s.proc.Wait()
}
