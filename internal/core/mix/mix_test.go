package mix

import (
	"strings"
	"testing"

	"github.com/go3dp/printcam/internal/conf"
)

func testConf(audioOn bool) *conf.Bootstrap {
	var cfg conf.Bootstrap
	cfg.Server.HTTP.Port = 8088
	cfg.Audio.Enabled = audioOn
	cfg.Audio.Bitrate = "96k"
	return &cfg
}

// TestBuildArgsWithAudio 启用音频时合成双输入的碎片化 MP4
func TestBuildArgsWithAudio(t *testing.T) {
	args := strings.Join(NewCore(testConf(true)).BuildArgs(), " ")
	for _, want := range []string{
		"-f mjpeg -i http://127.0.0.1:8088/stream/overlay",
		"-f mp3 -i http://127.0.0.1:8088/stream/audio",
		"-c:a aac",
		"-b:a 96k",
		"-movflags +frag_keyframe+empty_moov",
		"-f mp4 pipe:1",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("args missing %q: %s", want, args)
		}
	}
}

// TestBuildArgsVideoOnly 关闭音频时只有视频输入且带 -an
func TestBuildArgsVideoOnly(t *testing.T) {
	args := strings.Join(NewCore(testConf(false)).BuildArgs(), " ")
	if strings.Contains(args, "/stream/audio") {
		t.Errorf("unexpected audio input: %s", args)
	}
	if !strings.Contains(args, "-an") {
		t.Errorf("args missing -an: %s", args)
	}
}
