// Package conf 启动配置，TOML 格式，首次运行写出默认配置
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration 支持 "30s" 字符串形式的时长配置
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

type Bootstrap struct {
	Debug        bool   `toml:"debug"`
	BuildVersion string `toml:"-"`
	ConfigDir    string `toml:"-"`

	Server    Server    `toml:"server"`
	Stream    Stream    `toml:"stream"`
	Overlay   Overlay   `toml:"overlay"`
	Audio     Audio     `toml:"audio"`
	Broadcast Broadcast `toml:"broadcast"`
	Timelapse Timelapse `toml:"timelapse"`
	Moonraker Moonraker `toml:"moonraker"`
	Data      Data      `toml:"data"`
}

type Server struct {
	HTTP ServerHTTP `toml:"http"`
}

type ServerHTTP struct {
	Port      int    `toml:"port"`
	JwtSecret string `toml:"jwt_secret"`
}

// Stream 上游摄像头配置，CameraURL 为空时使用合成黑帧源
type Stream struct {
	CameraURL      string `toml:"camera_url"`   // mjpeg-streamer 地址，如 http://127.0.0.1:8080/?action=stream
	SnapshotURL    string `toml:"snapshot_url"` // 可选，留空时从 CameraURL 推导 ?action=snapshot
	SyntheticWidth int    `toml:"synthetic_width"`
	SyntheticHght  int    `toml:"synthetic_height"`
	SyntheticFPS   int    `toml:"synthetic_fps"`
}

// Overlay 遥测文字叠加层
type Overlay struct {
	Template   string   `toml:"template"`
	Interval   Duration `toml:"interval"` // 最小 200ms
	FontSize   int      `toml:"font_size"`
	BoxHeight  int      `toml:"box_height"` // 0 表示按行数自动计算
	X          int      `toml:"x"`          // -1 表示自动布局
	Y          int      `toml:"y"`
	Color      string   `toml:"color"`
	Background string   `toml:"background"`
}

type Audio struct {
	Enabled     bool   `toml:"enabled"`
	Folder      string `toml:"folder"`
	Bitrate     string `toml:"bitrate"`     // 如 128k
	SampleRate  int    `toml:"sample_rate"` // 如 44100
	MaxUploadMB int64  `toml:"max_upload_mb"`
}

// Broadcast RTMP 推送目标
type Broadcast struct {
	IngestHost    string `toml:"ingest_host"` // 如 rtmp://a.rtmp.youtube.com/live2
	StreamKey     string `toml:"stream_key"`
	MaxReconnects int    `toml:"max_reconnects"`
}

type Timelapse struct {
	Root               string   `toml:"root"`
	Interval           Duration `toml:"interval"`
	FrameRate          int      `toml:"frame_rate"`
	PadSeconds         int      `toml:"pad_seconds"` // 成片末尾定格时长
	AutoFinalize       bool     `toml:"auto_finalize"`
	LastLayerOffset    int      `toml:"last_layer_offset"`
	StartAfterLayer1   bool     `toml:"start_after_layer1"` // 首层完成后才开始采帧
	DiskUsageThreshold float64  `toml:"disk_usage_threshold"`
	RetainDays         int      `toml:"retain_days"` // 0 表示永久保留成片
}

type Moonraker struct {
	URL    string `toml:"url"`
	APIKey string `toml:"api_key"`
}

type Data struct {
	Database Database `toml:"database"`
}

type Database struct {
	Dsn             string   `toml:"dsn"`
	MaxIdleConns    int      `toml:"max_idle_conns"`
	MaxOpenConns    int      `toml:"max_open_conns"`
	ConnMaxLifetime Duration `toml:"conn_max_lifetime"`
	SlowThreshold   Duration `toml:"slow_threshold"`
}

// DefaultTemplate 叠加层默认模板
const DefaultTemplate = "{slicer} {printing_time}\n" +
	"Nozzle:{nozzle:0}°C Bed:{bed:0}°C {progress:0.0}% {layers}\n" +
	"Speed:{speed:0}mm/s Flow:{flow:0.0}mm³/s ETA:{eta:HH:mm}"

// SetupConfig 加载配置文件，不存在时写出默认配置
func SetupConfig(path string) (*Bootstrap, error) {
	bc := defaultBootstrap()
	bc.ConfigDir = filepath.Dir(path)

	b, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := writeConfig(path, bc); err != nil {
			return nil, err
		}
		return bc, nil
	}
	if err := toml.Unmarshal(b, bc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	normalize(bc)
	return bc, nil
}

func defaultBootstrap() *Bootstrap {
	return &Bootstrap{
		Server: Server{HTTP: ServerHTTP{Port: 8088, JwtSecret: "printcam"}},
		Stream: Stream{
			SyntheticWidth: 640,
			SyntheticHght:  480,
			SyntheticFPS:   2,
		},
		Overlay: Overlay{
			Template:   DefaultTemplate,
			Interval:   Duration(time.Second),
			FontSize:   20,
			X:          -1,
			Y:          -1,
			Color:      "white",
			Background: "black@0.5",
		},
		Audio: Audio{
			Folder:      "audio",
			Bitrate:     "128k",
			SampleRate:  44100,
			MaxUploadMB: 200,
		},
		Broadcast: Broadcast{MaxReconnects: 6},
		Timelapse: Timelapse{
			Root:               "timelapse",
			Interval:           Duration(60 * time.Second),
			FrameRate:          30,
			PadSeconds:         5,
			AutoFinalize:       true,
			LastLayerOffset:    1,
			DiskUsageThreshold: 95,
		},
		Moonraker: Moonraker{URL: "http://127.0.0.1:7125"},
		Data: Data{Database: Database{
			Dsn:             "printcam.db",
			MaxIdleConns:    10,
			MaxOpenConns:    50,
			ConnMaxLifetime: Duration(6 * time.Hour),
			SlowThreshold:   Duration(200 * time.Millisecond),
		}},
	}
}

// normalize 约束非法值，避免下游组件各自兜底
func normalize(bc *Bootstrap) {
	if bc.Overlay.Interval.Duration() < 200*time.Millisecond {
		bc.Overlay.Interval = Duration(200 * time.Millisecond)
	}
	if bc.Timelapse.Interval.Duration() < time.Second {
		bc.Timelapse.Interval = Duration(60 * time.Second)
	}
	if bc.Timelapse.FrameRate <= 0 {
		bc.Timelapse.FrameRate = 30
	}
	if bc.Timelapse.LastLayerOffset < 0 {
		bc.Timelapse.LastLayerOffset = 1
	}
	if bc.Audio.SampleRate <= 0 {
		bc.Audio.SampleRate = 44100
	}
	if bc.Audio.Bitrate == "" {
		bc.Audio.Bitrate = "128k"
	}
	if bc.Audio.MaxUploadMB <= 0 {
		bc.Audio.MaxUploadMB = 200
	}
	if bc.Broadcast.MaxReconnects <= 0 {
		bc.Broadcast.MaxReconnects = 6
	}
	if bc.Stream.SyntheticFPS <= 0 || bc.Stream.SyntheticFPS > 5 {
		bc.Stream.SyntheticFPS = 2
	}
}

func writeConfig(path string, bc *Bootstrap) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	b, err := toml.Marshal(bc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
