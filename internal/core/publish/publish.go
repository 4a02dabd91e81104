// Package publish 将合成流推送到 RTMP 接收端（直播平台）
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go3dp/printcam/internal/conf"
	"github.com/go3dp/printcam/pkg/ffkit"
	"github.com/google/uuid"
)

// State 推流生命周期
type State string

const (
	StateIdle         State = "idle"
	StateStarting     State = "starting"
	StatePublishing   State = "publishing"
	StateReconnecting State = "reconnecting"
	StateStopping     State = "stopping"
)

const (
	reconnectDelayMin = 500 * time.Millisecond
	reconnectDelayMax = 10 * time.Second

	// 推流进程存活超过该时长视为一次成功发布，重连计数清零
	stableAfter = 30 * time.Second
)

// DefaultMaxReconnects 连续失败达到上限后回到 idle
const DefaultMaxReconnects = 6

// Status 对外暴露的推流状态
type Status struct {
	State     State     `json:"state"`
	RunID     string    `json:"run_id,omitempty"`
	Target    string    `json:"target,omitempty"`
	Attempts  int       `json:"attempts"`
	StartedAt time.Time `json:"started_at,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

// Core 单路 RTMP 推流的状态机
// Start/Stop 可并发调用，重连由内部 goroutine 驱动
type Core struct {
	cfg *conf.Bootstrap

	m         sync.Mutex
	state     State
	runID     string
	target    string
	attempts  int
	startedAt time.Time
	lastErr   string
	cancel    context.CancelFunc
	doneCh    chan struct{}

	// 测试注入
	binPath string
}

func NewCore(cfg *conf.Bootstrap) *Core {
	return &Core{cfg: cfg, state: StateIdle}
}

// Target 拼接推流地址，streamKey 为空时用配置中的 key
func (c *Core) Target(streamKey string) (string, error) {
	host := strings.TrimRight(c.cfg.Broadcast.IngestHost, "/")
	if host == "" {
		return "", fmt.Errorf("publish: ingest host not configured")
	}
	key := streamKey
	if key == "" {
		key = c.cfg.Broadcast.StreamKey
	}
	if key == "" {
		return "", fmt.Errorf("publish: stream key not configured")
	}
	if !strings.Contains(host, "://") {
		host = "rtmp://" + host
	}
	return host + "/" + key, nil
}

// Start 进入 starting 并启动推流循环，重复调用报错
func (c *Core) Start(streamKey string) error {
	target, err := c.Target(streamKey)
	if err != nil {
		return err
	}

	c.m.Lock()
	if c.state != StateIdle {
		c.m.Unlock()
		return fmt.Errorf("publish: already %s", c.state)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.state = StateStarting
	c.runID = uuid.NewString()
	c.target = target
	c.attempts = 0
	c.lastErr = ""
	c.startedAt = time.Now()
	c.cancel = cancel
	c.doneCh = make(chan struct{})
	done := c.doneCh
	c.m.Unlock()

	slog.Info("推流已启动", "run_id", c.runID, "target", target)
	go func() {
		defer close(done)
		c.run(ctx, target)
	}()
	return nil
}

// Stop 取消推流与重连，阻塞到进程退出
func (c *Core) Stop() {
	c.m.Lock()
	if c.state == StateIdle {
		c.m.Unlock()
		return
	}
	c.state = StateStopping
	cancel := c.cancel
	done := c.doneCh
	c.m.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	c.m.Lock()
	c.state = StateIdle
	c.runID = ""
	c.target = ""
	c.m.Unlock()
}

func (c *Core) Status() Status {
	c.m.Lock()
	defer c.m.Unlock()
	return Status{
		State:     c.state,
		RunID:     c.runID,
		Target:    c.target,
		Attempts:  c.attempts,
		StartedAt: c.startedAt,
		LastError: c.lastErr,
	}
}

func (c *Core) maxReconnects() int {
	if n := c.cfg.Broadcast.MaxReconnects; n > 0 {
		return n
	}
	return DefaultMaxReconnects
}

// run 推流主循环，断开后指数退避重连
func (c *Core) run(ctx context.Context, target string) {
	delay := reconnectDelayMin
	for ctx.Err() == nil {
		began := time.Now()
		err := c.publishOnce(ctx, target)
		if ctx.Err() != nil {
			return
		}

		c.m.Lock()
		if time.Since(began) >= stableAfter {
			c.attempts = 0
			delay = reconnectDelayMin
		}
		c.attempts++
		if err != nil {
			c.lastErr = err.Error()
		} else {
			c.lastErr = "connection closed"
		}
		if c.attempts > c.maxReconnects() {
			c.state = StateIdle
			c.runID = ""
			c.target = ""
			c.m.Unlock()
			slog.Error("推流重连次数耗尽", "target", target)
			return
		}
		c.state = StateReconnecting
		c.m.Unlock()
		slog.Warn("推流断开，准备重连", "target", target, "delay", delay, "err", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, reconnectDelayMax)
	}
}

// publishOnce 起一个推流进程并等待其退出
func (c *Core) publishOnce(ctx context.Context, target string) error {
	proc, err := ffkit.Start(ffkit.Config{
		Name:    "rtmp-publish",
		Args:    c.buildArgs(target),
		BinPath: c.binPath,
	})
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { proc.Stop() })
	defer stop()

	c.m.Lock()
	if c.state == StateStarting || c.state == StateReconnecting {
		c.state = StatePublishing
	}
	c.m.Unlock()

	if err := proc.Wait(); err != nil {
		if logs := proc.Log(); len(logs) > 0 {
			return fmt.Errorf("%w: %s", err, logs[len(logs)-1])
		}
		return err
	}
	return nil
}

func (c *Core) buildArgs(target string) []string {
	port := c.cfg.Server.HTTP.Port
	a := c.cfg.Audio
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "mjpeg", "-i", fmt.Sprintf("http://127.0.0.1:%d/stream/overlay", port),
	}
	if a.Enabled {
		args = append(args, "-f", "mp3", "-i", fmt.Sprintf("http://127.0.0.1:%d/stream/audio", port))
	} else {
		// RTMP 平台普遍要求音轨，补一路静音
		args = append(args, "-f", "lavfi", "-i", "anullsrc=r=44100:cl=stereo")
	}
	return append(args,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-pix_fmt", "yuv420p",
		"-g", "60",
		"-c:a", "aac",
		"-b:a", "128k",
		"-f", "flv",
		target,
	)
}
