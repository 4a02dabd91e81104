package audio

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go3dp/printcam/internal/conf"
	"github.com/go3dp/printcam/pkg/ffkit"
)

const (
	chunkSize  = 16 << 10 // 每块 16KiB
	chunkDepth = 64       // 每个订阅者的缓冲块数

	restartDelayMin = 500 * time.Millisecond
	restartDelayMax = 5 * time.Second

	// 编码器存活超过该时长视为一次正常播出，退避计时清零
	stableAfter = 30 * time.Second
)

// subscriber 单个下游连接的有界缓冲，写满丢最旧
type subscriber struct {
	ch      chan []byte
	dropped atomic.Int64
}

// Broadcast 单编码器多订阅者的 MP3 广播
// 编码器进程常驻，曲目切换与开关通过事件总线打断重启
type Broadcast struct {
	cfg    *conf.Bootstrap
	player *Player
	bus    *Bus

	m       sync.RWMutex
	subs    map[uint64]*subscriber
	nextID  uint64
	enabled atomic.Bool

	procMu sync.Mutex
	proc   *ffkit.Process

	// 主动打断（切歌、开关）与异常退出分开对待，前者不退避
	interrupted atomic.Bool

	restarts    atomic.Int64
	bytesOut    atomic.Int64
	lastRestart atomic.Int64 // unixnano
}

func NewBroadcast(cfg *conf.Bootstrap, player *Player, bus *Bus) *Broadcast {
	b := Broadcast{
		cfg:    cfg,
		player: player,
		bus:    bus,
		subs:   make(map[uint64]*subscriber),
	}
	b.enabled.Store(cfg.Audio.Enabled)
	return &b
}

// Run 编码器监督循环，ctx 取消后退出
func (b *Broadcast) Run(ctx context.Context) {
	go b.watchEvents(ctx)

	delay := restartDelayMin
	for ctx.Err() == nil {
		began := time.Now()
		path, natural := b.runEncoderOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if natural {
			// 自然播完推进队列，立即起下一段
			if path != "" && !b.player.OnTrackComplete() {
				slog.InfoContext(ctx, "播放队列结束")
			}
			delay = restartDelayMin
			continue
		}
		wait, next, immediate := b.afterExit(delay, time.Since(began))
		delay = next
		b.restarts.Add(1)
		if immediate {
			// 切歌或开关触发的重启，马上按最新状态换源
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// afterExit 计算非自然退出后的重启策略
// 主动打断立即重启，稳定长跑视为恢复，其余按指数退避
func (b *Broadcast) afterExit(prev, ran time.Duration) (wait, next time.Duration, immediate bool) {
	if b.interrupted.Swap(false) {
		return 0, restartDelayMin, true
	}
	if ran >= stableAfter {
		prev = restartDelayMin
	}
	return prev, min(prev*2, restartDelayMax), false
}

// runEncoderOnce 起一个编码器进程并搬运输出，返回播放的路径与是否自然结束
func (b *Broadcast) runEncoderOnce(ctx context.Context) (string, bool) {
	path := ""
	if b.enabled.Load() {
		if cur := b.player.Current(); cur != nil {
			path = cur.Path
		}
	}

	proc, err := ffkit.Start(ffkit.Config{
		Name: "audio-encoder",
		Args: b.encoderArgs(path),
	})
	if err != nil {
		slog.ErrorContext(ctx, "音频编码器启动失败", "err", err)
		if path != "" {
			b.bus.Publish(Event{Kind: TrackEnded, Path: path, Reason: EndError})
		}
		return path, false
	}
	b.procMu.Lock()
	b.proc = proc
	b.procMu.Unlock()
	b.lastRestart.Store(time.Now().UnixNano())
	defer func() {
		b.procMu.Lock()
		b.proc = nil
		b.procMu.Unlock()
		proc.Stop()
	}()

	stop := context.AfterFunc(ctx, func() { proc.KillTree() })
	defer stop()

	buf := make([]byte, chunkSize)
	for {
		n, err := proc.Stdout().Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			b.fanout(chunk)
		}
		if err != nil {
			break
		}
	}
	_ = proc.Wait()
	// 静音源不会自退，退出码 0 视为整曲播完
	return path, path != "" && proc.ExitCode() == 0
}

// encoderArgs 空路径时产出静音 MP3，保持下游连接不断
func (b *Broadcast) encoderArgs(path string) []string {
	a := conf.Audio{}
	if b.cfg != nil {
		a = b.cfg.Audio
	}
	bitrate := a.Bitrate
	if bitrate == "" {
		bitrate = "128k"
	}
	rate := a.SampleRate
	if rate <= 0 {
		rate = 44100
	}
	args := []string{"-hide_banner", "-loglevel", "error", "-re"}
	if path == "" {
		args = append(args, "-f", "lavfi", "-i", "anullsrc=r="+strconv.Itoa(rate)+":cl=stereo")
	} else {
		args = append(args, "-i", path)
	}
	return append(args,
		"-vn",
		"-acodec", "libmp3lame",
		"-b:a", bitrate,
		"-ar", strconv.Itoa(rate),
		"-f", "mp3",
		"pipe:1",
	)
}

// watchEvents 消费总线事件，曲目切换与开关变化都通过杀当前进程让监督循环换源
func (b *Broadcast) watchEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.bus.C():
			switch ev.Kind {
			case InterruptRequested:
				b.InterruptEncoder()
			case EnabledChanged:
				b.enabled.Store(ev.Enabled)
				b.InterruptEncoder()
			}
		}
	}
}

// InterruptEncoder 杀掉当前编码器进程，监督循环会按最新状态重启
func (b *Broadcast) InterruptEncoder() {
	b.procMu.Lock()
	proc := b.proc
	b.procMu.Unlock()
	if proc != nil {
		b.interrupted.Store(true)
		proc.KillTree()
	}
}

// ApplyEnabledState 开关广播，关闭后输出静音而不是断流
func (b *Broadcast) ApplyEnabledState(on bool) {
	b.bus.Publish(Event{Kind: EnabledChanged, Enabled: on})
}

func (b *Broadcast) Enabled() bool {
	return b.enabled.Load()
}

func (b *Broadcast) fanout(chunk []byte) {
	b.bytesOut.Add(int64(len(chunk)))
	b.m.RLock()
	defer b.m.RUnlock()
	for _, s := range b.subs {
		for {
			select {
			case s.ch <- chunk:
			default:
				// 缓冲满，丢最旧一块再试
				select {
				case <-s.ch:
					s.dropped.Add(1)
				default:
				}
				continue
			}
			break
		}
	}
}

func (b *Broadcast) subscribe() (uint64, *subscriber) {
	b.m.Lock()
	defer b.m.Unlock()
	b.nextID++
	id := b.nextID
	s := &subscriber{ch: make(chan []byte, chunkDepth)}
	b.subs[id] = s
	return id, s
}

func (b *Broadcast) unsubscribe(id uint64) {
	b.m.Lock()
	delete(b.subs, id)
	b.m.Unlock()
}

// Stream 将广播写入 w，直到 ctx 取消或写失败
func (b *Broadcast) Stream(ctx context.Context, w io.Writer) error {
	id, s := b.subscribe()
	defer b.unsubscribe(id)

	flusher, _ := w.(interface{ Flush() })
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk := <-s.ch:
			if _, err := w.Write(chunk); err != nil {
				return err
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

// Status 广播侧指标
type Status struct {
	Enabled     bool      `json:"enabled"`
	Subscribers int       `json:"subscribers"`
	Restarts    int64     `json:"restarts"`
	Dropped     int64     `json:"dropped"`
	BytesOut    int64     `json:"bytes_out"`
	LastRestart time.Time `json:"last_restart,omitzero"`
	Current     *Track    `json:"current,omitempty"`
}

func (b *Broadcast) Status() Status {
	b.m.RLock()
	n := len(b.subs)
	var dropped int64
	for _, s := range b.subs {
		dropped += s.dropped.Load()
	}
	b.m.RUnlock()
	st := Status{
		Enabled:     b.enabled.Load(),
		Subscribers: n,
		Restarts:    b.restarts.Load(),
		Dropped:     dropped,
		BytesOut:    b.bytesOut.Load(),
		Current:     b.player.Current(),
	}
	if v := b.lastRestart.Load(); v > 0 {
		st.LastRestart = time.Unix(0, v)
	}
	return st
}
