package timelapse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go3dp/printcam/internal/conf"
	"github.com/go3dp/printcam/pkg/moonraker"
	"github.com/shirou/gopsutil/v4/disk"
)

// ErrSessionNotFound 会话不在注册表中
var ErrSessionNotFound = errors.New("timelapse: session not found")

// Snapshotter 单帧 JPEG 来源
type Snapshotter interface {
	Snapshot(ctx context.Context) ([]byte, error)
}

// Telemetry 打印任务元信息来源，可为 nil
type Telemetry interface {
	GetFileMetadata(ctx context.Context, filename string) (*moonraker.FileMetadata, error)
}

// Recorder 延时摄影调度器与会话生命周期管理
type Recorder struct {
	cfg      *conf.Bootstrap
	reg      *Registry
	snap     Snapshotter
	tele     Telemetry
	fin      *Finalizer
	catalog  *Catalog // 可为 nil，成片后登记
	ticking  atomic.Bool
	lastTick atomic.Int64
}

func NewRecorder(cfg *conf.Bootstrap, snap Snapshotter, tele Telemetry, catalog *Catalog) *Recorder {
	return &Recorder{
		cfg:  cfg,
		reg:  NewRegistry(),
		snap: snap,
		tele: tele,
		fin: &Finalizer{
			FrameRate:  cfg.Timelapse.FrameRate,
			PadSeconds: cfg.Timelapse.PadSeconds,
		},
		catalog: catalog,
	}
}

func (r *Recorder) Root() string {
	return r.cfg.Timelapse.Root
}

// Run 共享调度循环，有活动会话时按周期逐个抓帧
// 上一轮未结束时跳过本轮，保证不重叠
func (r *Recorder) Run(ctx context.Context) {
	interval := r.cfg.Timelapse.Interval.Duration()
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !r.ticking.CompareAndSwap(false, true) {
				continue
			}
			r.tick(ctx)
			r.lastTick.Store(time.Now().UnixNano())
			r.ticking.Store(false)
		}
	}
}

// tick 遍历注册表快照抓帧，门控顺序：已停止、等层、已暂停
func (r *Recorder) tick(ctx context.Context) {
	sessions := r.reg.Snapshot()
	if len(sessions) == 0 {
		return
	}
	if r.diskFull() {
		slog.WarnContext(ctx, "磁盘使用率超过阈值，跳过本轮抓帧")
		return
	}
	for _, s := range sessions {
		if s.isStopped.Load() {
			continue
		}
		if r.cfg.Timelapse.StartAfterLayer1 && !s.captureEnabled.Load() {
			continue
		}
		if s.isPaused.Load() {
			continue
		}
		r.captureOne(ctx, s)
	}
}

func (r *Recorder) captureOne(ctx context.Context, s *Session) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	data, err := r.snap.Snapshot(cctx)
	if err != nil {
		slog.ErrorContext(ctx, "抓帧失败", "session", s.name, "err", err)
		return
	}
	if err := s.SaveFrame(data); err != nil {
		slog.ErrorContext(ctx, "帧写入失败", "session", s.name, "err", err)
	}
}

// diskFull 阈值为 0 时不做限制
func (r *Recorder) diskFull() bool {
	threshold := r.cfg.Timelapse.DiskUsageThreshold
	if threshold <= 0 {
		return false
	}
	usage, err := disk.Usage(r.cfg.Timelapse.Root)
	if err != nil {
		return false
	}
	return usage.UsedPercent >= threshold
}

// Start 开始或续录一个会话，返回实际会话名
// 续录条件：已有目录的 .metadata 匹配任务文件名，且有帧、无成片
func (r *Recorder) Start(ctx context.Context, label, jobFilename string) (string, error) {
	base := label
	if jobFilename != "" {
		base = jobFilename
	}
	san := SanitizeName(base)

	if name, dir, ok := r.findResumable(san, jobFilename); ok {
		s := r.newSession(name, dir, jobFilename)
		s.frameCount.Store(int64(len(listFrames(dir))))
		if md, err := ReadMetadata(dir); err == nil {
			s.meta = md
			if !md.CreatedAt.IsZero() {
				s.startTime = md.CreatedAt
			}
		}
		if !r.reg.TryAdd(name, s) {
			return "", fmt.Errorf("timelapse: session %q already recording", name)
		}
		slog.InfoContext(ctx, "续录已有会话", "name", name, "frames", s.frameCount.Load())
		r.fillJobDetails(ctx, s, jobFilename)
		return name, nil
	}

	dir, name, err := r.allocateDir(san)
	if err != nil {
		return "", err
	}
	s := r.newSession(name, dir, jobFilename)
	if !r.reg.TryAdd(name, s) {
		_ = os.Remove(dir)
		return "", fmt.Errorf("timelapse: session %q already recording", name)
	}
	if err := WriteMetadata(dir, s.meta); err != nil {
		slog.WarnContext(ctx, "元数据写入失败", "dir", dir, "err", err)
	}
	r.fillJobDetails(ctx, s, jobFilename)
	return name, nil
}

func (r *Recorder) newSession(name, dir, jobFilename string) *Session {
	s := Session{
		name:      name,
		dir:       dir,
		startTime: time.Now().UTC(),
		meta: Metadata{
			CreatedAt:   time.Now().UTC(),
			JobFilename: jobFilename,
		},
	}
	// 不等层时立即放行抓帧
	s.captureEnabled.Store(!r.cfg.Timelapse.StartAfterLayer1)
	return &s
}

// fillJobDetails 从打印机侧拉取切片器与预估时长，失败不影响录制
func (r *Recorder) fillJobDetails(ctx context.Context, s *Session, jobFilename string) {
	if r.tele == nil || jobFilename == "" {
		return
	}
	md, err := r.tele.GetFileMetadata(ctx, jobFilename)
	if err != nil || md == nil {
		return
	}
	s.slicer = md.Slicer
	if md.EstimatedTime != nil {
		s.estimatedSeconds = *md.EstimatedTime
	}
	if md.FilamentTotal != nil {
		s.filamentTotalMM = *md.FilamentTotal
	}
	if md.LayerCount != nil && *md.LayerCount > 0 {
		s.totalLayersHint = *md.LayerCount
	}
}

// findResumable 在根目录下找可续录的文件夹
func (r *Recorder) findResumable(san, jobFilename string) (name, dir string, ok bool) {
	entries, err := os.ReadDir(r.cfg.Timelapse.Root)
	if err != nil {
		return "", "", false
	}
	type cand struct {
		name string
		dir  string
	}
	var exact, loose []cand
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		d := filepath.Join(r.cfg.Timelapse.Root, e.Name())
		md, err := ReadMetadata(d)
		if err != nil {
			continue
		}
		match := false
		if jobFilename != "" {
			match = md.JobFilename == jobFilename
		} else {
			match = md.JobFilename == "" && matchesSessionName(e.Name(), san)
		}
		if !match {
			continue
		}
		if len(listFrames(d)) == 0 || hasVideo(d) {
			continue
		}
		c := cand{name: e.Name(), dir: d}
		if e.Name() == san {
			exact = append(exact, c)
		} else {
			loose = append(loose, c)
		}
	}
	pick := exact
	if len(pick) == 0 {
		pick = loose
	}
	if len(pick) == 0 {
		return "", "", false
	}
	if len(pick) > 1 {
		slog.Warn("多个目录可续录，取最先匹配", "name", san, "count", len(pick))
	}
	return pick[0].name, pick[0].dir, true
}

// matchesSessionName 目录名等于 san 或冲突后缀形式 san_N
// 前缀匹配会把 job 误配到 jobber 这类无关目录
func matchesSessionName(name, san string) bool {
	if name == san {
		return true
	}
	rest, ok := strings.CutPrefix(name, san+"_")
	if !ok || rest == "" {
		return false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// allocateDir 目录冲突时追加 _N 后缀，N 取第一个空位
func (r *Recorder) allocateDir(san string) (dir, name string, err error) {
	root := r.cfg.Timelapse.Root
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", "", err
	}
	name = san
	for n := 1; ; n++ {
		dir = filepath.Join(root, name)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			break
		}
		name = fmt.Sprintf("%s_%d", san, n)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}
	return dir, name, nil
}

// Stop 停止会话并编码成片，无帧时返回空路径
func (r *Recorder) Stop(ctx context.Context, name string) (string, error) {
	s, ok := r.reg.TryGet(name)
	if !ok {
		return "", ErrSessionNotFound
	}
	s.isStopped.Store(true)
	// 拿一次写锁，等在途抓帧观察到停止标记
	s.writeMu.Lock()
	frames := s.frameCount.Load()
	s.writeMu.Unlock()
	r.reg.TryRemove(name)

	if frames == 0 {
		return "", nil
	}
	video, err := r.fin.Finalize(ctx, s.dir)
	if err != nil {
		return "", err
	}
	if r.catalog != nil {
		if err := r.catalog.Register(ctx, s, video, r.fin.rate(), r.fin.pad()); err != nil {
			slog.WarnContext(ctx, "成片登记失败", "video", video, "err", err)
		}
	}
	return video, nil
}

// StopAll 停机时结束所有会话
func (r *Recorder) StopAll(ctx context.Context) {
	for _, name := range r.reg.Keys() {
		if _, err := r.Stop(ctx, name); err != nil && !errors.Is(err, ErrSessionNotFound) {
			slog.ErrorContext(ctx, "停止会话失败", "session", name, "err", err)
		}
	}
}

// NotifyPrintProgress 层进度回调
// 到达 total-offset 层时：auto_finalize 开启则就地成片并返回视频路径，
// 否则只标记停止，成片交给后续显式调用
func (r *Recorder) NotifyPrintProgress(ctx context.Context, name string, currentLayer, totalLayers int) (string, error) {
	s, ok := r.reg.TryGet(name)
	if !ok {
		return "", ErrSessionNotFound
	}
	if currentLayer >= 1 {
		s.captureEnabled.Store(true)
	}
	total := totalLayers
	if total <= 0 {
		total = s.totalLayersHint
	}
	offset := r.cfg.Timelapse.LastLayerOffset
	if offset <= 0 {
		offset = 1
	}
	if total <= 0 || currentLayer < total-offset {
		return "", nil
	}

	if !r.cfg.Timelapse.AutoFinalize {
		s.isStopped.Store(true)
		return "", nil
	}
	slog.InfoContext(ctx, "到达末层，自动成片", "session", name, "layer", currentLayer, "total", total)
	return r.Stop(ctx, name)
}

// NotifyPrinterState 打印机状态回调，paused 时暂停抓帧
func (r *Recorder) NotifyPrinterState(name, state string) error {
	s, ok := r.reg.TryGet(name)
	if !ok {
		return ErrSessionNotFound
	}
	switch strings.ToLower(state) {
	case "paused":
		s.isPaused.Store(true)
	case "printing":
		s.isPaused.Store(false)
	}
	return nil
}

// LastTick 上次采帧调度时间，零值表示调度器尚未跑过
func (r *Recorder) LastTick() time.Time {
	if v := r.lastTick.Load(); v > 0 {
		return time.Unix(0, v)
	}
	return time.Time{}
}

// StatusAll 所有活动会话的快照
func (r *Recorder) StatusAll() []Info {
	sessions := r.reg.Snapshot()
	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	return out
}

// Get 按名取活动会话快照
func (r *Recorder) Get(name string) (Info, bool) {
	s, ok := r.reg.TryGet(name)
	if !ok {
		return Info{}, false
	}
	return s.Info(), true
}

// MarkExternalChange 外部修改了某会话的帧文件
func (r *Recorder) MarkExternalChange(name string) {
	if s, ok := r.reg.TryGet(name); ok {
		s.MarkExternalChange()
	}
}

// GenerateVideo 对不在注册表中的历史目录手动成片
func (r *Recorder) GenerateVideo(ctx context.Context, name string) (string, error) {
	if _, ok := r.reg.TryGet(name); ok {
		return r.Stop(ctx, name)
	}
	dir := filepath.Join(r.cfg.Timelapse.Root, name)
	if _, err := os.Stat(dir); err != nil {
		return "", ErrSessionNotFound
	}
	video, err := r.fin.Finalize(ctx, dir)
	if err != nil {
		return "", err
	}
	if r.catalog != nil {
		md, _ := ReadMetadata(dir)
		s := Session{name: name, dir: dir, meta: md, startTime: md.CreatedAt}
		s.frameCount.Store(int64(len(listFrames(dir))))
		if err := r.catalog.Register(ctx, &s, video, r.fin.rate(), r.fin.pad()); err != nil {
			slog.WarnContext(ctx, "成片登记失败", "video", video, "err", err)
		}
	}
	return video, nil
}
