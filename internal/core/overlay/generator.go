package overlay

import (
	"context"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go3dp/printcam/internal/conf"
	"github.com/go3dp/printcam/pkg/moonraker"
	"github.com/ixugo/goddd/pkg/conc"
)

// filamentArea 1.75mm 耗材截面积 mm²，用于体积流量折算
const filamentArea = 2.405

// TextFileName 叠加层文本文件名，编码器 drawtext 以 textfile= 引用
const TextFileName = "overlay.txt"

// Generator 定时渲染叠加层文本并原子发布
// 单写者，读取方（编码器、抓帧）通过 rename 语义免锁
type Generator struct {
	engine moonraker.Engine
	cfg    *conf.Overlay
	dir    string

	m        sync.Mutex
	metaFile string
	meta     *moonraker.FileMetadata
}

// NewGenerator 创建生成器，输出目录无法创建时返回错误（致命）
func NewGenerator(engine moonraker.Engine, cfg *conf.Overlay, workDir string) (*Generator, error) {
	dir := filepath.Join(workDir, "overlay")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Generator{engine: engine, cfg: cfg, dir: dir}, nil
}

// TextPath 叠加层文本文件的完整路径
func (g *Generator) TextPath() string {
	return filepath.Join(g.dir, TextFileName)
}

// Run 阻塞运行渲染循环，ctx 取消后返回
func (g *Generator) Run(ctx context.Context) {
	interval := g.cfg.Interval.Duration()
	if interval < 200*time.Millisecond {
		interval = time.Second
	}
	// 启动先渲染一次，避免编码器读到空文件
	g.tick(ctx)
	conc.Timer(ctx, interval, interval, func() {
		g.tick(ctx)
	})
}

// tick 一次查询-渲染-发布
// 遥测失败时保留旧文件内容，不做部分写入
func (g *Generator) tick(ctx context.Context) {
	st, err := g.engine.QueryStatus(ctx)
	if err != nil {
		slog.DebugContext(ctx, "遥测查询失败，保留上次叠加层内容", "err", err)
		return
	}
	text := Render(g.cfg.Template, g.buildData(ctx, st))
	if err := g.publish(text); err != nil {
		slog.WarnContext(ctx, "叠加层发布失败", "err", err)
	}
}

// publish 写临时文件后 rename，读取方永远看到完整内容
func (g *Generator) publish(text string) error {
	path := g.TextPath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(text), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// buildData 从状态快照与文件元数据组装渲染输入
func (g *Generator) buildData(ctx context.Context, st *moonraker.Status) Data {
	var d Data
	if ex := st.Extruder; ex != nil {
		d.Nozzle = ex.Temperature
		d.NozzleTarget = ex.Target
	}
	if bed := st.HeaterBed; bed != nil {
		d.Bed = bed.Temperature
		d.BedTarget = bed.Target
	}
	if ps := st.PrintStats; ps != nil {
		d.State = ps.State
		d.Filename = ps.Filename
		d.CurrentLayer = ps.Info.CurrentLayer
		d.TotalLayer = ps.Info.TotalLayer
		d.Filament = ps.FilamentUsed
		if ps.PrintDuration != nil {
			elapsed := time.Duration(*ps.PrintDuration * float64(time.Second))
			d.PrintElapsed = &elapsed
		}
	}

	if p, ok := st.Progress(); ok {
		percent := p * 100
		d.Progress = &percent
	}

	// 仅活动打印任务显示实时速度与流量，空闲时显示 0
	if st.IsPrinting() {
		if v, ok := st.Speed(); ok {
			d.Speed = &v
		}
		if mr := st.MotionReport; mr != nil && mr.LiveExtruderVelocity != nil {
			flow := *mr.LiveExtruderVelocity * filamentArea
			d.Flow = &flow
		}
	} else {
		zero := 0.0
		d.Speed = &zero
		d.Flow = &zero
	}

	meta := g.fileMeta(ctx, d.Filename)
	if meta != nil {
		d.Slicer = meta.Slicer
		if d.TotalLayer == nil {
			d.TotalLayer = meta.LayerCount
		}
	}
	d.ETA = estimateETA(st, meta, d.Progress)
	return d
}

// fileMeta 按文件名缓存切片元数据，换任务时重新拉取
func (g *Generator) fileMeta(ctx context.Context, filename string) *moonraker.FileMetadata {
	if filename == "" {
		return nil
	}
	g.m.Lock()
	defer g.m.Unlock()
	if g.metaFile == filename {
		return g.meta
	}
	meta, err := g.engine.GetFileMetadata(ctx, filename)
	if err != nil {
		return nil
	}
	g.metaFile = filename
	g.meta = meta
	return meta
}

// estimateETA 完成时间估算
// 有进度与已打印时长时按比例外推，否则用切片器预估时长
func estimateETA(st *moonraker.Status, meta *moonraker.FileMetadata, progressPercent *float64) *time.Time {
	if !st.IsPrinting() || progressPercent == nil {
		return nil
	}
	p := *progressPercent / 100
	if p <= 0 || p > 1 || math.IsNaN(p) {
		return nil
	}

	var remaining time.Duration
	if ps := st.PrintStats; ps != nil && ps.PrintDuration != nil && *ps.PrintDuration > 60 {
		elapsed := *ps.PrintDuration
		remaining = time.Duration(elapsed * (1 - p) / p * float64(time.Second))
	} else if meta != nil && meta.EstimatedTime != nil {
		remaining = time.Duration(*meta.EstimatedTime * (1 - p) * float64(time.Second))
	} else {
		return nil
	}
	eta := time.Now().Add(remaining)
	return &eta
}
