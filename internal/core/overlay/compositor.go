package overlay

import (
	"fmt"
	"os"
	"strings"

	"github.com/go3dp/printcam/internal/conf"
	"github.com/go3dp/printcam/pkg/ffkit"
)

// Layout drawbox 与 drawtext 的计算布局
type Layout struct {
	BoxX, BoxY   int
	BoxHeight    int
	TextX, TextY int
	TextHeight   int // 估算的文字总高
}

// lineSpacing drawtext 默认行距系数的近似值
const lineSpacing = 1.3

// ComputeLayout 根据文本行数与字号计算布局
// cfg 中的 X/Y 为非负时按原值使用，不做夹取
func ComputeLayout(lineCount, fontSize int, cfg *conf.Overlay) Layout {
	if lineCount <= 0 {
		lineCount = 1
	}
	if fontSize <= 0 {
		fontSize = 20
	}
	textHeight := int(float64(lineCount*fontSize) * lineSpacing)
	pad := fontSize / 2

	l := Layout{
		BoxX:       0,
		BoxY:       0,
		BoxHeight:  textHeight + pad,
		TextX:      pad,
		TextY:      pad / 2,
		TextHeight: textHeight,
	}
	if cfg.BoxHeight > 0 {
		l.BoxHeight = cfg.BoxHeight
	}
	if cfg.X >= 0 {
		l.TextX = cfg.X
	}
	if cfg.Y >= 0 {
		l.TextY = cfg.Y
		l.BoxY = cfg.Y - pad/2
		if l.BoxY < 0 {
			l.BoxY = 0
		}
	}
	return l
}

// Compositor 叠加层合成器：读 MJPEG 源与文本文件，输出带文字横幅的 MJPEG
// 生命周期内独占一个受监管的编码器实例
type Compositor struct {
	cfg      *conf.Overlay
	srcURL   string
	textPath string
}

func NewCompositor(cfg *conf.Overlay, sourceURL, textPath string) Compositor {
	return Compositor{cfg: cfg, srcURL: sourceURL, textPath: textPath}
}

// BuildArgs 编码器参数：HTTP MJPEG 输入 + drawbox/drawtext 滤镜 + mpjpeg 输出
func (c Compositor) BuildArgs() []string {
	l := ComputeLayout(c.currentLineCount(), c.cfg.FontSize, c.cfg)

	filter := fmt.Sprintf(
		"drawbox=x=%d:y=%d:w=iw:h=%d:color=%s:t=fill,"+
			"drawtext=textfile='%s':reload=1:fontsize=%d:fontcolor=%s:x=%d:y=%d",
		l.BoxX, l.BoxY, l.BoxHeight, c.cfg.Background,
		escapeFilterPath(c.textPath), c.cfg.FontSize, c.cfg.Color, l.TextX, l.TextY,
	)

	return []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "2",
		"-f", "mjpeg",
		"-i", c.srcURL,
		"-vf", filter,
		"-c:v", "mjpeg",
		"-q:v", "5",
		"-f", "mpjpeg",
		"pipe:1",
	}
}

// Open 启动合成编码器
func (c Compositor) Open() (*ffkit.Process, error) {
	return ffkit.Start(ffkit.Config{
		Name: "overlay-compositor",
		Args: c.BuildArgs(),
	})
}

// currentLineCount 读取文本文件的当前行数，读取失败时按模板行数估算
func (c Compositor) currentLineCount() int {
	b, err := os.ReadFile(c.textPath)
	if err != nil {
		return strings.Count(c.cfg.Template, "\n") + 1
	}
	return strings.Count(strings.TrimRight(string(b), "\n"), "\n") + 1
}

// escapeFilterPath drawtext 文件路径中的滤镜特殊字符转义
func escapeFilterPath(p string) string {
	r := strings.NewReplacer(`\`, `\\`, `:`, `\:`, `'`, `\'`)
	return r.Replace(p)
}
