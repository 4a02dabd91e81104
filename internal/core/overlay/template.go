// Package overlay 遥测文字叠加层
// 周期性查询打印机状态，渲染模板并原子发布到文本文件，供编码器 drawtext 读取
package overlay

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// 渲染占位符的兜底符号
const (
	placeholderNaN     = "—" // 数值为 NaN/Inf
	placeholderUnknown = "-" // 值缺失
)

// Data 单次渲染的输入快照，指针为 nil 表示未知
type Data struct {
	Nozzle       *float64
	NozzleTarget *float64
	Bed          *float64
	BedTarget    *float64
	Progress     *float64 // 百分比 0~100
	CurrentLayer *int
	TotalLayer   *int
	Speed        *float64 // mm/s，仅打印中有效
	Flow         *float64 // mm³/s
	Filament     *float64 // mm
	State        string
	Filename     string
	Slicer       string
	ETA          *time.Time
	PrintElapsed *time.Duration
	Now          time.Time // 测试可注入
}

// Render 渲染模板
// 占位符形如 {name} 或 {name:format}；回车删除，换行保留
func Render(template string, d Data) string {
	if d.Now.IsZero() {
		d.Now = time.Now()
	}
	template = strings.ReplaceAll(template, "\r", "")

	var sb strings.Builder
	sb.Grow(len(template) + 32)

	for i := 0; i < len(template); {
		ch := template[i]
		if ch != '{' {
			sb.WriteByte(ch)
			i++
			continue
		}
		end := strings.IndexByte(template[i:], '}')
		if end < 0 {
			sb.WriteString(template[i:])
			break
		}
		token := template[i+1 : i+end]
		name, format := token, ""
		if idx := strings.IndexByte(token, ':'); idx >= 0 {
			name, format = token[:idx], token[idx+1:]
		}
		sb.WriteString(expand(name, format, d))
		i += end + 1
	}
	return sb.String()
}

func expand(name, format string, d Data) string {
	switch name {
	case "nozzle":
		return num(d.Nozzle, format, "0")
	case "nozzle_target":
		return num(d.NozzleTarget, format, "0")
	case "bed":
		return num(d.Bed, format, "0")
	case "bed_target":
		return num(d.BedTarget, format, "0")
	case "progress":
		return num(d.Progress, format, "0")
	case "speed":
		return num(d.Speed, format, "0")
	case "flow":
		return num(d.Flow, format, "0.0")
	case "filament":
		return num(d.Filament, format, "0")
	case "layers":
		return layerPair(d.CurrentLayer, d.TotalLayer)
	case "current_layer":
		return intOrDash(d.CurrentLayer)
	case "total_layer":
		return intOrDash(d.TotalLayer)
	case "state":
		return strOrDash(d.State)
	case "filename":
		return strOrDash(d.Filename)
	case "slicer":
		return strOrDash(d.Slicer)
	case "time":
		return d.Now.Format(timeLayout(format, "15:04:05"))
	case "eta":
		if d.ETA == nil {
			return placeholderUnknown
		}
		return d.ETA.Format(timeLayout(format, "15:04"))
	case "printing_time":
		if d.PrintElapsed == nil {
			return placeholderUnknown
		}
		return formatElapsed(*d.PrintElapsed)
	default:
		// 未知占位符原样保留，便于排查模板笔误
		if format != "" {
			return "{" + name + ":" + format + "}"
		}
		return "{" + name + "}"
	}
}

// num 按格式串渲染数值，格式形如 "0"、"0.0"、"0.00"（小数位数）
func num(v *float64, format, def string) string {
	if v == nil {
		return placeholderUnknown
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return placeholderNaN
	}
	if format == "" {
		format = def
	}
	decimals := 0
	if idx := strings.IndexByte(format, '.'); idx >= 0 {
		decimals = len(format) - idx - 1
	}
	return fmt.Sprintf("%.*f", decimals, *v)
}

func layerPair(cur, total *int) string {
	return intOrDash(cur) + "/" + intOrDash(total)
}

func intOrDash(v *int) string {
	if v == nil {
		return placeholderUnknown
	}
	return fmt.Sprintf("%d", *v)
}

func strOrDash(s string) string {
	if s == "" {
		return placeholderUnknown
	}
	return s
}

// timeLayout 将模板中的 HH/mm/ss 式样转换为 Go 布局
func timeLayout(format, def string) string {
	if format == "" {
		return def
	}
	r := strings.NewReplacer(
		"yyyy", "2006",
		"MM", "01",
		"dd", "02",
		"HH", "15",
		"mm", "04",
		"ss", "05",
	)
	return r.Replace(format)
}

// formatElapsed 时分秒计时，小时不补零上限
func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
