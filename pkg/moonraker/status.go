package moonraker

// Status printer 对象查询结果，result.status 下的各子树
// 任意子树都可能缺失，指针为 nil 即为未知
type Status struct {
	Extruder      *Extruder      `json:"extruder"`
	HeaterBed     *HeaterBed     `json:"heater_bed"`
	PrintStats    *PrintStats    `json:"print_stats"`
	DisplayStatus *DisplayStatus `json:"display_status"`
	VirtualSDCard *VirtualSDCard `json:"virtual_sdcard"`
	GcodeMove     *GcodeMove     `json:"gcode_move"`
	MotionReport  *MotionReport  `json:"motion_report"`
}

type Extruder struct {
	Temperature *float64 `json:"temperature"`
	Target      *float64 `json:"target"`
}

type HeaterBed struct {
	Temperature *float64 `json:"temperature"`
	Target      *float64 `json:"target"`
}

type PrintStats struct {
	State         string   `json:"state"` // standby / printing / paused / complete / cancelled / error
	Filename      string   `json:"filename"`
	PrintDuration *float64 `json:"print_duration"`
	FilamentUsed  *float64 `json:"filament_used"` // mm
	Info          struct {
		CurrentLayer *int `json:"current_layer"`
		TotalLayer   *int `json:"total_layer"`
	} `json:"info"`
}

type DisplayStatus struct {
	Progress *float64 `json:"progress"` // 0.0 ~ 1.0
}

type VirtualSDCard struct {
	Progress *float64 `json:"progress"` // 0.0 ~ 1.0
	IsActive bool     `json:"is_active"`
}

type GcodeMove struct {
	Speed       *float64 `json:"speed"`        // mm/min，历史值，非实时
	SpeedFactor *float64 `json:"speed_factor"` // 1.0 = 100%
}

type MotionReport struct {
	LiveVelocity         *float64 `json:"live_velocity"`          // mm/s
	LiveExtruderVelocity *float64 `json:"live_extruder_velocity"` // mm/s
}

// FileMetadata 切片文件元数据，server/files/metadata 的结果
type FileMetadata struct {
	Filename       string   `json:"filename"`
	Slicer         string   `json:"slicer"`
	SlicerVersion  string   `json:"slicer_version"`
	EstimatedTime  *float64 `json:"estimated_time"` // 秒
	FilamentTotal  *float64 `json:"filament_total"` // mm
	LayerCount     *int     `json:"layer_count"`
	ObjectHeight   *float64 `json:"object_height"`
	FirstLayerHght *float64 `json:"first_layer_height"`
	LayerHeight    *float64 `json:"layer_height"`
}

// IsPrinting 是否存在活动的打印任务（打印中或暂停）
func (s *Status) IsPrinting() bool {
	if s == nil || s.PrintStats == nil {
		return false
	}
	return s.PrintStats.State == "printing" || s.PrintStats.State == "paused"
}

// Progress 归一化打印进度，0~1，未知时返回 (0, false)
// 精度优先级：virtual_sdcard.progress（> 0 时）、display_status.progress、层数比
func (s *Status) Progress() (float64, bool) {
	if s == nil {
		return 0, false
	}
	if v := s.VirtualSDCard; v != nil && v.Progress != nil && *v.Progress > 0 {
		return *v.Progress, true
	}
	if d := s.DisplayStatus; d != nil && d.Progress != nil {
		return *d.Progress, true
	}
	if p := s.PrintStats; p != nil && p.Info.CurrentLayer != nil && p.Info.TotalLayer != nil && *p.Info.TotalLayer > 0 {
		return float64(*p.Info.CurrentLayer) / float64(*p.Info.TotalLayer), true
	}
	return 0, false
}

// Speed 工具头实时速度 mm/s，优先 motion_report，缺失时折算 gcode_move.speed
func (s *Status) Speed() (float64, bool) {
	if s == nil {
		return 0, false
	}
	if m := s.MotionReport; m != nil && m.LiveVelocity != nil {
		return *m.LiveVelocity, true
	}
	if g := s.GcodeMove; g != nil && g.Speed != nil {
		v := *g.Speed / 60 // mm/min -> mm/s
		if g.SpeedFactor != nil {
			v *= *g.SpeedFactor
		}
		return v, true
	}
	return 0, false
}
