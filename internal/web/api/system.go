package api

import (
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

var startRuntime = time.Now()

type getHealthOutput struct {
	Version string    `json:"version"`
	StartAt time.Time `json:"start_at"`
	Uptime  string    `json:"uptime"`
}

func (uc *Usecase) getHealth(_ *gin.Context, _ *struct{}) (*getHealthOutput, error) {
	return &getHealthOutput{
		Version: uc.Conf.BuildVersion,
		StartAt: startRuntime,
		Uptime:  time.Since(startRuntime).Truncate(time.Second).String(),
	}, nil
}

type diskStatus struct {
	Path        string  `json:"path"`
	TotalMB     uint64  `json:"total_mb"`
	FreeMB      uint64  `json:"free_mb"`
	UsedPercent float64 `json:"used_percent"`
}

type systemStatusOutput struct {
	Goroutines        int         `json:"goroutines"`
	MemUsedMB         uint64      `json:"mem_used_mb"`
	MemPercent        float64     `json:"mem_percent"`
	Timelapse         *diskStatus `json:"timelapse_disk,omitempty"`
	TimelapseLastTick time.Time   `json:"timelapse_last_tick,omitzero"`
}

// getSystemStatus 主机侧资源概览，前端据此提示磁盘告警
func (uc *Usecase) getSystemStatus(_ *gin.Context, _ *struct{}) (*systemStatusOutput, error) {
	out := systemStatusOutput{
		Goroutines:        runtime.NumGoroutine(),
		TimelapseLastTick: uc.Recorder.LastTick(),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		out.MemUsedMB = vm.Used >> 20
		out.MemPercent = vm.UsedPercent
	}
	if usage, err := disk.Usage(uc.Conf.Timelapse.Root); err == nil {
		out.Timelapse = &diskStatus{
			Path:        uc.Conf.Timelapse.Root,
			TotalMB:     usage.Total >> 20,
			FreeMB:      usage.Free >> 20,
			UsedPercent: usage.UsedPercent,
		}
	}
	return &out, nil
}
