package timelapse

import "github.com/ixugo/goddd/pkg/orm"

// Video 成片档案，finalize 后登记入库
type Video struct {
	ID          int64    `gorm:"primaryKey" json:"id"`
	Name        string   `gorm:"column:name;index" json:"name"`           // 会话名
	Path        string   `gorm:"column:path" json:"path"`                 // 成片绝对路径
	Size        int64    `gorm:"column:size" json:"size"`                 // 字节
	FrameCount  int64    `gorm:"column:frame_count" json:"frame_count"`   // 入片帧数
	DurationSec float64  `gorm:"column:duration_sec" json:"duration_sec"` // 估算时长（秒）
	Slicer      string   `gorm:"column:slicer" json:"slicer"`             // 切片器名称
	JobFilename string   `gorm:"column:job_filename" json:"job_filename"` // gcode 文件名
	YouTubeURL  string   `gorm:"column:youtube_url" json:"youtube_url"`   // 上传后的视频链接
	StartedAt   orm.Time `gorm:"column:started_at" json:"started_at"`     // 会话开始时间
	CreatedAt   orm.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   orm.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (*Video) TableName() string {
	return "timelapse_videos"
}
