package timelapse

import "github.com/ixugo/goddd/pkg/web"

type FindVideosInput struct {
	web.PagerFilter
	Name   string `form:"name"`   // 按会话名模糊筛选
	Slicer string `form:"slicer"` // 按切片器筛选
}

type EditVideoInput struct {
	YouTubeURL string `json:"youtube_url"`
}
