package api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go3dp/printcam/internal/core/timelapse"
	"github.com/ixugo/goddd/pkg/reason"
	"github.com/ixugo/goddd/pkg/web"
)

// TimelapseAPI 延时摄影会话与成片档案
type TimelapseAPI struct {
	recorder *timelapse.Recorder
	catalog  *timelapse.Catalog
}

func NewTimelapseAPI(recorder *timelapse.Recorder, catalog *timelapse.Catalog) TimelapseAPI {
	return TimelapseAPI{recorder: recorder, catalog: catalog}
}

func RegisterTimelapse(g gin.IRouter, api TimelapseAPI, handler ...gin.HandlerFunc) {
	group := g.Group("/api/timelapses", handler...)
	group.GET("", web.WrapH(api.statusAll))
	group.POST("", web.WrapH(api.start))
	group.GET("/playlist.m3u8", api.playlist)

	group.GET("/videos", web.WrapH(api.findVideos))
	group.GET("/videos/:id", web.WrapH(api.getVideo))
	group.PUT("/videos/:id", web.WrapH(api.editVideo))
	group.DELETE("/videos/:id", web.WrapH(api.delVideo))
	group.GET("/videos/:id/download", api.downloadVideo)

	// gin 不允许参数段与静态段同级，会话细分路径挂在 /sessions 下
	sess := group.Group("/sessions")
	sess.POST("/:name/stop", web.WrapH(api.stop))
	sess.POST("/:name/progress", web.WrapH(api.notifyProgress))
	sess.POST("/:name/state", web.WrapH(api.notifyState))
	sess.POST("/:name/generate", web.WrapH(api.generate))
	sess.GET("/:name/metadata", web.WrapH(api.getMetadata))
	sess.PUT("/:name/metadata", web.WrapH(api.editMetadata))
	sess.GET("/:name/frames", web.WrapH(api.listFrames))
	sess.POST("/:name/frames", api.uploadFrame)
	sess.GET("/:name/frames/:file", api.getFrame)
	sess.DELETE("/:name/frames/:file", web.WrapH(api.deleteFrame))
}

func (a TimelapseAPI) statusAll(c *gin.Context, _ *struct{}) (any, error) {
	items := a.recorder.StatusAll()
	return gin.H{"items": items, "total": len(items)}, nil
}

type startTimelapseInput struct {
	Label       string `json:"label" binding:"required"`
	JobFilename string `json:"job_filename"`
}

func (a TimelapseAPI) start(c *gin.Context, in *startTimelapseInput) (any, error) {
	name, err := a.recorder.Start(c.Request.Context(), in.Label, in.JobFilename)
	if err != nil {
		return nil, reason.ErrServer.SetMsg(err.Error())
	}
	return gin.H{"name": name}, nil
}

func (a TimelapseAPI) stop(c *gin.Context, _ *struct{}) (any, error) {
	name := c.Param("name")
	video, err := a.recorder.Stop(c.Request.Context(), name)
	if err != nil {
		if err == timelapse.ErrSessionNotFound {
			return nil, reason.ErrNotFound.SetMsg("会话不存在")
		}
		return nil, reason.ErrServer.SetMsg(err.Error())
	}
	return gin.H{"name": name, "video": video}, nil
}

type progressInput struct {
	CurrentLayer int `json:"current_layer"`
	TotalLayers  int `json:"total_layers"`
}

func (a TimelapseAPI) notifyProgress(c *gin.Context, in *progressInput) (any, error) {
	video, err := a.recorder.NotifyPrintProgress(c.Request.Context(), c.Param("name"), in.CurrentLayer, in.TotalLayers)
	if err != nil {
		if err == timelapse.ErrSessionNotFound {
			return nil, reason.ErrNotFound.SetMsg("会话不存在")
		}
		return nil, reason.ErrServer.SetMsg(err.Error())
	}
	return gin.H{"video": video}, nil
}

type printerStateInput struct {
	State string `json:"state" binding:"required"`
}

func (a TimelapseAPI) notifyState(c *gin.Context, in *printerStateInput) (any, error) {
	if err := a.recorder.NotifyPrinterState(c.Param("name"), in.State); err != nil {
		return nil, reason.ErrNotFound.SetMsg("会话不存在")
	}
	return gin.H{"state": in.State}, nil
}

// generate 对历史目录手动成片
func (a TimelapseAPI) generate(c *gin.Context, _ *struct{}) (any, error) {
	video, err := a.recorder.GenerateVideo(c.Request.Context(), c.Param("name"))
	if err != nil {
		if err == timelapse.ErrSessionNotFound {
			return nil, reason.ErrNotFound.SetMsg("会话目录不存在")
		}
		return nil, reason.ErrServer.SetMsg(err.Error())
	}
	return gin.H{"video": video}, nil
}

// sessionDir 防目录穿越，只允许根目录下的直接子目录
func (a TimelapseAPI) sessionDir(name string) (string, error) {
	base := filepath.Base(name)
	if base != name || name == "." || name == "" {
		return "", reason.ErrBadRequest.SetMsg("非法会话名")
	}
	dir := filepath.Join(a.recorder.Root(), base)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return "", reason.ErrNotFound.SetMsg("会话目录不存在")
	}
	return dir, nil
}

func (a TimelapseAPI) getMetadata(c *gin.Context, _ *struct{}) (any, error) {
	dir, err := a.sessionDir(c.Param("name"))
	if err != nil {
		return nil, err
	}
	md, err := timelapse.ReadMetadata(dir)
	if err != nil {
		return nil, reason.ErrNotFound.SetMsg("元数据不存在")
	}
	return gin.H{
		"created_at":         md.CreatedAt,
		"youtube_url":        md.YouTubeURL,
		"moonraker_filename": md.JobFilename,
	}, nil
}

type editMetadataInput struct {
	YouTubeURL string `json:"youtube_url"`
}

func (a TimelapseAPI) editMetadata(c *gin.Context, in *editMetadataInput) (any, error) {
	dir, err := a.sessionDir(c.Param("name"))
	if err != nil {
		return nil, err
	}
	md, _ := timelapse.ReadMetadata(dir)
	md.YouTubeURL = in.YouTubeURL
	if err := timelapse.WriteMetadata(dir, md); err != nil {
		return nil, reason.ErrServer.Withf("write metadata err[%s]", err.Error())
	}
	return gin.H{"youtube_url": in.YouTubeURL}, nil
}

func (a TimelapseAPI) listFrames(c *gin.Context, _ *struct{}) (any, error) {
	dir, err := a.sessionDir(c.Param("name"))
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, reason.ErrServer.Withf("read dir err[%s]", err.Error())
	}
	frames := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "frame_") && strings.HasSuffix(e.Name(), ".jpg") {
			frames = append(frames, e.Name())
		}
	}
	return gin.H{"items": frames, "total": len(frames)}, nil
}

func (a TimelapseAPI) getFrame(c *gin.Context) {
	dir, err := a.sessionDir(c.Param("name"))
	if err != nil {
		web.Fail(c, err)
		return
	}
	file := filepath.Base(c.Param("file"))
	if !strings.HasSuffix(file, ".jpg") {
		web.Fail(c, reason.ErrBadRequest.SetMsg("仅支持 jpg 帧"))
		return
	}
	path := filepath.Join(dir, file)
	if _, err := os.Stat(path); err != nil {
		web.Fail(c, reason.ErrNotFound.SetMsg("帧不存在"))
		return
	}
	c.File(path)
}

// deleteFrame 仅允许删 .jpg，删除后立刻重排序号并通知录制器重计数
func (a TimelapseAPI) deleteFrame(c *gin.Context, _ *struct{}) (any, error) {
	name := c.Param("name")
	dir, err := a.sessionDir(name)
	if err != nil {
		return nil, err
	}
	file := filepath.Base(c.Param("file"))
	if !strings.HasSuffix(file, ".jpg") {
		return nil, reason.ErrBadRequest.SetMsg("仅支持删除 jpg 帧")
	}
	path := filepath.Join(dir, file)
	if err := os.Remove(path); err != nil {
		return nil, reason.ErrNotFound.SetMsg("帧不存在")
	}
	count, err := timelapse.ReindexFrames(dir)
	if err != nil {
		return nil, reason.ErrServer.Withf("reindex err[%s]", err.Error())
	}
	a.recorder.MarkExternalChange(name)
	return gin.H{"frame_count": count}, nil
}

// uploadFrame 手工补帧，追加到当前序号末尾
func (a TimelapseAPI) uploadFrame(c *gin.Context) {
	name := c.Param("name")
	dir, err := a.sessionDir(name)
	if err != nil {
		web.Fail(c, err)
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		web.Fail(c, reason.ErrBadRequest.SetMsg("缺少上传文件").Withf("err[%s]", err.Error()))
		return
	}
	if !strings.HasSuffix(strings.ToLower(file.Filename), ".jpg") {
		web.Fail(c, reason.ErrBadRequest.SetMsg("仅支持 jpg 帧"))
		return
	}
	count, err := timelapse.ReindexFrames(dir)
	if err != nil {
		web.Fail(c, reason.ErrServer.Withf("reindex err[%s]", err.Error()))
		return
	}
	dst := filepath.Join(dir, fmt.Sprintf("frame_%06d.jpg", count))
	if err := c.SaveUploadedFile(file, dst); err != nil {
		web.Fail(c, reason.ErrServer.SetMsg("文件保存失败").Withf("err[%s]", err.Error()))
		return
	}
	a.recorder.MarkExternalChange(name)
	c.JSON(http.StatusOK, gin.H{"frame": filepath.Base(dst)})
}

func (a TimelapseAPI) findVideos(c *gin.Context, in *timelapse.FindVideosInput) (any, error) {
	items, total, err := a.catalog.FindVideos(c.Request.Context(), in)
	return gin.H{"items": items, "total": total}, err
}

func (a TimelapseAPI) getVideo(c *gin.Context, _ *struct{}) (*timelapse.Video, error) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	return a.catalog.GetVideo(c.Request.Context(), id)
}

func (a TimelapseAPI) editVideo(c *gin.Context, in *timelapse.EditVideoInput) (*timelapse.Video, error) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	return a.catalog.EditVideo(c.Request.Context(), in, id)
}

func (a TimelapseAPI) delVideo(c *gin.Context, _ *struct{}) (any, error) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	removeFile := c.Query("remove_file") == "true"
	if err := a.catalog.DelVideo(c.Request.Context(), id, removeFile); err != nil {
		return nil, err
	}
	return gin.H{"id": id}, nil
}

// downloadVideo 成片下载
func (a TimelapseAPI) downloadVideo(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		web.Fail(c, reason.ErrBadRequest.SetMsg("invalid video id"))
		return
	}
	v, err := a.catalog.GetVideo(c.Request.Context(), id)
	if err != nil {
		web.Fail(c, err)
		return
	}
	if _, err := os.Stat(v.Path); err != nil {
		web.Fail(c, reason.ErrNotFound.SetMsg("成片文件不存在"))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filepath.Base(v.Path)))
	c.File(v.Path)
}

// playlist 成片点播列表
func (a TimelapseAPI) playlist(c *gin.Context) {
	out, err := a.catalog.Playlist(c.Request.Context(), func(v *timelapse.Video) string {
		return fmt.Sprintf("/api/timelapses/videos/%d/download", v.ID)
	})
	if err != nil {
		web.Fail(c, err)
		return
	}
	c.Header("Content-Type", "application/vnd.apple.mpegurl")
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "application/vnd.apple.mpegurl", out)
}
