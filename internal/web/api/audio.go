package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go3dp/printcam/internal/conf"
	"github.com/go3dp/printcam/internal/core/audio"
	"github.com/ixugo/goddd/pkg/reason"
	"github.com/ixugo/goddd/pkg/web"
)

const defaultMaxUploadMB = 200

// AudioAPI 曲库与播放控制
type AudioAPI struct {
	player    *audio.Player
	broadcast *audio.Broadcast
	conf      *conf.Bootstrap
}

func NewAudioAPI(player *audio.Player, broadcast *audio.Broadcast, conf *conf.Bootstrap) AudioAPI {
	return AudioAPI{player: player, broadcast: broadcast, conf: conf}
}

func RegisterAudio(g gin.IRouter, api AudioAPI, handler ...gin.HandlerFunc) {
	g.GET("/stream/audio", api.streamAudio)

	group := g.Group("/api/audio", handler...)
	group.GET("", web.WrapH(api.getState))
	group.GET("/state", web.WrapH(api.getState))
	group.GET("/library", web.WrapH(api.getLibrary))
	group.POST("/upload", api.upload)
	group.GET("/preview/:name", api.preview)

	group.POST("/queue", web.WrapH(api.enqueue))
	group.DELETE("/queue", web.WrapH(api.removeFromQueue))
	group.DELETE("/queue/all", web.WrapH(api.clearQueue))

	group.POST("/play", web.WrapH(api.play))
	group.POST("/pause", web.WrapH(api.pause))
	group.POST("/toggle", web.WrapH(api.toggle))
	group.POST("/next", web.WrapH(api.next))
	group.POST("/previous", web.WrapH(api.previous))
	group.POST("/select", web.WrapH(api.selectTrack))

	group.POST("/shuffle", web.WrapH(api.setShuffle))
	group.POST("/repeat", web.WrapH(api.setRepeat))
	group.POST("/enabled", web.WrapH(api.setEnabled))
}

// streamAudio 持续输出广播 MP3，断开自动退订
func (a AudioAPI) streamAudio(c *gin.Context) {
	c.Header("Content-Type", "audio/mpeg")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	_ = a.broadcast.Stream(c.Request.Context(), c.Writer)
}

type audioStateOutput struct {
	audio.State
	Broadcast audio.Status `json:"broadcast"`
}

func (a AudioAPI) getState(c *gin.Context, _ *struct{}) (*audioStateOutput, error) {
	return &audioStateOutput{
		State:     a.player.State(),
		Broadcast: a.broadcast.Status(),
	}, nil
}

func (a AudioAPI) getLibrary(c *gin.Context, _ *struct{}) (any, error) {
	st := a.player.State()
	return gin.H{"items": st.Library, "total": len(st.Library)}, nil
}

// upload 接收音频文件到曲库目录，扩展名白名单，默认上限 200MiB
func (a AudioAPI) upload(c *gin.Context) {
	maxMB := a.conf.Audio.MaxUploadMB
	if maxMB <= 0 {
		maxMB = defaultMaxUploadMB
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxMB<<20)

	file, err := c.FormFile("file")
	if err != nil {
		web.Fail(c, reason.ErrBadRequest.SetMsg("缺少上传文件").Withf("err[%s]", err.Error()))
		return
	}
	name := filepath.Base(file.Filename)
	if !audio.IsAllowedExt(name) {
		web.Fail(c, reason.ErrBadRequest.SetMsg("不支持的音频格式"))
		return
	}

	folder := a.player.Folder()
	if err := os.MkdirAll(folder, 0o755); err != nil {
		web.Fail(c, reason.ErrServer.Withf("mkdir err[%s]", err.Error()))
		return
	}
	if err := c.SaveUploadedFile(file, filepath.Join(folder, name)); err != nil {
		web.Fail(c, reason.ErrServer.SetMsg("文件保存失败").Withf("err[%s]", err.Error()))
		return
	}
	if err := a.player.Rescan(); err != nil {
		web.Fail(c, reason.ErrServer.Withf("rescan err[%s]", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name})
}

// preview 试听曲库文件，ServeFile 自带 Range 支持
func (a AudioAPI) preview(c *gin.Context) {
	name := filepath.Base(c.Param("name"))
	if !audio.IsAllowedExt(name) {
		web.Fail(c, reason.ErrBadRequest.SetMsg("不支持的音频格式"))
		return
	}
	path := filepath.Join(a.player.Folder(), name)
	if _, err := os.Stat(path); err != nil {
		web.Fail(c, reason.ErrNotFound.SetMsg("音轨不存在"))
		return
	}
	http.ServeFile(c.Writer, c.Request, path)
}

type queueInput struct {
	Names []string `json:"names" binding:"required"`
}

func (a AudioAPI) enqueue(c *gin.Context, in *queueInput) (any, error) {
	if err := a.player.Enqueue(in.Names...); err != nil {
		return nil, reason.ErrBadRequest.SetMsg(err.Error())
	}
	return a.player.State(), nil
}

func (a AudioAPI) removeFromQueue(c *gin.Context, in *queueInput) (any, error) {
	a.player.Remove(in.Names...)
	return a.player.State(), nil
}

func (a AudioAPI) clearQueue(c *gin.Context, _ *struct{}) (any, error) {
	a.player.Clear()
	return a.player.State(), nil
}

func (a AudioAPI) play(c *gin.Context, _ *struct{}) (any, error) {
	a.player.Play()
	return a.player.State(), nil
}

func (a AudioAPI) pause(c *gin.Context, _ *struct{}) (any, error) {
	a.player.Pause()
	return a.player.State(), nil
}

func (a AudioAPI) toggle(c *gin.Context, _ *struct{}) (any, error) {
	a.player.Toggle()
	return a.player.State(), nil
}

func (a AudioAPI) next(c *gin.Context, _ *struct{}) (any, error) {
	a.player.Next()
	return a.player.State(), nil
}

func (a AudioAPI) previous(c *gin.Context, _ *struct{}) (any, error) {
	a.player.Previous()
	return a.player.State(), nil
}

type selectInput struct {
	Name string `json:"name" binding:"required"`
}

func (a AudioAPI) selectTrack(c *gin.Context, in *selectInput) (any, error) {
	if _, err := a.player.SelectByName(in.Name); err != nil {
		return nil, reason.ErrNotFound.SetMsg(err.Error())
	}
	return a.player.State(), nil
}

type shuffleInput struct {
	Enabled bool `json:"enabled"`
}

func (a AudioAPI) setShuffle(c *gin.Context, in *shuffleInput) (any, error) {
	a.player.SetShuffle(in.Enabled)
	return a.player.State(), nil
}

type repeatInput struct {
	Mode string `json:"mode" binding:"required"`
}

func (a AudioAPI) setRepeat(c *gin.Context, in *repeatInput) (any, error) {
	if err := a.player.SetRepeat(audio.RepeatMode(strings.ToLower(in.Mode))); err != nil {
		return nil, reason.ErrBadRequest.SetMsg(err.Error())
	}
	return a.player.State(), nil
}

type enabledInput struct {
	Enabled bool `json:"enabled"`
}

// setEnabled 关闭时广播降级为静音流，连接保持
func (a AudioAPI) setEnabled(c *gin.Context, in *enabledInput) (any, error) {
	a.broadcast.ApplyEnabledState(in.Enabled)
	return gin.H{"enabled": in.Enabled}, nil
}
