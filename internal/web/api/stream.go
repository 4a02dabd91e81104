package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go3dp/printcam/internal/core/mix"
	"github.com/go3dp/printcam/internal/core/overlay"
	"github.com/go3dp/printcam/internal/core/stream"
	"github.com/go3dp/printcam/pkg/ffkit"
	"github.com/ixugo/goddd/pkg/reason"
	"github.com/ixugo/goddd/pkg/web"
)

// StreamAPI 视频流各阶段的 HTTP 出口
type StreamAPI struct {
	streamCore stream.Core
	generator  *overlay.Generator
	mixCore    *mix.Core
	uc         *Usecase
}

func NewStreamAPI(streamCore stream.Core, generator *overlay.Generator, mixCore *mix.Core) StreamAPI {
	return StreamAPI{streamCore: streamCore, generator: generator, mixCore: mixCore}
}

func RegisterStream(g gin.IRouter, api StreamAPI) {
	group := g.Group("/stream")
	group.GET("/source", api.source)
	group.GET("/source/capture", api.sourceCapture)
	group.GET("/overlay", api.overlayStream)
	group.GET("/overlay/capture", api.overlayCapture)
	group.GET("/mix", api.mixStream)
	group.GET("/mix/capture", api.mixCapture)
}

// source 上游 MJPEG 透传
func (a StreamAPI) source(c *gin.Context) {
	ctx := c.Request.Context()
	body, contentType := a.streamCore.OpenStream(ctx)
	defer body.Close()

	c.Header("Content-Type", contentType)
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	pump(c, body)
}

func (a StreamAPI) sourceCapture(c *gin.Context) {
	data, err := a.streamCore.Snapshot(c.Request.Context())
	if err != nil {
		web.Fail(c, reason.ErrServer.SetMsg("摄像头快照失败").Withf("err[%s]", err.Error()))
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

// overlayStream 带遥测叠加层的 MJPEG，每个请求独立的编码器进程
func (a StreamAPI) overlayStream(c *gin.Context) {
	comp := a.compositor()
	proc, err := comp.Open()
	if err != nil {
		web.Fail(c, reason.ErrServer.SetMsg("叠加层编码器启动失败").Withf("err[%s]", err.Error()))
		return
	}
	defer func() {
		proc.KillTree()
		_ = proc.Wait()
	}()

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=ffmpeg")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	pump(c, proc.Stdout())
}

func (a StreamAPI) overlayCapture(c *gin.Context) {
	comp := a.compositor()
	proc, err := comp.Open()
	if err != nil {
		web.Fail(c, reason.ErrServer.SetMsg("叠加层编码器启动失败").Withf("err[%s]", err.Error()))
		return
	}
	defer func() {
		proc.KillTree()
		_ = proc.Wait()
	}()

	data, err := stream.ExtractJPEG(proc.Stdout())
	if err != nil {
		web.Fail(c, reason.ErrServer.SetMsg("叠加层抓帧失败").Withf("err[%s]", err.Error()))
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

func (a StreamAPI) compositor() overlay.Compositor {
	srcURL := fmt.Sprintf("http://127.0.0.1:%d/stream/source", a.uc.Conf.Server.HTTP.Port)
	return overlay.NewCompositor(&a.uc.Conf.Overlay, srcURL, a.generator.TextPath())
}

// mixStream 叠加视频与广播音频合成的碎片化 MP4
func (a StreamAPI) mixStream(c *gin.Context) {
	rc, err := a.mixCore.Open()
	if err != nil {
		web.Fail(c, reason.ErrServer.SetMsg("合成编码器启动失败").Withf("err[%s]", err.Error()))
		return
	}
	defer rc.Close()

	c.Header("Content-Type", "video/mp4")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	pump(c, rc)
}

// mixCapture 合成画面的单帧截图，直接对叠加流抓一帧
func (a StreamAPI) mixCapture(c *gin.Context) {
	srcURL := fmt.Sprintf("http://127.0.0.1:%d/stream/overlay", a.uc.Conf.Server.HTTP.Port)
	proc, err := ffkit.Start(ffkit.Config{
		Name: "mix-capture",
		Args: []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "mjpeg", "-i", srcURL,
			"-frames:v", "1",
			"-f", "mjpeg", "pipe:1",
		},
	})
	if err != nil {
		web.Fail(c, reason.ErrServer.SetMsg("截图编码器启动失败").Withf("err[%s]", err.Error()))
		return
	}
	defer func() {
		proc.KillTree()
		_ = proc.Wait()
	}()

	data, err := stream.ExtractJPEG(proc.Stdout())
	if err != nil {
		web.Fail(c, reason.ErrServer.SetMsg("合成流抓帧失败").Withf("err[%s]", err.Error()))
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

// pump 把流式内容边读边写给客户端，断开即返回
func pump(c *gin.Context, r io.Reader) {
	buf := make([]byte, 32<<10)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := c.Writer.Write(buf[:n]); werr != nil {
				return
			}
			c.Writer.Flush()
		}
		if err != nil {
			return
		}
		select {
		case <-c.Request.Context().Done():
			return
		default:
		}
	}
}
