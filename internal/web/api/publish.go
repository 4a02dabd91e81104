package api

import (
	"github.com/gin-gonic/gin"
	"github.com/go3dp/printcam/internal/core/publish"
	"github.com/ixugo/goddd/pkg/reason"
	"github.com/ixugo/goddd/pkg/web"
)

// PublishAPI RTMP 推流控制
type PublishAPI struct {
	core *publish.Core
}

func NewPublishAPI(core *publish.Core) PublishAPI {
	return PublishAPI{core: core}
}

func RegisterPublish(g gin.IRouter, api PublishAPI, handler ...gin.HandlerFunc) {
	group := g.Group("/api/broadcast", handler...)
	group.GET("/status", web.WrapH(api.getStatus))
	group.POST("/start", web.WrapH(api.start))
	group.POST("/stop", web.WrapH(api.stop))
}

func (a PublishAPI) getStatus(c *gin.Context, _ *struct{}) (*publish.Status, error) {
	st := a.core.Status()
	return &st, nil
}

type startPublishInput struct {
	StreamKey string `json:"stream_key"` // 留空使用配置中的 key
}

func (a PublishAPI) start(c *gin.Context, in *startPublishInput) (*publish.Status, error) {
	if err := a.core.Start(in.StreamKey); err != nil {
		return nil, reason.ErrBadRequest.SetMsg(err.Error())
	}
	st := a.core.Status()
	return &st, nil
}

func (a PublishAPI) stop(c *gin.Context, _ *struct{}) (*publish.Status, error) {
	a.core.Stop()
	st := a.core.Status()
	return &st, nil
}
