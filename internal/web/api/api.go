package api

import (
	"log/slog"
	"net/http"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/go3dp/printcam/internal/conf"
	"github.com/go3dp/printcam/internal/core/audio"
	"github.com/go3dp/printcam/internal/core/overlay"
	"github.com/go3dp/printcam/internal/core/publish"
	"github.com/go3dp/printcam/internal/core/timelapse"
	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/system"
	"github.com/ixugo/goddd/pkg/web"
	"gorm.io/gorm"
)

// Usecase 汇聚各领域 API 与后台组件，由 wire 填充
type Usecase struct {
	Conf *conf.Bootstrap
	DB   *gorm.DB

	StreamAPI    StreamAPI
	AudioAPI     AudioAPI
	TimelapseAPI TimelapseAPI
	PublishAPI   PublishAPI

	// 后台循环由 app 层统一启动与关停
	Generator *overlay.Generator
	Broadcast *audio.Broadcast
	Recorder  *timelapse.Recorder
	Catalog   *timelapse.Catalog
	Publish   *publish.Core
}

// NewHTTPHandler 生成 Gin 框架路由内容
func NewHTTPHandler(uc *Usecase) http.Handler {
	cfg := uc.Conf.Server
	if cfg.HTTP.JwtSecret == "" {
		uc.Conf.Server.HTTP.JwtSecret = orm.GenerateRandomString(32)
	}
	if !uc.Conf.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	g := gin.New()
	g.NoRoute(func(c *gin.Context) {
		// 前端单页应用路由指向静态资源
		if strings.HasPrefix(c.Request.URL.Path, staticPrefix) {
			c.File(filepath.Join(system.Getwd(), staticDir, "index.html"))
			return
		}
		c.JSON(404, gin.H{"msg": "来到了无人的荒漠"})
	})
	setupRouter(g, uc)
	return g
}

// 前端控制页挂载路径与静态资源目录
const (
	staticPrefix = "/web"
	staticDir    = "www"
)

func setupRouter(r *gin.Engine, uc *Usecase) {
	uc.StreamAPI.uc = uc

	r.Use(
		// 此处不做 recover，底层 http.server 也会 recover，但不会输出方便查看的格式
		gin.CustomRecovery(func(c *gin.Context, err any) {
			slog.ErrorContext(c.Request.Context(), "panic", "err", err, "stack", string(debug.Stack()))
			c.AbortWithStatus(http.StatusInternalServerError)
		}),
		web.Metrics(),
		web.Logger(
			web.IgnoreMethod(http.MethodOptions),
			web.IgnorePrefix("/stream"),            // 长连接视频流
			web.IgnorePrefix("/api/audio/preview"), // 音频字节
		),
		web.LoggerWithBody(web.DefaultBodyLimit,
			web.IgnoreBool(uc.Conf.Debug),
			web.IgnoreMethod(http.MethodOptions),
			web.IgnorePrefix("/stream"),
			web.IgnorePrefix("/api/audio/preview"),
			web.IgnorePrefix("/api/audio/upload"),
		),
	)
	go web.CountGoroutines(10*time.Minute, 20)

	r.Use(cors.New(cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders: []string{
			"Accept", "Content-Length", "Content-Type", "Range", "Accept-Language",
			"Origin", "Authorization", "Referer", "User-Agent",
			"Accept-Encoding",
			"Cache-Control", "Pragma", "X-Requested-With",
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
		AllowOriginFunc: func(_ string) bool {
			return true
		},
	}))

	r.GET("/health", web.WrapH(uc.getHealth))
	r.GET("/api/system/status", web.WrapH(uc.getSystemStatus))

	RegisterStream(r, uc.StreamAPI)
	RegisterAudio(r, uc.AudioAPI)
	RegisterTimelapse(r, uc.TimelapseAPI)
	RegisterPublish(r, uc.PublishAPI)

	ui := r.Group(staticPrefix, gzip.Gzip(gzip.DefaultCompression))
	ui.Static("/", filepath.Join(system.Getwd(), staticDir))
}
