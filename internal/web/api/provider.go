package api

import (
	"log/slog"

	"github.com/go3dp/printcam/internal/conf"
	"github.com/go3dp/printcam/internal/core/audio"
	"github.com/go3dp/printcam/internal/core/mix"
	"github.com/go3dp/printcam/internal/core/overlay"
	"github.com/go3dp/printcam/internal/core/publish"
	"github.com/go3dp/printcam/internal/core/stream"
	"github.com/go3dp/printcam/internal/core/timelapse"
	"github.com/go3dp/printcam/internal/core/timelapse/store/timelapsedb"
	"github.com/go3dp/printcam/pkg/moonraker"
	"github.com/google/wire"
	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/system"
	"gorm.io/gorm"
)

var ProviderSet = wire.NewSet(
	wire.Struct(new(Usecase), "*"),
	NewMoonrakerEngine,
	NewStreamCore,
	NewOverlayGenerator,
	NewAudioBus, NewAudioPlayer, NewAudioBroadcast, NewAudioAPI,
	mix.NewCore,
	publish.NewCore,
	NewTimelapseStore, NewTimelapseCatalog, NewTimelapseRecorder,
	NewStreamAPI, NewTimelapseAPI, NewPublishAPI,
)

// NewMoonrakerEngine 遥测客户端
func NewMoonrakerEngine(cfg *conf.Bootstrap) moonraker.Engine {
	return moonraker.NewEngine().SetConfig(moonraker.Config{
		URL:    cfg.Moonraker.URL,
		APIKey: cfg.Moonraker.APIKey,
	})
}

func NewStreamCore(cfg *conf.Bootstrap) stream.Core {
	return stream.NewCore(&cfg.Stream)
}

// NewOverlayGenerator 叠加层文字生成器，工作目录放在程序所在目录
func NewOverlayGenerator(engine moonraker.Engine, cfg *conf.Bootstrap) *overlay.Generator {
	g, err := overlay.NewGenerator(engine, &cfg.Overlay, system.Getwd())
	if err != nil {
		slog.Error("叠加层初始化失败", "err", err)
		panic(err)
	}
	return g
}

func NewAudioBus() *audio.Bus {
	return audio.NewBus()
}

func NewAudioPlayer(cfg *conf.Bootstrap, bus *audio.Bus) *audio.Player {
	return audio.NewPlayer(cfg.Audio.Folder, bus)
}

func NewAudioBroadcast(cfg *conf.Bootstrap, player *audio.Player, bus *audio.Bus) *audio.Broadcast {
	return audio.NewBroadcast(cfg, player, bus)
}

func NewTimelapseStore(db *gorm.DB) timelapse.Storer {
	return timelapsedb.NewDB(db).AutoMigrate(orm.GetEnabledAutoMigrate())
}

func NewTimelapseCatalog(store timelapse.Storer) *timelapse.Catalog {
	return timelapse.NewCatalog(store)
}

func NewTimelapseRecorder(cfg *conf.Bootstrap, streamCore stream.Core, engine moonraker.Engine, catalog *timelapse.Catalog) *timelapse.Recorder {
	return timelapse.NewRecorder(cfg, streamCore, &engine, catalog)
}
