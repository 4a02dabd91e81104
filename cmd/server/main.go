package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go3dp/printcam/internal/app"
	"github.com/go3dp/printcam/internal/conf"
	"github.com/ixugo/goddd/pkg/system"
)

// buildVersion 构建时通过 -ldflags 注入
var buildVersion = "dev"

func main() {
	confPath := flag.String("conf", filepath.Join(system.Getwd(), "configs", "config.toml"), "配置文件路径")
	flag.Parse()

	bc, err := conf.SetupConfig(*confPath)
	if err != nil {
		slog.Error("配置加载失败", "path", *confPath, "err", err)
		os.Exit(1)
	}
	bc.BuildVersion = buildVersion
	bc.ConfigDir = filepath.Dir(*confPath)

	level := slog.LevelInfo
	if bc.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, bc); err != nil && err != http.ErrServerClosed {
		slog.Error("服务退出", "err", err)
		os.Exit(1)
	}
	slog.Info("再见")
}
