package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go3dp/printcam/internal/conf"
	"github.com/go3dp/printcam/internal/web/api"
)

// Run 组装依赖并运行服务，ctx 取消后按序关停
func Run(ctx context.Context, bc *conf.Bootstrap) error {
	uc, cleanup, err := wireApp(bc)
	if err != nil {
		return fmt.Errorf("app: wire: %w", err)
	}
	defer cleanup()

	// 后台循环：叠加层文字、音频广播、延时摄影调度
	loopCtx, cancelLoops := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Go(func() { uc.Generator.Run(loopCtx) })
	wg.Go(func() { uc.Broadcast.Run(loopCtx) })
	wg.Go(func() { uc.Recorder.Run(loopCtx) })
	wg.Go(func() { uc.Catalog.StartCleanupWorker(loopCtx, bc.Timelapse.Root, bc.Timelapse.RetainDays) })

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", bc.Server.HTTP.Port),
		Handler:           api.NewHTTPHandler(uc),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http 服务启动", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		cancelLoops()
		wg.Wait()
		return err
	case <-ctx.Done():
	}

	// 关停顺序：先停调度器，再结束录制会话，然后断推流与编码器，最后收 http
	slog.Info("开始关停")
	cancelLoops()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	uc.Recorder.StopAll(stopCtx)
	uc.Publish.Stop()
	wg.Wait()

	if err := srv.Shutdown(stopCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
