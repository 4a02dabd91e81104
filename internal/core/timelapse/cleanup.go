package timelapse

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/web"
)

// StartCleanupWorker 启动定时清理协程，每天执行一次
// days 指定成片保留天数，超期的成片连同帧目录一起删除
func (c *Catalog) StartCleanupWorker(ctx context.Context, root string, days int) {
	if days <= 0 {
		slog.Info("成片清理未启用", "retain_days", days)
		return
	}

	slog.Info("成片清理协程已启动", "retain_days", days)

	c.cleanupExpired(ctx, root, days)

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cleanupExpired(ctx, root, days)
		}
	}
}

// cleanupExpired 分批清理过期成片，先删文件再删记录
func (c *Catalog) cleanupExpired(ctx context.Context, root string, days int) {
	cutoff := time.Now().AddDate(0, 0, -days)

	slog.Info("开始清理过期成片", "cutoff_time", cutoff.Format(time.DateTime), "retain_days", days)

	batchSize := 100
	totalDeleted := 0
	totalDirsDeleted := 0

	absRoot, err := filepath.Abs(root)
	if err != nil {
		slog.Error("解析成片根目录失败", "root", root, "err", err)
		return
	}

	for {
		var videos []*Video
		pager := web.PagerFilter{Page: 1, Size: batchSize}
		_, err := c.store.Video().Find(ctx, &videos, &pager,
			orm.Where("created_at < ?", cutoff),
		)
		if err != nil {
			slog.Error("查询过期成片失败", "err", err)
			break
		}
		if len(videos) == 0 {
			break
		}

		batchDeleted := 0
		for _, v := range videos {
			if err := c.store.Video().Del(ctx, &Video{}, orm.Where("id=?", v.ID)); err != nil {
				slog.Warn("删除成片记录失败", "id", v.ID, "err", err)
				continue
			}
			totalDeleted++
			batchDeleted++
			if v.Path == "" {
				continue
			}
			// 只清理根目录下的会话目录，路径异常时不动文件
			dir, err := filepath.Abs(filepath.Dir(v.Path))
			if err != nil || !strings.HasPrefix(dir, absRoot+string(filepath.Separator)) {
				slog.Warn("成片路径不在根目录内，跳过文件清理", "path", v.Path)
				continue
			}
			if err := os.RemoveAll(dir); err != nil {
				slog.Warn("删除成片目录失败", "dir", dir, "err", err)
			} else {
				totalDirsDeleted++
			}
		}
		// 本批一条都没删掉说明卡住了，避免死循环
		if batchDeleted == 0 {
			break
		}
	}

	cleanupEmptyDirs(absRoot)

	slog.Info("过期成片清理完成",
		"records_deleted", totalDeleted,
		"dirs_deleted", totalDirsDeleted,
	)
}

// cleanupEmptyDirs 递归删除空目录
func cleanupEmptyDirs(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			subDir := filepath.Join(dir, entry.Name())
			cleanupEmptyDirs(subDir)

			subEntries, err := os.ReadDir(subDir)
			if err == nil && len(subEntries) == 0 {
				if err := os.Remove(subDir); err == nil {
					slog.Debug("已移除空目录", "path", subDir)
				}
			}
		}
	}
}
