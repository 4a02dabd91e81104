// Package stream 上游 MJPEG 摄像头代理
// 摄像头不可达时退化为合成黑帧源，保证下游管线不断流
package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go3dp/printcam/internal/conf"
)

// Boundary 合成流使用的 multipart 分隔符
const Boundary = "printcamframe"

// Core 摄像头源业务域
type Core struct {
	conf *conf.Stream

	// 拉流不限时，快照单独限时
	streamCli *http.Client
	snapCli   *http.Client
}

func NewCore(cfg *conf.Stream) Core {
	return Core{
		conf: cfg,
		streamCli: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost:   8,
				ResponseHeaderTimeout: 5 * time.Second,
			},
		},
		snapCli: &http.Client{Timeout: 8 * time.Second},
	}
}

// HasUpstream 是否配置了上游摄像头
func (c Core) HasUpstream() bool {
	return c.conf.CameraURL != ""
}

// StreamURL 叠加层编码器拉流地址（本机回环，见 web 路由 /stream/source）
func (c Core) UpstreamURL() string { return c.conf.CameraURL }

// snapshotURL 上游快照地址，未配置时从拉流地址推导 ?action=snapshot
func (c Core) snapshotURL() string {
	if c.conf.SnapshotURL != "" {
		return c.conf.SnapshotURL
	}
	if c.conf.CameraURL == "" {
		return ""
	}
	u, err := url.Parse(c.conf.CameraURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("action", "snapshot")
	u.RawQuery = q.Encode()
	return u.String()
}

// OpenStream 打开 MJPEG 流，返回字节流与 Content-Type
// 上游不可达时返回合成源，调用方负责 Close
func (c Core) OpenStream(ctx context.Context) (io.ReadCloser, string) {
	if c.HasUpstream() {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.conf.CameraURL, nil)
		if err == nil {
			resp, err := c.streamCli.Do(req)
			if err == nil {
				ct := resp.Header.Get("Content-Type")
				if strings.HasPrefix(ct, "multipart/x-mixed-replace") {
					return resp.Body, ct
				}
				_ = resp.Body.Close()
				slog.WarnContext(ctx, "上游返回了非 MJPEG 内容，切换合成源", "content_type", ct)
			} else {
				slog.WarnContext(ctx, "上游摄像头不可达，切换合成源", "err", err)
			}
		}
	}
	return c.openSynthetic(ctx), fmt.Sprintf("multipart/x-mixed-replace; boundary=%s", Boundary)
}

// Snapshot 抓取一张 JPEG
// 优先上游快照接口，否则解析一帧 MJPEG，上游缺席时返回合成黑帧
func (c Core) Snapshot(ctx context.Context) ([]byte, error) {
	if !c.HasUpstream() {
		return c.blackJPEG()
	}

	if u := c.snapshotURL(); u != "" {
		if b, err := c.fetchSnapshot(ctx, u); err == nil {
			return b, nil
		}
	}

	body, _ := c.OpenStream(ctx)
	defer body.Close()
	return ExtractJPEG(body)
}

// fetchSnapshot 请求上游的快照形式，仅当返回图片内容时透传
func (c Core) fetchSnapshot(ctx context.Context, snapURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, snapURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.snapCli.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stream: snapshot status %d", resp.StatusCode)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "image/") {
		return nil, fmt.Errorf("stream: snapshot content-type %q", resp.Header.Get("Content-Type"))
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxFrameSize))
}
