package stream

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"sync"
	"time"
)

// blackFrame 按配置分辨率生成一次，后续复用
var (
	blackOnce  sync.Once
	blackBytes []byte
	blackErr   error
)

// blackJPEG 固定分辨率的黑色 JPEG，启动后首个调用方触发编码
func (c Core) blackJPEG() ([]byte, error) {
	blackOnce.Do(func() {
		w, h := c.conf.SyntheticWidth, c.conf.SyntheticHght
		if w <= 0 || h <= 0 {
			w, h = 640, 480
		}
		img := image.NewGray(image.Rect(0, 0, w, h))
		var buf bytes.Buffer
		blackErr = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 60})
		blackBytes = buf.Bytes()
	})
	return blackBytes, blackErr
}

// openSynthetic 合成黑帧 MJPEG 源，低帧率恒定输出
// 摄像头缺席时维持管线连续性，叠加层与推流编码器无感知
func (c Core) openSynthetic(ctx context.Context) io.ReadCloser {
	pr, pw := io.Pipe()

	fps := c.conf.SyntheticFPS
	if fps <= 0 {
		fps = 2
	}

	go func() {
		frame, err := c.blackJPEG()
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		header := fmt.Sprintf("--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", Boundary, len(frame))

		ticker := time.NewTicker(time.Second / time.Duration(fps))
		defer ticker.Stop()
		for {
			if _, err := io.WriteString(pw, header); err != nil {
				return
			}
			if _, err := pw.Write(frame); err != nil {
				return
			}
			if _, err := io.WriteString(pw, "\r\n"); err != nil {
				return
			}
			select {
			case <-ctx.Done():
				_ = pw.CloseWithError(ctx.Err())
				return
			case <-ticker.C:
			}
		}
	}()
	return pr
}
