package stream

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// JPEG 帧标记
var (
	soiMarker = []byte{0xFF, 0xD8}
	eoiMarker = []byte{0xFF, 0xD9}
)

// maxFrameSize 单帧上限，防御损坏的流
const maxFrameSize = 8 << 20

// ExtractJPEG 从 MJPEG 字节流中解析出第一帧完整 JPEG
// 通过 SOI(FFD8)/EOI(FFD9) 标记匹配，不解码图像内容
func ExtractJPEG(r io.Reader) ([]byte, error) {
	br := bufio.NewReaderSize(r, 64*1024)

	// 定位 SOI
	var prev byte
	for {
		b, err := br.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("stream: SOI not found: %w", err)
		}
		if prev == 0xFF && b == 0xD8 {
			break
		}
		prev = b
	}

	buf := bytes.NewBuffer(make([]byte, 0, 256*1024))
	buf.Write(soiMarker)

	// 累积到 EOI
	prev = 0
	for {
		b, err := br.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("stream: EOI not found: %w", err)
		}
		buf.WriteByte(b)
		if prev == 0xFF && b == 0xD9 {
			return buf.Bytes(), nil
		}
		prev = b
		if buf.Len() > maxFrameSize {
			return nil, fmt.Errorf("stream: frame exceeds %d bytes", maxFrameSize)
		}
	}
}

// IsJPEG 校验首尾标记
func IsJPEG(b []byte) bool {
	return len(b) >= 4 && bytes.HasPrefix(b, soiMarker) && bytes.HasSuffix(b, eoiMarker)
}
