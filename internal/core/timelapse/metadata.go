package timelapse

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MetadataFileName 会话目录内的元数据伴随文件
const MetadataFileName = ".metadata"

// Metadata 会话的磁盘侧元数据，逐行 Key=Value
type Metadata struct {
	CreatedAt   time.Time
	YouTubeURL  string
	JobFilename string // 打印机上报的 gcode 文件名，重启后用于续录匹配
}

// ReadMetadata 解析 .metadata，键不区分大小写，未知键忽略
// 裸的含 youtube 的绝对 URL 行宽容地当作 YouTubeUrl
func ReadMetadata(dir string) (Metadata, error) {
	var md Metadata
	f, err := os.Open(filepath.Join(dir, MetadataFileName))
	if err != nil {
		return md, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			if isYouTubeURL(line) {
				md.YouTubeURL = line
			}
			continue
		}
		v = strings.TrimSpace(v)
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "createdat":
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				md.CreatedAt = t.UTC()
			}
		case "youtubeurl":
			md.YouTubeURL = v
		case "moonraker_filename":
			md.JobFilename = v
		}
	}
	return md, sc.Err()
}

func isYouTubeURL(s string) bool {
	return (strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")) &&
		strings.Contains(strings.ToLower(s), "youtube")
}

// WriteMetadata 全量重写 .metadata
func WriteMetadata(dir string, md Metadata) error {
	var b strings.Builder
	if !md.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "CreatedAt=%s\n", md.CreatedAt.UTC().Format(time.RFC3339))
	}
	if md.JobFilename != "" {
		fmt.Fprintf(&b, "moonraker_filename=%s\n", md.JobFilename)
	}
	if md.YouTubeURL != "" {
		fmt.Fprintf(&b, "YouTubeUrl=%s\n", md.YouTubeURL)
	}
	return os.WriteFile(filepath.Join(dir, MetadataFileName), []byte(b.String()), 0o644)
}
