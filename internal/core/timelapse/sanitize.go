package timelapse

import (
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// 文件名里不允许或容易出事的字符，统一换成下划线
const unsafeChars = "<>:\"/\\|?*" + " -()[]{}:;,.#"

// SanitizeName 把打印任务名变成安全的目录名
// 去扩展名，& 换 and，非法字符与标点换下划线，压缩并修剪下划线，空结果用 unknown
func SanitizeName(name string) string {
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = norm.NFKC.String(name)
	name = strings.ReplaceAll(name, "&", "and")

	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		bad := r < 0x20 || strings.ContainsRune(unsafeChars, r)
		if bad {
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
			continue
		}
		if r == '_' {
			if lastUnderscore {
				continue
			}
			lastUnderscore = true
		} else {
			lastUnderscore = false
		}
		b.WriteRune(r)
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "unknown"
	}
	return out
}
