package timelapse

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ixugo/goddd/pkg/orm"
	"gorm.io/gorm"
)

// cleanupStore 按调用顺序逐条弹出，模拟删除落库
type cleanupStore struct {
	videos []*Video
}

func (m *cleanupStore) Video() VideoStorer { return m }

func (m *cleanupStore) Find(_ context.Context, out *[]*Video, _ orm.Pager, _ ...orm.QueryOption) (int64, error) {
	*out = append(*out, m.videos...)
	return int64(len(m.videos)), nil
}

func (m *cleanupStore) Get(context.Context, *Video, ...orm.QueryOption) error {
	return gorm.ErrRecordNotFound
}

func (m *cleanupStore) Add(_ context.Context, v *Video) error {
	m.videos = append(m.videos, v)
	return nil
}

func (m *cleanupStore) Edit(context.Context, *Video, func(*Video), ...orm.QueryOption) error {
	return nil
}

func (m *cleanupStore) Del(context.Context, *Video, ...orm.QueryOption) error {
	if len(m.videos) > 0 {
		m.videos = m.videos[1:]
	}
	return nil
}

// TestCleanupExpired 过期成片连同会话目录一并清理
func TestCleanupExpired(t *testing.T) {
	root := t.TempDir()

	mkSession := func(name string) string {
		dir := filepath.Join(root, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		for _, f := range []string{"frame_000000.jpg", name + ".mp4"} {
			if err := os.WriteFile(filepath.Join(dir, f), []byte("x"), 0o644); err != nil {
				t.Fatal(err)
			}
		}
		return dir
	}
	benchy := mkSession("benchy")
	tower := mkSession("tower")

	// 根目录之外的路径不许动文件
	outside := filepath.Join(t.TempDir(), "keep.mp4")
	if err := os.WriteFile(outside, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := cleanupStore{videos: []*Video{
		{ID: 1, Name: "benchy", Path: filepath.Join(benchy, "benchy.mp4")},
		{ID: 2, Name: "tower", Path: filepath.Join(tower, "tower.mp4")},
		{ID: 3, Name: "keep", Path: outside},
	}}
	c := NewCatalog(&store)
	c.cleanupExpired(context.Background(), root, 30)

	for _, dir := range []string{benchy, tower} {
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Errorf("期望目录被清理 %s", dir)
		}
	}
	if _, err := os.Stat(outside); err != nil {
		t.Errorf("根目录外的文件不应被删除: %v", err)
	}
	if len(store.videos) != 0 {
		t.Errorf("期望记录全部删除, got %d", len(store.videos))
	}
}
