package timelapse

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ixugo/goddd/pkg/orm"
	"gorm.io/gorm"
)

type memStore struct {
	videos []*Video
}

func (m *memStore) Video() VideoStorer { return m }

func (m *memStore) Find(_ context.Context, out *[]*Video, _ orm.Pager, _ ...orm.QueryOption) (int64, error) {
	*out = append(*out, m.videos...)
	return int64(len(m.videos)), nil
}

func (m *memStore) Get(context.Context, *Video, ...orm.QueryOption) error {
	return gorm.ErrRecordNotFound
}

func (m *memStore) Add(_ context.Context, v *Video) error {
	m.videos = append(m.videos, v)
	return nil
}

func (m *memStore) Edit(context.Context, *Video, func(*Video), ...orm.QueryOption) error {
	return nil
}

func (m *memStore) Del(context.Context, *Video, ...orm.QueryOption) error {
	return nil
}

// TestPlaylist 成片列表拼成 VOD 点播单
func TestPlaylist(t *testing.T) {
	store := memStore{videos: []*Video{
		{ID: 1, Name: "benchy", Path: "/t/benchy/benchy.mp4", DurationSec: 12.5},
		{ID: 2, Name: "tower", Path: "/t/tower/tower.mp4", DurationSec: 30},
	}}
	c := NewCatalog(&store)

	out, err := c.Playlist(context.Background(), func(v *Video) string {
		return "/api/timelapses/videos/" + v.Name
	})
	if err != nil {
		t.Fatal(err)
	}
	text := string(out)
	for _, want := range []string{
		"#EXTM3U",
		"#EXT-X-PLAYLIST-TYPE:VOD",
		"/api/timelapses/videos/benchy",
		"/api/timelapses/videos/tower",
		"#EXT-X-ENDLIST",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("playlist missing %q:\n%s", want, text)
		}
	}
}

// TestRegisterUsesEncodeSettings 成片时长按编码时的帧率与定格时长计算
func TestRegisterUsesEncodeSettings(t *testing.T) {
	store := memStore{}
	c := NewCatalog(&store)
	s := &Session{name: "benchy", dir: t.TempDir()}
	s.frameCount.Store(60)

	if err := c.Register(context.Background(), s, filepath.Join(s.dir, "benchy.mp4"), 20, 3); err != nil {
		t.Fatal(err)
	}
	if len(store.videos) != 1 {
		t.Fatalf("videos = %d, want 1", len(store.videos))
	}
	if got := store.videos[0].DurationSec; got != 6 {
		t.Errorf("duration = %v, want 6", got)
	}
}
