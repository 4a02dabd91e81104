package timelapse

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/grafov/m3u8"
	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/reason"
	"github.com/jinzhu/copier"
)

// Storer data persistence
type Storer interface {
	Video() VideoStorer
}

// VideoStorer Instantiation interface
type VideoStorer interface {
	Find(context.Context, *[]*Video, orm.Pager, ...orm.QueryOption) (int64, error)
	Get(context.Context, *Video, ...orm.QueryOption) error
	Add(context.Context, *Video) error
	Edit(context.Context, *Video, func(*Video), ...orm.QueryOption) error
	Del(context.Context, *Video, ...orm.QueryOption) error
}

// Catalog 成片档案领域
type Catalog struct {
	store Storer
}

func NewCatalog(store Storer) *Catalog {
	return &Catalog{store: store}
}

// Register 成片落库，重复登记同一路径时更新
// frameRate 与 padSeconds 取编码成片时的实际值，时长按其推算
func (c *Catalog) Register(ctx context.Context, s *Session, videoPath string, frameRate, padSeconds int) error {
	var size int64
	if fi, err := os.Stat(videoPath); err == nil {
		size = fi.Size()
	}
	if frameRate <= 0 {
		frameRate = defaultFrameRate
	}
	if padSeconds <= 0 {
		padSeconds = defaultPadSeconds
	}
	frames := s.frameCount.Load()
	v := Video{
		Name:        s.name,
		Path:        videoPath,
		Size:        size,
		FrameCount:  frames,
		DurationSec: float64(frames)/float64(frameRate) + float64(padSeconds),
		Slicer:      s.slicer,
		JobFilename: s.meta.JobFilename,
		YouTubeURL:  s.meta.YouTubeURL,
		StartedAt:   orm.Time{Time: s.startTime},
	}

	var exist Video
	err := c.store.Video().Get(ctx, &exist, orm.Where("path=?", videoPath))
	if err == nil {
		return c.store.Video().Edit(ctx, &exist, func(b *Video) {
			b.Size = v.Size
			b.FrameCount = v.FrameCount
			b.DurationSec = v.DurationSec
			b.YouTubeURL = v.YouTubeURL
		}, orm.Where("id=?", exist.ID))
	}
	if !orm.IsErrRecordNotFound(err) {
		return reason.ErrDB.Withf(`Get path[%s] err[%s]`, videoPath, err.Error())
	}
	if err := c.store.Video().Add(ctx, &v); err != nil {
		return reason.ErrDB.Withf(`Add err[%s]`, err.Error())
	}
	return nil
}

// FindVideos 分页查询成片
func (c *Catalog) FindVideos(ctx context.Context, in *FindVideosInput) ([]*Video, int64, error) {
	query := orm.NewQuery(2).OrderBy("created_at DESC")
	if in.Name != "" {
		query.Where("name LIKE ?", "%"+in.Name+"%")
	}
	if in.Slicer != "" {
		query.Where("slicer = ?", in.Slicer)
	}
	items := make([]*Video, 0, in.Limit())
	total, err := c.store.Video().Find(ctx, &items, in, query.Encode()...)
	if err != nil {
		return nil, 0, reason.ErrDB.Withf(`Find in[%+v] err[%s]`, in, err.Error())
	}
	return items, total, nil
}

// GetVideo 单条成片
func (c *Catalog) GetVideo(ctx context.Context, id int64) (*Video, error) {
	var out Video
	if err := c.store.Video().Get(ctx, &out, orm.Where("id=?", id)); err != nil {
		if orm.IsErrRecordNotFound(err) {
			return nil, reason.ErrNotFound.Withf(`Get id[%d] err[%s]`, id, err.Error())
		}
		return nil, reason.ErrDB.Withf(`Get id[%d] err[%s]`, id, err.Error())
	}
	return &out, nil
}

// EditVideo 补充上传后的视频链接，同时回写 .metadata
func (c *Catalog) EditVideo(ctx context.Context, in *EditVideoInput, id int64) (*Video, error) {
	var out Video
	if err := c.store.Video().Edit(ctx, &out, func(b *Video) {
		if err := copier.Copy(b, in); err != nil {
			slog.ErrorContext(ctx, "Copy", "err", err)
		}
	}, orm.Where("id=?", id)); err != nil {
		return nil, reason.ErrDB.Withf(`Edit id[%d] err[%s]`, id, err.Error())
	}
	dir := filepath.Dir(out.Path)
	if md, err := ReadMetadata(dir); err == nil {
		md.YouTubeURL = in.YouTubeURL
		_ = WriteMetadata(dir, md)
	}
	return &out, nil
}

// DelVideo 删除档案，removeFile 为真时连同成片文件
func (c *Catalog) DelVideo(ctx context.Context, id int64, removeFile bool) error {
	var out Video
	if err := c.store.Video().Del(ctx, &out, orm.Where("id=?", id)); err != nil {
		if orm.IsErrRecordNotFound(err) {
			return reason.ErrNotFound.Withf(`Del id[%d] err[%s]`, id, err.Error())
		}
		return reason.ErrDB.Withf(`Del id[%d] err[%s]`, id, err.Error())
	}
	if removeFile && out.Path != "" {
		_ = os.Remove(out.Path)
	}
	return nil
}

// Playlist 把全部成片拼成 VOD 点播列表，urlFor 负责生成可访问地址
func (c *Catalog) Playlist(ctx context.Context, urlFor func(*Video) string) ([]byte, error) {
	var items []*Video
	query := orm.NewQuery(1).OrderBy("created_at ASC")
	pager := FindVideosInput{}
	pager.Page = 1
	pager.Size = 1000
	if _, err := c.store.Video().Find(ctx, &items, &pager, query.Encode()...); err != nil {
		return nil, reason.ErrDB.Withf(`Find err[%s]`, err.Error())
	}

	pl, err := m3u8.NewMediaPlaylist(0, uint(len(items)+1))
	if err != nil {
		return nil, err
	}
	for _, v := range items {
		if err := pl.Append(urlFor(v), v.DurationSec, v.Name); err != nil {
			return nil, err
		}
	}
	pl.MediaType = m3u8.VOD
	pl.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(pl.Encode()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
