package timelapsedb

import (
	"context"

	"github.com/go3dp/printcam/internal/core/timelapse"
	"github.com/ixugo/goddd/pkg/orm"
	"gorm.io/gorm"
)

var _ timelapse.Storer = (*DB)(nil)

type DB struct {
	db *gorm.DB
}

func NewDB(db *gorm.DB) *DB {
	return &DB{db: db}
}

// AutoMigrate 按需建表
func (d *DB) AutoMigrate(ok bool) *DB {
	if ok {
		_ = d.db.AutoMigrate(&timelapse.Video{})
	}
	return d
}

func (d *DB) Video() timelapse.VideoStorer {
	return &videoDB{db: d.db}
}

type videoDB struct {
	db *gorm.DB
}

func (v *videoDB) scope(ctx context.Context, opts ...orm.QueryOption) *gorm.DB {
	db := v.db.WithContext(ctx).Model(&timelapse.Video{})
	for _, opt := range opts {
		db = opt(db)
	}
	return db
}

func (v *videoDB) Find(ctx context.Context, out *[]*timelapse.Video, pager orm.Pager, opts ...orm.QueryOption) (int64, error) {
	db := v.scope(ctx, opts...)
	var total int64
	if err := db.Count(&total).Error; err != nil {
		return 0, err
	}
	err := db.Limit(pager.Limit()).Offset(pager.Offset()).Find(out).Error
	return total, err
}

func (v *videoDB) Get(ctx context.Context, out *timelapse.Video, opts ...orm.QueryOption) error {
	return v.scope(ctx, opts...).First(out).Error
}

func (v *videoDB) Add(ctx context.Context, in *timelapse.Video) error {
	return v.db.WithContext(ctx).Create(in).Error
}

func (v *videoDB) Edit(ctx context.Context, out *timelapse.Video, changeFn func(*timelapse.Video), opts ...orm.QueryOption) error {
	return v.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		db := tx.Model(&timelapse.Video{})
		for _, opt := range opts {
			db = opt(db)
		}
		if err := db.First(out).Error; err != nil {
			return err
		}
		changeFn(out)
		return tx.Save(out).Error
	})
}

func (v *videoDB) Del(ctx context.Context, out *timelapse.Video, opts ...orm.QueryOption) error {
	db := v.scope(ctx, opts...)
	if err := db.First(out).Error; err != nil {
		return err
	}
	return v.db.WithContext(ctx).Delete(out).Error
}
