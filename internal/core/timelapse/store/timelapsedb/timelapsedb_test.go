package timelapsedb

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go3dp/printcam/internal/core/timelapse"
	"github.com/ixugo/goddd/pkg/orm"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func generateMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	return gdb, mock
}

func TestVideoGet(t *testing.T) {
	gdb, mock := generateMockDB(t)
	store := NewDB(gdb)

	mock.ExpectQuery(`SELECT \* FROM "timelapse_videos" WHERE path=\$1(.+)LIMIT \$2`).
		WithArgs("/t/benchy/benchy.mp4", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "path"}).
			AddRow(1, "benchy", "/t/benchy/benchy.mp4"))

	var out timelapse.Video
	if err := store.Video().Get(context.Background(), &out, orm.Where("path=?", "/t/benchy/benchy.mp4")); err != nil {
		t.Fatal(err)
	}
	if out.Name != "benchy" {
		t.Errorf("name = %q, want benchy", out.Name)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal("ExpectationsWereMet err:", err)
	}
}

func TestVideoFind(t *testing.T) {
	gdb, mock := generateMockDB(t)
	store := NewDB(gdb)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "timelapse_videos" WHERE name LIKE \$1`).
		WithArgs("%benchy%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT \* FROM "timelapse_videos" WHERE name LIKE \$1(.+)LIMIT \$2`).
		WithArgs("%benchy%", 20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "benchy"))

	var in timelapse.FindVideosInput
	in.Page = 1
	in.Size = 20

	items := make([]*timelapse.Video, 0, 1)
	query := orm.NewQuery(1).Where("name LIKE ?", "%benchy%")
	total, err := store.Video().Find(context.Background(), &items, &in, query.Encode()...)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(items) != 1 {
		t.Errorf("total = %d items = %d, want 1/1", total, len(items))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal("ExpectationsWereMet err:", err)
	}
}
