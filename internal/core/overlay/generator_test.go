package overlay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go3dp/printcam/internal/conf"
	"github.com/go3dp/printcam/pkg/moonraker"
)

func testOverlayConf() *conf.Overlay {
	return &conf.Overlay{
		Template: "State:{state} Nozzle:{nozzle:0}",
		Interval: conf.Duration(time.Second),
		FontSize: 20,
		X:        -1, Y: -1,
		Color:      "white",
		Background: "black@0.5",
	}
}

// TestGeneratorPublish 渲染结果原子落盘
func TestGeneratorPublish(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"status":{
			"print_stats":{"state":"printing"},
			"extruder":{"temperature":210.4}
		}}}`))
	}))
	defer srv.Close()

	engine := moonraker.NewEngine().SetConfig(moonraker.Config{URL: srv.URL})
	g, err := NewGenerator(engine, testOverlayConf(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	g.tick(context.Background())

	b, err := os.ReadFile(g.TextPath())
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "State:printing Nozzle:210" {
		t.Errorf("overlay.txt = %q", b)
	}
	// 没有残留的临时文件
	if _, err := os.Stat(g.TextPath() + ".tmp"); !os.IsNotExist(err) {
		t.Error("tmp file left behind after rename")
	}
}

// TestGeneratorKeepsOldOnFailure 遥测失败时保留旧内容
func TestGeneratorKeepsOldOnFailure(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"result":{"status":{"print_stats":{"state":"standby"}}}}`))
	}))
	defer srv.Close()

	engine := moonraker.NewEngine().SetConfig(moonraker.Config{URL: srv.URL})
	g, err := NewGenerator(engine, testOverlayConf(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	g.tick(context.Background())
	before, _ := os.ReadFile(g.TextPath())

	fail.Store(true)
	g.tick(context.Background())
	after, _ := os.ReadFile(g.TextPath())

	if string(before) != string(after) {
		t.Errorf("content changed on telemetry failure: %q -> %q", before, after)
	}
}
