package publish

import (
	"testing"
	"time"

	"github.com/go3dp/printcam/internal/conf"
)

func testConf() *conf.Bootstrap {
	var cfg conf.Bootstrap
	cfg.Server.HTTP.Port = 8088
	cfg.Broadcast.IngestHost = "rtmp://a.rtmp.youtube.com/live2"
	cfg.Broadcast.StreamKey = "abcd-efgh"
	return &cfg
}

// TestTarget 地址拼接与默认 scheme
func TestTarget(t *testing.T) {
	c := NewCore(testConf())
	got, err := c.Target("")
	if err != nil {
		t.Fatal(err)
	}
	if want := "rtmp://a.rtmp.youtube.com/live2/abcd-efgh"; got != want {
		t.Errorf("Target = %q, want %q", got, want)
	}

	got, err = c.Target("override-key")
	if err != nil {
		t.Fatal(err)
	}
	if want := "rtmp://a.rtmp.youtube.com/live2/override-key"; got != want {
		t.Errorf("Target = %q, want %q", got, want)
	}

	c.cfg.Broadcast.IngestHost = "a.rtmp.youtube.com/live2"
	got, _ = c.Target("")
	if want := "rtmp://a.rtmp.youtube.com/live2/abcd-efgh"; got != want {
		t.Errorf("Target without scheme = %q, want %q", got, want)
	}
}

// TestTargetMissingConfig 缺主机或 key 时报错
func TestTargetMissingConfig(t *testing.T) {
	var cfg conf.Bootstrap
	c := NewCore(&cfg)
	if _, err := c.Target(""); err == nil {
		t.Error("expected error for missing ingest host")
	}
	cfg.Broadcast.IngestHost = "rtmp://host/app"
	if _, err := c.Target(""); err == nil {
		t.Error("expected error for missing stream key")
	}
}

// TestStartTwice 推流中重复 Start 报错
func TestStartTwice(t *testing.T) {
	c := NewCore(testConf())
	c.binPath = "sleep"
	// sleep 吞掉 ffmpeg 参数会立即失败，但状态机已离开 idle
	if err := c.Start(""); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()
	if err := c.Start(""); err == nil {
		t.Error("expected error for double start")
	}
}

// TestReconnectExhaustsToIdle 进程持续失败时按上限重连后回到 idle
func TestReconnectExhaustsToIdle(t *testing.T) {
	cfg := testConf()
	cfg.Broadcast.MaxReconnects = 2
	c := NewCore(cfg)
	c.binPath = "false"

	if err := c.Start(""); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(10 * time.Second)
	for {
		st := c.Status()
		if st.State == StateIdle {
			if st.Attempts <= cfg.Broadcast.MaxReconnects {
				t.Errorf("attempts = %d, want > %d", st.Attempts, cfg.Broadcast.MaxReconnects)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("state = %s, never returned to idle", st.State)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// TestStopCancelsReconnect Stop 中断重连等待并立即回到 idle
func TestStopCancelsReconnect(t *testing.T) {
	cfg := testConf()
	cfg.Broadcast.MaxReconnects = 100
	c := NewCore(cfg)
	c.binPath = "false"

	if err := c.Start(""); err != nil {
		t.Fatal(err)
	}
	// 等进入重连期
	deadline := time.After(5 * time.Second)
	for c.Status().State != StateReconnecting {
		select {
		case <-deadline:
			t.Fatalf("state = %s, never reconnecting", c.Status().State)
		case <-time.After(10 * time.Millisecond):
		}
	}

	begun := time.Now()
	c.Stop()
	if d := time.Since(begun); d > 3*time.Second {
		t.Errorf("Stop took %v", d)
	}
	if st := c.Status().State; st != StateIdle {
		t.Errorf("state after Stop = %s, want idle", st)
	}
}
