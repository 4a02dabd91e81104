package audio

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestPlayer(t *testing.T, files ...string) *Player {
	t.Helper()
	dir := t.TempDir()
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return NewPlayer(dir, NewBus())
}

// TestRescanFiltersAndSorts 曲库只收白名单扩展名，按名称不区分大小写排序
func TestRescanFiltersAndSorts(t *testing.T) {
	p := newTestPlayer(t, "Beta.mp3", "alpha.WAV", "notes.txt", "gamma.ogg")
	st := p.State()
	if len(st.Library) != 3 {
		t.Fatalf("library size = %d, want 3", len(st.Library))
	}
	want := []string{"alpha.WAV", "Beta.mp3", "gamma.ogg"}
	for i, name := range want {
		if st.Library[i].Name != name {
			t.Errorf("library[%d] = %q, want %q", i, st.Library[i].Name, name)
		}
	}
	if st.Library[0].Format != "wav" {
		t.Errorf("format = %q, want wav", st.Library[0].Format)
	}
}

// TestPlaySeedsQueueFromLibrary 队列为空时 Play 以整个曲库播种
func TestPlaySeedsQueueFromLibrary(t *testing.T) {
	p := newTestPlayer(t, "a.mp3", "b.mp3")
	p.Play()
	st := p.State()
	if !st.Playing {
		t.Fatal("expected playing")
	}
	if len(st.Queue) != 2 {
		t.Fatalf("queue size = %d, want 2", len(st.Queue))
	}
	if st.Current == nil || st.Current.Name != "a.mp3" {
		t.Errorf("current = %+v, want a.mp3", st.Current)
	}
}

// TestNextAdvancesAndStopsAtEnd repeat=none 时队列到头停止播放
func TestNextAdvancesAndStopsAtEnd(t *testing.T) {
	p := newTestPlayer(t, "a.mp3", "b.mp3")
	p.Play()
	if !p.OnTrackComplete() {
		t.Fatal("expected advance to b.mp3")
	}
	if cur := p.Current(); cur == nil || cur.Name != "b.mp3" {
		t.Fatalf("current = %+v, want b.mp3", cur)
	}
	if p.OnTrackComplete() {
		t.Error("expected stop at end of queue")
	}
	if p.State().Playing {
		t.Error("expected playing=false after queue exhausted")
	}
}

// TestRepeatAllWraps repeat=all 播完回到队首
func TestRepeatAllWraps(t *testing.T) {
	p := newTestPlayer(t, "a.mp3", "b.mp3")
	if err := p.SetRepeat(RepeatAll); err != nil {
		t.Fatal(err)
	}
	p.Play()
	p.OnTrackComplete()
	if !p.OnTrackComplete() {
		t.Fatal("expected wrap with repeat=all")
	}
	if cur := p.Current(); cur == nil || cur.Name != "a.mp3" {
		t.Errorf("current = %+v, want a.mp3", cur)
	}
}

// TestRepeatOneStaysOnTrack repeat=one 播完仍停在当前曲目
func TestRepeatOneStaysOnTrack(t *testing.T) {
	p := newTestPlayer(t, "a.mp3", "b.mp3")
	if err := p.SetRepeat(RepeatOne); err != nil {
		t.Fatal(err)
	}
	p.Play()
	if !p.OnTrackComplete() {
		t.Fatal("expected replay with repeat=one")
	}
	if cur := p.Current(); cur == nil || cur.Name != "a.mp3" {
		t.Errorf("current = %+v, want a.mp3", cur)
	}
}

// TestShuffleCoversAllBeforeRepeat shuffle+repeat=all 先播完所有再重置
func TestShuffleCoversAllBeforeRepeat(t *testing.T) {
	p := newTestPlayer(t, "a.mp3", "b.mp3", "c.mp3", "d.mp3")
	if err := p.SetRepeat(RepeatAll); err != nil {
		t.Fatal(err)
	}
	p.SetShuffle(true)
	p.Play()

	seen := map[string]int{}
	seen[p.Current().Name]++
	for i := 0; i < 3; i++ {
		if !p.OnTrackComplete() {
			t.Fatal("unexpected stop")
		}
		seen[p.Current().Name]++
	}
	if len(seen) != 4 {
		t.Errorf("first pass played %d distinct tracks, want 4: %v", len(seen), seen)
	}
}

// TestShuffleStopsWhenExhausted shuffle+repeat=none 播完全部后停止
func TestShuffleStopsWhenExhausted(t *testing.T) {
	p := newTestPlayer(t, "a.mp3", "b.mp3")
	p.SetShuffle(true)
	p.Play()
	p.OnTrackComplete()
	if p.OnTrackComplete() {
		t.Error("expected stop after all tracks played once")
	}
}

// TestEnqueueUnknownTrack 点播曲库外文件应报错
func TestEnqueueUnknownTrack(t *testing.T) {
	p := newTestPlayer(t, "a.mp3")
	if err := p.Enqueue("missing.mp3"); err == nil {
		t.Error("expected error for unknown track")
	}
}

// TestRemoveCurrentAdvances 移除正在播放的曲目自动切下一首
func TestRemoveCurrentAdvances(t *testing.T) {
	p := newTestPlayer(t, "a.mp3", "b.mp3")
	p.Play()
	p.Remove("a.mp3")
	st := p.State()
	if len(st.Queue) != 1 {
		t.Fatalf("queue size = %d, want 1", len(st.Queue))
	}
	if st.Current == nil || st.Current.Name != "b.mp3" {
		t.Errorf("current = %+v, want b.mp3", st.Current)
	}
}

// TestRemoveCurrentPublishesRemovedTrack 结束事件携带被移除曲目而非其前一首
func TestRemoveCurrentPublishesRemovedTrack(t *testing.T) {
	p := newTestPlayer(t, "a.mp3", "b.mp3", "c.mp3")
	p.Play()
	p.Next() // 播到 b
	drain(p.bus)
	p.Remove("b.mp3")

	var endedPath string
	for done := false; !done; {
		select {
		case ev := <-p.bus.C():
			if ev.Kind == TrackEnded {
				endedPath = ev.Path
			}
		default:
			done = true
		}
	}
	if filepath.Base(endedPath) != "b.mp3" {
		t.Errorf("ended path = %q, want b.mp3", endedPath)
	}
	st := p.State()
	if st.Current == nil || st.Current.Name != "c.mp3" {
		t.Errorf("current = %+v, want c.mp3", st.Current)
	}
}

// TestClearStopsPlayback 清空队列后停止并发出 Interrupt
func TestClearStopsPlayback(t *testing.T) {
	bus := NewBus()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.mp3"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := NewPlayer(dir, bus)
	p.Play()
	drain(bus)
	p.Clear()

	st := p.State()
	if st.Playing || len(st.Queue) != 0 {
		t.Errorf("state after clear = %+v", st)
	}
	var sawEnd, sawInterrupt bool
	for done := false; !done; {
		select {
		case ev := <-bus.C():
			switch ev.Kind {
			case TrackEnded:
				if ev.Reason == EndClear {
					sawEnd = true
				}
			case InterruptRequested:
				sawInterrupt = true
			}
		default:
			done = true
		}
	}
	if !sawEnd || !sawInterrupt {
		t.Errorf("events: end=%v interrupt=%v, want both", sawEnd, sawInterrupt)
	}
}

// TestSelectByNameInsertsAndPlays 点播不在队列中的曲目插入并立即播放
func TestSelectByNameInsertsAndPlays(t *testing.T) {
	p := newTestPlayer(t, "a.mp3", "b.mp3", "c.mp3")
	if err := p.Enqueue("a.mp3"); err != nil {
		t.Fatal(err)
	}
	p.Play()
	path, err := p.SelectByName("c.mp3")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "c.mp3" {
		t.Errorf("path = %q, want c.mp3", path)
	}
	if cur := p.Current(); cur == nil || cur.Name != "c.mp3" {
		t.Errorf("current = %+v, want c.mp3", cur)
	}
}

// TestSetRepeatValidation 非法循环模式报错
func TestSetRepeatValidation(t *testing.T) {
	p := newTestPlayer(t)
	if err := p.SetRepeat("bogus"); err == nil {
		t.Error("expected error for invalid repeat mode")
	}
}

func drain(b *Bus) {
	for {
		select {
		case <-b.C():
		default:
			return
		}
	}
}
