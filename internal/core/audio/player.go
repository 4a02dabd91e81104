package audio

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// 扫描允许的扩展名
var allowedExts = map[string]struct{}{
	".mp3": {}, ".wav": {}, ".m4a": {}, ".aac": {},
	".flac": {}, ".ogg": {}, ".opus": {},
}

// IsAllowedExt 扩展名是否在曲库白名单内（上传接口共用）
func IsAllowedExt(name string) bool {
	_, ok := allowedExts[strings.ToLower(filepath.Ext(name))]
	return ok
}

// RepeatMode 循环模式
type RepeatMode string

const (
	RepeatNone RepeatMode = "none"
	RepeatOne  RepeatMode = "one"
	RepeatAll  RepeatMode = "all"
)

// Track 曲库中的一条音轨，Name 在曲库内唯一（含扩展名的文件名）
type Track struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Format string `json:"format"`
}

// State 播放器状态快照
type State struct {
	Library []Track    `json:"library"`
	Queue   []Track    `json:"queue"`
	Index   int        `json:"index"`
	Playing bool       `json:"playing"`
	Shuffle bool       `json:"shuffle"`
	Repeat  RepeatMode `json:"repeat"`
	Current *Track     `json:"current,omitempty"`
}

// Player 播放列表与选曲逻辑，状态变化通过事件总线通知广播
// 曲库变更的唯一所有者，读者通过 State() 获得一致快照
type Player struct {
	m       sync.Mutex
	folder  string
	library []Track
	queue   []Track
	idx     int // 队列中的当前位置，-1 表示未开始
	playing bool
	shuffle bool
	repeat  RepeatMode
	played  map[string]struct{} // shuffle 模式下已播放的 Name 集合
	bus     *Bus
}

func NewPlayer(folder string, bus *Bus) *Player {
	p := Player{
		folder: folder,
		idx:    -1,
		repeat: RepeatNone,
		played: make(map[string]struct{}),
		bus:    bus,
	}
	if err := p.Rescan(); err != nil {
		// 目录不存在时曲库为空，等待上传或 SetFolder
		p.library = nil
	}
	return &p
}

// Rescan 非递归枚举曲库目录，按文件名不区分大小写排序
func (p *Player) Rescan() error {
	p.m.Lock()
	defer p.m.Unlock()
	return p.rescanLocked()
}

func (p *Player) rescanLocked() error {
	entries, err := os.ReadDir(p.folder)
	if err != nil {
		return fmt.Errorf("audio: read folder: %w", err)
	}
	seen := make(map[string]struct{}, len(entries))
	tracks := make([]Track, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !IsAllowedExt(e.Name()) {
			continue
		}
		if _, dup := seen[e.Name()]; dup {
			continue
		}
		seen[e.Name()] = struct{}{}
		tracks = append(tracks, Track{
			Name:   e.Name(),
			Path:   filepath.Join(p.folder, e.Name()),
			Format: strings.TrimPrefix(strings.ToLower(filepath.Ext(e.Name())), "."),
		})
	}
	sort.Slice(tracks, func(i, j int) bool {
		return strings.ToLower(tracks[i].Name) < strings.ToLower(tracks[j].Name)
	})
	p.library = tracks
	return nil
}

// SetFolder 切换曲库目录并重新扫描
func (p *Player) SetFolder(folder string) error {
	p.m.Lock()
	defer p.m.Unlock()
	p.folder = folder
	p.queue = nil
	p.idx = -1
	clear(p.played)
	return p.rescanLocked()
}

func (p *Player) Folder() string {
	p.m.Lock()
	defer p.m.Unlock()
	return p.folder
}

// Enqueue 按名称将曲库中的音轨追加到队列
func (p *Player) Enqueue(names ...string) error {
	p.m.Lock()
	defer p.m.Unlock()
	for _, name := range names {
		t, ok := p.findLocked(name)
		if !ok {
			return fmt.Errorf("audio: track %q not in library", name)
		}
		p.queue = append(p.queue, t)
	}
	return nil
}

// Remove 从队列移除指定名称，移除正在播放的曲目时自动切下一首
func (p *Player) Remove(names ...string) {
	p.m.Lock()
	var removed Track
	removeCurrent := false
	for _, name := range names {
		for i := 0; i < len(p.queue); i++ {
			if p.queue[i].Name != name {
				continue
			}
			if i == p.idx && p.playing && !removeCurrent {
				removeCurrent = true
				removed = p.queue[i]
			}
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			if i < p.idx {
				p.idx--
			} else if i == p.idx {
				p.idx-- // advance 后回到同一位置
			}
			i--
		}
	}
	p.m.Unlock()
	if removeCurrent {
		// 结束事件带被移除曲目的路径，游标此时已指向它处
		p.bus.Publish(Event{Kind: TrackEnded, Path: removed.Path, Reason: EndSkip})
		p.advance(+1)
	}
}

// Clear 清空队列并停止播放
func (p *Player) Clear() {
	p.m.Lock()
	cur := p.currentLocked()
	p.queue = nil
	p.idx = -1
	wasPlaying := p.playing
	p.playing = false
	clear(p.played)
	p.m.Unlock()

	if wasPlaying && cur != nil {
		p.bus.Publish(Event{Kind: TrackEnded, Path: cur.Path, Reason: EndClear})
		p.bus.Publish(Event{Kind: InterruptRequested})
	}
}

// Play 开始播放，队列为空时以曲库顺序播种
func (p *Player) Play() {
	p.m.Lock()
	if p.playing {
		p.m.Unlock()
		return
	}
	if len(p.queue) == 0 {
		p.queue = append(p.queue, p.library...)
	}
	if len(p.queue) == 0 {
		p.m.Unlock()
		return
	}
	p.playing = true
	if p.idx < 0 || p.idx >= len(p.queue) {
		p.idx = p.pickNextLocked()
	}
	cur := p.currentLocked()
	p.m.Unlock()

	if cur != nil {
		p.bus.Publish(Event{Kind: TrackStarted, Path: cur.Path})
		p.bus.Publish(Event{Kind: InterruptRequested})
	}
}

func (p *Player) Pause() {
	p.m.Lock()
	cur := p.currentLocked()
	wasPlaying := p.playing
	p.playing = false
	p.m.Unlock()

	if wasPlaying {
		if cur != nil {
			p.bus.Publish(Event{Kind: TrackEnded, Path: cur.Path, Reason: EndSkip})
		}
		p.bus.Publish(Event{Kind: InterruptRequested})
	}
}

func (p *Player) Toggle() {
	p.m.Lock()
	playing := p.playing
	p.m.Unlock()
	if playing {
		p.Pause()
	} else {
		p.Play()
	}
}

// Next 切下一首，选择逻辑见 pickNextLocked
func (p *Player) Next() {
	p.skip(+1)
}

// Previous 切上一首（shuffle 下等价于随机下一首）
func (p *Player) Previous() {
	p.skip(-1)
}

func (p *Player) skip(dir int) {
	p.m.Lock()
	if len(p.queue) == 0 {
		p.m.Unlock()
		return
	}
	if cur := p.currentLocked(); cur != nil && p.playing {
		p.bus.Publish(Event{Kind: TrackEnded, Path: cur.Path, Reason: EndSkip})
	}
	p.m.Unlock()
	p.advance(dir)
}

// advance 移动游标并广播新曲目，结束事件由调用方负责
func (p *Player) advance(dir int) {
	p.m.Lock()
	if len(p.queue) == 0 {
		p.playing = false
		p.m.Unlock()
		p.bus.Publish(Event{Kind: InterruptRequested})
		return
	}
	if p.shuffle || dir > 0 {
		p.idx = p.pickNextLocked()
	} else {
		p.idx--
		if p.idx < 0 {
			p.idx = len(p.queue) - 1
		}
	}
	p.playing = true
	cur := p.currentLocked()
	p.m.Unlock()

	if cur != nil {
		p.bus.Publish(Event{Kind: TrackStarted, Path: cur.Path})
	}
	p.bus.Publish(Event{Kind: InterruptRequested})
}

// OnTrackComplete 广播编码器自然播完当前曲目后调用
// 返回 false 表示队列到头且 repeat=none，播放停止
func (p *Player) OnTrackComplete() bool {
	p.m.Lock()
	cur := p.currentLocked()
	p.m.Unlock()
	if cur != nil {
		p.bus.Publish(Event{Kind: TrackEnded, Path: cur.Path, Reason: EndNatural})
	}

	p.m.Lock()
	defer p.m.Unlock()
	if !p.playing || len(p.queue) == 0 {
		return false
	}
	if p.repeat == RepeatOne {
		return true // 重选当前曲目
	}
	next := p.pickNextLocked()
	if next < 0 {
		p.playing = false
		return false
	}
	p.idx = next
	return true
}

// pickNextLocked 选出下一个队列下标，返回 -1 表示队列耗尽
// shuffle 时从未播放子集中均匀随机；repeat=all 耗尽后重新播种
func (p *Player) pickNextLocked() int {
	n := len(p.queue)
	if n == 0 {
		return -1
	}
	if p.repeat == RepeatOne && p.idx >= 0 {
		return p.idx
	}

	if p.shuffle {
		if cur := p.currentLocked(); cur != nil {
			p.played[cur.Name] = struct{}{}
		}
		unplayed := make([]int, 0, n)
		for i, t := range p.queue {
			if _, done := p.played[t.Name]; !done {
				unplayed = append(unplayed, i)
			}
		}
		if len(unplayed) == 0 {
			if p.repeat != RepeatAll {
				return -1
			}
			clear(p.played)
			unplayed = unplayed[:0]
			for i := range p.queue {
				unplayed = append(unplayed, i)
			}
		}
		return unplayed[rand.IntN(len(unplayed))]
	}

	next := p.idx + 1
	if next >= n {
		if p.repeat != RepeatAll {
			return -1
		}
		next = 0
	}
	return next
}

// SelectByName 按名称点播，返回所选音轨路径
func (p *Player) SelectByName(name string) (string, error) {
	p.m.Lock()
	t, ok := p.findLocked(name)
	if !ok {
		p.m.Unlock()
		return "", fmt.Errorf("audio: track %q not in library", name)
	}
	// 不在队列中时插入到当前位置之后
	pos := -1
	for i, q := range p.queue {
		if q.Name == name {
			pos = i
			break
		}
	}
	if pos < 0 {
		at := min(p.idx+1, len(p.queue))
		p.queue = append(p.queue[:at], append([]Track{t}, p.queue[at:]...)...)
		pos = at
	}
	p.idx = pos
	p.playing = true
	p.m.Unlock()

	p.bus.Publish(Event{Kind: TrackStarted, Path: t.Path})
	p.bus.Publish(Event{Kind: InterruptRequested})
	return t.Path, nil
}

func (p *Player) SetShuffle(on bool) {
	p.m.Lock()
	p.shuffle = on
	clear(p.played)
	p.m.Unlock()
}

func (p *Player) SetRepeat(mode RepeatMode) error {
	switch mode {
	case RepeatNone, RepeatOne, RepeatAll:
	default:
		return fmt.Errorf("audio: invalid repeat mode %q", mode)
	}
	p.m.Lock()
	p.repeat = mode
	p.m.Unlock()
	return nil
}

// Current 正在播放的音轨，未播放时返回 nil
func (p *Player) Current() *Track {
	p.m.Lock()
	defer p.m.Unlock()
	if !p.playing {
		return nil
	}
	return p.currentLocked()
}

func (p *Player) currentLocked() *Track {
	if p.idx < 0 || p.idx >= len(p.queue) {
		return nil
	}
	t := p.queue[p.idx]
	return &t
}

func (p *Player) findLocked(name string) (Track, bool) {
	for _, t := range p.library {
		if t.Name == name {
			return t, true
		}
	}
	return Track{}, false
}

// State 一致的状态快照
func (p *Player) State() State {
	p.m.Lock()
	defer p.m.Unlock()
	st := State{
		Library: append([]Track(nil), p.library...),
		Queue:   append([]Track(nil), p.queue...),
		Index:   p.idx,
		Playing: p.playing,
		Shuffle: p.shuffle,
		Repeat:  p.repeat,
	}
	if p.playing {
		st.Current = p.currentLocked()
	}
	return st
}
