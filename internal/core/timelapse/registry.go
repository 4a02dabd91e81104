package timelapse

import (
	"sync"

	"github.com/ixugo/goddd/pkg/conc"
)

// Registry 活动会话表，读者无锁快照，增删走单写锁
type Registry struct {
	mu sync.Mutex
	m  conc.Map[string, *Session]
}

func NewRegistry() *Registry {
	return &Registry{}
}

// TryAdd 已存在同名会话时返回 false
func (r *Registry) TryAdd(name string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, loaded := r.m.LoadOrStore(name, s)
	return !loaded
}

// TryRemove 摘除并返回会话
func (r *Registry) TryRemove(name string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m.Load(name)
	if !ok {
		return nil, false
	}
	r.m.Delete(name)
	return s, true
}

func (r *Registry) TryGet(name string) (*Session, bool) {
	return r.m.Load(name)
}

// Snapshot 当前所有会话的引用切片
func (r *Registry) Snapshot() []*Session {
	out := make([]*Session, 0, 4)
	r.m.Range(func(_ string, s *Session) bool {
		out = append(out, s)
		return true
	})
	return out
}

func (r *Registry) Keys() []string {
	out := make([]string, 0, 4)
	r.m.Range(func(k string, _ *Session) bool {
		out = append(out, k)
		return true
	})
	return out
}
