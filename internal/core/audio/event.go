// Package audio 音频节目：曲库播放器与面向多订阅者的 MP3 广播
package audio

// EndReason 曲目结束原因
type EndReason string

const (
	EndNatural EndReason = "natural" // 播放完成
	EndSkip    EndReason = "skip"    // 用户切歌
	EndClear   EndReason = "clear"   // 队列被清空
	EndError   EndReason = "error"   // 编码器异常
)

// EventKind 播放器内部事件类型
type EventKind int

const (
	TrackStarted EventKind = iota + 1
	TrackEnded
	InterruptRequested
	EnabledChanged
)

// Event 播放器与广播之间的控制事件
type Event struct {
	Kind    EventKind
	Path    string
	Reason  EndReason
	Enabled bool
}

// Bus 单消费者事件总线，广播监听循环是唯一消费者
// 发布绝不阻塞，总线拥塞时丢弃最旧事件
type Bus struct {
	ch chan Event
}

func NewBus() *Bus {
	return &Bus{ch: make(chan Event, 16)}
}

// Publish 非阻塞发布
func (b *Bus) Publish(ev Event) {
	for {
		select {
		case b.ch <- ev:
			return
		default:
			// 丢最旧，保最新
			select {
			case <-b.ch:
			default:
			}
		}
	}
}

// C 事件通道，供广播监听循环消费
func (b *Bus) C() <-chan Event {
	return b.ch
}
