package application

import (
	"sync"
	"time"

	"github.com/jinford/feedback-flow/internal/module/collection/domain"
)

// defaultMaxEvents はイベント保持数の既定値です
const defaultMaxEvents = 500

// subscriberBuffer は購読チャネルのバッファ長です
const subscriberBuffer = 64

// EventBus は直近のイベントを保持し、差分読み出しとライブ購読を提供します
type EventBus struct {
	mu          sync.RWMutex
	nextSeq     int64
	maxEvents   int
	events      []domain.Event
	subscribers map[int]chan domain.Event
	nextSubID   int
}

var _ domain.Observer = (*EventBus)(nil)

// NewEventBus は上限付きのインメモリイベントバッファを作成します
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = defaultMaxEvents
	}

	return &EventBus{
		maxEvents:   maxEvents,
		events:      make([]domain.Event, 0, maxEvents),
		subscribers: make(map[int]chan domain.Event),
	}
}

// Publish はイベントに連番とタイムスタンプを付与して追加します
// 購読者のバッファが埋まっている場合、その購読者への配信は捨てます
func (b *EventBus) Publish(event domain.Event) domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]domain.Event(nil), b.events[trim:]...)
	}

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}

	return event
}

// Since は seq より大きい連番のイベントを返します
func (b *EventBus) Since(seq int64) []domain.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]domain.Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// LastSeq は最後に発行した連番を返します
func (b *EventBus) LastSeq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq
}

// Subscribe は以降に発行されるイベントを受け取るチャネルを返します
// 返された関数で購読を解除するとチャネルは閉じられます
func (b *EventBus) Subscribe() (<-chan domain.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSubID
	b.nextSubID++
	ch := make(chan domain.Event, subscriberBuffer)
	b.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subscribers, id)
			close(ch)
		})
	}
}
