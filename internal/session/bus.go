package session

import (
	"sync"

	rig "github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system"
)

// Sink consumes the session's event and data streams. Implementations must
// not block: callbacks run on the measurement worker goroutine.
type Sink interface {
	OnEvent(ev rig.RigEvent)
	OnSample(s rig.MeasurementSample)
}

const defaultSubscriberBuffer = 64

// Bus fans events out to live subscribers (the websocket handler). A slow
// subscriber loses events rather than stalling the measurement loop.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan rig.RigEvent
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan rig.RigEvent)}
}

var _ Sink = (*Bus)(nil)

// Subscribe registers a listener. The returned cancel func must be called to
// release the subscription; the channel is closed by cancel.
func (b *Bus) Subscribe() (<-chan rig.RigEvent, func()) {
	ch := make(chan rig.RigEvent, defaultSubscriberBuffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *Bus) OnEvent(ev rig.RigEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default: // drop for slow consumers
		}
	}
}

func (b *Bus) OnSample(s rig.MeasurementSample) {
	b.OnEvent(rig.RigEvent{
		OccurredAt:  s.RecordedAt,
		Type:        rig.EventSample,
		Description: "Measurement sample ready",
		Metadata:    s,
	})
}
