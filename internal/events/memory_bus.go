package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// MemoryBus is an in-process publisher/subscriber. This service runs as a
// single local instance, so there is no broker; handlers run on their own
// goroutine per subscription and a slow consumer drops events instead of
// blocking the payment flow.
type MemoryBus struct {
	log *zap.Logger

	mu   sync.RWMutex
	subs map[string][]chan Event
}

func NewMemoryBus(log *zap.Logger) *MemoryBus {
	return &MemoryBus{
		log:  log,
		subs: make(map[string][]chan Event),
	}
}

func (b *MemoryBus) Publish(ctx context.Context, stream string, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[stream] {
		select {
		case ch <- event:
		default:
			b.log.Warn("event dropped, slow subscriber", zap.String("stream", stream), zap.String("type", event.Type))
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, stream string, handler func(Event)) error {
	ch := make(chan Event, 64)

	b.mu.Lock()
	b.subs[stream] = append(b.subs[stream], ch)
	b.mu.Unlock()

	go func() {
		defer b.remove(stream, ch)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-ch:
				if !ok {
					return
				}
				handler(event)
			}
		}
	}()

	return nil
}

func (b *MemoryBus) remove(stream string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	chans := b.subs[stream]
	for i, c := range chans {
		if c == ch {
			b.subs[stream] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(b.subs[stream]) == 0 {
		delete(b.subs, stream)
	}
}
