package event

import (
	"context"
	"reflect"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Bus is a double-buffered event bus. Events emitted between two pumps are
// delivered together on the pump goroutine, so handlers never run on the
// emitting goroutine and never block it.
type Bus struct {
	mu       sync.Mutex // protects back and handlers
	front    map[reflect.Type][]any
	back     map[reflect.Type][]any
	handlers map[reflect.Type][]func(any)
	log      *zap.Logger
}

func NewBus(log *zap.Logger) *Bus {
	return &Bus{
		front:    make(map[reflect.Type][]any),
		back:     make(map[reflect.Type][]any),
		handlers: make(map[reflect.Type][]func(any)),
		log:      log,
	}
}

// Emit queues an event into the back buffer. Safe from any goroutine; a nil
// bus drops the event.
func Emit[T any](b *Bus, event T) {
	if b == nil {
		return
	}
	t := reflect.TypeOf((*T)(nil)).Elem()
	b.mu.Lock()
	b.back[t] = append(b.back[t], event)
	b.mu.Unlock()
}

// Subscribe registers a typed handler for events of type T.
func Subscribe[T any](b *Bus, fn func(T)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := reflect.TypeOf((*T)(nil)).Elem()
	b.handlers[t] = append(b.handlers[t], func(ev any) { fn(ev.(T)) })
}

// SwapBuffers rotates back→front and clears the new back buffer.
// Only the pump goroutine reads front.
func (b *Bus) SwapBuffers() {
	b.mu.Lock()
	b.front, b.back = b.back, b.front
	for k := range b.back {
		b.back[k] = b.back[k][:0]
	}
	b.mu.Unlock()
}

// DispatchAll delivers all front-buffer events to their subscribed handlers.
func (b *Bus) DispatchAll() {
	for t, events := range b.front {
		if len(events) == 0 {
			continue
		}
		b.mu.Lock()
		handlers := slices.Clone(b.handlers[t])
		b.mu.Unlock()
		for _, ev := range events {
			for _, h := range handlers {
				b.call(h, ev)
			}
		}
	}
}

func (b *Bus) call(h func(any), ev any) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("事件處理器 panic",
				zap.String("event", reflect.TypeOf(ev).String()),
				zap.Any("panic", r),
			)
		}
	}()
	h(ev)
}

// Pump swaps and dispatches every interval until ctx is done, then delivers
// whatever is still queued.
func (b *Bus) Pump(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.SwapBuffers()
			b.DispatchAll()
		case <-ctx.Done():
			b.SwapBuffers()
			b.DispatchAll()
			return
		}
	}
}
