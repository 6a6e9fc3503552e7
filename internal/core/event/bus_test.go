package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestEmitIsDeliveredNextDispatch(t *testing.T) {
	b := NewBus(zap.NewNop())
	var got []string
	Subscribe(b, func(e LoginRejected) { got = append(got, e.Reason) })

	Emit(b, LoginRejected{Reason: "IpBanned"})
	b.DispatchAll()
	if len(got) != 0 {
		t.Fatalf("delivered before swap: %v", got)
	}

	b.SwapBuffers()
	b.DispatchAll()
	if len(got) != 1 || got[0] != "IpBanned" {
		t.Fatalf("got %v", got)
	}

	b.SwapBuffers()
	b.DispatchAll()
	if len(got) != 1 {
		t.Fatalf("event delivered twice: %v", got)
	}
}

func TestHandlersAreTyped(t *testing.T) {
	b := NewBus(zap.NewNop())
	var accepted, rejected int
	Subscribe(b, func(LoginAccepted) { accepted++ })
	Subscribe(b, func(LoginRejected) { rejected++ })

	Emit(b, LoginAccepted{})
	Emit(b, LoginAccepted{})
	Emit(b, LoginRejected{})
	b.SwapBuffers()
	b.DispatchAll()

	if accepted != 2 || rejected != 1 {
		t.Fatalf("accepted=%d rejected=%d", accepted, rejected)
	}
}

func TestSubscribeDuringDispatch(t *testing.T) {
	b := NewBus(zap.NewNop())
	var first, late int
	Subscribe(b, func(LoginAccepted) {
		first++
		Subscribe(b, func(LoginAccepted) { late++ })
	})

	Emit(b, LoginAccepted{})
	Emit(b, LoginAccepted{})
	b.SwapBuffers()
	b.DispatchAll()
	if first != 2 || late != 0 {
		t.Fatalf("first=%d late=%d", first, late)
	}

	Emit(b, LoginAccepted{})
	b.SwapBuffers()
	b.DispatchAll()
	if first != 3 || late != 2 {
		t.Fatalf("first=%d late=%d", first, late)
	}
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	b := NewBus(zap.NewNop())
	var n int
	Subscribe(b, func(LoginAccepted) { panic("boom") })
	Subscribe(b, func(LoginAccepted) { n++ })

	Emit(b, LoginAccepted{})
	b.SwapBuffers()
	b.DispatchAll()
	if n != 1 {
		t.Fatalf("second handler not called")
	}
}

func TestPumpFlushesOnCancel(t *testing.T) {
	b := NewBus(zap.NewNop())
	var mu sync.Mutex
	var n int
	Subscribe(b, func(LoginAccepted) {
		mu.Lock()
		n++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Pump(ctx, time.Hour)
		close(done)
	}()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Emit(b, LoginAccepted{})
		}()
	}
	wg.Wait()
	cancel()
	<-done

	if n != 10 {
		t.Fatalf("delivered %d, want 10", n)
	}
}

func TestEmitOnNilBus(t *testing.T) {
	var b *Bus
	Emit(b, LoginAccepted{}) // must not panic
}
