package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/loginserver/internal/config"
	"github.com/l1jgo/loginserver/internal/core/event"
	"github.com/l1jgo/loginserver/internal/persist"
	"github.com/l1jgo/loginserver/internal/telemetry"
)

type memAudit struct {
	mu      sync.Mutex
	entries []persist.AuditEntry
}

func (m *memAudit) WriteBatch(_ context.Context, entries []persist.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entries...)
	return nil
}

func TestAuditReaderNilWhenDisabled(t *testing.T) {
	repo := persist.NewAuditRepo(nil)

	if r := auditReader(config.AuditConfig{}, repo); r != nil {
		t.Fatalf("reader = %v, want nil interface", r)
	}
	if r := auditReader(config.AuditConfig{Enabled: true}, repo); r == nil {
		t.Fatalf("reader is nil with auditing enabled")
	}
}

func TestAuditKeepsPumpFinalDispatch(t *testing.T) {
	bus := event.NewBus(zap.NewNop())
	w := &memAudit{}
	sink := telemetry.NewAuditSink(w, time.Hour, 100, zap.NewNop())
	sink.Attach(bus)
	stopAudit := runAudit(sink)

	ctx, cancel := context.WithCancel(context.Background())
	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		bus.Pump(ctx, time.Hour)
	}()

	// only the pump's shutdown dispatch delivers this
	event.Emit(bus, event.LoginRejected{IP: "10.0.0.1", Reason: "IpBanned"})
	cancel()
	<-pumped
	stopAudit()
	stopAudit()

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.entries) != 1 || w.entries[0].Detail != "IpBanned" {
		t.Fatalf("entries = %+v", w.entries)
	}
}
