package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/l1jgo/loginserver/internal/core/event"
	"github.com/l1jgo/loginserver/internal/persist"
)

const (
	defaultAuditFlush = 2 * time.Second
	defaultAuditBatch = 256
	auditWriteTimeout = 5 * time.Second
)

// AuditWriter persists a batch of audit entries.
type AuditWriter interface {
	WriteBatch(ctx context.Context, entries []persist.AuditEntry) error
}

// AuditSink buffers login outcomes and writes them in batches.
type AuditSink struct {
	mu       sync.Mutex
	pending  []persist.AuditEntry
	writer   AuditWriter
	interval time.Duration
	batch    int
	kick     chan struct{}
	log      *zap.Logger
}

func NewAuditSink(w AuditWriter, interval time.Duration, batch int, log *zap.Logger) *AuditSink {
	if interval <= 0 {
		interval = defaultAuditFlush
	}
	if batch <= 0 {
		batch = defaultAuditBatch
	}
	return &AuditSink{
		writer:   w,
		interval: interval,
		batch:    batch,
		kick:     make(chan struct{}, 1),
		log:      log,
	}
}

// Attach subscribes the sink to the bus.
func (s *AuditSink) Attach(bus *event.Bus) {
	event.Subscribe(bus, func(e event.LoginAccepted) {
		outcome := "accepted"
		if e.CastList {
			outcome = "cast_list"
		}
		s.add(persist.AuditEntry{
			At: e.At, IP: e.IP, Account: e.Account, Version: e.Version, Outcome: outcome,
		})
	})
	event.Subscribe(bus, func(e event.LoginRejected) {
		s.add(persist.AuditEntry{
			At: e.At, IP: e.IP, Account: e.Account, Version: e.Version, Outcome: "rejected", Detail: e.Reason,
		})
	})
}

func (s *AuditSink) add(e persist.AuditEntry) {
	e.EventID = uuid.NewString()
	s.mu.Lock()
	s.pending = append(s.pending, e)
	full := len(s.pending) >= s.batch
	s.mu.Unlock()
	if full {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
}

// Run flushes on every interval or full batch until ctx is done, then flushes
// what is left.
func (s *AuditSink) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-s.kick:
		case <-ctx.Done():
			s.Flush(context.Background())
			return
		}
		s.Flush(ctx)
	}
}

// Flush writes everything pending. Entries of a failed batch are dropped.
func (s *AuditSink) Flush(ctx context.Context) {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, auditWriteTimeout)
	defer cancel()
	if err := s.writer.WriteBatch(ctx, batch); err != nil {
		s.log.Error("登入紀錄寫入失敗", zap.Int("entries", len(batch)), zap.Error(err))
		return
	}
	s.log.Debug("登入紀錄已寫入", zap.Int("entries", len(batch)))
}
