package net

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/l1jgo/loginserver/internal/net/packet"
	"go.uber.org/zap"
)

// Server accepts TCP connections, creates Sessions and routes each session's
// first message through the protocol registry.
type Server struct {
	listener net.Listener
	registry *packet.Registry
	opts     SessionOptions
	limiter  *ipLimiter
	nextID   atomic.Uint64
	active   atomic.Int64
	log      *zap.Logger
	closeCh  chan struct{}
	closed   sync.Once
}

func NewServer(bindAddr string, registry *packet.Registry, opts SessionOptions, attemptsPerMinute int, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	return newServer(ln, registry, opts, attemptsPerMinute, log), nil
}

func newServer(ln net.Listener, registry *packet.Registry, opts SessionOptions, attemptsPerMinute int, log *zap.Logger) *Server {
	return &Server{
		listener: ln,
		registry: registry,
		opts:     opts,
		limiter:  newIPLimiter(attemptsPerMinute, time.Minute),
		log:      log,
		closeCh:  make(chan struct{}),
	}
}

// AcceptLoop runs in its own goroutine until Shutdown.
func (s *Server) AcceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closeCh:
				return
			default:
			}
			s.log.Error("連線接受失敗", zap.Error(err))
			continue
		}
		s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	id := s.nextID.Add(1)
	sess := NewSession(conn, id, s.opts, s.log)

	if !s.limiter.Allow(sess.RemoteIP(), time.Now()) {
		s.log.Info("連線頻率超限", zap.String("ip", sess.RemoteIP()))
		sess.Close()
		return
	}

	s.active.Add(1)
	go func() {
		<-sess.Done()
		s.active.Add(-1)
	}()

	s.log.Debug("客戶端連線", zap.Uint64("session", id), zap.String("ip", sess.RemoteIP()))
	sess.Start(s.onFirstMessage)
}

func (s *Server) onFirstMessage(sess *Session, body []byte) {
	if err := s.registry.Dispatch(sess, body); err != nil {
		sess.Log().Debug("首封包處理失敗", zap.Error(err))
		sess.Disconnect()
	}
}

// ActiveSessions returns the number of open sessions.
func (s *Server) ActiveSessions() int64 {
	return s.active.Load()
}

// Shutdown stops accepting new connections.
func (s *Server) Shutdown() {
	s.closed.Do(func() {
		close(s.closeCh)
		s.listener.Close()
	})
}

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// ipLimiter counts accepted connections per source IP in fixed windows.
type ipLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	counts map[string]*ipWindow
	sweeps int
}

type ipWindow struct {
	start time.Time
	count int
}

func newIPLimiter(limit int, window time.Duration) *ipLimiter {
	return &ipLimiter{
		limit:  limit,
		window: window,
		counts: make(map[string]*ipWindow),
	}
}

// Allow records an attempt from ip and reports whether it is within the limit.
// A limit <= 0 disables limiting.
func (l *ipLimiter) Allow(ip string, now time.Time) bool {
	if l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweeps++
	if l.sweeps%256 == 0 {
		for k, w := range l.counts {
			if now.Sub(w.start) >= l.window {
				delete(l.counts, k)
			}
		}
	}

	w, ok := l.counts[ip]
	if !ok || now.Sub(w.start) >= l.window {
		l.counts[ip] = &ipWindow{start: now, count: 1}
		return true
	}
	w.count++
	return w.count <= l.limit
}
