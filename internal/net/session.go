package net

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/l1jgo/loginserver/internal/net/packet"
	"go.uber.org/zap"
)

// ErrKeyInstalled is returned by InstallKey when the session already has a key.
var ErrKeyInstalled = errors.New("net: session key already installed")

// SessionKey is the connection's symmetric key state: KeyUnset or KeyInstalled.
type SessionKey interface {
	sessionKey()
}

// KeyUnset means no key has been negotiated; frames go out in the clear.
type KeyUnset struct{}

// KeyInstalled carries the negotiated key words and the cipher built from them.
type KeyInstalled struct {
	Words  [4]uint32
	cipher *Cipher
}

func (KeyUnset) sessionKey()     {}
func (KeyInstalled) sessionKey() {}

// Cipher returns the session cipher for this key.
func (k KeyInstalled) Cipher() *Cipher { return k.cipher }

type keySlot struct {
	key KeyInstalled
}

// outbound is one queued message with the crypto state captured at Send time.
type outbound struct {
	payload  []byte
	cipher   *Cipher
	checksum bool
	fin      bool // flush marker: close after everything queued before it
}

// Session represents a single client connection. The first message is handled
// synchronously on the reader goroutine; writes go through a dedicated writer
// goroutine so Send never blocks the caller.
type Session struct {
	id   uint64
	conn net.Conn
	ip   string

	state    atomic.Int32 // packet.SessionState stored as int32
	key      atomic.Pointer[keySlot]
	checksum atomic.Bool

	outQueue chan outbound

	readTimeout  time.Duration
	writeTimeout time.Duration

	closeCh       chan struct{}
	closeOnce     sync.Once
	closed        atomic.Bool
	disconnecting atomic.Bool

	log *zap.Logger
}

// SessionOptions configures queue size and timeouts.
type SessionOptions struct {
	OutQueueSize int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func NewSession(conn net.Conn, id uint64, opts SessionOptions, log *zap.Logger) *Session {
	if opts.OutQueueSize <= 0 {
		opts.OutQueueSize = 16
	}
	s := &Session{
		id:           id,
		conn:         conn,
		ip:           remoteHost(conn.RemoteAddr()),
		outQueue:     make(chan outbound, opts.OutQueueSize),
		readTimeout:  opts.ReadTimeout,
		writeTimeout: opts.WriteTimeout,
		closeCh:      make(chan struct{}),
		log:          log.With(zap.Uint64("session", id)),
	}
	s.state.Store(int32(packet.StateHandshake))
	return s
}

func remoteHost(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func (s *Session) ID() uint64 { return s.id }

// RemoteIP returns the peer address without port.
func (s *Session) RemoteIP() string { return s.ip }

func (s *Session) Log() *zap.Logger { return s.log }

func (s *Session) State() packet.SessionState {
	return packet.SessionState(s.state.Load())
}

// SetState advances the session state. States only move forward, so a late
// SetState cannot undo a disconnect.
func (s *Session) SetState(st packet.SessionState) {
	for {
		cur := s.state.Load()
		if int32(st) <= cur || s.state.CompareAndSwap(cur, int32(st)) {
			return
		}
	}
}

// Key returns the current key state.
func (s *Session) Key() SessionKey {
	slot := s.key.Load()
	if slot == nil {
		return KeyUnset{}
	}
	return slot.key
}

// InstallKey installs the symmetric key. It succeeds once per session; every
// frame queued afterwards is encrypted.
func (s *Session) InstallKey(words [4]uint32) error {
	c, err := NewCipher(words)
	if err != nil {
		return err
	}
	if !s.key.CompareAndSwap(nil, &keySlot{key: KeyInstalled{Words: words, cipher: c}}) {
		return ErrKeyInstalled
	}
	return nil
}

// EnableChecksum switches outbound frames to carry an Adler-32 checksum.
// There is no way back.
func (s *Session) EnableChecksum() {
	s.checksum.Store(true)
}

func (s *Session) ChecksumEnabled() bool {
	return s.checksum.Load()
}

// Start launches the reader and writer goroutines. onFirst is called with the
// first frame body (checksum stripped) on the reader goroutine.
func (s *Session) Start(onFirst func(s *Session, body []byte)) {
	go s.readLoop(onFirst)
	go s.writeLoop()
}

// Send queues a message. It is a no-op once the session is closed or
// disconnecting, so late tasks can always call it safely.
func (s *Session) Send(data []byte) {
	if s.closed.Load() || s.disconnecting.Load() {
		return
	}
	out := outbound{payload: data, checksum: s.checksum.Load()}
	if k, ok := s.Key().(KeyInstalled); ok {
		out.cipher = k.cipher
	}
	select {
	case s.outQueue <- out:
	default:
		s.log.Warn("輸出佇列已滿，斷開連線")
		s.Close()
	}
}

// Disconnect flushes everything queued so far and then closes the connection.
func (s *Session) Disconnect() {
	if !s.disconnecting.CompareAndSwap(false, true) {
		return
	}
	s.SetState(packet.StateDisconnecting)
	select {
	case s.outQueue <- outbound{fin: true}:
	default:
		s.Close()
	}
}

// Close tears the session down immediately and drops the key.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.SetState(packet.StateDisconnecting)
		s.key.Store(nil)
		close(s.closeCh)
		s.conn.Close()
	})
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// Done is closed when the session is torn down.
func (s *Session) Done() <-chan struct{} {
	return s.closeCh
}

// readLoop hands the first frame to onFirst, then drains and discards any
// further frames until the peer goes away or the read deadline passes.
func (s *Session) readLoop(onFirst func(s *Session, body []byte)) {
	defer s.Close()

	s.extendReadDeadline()
	body, err := ReadFrame(s.conn)
	if err != nil {
		if !s.closed.Load() {
			s.log.Debug("讀取首封包失敗", zap.Error(err))
		}
		return
	}
	onFirst(s, StripChecksum(body))

	for {
		s.extendReadDeadline()
		if _, err := ReadFrame(s.conn); err != nil {
			return
		}
	}
}

func (s *Session) extendReadDeadline() {
	if s.readTimeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	}
}

// writeLoop seals and writes queued messages in order.
func (s *Session) writeLoop() {
	defer s.Close()

	for {
		select {
		case out := <-s.outQueue:
			if out.fin {
				return
			}
			if !s.writeOne(out) {
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

func (s *Session) writeOne(out outbound) bool {
	if len(out.payload) > 0 {
		s.log.Debug("TX",
			zap.String("op", fmt.Sprintf("0x%02X", out.payload[0])),
			zap.Int("len", len(out.payload)),
			zap.Bool("encrypted", out.cipher != nil),
		)
	}

	body, err := sealBody(out.payload, out.cipher, out.checksum)
	if err != nil {
		s.log.Error("封包加密失敗", zap.Error(err))
		return false
	}
	if s.writeTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if err := WriteFrame(s.conn, body); err != nil {
		if !s.closed.Load() {
			s.log.Debug("寫入錯誤", zap.Error(err))
		}
		return false
	}
	return true
}
