package packet

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Protocol identifiers carried by the first byte of a connection's first message.
const (
	ProtocolLogin byte = 0x01
)

// ErrUnknownProtocol is returned by Dispatch for unregistered protocol ids.
var ErrUnknownProtocol = errors.New("packet: unknown protocol")

// SessionState represents the connection's current phase.
type SessionState int

const (
	StateHandshake     SessionState = iota // awaiting first message
	StateDispatched                        // handshake passed, follow-up task queued
	StateDisconnecting
)

func (s SessionState) String() string {
	switch s {
	case StateHandshake:
		return "Handshake"
	case StateDispatched:
		return "Dispatched"
	case StateDisconnecting:
		return "Disconnecting"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// FirstMessageFunc handles the body of a connection's first message, after the
// protocol id byte. The session is passed as an opaque value to avoid import cycles.
type FirstMessageFunc func(sess any, msg []byte) error

// Registry maps protocol ids to first-message handlers.
type Registry struct {
	handlers map[byte]FirstMessageFunc
	log      *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[byte]FirstMessageFunc),
		log:      log,
	}
}

// Register maps a protocol id to its handler.
func (reg *Registry) Register(protocolID byte, fn FirstMessageFunc) {
	reg.handlers[protocolID] = fn
}

// Dispatch reads the protocol id in data[0] and calls the matching handler
// with the remainder of the message.
func (reg *Registry) Dispatch(sess any, data []byte) error {
	if len(data) == 0 {
		return ErrBufferUnderrun
	}
	id := data[0]
	fn, ok := reg.handlers[id]
	if !ok {
		reg.log.Debug("未知協定", zap.Uint8("protocol", id), zap.Int("size", len(data)))
		return fmt.Errorf("%w: 0x%02X", ErrUnknownProtocol, id)
	}
	return reg.safeCall(fn, sess, data[1:], id)
}

// safeCall executes a handler with panic recovery so a single malformed
// message cannot take down the accept loop.
func (reg *Registry) safeCall(fn FirstMessageFunc, sess any, msg []byte, id byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			reg.log.Error("處理器 panic 已恢復",
				zap.Uint8("protocol", id),
				zap.Any("panic", rec),
			)
			err = fmt.Errorf("handler panic for protocol %d: %v", id, rec)
		}
	}()
	return fn(sess, msg)
}
