package handler

import (
	"context"
	"time"

	"github.com/l1jgo/loginserver/internal/auth"
	"github.com/l1jgo/loginserver/internal/config"
	"github.com/l1jgo/loginserver/internal/core/event"
	"github.com/l1jgo/loginserver/internal/dispatch"
	"github.com/l1jgo/loginserver/internal/net"
	"github.com/l1jgo/loginserver/internal/net/packet"
	"github.com/l1jgo/loginserver/internal/persist"
	"github.com/l1jgo/loginserver/internal/world"
	"go.uber.org/zap"
)

// Client is the connection surface the handshake drives. *net.Session
// implements it. Send and Disconnect must be safe no-ops on a closed client.
type Client interface {
	ID() uint64
	RemoteIP() string
	Send(data []byte)
	Disconnect()
	IsClosed() bool
	EnableChecksum()
	InstallKey(words [4]uint32) error
	SetState(st packet.SessionState)
}

// BlockDecrypter decrypts one RSA block in place.
type BlockDecrypter interface {
	DecryptBlock(block []byte) error
}

type AccountStore interface {
	Authenticate(ctx context.Context, name, password string) (*persist.Account, error)
	UpdateLastLogin(ctx context.Context, accountID int64, ip string) error
}

type BanStore interface {
	IPBan(ctx context.Context, ip string, now time.Time) (*persist.BanInfo, error)
}

// WorldView is the read side of the world state.
type WorldView interface {
	GameState() world.GameState
	MOTD() (string, uint32)
	ListActive() []world.Cast
}

type Scheduler interface {
	Schedule(key uint64, t dispatch.Task) error
}

// Deps holds shared dependencies injected into the login handler.
type Deps struct {
	Config     *config.Config
	Log        *zap.Logger
	RSA        BlockDecrypter
	Accounts   AccountStore
	Bans       BanStore
	World      WorldView
	Dispatcher Scheduler
	Tokens     *auth.Authenticator
	Events     *event.Bus // optional
	// Now defaults to time.Now.
	Now func() time.Time
	// BanLookupTimeout bounds the synchronous ban check.
	BanLookupTimeout time.Duration
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// RegisterAll registers the login protocol handler into the registry.
func RegisterAll(reg *packet.Registry, deps *Deps) {
	reg.Register(packet.ProtocolLogin, func(sess any, msg []byte) error {
		return HandleLogin(sess.(*net.Session), msg, deps)
	})
}
