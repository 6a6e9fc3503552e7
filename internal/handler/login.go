package handler

import (
	"context"
	"errors"
	"time"

	"github.com/l1jgo/loginserver/internal/core/event"
	"github.com/l1jgo/loginserver/internal/dispatch"
	"github.com/l1jgo/loginserver/internal/net/packet"
	"github.com/l1jgo/loginserver/internal/world"
	"go.uber.org/zap"
)

const (
	osFieldSize = 2
	// signatureSize covers the client version echo, three asset signatures
	// and a zero byte, none of which are checked.
	signatureSize = 17
	rsaBlockSize  = 128
	keyWords      = 4

	defaultBanLookupTimeout = 3 * time.Second
)

var errBadSentinel = errors.New("rsa block sentinel is not zero")

// hello is what the synchronous phase extracts from the first message.
type hello struct {
	version  uint16
	account  string
	password string
	token    string
}

// HandleLogin processes the first message of a login connection; msg is the
// body after the protocol id. Every rejection is answered (when it carries a
// message) and followed by Disconnect. The returned error is the rejection,
// for the caller's logging.
func HandleLogin(c Client, msg []byte, deps *Deps) error {
	h, err := parseHello(c, msg, deps)
	if err == nil {
		// the task may disconnect before Schedule returns
		c.SetState(packet.StateDispatched)
		err = dispatchHello(c, h, deps)
	}
	if err != nil {
		reject(c, h.version, h.account, err, deps)
		return err
	}
	return nil
}

// parseHello runs the handshake up to and including token extraction.
// The returned hello is valid as far as parsing got, so rejections can use
// the version.
func parseHello(c Client, msg []byte, deps *Deps) (hello, error) {
	var h hello
	if deps.World.GameState() == world.GameShutdown {
		return h, newError(KindServerShutdown, "", nil)
	}

	r := packet.NewReader(msg)
	if err := r.Skip(osFieldSize); err != nil {
		return h, underrun(err)
	}
	version, err := r.ReadH()
	if err != nil {
		return h, underrun(err)
	}
	h.version = version

	if version >= checksumVersion {
		c.EnableChecksum()
	}
	if err := r.Skip(signatureSize); err != nil {
		return h, underrun(err)
	}
	if err := checkLegacyVersion(deps.Config, version); err != nil {
		return h, err
	}

	primaryEnd := r.Pos() + rsaBlockSize
	if err := decryptBlock(r, deps.RSA); err != nil {
		return h, newError(KindCryptoFailure, "", err)
	}
	var key [keyWords]uint32
	for i := range key {
		if key[i], err = r.ReadD(); err != nil {
			return h, underrun(err)
		}
	}
	if err := c.InstallKey(key); err != nil {
		return h, newError(KindCryptoFailure, "", err)
	}

	if err := checkVersionRange(deps.Config, version); err != nil {
		return h, err
	}
	if err := checkGameState(deps.World.GameState()); err != nil {
		return h, err
	}

	timeout := deps.BanLookupTimeout
	if timeout <= 0 {
		timeout = defaultBanLookupTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	err = checkBan(ctx, deps, c.RemoteIP())
	cancel()
	if err != nil {
		return h, err
	}

	if h.account, err = r.ReadS(); err != nil {
		return h, underrun(err)
	}
	if h.password, err = r.ReadS(); err != nil {
		return h, underrun(err)
	}

	skip, err := trailingBlockOffset(r, primaryEnd)
	if err != nil {
		return h, underrun(err)
	}
	if err := r.Skip(skip); err != nil {
		return h, underrun(err)
	}
	if err := decryptBlock(r, deps.RSA); err != nil {
		if errors.Is(err, packet.ErrBufferUnderrun) {
			return h, underrun(err)
		}
		return h, newError(KindInvalidAuthToken, msgInvalidToken, err)
	}
	if h.token, err = r.ReadS(); err != nil {
		return h, underrun(err)
	}
	return h, nil
}

// trailingBlockOffset is the distance from the cursor to the token block,
// which always occupies the last rsaBlockSize bytes of the message. The block
// must start at or after both primaryEnd and the cursor; anything shorter is
// malformed.
func trailingBlockOffset(r *packet.Reader, primaryEnd int) (int, error) {
	start := r.Len() - rsaBlockSize
	if start < primaryEnd || start < r.Pos() {
		return 0, packet.ErrBufferUnderrun
	}
	return start - r.Pos(), nil
}

// decryptBlock decrypts the rsaBlockSize bytes at the cursor in place and
// consumes the leading zero byte of the plaintext.
func decryptBlock(r *packet.Reader, dec BlockDecrypter) error {
	block, err := r.Block(rsaBlockSize)
	if err != nil {
		return err
	}
	if err := dec.DecryptBlock(block); err != nil {
		return err
	}
	sentinel, err := r.ReadC()
	if err != nil {
		return err
	}
	if sentinel != 0 {
		return errBadSentinel
	}
	return nil
}

// dispatchHello hands the rest of the login to the dispatcher.
func dispatchHello(c Client, h hello, deps *Deps) error {
	var task dispatch.Task
	if h.account == "" {
		if !deps.Config.Login.EnableLiveCasting {
			return newError(KindInvalidAccountName, msgInvalidAccount, nil)
		}
		task = &CastListTask{Client: c, Password: h.password, Version: h.version, deps: deps}
	} else {
		task = &CharacterListTask{
			Client:   c,
			Account:  h.account,
			Password: h.password,
			Token:    h.token,
			Version:  h.version,
			deps:     deps,
		}
	}
	if err := deps.Dispatcher.Schedule(c.ID(), task); err != nil {
		return newError(KindInternal, "", err)
	}
	return nil
}

// reject answers a failed handshake and closes the connection.
func reject(c Client, version uint16, account string, err error, deps *Deps) {
	var he *Error
	if !errors.As(err, &he) {
		he = newError(KindInternal, "", err)
	}

	fields := []zap.Field{
		zap.Uint64("session", c.ID()),
		zap.String("ip", c.RemoteIP()),
		zap.Uint16("version", version),
		zap.String("reason", he.Kind.String()),
	}
	if he.Kind == KindInternal {
		deps.Log.Error("登入處理失敗", append(fields, zap.Error(he.Inner))...)
	} else {
		deps.Log.Info("登入被拒絕", fields...)
	}

	if he.Msg != "" {
		c.Send(BuildDisconnect(he.Msg, version))
	}
	c.Disconnect()

	event.Emit(deps.Events, event.LoginRejected{
		At:        deps.now(),
		SessionID: c.ID(),
		IP:        c.RemoteIP(),
		Account:   account,
		Version:   version,
		Reason:    he.Kind.String(),
	})
}

func underrun(err error) *Error {
	return newError(KindBufferUnderrun, "", err)
}
