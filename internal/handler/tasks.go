package handler

import (
	"context"
	"errors"

	"github.com/l1jgo/loginserver/internal/auth"
	"github.com/l1jgo/loginserver/internal/core/event"
	"github.com/l1jgo/loginserver/internal/persist"
	"go.uber.org/zap"
)

// CharacterListTask authenticates the account and answers with the character
// list. It carries its own copies of the credentials. If Client is closed
// when it runs, or closes during authentication, the task stops without
// answering, recording the login or emitting events.
type CharacterListTask struct {
	Client   Client
	Account  string
	Password string
	Token    string
	Version  uint16
	deps     *Deps
}

func (t *CharacterListTask) Name() string { return "character-list" }

func (t *CharacterListTask) Run(ctx context.Context) {
	deps := t.deps
	c := t.Client
	if t.abandoned() {
		return
	}

	acc, err := deps.Accounts.Authenticate(ctx, t.Account, t.Password)
	if t.abandoned() {
		return
	}
	if err != nil {
		if !errors.Is(err, persist.ErrInvalidCredentials) {
			err = newError(KindInternal, msgAuthFailed, err)
		} else {
			err = newError(KindAuthenticationFailed, msgAuthFailed, err)
		}
		t.fail(err)
		return
	}

	now := deps.now()
	tick := deps.Tokens.Tick(now)
	if deps.Tokens.Check(acc.Secret, t.Token, now) == auth.Rejected {
		c.Send(buildTokenRejected())
		c.Disconnect()
		deps.Log.Info("驗證碼錯誤", zap.String("account", t.Account), zap.String("ip", c.RemoteIP()))
		t.emitRejected(KindChallengeRejected)
		return
	}

	motd, motdNum := deps.World.MOTD()
	c.Send(buildCharacterList(deps.Config, characterList{
		Account:       t.Account,
		Password:      t.Password,
		Token:         t.Token,
		Tick:          tick,
		Characters:    acc.Characters,
		PremiumEndsAt: acc.PremiumEndsAt,
		ProxyID:       acc.ProxyID,
		MOTD:          motd,
		MOTDNum:       motdNum,
		FreePremium:   deps.Config.Login.FreePremium,
		Now:           now,
	}))
	c.Disconnect()

	if err := deps.Accounts.UpdateLastLogin(ctx, acc.ID, c.RemoteIP()); err != nil {
		deps.Log.Error("更新最後登入時間資料庫錯誤", zap.Error(err))
	}
	deps.Log.Info("登入成功",
		zap.String("account", t.Account),
		zap.String("ip", c.RemoteIP()),
		zap.Int("characters", len(acc.Characters)),
	)
	event.Emit(deps.Events, event.LoginAccepted{
		At:        now,
		SessionID: c.ID(),
		IP:        c.RemoteIP(),
		Account:   t.Account,
		Version:   t.Version,
	})
}

func (t *CharacterListTask) abandoned() bool {
	if !t.Client.IsClosed() {
		return false
	}
	t.deps.Log.Debug("連線已關閉，放棄登入任務",
		zap.Uint64("session", t.Client.ID()), zap.String("account", t.Account))
	return true
}

func (t *CharacterListTask) fail(err error) {
	reject(t.Client, t.Version, t.Account, err, t.deps)
}

func (t *CharacterListTask) emitRejected(k Kind) {
	event.Emit(t.deps.Events, event.LoginRejected{
		At:        t.deps.now(),
		SessionID: t.Client.ID(),
		IP:        t.Client.RemoteIP(),
		Account:   t.Account,
		Version:   t.Version,
		Reason:    k.String(),
	})
}

// CastListTask answers a credential-less login with the active broadcasts.
type CastListTask struct {
	Client   Client
	Password string
	Version  uint16
	deps     *Deps
}

func (t *CastListTask) Name() string { return "cast-list" }

func (t *CastListTask) Run(context.Context) {
	deps := t.deps
	c := t.Client
	if c.IsClosed() {
		deps.Log.Debug("連線已關閉，放棄直播列表", zap.Uint64("session", c.ID()))
		return
	}
	now := deps.now()

	motd, motdNum := deps.World.MOTD()
	casts := deps.World.ListActive()
	c.Send(buildCastList(deps.Config, castList{
		Password:    t.Password,
		Version:     t.Version,
		Casts:       casts,
		MOTD:        motd,
		MOTDNum:     motdNum,
		FreePremium: deps.Config.Login.FreePremium,
		Now:         now,
	}))
	c.Disconnect()

	deps.Log.Debug("送出直播列表", zap.String("ip", c.RemoteIP()), zap.Int("casts", len(casts)))
	event.Emit(deps.Events, event.LoginAccepted{
		At:        now,
		SessionID: c.ID(),
		IP:        c.RemoteIP(),
		Version:   t.Version,
		CastList:  true,
	})
}
