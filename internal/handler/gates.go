package handler

import (
	"context"
	"fmt"

	"github.com/l1jgo/loginserver/internal/config"
	"github.com/l1jgo/loginserver/internal/persist"
	"github.com/l1jgo/loginserver/internal/world"
)

const (
	// checksumVersion is the first client version that checksums frames.
	checksumVersion = 830
	// legacyVersion and below send the login block unencrypted.
	legacyVersion = 760
)

const (
	msgServerStarting    = "Gameworld is starting up. Please wait."
	msgServerMaintenance = "Gameworld is under maintenance.\nPlease re-connect in a while."
	msgInvalidToken      = "Invalid authentification token."
	msgInvalidAccount    = "Invalid account name."
	msgAuthFailed        = "Account name or password is not correct."
	banDateLayout        = "02 Jan 2006"
)

func protocolMessage(cfg *config.Config) string {
	return fmt.Sprintf("Only clients with protocol %s allowed!", cfg.Login.VersionStr)
}

// checkLegacyVersion runs before any decryption: such clients do not encrypt.
func checkLegacyVersion(cfg *config.Config, version uint16) error {
	if version <= legacyVersion {
		return newError(KindProtocolTooOld, protocolMessage(cfg), nil)
	}
	return nil
}

func checkVersionRange(cfg *config.Config, version uint16) error {
	if version < cfg.Login.VersionMin || version > cfg.Login.VersionMax {
		return newError(KindProtocolOutOfRange, protocolMessage(cfg), nil)
	}
	return nil
}

// checkGameState covers Startup and Maintain. Shutdown is checked before
// parsing by the caller.
func checkGameState(gs world.GameState) error {
	switch gs {
	case world.GameStartup:
		return newError(KindServerStarting, msgServerStarting, nil)
	case world.GameMaintain:
		return newError(KindServerMaintenance, msgServerMaintenance, nil)
	}
	return nil
}

func checkBan(ctx context.Context, deps *Deps, ip string) error {
	ban, err := deps.Bans.IPBan(ctx, ip, deps.now())
	if err != nil {
		return newError(KindInternal, "", fmt.Errorf("ban lookup: %w", err))
	}
	if ban == nil {
		return nil
	}
	return newError(KindIPBanned, banMessage(ban), nil)
}

func banMessage(ban *persist.BanInfo) string {
	reason := ban.Reason
	if reason == "" {
		reason = "(none)"
	}
	if ban.Permanent() {
		return fmt.Sprintf("Your IP has been permanently banned by %s.\n\nReason specified:\n%s",
			ban.BannedBy, reason)
	}
	return fmt.Sprintf("Your IP has been banned until %s by %s.\n\nReason specified:\n%s",
		ban.ExpiresAt.Format(banDateLayout), ban.BannedBy, reason)
}
