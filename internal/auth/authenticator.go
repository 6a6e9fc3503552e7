// Package auth implements the time-windowed secondary token check.
package auth

import (
	"crypto/subtle"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
)

// Period is the length of one token tick.
const Period = 30 * time.Second

// Result distinguishes "no secret configured" from an actual verification.
type Result int

const (
	NotRequired Result = iota
	Accepted
	Rejected
)

func (r Result) String() string {
	switch r {
	case NotRequired:
		return "NotRequired"
	case Accepted:
		return "Accepted"
	case Rejected:
		return "Rejected"
	}
	return "Unknown"
}

var opts = hotp.ValidateOpts{
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// Authenticator verifies six digit HOTP codes over ticks of Period.
// Secrets are base32 strings as stored on the account.
type Authenticator struct {
	period time.Duration
}

func New() *Authenticator {
	return &Authenticator{period: Period}
}

// Tick returns the time bucket for now.
func (a *Authenticator) Tick(now time.Time) uint64 {
	sec := now.Unix()
	if sec < 0 {
		return 0
	}
	return uint64(sec) / uint64(a.period/time.Second)
}

// Generate returns the token for a given tick.
func (a *Authenticator) Generate(secret string, tick uint64) (string, error) {
	return hotp.GenerateCodeCustom(secret, tick, opts)
}

// Verify accepts token if it matches the code for tick-1, tick or tick+1.
// An empty token never verifies.
func (a *Authenticator) Verify(secret, token string, now time.Time) bool {
	if token == "" || secret == "" {
		return false
	}
	tick := a.Tick(now)
	for _, t := range []uint64{tick - 1, tick, tick + 1} {
		if t == ^uint64(0) {
			continue // tick 0 has no predecessor
		}
		code, err := a.Generate(secret, t)
		if err != nil {
			return false
		}
		if subtle.ConstantTimeCompare([]byte(code), []byte(token)) == 1 {
			return true
		}
	}
	return false
}

// Check applies the secondary factor for an account. An empty secret means the
// account has no second factor and is reported as NotRequired, never Accepted.
func (a *Authenticator) Check(secret, token string, now time.Time) Result {
	if secret == "" {
		return NotRequired
	}
	if a.Verify(secret, token, now) {
		return Accepted
	}
	return Rejected
}
