package event

import "time"

// LoginAccepted is emitted when a character or cast list was sent.
type LoginAccepted struct {
	At        time.Time
	SessionID uint64
	IP        string
	Account   string // empty for cast-list logins
	Version   uint16
	CastList  bool
}

// LoginRejected is emitted for every handshake that ended without a list.
type LoginRejected struct {
	At        time.Time
	SessionID uint64
	IP        string
	Account   string
	Version   uint16
	Reason    string // rejection kind name
}
