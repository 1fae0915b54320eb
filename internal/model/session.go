package model

import "time"

// Identity describes the remote chat-network account a session is bound
// to. It is only known once the session reaches the connected state.
type Identity struct {
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName,omitempty"`
}

// UserSession is the persisted mirror of a live session handle. It is
// owned exclusively by the session manager and written to the store for
// cross-restart recovery.
type UserSession struct {
	UserID      string           `json:"userId"`
	Status      ConnectionStatus `json:"status"`
	Identity    *Identity        `json:"identity,omitempty"`
	ConnectedAt *time.Time       `json:"connectedAt,omitempty"`
}

// PairingCode is the one-time scan-to-pair code for a session. The
// store applies the backend TTL, but readers must also apply the
// logical expiry check so a code never outlives ExpiresAt.
type PairingCode struct {
	UserID    string    `json:"userId"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (p *PairingCode) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}
