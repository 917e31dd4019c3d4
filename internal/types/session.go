package types

import "time"

type Session struct {
	Token     string    `toml:"token" json:"token"`
	Authority Authority `toml:"authority" json:"authority"`
	Identity  string    `toml:"identity" json:"identity"`
	IssuedAt  time.Time `toml:"issued_at" json:"issued_at"`
	ExpiresAt time.Time `toml:"expires_at" json:"expires_at"`
}

func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// ExpiresWithin reports whether the session is expired or will expire
// within margin of now.
func (s Session) ExpiresWithin(now time.Time, margin time.Duration) bool {
	return !now.Add(margin).Before(s.ExpiresAt)
}

type Credential struct {
	Identity string `toml:"identity" json:"identity"`
	Secret   string `toml:"secret" json:"secret"`
}

// StoredCredentials is the on-disk credential record.
type StoredCredentials struct {
	Credential *Credential `toml:"credential,omitempty"`
	Session    *Session    `toml:"session,omitempty"`
}
