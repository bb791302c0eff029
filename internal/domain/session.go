package domain

import "time"

// Session is the parsed remote view link. It is immutable once parsed.
type Session struct {
	ID            string
	AuthToken     string
	ExpiresAt     time.Time
	TransportBase string
}

// Ready reports whether the link carried both a session id and a token.
func (s Session) Ready() bool {
	return s.ID != "" && s.AuthToken != ""
}

// Expired reports whether the session's time-to-live has elapsed at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// MaskedToken returns the token in its display form.
func (s Session) MaskedToken() string {
	return MaskToken(s.AuthToken)
}

// MaskToken renders tokens longer than six characters as first3•••last3.
func MaskToken(token string) string {
	r := []rune(token)
	if len(r) <= 6 {
		return token
	}
	return string(r[:3]) + "•••" + string(r[len(r)-3:])
}
