// Package link turns an inbound remote view link into a domain.Session.
package link

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"remoteview/native/internal/domain"
)

// Query parameter names carried by a remote view link.
const (
	ParamSession = "session"
	ParamAuth    = "auth"
	ParamExpires = "expires"
	ParamSignal  = "signal"
	ParamBase    = "base"
)

// maxExpiresMillis is 9999-12-31T23:59:59.999Z. Later values are treated as
// unusable rather than converted.
const maxExpiresMillis = 253402300799999

// Parser extracts sessions from link query parameters.
type Parser struct {
	// TTL applies when the link carries no usable expiry.
	TTL time.Duration
	// DefaultBase is the transport base used when the link has no override.
	DefaultBase string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Parse builds a Session from q. It never fails: a link without session or
// auth yields a Session whose Ready reports false.
func (p Parser) Parse(q url.Values) domain.Session {
	now := time.Now()
	if p.Now != nil {
		now = p.Now()
	}

	return domain.Session{
		ID:            strings.TrimSpace(q.Get(ParamSession)),
		AuthToken:     strings.TrimSpace(q.Get(ParamAuth)),
		ExpiresAt:     p.expiresAt(q.Get(ParamExpires), now),
		TransportBase: p.base(q),
	}
}

func (p Parser) expiresAt(raw string, now time.Time) time.Time {
	fallback := now.Add(p.TTL)

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	ms, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(ms) || ms <= 0 || ms > maxExpiresMillis {
		return fallback
	}
	at := time.UnixMilli(int64(ms))
	if !at.After(now) {
		return fallback
	}
	return at
}

func (p Parser) base(q url.Values) string {
	for _, key := range []string{ParamSignal, ParamBase} {
		if b, ok := normalizeBase(q.Get(key)); ok {
			return b
		}
	}
	b, _ := normalizeBase(p.DefaultBase)
	return b
}

func normalizeBase(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	return strings.TrimRight(raw, "/"), true
}

// Query extracts the query parameters of a link given as a full URL, a
// "?query" fragment, or a bare "k=v&..." string.
func Query(raw string) (url.Values, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return url.Values{}, nil
	}
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse link: %w", err)
		}
		return u.Query(), nil
	}
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[i+1:]
	}
	q, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("parse link query: %w", err)
	}
	return q, nil
}
