package domain

import (
	"encoding/json"
	"fmt"
)

// ConnectionState is the controller's view of the remote view connection.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateNegotiating
	StateConnected
	StateFailed
	StateDisconnected
	StateExpired
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateDisconnected:
		return "disconnected"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Active reports whether a transport attempt is in flight or established.
func (s ConnectionState) Active() bool {
	return s == StateNegotiating || s == StateConnected
}

func (s ConnectionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *ConnectionState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("unmarshal connection state: %w", err)
	}
	for c := StateIdle; c <= StateExpired; c++ {
		if c.String() == name {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", name)
}
