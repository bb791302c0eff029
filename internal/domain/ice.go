package domain

import (
	"encoding/json"
	"fmt"
	"slices"
)

// DefaultICEServers is used whenever signaling supplies no usable servers.
var DefaultICEServers = []ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
	{URLs: []string{"stun:global.stun.twilio.com:3478"}},
}

// ICEServer holds STUN/TURN server configuration.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// UnmarshalJSON accepts a bare URL string, or an object whose urls field is
// a string or an array of strings.
func (s *ICEServer) UnmarshalJSON(data []byte) error {
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		*s = ICEServer{URLs: []string{bare}}
		return nil
	}

	var obj struct {
		URLs       json.RawMessage `json:"urls"`
		Username   string          `json:"username"`
		Credential string          `json:"credential"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("ice server: %w", err)
	}

	*s = ICEServer{Username: obj.Username, Credential: obj.Credential}
	if len(obj.URLs) == 0 {
		return nil
	}
	var one string
	if err := json.Unmarshal(obj.URLs, &one); err == nil {
		s.URLs = []string{one}
		return nil
	}
	if err := json.Unmarshal(obj.URLs, &s.URLs); err != nil {
		return fmt.Errorf("ice server urls: %w", err)
	}
	return nil
}

// ICEServers is the ordered list returned by signaling.
type ICEServers []ICEServer

// Normalize drops entries without URLs and returns fallback when nothing
// usable remains.
func (l ICEServers) Normalize(fallback []ICEServer) []ICEServer {
	var out []ICEServer
	for _, s := range l {
		urls := slices.DeleteFunc(slices.Clone(s.URLs), func(u string) bool { return u == "" })
		if len(urls) == 0 {
			continue
		}
		out = append(out, ICEServer{URLs: urls, Username: s.Username, Credential: s.Credential})
	}
	if len(out) == 0 {
		return slices.Clone(fallback)
	}
	return out
}

// EqualICEServers reports whether two server lists are identical in order and content.
func EqualICEServers(a, b []ICEServer) bool {
	return slices.EqualFunc(a, b, func(x, y ICEServer) bool {
		return x.Username == y.Username && x.Credential == y.Credential && slices.Equal(x.URLs, y.URLs)
	})
}
