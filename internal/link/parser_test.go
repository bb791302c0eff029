package link

import (
	"net/url"
	"testing"
	"time"
)

var fixedNow = time.UnixMilli(1_700_000_000_000)

func testParser(ttl time.Duration) Parser {
	return Parser{
		TTL:         ttl,
		DefaultBase: "https://signal.example.com/api/remoteview/",
		Now:         func() time.Time { return fixedNow },
	}
}

func TestParse_TrimsSessionAndAuth(t *testing.T) {
	q := url.Values{"session": {"  abc "}, "auth": {"\ttok123456\n"}}
	s := testParser(time.Minute).Parse(q)

	if s.ID != "abc" {
		t.Errorf("expected id 'abc', got %q", s.ID)
	}
	if s.AuthToken != "tok123456" {
		t.Errorf("expected token 'tok123456', got %q", s.AuthToken)
	}
	if !s.Ready() {
		t.Error("expected session to be ready")
	}
}

func TestParse_MissingFieldsNotReady(t *testing.T) {
	cases := []url.Values{
		{},
		{"session": {"abc"}},
		{"auth": {"tok"}},
		{"session": {"   "}, "auth": {"tok"}},
	}
	for _, q := range cases {
		if s := testParser(time.Minute).Parse(q); s.Ready() {
			t.Errorf("expected %v to be not ready", q)
		}
	}
}

func TestParse_FutureExpiresIsUsed(t *testing.T) {
	want := fixedNow.Add(5 * time.Second)
	q := url.Values{"expires": {"1700000005000"}}

	s := testParser(time.Minute).Parse(q)
	if !s.ExpiresAt.Equal(want) {
		t.Errorf("expected %v, got %v", want, s.ExpiresAt)
	}
}

func TestParse_LatestRepresentableExpiresIsUsed(t *testing.T) {
	q := url.Values{"expires": {"253402300799999"}}
	s := testParser(time.Minute).Parse(q)
	if want := time.UnixMilli(maxExpiresMillis); !s.ExpiresAt.Equal(want) {
		t.Errorf("expected %v, got %v", want, s.ExpiresAt)
	}
}

func TestParse_StaleOrInvalidExpiresDefaultsToTTL(t *testing.T) {
	for _, ttl := range []time.Duration{60 * time.Second, 120 * time.Second} {
		want := fixedNow.Add(ttl)
		for _, raw := range []string{"", "1700000000000", "1699999999999", "0", "-5", "soon", "NaN", "Infinity", "-Infinity", "1e300", "-1e300", "253402300800000"} {
			q := url.Values{}
			if raw != "" {
				q.Set("expires", raw)
			}
			s := testParser(ttl).Parse(q)
			if !s.ExpiresAt.Equal(want) {
				t.Errorf("ttl=%s expires=%q: expected %v, got %v", ttl, raw, want, s.ExpiresAt)
			}
		}
	}
}

func TestParse_TransportBase(t *testing.T) {
	p := testParser(time.Minute)

	if got := p.Parse(url.Values{}).TransportBase; got != "https://signal.example.com/api/remoteview" {
		t.Errorf("expected trimmed default base, got %q", got)
	}
	if got := p.Parse(url.Values{"signal": {"http://10.0.0.5:8080/rv/"}}).TransportBase; got != "http://10.0.0.5:8080/rv" {
		t.Errorf("expected signal override, got %q", got)
	}
	if got := p.Parse(url.Values{"base": {"https://cam.local"}}).TransportBase; got != "https://cam.local" {
		t.Errorf("expected base alias, got %q", got)
	}
	if got := p.Parse(url.Values{"signal": {"not a url"}}).TransportBase; got != "https://signal.example.com/api/remoteview" {
		t.Errorf("expected invalid override to fall back, got %q", got)
	}
}

func TestQuery_AcceptsURLQueryAndBare(t *testing.T) {
	for _, raw := range []string{
		"https://viewer.example.com/remoteview?session=abc&auth=tok",
		"?session=abc&auth=tok",
		"session=abc&auth=tok",
	} {
		q, err := Query(raw)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", raw, err)
		}
		if q.Get("session") != "abc" || q.Get("auth") != "tok" {
			t.Errorf("%q: got %v", raw, q)
		}
	}
}

func TestQuery_Empty(t *testing.T) {
	q, err := Query("   ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(q) != 0 {
		t.Errorf("expected empty values, got %v", q)
	}
}
