package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"remoteview/native/internal/link"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load([]string{"--link", "session=abc&auth=tok"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Transport != TransportWebRTC {
		t.Errorf("expected webrtc, got %q", cfg.Transport)
	}
	if cfg.WebRTCTTL != 60*time.Second || cfg.StreamTTL != 120*time.Second {
		t.Errorf("unexpected ttls %s %s", cfg.WebRTCTTL, cfg.StreamTTL)
	}
	if cfg.GatherTimeout != 10*time.Second || cfg.PingInterval != 30*time.Second {
		t.Errorf("unexpected timeouts %+v", cfg)
	}
	if !cfg.Connect || cfg.Output != "-" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.TTL() != time.Minute {
		t.Errorf("expected webrtc ttl, got %s", cfg.TTL())
	}
}

func TestLoad_DefaultBaseReachesSession(t *testing.T) {
	for _, transport := range []string{TransportWebRTC, TransportStream} {
		cfg, err := Load([]string{"--transport", transport, "--link", "session=abc&auth=tok123456"})
		if err != nil {
			t.Fatalf("%s: load: %v", transport, err)
		}
		if cfg.DefaultBase() != DefaultSignalBase {
			t.Errorf("%s: expected default base %q, got %q", transport, DefaultSignalBase, cfg.DefaultBase())
		}

		q, err := link.Query(cfg.Link)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		s := link.Parser{TTL: cfg.TTL(), DefaultBase: cfg.DefaultBase()}.Parse(q)
		if s.TransportBase != DefaultSignalBase {
			t.Errorf("%s: expected session base %q, got %q", transport, DefaultSignalBase, s.TransportBase)
		}
	}
}

func TestLoad_RejectsUnusableBase(t *testing.T) {
	for _, args := range [][]string{
		{"--link", "x", "--signal-base", ""},
		{"--link", "x", "--signal-base", "ftp://files.example.com"},
		{"--link", "x", "--transport", "stream", "--stream-base", "/relative"},
	} {
		_, err := Load(args)
		if err == nil || !strings.Contains(err.Error(), "base must be an absolute") {
			t.Errorf("%v: expected base rejection, got %v", args, err)
		}
	}
	// Only the selected transport's base matters.
	if _, err := Load([]string{"--link", "x", "--stream-base", ""}); err != nil {
		t.Errorf("expected unused stream base to be ignored, got %v", err)
	}
}

func TestLoad_EnvOverridesAndFlagsWin(t *testing.T) {
	t.Setenv("REMOTEVIEW_TRANSPORT", "stream")
	t.Setenv("REMOTEVIEW_STREAM_BASE", "https://cam.example.com")
	t.Setenv("REMOTEVIEW_LINK", "session=abc&auth=tok")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Transport != TransportStream || cfg.DefaultBase() != "https://cam.example.com" {
		t.Errorf("expected env overrides, got %+v", cfg)
	}
	if cfg.TTL() != 2*time.Minute {
		t.Errorf("expected stream ttl, got %s", cfg.TTL())
	}

	cfg, err = Load([]string{"--transport", "WebRTC"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Transport != TransportWebRTC {
		t.Errorf("expected flag to win, got %q", cfg.Transport)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remoteview.yaml")
	data := "link: session=abc&auth=tok\ngather-timeout: 3s\nstatus-addr: 127.0.0.1:0\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load([]string{"--config", path})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GatherTimeout != 3*time.Second || cfg.StatusAddr != "127.0.0.1:0" {
		t.Errorf("expected file values, got %+v", cfg)
	}
}

func TestLoad_Validation(t *testing.T) {
	_, err := Load([]string{"--transport", "carrier-pigeon"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "transport must be") || !strings.Contains(msg, "--link is required") {
		t.Errorf("expected both problems reported, got %q", msg)
	}

	if _, err := Load([]string{"--link", "x", "--gather-timeout", "0s"}); err == nil {
		t.Error("expected zero gather timeout to be rejected")
	}
}

func TestLoad_Help(t *testing.T) {
	if _, err := Load([]string{"-h"}); !errors.Is(err, ErrHelp) {
		t.Errorf("expected ErrHelp, got %v", err)
	}
	if !strings.Contains(Usage(), "--transport") {
		t.Error("expected usage to list flags")
	}
}
