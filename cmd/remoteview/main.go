package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"

	"remoteview/native/internal/config"
	"remoteview/native/internal/domain"
	"remoteview/native/internal/link"
	"remoteview/native/internal/logging"
	sigclient "remoteview/native/internal/signal"
	"remoteview/native/internal/statusfeed"
	"remoteview/native/internal/stream"
	"remoteview/native/internal/viewer"
	"remoteview/native/internal/webrtc"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const helpText = `remoteview - Open a Remote View session from a shared link

Usage:
  remoteview [options]

The received media is written to --output (stdout by default): H264 as
Annex-B, VP8 as IVF, or the raw payload for the stream transport. Pipe to
ffplay or ffmpeg for playback or recording. Logs go to stderr.

Every option can also be set as REMOTEVIEW_<NAME> in the environment or a
.env file, e.g. REMOTEVIEW_LINK or REMOTEVIEW_SIGNAL_BASE.

Examples:
  # Live playback over WebRTC
  remoteview --link 'https://app.example.com/remoteview?session=abc&auth=tok' | ffplay -f h264 -

  # Pull the stream directly and record it
  remoteview -t stream --stream-base https://cam.example.com -l 'session=abc&auth=tok' -o out.ts

  # Drive from a local UI instead of connecting right away
  remoteview --status-addr 127.0.0.1:8089 --connect=false

Options:
`

// errFinished ends the program cleanly once a link-only session is over.
var errFinished = errors.New("session finished")

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, config.ErrHelp) {
		fmt.Print(helpText + config.Usage())
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "remoteview: %v\n\nRun remoteview --help for usage.\n", err)
		os.Exit(2)
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogPretty, os.Stderr)
	log := logger.With().Str("module", "main").Logger()

	if err := run(cfg, logger); err != nil {
		log.Error().Err(err).Msg("exiting")
		os.Exit(1)
	}
	log.Info().Msg("done")
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	log := logger.With().Str("module", "main").Logger()

	sink, closeSink, err := openSink(cfg.Output)
	if err != nil {
		return err
	}
	defer closeSink()

	ctrl := viewer.New(viewer.Options{
		Transport:     cfg.Transport,
		NewNegotiator: negotiatorFactory(cfg, sink, logger),
		PendingStatus: pendingStatus(cfg.Transport),
		Parser:        link.Parser{TTL: cfg.TTL(), DefaultBase: cfg.DefaultBase()},
		Log:           logger,
	})

	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(ctx) })
	snaps, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()
	g.Go(func() error { return watch(ctx, snaps, cfg.StatusAddr == "", log) })

	if cfg.StatusAddr != "" {
		feed := statusfeed.New(ctrl, statusfeed.Options{PingInterval: cfg.PingInterval, Log: logger})
		g.Go(func() error { return feed.ListenAndServe(ctx, cfg.StatusAddr) })
	}

	if err := load(ctrl, cfg, log); err != nil {
		stop()
		g.Wait()
		return err
	}

	if err := g.Wait(); err != nil && !errors.Is(err, errFinished) {
		return err
	}
	return nil
}

// load applies the configured link and connects when asked to. Without a
// status feed a refused connect is fatal since nothing else can recover it.
func load(ctrl *viewer.Controller, cfg *config.Config, log zerolog.Logger) error {
	if cfg.Link == "" {
		return nil
	}
	q, err := link.Query(cfg.Link)
	if err != nil {
		return err
	}
	if err := ctrl.SetLink(q); err != nil {
		return err
	}
	if !cfg.Connect {
		return nil
	}
	if err := ctrl.Connect(); err != nil {
		if cfg.StatusAddr == "" {
			return fmt.Errorf("connect: %w", err)
		}
		log.Warn().Err(err).Msg("auto-connect refused")
	}
	return nil
}

func negotiatorFactory(cfg *config.Config, sink io.Writer, logger zerolog.Logger) domain.NegotiatorFactory {
	if cfg.Transport == config.TransportStream {
		return stream.Factory(stream.Options{
			Client: &http.Client{},
			Sink:   sink,
			Log:    logger,
		})
	}
	return webrtc.Factory(webrtc.Options{
		Signaler:      sigclient.NewClient(nil, logger),
		Sink:          sink,
		GatherTimeout: cfg.GatherTimeout,
		LoggerFactory: logging.PionFactory{Logger: logger},
		Log:           logger,
	})
}

func pendingStatus(transport string) string {
	if transport == config.TransportStream {
		return "Loading stream…"
	}
	return "Requesting offer…"
}

func openSink(path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open output: %w", err)
	}
	return f, func() { f.Close() }, nil
}

// watch logs every status change. When exitOnEnd is set the program has no
// other surface, so a session that has run its course ends the group.
func watch(ctx context.Context, snaps <-chan viewer.Snapshot, exitOnEnd bool, log zerolog.Logger) error {
	var last viewer.Snapshot
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-snaps:
			if !ok {
				return nil
			}
			if snap.State != last.State || snap.Status != last.Status {
				log.Info().
					Str("state", snap.State.String()).
					Str("status", snap.Status).
					Int("expires_in", snap.ExpiresIn).
					Msg("status")
			}
			last = snap
			if !exitOnEnd {
				continue
			}
			switch snap.State {
			case domain.StateFailed:
				return fmt.Errorf("connection failed: %s", snap.Status)
			case domain.StateExpired, domain.StateDisconnected:
				return errFinished
			}
		}
	}
}
