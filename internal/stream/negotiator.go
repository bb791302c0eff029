// Package stream pulls a continuous media payload directly by URL.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"remoteview/native/internal/domain"
	"remoteview/native/internal/signal"

	"github.com/rs/zerolog"
)

const streamPath = "/stream"

const (
	msgLoadFailed = "Failed to load stream"
	msgCancelled  = "Stream load cancelled"
	msgEnded      = "Stream ended"
	msgReadFailed = "Stream read failed"
)

// Options configures the stream negotiator.
type Options struct {
	// Client must not set a total Timeout, the response body is read for
	// the lifetime of the session.
	Client *http.Client
	Sink   io.Writer
	// SinkLock serializes writes into Sink. Factory shares one lock across
	// the negotiators it builds; nil gives a negotiator its own.
	SinkLock *sync.Mutex
	Log      zerolog.Logger
}

// Negotiator loads {base}/stream and copies the payload into the sink.
// It implements domain.Negotiator.
type Negotiator struct {
	client    *http.Client
	sink      io.Writer
	sinkMu    *sync.Mutex
	onFailure func(error)
	log       zerolog.Logger

	mu  sync.Mutex
	cur *load
}

// load is one assignment of a source URL. expectingError marks errors that
// follow from Disconnect so they are not reported.
type load struct {
	cancel         context.CancelFunc
	expectingError atomic.Bool

	mu   sync.Mutex
	body io.ReadCloser
}

// Factory returns a domain.NegotiatorFactory building stream negotiators.
func Factory(opts Options) domain.NegotiatorFactory {
	if opts.SinkLock == nil {
		opts.SinkLock = &sync.Mutex{}
	}
	return func(onFailure func(error)) domain.Negotiator {
		return NewNegotiator(opts, onFailure)
	}
}

// NewNegotiator creates a stream negotiator. onFailure may be nil.
func NewNegotiator(opts Options, onFailure func(error)) *Negotiator {
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.SinkLock == nil {
		opts.SinkLock = &sync.Mutex{}
	}
	if onFailure == nil {
		onFailure = func(error) {}
	}
	return &Negotiator{
		client:    opts.Client,
		sink:      opts.Sink,
		sinkMu:    opts.SinkLock,
		onFailure: onFailure,
		log:       opts.Log.With().Str("module", "stream").Logger(),
	}
}

// URL builds {base}/stream?session=<id>&auth=<token>.
func URL(base, sessionID, authToken string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse stream base: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + streamPath
	q := u.Query()
	q.Set("session", sessionID)
	q.Set("auth", authToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect requests the stream and returns once the first payload bytes
// have arrived.
func (n *Negotiator) Connect(ctx context.Context, s domain.Session) (domain.Media, error) {
	n.Disconnect()

	src, err := URL(s.TransportBase, s.ID, s.AuthToken)
	if err != nil {
		return domain.Media{}, domain.NegotiationError(msgLoadFailed, err)
	}
	log := n.log.With().Str("session", s.ID).Str("attempt", domain.AttemptID(ctx)).Logger()

	lctx, cancel := context.WithCancel(ctx)
	l := &load{cancel: cancel}
	n.mu.Lock()
	n.cur = l
	n.mu.Unlock()

	req, err := http.NewRequestWithContext(lctx, http.MethodGet, src, nil)
	if err != nil {
		n.drop(l)
		return domain.Media{}, domain.NegotiationError(msgLoadFailed, fmt.Errorf("create http request: %w", err))
	}
	if id := domain.AttemptID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	log.Info().Str("token", s.MaskedToken()).Msg("loading stream")
	resp, err := n.client.Do(req)
	if err != nil {
		return domain.Media{}, n.loadError(l, fmt.Errorf("http request: %w", err), msgLoadFailed)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		msg := signal.ErrorMessage(body)
		if msg == "" {
			msg = fmt.Sprintf("%s (HTTP %d)", msgLoadFailed, resp.StatusCode)
		}
		return domain.Media{}, n.loadError(l, fmt.Errorf("http %d", resp.StatusCode), msg)
	}

	if !l.attach(resp.Body) {
		resp.Body.Close()
		return domain.Media{}, domain.NegotiationError(msgCancelled, context.Canceled)
	}

	// The stream counts as loaded once the first payload bytes arrive.
	buf := make([]byte, 32<<10)
	first, err := readSome(resp.Body, buf)
	if err != nil {
		return domain.Media{}, n.loadError(l, fmt.Errorf("read first chunk: %w", err), msgLoadFailed)
	}
	sink := &gatedWriter{w: n.sink, mu: n.sinkMu, l: l}
	if _, err := sink.Write(buf[:first]); err != nil {
		return domain.Media{}, n.loadError(l, fmt.Errorf("write first chunk: %w", err), msgLoadFailed)
	}

	media := domain.Media{Kind: "stream", ContentType: resp.Header.Get("Content-Type")}
	log.Info().Str("content_type", media.ContentType).Int("first_chunk", first).Msg("stream loaded")

	go n.pump(l, resp.Body, sink, buf, log)
	return media, nil
}

// Disconnect clears the current source: the request is cancelled, the body
// closed, and any error that follows is suppressed. Idempotent.
func (n *Negotiator) Disconnect() {
	n.mu.Lock()
	l := n.cur
	n.cur = nil
	n.mu.Unlock()

	if l == nil {
		return
	}
	l.expectingError.Store(true)
	l.cancel()
	l.close()
	n.log.Debug().Msg("stream source cleared")
}

func (n *Negotiator) pump(l *load, body io.ReadCloser, sink io.Writer, buf []byte, log zerolog.Logger) {
	_, err := io.CopyBuffer(sink, body, buf)
	l.close()

	if l.expectingError.Load() {
		log.Debug().Err(err).Msg("stream closed by disconnect")
		return
	}
	n.drop(l)

	failure := domain.TransportError(msgReadFailed, err)
	if err == nil {
		failure = domain.TransportError(msgEnded, io.EOF)
	}
	log.Warn().Err(err).Msg("stream interrupted")
	n.onFailure(failure)
}

// loadError converts a pre-load failure, staying quiet when Disconnect caused it.
func (n *Negotiator) loadError(l *load, cause error, msg string) error {
	if l.expectingError.Load() {
		return domain.NegotiationError(msgCancelled, cause)
	}
	n.drop(l)
	n.log.Warn().Err(cause).Str("error", msg).Msg("stream load failed")
	return domain.NegotiationError(msg, cause)
}

// drop releases l if it is still the current source.
func (n *Negotiator) drop(l *load) {
	n.mu.Lock()
	if n.cur == l {
		n.cur = nil
	}
	n.mu.Unlock()
	l.cancel()
	l.close()
}

func (l *load) attach(body io.ReadCloser) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.expectingError.Load() {
		return false
	}
	l.body = body
	return true
}

func (l *load) close() {
	l.mu.Lock()
	body := l.body
	l.body = nil
	l.mu.Unlock()
	if body != nil {
		body.Close()
	}
}

func readSome(r io.Reader, buf []byte) (int, error) {
	for {
		n, err := r.Read(buf)
		if n > 0 {
			return n, nil
		}
		if err == io.EOF {
			return 0, io.ErrUnexpectedEOF
		}
		if err != nil {
			return 0, err
		}
	}
}

var errSinkClosed = errors.New("sink detached")

// gatedWriter stops forwarding once its load has been disconnected. The
// check and the write share mu with every other load on the same sink, so a
// superseded load never interleaves with the next one.
type gatedWriter struct {
	w  io.Writer
	mu *sync.Mutex
	l  *load
}

func (g *gatedWriter) Write(p []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.l.expectingError.Load() {
		return 0, errSinkClosed
	}
	if g.w == nil {
		return len(p), nil
	}
	return g.w.Write(p)
}
