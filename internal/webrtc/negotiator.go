package webrtc

import (
	"context"
	"io"
	"sync"
	"time"

	"remoteview/native/internal/domain"

	"github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// DefaultGatherTimeout bounds ICE gathering before the answer is posted.
const DefaultGatherTimeout = 10 * time.Second

// Options configures the WebRTC negotiator.
type Options struct {
	Signaler domain.Signaler
	Sink     io.Writer
	// SinkLock serializes writes into Sink. Factory shares one lock across
	// the negotiators it builds; nil gives a negotiator its own.
	SinkLock *sync.Mutex
	// ICEServers is used until signaling supplies its own. Nil means
	// domain.DefaultICEServers.
	ICEServers    []domain.ICEServer
	GatherTimeout time.Duration
	LoggerFactory logging.LoggerFactory
	SettingEngine *pion.SettingEngine
	Log           zerolog.Logger
}

// Negotiator drives the SDP offer/answer exchange for one controller
// attempt. It implements domain.Negotiator.
type Negotiator struct {
	opts      Options
	onFailure func(error)
	log       zerolog.Logger

	mu   sync.Mutex
	gen  uint64
	peer *Peer
}

// Factory returns a domain.NegotiatorFactory building WebRTC negotiators.
func Factory(opts Options) domain.NegotiatorFactory {
	if opts.SinkLock == nil {
		opts.SinkLock = &sync.Mutex{}
	}
	return func(onFailure func(error)) domain.Negotiator {
		return NewNegotiator(opts, onFailure)
	}
}

// NewNegotiator creates a negotiator. onFailure may be nil.
func NewNegotiator(opts Options, onFailure func(error)) *Negotiator {
	if opts.ICEServers == nil {
		opts.ICEServers = domain.DefaultICEServers
	}
	if opts.GatherTimeout <= 0 {
		opts.GatherTimeout = DefaultGatherTimeout
	}
	if opts.SinkLock == nil {
		opts.SinkLock = &sync.Mutex{}
	}
	if onFailure == nil {
		onFailure = func(error) {}
	}
	return &Negotiator{
		opts:      opts,
		onFailure: onFailure,
		log:       opts.Log.With().Str("module", "webrtc").Logger(),
	}
}

// Connect negotiates with the host and returns once the first remote track arrives.
func (n *Negotiator) Connect(ctx context.Context, s domain.Session) (domain.Media, error) {
	n.Disconnect()
	gen := n.generation()
	log := n.log.With().Str("session", s.ID).Str("attempt", domain.AttemptID(ctx)).Logger()

	peer, err := n.install(gen, n.opts.ICEServers, log)
	if err != nil {
		return domain.Media{}, err
	}

	log.Info().Msg("requesting offer")
	resp, err := n.opts.Signaler.RequestOffer(ctx, s)
	if err != nil {
		return domain.Media{}, asNegotiation(err, "Failed to request offer")
	}

	servers := resp.ICEServers.Normalize(n.opts.ICEServers)
	if !domain.EqualICEServers(servers, peer.ICEServers()) {
		log.Debug().Int("ice_servers", len(servers)).Msg("applying signaled ICE servers")
		if peer, err = n.install(gen, servers, log); err != nil {
			return domain.Media{}, err
		}
	}

	answer, err := peer.Answer(ctx, *resp.Offer, n.opts.GatherTimeout)
	if err != nil {
		return domain.Media{}, err
	}

	log.Info().Msg("sending answer")
	if err := n.opts.Signaler.SendAnswer(ctx, s, answer); err != nil {
		return domain.Media{}, asNegotiation(err, "Failed to send answer")
	}

	select {
	case media := <-peer.Tracks():
		log.Info().Str("kind", media.Kind).Str("codec", media.Codec).Msg("remote media established")
		go n.watch(gen, peer)
		return media, nil
	case err := <-peer.Failures():
		return domain.Media{}, domain.NegotiationError("Connection failed", err)
	case <-peer.Done():
		return domain.Media{}, domain.NegotiationError("Connection cancelled", context.Canceled)
	case <-ctx.Done():
		return domain.Media{}, domain.NegotiationError("Connection cancelled", ctx.Err())
	}
}

// Disconnect closes the current peer, if any. Idempotent.
func (n *Negotiator) Disconnect() {
	n.mu.Lock()
	n.gen++
	p := n.peer
	n.peer = nil
	n.mu.Unlock()

	if p != nil {
		n.log.Debug().Msg("closing peer")
		p.Close()
	}
}

func (n *Negotiator) generation() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.gen
}

// install builds a peer and makes it current, closing the one it replaces.
// It refuses when a Disconnect happened since gen was read.
func (n *Negotiator) install(gen uint64, servers []domain.ICEServer, log zerolog.Logger) (*Peer, error) {
	peer, err := NewPeer(PeerConfig{
		ICEServers:    servers,
		Sink:          n.opts.Sink,
		SinkLock:      n.opts.SinkLock,
		LoggerFactory: n.opts.LoggerFactory,
		SettingEngine: n.opts.SettingEngine,
		Log:           log,
	})
	if err != nil {
		return nil, domain.NegotiationError("Failed to create peer connection", err)
	}

	n.mu.Lock()
	if gen != n.gen {
		n.mu.Unlock()
		peer.Close()
		return nil, domain.NegotiationError("Connection cancelled", context.Canceled)
	}
	old := n.peer
	n.peer = peer
	n.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return peer, nil
}

// watch forwards post-connection failures while peer is still current.
func (n *Negotiator) watch(gen uint64, peer *Peer) {
	select {
	case err := <-peer.Failures():
		if n.generation() != gen {
			return
		}
		n.log.Warn().Err(err).Msg("transport failure")
		n.onFailure(err)
	case <-peer.Done():
	}
}

func asNegotiation(err error, fallback string) error {
	if domain.KindOf(err) == domain.KindNegotiation {
		return err
	}
	return domain.NegotiationError(fallback, err)
}
