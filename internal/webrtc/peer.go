package webrtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"remoteview/native/internal/domain"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/logging"
	"github.com/pion/sdp/v3"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// PeerConfig configures a receive-only peer.
type PeerConfig struct {
	ICEServers []domain.ICEServer
	// Sink receives the first video track as an elementary stream. Nil drains.
	Sink io.Writer
	// SinkLock serializes writes into Sink across peers. Nil gives the peer its own.
	SinkLock *sync.Mutex
	// LoggerFactory routes pion's own logs. Nil keeps pion's default.
	LoggerFactory logging.LoggerFactory
	// SettingEngine is an optional base for network settings.
	SettingEngine *pion.SettingEngine
	Log           zerolog.Logger
}

// Peer wraps a pion PeerConnection that answers a remote offer and renders
// the remote media into a sink.
type Peer struct {
	pc         *pion.PeerConnection
	iceServers []domain.ICEServer
	sink       io.Writer
	sinkMu     *sync.Mutex
	log        zerolog.Logger

	tracks   chan domain.Media
	failures chan error
	done     chan struct{}

	announced atomic.Bool
	writing   atomic.Bool
	closed    atomic.Bool
}

// NewPeer creates a PeerConnection with the codecs a remote view host offers.
func NewPeer(cfg PeerConfig) (*Peer, error) {
	m := &pion.MediaEngine{}
	for _, c := range []struct {
		params pion.RTPCodecParameters
		kind   pion.RTPCodecType
	}{
		{pion.RTPCodecParameters{
			RTPCodecCapability: pion.RTPCodecCapability{
				MimeType:    pion.MimeTypeH264,
				ClockRate:   90000,
				SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			},
			PayloadType: 102,
		}, pion.RTPCodecTypeVideo},
		{pion.RTPCodecParameters{
			RTPCodecCapability: pion.RTPCodecCapability{
				MimeType:    pion.MimeTypeH264,
				ClockRate:   90000,
				SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=640032",
			},
			PayloadType: 112,
		}, pion.RTPCodecTypeVideo},
		{pion.RTPCodecParameters{
			RTPCodecCapability: pion.RTPCodecCapability{MimeType: pion.MimeTypeVP8, ClockRate: 90000},
			PayloadType:        96,
		}, pion.RTPCodecTypeVideo},
		{pion.RTPCodecParameters{
			RTPCodecCapability: pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus, ClockRate: 48000, Channels: 2, SDPFmtpLine: "minptime=10;useinbandfec=1"},
			PayloadType:        111,
		}, pion.RTPCodecTypeAudio},
		{pion.RTPCodecParameters{
			RTPCodecCapability: pion.RTPCodecCapability{MimeType: pion.MimeTypePCMU, ClockRate: 8000, Channels: 1},
			PayloadType:        0,
		}, pion.RTPCodecTypeAudio},
	} {
		if err := m.RegisterCodec(c.params, c.kind); err != nil {
			return nil, fmt.Errorf("register %s: %w", c.params.MimeType, err)
		}
	}

	i := &interceptor.Registry{}
	generator, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack generator: %w", err)
	}
	i.Add(generator)
	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create pli interceptor: %w", err)
	}
	i.Add(pli)

	se := pion.SettingEngine{}
	if cfg.SettingEngine != nil {
		se = *cfg.SettingEngine
	}
	if cfg.LoggerFactory != nil {
		se.LoggerFactory = cfg.LoggerFactory
	}

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
		pion.WithSettingEngine(se),
	)

	servers := make([]pion.ICEServer, 0, len(cfg.ICEServers))
	for _, s := range cfg.ICEServers {
		servers = append(servers, pion.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	pc, err := api.NewPeerConnection(pion.Configuration{
		ICEServers:   servers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	if cfg.SinkLock == nil {
		cfg.SinkLock = &sync.Mutex{}
	}
	p := &Peer{
		pc:         pc,
		iceServers: slices.Clone(cfg.ICEServers),
		sink:       cfg.Sink,
		sinkMu:     cfg.SinkLock,
		log:        cfg.Log,
		tracks:     make(chan domain.Media, 1),
		failures:   make(chan error, 1),
		done:       make(chan struct{}),
	}

	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		p.log.Debug().Str("ice_state", state.String()).Msg("ICE connection state")
	})
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		p.log.Info().Str("peer_state", state.String()).Msg("peer connection state")
		switch state {
		case pion.PeerConnectionStateFailed:
			p.fail(domain.TransportError("Peer connection failed", nil))
		case pion.PeerConnectionStateClosed:
			p.fail(domain.TransportError("Peer connection closed by remote", nil))
		}
	})
	pc.OnTrack(p.handleTrack)

	return p, nil
}

// ICEServers returns the servers this peer was built with.
func (p *Peer) ICEServers() []domain.ICEServer { return p.iceServers }

// Tracks delivers the first remote track.
func (p *Peer) Tracks() <-chan domain.Media { return p.tracks }

// Failures delivers the first terminal failure not caused by Close.
func (p *Peer) Failures() <-chan error { return p.failures }

// Done is closed once Close has been called.
func (p *Peer) Done() <-chan struct{} { return p.done }

func (p *Peer) handleTrack(track *pion.TrackRemote, _ *pion.RTPReceiver) {
	codec := track.Codec()
	p.log.Info().
		Str("kind", track.Kind().String()).
		Str("codec", codec.MimeType).
		Uint8("pt", uint8(codec.PayloadType)).
		Str("track_id", track.ID()).
		Msg("got track")

	if p.announced.CompareAndSwap(false, true) {
		p.tracks <- domain.Media{
			Kind:     track.Kind().String(),
			Codec:    codec.MimeType,
			TrackID:  track.ID(),
			StreamID: track.StreamID(),
		}
	}

	var w rtpWriter
	if track.Kind() == pion.RTPCodecTypeVideo && p.writing.CompareAndSwap(false, true) {
		err := p.writeSink(func() (err error) {
			w, err = newSinkWriter(codec.MimeType, p.sink)
			return err
		})
		if err != nil {
			p.fail(domain.TransportError("Failed to open video output", err))
			return
		}
	}
	go p.readTrack(track, w)
}

func (p *Peer) readTrack(track *pion.TrackRemote, w rtpWriter) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if p.closed.Load() || errors.Is(err, io.EOF) {
				return
			}
			p.fail(domain.TransportError("Track read failed", err))
			return
		}
		if w == nil {
			continue
		}
		if err := p.writeSink(func() error { return w.WriteRTP(pkt) }); err != nil {
			p.fail(domain.TransportError("Failed to write video output", err))
			return
		}
	}
}

// writeSink runs write under the sink lock unless the peer is closed.
func (p *Peer) writeSink(write func() error) error {
	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()
	if p.closed.Load() {
		return nil
	}
	return write()
}

func (p *Peer) fail(err error) {
	if p.closed.Load() {
		return
	}
	select {
	case p.failures <- err:
	default:
	}
}

// Answer applies the remote offer, creates and sets the local answer and
// waits up to gatherTimeout for ICE gathering, since candidates are not trickled.
func (p *Peer) Answer(ctx context.Context, offer domain.SDPPayload, gatherTimeout time.Duration) (domain.SDPPayload, error) {
	if err := ValidateOffer(offer.SDP); err != nil {
		return domain.SDPPayload{}, domain.NegotiationError("Malformed SDP offer", err)
	}

	if err := p.pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		return domain.SDPPayload{}, domain.NegotiationError("Failed to apply SDP offer", fmt.Errorf("set remote description: %w", err))
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SDPPayload{}, domain.NegotiationError("Failed to create answer", fmt.Errorf("create answer: %w", err))
	}

	gatherComplete := pion.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return domain.SDPPayload{}, domain.NegotiationError("Failed to create answer", fmt.Errorf("set local description: %w", err))
	}

	timer := time.NewTimer(gatherTimeout)
	defer timer.Stop()
	select {
	case <-gatherComplete:
	case <-timer.C:
		p.log.Warn().Dur("timeout", gatherTimeout).Msg("ICE gathering incomplete, sending partial answer")
	case <-ctx.Done():
		return domain.SDPPayload{}, domain.NegotiationError("Connection cancelled", ctx.Err())
	}

	local := p.pc.LocalDescription()
	if local == nil {
		return domain.SDPPayload{}, domain.NegotiationError("Failed to create answer", errors.New("no local description"))
	}
	p.log.Debug().Msg("local SDP answer set")
	return domain.SDPPayload{Type: local.Type.String(), SDP: local.SDP}, nil
}

// ValidateOffer rejects SDP that does not parse or carries no media.
func ValidateOffer(raw string) error {
	var desc sdp.SessionDescription
	if err := desc.UnmarshalString(raw); err != nil {
		return fmt.Errorf("parse sdp: %w", err)
	}
	if len(desc.MediaDescriptions) == 0 {
		return errors.New("sdp has no media sections")
	}
	return nil
}

// Close stops all senders and closes the PeerConnection. Safe to call twice.
func (p *Peer) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	close(p.done)

	for _, sender := range p.pc.GetSenders() {
		if err := sender.Stop(); err != nil {
			p.log.Debug().Err(err).Msg("stop sender")
		}
	}
	if err := p.pc.Close(); err != nil {
		p.log.Warn().Err(err).Msg("close peer connection")
	}
}
