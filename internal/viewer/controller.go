package viewer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"remoteview/native/internal/clock"
	"remoteview/native/internal/domain"
	"remoteview/native/internal/link"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Status lines shown to the user.
const (
	StatusConnected    = "Connected"
	StatusDisconnected = "Disconnected"
	StatusExpired      = "Link expired – request a fresh /remoteview link."
	StatusFailed       = "Failed to connect"
	StatusStreamLost   = "Stream lost: "

	HintNotReady = "Paste a valid Remote View link (with session + auth) to begin."
)

// Options configures a Controller.
type Options struct {
	// Transport names the negotiation strategy, for display.
	Transport string
	// NewNegotiator builds one negotiator per connection attempt.
	NewNegotiator domain.NegotiatorFactory
	Parser        link.Parser
	// PendingStatus is shown while negotiating.
	PendingStatus string
	// TickInterval is the countdown cadence; zero means one second.
	TickInterval time.Duration
	Now          func() time.Time
	Log          zerolog.Logger
}

// Snapshot is the state rendered by the UI collaborator.
type Snapshot struct {
	State         domain.ConnectionState `json:"state"`
	Status        string                 `json:"status"`
	Hint          string                 `json:"hint"`
	SessionID     string                 `json:"sessionId"`
	AuthToken     string                 `json:"authToken"`
	ExpiresIn     int                    `json:"expiresIn"`
	CanConnect    bool                   `json:"canConnect"`
	CanDisconnect bool                   `json:"canDisconnect"`
	Transport     string                 `json:"transport"`
	AttemptID     string                 `json:"attemptId,omitempty"`
	Media         *domain.Media          `json:"media,omitempty"`
}

// Controller owns the session and the connection state. All mutation runs
// on the goroutine executing Run; public methods hand work to it.
type Controller struct {
	opts  Options
	now   func() time.Time
	clock *clock.Clock
	log   zerolog.Logger

	inbox chan func()
	done  chan struct{}

	// Owned by the Run goroutine.
	ctx       context.Context
	session   *domain.Session
	state     domain.ConnectionState
	status    string
	expired   bool
	remaining time.Duration
	gen       uint64
	clockGen  uint64
	neg       domain.Negotiator
	cancel    context.CancelFunc
	attemptID string
	media     *domain.Media

	subMu sync.Mutex
	subs  map[chan Snapshot]struct{}
	last  Snapshot
}

// New creates a Controller in the Idle state with no session.
func New(opts Options) *Controller {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.Parser.Now == nil {
		opts.Parser.Now = now
	}
	if opts.PendingStatus == "" {
		opts.PendingStatus = "Connecting…"
	}
	c := &Controller{
		opts:  opts,
		now:   now,
		clock: clock.New(opts.TickInterval, now),
		log:   opts.Log.With().Str("module", "viewer").Logger(),
		inbox: make(chan func(), 16),
		done:  make(chan struct{}),
		state: domain.StateIdle,
		subs:  make(map[chan Snapshot]struct{}),
	}
	c.last = c.snapshot()
	return c
}

// Run processes commands and transport events until ctx is done, then
// tears down any active transport and reports Disconnected.
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	defer close(c.done)

	for {
		select {
		case fn := <-c.inbox:
			fn()
		case <-ctx.Done():
			c.shutdown()
			return nil
		}
	}
}

func (c *Controller) shutdown() {
	c.clock.Stop()
	active := c.state.Active()
	c.teardown()
	if active {
		c.setState(domain.StateDisconnected, StatusDisconnected)
	}
	c.log.Info().Msg("controller stopped")

	c.subMu.Lock()
	for ch := range c.subs {
		close(ch)
	}
	c.subs = nil
	c.subMu.Unlock()
}

// do runs fn on the actor and waits for it.
func (c *Controller) do(fn func()) error {
	finished := make(chan struct{})
	select {
	case c.inbox <- func() { fn(); close(finished) }:
	case <-c.done:
		return domain.ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-c.done:
		return domain.ErrClosed
	}
}

// post queues fn without waiting; used by transport and clock callbacks.
func (c *Controller) post(fn func()) {
	select {
	case c.inbox <- fn:
	case <-c.done:
	}
}

// SetLink replaces the session with one parsed from q. Any attempt in
// flight is torn down, the controller returns to Idle and the countdown
// restarts, whether or not the link carries session and auth.
func (c *Controller) SetLink(q url.Values) error {
	return c.do(func() {
		c.clock.Stop()
		c.teardown()

		s := c.opts.Parser.Parse(q)
		c.session = &s
		c.expired = false
		c.remaining = max(s.ExpiresAt.Sub(c.now()), 0)
		c.attemptID = ""
		c.setState(domain.StateIdle, "")

		c.log.Info().
			Str("session", s.ID).
			Str("token", s.MaskedToken()).
			Bool("ready", s.Ready()).
			Time("expires_at", s.ExpiresAt).
			Msg("link loaded")

		c.startClock()
	})
}

// Connect starts a new negotiation attempt, superseding any previous one.
// It returns once the attempt has started; the outcome arrives as a state change.
func (c *Controller) Connect() error {
	var err error
	if doErr := c.do(func() { err = c.connect() }); doErr != nil {
		return doErr
	}
	return err
}

func (c *Controller) connect() error {
	if c.session == nil || !c.session.Ready() {
		c.log.Debug().Msg("connect refused: link not ready")
		return domain.ErrLinkInvalid
	}
	if c.expired || c.session.Expired(c.now()) {
		c.expire()
		return domain.ErrSessionExpired
	}

	c.teardown()
	gen := c.gen
	c.attemptID = uuid.NewString()

	ctx, cancel := context.WithCancel(domain.WithAttemptID(c.ctx, c.attemptID))
	neg := c.opts.NewNegotiator(func(err error) {
		c.post(func() { c.onTransportFailure(gen, err) })
	})
	c.neg, c.cancel = neg, cancel

	c.setState(domain.StateNegotiating, c.opts.PendingStatus)
	if !c.clock.Running() {
		c.startClock()
	}
	c.log.Info().Str("session", c.session.ID).Str("attempt", c.attemptID).Msg("connecting")

	s := *c.session
	go func() {
		media, err := neg.Connect(ctx, s)
		c.post(func() { c.onOutcome(gen, media, err) })
	}()
	return nil
}

// Disconnect ends the current attempt. On Idle, Failed, Disconnected or
// Expired it only releases leftovers and leaves the state alone.
func (c *Controller) Disconnect() {
	_ = c.do(func() {
		active := c.state.Active()
		c.teardown()
		if !active {
			return
		}
		c.setState(domain.StateDisconnected, StatusDisconnected)
		c.log.Info().Msg("disconnected")
	})
}

// Snapshot returns the latest published state.
func (c *Controller) Snapshot() Snapshot {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return c.last
}

// Subscribe returns a channel receiving every published snapshot, starting
// with the current one. Slow receivers miss intermediate snapshots.
// The returned func unsubscribes.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)

	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.subs == nil {
		close(ch)
		return ch, func() {}
	}
	ch <- c.last
	c.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			if _, ok := c.subs[ch]; ok {
				delete(c.subs, ch)
				close(ch)
			}
		})
	}
}

func (c *Controller) onOutcome(gen uint64, media domain.Media, err error) {
	if gen != c.gen || c.state != domain.StateNegotiating {
		c.log.Debug().Uint64("gen", gen).Err(err).Msg("discarding stale outcome")
		return
	}

	if err != nil {
		c.fail(err, "")
		return
	}
	c.media = &media
	c.setState(domain.StateConnected, StatusConnected)
	c.log.Info().Str("kind", media.Kind).Str("codec", media.Codec).Msg("connected")
}

func (c *Controller) onTransportFailure(gen uint64, err error) {
	if gen != c.gen || !c.state.Active() {
		c.log.Debug().Uint64("gen", gen).Err(err).Msg("discarding stale transport failure")
		return
	}
	if c.state == domain.StateConnected {
		c.fail(err, StatusStreamLost)
		return
	}
	c.fail(err, "")
}

func (c *Controller) fail(err error, prefix string) {
	msg := StatusFailed
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	c.log.Warn().Err(err).Str("kind", domain.KindOf(err).String()).Str("from", c.state.String()).Msg("connection failed")

	c.teardown()
	c.setState(domain.StateFailed, prefix+msg)
}

func (c *Controller) expire() {
	c.clock.Stop()
	c.expired = true
	c.remaining = 0
	c.teardown()
	if c.state == domain.StateDisconnected {
		c.publish()
		return
	}
	c.setState(domain.StateExpired, StatusExpired)
	c.log.Info().Msg("link expired")
}

// teardown releases the active negotiator. Later outcomes from it are
// stale because the generation moves on.
func (c *Controller) teardown() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.neg != nil {
		c.neg.Disconnect()
		c.neg = nil
	}
	c.gen++
	c.media = nil
}

func (c *Controller) startClock() {
	c.clockGen++
	gen := c.clockGen
	c.clock.Start(c.session.ExpiresAt,
		func(remaining time.Duration) {
			c.post(func() {
				if gen != c.clockGen {
					return
				}
				c.remaining = remaining
				c.publish()
			})
		},
		func() {
			c.post(func() {
				if gen != c.clockGen {
					return
				}
				c.expire()
			})
		},
	)
}

func (c *Controller) setState(s domain.ConnectionState, status string) {
	if c.state != s {
		c.log.Debug().Str("from", c.state.String()).Str("to", s.String()).Msg("state change")
	}
	c.state = s
	c.status = status
	c.publish()
}

func (c *Controller) publish() {
	snap := c.snapshot()

	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.last = snap
	for ch := range c.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (c *Controller) snapshot() Snapshot {
	snap := Snapshot{
		State:     c.state,
		Status:    c.status,
		Hint:      HintNotReady,
		Transport: c.opts.Transport,
		AttemptID: c.attemptID,
		Media:     c.media,
	}
	if c.session == nil {
		return snap
	}

	snap.SessionID = c.session.ID
	snap.AuthToken = c.session.MaskedToken()
	snap.ExpiresIn = clock.Seconds(c.remaining)
	ready := c.session.Ready()
	if ready {
		snap.Hint = readyHint(c.opts.Parser.TTL)
	}
	if c.expired {
		snap.Hint = StatusExpired
	}
	snap.CanConnect = ready && !c.expired && !c.state.Active()
	snap.CanDisconnect = c.state.Active()
	return snap
}

func readyHint(ttl time.Duration) string {
	return fmt.Sprintf("Ready to connect. Links expire automatically after %s.", humanTTL(ttl))
}

func humanTTL(ttl time.Duration) string {
	switch {
	case ttl == time.Minute:
		return "one minute"
	case ttl == 2*time.Minute:
		return "two minutes"
	case ttl%time.Minute == 0 && ttl > 0:
		return fmt.Sprintf("%d minutes", int(ttl/time.Minute))
	default:
		return fmt.Sprintf("%d seconds", int(ttl.Round(time.Second)/time.Second))
	}
}

// IsRefusal reports whether err is a Connect refusal rather than a closed controller.
func IsRefusal(err error) bool {
	return errors.Is(err, domain.ErrLinkInvalid) || errors.Is(err, domain.ErrSessionExpired)
}
