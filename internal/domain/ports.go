package domain

import "context"

// Media describes what an established negotiation is delivering to the sink.
type Media struct {
	Kind        string `json:"kind"`
	Codec       string `json:"codec,omitempty"`
	TrackID     string `json:"trackId,omitempty"`
	StreamID    string `json:"streamId,omitempty"`
	ContentType string `json:"contentType,omitempty"`
}

// Negotiator establishes one transport for a session.
//
// Connect blocks until the media is established or negotiation fails; a
// failure is returned as a KindNegotiation *Error. Disconnect releases every
// transport resource before returning, is safe to call at any time, and
// must not wait on goroutines that report back to the caller.
type Negotiator interface {
	Connect(ctx context.Context, s Session) (Media, error)
	Disconnect()
}

// NegotiatorFactory builds a negotiator for one attempt. onFailure receives
// asynchronous transport errors raised after Connect has been called.
type NegotiatorFactory func(onFailure func(error)) Negotiator

// Signaler performs the WebRTC offer/answer exchange with the signaling endpoint.
type Signaler interface {
	RequestOffer(ctx context.Context, s Session) (*OfferResponse, error)
	SendAnswer(ctx context.Context, s Session, answer SDPPayload) error
}

type attemptKey struct{}

// WithAttemptID tags ctx with the connection attempt identifier.
func WithAttemptID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, attemptKey{}, id)
}

// AttemptID returns the attempt identifier stored in ctx, if any.
func AttemptID(ctx context.Context) string {
	id, _ := ctx.Value(attemptKey{}).(string)
	return id
}
