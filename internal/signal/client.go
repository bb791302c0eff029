package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"remoteview/native/internal/domain"

	"github.com/rs/zerolog"
)

const (
	offerPath  = "/offer"
	answerPath = "/answer"

	// maxBodySize bounds signaling responses; SDP offers are a few KiB.
	maxBodySize = 1 << 20
)

// Fallback messages when the endpoint gives no {error} body.
const (
	msgOfferFailed  = "Failed to request offer"
	msgAnswerFailed = "Failed to send answer"
	msgMissingOffer = "Missing SDP offer from signaling server."
)

// Client performs the offer/answer exchange over HTTPS. It implements domain.Signaler.
type Client struct {
	http *http.Client
	log  zerolog.Logger
}

// NewClient creates a signaling client. A nil httpClient gets a 15s timeout client.
func NewClient(httpClient *http.Client, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		http: httpClient,
		log:  log.With().Str("module", "signal").Logger(),
	}
}

// RequestOffer asks the signaling endpoint for the host's SDP offer.
func (c *Client) RequestOffer(ctx context.Context, s domain.Session) (*domain.OfferResponse, error) {
	c.log.Debug().Str("session", s.ID).Str("token", s.MaskedToken()).Msg("requesting offer")

	body, err := c.post(ctx, s.TransportBase+offerPath, domain.OfferRequest{
		SessionID: s.ID,
		AuthToken: s.AuthToken,
	}, msgOfferFailed)
	if err != nil {
		return nil, err
	}

	var resp domain.OfferResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, domain.NegotiationError(msgOfferFailed, fmt.Errorf("unmarshal offer response: %w", err))
	}
	if resp.Offer == nil || strings.TrimSpace(resp.Offer.SDP) == "" {
		return nil, domain.NegotiationError(msgMissingOffer, nil)
	}

	c.log.Debug().Str("session", s.ID).Int("ice_servers", len(resp.ICEServers)).Msg("offer received")
	return &resp, nil
}

// SendAnswer posts the local SDP answer back to the signaling endpoint.
func (c *Client) SendAnswer(ctx context.Context, s domain.Session, answer domain.SDPPayload) error {
	if answer.Type == "" {
		answer.Type = "answer"
	}
	_, err := c.post(ctx, s.TransportBase+answerPath, domain.AnswerRequest{
		SessionID: s.ID,
		AuthToken: s.AuthToken,
		Answer:    answer,
	}, msgAnswerFailed)
	if err != nil {
		return err
	}
	c.log.Debug().Str("session", s.ID).Msg("answer accepted")
	return nil
}

func (c *Client) post(ctx context.Context, url string, payload any, fallback string) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.NegotiationError(fallback, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, domain.NegotiationError(fallback, fmt.Errorf("create http request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if id := domain.AttemptID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.NegotiationError(fallback, fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, domain.NegotiationError(fallback, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := ErrorMessage(body)
		if msg == "" {
			msg = fallback
		}
		c.log.Warn().Int("status", resp.StatusCode).Str("url", url).Str("error", msg).Msg("signaling request rejected")
		return nil, domain.NegotiationError(msg, fmt.Errorf("http %d", resp.StatusCode))
	}
	return body, nil
}

// ErrorMessage extracts the {error} field of a failure body. An unparsable
// body yields "" rather than a secondary error.
func ErrorMessage(body []byte) string {
	var e domain.ErrorResponse
	if err := json.Unmarshal(body, &e); err != nil {
		return ""
	}
	return strings.TrimSpace(e.Error)
}
