package domain

import (
	"encoding/json"
	"fmt"
)

// SDPPayload is the JSON structure for SDP offer/answer messages.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// UnmarshalJSON accepts either a {type, sdp} object or a bare SDP string.
func (p *SDPPayload) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		*p = SDPPayload{SDP: raw}
		return nil
	}

	type plain SDPPayload
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("sdp payload: %w", err)
	}
	*p = SDPPayload(obj)
	return nil
}

// OfferRequest is the body of POST {base}/offer.
type OfferRequest struct {
	SessionID string `json:"sessionId"`
	AuthToken string `json:"authToken"`
}

// OfferResponse is the success body of POST {base}/offer.
type OfferResponse struct {
	Offer      *SDPPayload `json:"offer"`
	ICEServers ICEServers  `json:"iceServers"`
}

// AnswerRequest is the body of POST {base}/answer.
type AnswerRequest struct {
	SessionID string     `json:"sessionId"`
	AuthToken string     `json:"authToken"`
	Answer    SDPPayload `json:"answer"`
}

// ErrorResponse is the optional body of a failed signaling or stream request.
type ErrorResponse struct {
	Error string `json:"error"`
}
