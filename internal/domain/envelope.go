package domain

import (
	"encoding/json"
	"fmt"
)

// Envelope is the signaling message carried one-per-text-frame. Exactly one
// of Description or Candidate is set on a valid message.
type Envelope struct {
	Description *Description `json:"description,omitempty"`
	Candidate   *Candidate   `json:"candidate,omitempty"`
}

// Description is the JSON structure for SDP offer/answer messages.
type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is the JSON structure for trickled ICE candidate messages.
type Candidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
}

var descriptionTypes = map[string]bool{
	"offer":    true,
	"answer":   true,
	"pranswer": true,
	"rollback": true,
}

// Decode parses one inbound text frame. Unknown top-level keys are ignored;
// a frame carrying neither a description nor a candidate, or a description
// with an unrecognized type, is an error and the caller drops the frame.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed JSON: %w", err)
	}

	switch {
	case env.Description != nil:
		if !descriptionTypes[env.Description.Type] {
			return nil, fmt.Errorf("unknown description type %q", env.Description.Type)
		}
	case env.Candidate != nil:
	default:
		return nil, fmt.Errorf("no description or candidate in message")
	}

	return &env, nil
}
