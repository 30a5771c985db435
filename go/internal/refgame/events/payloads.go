// Package events names the events the server emits to clients and defines
// their JSON payloads.
package events

import (
	"encoding/json"
)

// Event names emitted to clients over the structured channel

const (
	NewRoundUpdate = "newRoundUpdate"
	PlayerTyping   = "playerTyping"
	ChatMessage    = "chatMessage"
	Stroke         = "stroke"
	NewRound       = "newRound"
	Finished       = "finished"
	RoleAssigned   = "roleAssigned"
	Waiting        = "waiting"
	PartnerLeft    = "partnerLeft"
)

// FeedbackPrefix is prepended to the clicked object name in the raw feedback send
const FeedbackPrefix = "s.feedback."

// Envelope is the JSON frame used for every structured event, inbound and outbound
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewRoundUpdatePayload is broadcast to every player once a click has been resolved
type NewRoundUpdatePayload struct {
	User string `json:"user"`
}

// PlayerTypingPayload carries the raw typing flag sent by the client
type PlayerTypingPayload struct {
	Typing string `json:"typing"`
}

// ChatMessagePayload is the unescaped chat text with its author
type ChatMessagePayload struct {
	User string `json:"user"`
	Msg  string `json:"msg"`
}

// StimulusView is the client-facing shape of one object in a round
type StimulusView struct {
	Name         string `json:"name"`
	Color        string `json:"color,omitempty"`
	Occurrence   int    `json:"occurrence"`
	TargetStatus string `json:"target_status"`
}

// NewRoundPayload announces the stimuli of the round that just began
type NewRoundPayload struct {
	RoundNum int            `json:"roundNum"`
	Role     string         `json:"role"`
	Objects  []StimulusView `json:"objects"`
}

// FinishedPayload is sent when the trial list is exhausted
type FinishedPayload struct {
	Rounds int `json:"rounds"`
}

// RoleAssignedPayload tells a freshly paired player who they are
type RoleAssignedPayload struct {
	Role      string `json:"role"`
	SessionID string `json:"sessionId"`
}

// WaitingPayload is sent while a player sits in the lobby
type WaitingPayload struct{}

// PartnerLeftPayload is sent to the remaining player when the other disconnects
type PartnerLeftPayload struct {
	User string `json:"user"`
}

// Encode marshals an event and its payload into an envelope frame.
// A json.RawMessage payload is embedded verbatim.
func Encode(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		data = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
