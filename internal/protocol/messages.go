// Package protocol defines the WebSocket wire messages exchanged between a
// client and one Connection Session, and validates inbound frames.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// MessageType identifies a JSON control frame's shape.
type MessageType string

const (
	TypeSessionCreated  MessageType = "session_created"
	TypeSessionRestored MessageType = "session_restored"
	TypePartial         MessageType = "partial"
	TypeFinal           MessageType = "final"
	TypeAssistantPartial MessageType = "assistant_partial"
	TypeAssistantFinal  MessageType = "assistant_final"
	TypeStatus          MessageType = "status"
	TypeError           MessageType = "error"
	TypeInterrupt       MessageType = "interrupt"
	TypeText            MessageType = "text"
	TypeControl         MessageType = "control"
)

// MaxTextChars bounds a text-mode utterance, counted in characters (§6.1).
const MaxTextChars = 5000

var (
	ErrUnsupportedType   = errors.New("unsupported message type")
	ErrValidationFailed  = errors.New("validation_failed")
)

// SessionCreated is sent when the handshake found no prior session.
type SessionCreated struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

// SessionRestored is sent when the handshake resumed a prior session.
type SessionRestored struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	ContextLen int         `json:"context_len"`
}

// Partial is a live transcript update.
type Partial struct {
	Type     MessageType `json:"type"`
	Text     string      `json:"text"`
	Revision int         `json:"revision"`
	Stable   bool        `json:"stable"`
}

// Final announces a committed user turn.
type Final struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

// AssistantPartial is the accumulated assistant text so far, advisory only.
type AssistantPartial struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

// AssistantFinal announces the assistant turn is fully spoken (or fully
// spoken up to an interruption point).
type AssistantFinal struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

// ThermalStatus ∈ {throttled, normal}.
type ThermalStatus string

const (
	StatusThrottled ThermalStatus = "throttled"
	StatusNormal    ThermalStatus = "normal"
)

// Status is the thermal/degraded-mode banner.
type Status struct {
	Type   MessageType   `json:"type"`
	State  ThermalStatus `json:"state"`
	Reason string        `json:"reason,omitempty"`
}

// ErrorEvent is a recoverable error; the connection stays open.
type ErrorEvent struct {
	Type    MessageType `json:"type"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

// Interrupt is an explicit client-initiated barge-in.
type Interrupt struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

// Text is a text-mode user utterance bypassing STT.
type Text struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

// Control is reserved for non-audio control actions.
type Control struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
}

type clientInbound struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	Action    string      `json:"action"`
}

// ParseClientMessage validates and decodes one inbound JSON frame. type is
// required, known, and non-empty; unknown fields are rejected outright;
// text payloads are capped at MaxTextChars. An unknown type returns
// ErrUnsupportedType; any other invalid message returns ErrValidationFailed
// wrapped with detail. The caller turns either into an `error` frame with
// code "validation_failed" without closing the connection.
func ParseClientMessage(raw []byte) (any, error) {
	var inbound clientInbound
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&inbound); err != nil {
		return nil, fmt.Errorf("%w: invalid envelope: %v", ErrValidationFailed, err)
	}
	if inbound.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrValidationFailed)
	}

	switch inbound.Type {
	case TypeInterrupt:
		return Interrupt{Type: TypeInterrupt, SessionID: inbound.SessionID}, nil
	case TypeText:
		if len(inbound.Text) == 0 {
			return nil, fmt.Errorf("%w: text message missing text", ErrValidationFailed)
		}
		if utf8.RuneCountInString(inbound.Text) > MaxTextChars {
			return nil, fmt.Errorf("%w: text exceeds %d chars", ErrValidationFailed, MaxTextChars)
		}
		return Text{Type: TypeText, SessionID: inbound.SessionID, Text: inbound.Text}, nil
	case TypeControl:
		if inbound.Action == "" {
			return nil, fmt.Errorf("%w: control message missing action", ErrValidationFailed)
		}
		return Control{Type: TypeControl, SessionID: inbound.SessionID, Action: inbound.Action}, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedType, inbound.Type)
	}
}
