package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Agent identities taking part in a coordination cycle.
const (
	AgentRiskMonitor      = "risk-monitor"
	AgentPortfolioManager = "portfolio-manager"
)

// MessageType tags the payload carried by an AgentMessage.
type MessageType string

const (
	MessageTrigger  MessageType = "trigger"
	MessageResponse MessageType = "response"
	MessageError    MessageType = "error"
)

// ErrMalformedMessage is returned when an envelope does not carry the payload its type promises.
var ErrMalformedMessage = errors.New("malformed agent message")

// RiskTriggerPayload is sent by the risk monitor when thresholds are breached.
type RiskTriggerPayload struct {
	Breached    bool            `json:"breached"`
	Metrics     TreasuryMetrics `json:"metrics"`
	Balances    []TokenBalance  `json:"balances"`
	Prices      PriceTable      `json:"prices"`
	Thresholds  Thresholds      `json:"thresholds"`
	MonthlyBurn float64         `json:"monthlyBurn"`
}

// RebalanceSummary condenses a response for dashboards and logs.
type RebalanceSummary struct {
	CurrentStablesRatio   float64 `json:"currentStablesRatio"`
	TargetStablesRatio    float64 `json:"targetStablesRatio"`
	ProjectedStablesRatio float64 `json:"projectedStablesRatio"`
	TotalMovedUSD         float64 `json:"totalMovedUSD"`
}

// RebalanceResponse is the portfolio manager's answer to a trigger.
type RebalanceResponse struct {
	InReplyTo string             `json:"inReplyTo"`
	Actions   []AllocationAction `json:"actions"`
	Proposal  string             `json:"proposal"`
	Summary   RebalanceSummary   `json:"summary"`
}

// ErrorPayload reports that the counterpart could not process a trigger.
type ErrorPayload struct {
	InReplyTo string `json:"inReplyTo"`
	Message   string `json:"message"`
}

// AgentMessage is the envelope exchanged between the two agents.
// Exactly one of Trigger, Response or Error is set, matching Type.
type AgentMessage struct {
	ID        string
	From      string
	To        string
	Type      MessageType
	Timestamp int64 // unix milliseconds

	Trigger  *RiskTriggerPayload
	Response *RebalanceResponse
	Error    *ErrorPayload
}

func newMessage(from, to string, t MessageType) AgentMessage {
	return AgentMessage{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Type:      t,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewTriggerMessage builds a trigger envelope.
func NewTriggerMessage(from, to string, p *RiskTriggerPayload) AgentMessage {
	m := newMessage(from, to, MessageTrigger)
	m.Trigger = p
	return m
}

// NewResponseMessage builds a response envelope.
func NewResponseMessage(from, to string, p *RebalanceResponse) AgentMessage {
	m := newMessage(from, to, MessageResponse)
	m.Response = p
	return m
}

// NewErrorMessage builds an error envelope.
func NewErrorMessage(from, to, inReplyTo, msg string) AgentMessage {
	m := newMessage(from, to, MessageError)
	m.Error = &ErrorPayload{InReplyTo: inReplyTo, Message: msg}
	return m
}

// Validate checks the envelope header and that the payload matches the type.
func (m AgentMessage) Validate() error {
	if m.ID == "" || m.From == "" || m.To == "" {
		return fmt.Errorf("%w: missing id, from or to", ErrMalformedMessage)
	}
	var ok bool
	switch m.Type {
	case MessageTrigger:
		ok = m.Trigger != nil && m.Response == nil && m.Error == nil
	case MessageResponse:
		ok = m.Response != nil && m.Trigger == nil && m.Error == nil
	case MessageError:
		ok = m.Error != nil && m.Trigger == nil && m.Response == nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, m.Type)
	}
	if !ok {
		return fmt.Errorf("%w: payload does not match type %q", ErrMalformedMessage, m.Type)
	}
	return nil
}

// MarshalPayload encodes the payload variant selected by Type.
func (m AgentMessage) MarshalPayload() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	switch m.Type {
	case MessageTrigger:
		return json.Marshal(m.Trigger)
	case MessageResponse:
		return json.Marshal(m.Response)
	default:
		return json.Marshal(m.Error)
	}
}

// UnmarshalPayload decodes data into the variant selected by Type.
func (m *AgentMessage) UnmarshalPayload(data []byte) error {
	m.Trigger, m.Response, m.Error = nil, nil, nil
	var err error
	switch m.Type {
	case MessageTrigger:
		m.Trigger = &RiskTriggerPayload{}
		err = json.Unmarshal(data, m.Trigger)
	case MessageResponse:
		m.Response = &RebalanceResponse{}
		err = json.Unmarshal(data, m.Response)
	case MessageError:
		m.Error = &ErrorPayload{}
		err = json.Unmarshal(data, m.Error)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, m.Type)
	}
	if err != nil {
		return fmt.Errorf("%w: decode %s payload: %v", ErrMalformedMessage, m.Type, err)
	}
	return nil
}

type messageJSON struct {
	ID        string          `json:"id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

func (m AgentMessage) MarshalJSON() ([]byte, error) {
	payload, err := m.MarshalPayload()
	if err != nil {
		return nil, err
	}
	return json.Marshal(messageJSON{
		ID:        m.ID,
		From:      m.From,
		To:        m.To,
		Type:      m.Type,
		Payload:   payload,
		Timestamp: m.Timestamp,
	})
}

func (m *AgentMessage) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if len(raw.Payload) == 0 || string(raw.Payload) == "null" {
		return fmt.Errorf("%w: missing payload", ErrMalformedMessage)
	}
	msg := AgentMessage{ID: raw.ID, From: raw.From, To: raw.To, Type: raw.Type, Timestamp: raw.Timestamp}
	if err := msg.UnmarshalPayload(raw.Payload); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	*m = msg
	return nil
}
