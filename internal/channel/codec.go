package channel

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"TreasurySentinel/internal/model"
)

// WireRecord is the row/frame layout shared by the network transports.
type WireRecord struct {
	ID               string            `json:"id"`
	From             string            `json:"from_agent"`
	To               string            `json:"to_agent"`
	Type             model.MessageType `json:"type"`
	EncryptedPayload string            `json:"encrypted_payload"`
	Timestamp        int64             `json:"timestamp"`
}

// Seal encodes a payload for the wire. Placeholder only: base64 is not encryption.
func Seal(payload []byte) string {
	return base64.StdEncoding.EncodeToString(payload)
}

// Open reverses Seal.
func Open(sealed string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(sealed)
}

// Encode turns a message into a wire record, validating the payload union.
func Encode(msg model.AgentMessage) (WireRecord, error) {
	payload, err := msg.MarshalPayload()
	if err != nil {
		return WireRecord{}, err
	}
	return WireRecord{
		ID:               msg.ID,
		From:             msg.From,
		To:               msg.To,
		Type:             msg.Type,
		EncryptedPayload: Seal(payload),
		Timestamp:        msg.Timestamp,
	}, nil
}

// Decode turns a wire record back into a message.
func Decode(rec WireRecord) (model.AgentMessage, error) {
	payload, err := Open(rec.EncryptedPayload)
	if err != nil {
		return model.AgentMessage{}, fmt.Errorf("%w %s: open payload: %v", ErrDecode, rec.ID, err)
	}
	msg := model.AgentMessage{
		ID:        rec.ID,
		From:      rec.From,
		To:        rec.To,
		Type:      rec.Type,
		Timestamp: rec.Timestamp,
	}
	if err := msg.UnmarshalPayload(payload); err != nil {
		return model.AgentMessage{}, fmt.Errorf("%w %s: %v", ErrDecode, rec.ID, err)
	}
	if err := msg.Validate(); err != nil {
		return model.AgentMessage{}, fmt.Errorf("%w %s: %v", ErrDecode, rec.ID, err)
	}
	return msg, nil
}

// Marshal encodes a message as a JSON wire record.
func Marshal(msg model.AgentMessage) ([]byte, error) {
	rec, err := Encode(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rec)
}

// Unmarshal decodes a JSON wire record.
func Unmarshal(data []byte) (model.AgentMessage, error) {
	var rec WireRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return model.AgentMessage{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return Decode(rec)
}
