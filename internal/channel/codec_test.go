package channel

import (
	"encoding/json"
	"testing"

	"TreasurySentinel/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	msg := model.NewResponseMessage(model.AgentPortfolioManager, model.AgentRiskMonitor, &model.RebalanceResponse{
		InReplyTo: "trigger-1",
		Actions: []model.AllocationAction{{
			Type: model.ActionSwap, FromToken: "DGOV", ToToken: "USDC", AmountUSD: 50,
		}},
		Proposal: "# Treasury Rebalancing Proposal",
	})

	rec, err := Encode(msg)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, rec.ID)
	assert.Equal(t, model.MessageResponse, rec.Type)

	got, err := Decode(rec)
	require.NoError(t, err)
	require.NotNil(t, got.Response)
	assert.Equal(t, "trigger-1", got.Response.InReplyTo)
	assert.Equal(t, 50.0, got.Response.Actions[0].AmountUSD)
}

func TestMarshal_UsesWireFieldNames(t *testing.T) {
	msg := model.NewErrorMessage(model.AgentPortfolioManager, model.AgentRiskMonitor, "t1", "boom")
	data, err := Marshal(msg)
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, k := range []string{"id", "from_agent", "to_agent", "type", "encrypted_payload", "timestamp"} {
		assert.Contains(t, fields, k)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		rec  WireRecord
	}{
		{"bad base64", WireRecord{ID: "1", From: "a", To: "b", Type: model.MessageError, EncryptedPayload: "%%%"}},
		{"unknown type", WireRecord{ID: "1", From: "a", To: "b", Type: "ping", EncryptedPayload: Seal([]byte(`{}`))}},
		{"payload shape", WireRecord{ID: "1", From: "a", To: "b", Type: model.MessageTrigger, EncryptedPayload: Seal([]byte(`[]`))}},
		{"missing sender", WireRecord{ID: "1", To: "b", Type: model.MessageError, EncryptedPayload: Seal([]byte(`{"message":"x"}`))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.rec)
			assert.ErrorIs(t, err, ErrDecode)
		})
	}

	_, err := Unmarshal([]byte("not json"))
	assert.ErrorIs(t, err, ErrDecode)
}
