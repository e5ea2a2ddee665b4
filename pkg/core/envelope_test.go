package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyEnvelope(t *testing.T) {
	assert.Equal(t, EnvelopeNormal, ClassifyEnvelope(map[string]any{
		KeyBatchID: "b", KeyJobPosition: 0,
	}))
	assert.Equal(t, EnvelopeCallback, ClassifyEnvelope(map[string]any{
		KeyIsCallback: true, KeyBatchID: "b",
	}))
	assert.Equal(t, EnvelopeOther, ClassifyEnvelope(map[string]any{"foo": "bar"}))
	assert.Equal(t, EnvelopeOther, ClassifyEnvelope(map[string]any{KeyBatchID: "b"}))
}

func TestEnvelopePosition_AcceptsFloats(t *testing.T) {
	// JSON transports deliver numbers as float64.
	pos, ok := EnvelopePosition(map[string]any{KeyJobPosition: float64(3)})
	require.True(t, ok)
	assert.Equal(t, 3, pos)

	_, ok = EnvelopePosition(map[string]any{KeyJobPosition: "nope"})
	assert.False(t, ok)
}

func TestEnvelopeArgs_MergesContextOverArgs(t *testing.T) {
	d := &BatchDefinition{
		ID:      "b1",
		Context: map[string]any{"tenant": "acme", "shared": "ctx"},
	}
	j := &JobDefinition{
		Position:     2,
		Compensation: "undo",
		Args:         map[string]any{"sku": "x", "shared": "job"},
	}
	args := EnvelopeArgs(d, j)

	assert.Equal(t, "b1", args[KeyBatchID])
	assert.Equal(t, 2, args[KeyJobPosition])
	assert.Equal(t, "undo", args[KeyCompensation])
	assert.Equal(t, "x", args["sku"])
	assert.Equal(t, "acme", args["tenant"])
	assert.Equal(t, "ctx", args["shared"], "batch context wins over job args")
}

func TestEnvelopeArgs_NoCompensationKeyWithoutPartner(t *testing.T) {
	d := &BatchDefinition{ID: "b1", Context: map[string]any{}}
	j := &JobDefinition{Position: 0, Args: map[string]any{}}
	args := EnvelopeArgs(d, j)
	_, present := args[KeyCompensation]
	assert.False(t, present)
}
