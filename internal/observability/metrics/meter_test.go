package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstruments_Disabled(t *testing.T) {
	inst, err := NewInstruments(New(Config{Enabled: false}, "trustcore"))
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		inst.RecordRequest(context.Background(), "GET", "/health", 200, 0.01)
		inst.RecordKeyValidation(context.Background(), "secret", "ok")
	})
}

func TestInstruments_NilSafe(t *testing.T) {
	var inst *Instruments
	assert.NotPanics(t, func() {
		inst.RecordRequest(context.Background(), "GET", "/", 200, 0)
		inst.RecordKeyValidation(context.Background(), "public", "unknown_key")
	})
}
