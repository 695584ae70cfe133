package scenario

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generated(t *testing.T) *Snapshot {
	t.Helper()
	snap, err := Generate(exampleConfig())
	require.NoError(t, err)
	return snap
}

func TestValidate_Nil(t *testing.T) {
	r := Validate(nil)
	assert.False(t, r.Valid)
}

func TestValidate_MissingTopLevelFields(t *testing.T) {
	snap := generated(t)
	snap.ID = ""
	snap.TickInterval = 0

	r := Validate(snap)
	assert.False(t, r.Valid)
	assert.Contains(t, r.Errors, "missing id")
	assert.Contains(t, r.Errors, "missing or non-positive tickInterval")
}

func TestValidate_MissingGroundTruthStructures(t *testing.T) {
	snap := generated(t)
	snap.GroundTruth.PriceHistory = nil
	snap.GroundTruth.SocialOpportunities = nil

	r := Validate(snap)
	assert.False(t, r.Valid)
	assert.Contains(t, r.Errors, "groundTruth: missing priceHistory")
	assert.Contains(t, r.Errors, "groundTruth: missing socialOpportunities")
}

func TestValidate_MalformedTick(t *testing.T) {
	snap := generated(t)
	snap.Ticks[2].Number = 0
	snap.Ticks[3].Events = nil

	r := Validate(snap)
	assert.False(t, r.Valid)
	assert.Len(t, r.Errors, 2)
}

func TestValidate_NonSequentialIsWarning(t *testing.T) {
	snap := generated(t)
	snap.Ticks[4].Number = 9

	r := Validate(snap)
	assert.True(t, r.Valid)
	assert.Len(t, r.Warnings, 1)
}

func TestValidate_MarketWithoutOutcomeIsWarning(t *testing.T) {
	snap := generated(t)
	delete(snap.GroundTruth.MarketOutcomes, "market-2")

	r := Validate(snap)
	assert.True(t, r.Valid)
	assert.Contains(t, r.Warnings, "market market-2 has no ground-truth outcome")
}

func TestValidate_BrokenPriceInvariant(t *testing.T) {
	snap := generated(t)
	snap.Ticks[0].State.PredictionMarkets[0].YesPrice = 0.9
	snap.Ticks[0].State.PredictionMarkets[0].NoPrice = 0.9

	assert.False(t, Validate(snap).Valid)
}

func TestValidateOrError(t *testing.T) {
	snap := generated(t)
	require.NoError(t, ValidateOrError(snap))

	snap.Version = ""
	err := ValidateOrError(snap)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, snap.ID, verr.ScenarioID)
	assert.Contains(t, verr.Errors, "missing version")
}

func TestSanityCheck(t *testing.T) {
	raw, err := json.Marshal(generated(t))
	require.NoError(t, err)
	assert.NoError(t, SanityCheck(raw))

	assert.Error(t, SanityCheck([]byte(`{"id":`)))

	err = SanityCheck([]byte(`{"id":"x","version":"1","tickInterval":60,"initialState":{},"ticks":[],"groundTruth":{"marketOutcomes":{}}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "groundTruth.priceHistory")

	err = SanityCheck([]byte(`{"id":"x","version":"1","tickInterval":60,"initialState":{},"ticks":{},"groundTruth":{"marketOutcomes":{},"priceHistory":{},"optimalActions":[],"socialOpportunities":[]}}`))
	assert.Error(t, err)
}

func TestValidateSchema(t *testing.T) {
	raw, err := json.Marshal(generated(t))
	require.NoError(t, err)
	assert.NoError(t, ValidateSchema(raw))

	snap := generated(t)
	snap.Ticks[0].State.PredictionMarkets[0].YesShares = -5
	raw, err = json.Marshal(snap)
	require.NoError(t, err)
	assert.Error(t, ValidateSchema(raw))

	assert.Error(t, ValidateSchema([]byte(`{"id":"x"}`)))
}
