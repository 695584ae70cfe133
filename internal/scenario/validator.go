package scenario

import (
	"fmt"
	"math"
	"strings"

	"github.com/tidwall/gjson"
)

// priceTolerance bounds how far yesPrice+noPrice may drift from 1.
const priceTolerance = 1e-6

// ValidationResult is the structured outcome of Validate. Errors make the
// snapshot unusable; warnings are informational.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// ValidationError is returned by ValidateOrError when a snapshot has hard errors.
type ValidationError struct {
	ScenarioID string
	Errors     []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("scenario %q invalid: %s", e.ScenarioID, strings.Join(e.Errors, "; "))
}

// Validate checks a snapshot's structure and semantics. It never mutates s
// and never returns an error value; callers decide whether warnings matter.
func Validate(s *Snapshot) ValidationResult {
	r := ValidationResult{Errors: []string{}, Warnings: []string{}}
	if s == nil {
		r.Errors = append(r.Errors, "snapshot is nil")
		return r
	}

	if s.ID == "" {
		r.Errors = append(r.Errors, "missing id")
	}
	if s.Version == "" {
		r.Errors = append(r.Errors, "missing version")
	}
	if s.TickInterval <= 0 {
		r.Errors = append(r.Errors, "missing or non-positive tickInterval")
	}
	if s.Duration < 0 {
		r.Errors = append(r.Errors, "negative duration")
	}
	if s.Ticks == nil {
		r.Errors = append(r.Errors, "missing ticks")
	}
	r.Errors = append(r.Errors, checkState("initialState", s.InitialState)...)

	if len(s.Ticks) == 0 {
		r.Warnings = append(r.Warnings, "scenario has no ticks")
	}
	for i, t := range s.Ticks {
		if t.Number <= 0 {
			r.Errors = append(r.Errors, fmt.Sprintf("tick[%d]: invalid tick number %d", i, t.Number))
			continue
		}
		if t.Timestamp <= 0 {
			r.Errors = append(r.Errors, fmt.Sprintf("tick[%d]: missing timestamp", i))
		}
		if t.Events == nil {
			r.Errors = append(r.Errors, fmt.Sprintf("tick[%d]: missing events", i))
		}
		if t.Number != i+1 {
			r.Warnings = append(r.Warnings, fmt.Sprintf("tick[%d]: non-sequential tick number %d", i, t.Number))
		}
		r.Errors = append(r.Errors, checkState(fmt.Sprintf("tick[%d].state", i), t.State)...)
	}

	gt := s.GroundTruth
	if gt.MarketOutcomes == nil {
		r.Errors = append(r.Errors, "groundTruth: missing marketOutcomes")
	}
	if gt.PriceHistory == nil {
		r.Errors = append(r.Errors, "groundTruth: missing priceHistory")
	}
	if gt.OptimalActions == nil {
		r.Errors = append(r.Errors, "groundTruth: missing optimalActions")
	}
	if gt.SocialOpportunities == nil {
		r.Errors = append(r.Errors, "groundTruth: missing socialOpportunities")
	}
	for _, m := range s.InitialState.PredictionMarkets {
		if _, ok := gt.MarketOutcomes[m.ID]; !ok && gt.MarketOutcomes != nil {
			r.Warnings = append(r.Warnings, fmt.Sprintf("market %s has no ground-truth outcome", m.ID))
		}
	}

	r.Valid = len(r.Errors) == 0
	return r
}

func checkState(where string, st GameState) []string {
	var errs []string
	if st.PredictionMarkets == nil {
		errs = append(errs, where+": missing predictionMarkets")
	}
	if st.PerpetualMarkets == nil {
		errs = append(errs, where+": missing perpetualMarkets")
	}
	for _, m := range st.PredictionMarkets {
		if m.ID == "" {
			errs = append(errs, where+": prediction market without id")
		}
		if m.YesShares < 0 || m.NoShares < 0 {
			errs = append(errs, fmt.Sprintf("%s: market %s has negative shares", where, m.ID))
		}
		if math.Abs(m.YesPrice+m.NoPrice-1) > priceTolerance {
			errs = append(errs, fmt.Sprintf("%s: market %s prices sum to %.6f", where, m.ID, m.YesPrice+m.NoPrice))
		}
	}
	for _, p := range st.PerpetualMarkets {
		if p.Ticker == "" || p.Price <= 0 {
			errs = append(errs, fmt.Sprintf("%s: malformed perpetual market %q", where, p.Ticker))
		}
	}
	return errs
}

// ValidateOrError returns a *ValidationError when Validate reports hard errors.
func ValidateOrError(s *Snapshot) error {
	r := Validate(s)
	if r.Valid {
		return nil
	}
	id := ""
	if s != nil {
		id = s.ID
	}
	return &ValidationError{ScenarioID: id, Errors: r.Errors}
}

var requiredPaths = []string{
	"id",
	"version",
	"tickInterval",
	"initialState",
	"ticks",
	"groundTruth",
	"groundTruth.marketOutcomes",
	"groundTruth.priceHistory",
	"groundTruth.optimalActions",
	"groundTruth.socialOpportunities",
}

// SanityCheck is a fast presence-only check over raw snapshot JSON. It does
// not decode the document.
func SanityCheck(raw []byte) error {
	if !gjson.ValidBytes(raw) {
		return fmt.Errorf("scenario is not valid JSON")
	}
	results := gjson.GetManyBytes(raw, requiredPaths...)
	var missing []string
	for i, res := range results {
		if !res.Exists() {
			missing = append(missing, requiredPaths[i])
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("scenario missing fields: %s", strings.Join(missing, ", "))
	}
	if !results[4].IsArray() {
		return fmt.Errorf("scenario ticks must be an array")
	}
	return nil
}
