// Package bench holds the records a replay run produces: the action log,
// metrics, trajectories and the final result.
package bench

import (
	"encoding/json"
)

// ActionType names a state-changing agent action.
type ActionType string

const (
	ActionBuyPrediction ActionType = "buy_prediction"
	ActionOpenPerp      ActionType = "open_perp"
	ActionClosePerp     ActionType = "close_perp"
	ActionCreatePost    ActionType = "create_post"
	ActionJoinGroup     ActionType = "join_group"
)

// Action is one successful agent action. The log is append-only.
type Action struct {
	ID          string          `json:"id"`
	Tick        int             `json:"tick"`
	Timestamp   int64           `json:"timestamp"`
	Type        ActionType      `json:"type"`
	Params      json.RawMessage `json:"params"`
	LatencyMs   int64           `json:"latencyMs"`
	Correctness *Correctness    `json:"correctness,omitempty"`
}

// Correctness is the judgement of an action against ground truth.
type Correctness struct {
	Correct  bool   `json:"correct"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// Reward maps a judgement onto the trajectory reward scale.
func (c *Correctness) Reward() float64 {
	switch {
	case c == nil:
		return 0
	case c.Correct:
		return 1
	default:
		return -1
	}
}

// BuyPredictionParams is the recorded params of a prediction buy.
type BuyPredictionParams struct {
	MarketID string  `json:"marketId"`
	Outcome  string  `json:"outcome"`
	Amount   float64 `json:"amount"`
}

// OpenPerpParams is the recorded params of a perp open.
type OpenPerpParams struct {
	Ticker   string  `json:"ticker"`
	Side     string  `json:"side"`
	Size     float64 `json:"size"`
	Leverage float64 `json:"leverage"`
}

type ClosePerpParams struct {
	PositionID string `json:"positionId"`
}

type CreatePostParams struct {
	Content  string `json:"content"`
	MarketID string `json:"marketId,omitempty"`
}

type JoinGroupParams struct {
	GroupID string `json:"groupId"`
}

// Metrics is the scored summary of a run.
type Metrics struct {
	TotalPnL        float64           `json:"totalPnl"`
	Predictions     PredictionMetrics `json:"predictionMetrics"`
	Perps           PerpMetrics       `json:"perpMetrics"`
	Social          SocialMetrics     `json:"socialMetrics"`
	Timing          TimingMetrics     `json:"timing"`
	OptimalityScore float64           `json:"optimalityScore"`
	Audit           AuditSummary      `json:"audit"`
}

// PredictionMetrics scores prediction positions against resolved outcomes.
type PredictionMetrics struct {
	TotalPositions int     `json:"totalPositions"`
	Correct        int     `json:"correctPredictions"`
	Incorrect      int     `json:"incorrectPredictions"`
	Accuracy       float64 `json:"accuracy"`
	PnL            float64 `json:"pnl"`
}

// PerpMetrics scores leveraged trades. Win rate counts only judged opens.
type PerpMetrics struct {
	TotalTrades   int     `json:"totalTrades"`
	WinningTrades int     `json:"winningTrades"`
	LosingTrades  int     `json:"losingTrades"`
	WinRate       float64 `json:"winRate"`
	OpenPositions int     `json:"openPositions"`
	RealizedPnL   float64 `json:"realizedPnl"`
	UnrealizedPnL float64 `json:"unrealizedPnl"`
	MaxDrawdown   float64 `json:"maxDrawdown"`
}

// SocialMetrics counts social actions and the opportunities they hit.
type SocialMetrics struct {
	PostsCreated       int `json:"postsCreated"`
	GroupsJoined       int `json:"groupsJoined"`
	OpportunitiesTaken int `json:"opportunitiesTaken"`
}

// TimingMetrics summarises per-action latency, measured from tick start.
type TimingMetrics struct {
	AvgResponseMs    float64 `json:"avgResponseTime"`
	MedianResponseMs float64 `json:"medianResponseTime"`
	MaxResponseMs    int64   `json:"maxResponseTime"`
	TotalDurationMs  int64   `json:"totalDuration"`
}

// AuditSummary is what the post-hoc metrics audit found. It never blocks a
// result from being produced.
type AuditSummary struct {
	Passed   bool     `json:"passed"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Result is the terminal record of one run.
type Result struct {
	ID             string      `json:"id"`
	ScenarioID     string      `json:"scenarioId"`
	AgentID        string      `json:"agentId"`
	StartTime      int64       `json:"startTime"`
	EndTime        int64       `json:"endTime"`
	TicksProcessed int         `json:"ticksProcessed"`
	TotalTicks     int         `json:"totalTicks"`
	Actions        []Action    `json:"actions"`
	Metrics        Metrics     `json:"metrics"`
	Trajectory     *Trajectory `json:"trajectory,omitempty"`
}

// Complete reports whether every tick of the scenario was replayed.
func (r *Result) Complete() bool {
	return r.TicksProcessed >= r.TotalTicks
}
