package bench

// EnvironmentState summarises what the agent's world looked like when it acted.
type EnvironmentState struct {
	AgentBalance  float64 `json:"agentBalance"`
	AgentPnL      float64 `json:"agentPnl"`
	OpenPositions int     `json:"openPositions"`
	ActiveMarkets int     `json:"activeMarkets"`
}

// TrajectoryStep is one recorded action with the environment it saw.
type TrajectoryStep struct {
	StepNumber  int              `json:"stepNumber"`
	Tick        int              `json:"tick"`
	Timestamp   int64            `json:"timestamp"`
	Environment EnvironmentState `json:"environmentState"`
	Action      TrajectoryAction `json:"action"`
	Reward      float64          `json:"reward"`
}

type TrajectoryAction struct {
	ActionType string         `json:"actionType"`
	Parameters map[string]any `json:"parameters"`
	Success    bool           `json:"success"`
}

const (
	StatusCompleted = "completed"
	StatusPartial   = "partial"
)

// Trajectory is the (state, action, reward) sequence of a run.
type Trajectory struct {
	ID             string           `json:"trajectoryId"`
	AgentID        string           `json:"agentId"`
	ScenarioID     string           `json:"scenarioId"`
	StartTime      int64            `json:"startTime"`
	EndTime        int64            `json:"endTime"`
	Steps          []TrajectoryStep `json:"steps"`
	TotalReward    float64          `json:"totalReward"`
	FinalPnL       float64          `json:"finalPnl"`
	EpisodeLength  int              `json:"episodeLength"`
	TradesExecuted int              `json:"tradesExecuted"`
	PostsCreated   int              `json:"postsCreated"`
	FinalStatus    string           `json:"finalStatus"`
}
