package scenario

// SchemaVersion is written into every generated snapshot.
const SchemaVersion = "1.0.0"

// Snapshot is a fully precomputed scenario. It is never mutated after
// generation; the replay engine only reads it.
type Snapshot struct {
	ID           string      `json:"id"`
	Version      string      `json:"version"`
	Seed         uint64      `json:"seed"`
	CreatedAt    int64       `json:"createdAt"`
	Duration     int         `json:"duration"`     // seconds
	TickInterval int         `json:"tickInterval"` // seconds
	NumTicks     int         `json:"numTicks"`
	InitialState GameState   `json:"initialState"`
	Ticks        []Tick      `json:"ticks"`
	GroundTruth  GroundTruth `json:"groundTruth"`
}

// Tick is one step of simulated time: the events applied at this tick and
// the resulting state.
type Tick struct {
	Number    int       `json:"number"`
	Timestamp int64     `json:"timestamp"`
	Events    []Event   `json:"events"`
	State     GameState `json:"state"`
}

type EventType string

const (
	EventPriceUpdated   EventType = "price:updated"
	EventMarketTraded   EventType = "market:traded"
	EventPostCreated    EventType = "post:created"
	EventGroupMessage   EventType = "group:message"
	EventFundingApplied EventType = "funding:applied"
)

// Event is something that happened during a tick.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"`
	Target    string    `json:"target"`
	Value     float64   `json:"value,omitempty"`
	Text      string    `json:"text,omitempty"`
}

// GameState is the observable world at one tick. State at tick N equals the
// initial state with every event up to and including N applied.
type GameState struct {
	Tick              int                `json:"tick"`
	Timestamp         int64              `json:"timestamp"`
	PredictionMarkets []PredictionMarket `json:"predictionMarkets"`
	PerpetualMarkets  []PerpetualMarket  `json:"perpetualMarkets"`
	Agents            []Participant      `json:"agents"`
	Posts             []Post             `json:"posts"`
	GroupChats        []GroupChat        `json:"groupChats"`
}

// PredictionMarket is a binary market priced by constant-sum share pools.
type PredictionMarket struct {
	ID          string  `json:"id"`
	Question    string  `json:"question"`
	YesShares   float64 `json:"yesShares"`
	NoShares    float64 `json:"noShares"`
	YesPrice    float64 `json:"yesPrice"`
	NoPrice     float64 `json:"noPrice"`
	TotalVolume float64 `json:"totalVolume"`
	Liquidity   float64 `json:"liquidity"`
	Resolved    bool    `json:"resolved"`
	CreatedAt   int64   `json:"createdAt"`
	ResolveAt   int64   `json:"resolveAt"`
}

// Reprice recomputes both prices from the share pools.
func (m *PredictionMarket) Reprice() {
	total := m.YesShares + m.NoShares
	if total <= 0 {
		m.YesPrice, m.NoPrice = 0.5, 0.5
		return
	}
	m.YesPrice = m.YesShares / total
	m.NoPrice = m.NoShares / total
}

// Price returns the current price of the given outcome.
func (m *PredictionMarket) Price(outcome Outcome) float64 {
	if outcome == OutcomeYes {
		return m.YesPrice
	}
	return m.NoPrice
}

// PerpetualMarket is a leveraged market on a single ticker.
type PerpetualMarket struct {
	Ticker          string  `json:"ticker"`
	Name            string  `json:"name"`
	Price           float64 `json:"price"`
	PriceChange24h  float64 `json:"priceChange24h"`
	Volume24h       float64 `json:"volume24h"`
	OpenInterest    float64 `json:"openInterest"`
	FundingRate     float64 `json:"fundingRate"`
	NextFundingTime int64   `json:"nextFundingTime"`
}

type Participant struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Reputation float64 `json:"reputation"`
}

// Post is a social feed entry.
type Post struct {
	ID        string `json:"id"`
	AuthorID  string `json:"authorId"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	MarketID  string `json:"marketId,omitempty"`
}

// GroupChat is a chat the agent may join.
type GroupChat struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	MemberIDs    []string `json:"memberIds"`
	MessageCount int      `json:"messageCount"`
}

// GroundTruth is the hidden scoring data. Only the engine and post-hoc
// auditors may hold it.
type GroundTruth struct {
	MarketOutcomes      map[string]bool         `json:"marketOutcomes"`
	PriceHistory        map[string][]PricePoint `json:"priceHistory"`
	OptimalActions      []OptimalAction         `json:"optimalActions"`
	SocialOpportunities []SocialOpportunity     `json:"socialOpportunities"`
}

// PricePoint is the ticker price at a tick. Index 0 of a history is the
// initial state.
type PricePoint struct {
	Tick      int     `json:"tick"`
	Timestamp int64   `json:"timestamp"`
	Price     float64 `json:"price"`
}

// OptimalAction is a hindsight-best action used for the optimality score.
type OptimalAction struct {
	Tick          int     `json:"tick"`
	Type          string  `json:"type"`
	Target        string  `json:"target"`
	Outcome       Outcome `json:"outcome,omitempty"`
	ExpectedValue float64 `json:"expectedValue"`
	Reason        string  `json:"reason"`
}

// SocialOpportunity is a tick where social activity pays off.
type SocialOpportunity struct {
	Tick   int     `json:"tick"`
	Type   string  `json:"type"`
	Target string  `json:"target"`
	Value  float64 `json:"value"`
}

// Outcome is a prediction market side.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// OutcomeFor maps a resolved boolean onto its winning side.
func OutcomeFor(resolvedYes bool) Outcome {
	if resolvedYes {
		return OutcomeYes
	}
	return OutcomeNo
}

// Optimal action and opportunity types.
const (
	OptimalBuyPrediction  = "buy_prediction"
	OpportunityTrending   = "trending_topic"
	OpportunityDiscussion = "market_discussion"
	OpportunityGroup      = "group_invite"
)

// Clone returns a deep copy sharing no slices with s.
func (s GameState) Clone() GameState {
	out := s
	out.PredictionMarkets = append(make([]PredictionMarket, 0, len(s.PredictionMarkets)), s.PredictionMarkets...)
	out.PerpetualMarkets = append(make([]PerpetualMarket, 0, len(s.PerpetualMarkets)), s.PerpetualMarkets...)
	out.Agents = append(make([]Participant, 0, len(s.Agents)), s.Agents...)
	out.Posts = append(make([]Post, 0, len(s.Posts)), s.Posts...)
	out.GroupChats = make([]GroupChat, len(s.GroupChats))
	for i, g := range s.GroupChats {
		g.MemberIDs = append(make([]string, 0, len(g.MemberIDs)), g.MemberIDs...)
		out.GroupChats[i] = g
	}
	return out
}

// FindMarket looks up a prediction market by id.
func (s *GameState) FindMarket(id string) (*PredictionMarket, bool) {
	for i := range s.PredictionMarkets {
		if s.PredictionMarkets[i].ID == id {
			return &s.PredictionMarkets[i], true
		}
	}
	return nil, false
}

// FindPerp looks up a perpetual market by ticker.
func (s *GameState) FindPerp(ticker string) (*PerpetualMarket, bool) {
	for i := range s.PerpetualMarkets {
		if s.PerpetualMarkets[i].Ticker == ticker {
			return &s.PerpetualMarkets[i], true
		}
	}
	return nil, false
}

func (s *GameState) FindGroup(id string) (*GroupChat, bool) {
	for i := range s.GroupChats {
		if s.GroupChats[i].ID == id {
			return &s.GroupChats[i], true
		}
	}
	return nil, false
}
