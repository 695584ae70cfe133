package scenario

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultEpoch anchors every timestamp in a generated scenario when the
// caller does not supply one. Wall-clock time never enters a snapshot.
var DefaultEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

var scenarioNamespace = uuid.MustParse("6f1c2a8e-4b7d-5e39-9a0c-3d2f18b7e4a1")

const (
	baseLiquidity   = 1000.0
	fundingInterval = 8 * time.Hour
	maxStatePosts   = 100
	// truthBias is the chance that background trading leans toward the
	// hidden outcome, so prices slowly drift toward the truth.
	truthBias = 0.55
)

// GeneratorConfig fully determines a scenario. Identical configs produce
// byte-identical snapshots.
type GeneratorConfig struct {
	DurationMinutes      int
	TickIntervalSeconds  int
	NumPredictionMarkets int
	NumPerpetualMarkets  int
	NumAgents            int
	NumGroups            int
	Seed                 uint64
	Epoch                time.Time
	Questions            []string
}

type perpSpec struct {
	Ticker string
	Name   string
	Base   float64
}

var perpTable = []perpSpec{
	{"OPNAI", "OpenAGI", 845},
	{"TSLAI", "Teslai Motors", 240},
	{"NVDAI", "NVIDAI", 132},
	{"METAI", "MetAI Platforms", 510},
	{"GOOGL", "Gooogle", 172},
	{"AMZNN", "Amazoon", 185},
}

var questionTemplates = []string{
	"Will OpenAGI announce a new frontier model before the window closes?",
	"Will Teslai Motors deliver its robotaxi fleet on schedule?",
	"Will the central bank cut rates at the next meeting?",
	"Will NVIDAI close the week above its all-time high?",
	"Will the MetAI headset ship before the holiday season?",
	"Will Gooogle settle its antitrust case this quarter?",
	"Will Amazoon launch drone delivery in a new city?",
	"Will the AI safety bill pass the senate vote?",
}

var participantNames = []string{
	"Ailon Musk", "Sam AIltman", "Mark Zuckerbot", "Jensen Wang", "Sundar Pichaibot",
	"Satya Nadellai", "Tim Cookie", "Jeff Bezai", "Lisa Sue", "Vitalik Buterbot",
}

var groupNames = []string{"Alpha Traders", "Macro Chat", "Degen Perps", "Prediction Nerds", "Insider Lounge"}

var postTemplates = []string{
	"Hearing rumours about %s, positioning accordingly.",
	"Not convinced by the hype around %s.",
	"Big move coming on %s, watch this space.",
	"Anyone else tracking %s today?",
}

type generator struct {
	cfg        GeneratorConfig
	rng        *rand.Rand
	epochMs    int64
	intervalMs int64
	numTicks   int
	postSeq    int
}

// Generate builds a complete scenario from cfg. The only randomness is a PCG
// source seeded from cfg.Seed.
func Generate(cfg GeneratorConfig) (*Snapshot, error) {
	if cfg.TickIntervalSeconds <= 0 {
		return nil, fmt.Errorf("tick interval must be positive, got %d", cfg.TickIntervalSeconds)
	}
	if cfg.Epoch.IsZero() {
		cfg.Epoch = DefaultEpoch
	}

	g := &generator{
		cfg:        cfg,
		rng:        rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		epochMs:    cfg.Epoch.UnixMilli(),
		intervalMs: int64(cfg.TickIntervalSeconds) * 1000,
		numTicks:   max(cfg.DurationMinutes*60/cfg.TickIntervalSeconds, 0),
	}

	initial := GameState{
		Tick:              0,
		Timestamp:         g.epochMs,
		PredictionMarkets: g.predictionMarkets(),
		PerpetualMarkets:  g.perpetualMarkets(),
		Agents:            g.participants(),
		Posts:             []Post{},
	}
	initial.GroupChats = g.groups(initial.Agents)

	truth := g.groundTruth(initial)
	ticks := g.forward(initial, truth)

	return &Snapshot{
		ID:           g.scenarioID(),
		Version:      SchemaVersion,
		Seed:         cfg.Seed,
		CreatedAt:    g.epochMs,
		Duration:     cfg.DurationMinutes * 60,
		TickInterval: cfg.TickIntervalSeconds,
		NumTicks:     g.numTicks,
		InitialState: initial,
		Ticks:        ticks,
		GroundTruth:  truth,
	}, nil
}

func (g *generator) scenarioID() string {
	c := g.cfg
	key := fmt.Sprintf("v=%s;d=%d;i=%d;pm=%d;pp=%d;a=%d;g=%d;seed=%d;epoch=%d;q=%s",
		SchemaVersion, c.DurationMinutes, c.TickIntervalSeconds, c.NumPredictionMarkets,
		c.NumPerpetualMarkets, c.NumAgents, c.NumGroups, c.Seed, g.epochMs,
		strings.Join(c.Questions, "\x1f"))
	return "scenario-" + uuid.NewSHA1(scenarioNamespace, []byte(key)).String()
}

func (g *generator) at(tick int) int64 {
	return g.epochMs + int64(tick)*g.intervalMs
}

// predictionMarkets alternates a low-yes and a high-yes skew so a benchmark
// never degenerates into coin flips priced at 50/50.
func (g *generator) predictionMarkets() []PredictionMarket {
	n := max(g.cfg.NumPredictionMarkets, 0)
	questions := g.questions(n)
	markets := make([]PredictionMarket, 0, n)
	for i := 0; i < n; i++ {
		var p float64
		if i%2 == 0 {
			p = 0.15 + g.rng.Float64()*0.20
		} else {
			p = 0.65 + g.rng.Float64()*0.20
		}
		m := PredictionMarket{
			ID:        fmt.Sprintf("market-%d", i+1),
			Question:  questions[i],
			YesShares: round(p*baseLiquidity, 2),
			NoShares:  round((1-p)*baseLiquidity, 2),
			Liquidity: baseLiquidity,
			CreatedAt: g.epochMs,
			ResolveAt: g.at(g.numTicks),
		}
		m.Reprice()
		markets = append(markets, m)
	}
	return markets
}

func (g *generator) questions(n int) []string {
	out := make([]string, n)
	if len(g.cfg.Questions) > 0 {
		perm := g.rng.Perm(len(g.cfg.Questions))
		for i := range out {
			out[i] = g.cfg.Questions[perm[i%len(perm)]]
		}
		return out
	}
	for i := range out {
		q := questionTemplates[i%len(questionTemplates)]
		if i >= len(questionTemplates) {
			q = fmt.Sprintf("%s (#%d)", q, i/len(questionTemplates)+1)
		}
		out[i] = q
	}
	return out
}

func (g *generator) perpetualMarkets() []PerpetualMarket {
	n := min(max(g.cfg.NumPerpetualMarkets, 0), len(perpTable))
	perps := make([]PerpetualMarket, 0, n)
	for _, spec := range perpTable[:n] {
		perps = append(perps, PerpetualMarket{
			Ticker:          spec.Ticker,
			Name:            spec.Name,
			Price:           spec.Base,
			Volume24h:       round(spec.Base*1000*(0.5+g.rng.Float64()), 2),
			OpenInterest:    round(spec.Base*500*(0.5+g.rng.Float64()), 2),
			FundingRate:     round((g.rng.Float64()-0.5)*0.001, 6),
			NextFundingTime: g.epochMs + fundingInterval.Milliseconds(),
		})
	}
	return perps
}

func (g *generator) participants() []Participant {
	n := max(g.cfg.NumAgents, 0)
	agents := make([]Participant, 0, n)
	for i := 0; i < n; i++ {
		name := participantNames[i%len(participantNames)]
		if i >= len(participantNames) {
			name = fmt.Sprintf("%s %d", name, i/len(participantNames)+1)
		}
		agents = append(agents, Participant{
			ID:         fmt.Sprintf("agent-%d", i+1),
			Name:       name,
			Reputation: round(40+g.rng.Float64()*50, 1),
		})
	}
	return agents
}

func (g *generator) groups(agents []Participant) []GroupChat {
	n := max(g.cfg.NumGroups, 0)
	groups := make([]GroupChat, 0, n)
	for i := 0; i < n; i++ {
		members := make([]string, 0, 3)
		for j := 0; j < 3 && len(agents) > 0; j++ {
			members = append(members, agents[(i+j)%len(agents)].ID)
		}
		name := groupNames[i%len(groupNames)]
		if i >= len(groupNames) {
			name = fmt.Sprintf("%s %d", name, i/len(groupNames)+1)
		}
		groups = append(groups, GroupChat{
			ID:        fmt.Sprintf("group-%d", i+1),
			Name:      name,
			MemberIDs: members,
		})
	}
	return groups
}

func (g *generator) groundTruth(initial GameState) GroundTruth {
	gt := GroundTruth{
		MarketOutcomes:      make(map[string]bool, len(initial.PredictionMarkets)),
		PriceHistory:        make(map[string][]PricePoint, len(initial.PerpetualMarkets)),
		OptimalActions:      []OptimalAction{},
		SocialOpportunities: []SocialOpportunity{},
	}

	// Outcomes are a fair coin, independent of the initial skew.
	for _, m := range initial.PredictionMarkets {
		gt.MarketOutcomes[m.ID] = g.rng.Float64() < 0.5
	}

	for _, p := range initial.PerpetualMarkets {
		drift := (g.rng.Float64() - 0.5) * 0.004
		vol := 0.01 + g.rng.Float64()*0.02
		path := make([]PricePoint, 0, g.numTicks+1)
		price := p.Price
		path = append(path, PricePoint{Tick: 0, Timestamp: g.at(0), Price: price})
		for t := 1; t <= g.numTicks; t++ {
			shock := (g.rng.Float64()*2 - 1) * vol
			price = math.Max(round(price*(1+drift+shock), 4), 0.01)
			path = append(path, PricePoint{Tick: t, Timestamp: g.at(t), Price: price})
		}
		gt.PriceHistory[p.Ticker] = path
	}

	// Earliest correct entry is the best action on every market.
	for _, m := range initial.PredictionMarkets {
		outcome := OutcomeFor(gt.MarketOutcomes[m.ID])
		price := m.Price(outcome)
		ev := 0.0
		if price > 0 {
			ev = round(1/price-1, 6)
		}
		gt.OptimalActions = append(gt.OptimalActions, OptimalAction{
			Tick:          1,
			Type:          OptimalBuyPrediction,
			Target:        m.ID,
			Outcome:       outcome,
			ExpectedValue: ev,
			Reason:        fmt.Sprintf("market resolves %s", outcome),
		})
	}

	gt.SocialOpportunities = g.socialOpportunities(initial)
	return gt
}

func (g *generator) socialOpportunities(initial GameState) []SocialOpportunity {
	out := []SocialOpportunity{}
	if g.numTicks == 0 {
		return out
	}
	count := max(g.numTicks/10, 1)
	kinds := []string{OpportunityTrending, OpportunityDiscussion, OpportunityGroup}
	for k := 0; k < count; k++ {
		tick := max((k+1)*g.numTicks/(count+1), 1)
		kind := kinds[k%len(kinds)]
		target := fmt.Sprintf("topic-%d", k+1)
		switch {
		case kind == OpportunityDiscussion && len(initial.PredictionMarkets) > 0:
			target = initial.PredictionMarkets[k%len(initial.PredictionMarkets)].ID
		case kind == OpportunityGroup && len(initial.GroupChats) > 0:
			target = initial.GroupChats[k%len(initial.GroupChats)].ID
		case kind != OpportunityTrending:
			kind = OpportunityTrending
		}
		out = append(out, SocialOpportunity{
			Tick:   tick,
			Type:   kind,
			Target: target,
			Value:  round(1+g.rng.Float64()*4, 2),
		})
	}
	return out
}

// forward replays the world one tick at a time. Each tick owns an
// independent copy of the state.
func (g *generator) forward(initial GameState, gt GroundTruth) []Tick {
	ticks := make([]Tick, 0, g.numTicks)
	opportunities := make(map[int][]SocialOpportunity)
	for _, o := range gt.SocialOpportunities {
		opportunities[o.Tick] = append(opportunities[o.Tick], o)
	}
	lookback := max(int((24*time.Hour).Milliseconds()/g.intervalMs), 1)

	prev := initial
	for t := 1; t <= g.numTicks; t++ {
		ts := g.at(t)
		st := prev.Clone()
		st.Tick = t
		st.Timestamp = ts
		events := []Event{}

		for i := range st.PerpetualMarkets {
			p := &st.PerpetualMarkets[i]
			path := gt.PriceHistory[p.Ticker]
			ref := path[max(t-lookback, 0)].Price
			p.Price = path[t].Price
			p.PriceChange24h = round((p.Price-ref)/ref*100, 4)
			p.Volume24h = round(p.Volume24h*(0.98+g.rng.Float64()*0.04), 2)
			p.OpenInterest = round(p.OpenInterest*(0.99+g.rng.Float64()*0.02), 2)
			events = append(events, Event{Type: EventPriceUpdated, Timestamp: ts, Target: p.Ticker, Value: p.Price})
			if ts >= p.NextFundingTime {
				p.FundingRate = round((g.rng.Float64()-0.5)*0.001, 6)
				p.NextFundingTime += fundingInterval.Milliseconds()
				events = append(events, Event{Type: EventFundingApplied, Timestamp: ts, Target: p.Ticker, Value: p.FundingRate})
			}
		}

		for i := range st.PredictionMarkets {
			m := &st.PredictionMarkets[i]
			if g.rng.Float64() >= 0.6 {
				continue
			}
			toward := g.rng.Float64() < truthBias
			yes := gt.MarketOutcomes[m.ID] == toward
			size := round(5+g.rng.Float64()*20, 2)
			side := OutcomeNo
			if yes {
				m.YesShares = round(m.YesShares+size, 2)
				side = OutcomeYes
			} else {
				m.NoShares = round(m.NoShares+size, 2)
			}
			m.TotalVolume = round(m.TotalVolume+size, 2)
			m.Reprice()
			events = append(events, Event{Type: EventMarketTraded, Timestamp: ts, Target: m.ID, Value: m.YesPrice, Text: string(side)})
		}

		if len(st.Agents) > 0 && g.rng.Float64() < 0.5 {
			author := st.Agents[g.rng.IntN(len(st.Agents))]
			post := g.post(author.ID, ts, st.PredictionMarkets)
			st.Posts = append(st.Posts, post)
			events = append(events, Event{Type: EventPostCreated, Timestamp: ts, Target: post.ID, Text: post.Content})
		}
		for _, o := range opportunities[t] {
			post := g.scriptedPost(o, ts, st.Agents)
			st.Posts = append(st.Posts, post)
			events = append(events, Event{Type: EventPostCreated, Timestamp: ts, Target: post.ID, Text: post.Content})
		}
		if len(st.Posts) > maxStatePosts {
			st.Posts = append([]Post(nil), st.Posts[len(st.Posts)-maxStatePosts:]...)
		}

		if len(st.GroupChats) > 0 && g.rng.Float64() < 0.3 {
			grp := &st.GroupChats[g.rng.IntN(len(st.GroupChats))]
			grp.MessageCount++
			events = append(events, Event{Type: EventGroupMessage, Timestamp: ts, Target: grp.ID, Value: float64(grp.MessageCount)})
		}

		ticks = append(ticks, Tick{Number: t, Timestamp: ts, Events: events, State: st})
		prev = st
	}
	return ticks
}

func (g *generator) post(authorID string, ts int64, markets []PredictionMarket) Post {
	g.postSeq++
	subject := "the market"
	marketID := ""
	if len(markets) > 0 && g.rng.Float64() < 0.5 {
		m := markets[g.rng.IntN(len(markets))]
		subject = m.ID
		marketID = m.ID
	}
	tmpl := postTemplates[g.rng.IntN(len(postTemplates))]
	return Post{
		ID:        fmt.Sprintf("post-%d", g.postSeq),
		AuthorID:  authorID,
		Content:   fmt.Sprintf(tmpl, subject),
		Timestamp: ts,
		MarketID:  marketID,
	}
}

func (g *generator) scriptedPost(o SocialOpportunity, ts int64, agents []Participant) Post {
	g.postSeq++
	author := "system"
	if len(agents) > 0 {
		author = agents[g.postSeq%len(agents)].ID
	}
	p := Post{
		ID:        fmt.Sprintf("post-%d", g.postSeq),
		AuthorID:  author,
		Content:   fmt.Sprintf("Everyone is talking about %s right now.", o.Target),
		Timestamp: ts,
	}
	if o.Type == OpportunityDiscussion {
		p.MarketID = o.Target
	}
	return p
}

func round(v float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}
