package protocol

import (
	"fmt"
	"strings"

	"replaybench/internal/replay"
	"replaybench/internal/scenario"
)

// Method is a protocol method name. The set is closed; see handlers.
type Method string

const (
	MethodGetPredictions Method = "a2a.getPredictions"
	MethodBuyShares      Method = "a2a.buyShares"
	MethodSellShares     Method = "a2a.sellShares"
	MethodGetPerpetuals  Method = "a2a.getPerpetuals"
	MethodOpenPosition   Method = "a2a.openPosition"
	MethodClosePosition  Method = "a2a.closePosition"
	MethodGetFeed        Method = "a2a.getFeed"
	MethodCreatePost     Method = "a2a.createPost"
	MethodGetChats       Method = "a2a.getChats"
	MethodJoinGroup      Method = "a2a.joinGroup"
	MethodGetBalance     Method = "a2a.getBalance"
)

// ErrInvalidParams marks a request rejected at the protocol boundary. It is
// the engine's sentinel so callers match a single value.
var ErrInvalidParams = replay.ErrInvalidParams

// MethodError is returned for a method outside the supported set.
type MethodError struct {
	Method string
}

func (e *MethodError) Error() string {
	return fmt.Sprintf("unknown protocol method %q", e.Method)
}

// DefaultFeedLimit is the number of posts returned when a request names none.
const DefaultFeedLimit = 20

// Empty is the params of methods that take none.
type Empty struct{}

// MarketView is a prediction market as agents see it. Outcomes are never exposed.
type MarketView struct {
	ID        string  `json:"id"`
	Question  string  `json:"question"`
	YesPrice  float64 `json:"yesPrice"`
	NoPrice   float64 `json:"noPrice"`
	Liquidity float64 `json:"liquidity"`
	Volume    float64 `json:"volume"`
	CreatedAt int64   `json:"createdAt"`
	ResolveAt int64   `json:"resolveAt"`
}

// PredictionsResponse lists the open prediction markets at the current tick.
type PredictionsResponse struct {
	Markets []MarketView `json:"markets"`
	Tick    int          `json:"tick"`
}

// BuySharesRequest buys Amount worth of one outcome.
type BuySharesRequest struct {
	MarketID string  `json:"marketId"`
	Outcome  string  `json:"outcome"`
	Amount   float64 `json:"amount"`
}

func (r *BuySharesRequest) validate() error {
	r.Outcome = strings.ToUpper(r.Outcome)
	switch {
	case r.MarketID == "":
		return fmt.Errorf("%w: marketId is required", ErrInvalidParams)
	case r.Outcome != string(scenario.OutcomeYes) && r.Outcome != string(scenario.OutcomeNo):
		return fmt.Errorf("%w: outcome must be YES or NO", ErrInvalidParams)
	case r.Amount <= 0:
		return fmt.Errorf("%w: amount must be positive", ErrInvalidParams)
	}
	return nil
}

type BuySharesResponse struct {
	PositionID   string  `json:"positionId"`
	SharesBought float64 `json:"sharesBought"`
	AvgPrice     float64 `json:"avgPrice"`
}

// SellSharesRequest is accepted but settles nothing.
type SellSharesRequest struct {
	MarketID string  `json:"marketId"`
	Outcome  string  `json:"outcome,omitempty"`
	Shares   float64 `json:"shares"`
}

func (r *SellSharesRequest) validate() error {
	if r.MarketID == "" {
		return fmt.Errorf("%w: marketId is required", ErrInvalidParams)
	}
	if r.Shares < 0 {
		return fmt.Errorf("%w: shares must not be negative", ErrInvalidParams)
	}
	return nil
}

// SellSharesResponse always reports zero proceeds. Selling is not simulated.
type SellSharesResponse struct {
	Proceeds float64 `json:"proceeds"`
	Note     string  `json:"note"`
}

// PerpView is a perpetual market as agents see it.
type PerpView struct {
	Ticker          string  `json:"ticker"`
	Name            string  `json:"name"`
	Price           float64 `json:"price"`
	Change24h       float64 `json:"change24h"`
	Volume          float64 `json:"volume"`
	OpenInterest    float64 `json:"openInterest"`
	FundingRate     float64 `json:"fundingRate"`
	NextFundingTime int64   `json:"nextFundingTime"`
}

// PerpetualsResponse lists the perpetual markets at the current tick.
type PerpetualsResponse struct {
	Markets []PerpView `json:"markets"`
	Tick    int        `json:"tick"`
}

// OpenPositionRequest opens a leveraged LONG or SHORT position.
type OpenPositionRequest struct {
	Ticker   string  `json:"ticker"`
	Side     string  `json:"side"`
	Size     float64 `json:"size"`
	Leverage float64 `json:"leverage"`
}

func (r *OpenPositionRequest) validate() error {
	r.Side = strings.ToUpper(r.Side)
	if r.Leverage == 0 {
		r.Leverage = 1
	}
	switch {
	case r.Ticker == "":
		return fmt.Errorf("%w: ticker is required", ErrInvalidParams)
	case r.Side != replay.SideLong && r.Side != replay.SideShort:
		return fmt.Errorf("%w: side must be LONG or SHORT", ErrInvalidParams)
	case r.Size <= 0:
		return fmt.Errorf("%w: size must be positive", ErrInvalidParams)
	}
	return nil
}

type OpenPositionResponse struct {
	PositionID string  `json:"positionId"`
	EntryPrice float64 `json:"entryPrice"`
}

// ClosePositionRequest closes an open position at the current mark.
type ClosePositionRequest struct {
	PositionID string `json:"positionId"`
}

func (r *ClosePositionRequest) validate() error {
	if r.PositionID == "" {
		return fmt.Errorf("%w: positionId is required", ErrInvalidParams)
	}
	return nil
}

type ClosePositionResponse struct {
	PnL       float64 `json:"pnl"`
	ExitPrice float64 `json:"exitPrice"`
}

// FeedRequest asks for the latest Limit posts.
type FeedRequest struct {
	Limit int `json:"limit,omitempty"`
}

func (r *FeedRequest) validate() error {
	if r.Limit < 0 {
		return fmt.Errorf("%w: limit must not be negative", ErrInvalidParams)
	}
	if r.Limit == 0 {
		r.Limit = DefaultFeedLimit
	}
	return nil
}

type FeedResponse struct {
	Posts []scenario.Post `json:"posts"`
}

// CreatePostRequest publishes a post, optionally tagged with a market.
type CreatePostRequest struct {
	Content  string `json:"content"`
	MarketID string `json:"marketId,omitempty"`
}

func (r *CreatePostRequest) validate() error {
	if strings.TrimSpace(r.Content) == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidParams)
	}
	return nil
}

type CreatePostResponse struct {
	PostID string `json:"postId"`
}

// ChatView is a group chat as agents see it.
type ChatView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MemberCount  int    `json:"memberCount"`
	MessageCount int    `json:"messageCount"`
}

type ChatsResponse struct {
	Chats []ChatView `json:"chats"`
}

// JoinGroupRequest joins a group chat by id.
type JoinGroupRequest struct {
	GroupID string `json:"groupId"`
}

func (r *JoinGroupRequest) validate() error {
	if r.GroupID == "" {
		return fmt.Errorf("%w: groupId is required", ErrInvalidParams)
	}
	return nil
}

type JoinGroupResponse struct {
	GroupID     string `json:"groupId"`
	MemberCount int    `json:"memberCount"`
}

// BalanceResponse carries the placeholder balance.
type BalanceResponse struct {
	Balance float64 `json:"balance"`
}

// State is the harness-side view of a replay, never shown through protocol
// methods.
type State struct {
	Tick       int    `json:"tick"`
	TotalTicks int    `json:"totalTicks"`
	Complete   bool   `json:"complete"`
	Status     string `json:"status"`
}
