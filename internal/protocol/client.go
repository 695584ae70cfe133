package protocol

import (
	"context"
	"encoding/json"
	"fmt"
)

// Client is a typed in-process caller for an Adapter. Each method is one
// protocol call and therefore one tick.
type Client struct {
	adapter *Adapter
}

func NewClient(a *Adapter) *Client {
	return &Client{adapter: a}
}

func call[Resp any](ctx context.Context, c *Client, method Method, req any) (Resp, error) {
	var zero Resp
	var params json.RawMessage
	if req != nil {
		raw, err := json.Marshal(req)
		if err != nil {
			return zero, fmt.Errorf("encoding %s params: %w", method, err)
		}
		params = raw
	}
	out, err := c.adapter.Call(ctx, string(method), params)
	if err != nil {
		return zero, err
	}
	resp, ok := out.(Resp)
	if !ok {
		return zero, fmt.Errorf("%s returned %T", method, out)
	}
	return resp, nil
}

func (c *Client) GetPredictions(ctx context.Context) (PredictionsResponse, error) {
	return call[PredictionsResponse](ctx, c, MethodGetPredictions, nil)
}

func (c *Client) BuyShares(ctx context.Context, req BuySharesRequest) (BuySharesResponse, error) {
	return call[BuySharesResponse](ctx, c, MethodBuyShares, req)
}

func (c *Client) SellShares(ctx context.Context, req SellSharesRequest) (SellSharesResponse, error) {
	return call[SellSharesResponse](ctx, c, MethodSellShares, req)
}

func (c *Client) GetPerpetuals(ctx context.Context) (PerpetualsResponse, error) {
	return call[PerpetualsResponse](ctx, c, MethodGetPerpetuals, nil)
}

func (c *Client) OpenPosition(ctx context.Context, req OpenPositionRequest) (OpenPositionResponse, error) {
	return call[OpenPositionResponse](ctx, c, MethodOpenPosition, req)
}

func (c *Client) ClosePosition(ctx context.Context, req ClosePositionRequest) (ClosePositionResponse, error) {
	return call[ClosePositionResponse](ctx, c, MethodClosePosition, req)
}

func (c *Client) GetFeed(ctx context.Context, limit int) (FeedResponse, error) {
	return call[FeedResponse](ctx, c, MethodGetFeed, FeedRequest{Limit: limit})
}

func (c *Client) CreatePost(ctx context.Context, req CreatePostRequest) (CreatePostResponse, error) {
	return call[CreatePostResponse](ctx, c, MethodCreatePost, req)
}

func (c *Client) GetChats(ctx context.Context) (ChatsResponse, error) {
	return call[ChatsResponse](ctx, c, MethodGetChats, nil)
}

func (c *Client) JoinGroup(ctx context.Context, req JoinGroupRequest) (JoinGroupResponse, error) {
	return call[JoinGroupResponse](ctx, c, MethodJoinGroup, req)
}

func (c *Client) GetBalance(ctx context.Context) (BalanceResponse, error) {
	return call[BalanceResponse](ctx, c, MethodGetBalance, nil)
}
