package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replaybench/internal/bench"
	"replaybench/internal/protocol"
	"replaybench/internal/runner"
	"replaybench/internal/scenario"
	"replaybench/internal/store"
)

type rawResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
	ID      json.RawMessage `json:"id"`
}

func newTestServer(t *testing.T) (*httptest.Server, *store.FileStore) {
	t.Helper()
	files := store.NewFileStore(t.TempDir())
	c := runner.NewCoordinator(files, nil, nil, runner.Options{OptimalityWindow: 2, LookaheadTicks: 10})
	snap, err := c.Generate(context.Background(), scenario.GeneratorConfig{
		DurationMinutes:      5,
		TickIntervalSeconds:  60,
		NumPredictionMarkets: 2,
		NumPerpetualMarkets:  1,
		NumAgents:            3,
		NumGroups:            1,
		Seed:                 3,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer(c.NewSession(snap, "remote")).Router())
	t.Cleanup(srv.Close)
	return srv, files
}

func post(t *testing.T, srv *httptest.Server, path, body string) rawResponse {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out rawResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func state(t *testing.T, srv *httptest.Server) protocol.State {
	t.Helper()
	resp, err := http.Get(srv.URL + "/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	var st protocol.State
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	return st
}

func TestRPC_CallAdvancesTick(t *testing.T) {
	srv, _ := newTestServer(t)

	out := post(t, srv, "/a2a", `{"jsonrpc":"2.0","id":1,"method":"a2a.getPredictions"}`)
	require.Nil(t, out.Error)
	assert.Equal(t, "2.0", out.JSONRPC)
	assert.JSONEq(t, `1`, string(out.ID))

	var preds protocol.PredictionsResponse
	require.NoError(t, json.Unmarshal(out.Result, &preds))
	assert.Len(t, preds.Markets, 2)
	assert.Equal(t, 0, preds.Tick)

	assert.Equal(t, 1, state(t, srv).Tick)
}

func TestRPC_ErrorCodes(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"parse error", `{"jsonrpc":`, CodeParseError},
		{"batch", `[{"jsonrpc":"2.0","method":"a2a.getBalance"}]`, CodeInvalidRequest},
		{"wrong version", `{"jsonrpc":"1.0","method":"a2a.getBalance","id":2}`, CodeInvalidRequest},
		{"missing method", `{"jsonrpc":"2.0","id":3}`, CodeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","method":"a2a.teleport","id":4}`, CodeMethodNotFound},
		{"bad params", `{"jsonrpc":"2.0","method":"a2a.buyShares","params":{"marketId":"market-1","outcome":"MAYBE","amount":5},"id":5}`, CodeInvalidParams},
		{"engine error", `{"jsonrpc":"2.0","method":"a2a.closePosition","params":{"positionId":"perp-99"},"id":6}`, CodeEngineError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := post(t, srv, "/a2a", tt.body)
			require.NotNil(t, out.Error)
			assert.Equal(t, tt.code, out.Error.Code)
			assert.Nil(t, out.Result)
		})
	}

	// bad params and engine errors cost a tick; the others never reach the adapter
	assert.Equal(t, 2, state(t, srv).Tick)
}

func TestRPC_FinishScoresAndPersists(t *testing.T) {
	srv, files := newTestServer(t)

	out := post(t, srv, "/a2a", `{"jsonrpc":"2.0","id":"a","method":"a2a.buyShares","params":{"marketId":"market-1","outcome":"YES","amount":10}}`)
	require.Nil(t, out.Error)

	resp, err := http.Post(srv.URL+"/finish", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res bench.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, "remote", res.AgentID)
	assert.Len(t, res.Actions, 1)
	assert.False(t, res.Complete())

	loaded, err := files.LoadResult(res.ID)
	require.NoError(t, err)
	assert.Equal(t, res.ID, loaded.ID)

	after := post(t, srv, "/a2a", `{"jsonrpc":"2.0","id":2,"method":"a2a.getBalance"}`)
	require.NotNil(t, after.Error)
	assert.Equal(t, CodeEngineError, after.Error.Code)
}

func TestRPC_HealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.JSONEq(t, `{"status":"ok","service":"replaybench"}`, string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "replaybench_http_requests_total")
}
