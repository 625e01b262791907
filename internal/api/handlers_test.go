package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrpsolver/internal/config"
	"vrpsolver/internal/matrix"
	"vrpsolver/internal/model"
	"vrpsolver/internal/opt"
	"vrpsolver/internal/solver"
	"vrpsolver/internal/store"
)

type downProvider struct{}

func (downProvider) Table(context.Context, []matrix.Coordinate) (matrix.Matrix, error) {
	return matrix.Matrix{}, &matrix.ProviderError{Provider: "osrm", Status: 503, Reason: "unavailable"}
}

func newTestServer(t *testing.T, p matrix.Provider) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Matrix.Provider = "haversine"
	cfg.Solver.TimeLimit = 100 * time.Millisecond
	cfg.Solver.MaxIterations = 200
	if p == nil {
		p = matrix.Haversine{SpeedKph: cfg.Matrix.SpeedKph}
	}
	s := New(store.NewMemory(), NewBroker(), solver.New(p, cfg.Solver, nil), cfg, nil)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

const berlin = `{"coords":[[13.40,52.52],[13.41,52.52],[13.42,52.53],[13.38,52.51],[13.39,52.50]],
	"demands":[0,1,2,1,2],"vehicle_capacities":[3,3,3]}`

func post(t *testing.T, h http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h(rr, req)
	return rr
}

func decodeProblem(t *testing.T, rr *httptest.ResponseRecorder) model.Problem {
	t.Helper()
	var p model.Problem
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	return p
}

func TestHealthReady(t *testing.T) {
	s := newTestServer(t, nil)
	rr := httptest.NewRecorder()
	s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestCVRPSolve(t *testing.T) {
	s := newTestServer(t, nil)
	rr := post(t, s.CVRPHandler, "/v1/cvrp", berlin)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var res opt.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, 6, res.TotalLoad)
	seen := map[int]bool{}
	for _, r := range res.Routes {
		assert.LessOrEqual(t, r.Load, 3)
		require.GreaterOrEqual(t, len(r.Stops), 3)
		assert.Equal(t, 0, r.Stops[0].Node)
		assert.Equal(t, 0, r.Stops[len(r.Stops)-1].Node)
		for _, st := range r.Stops[1 : len(r.Stops)-1] {
			assert.False(t, seen[st.Node], "node %d visited twice", st.Node)
			seen[st.Node] = true
		}
	}
	assert.Len(t, seen, 4)

	id := rr.Header().Get("X-Solution-Id")
	require.NotEmpty(t, id)
	sol, err := s.Store.GetSolution(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, sol.Status)
	assert.Equal(t, string(matrix.ObjectiveDistance), sol.Objective)
	assert.Equal(t, res.TotalDistance, sol.Result.TotalDistance)
	assert.Contains(t, sol.Trace, "Route for vehicle")
}

func TestCVRPRejectsBadRequests(t *testing.T) {
	s := newTestServer(t, nil)
	cases := map[string]string{
		"length mismatch": `{"coords":[[0,0],[1,1]],"demands":[0],"vehicle_capacities":[1]}`,
		"no vehicles":     `{"coords":[[0,0],[1,1]],"demands":[0,1],"vehicle_capacities":[]}`,
		"no coords":       `{"coords":[],"demands":[],"vehicle_capacities":[1]}`,
		"bad pair":        `{"coords":[[0,0],[1]],"demands":[0,1],"vehicle_capacities":[1]}`,
		"longitude":       `{"coords":[[0,0],[181,1]],"demands":[0,1],"vehicle_capacities":[1]}`,
		"latitude":        `{"coords":[[0,0],[1,-91]],"demands":[0,1],"vehicle_capacities":[1]}`,
		"negative demand": `{"coords":[[0,0],[1,1]],"demands":[0,-1],"vehicle_capacities":[1]}`,
		"zero capacity":   `{"coords":[[0,0],[1,1]],"demands":[0,1],"vehicle_capacities":[0]}`,
		"depot demand":    `{"coords":[[0,0],[1,1]],"demands":[1,1],"vehicle_capacities":[5]}`,
		"options":         `{"coords":[[0,0],[1,1]],"demands":[0,1],"vehicle_capacities":[1],"options":{"workers":-1}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rr := post(t, s.CVRPHandler, "/v1/cvrp", body)
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			p := decodeProblem(t, rr)
			assert.Equal(t, ProblemValidation, p.Type)
		})
	}

	rr := post(t, s.CVRPHandler, "/v1/cvrp", `{"coords":`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Invalid JSON", decodeProblem(t, rr).Title)

	rr = httptest.NewRecorder()
	s.CVRPHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/cvrp", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

type countingProvider struct {
	matrix.Provider
	calls int
}

func (c *countingProvider) Table(ctx context.Context, coords []matrix.Coordinate) (matrix.Matrix, error) {
	c.calls++
	return c.Provider.Table(ctx, coords)
}

func TestCVRPDepotDemandRejectedBeforeMatrixFetch(t *testing.T) {
	p := &countingProvider{Provider: matrix.Haversine{SpeedKph: 40}}
	s := newTestServer(t, p)
	rr := post(t, s.CVRPHandler, "/v1/cvrp", `{"coords":[[13.40,52.52],[13.41,52.52]],"demands":[2,1],"vehicle_capacities":[5]}`)
	require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
	prob := decodeProblem(t, rr)
	assert.Equal(t, ProblemValidation, prob.Type)
	assert.Contains(t, prob.Detail, "demands[0]")
	assert.Zero(t, p.calls)

	rr = post(t, s.CVRPHandler, "/v1/cvrp", `{"coords":[[13.40,52.52],[13.41,52.52]],"demands":[0,1],"vehicle_capacities":[5]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 1, p.calls)
}

func TestCVRPErrorMapping(t *testing.T) {
	s := newTestServer(t, nil)
	rr := post(t, s.CVRPHandler, "/v1/cvrp", `{"coords":[[0,0],[0.01,0]],"demands":[0,9],"vehicle_capacities":[5,5]}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, ProblemInfeasible, decodeProblem(t, rr).Type)
	id := rr.Header().Get("X-Solution-Id")
	sol, err := s.Store.GetSolution(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, sol.Status)
	require.NotNil(t, sol.Error)
	assert.Equal(t, ProblemInfeasible, sol.Error.Type)

	down := newTestServer(t, downProvider{})
	rr = post(t, down.CVRPHandler, "/v1/cvrp", berlin)
	require.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, ProblemProvider, decodeProblem(t, rr).Type)
}

func TestProblemFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
		typ    string
	}{
		{&opt.ValidationError{Field: "coords"}, 400, ProblemValidation},
		{&opt.InfeasibleError{Reason: "x", Location: 1}, 422, ProblemInfeasible},
		{fmt.Errorf("solve: %w", &opt.NoSolutionFoundError{Budget: time.Second}), 422, ProblemNoSolution},
		{fmt.Errorf("cost matrix: %w", &matrix.ProviderError{Provider: "osrm"}), 502, ProblemProvider},
		{store.ErrNotFound, 404, "about:blank"},
		{context.Canceled, 503, "about:blank"},
		{fmt.Errorf("cost matrix: %w", &matrix.ProviderError{Provider: "osrm", Reason: "canceled", Err: context.Canceled}), 503, "about:blank"},
		{&matrix.ProviderError{Provider: "osrm", Reason: "timeout", Err: context.DeadlineExceeded}, 502, ProblemProvider},
		{errors.New("boom"), 500, "about:blank"},
	}
	for _, c := range cases {
		p := problemFor(c.err, "/x")
		assert.Equal(t, c.status, p.Status, c.err.Error())
		assert.Equal(t, c.typ, p.Type, c.err.Error())
		assert.Equal(t, "/x", p.Instance)
	}
}

func TestRouteWise(t *testing.T) {
	s := newTestServer(t, nil)
	body := `{"requestBody":[
		{"route":1,"coords":[[13.40,52.52],[13.41,52.52],[13.42,52.53]],"demands":[0,1,1],"vehicle_capacities":[2]},
		{"route":2,"coords":[[13.40,52.52],[13.41,52.52]],"demands":[0,9],"vehicle_capacities":[3]},
		{"route":3,"coords":[[13.40,52.52],[13.41,52.52]],"demands":[0,1],"vehicle_capacities":[3,3]}
	]}`
	rr := post(t, s.RouteWiseHandler, "/v1/cvrp/route-wise", body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp model.RouteWiseResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 3)
	assert.Equal(t, 1, resp.Results[0].Route)
	require.NotNil(t, resp.Results[0].Result)
	assert.Equal(t, 2, resp.Results[0].Result.TotalLoad)
	require.NotNil(t, resp.Results[1].Error)
	assert.Equal(t, ProblemInfeasible, resp.Results[1].Error.Type)
	require.NotNil(t, resp.Results[2].Result)
	assert.Len(t, resp.Results[2].Result.Routes, 1)

	rr = post(t, s.RouteWiseHandler, "/v1/cvrp/route-wise", `{"requestBody":[]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = post(t, s.RouteWiseHandler, "/v1/cvrp/route-wise",
		`{"requestBody":[{"route":1,"coords":[[0,0]],"demands":[0],"vehicle_capacities":[1]},{"route":1,"coords":[[0,0]],"demands":[0],"vehicle_capacities":[1]}]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeProblem(t, rr).Detail, "duplicate route")
}

func waitStatus(t *testing.T, s *Server, id string) model.Solution {
	t.Helper()
	var sol model.Solution
	require.Eventually(t, func() bool {
		var err error
		sol, err = s.Store.GetSolution(context.Background(), id)
		return err == nil && (sol.Status == model.StatusCompleted || sol.Status == model.StatusFailed)
	}, 5*time.Second, 10*time.Millisecond)
	return sol
}

func TestSolutionsAsyncAndList(t *testing.T) {
	s := newTestServer(t, nil)
	rr := post(t, s.SolutionsHandler, "/v1/solutions", berlin)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	var accepted struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &accepted))
	assert.Equal(t, model.StatusPending, accepted.Status)
	assert.Equal(t, "/v1/solutions/"+accepted.ID, rr.Header().Get("Location"))

	sol := waitStatus(t, s, accepted.ID)
	assert.Equal(t, model.StatusCompleted, sol.Status)
	require.NotNil(t, sol.Metrics)

	rr = httptest.NewRecorder()
	s.SolutionByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/solutions/"+accepted.ID, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var got model.Solution
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, 6, got.Result.TotalLoad)

	rr = httptest.NewRecorder()
	s.SolutionByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/solutions/nope", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	post(t, s.CVRPHandler, "/v1/cvrp", `{"coords":[[0,0],[0.01,0]],"demands":[0,9],"vehicle_capacities":[5]}`)
	rr = httptest.NewRecorder()
	s.SolutionsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/solutions?status=failed&limit=5", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var page struct {
		Items      []model.SolutionSummary `json:"items"`
		NextCursor string                  `json:"nextCursor"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, model.StatusFailed, page.Items[0].Status)
	assert.Empty(t, page.NextCursor)
}

func TestSolutionEventsStream(t *testing.T) {
	s := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/solutions", "application/json", bytes.NewReader([]byte(berlin)))
	require.NoError(t, err)
	var accepted struct{ ID string }
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/solutions/"+accepted.ID+"/events", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []string
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	for sc.Scan() {
		if ev, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
			events = append(events, ev)
		}
	}
	require.NotEmpty(t, events)
	assert.Equal(t, "heartbeat", events[0])
	assert.Equal(t, EventCompleted, events[len(events)-1])

	resp, err = http.Get(ts.URL + "/v1/solutions/missing/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketSubscribe(t *testing.T) {
	s := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	rr := post(t, s.SolutionsHandler, "/v1/solutions", berlin)
	var accepted struct{ ID string }
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &accepted))
	waitStatus(t, s, accepted.ID)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "connection_init"}))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "connection_ack", msg.Type)

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "subscribe", ID: "a", Payload: json.RawMessage(`{"solutionId":"missing"}`)}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "complete", msg.Type)

	payload, _ := json.Marshal(subscribePayload{SolutionID: accepted.ID})
	require.NoError(t, conn.WriteJSON(wsMessage{Type: "subscribe", ID: "b", Payload: payload}))
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "next", msg.Type)
	assert.Equal(t, "b", msg.ID)
	var next struct {
		Data struct {
			SolutionEvents SSEEvent `json:"solutionEvents"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg.Payload, &next))
	assert.Equal(t, EventCompleted, next.Data.SolutionEvents.Type)
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "complete", msg.Type)
}

func TestWebSocketClosesWithoutInit(t *testing.T) {
	prev := wsInitTimeout
	wsInitTimeout = 50 * time.Millisecond
	defer func() { wsInitTimeout = prev }()

	s := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		assert.False(t, netErr.Timeout(), "server should close the connection before the client deadline")
	}
}

func TestRateLimiter(t *testing.T) {
	l := NewRateLimiter(1, 1, false)
	base := time.Unix(100, 0)
	l.now = func() time.Time { return base }
	h := l.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	do := func(path, addr string) int {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = addr
		h.ServeHTTP(rr, req)
		return rr.Code
	}
	assert.Equal(t, http.StatusNoContent, do("/v1/cvrp", "10.0.0.1:1234"))
	assert.Equal(t, http.StatusTooManyRequests, do("/v1/cvrp", "10.0.0.1:1235"))
	assert.Equal(t, http.StatusNoContent, do("/v1/cvrp", "10.0.0.2:1234"))
	assert.Equal(t, http.StatusNoContent, do("/healthz", "10.0.0.1:1234"))

	base = base.Add(time.Second)
	assert.Equal(t, http.StatusNoContent, do("/v1/cvrp", "10.0.0.1:1234"))

	assert.Nil(t, NewRateLimiter(0, 5, true))
}

func TestRateLimiterForwardedFor(t *testing.T) {
	handler := func(l *RateLimiter) func(fwd string) int {
		h := l.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }))
		return func(fwd string) int {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/v1/cvrp", nil)
			req.RemoteAddr = "10.0.0.9:4000"
			req.Header.Set("X-Forwarded-For", fwd)
			h.ServeHTTP(rr, req)
			return rr.Code
		}
	}

	// rotating the header does not reset the bucket of a direct client
	direct := handler(NewRateLimiter(1, 1, false))
	assert.Equal(t, http.StatusNoContent, direct("1.1.1.1"))
	assert.Equal(t, http.StatusTooManyRequests, direct("2.2.2.2"))

	proxied := handler(NewRateLimiter(1, 1, true))
	assert.Equal(t, http.StatusNoContent, proxied("1.1.1.1, 10.0.0.9"))
	assert.Equal(t, http.StatusTooManyRequests, proxied("1.1.1.1"))
	assert.Equal(t, http.StatusNoContent, proxied("2.2.2.2"))
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, "/v1/cvrp", routeLabel("/v1/cvrp"))
	assert.Equal(t, "/v1/solutions/{id}", routeLabel("/v1/solutions/abc"))
	assert.Equal(t, "/v1/solutions/{id}/events", routeLabel("/v1/solutions/abc/events"))
	assert.Equal(t, "/v1/solutions/", routeLabel("/v1/solutions/"))
}

func TestIntrospectionEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()
	get := func(path string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		return rr
	}

	rr := get("/v1/solver/config")
	require.Equal(t, http.StatusOK, rr.Code)
	var cfg map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cfg))
	assert.EqualValues(t, 100, cfg["timeLimitMs"])
	assert.Equal(t, "haversine", cfg["matrixProvider"])

	rr = get("/debug/vars")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"version"`)
	assert.NotContains(t, rr.Body.String(), "postgres://")

	rr = get("/openapi.yaml")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "/v1/cvrp/route-wise")
	rr = get("/openapi.json")
	require.Equal(t, http.StatusOK, rr.Code)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc))
	assert.Equal(t, "3.0.3", doc["openapi"])

	post(t, s.CVRPHandler, "/v1/cvrp", berlin)
	rr = get("/v1/admin/solve-metrics?limit=5")
	require.Equal(t, http.StatusOK, rr.Code)
	var recent []opt.RecordedMetrics
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &recent))
	require.NotEmpty(t, recent)
	assert.LessOrEqual(t, len(recent), 5)
	assert.NotEmpty(t, recent[0].ID)
	assert.NotEmpty(t, recent[0].StopReason)
	rr = get("/v1/admin/solve-metrics?id=unknown")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
