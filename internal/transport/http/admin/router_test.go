package adminhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskguard/internal/calibration"
	"riskguard/internal/decision"
	"riskguard/internal/monitor"
	"riskguard/internal/supervisor"
	"riskguard/internal/trace"
)

type fakeController struct {
	outcomes   []float64
	executions []calibration.Execution
	resets     []string
	nav        decimal.Decimal
}

func (f *fakeController) Status() supervisor.Status {
	return supervisor.Status{Route: "primary", LossStreak: 2, Readiness: 0.75}
}

func (f *fakeController) Readiness() float64 { return 0.75 }

func (f *fakeController) RecordOutcome(p float64, _ bool, _ map[string]string) error {
	if p < 0 || p > 1 {
		return errors.New("prediction out of range")
	}
	f.outcomes = append(f.outcomes, p)
	return nil
}

func (f *fakeController) RecordExecution(e calibration.Execution) {
	f.executions = append(f.executions, e)
}

func (f *fakeController) ResetDaily(_ context.Context, nav decimal.Decimal) supervisor.ResetResult {
	f.nav = nav
	f.resets = append(f.resets, "daily")
	return supervisor.ResetResult{Target: "daily", Changed: true}
}

func (f *fakeController) ResetSentinel(context.Context) supervisor.ResetResult {
	f.resets = append(f.resets, "sentinel")
	return supervisor.ResetResult{Target: "sentinel"}
}

func (f *fakeController) ResetCalibration(context.Context) supervisor.ResetResult {
	f.resets = append(f.resets, "calibration")
	return supervisor.ResetResult{Target: "calibration", Changed: true}
}

func (f *fakeController) ResetRoute(context.Context) supervisor.ResetResult {
	f.resets = append(f.resets, "route")
	return supervisor.ResetResult{Target: "route"}
}

type fixture struct {
	ctl     *fakeController
	history *monitor.History
	events  *trace.Recorder
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &fixture{ctl: &fakeController{}, history: monitor.NewHistory(10), events: trace.NewRecorder(50)}
	srv, err := NewServer(ServerConfig{
		Addr:    "127.0.0.1:0",
		Router:  NewRouter(f.ctl, f.history, f.events, nil),
		Metrics: promhttp.Handler(),
	})
	require.NoError(t, err)
	f.handler = srv.Handler()
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func TestHealthAndStatus(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"readiness":0.75`)

	w = f.do(http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var st supervisor.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, "primary", st.Route)
	assert.Equal(t, 2, st.LossStreak)
}

func TestDecisionsListAndFilter(t *testing.T) {
	f := newFixture(t)
	f.history.Append(decision.Record{TraceID: "t1", Instrument: "EUR_USD", Action: decision.ActionBlock})
	f.history.Append(decision.Record{TraceID: "t2", Instrument: "GBP_USD", Action: decision.ActionAct})
	f.history.Append(decision.Record{TraceID: "t3", Instrument: "EUR_USD", Action: decision.ActionAct})

	w := f.do(http.MethodGet, "/api/decisions?limit=5&instrument=EUR_USD", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Decisions []decision.Record `json:"decisions"`
		Count     int               `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)
	assert.Equal(t, "t3", body.Decisions[0].TraceID)
	assert.Equal(t, "t1", body.Decisions[1].TraceID)

	w = f.do(http.MethodGet, "/api/decisions?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDecisionByTrace(t *testing.T) {
	f := newFixture(t)
	f.history.Append(decision.Record{TraceID: "t9", Instrument: "EUR_USD", Action: decision.ActionHalt})
	_ = f.events.Emit(context.Background(), trace.Event{
		ID: "e1", TraceID: "t9", Name: trace.EventDecision, Severity: trace.SeverityCritical, Terminal: true,
		At:     time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC),
		Fields: map[string]any{"action": "halt", trace.FieldPayload: "big"},
	})

	w := f.do(http.MethodGet, "/api/decisions/t9", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"summary"`)
	assert.Contains(t, body, `"action":"halt"`)
	assert.NotContains(t, body, `"big"`)

	w = f.do(http.MethodGet, "/api/decisions/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOutcomesAndExecutions(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/outcomes", `{"trace_id":"t1","predicted":0.8,"won":true}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []float64{0.8}, f.ctl.outcomes)

	w = f.do(http.MethodPost, "/api/outcomes", `{"won":true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/outcomes", `{"predicted":1.5,"won":true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/executions",
		`{"route":"primary","instrument":"EUR_USD","slippage_pips":0.4,"fill_rate":1,"delay_ms":120,"success":true}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, f.ctl.executions, 1)
	assert.Equal(t, 120*time.Millisecond, f.ctl.executions[0].Delay)

	w = f.do(http.MethodPost, "/api/executions", `{"fill_rate":2}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResets(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/reset/daily", `{"nav":"10250.5"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.ctl.nav.Equal(decimal.RequireFromString("10250.5")))
	assert.Contains(t, w.Body.String(), `"changed":true`)

	w = f.do(http.MethodPost, "/api/reset/daily", `{"nav":"-1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	for _, target := range []string{"sentinel", "calibration", "route"} {
		w = f.do(http.MethodPost, "/api/reset/"+target, "")
		assert.Equal(t, http.StatusOK, w.Code, target)
	}
	assert.Equal(t, []string{"daily", "sentinel", "calibration", "route"}, f.ctl.resets)

	w = f.do(http.MethodPost, "/api/reset/everything", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
