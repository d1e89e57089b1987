package adminhttp

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"riskguard/internal/calibration"
	"riskguard/internal/decision"
	"riskguard/internal/logger"
	"riskguard/internal/store"
	"riskguard/internal/supervisor"
	"riskguard/internal/trace"
)

// Controller is the part of the supervisor the operator API drives.
type Controller interface {
	Status() supervisor.Status
	Readiness() float64
	RecordOutcome(predicted float64, won bool, meta map[string]string) error
	RecordExecution(e calibration.Execution)
	ResetDaily(ctx context.Context, nav decimal.Decimal) supervisor.ResetResult
	ResetSentinel(ctx context.Context) supervisor.ResetResult
	ResetCalibration(ctx context.Context) supervisor.ResetResult
	ResetRoute(ctx context.Context) supervisor.ResetResult
}

// DecisionSource is the in-memory decision history.
type DecisionSource interface {
	Recent(n int, instrument string) []decision.Record
	Find(traceID string) (decision.Record, bool)
}

// EventSource looks up events of one trace.
type EventSource interface {
	ByTrace(traceID string) []trace.Event
}

const maxDecisionLimit = 500

type Router struct {
	ctl      Controller
	history  DecisionSource
	events   EventSource
	audit    store.AuditStore
	profiles ProfileEditor
	now      func() time.Time
}

// NewRouter wires the handlers. events and audit are optional.
func NewRouter(ctl Controller, history DecisionSource, events EventSource, audit store.AuditStore) *Router {
	return &Router{ctl: ctl, history: history, events: events, audit: audit, now: time.Now}
}

func (r *Router) Register(engine *gin.Engine) {
	engine.GET("/healthz", r.handleHealth)
	api := engine.Group("/api")
	api.GET("/status", r.handleStatus)
	api.GET("/decisions", r.handleDecisions)
	api.GET("/decisions/:trace_id", r.handleDecision)
	api.POST("/outcomes", r.handleOutcome)
	api.POST("/executions", r.handleExecution)
	api.POST("/reset/:target", r.handleReset)
	if r.profiles != nil {
		api.GET("/profiles", r.handleProfiles)
		api.PUT("/profiles/:regime", r.handleProfileUpdate)
	}
}

func (r *Router) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "readiness": r.ctl.Readiness()})
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.ctl.Status())
}

func (r *Router) handleDecisions(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	limit = min(limit, maxDecisionLimit)
	instrument := c.Query("instrument")
	if c.Query("source") == "store" && r.audit != nil {
		recs, err := r.audit.RecentDecisions(c.Request.Context(), instrument, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"decisions": recs, "count": len(recs)})
		return
	}
	recs := r.history.Recent(limit, instrument)
	c.JSON(http.StatusOK, gin.H{"decisions": recs, "count": len(recs)})
}

func (r *Router) handleDecision(c *gin.Context) {
	id := c.Param("trace_id")
	rec, ok := r.history.Find(id)
	var events []trace.Event
	switch {
	case r.audit != nil:
		evs, err := r.audit.Events(c.Request.Context(), id)
		if err != nil {
			logger.Warnf("[admin] events for %s: %v", id, err)
		}
		events = evs
	case r.events != nil:
		events = r.events.ByTrace(id)
	}
	if !ok && len(events) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "trace not found"})
		return
	}
	out := gin.H{"trace_id": id, "events": eventViews(events)}
	if ok {
		out["decision"] = rec
		out["summary"] = decision.Render(rec)
	}
	c.JSON(http.StatusOK, out)
}

type eventView struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Instrument string         `json:"instrument,omitempty"`
	Severity   string         `json:"severity"`
	Terminal   bool           `json:"terminal"`
	At         time.Time      `json:"at"`
	Fields     map[string]any `json:"fields,omitempty"`
}

func eventViews(events []trace.Event) []eventView {
	out := make([]eventView, 0, len(events))
	for _, ev := range events {
		fields := make(map[string]any, len(ev.Fields))
		for k, v := range ev.Fields {
			if k != trace.FieldPayload {
				fields[k] = v
			}
		}
		out = append(out, eventView{
			ID: ev.ID, Name: ev.Name, Instrument: ev.Instrument, Severity: ev.Severity.String(),
			Terminal: ev.Terminal, At: ev.At, Fields: fields,
		})
	}
	return out
}

type outcomeRequest struct {
	TraceID   string            `json:"trace_id"`
	Predicted *float64          `json:"predicted" binding:"required"`
	Won       bool              `json:"won"`
	Meta      map[string]string `json:"meta"`
}

func (r *Router) handleOutcome(c *gin.Context) {
	var req outcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := r.ctl.RecordOutcome(*req.Predicted, req.Won, req.Meta); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if r.audit != nil {
		err := r.audit.SaveOutcome(c.Request.Context(), store.Outcome{
			TraceID: req.TraceID, Predicted: *req.Predicted, Won: req.Won, Meta: req.Meta, At: r.now(),
		})
		if err != nil {
			logger.Warnf("[admin] persist outcome: %v", err)
		}
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "recorded"})
}

type executionRequest struct {
	Route        string  `json:"route"`
	Instrument   string  `json:"instrument"`
	SlippagePips float64 `json:"slippage_pips"`
	FillRate     float64 `json:"fill_rate"`
	DelayMS      int64   `json:"delay_ms"`
	Success      bool    `json:"success"`
}

func (r *Router) handleExecution(c *gin.Context) {
	var req executionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.FillRate < 0 || req.FillRate > 1 || req.DelayMS < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fill_rate must be in [0,1] and delay_ms non-negative"})
		return
	}
	r.ctl.RecordExecution(calibration.Execution{
		At:           r.now(),
		Route:        req.Route,
		Instrument:   req.Instrument,
		SlippagePips: req.SlippagePips,
		FillRate:     req.FillRate,
		Delay:        time.Duration(req.DelayMS) * time.Millisecond,
		Success:      req.Success,
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "recorded"})
}

type dailyResetRequest struct {
	NAV string `json:"nav" binding:"required"`
}

func (r *Router) handleReset(c *gin.Context) {
	ctx := c.Request.Context()
	var res supervisor.ResetResult
	switch c.Param("target") {
	case "daily":
		var req dailyResetRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		nav, err := decimal.NewFromString(req.NAV)
		if err != nil || !nav.IsPositive() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "nav must be a positive decimal"})
			return
		}
		res = r.ctl.ResetDaily(ctx, nav)
	case "sentinel":
		res = r.ctl.ResetSentinel(ctx)
	case "calibration":
		res = r.ctl.ResetCalibration(ctx)
	case "route":
		res = r.ctl.ResetRoute(ctx)
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown reset target"})
		return
	}
	logger.Warnf("[admin] manual reset %s changed=%v from %s", res.Target, res.Changed, c.ClientIP())
	c.JSON(http.StatusOK, res)
}
