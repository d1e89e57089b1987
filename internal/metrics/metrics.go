package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "riskguard"

// Recorder owns the process metrics on its own registry. A nil *Recorder is
// valid and records nothing.
type Recorder struct {
	reg *prometheus.Registry

	gssi         *prometheus.GaugeVec
	car          *prometheus.GaugeVec
	ece          prometheus.Gauge
	sentinelMode *prometheus.GaugeVec
	calibState   *prometheus.GaugeVec
	regime       *prometheus.GaugeVec
	finalScore   *prometheus.GaugeVec

	decisions    *prometheus.CounterVec
	engineErrors *prometheus.CounterVec
	critical     *prometheus.CounterVec
	skipped      *prometheus.CounterVec
	notify       *prometheus.CounterVec

	cycle *prometheus.HistogramVec
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		gssi: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "stress", Name: "gssi",
			Help: "Global systemic stress indicator per instrument cycle",
		}, []string{"instrument"}),
		car: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "stress", Name: "car",
			Help: "Concentrated alpha risk per instrument cycle",
		}, []string{"instrument"}),
		ece: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "calibration", Name: "ece",
			Help: "Latest expected calibration error",
		}),
		sentinelMode: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "sentinel", Name: "mode",
			Help: "1 for the active sentinel mode",
		}, []string{"mode"}),
		calibState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "calibration", Name: "state",
			Help: "1 for the active calibration state",
		}, []string{"state"}),
		regime: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "regime", Name: "active",
			Help: "1 for the active market regime",
		}, []string{"regime"}),
		finalScore: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "decision", Name: "final_score",
			Help: "Stress adjusted weighted score of the last cycle",
		}, []string{"instrument"}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "decision", Name: "total",
			Help: "Decisions by instrument and action",
		}, []string{"instrument", "action"}),
		engineErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scoring", Name: "engine_errors_total",
			Help: "Degraded engine scores",
		}, []string{"engine"}),
		critical: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "critical_events_total",
			Help: "Critical state transitions",
		}, []string{"event"}),
		skipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "monitor", Name: "skipped_cycles_total",
			Help: "Cycles skipped for data faults or panics",
		}, []string{"instrument", "reason"}),
		notify: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notify", Name: "deliveries_total",
			Help: "Notification deliveries by recipient and status",
		}, []string{"recipient", "status"}),
		cycle: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "monitor", Name: "cycle_duration_seconds",
			Help:    "Evaluation cycle duration",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"instrument"}),
	}
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

func (r *Recorder) ObserveStress(instrument string, gssi, car float64) {
	if r == nil {
		return
	}
	r.gssi.WithLabelValues(instrument).Set(gssi)
	r.car.WithLabelValues(instrument).Set(car)
}

func (r *Recorder) SetECE(v float64) {
	if r == nil {
		return
	}
	r.ece.Set(v)
}

// setOneHot marks active with 1 and every other known label with 0.
func setOneHot(g *prometheus.GaugeVec, active string, known []string) {
	for _, k := range known {
		v := 0.0
		if k == active {
			v = 1
		}
		g.WithLabelValues(k).Set(v)
	}
}

func (r *Recorder) SetSentinelMode(mode string, known []string) {
	if r == nil {
		return
	}
	setOneHot(r.sentinelMode, mode, known)
}

func (r *Recorder) SetCalibrationState(state string, known []string) {
	if r == nil {
		return
	}
	setOneHot(r.calibState, state, known)
}

func (r *Recorder) SetRegime(regime string, known []string) {
	if r == nil {
		return
	}
	setOneHot(r.regime, regime, known)
}

func (r *Recorder) ObserveDecision(instrument, action string, finalScore float64) {
	if r == nil {
		return
	}
	r.decisions.WithLabelValues(instrument, action).Inc()
	r.finalScore.WithLabelValues(instrument).Set(finalScore)
}

func (r *Recorder) EngineError(engine string) {
	if r == nil {
		return
	}
	r.engineErrors.WithLabelValues(engine).Inc()
}

func (r *Recorder) CriticalEvent(name string) {
	if r == nil {
		return
	}
	r.critical.WithLabelValues(name).Inc()
}

func (r *Recorder) SkippedCycle(instrument, reason string) {
	if r == nil {
		return
	}
	r.skipped.WithLabelValues(instrument, reason).Inc()
}

func (r *Recorder) Notification(recipient string, ok bool) {
	if r == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	r.notify.WithLabelValues(recipient, status).Inc()
}

func (r *Recorder) ObserveCycle(instrument string, d time.Duration) {
	if r == nil {
		return
	}
	r.cycle.WithLabelValues(instrument).Observe(d.Seconds())
}
