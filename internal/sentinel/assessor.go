package sentinel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"riskguard/internal/gateway/provider"
	"riskguard/internal/logger"
	"riskguard/internal/pkg/jsonutil"
	"riskguard/internal/riskmath"
)

// Input is the market context handed to an assessor.
type Input struct {
	Instrument     string             `json:"instrument"`
	Price          float64            `json:"price"`
	SpreadPips     float64            `json:"spread_pips"`
	ATR            float64            `json:"atr"`
	Regime         string             `json:"regime,omitempty"`
	GSSI           float64            `json:"gssi"`
	CAR            float64            `json:"car"`
	VIX            float64            `json:"vix,omitempty"`
	AvgCorrelation float64            `json:"avg_correlation"`
	Features       map[string]float64 `json:"features,omitempty"`
}

type Assessor interface {
	Assess(ctx context.Context, in Input) Assessment
}

// Fallback is returned whenever an assessment cannot be obtained.
func Fallback() Assessment {
	return Assessment{SwanScore: 0.5, RecommendedMode: string(StandDown), Confidence: 0.1, Fallback: true}
}

// AssessorFunc adapts a plain function.
type AssessorFunc func(ctx context.Context, in Input) Assessment

func (f AssessorFunc) Assess(ctx context.Context, in Input) Assessment { return f(ctx, in) }

// HeuristicAssessor derives a swan score from stress inputs alone. It is used
// when no model provider is configured.
type HeuristicAssessor struct{}

func (HeuristicAssessor) Assess(_ context.Context, in Input) Assessment {
	crisis := in.Features["crisis_indicator"]
	score := riskmath.Clamp01(max(in.GSSI, crisis))
	out := Assessment{SwanScore: score, RecommendedMode: string(StandDown), Confidence: 0.6}
	if score >= DefaultSwanThreshold {
		out.RecommendedMode = string(Protect)
		if in.GSSI >= 0.7 {
			out.RiskFactors = append(out.RiskFactors, "systemic_stress")
		}
		if crisis >= 0.7 {
			out.RiskFactors = append(out.RiskFactors, "crisis_indicator")
		}
	}
	return out
}

const systemPrompt = "You are a black swan risk specialist. Identify tail risks and regime changes."

const assessmentSchema = `{
  "type": "object",
  "required": ["swan_score"],
  "properties": {
    "swan_score": {"type": "number", "minimum": 0, "maximum": 1},
    "recommended_mode": {"type": "string"},
    "risk_factors": {"type": "array", "items": {"type": "string"}},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

type LLMConfig struct {
	Timeout     time.Duration
	MinInterval time.Duration
	Temperature float64
	MaxTokens   int
}

// LLMAssessor asks a chat model for a tail-risk reading. Calls are rate
// limited; when the budget is exhausted the last good reading is reused.
type LLMAssessor struct {
	model   provider.ModelProvider
	cfg     LLMConfig
	limiter *rate.Limiter
	schema  *jsonschema.Schema

	mu   sync.Mutex
	last *Assessment
}

func NewLLMAssessor(model provider.ModelProvider, cfg LLMConfig) (*LLMAssessor, error) {
	if model == nil {
		return nil, fmt.Errorf("llm assessor: provider is nil")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.1
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("swan.json", strings.NewReader(assessmentSchema)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile("swan.json")
	if err != nil {
		return nil, fmt.Errorf("compile swan schema: %w", err)
	}
	return &LLMAssessor{model: model, cfg: cfg, limiter: rate.NewLimiter(limit, 1), schema: schema}, nil
}

func (a *LLMAssessor) Assess(ctx context.Context, in Input) Assessment {
	if !a.model.Enabled() {
		return Fallback()
	}
	if !a.limiter.Allow() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.last != nil {
			return *a.last
		}
		return Fallback()
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	user, err := buildPrompt(in)
	if err != nil {
		logger.Errorf("[sentinel] build prompt: %v", err)
		return Fallback()
	}
	logger.LogLLMRequest(a.model.ID(), in.Instrument, systemPrompt, user)
	raw, err := a.model.Call(ctx, provider.ChatPayload{
		System:      systemPrompt,
		User:        user,
		ExpectJSON:  true,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
	})
	if err != nil {
		logger.Errorf("[sentinel] %s assessment failed: %v", a.model.ID(), err)
		return Fallback()
	}
	logger.LogLLMResponse(a.model.ID(), in.Instrument, raw)
	out, err := a.Parse(raw)
	if err != nil {
		logger.Warnf("[sentinel] %s returned unusable assessment: %v", a.model.ID(), err)
		return Fallback()
	}
	a.mu.Lock()
	a.last = &out
	a.mu.Unlock()
	return out
}

// Parse extracts and validates an assessment from a model reply.
func (a *LLMAssessor) Parse(raw string) (Assessment, error) {
	obj, ok := jsonutil.ExtractObject(raw)
	if !ok || !gjson.Valid(obj) {
		return Assessment{}, fmt.Errorf("no json object in reply")
	}
	var doc any
	if err := json.Unmarshal([]byte(obj), &doc); err != nil {
		return Assessment{}, err
	}
	if err := a.schema.Validate(doc); err != nil {
		return Assessment{}, fmt.Errorf("schema: %w", err)
	}
	parsed := gjson.Parse(obj)
	out := Assessment{
		SwanScore:       parsed.Get("swan_score").Float(),
		RecommendedMode: string(StandDown),
		Confidence:      0.5,
	}
	if m := parsed.Get("recommended_mode"); m.Exists() {
		out.RecommendedMode = strings.TrimSpace(m.String())
	}
	if c := parsed.Get("confidence"); c.Exists() {
		out.Confidence = c.Float()
	}
	parsed.Get("risk_factors").ForEach(func(_, v gjson.Result) bool {
		if s := strings.TrimSpace(v.String()); s != "" {
			out.RiskFactors = append(out.RiskFactors, s)
		}
		return true
	})
	return out, nil
}

func buildPrompt(in Input) (string, error) {
	ctxJSON, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("Assess black swan/tail risk in current market conditions:\n\n")
	b.Write(ctxJSON)
	b.WriteString("\n\nReturn JSON with:\n")
	b.WriteString("- swan_score: float 0.0-1.0 (1.0 = extreme tail risk)\n")
	b.WriteString("- risk_factors: list of specific risk factors identified\n")
	b.WriteString("- recommended_mode: \"protect\", \"pounce\", or \"stand_down\"\n")
	b.WriteString("- confidence: float 0.0-1.0\n")
	return b.String(), nil
}
