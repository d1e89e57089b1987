package logger

import (
	"bytes"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCriticalEventCarriesTraceID(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	Critical("abc-123", "weight_lock", slog.Float64("ece", 0.07))

	out := buf.String()
	assert.Contains(t, out, "level=CRITICAL")
	assert.Contains(t, out, "trace_id=abc-123")
	assert.Contains(t, out, "event=weight_lock")
	assert.Contains(t, out, "ece=0.07")
}

func TestSetLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer func() {
		SetOutput(os.Stdout)
		SetLevel("info")
	}()

	SetLevel("warn")
	Infof("hidden %d", 1)
	Warnf("shown %d", 2)

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown 2")
}

func TestLLMWriterDump(t *testing.T) {
	var buf bytes.Buffer
	SetLLMWriter(&buf)
	defer SetLLMWriter(nil)

	LogLLMRequest("openai", "EUR_USD", "sys", "user")
	LogLLMResponse("openai", "EUR_USD", `Risk looks contained. {"swan_score":0.2}`)

	out := buf.String()
	assert.Contains(t, out, "[assessor][request][openai][EUR_USD]")
	assert.Contains(t, out, "--- SYSTEM ---")
	assert.Contains(t, out, `Risk looks contained. {"swan_score":0.2}`)
	assert.Contains(t, out, "--- JSON ---\n{\n  \"swan_score\": 0.2\n}")
}
