package logger

import (
	"io"
	"log"
	"strings"
	"sync"

	"riskguard/internal/pkg/jsonutil"
)

var (
	llmMu  sync.Mutex
	llmLog *log.Logger
)

// SetLLMWriter routes raw assessor prompts and replies to w. A nil writer
// disables the dump.
func SetLLMWriter(w io.Writer) {
	llmMu.Lock()
	defer llmMu.Unlock()
	if w == nil {
		llmLog = nil
		return
	}
	llmLog = log.New(w, "", log.LstdFlags)
}

func dumpLLM(direction, provider, instrument string, parts ...[2]string) {
	llmMu.Lock()
	out := llmLog
	llmMu.Unlock()
	if out == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[assessor][")
	b.WriteString(direction)
	b.WriteString("]")
	if provider != "" {
		b.WriteString("[" + provider + "]")
	}
	if instrument != "" {
		b.WriteString("[" + instrument + "]")
	}
	b.WriteString("\n")
	for _, p := range parts {
		title := strings.TrimSpace(p[0])
		if title == "" {
			title = "BODY"
		}
		b.WriteString("--- " + title + " ---\n")
		b.WriteString(p[1])
		if !strings.HasSuffix(p[1], "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	out.Print(b.String())
}

func LogLLMRequest(provider, instrument, systemPrompt, userPrompt string) {
	dumpLLM("request", provider, instrument, [2]string{"SYSTEM", systemPrompt}, [2]string{"USER", userPrompt})
}

// LogLLMResponse dumps the raw reply and, when it carries a JSON object, an
// indented copy of that object.
func LogLLMResponse(provider, instrument, raw string) {
	parts := [][2]string{{"RAW", raw}}
	if obj, ok := jsonutil.ExtractObject(raw); ok {
		parts = append(parts, [2]string{"JSON", jsonutil.Indent(obj)})
	}
	dumpLLM("response", provider, instrument, parts...)
}
