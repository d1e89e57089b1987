package notifier

import (
	"fmt"
	"strings"
	"time"

	"riskguard/internal/decision"
)

const maxStructuredMessageLen = 3800

type MessageSection struct {
	Title string
	Lines []string
}

// StructuredMessage renders to Telegram-flavoured Markdown.
type StructuredMessage struct {
	Icon      string
	Title     string
	Sections  []MessageSection
	Footer    string
	Timestamp time.Time
}

func (m StructuredMessage) RenderMarkdown() string {
	var b strings.Builder
	if header := strings.TrimSpace(m.Icon + " " + m.Title); header != "" {
		b.WriteString(header + "\n\n")
	}
	b.WriteString(renderSections(m.Sections))
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		b.WriteString(sanitize(footer) + "\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("at " + m.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	body := strings.TrimSpace(b.String())
	if len(body) > maxStructuredMessageLen {
		body = body[:maxStructuredMessageLen] + "..."
	}
	return body
}

func renderSections(secs []MessageSection) string {
	var b strings.Builder
	for _, sec := range secs {
		lines := nonEmpty(sec.Lines)
		if len(lines) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		if title := strings.TrimSpace(sec.Title); title != "" {
			b.WriteString(sanitize(title) + "\n")
		}
		for _, line := range lines {
			b.WriteString("- " + sanitize(line) + "\n")
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "```\n" + b.String() + "```\n\n"
}

func nonEmpty(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if text := strings.TrimSpace(line); text != "" {
			out = append(out, text)
		}
	}
	return out
}

func sanitize(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}

var actionIcons = map[decision.Action]string{
	decision.ActionAct:      "✅",
	decision.ActionBlock:    "⛔",
	decision.ActionOverride: "🛡",
	decision.ActionHalt:     "🚨",
}

// FromDecision summarises a record for a chat recipient.
func FromDecision(rec decision.Record) StructuredMessage {
	msg := StructuredMessage{
		Icon:      actionIcons[rec.Action],
		Title:     fmt.Sprintf("%s %s", strings.ToUpper(string(rec.Action)), rec.Instrument),
		Timestamp: rec.At,
		Footer:    "trace " + rec.TraceID,
	}
	summary := MessageSection{Title: "Decision", Lines: []string{
		fmt.Sprintf("score %.3f (raw %.3f) p=%.3f", rec.FinalScore, rec.RawScore, rec.Probability),
		"regime " + rec.Regime.Regime,
		"sentinel " + rec.Sentinel.Mode,
		"calibration " + rec.Calibration.State,
	}}
	msg.Sections = append(msg.Sections, summary)

	var reasons []string
	for _, r := range rec.Reasons {
		line := r.Code
		if r.Detail != "" {
			line += ": " + r.Detail
		}
		reasons = append(reasons, line)
	}
	msg.Sections = append(msg.Sections, MessageSection{Title: "Reasons", Lines: reasons})

	if o := rec.Order; o != nil {
		msg.Sections = append(msg.Sections, MessageSection{Title: "Order", Lines: []string{
			fmt.Sprintf("%s %s units @ %s", o.Side, o.Units.String(), o.Price.String()),
			fmt.Sprintf("sl %s tp %s", o.StopLoss.String(), o.TakeProfit.String()),
			"entry " + o.EntryType,
		}})
	}
	if len(rec.Emergency) > 0 {
		lines := make([]string, 0, len(rec.Emergency))
		for _, a := range rec.Emergency {
			lines = append(lines, fmt.Sprintf("%s %s %s (%.2fR)", a.Kind, a.Instrument, a.PositionID, a.RMultiple))
		}
		msg.Sections = append(msg.Sections, MessageSection{Title: "Emergency", Lines: lines})
	}
	return msg
}
