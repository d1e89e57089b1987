package decision

import (
	"fmt"
	"strings"
	"text/template"

	"riskguard/internal/logger"
)

const recordTemplate = `{{.Instrument}} {{upper .Action}} score={{printf "%.4f" .FinalScore}} p={{printf "%.3f" .Probability}}
trace={{.TraceID}} regime={{.Regime.Regime}} sentinel={{.Sentinel.Mode}} calibration={{.Calibration.State}}
{{- if .Stress}}
stress gssi={{printf "%.3f" .Stress.GSSI}} car={{printf "%.3f" .Stress.CAR}} x{{printf "%.2f" .Stress.ScoreMultiplier}} lev={{.Stress.Leverage}}
{{- end}}
{{- range .Engines}}
  {{.Name}}: {{printf "%.3f" .Score}} w={{printf "%.3f" .Weight}} ({{.Reason}})
{{- end}}
{{- if .Order}}
order {{.Order.Side}} {{.Order.Units}} @ {{.Order.Price}} sl={{.Order.StopLoss}} tp={{.Order.TakeProfit}}
{{- end}}
{{- range .Reasons}}
reason {{.Code}}{{if .Detail}}: {{.Detail}}{{end}}
{{- end}}
{{- range .Emergency}}
emergency {{.Kind}} {{.Instrument}}{{if .PositionID}} #{{.PositionID}}{{end}}
{{- end}}`

var recordTmpl = template.Must(template.New("record").Funcs(template.FuncMap{
	"upper": func(a Action) string { return strings.ToUpper(string(a)) },
}).Parse(recordTemplate))

// Render formats a record as plain text for logs and notifications.
func Render(r Record) string {
	var b strings.Builder
	if err := recordTmpl.Execute(&b, r); err != nil {
		logger.Warnf("[decision] render failed: %v", err)
		return fmt.Sprintf("%s %s score=%.4f trace=%s", r.Instrument, r.Action, r.FinalScore, r.TraceID)
	}
	return b.String()
}
