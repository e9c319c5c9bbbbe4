package render

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
)

// HTMLRenderer lays out the report as a standalone HTML document. The
// layout is deliberately plain; visual design lives outside this
// module.
type HTMLRenderer struct {
	tmpl *template.Template
}

func NewHTMLRenderer() *HTMLRenderer {
	return &HTMLRenderer{tmpl: template.Must(template.New("report").Parse(reportTemplate))}
}

func (r *HTMLRenderer) Name() string { return "html" }

func (r *HTMLRenderer) Render(ctx context.Context, in Input) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, in); err != nil {
		return nil, fmt.Errorf("execute template: %w", err)
	}
	return buf.Bytes(), nil
}

const reportTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Advisory report {{.Report.ID}}</title>
<style>
body { font-family: sans-serif; margin: 2rem; }
table { border-collapse: collapse; margin-bottom: 1.5rem; }
th, td { border: 1px solid #999; padding: 0.3rem 0.8rem; text-align: left; }
h2 { margin-top: 2rem; }
</style>
</head>
<body>
<h1>Advisory report ({{.Report.ReportType}})</h1>
<p>Report {{.Report.ID}} &mdash; {{.Analysis.TotalRecommendations}} recommendations,
total potential savings {{printf "%.2f" .Analysis.TotalSavings}} {{.Analysis.Currency}}
(average {{printf "%.2f" .Analysis.AverageSavings}}).</p>

<h2>Category distribution</h2>
<table>
<tr><th>Category</th><th>Count</th></tr>
{{range $cat, $count := .Analysis.ByCategory}}<tr><td>{{$cat}}</td><td>{{$count}}</td></tr>
{{end}}
</table>

<h2>Business impact</h2>
<table>
<tr><th>Impact</th><th>Count</th></tr>
{{range $impact, $count := .Analysis.ByImpact}}<tr><td>{{$impact}}</td><td>{{$count}}</td></tr>
{{end}}
</table>

<h2>Commitment savings</h2>
<table>
<tr><th>Bucket</th><th>Count</th><th>Total</th><th>Average</th></tr>
<tr><td>Pure reservations (1 year)</td><td>{{.Analysis.PureReservations.OneYear.Count}}</td><td>{{printf "%.2f" .Analysis.PureReservations.OneYear.TotalSavings}}</td><td>{{printf "%.2f" .Analysis.PureReservations.OneYear.AverageSavings}}</td></tr>
<tr><td>Pure reservations (3 years)</td><td>{{.Analysis.PureReservations.ThreeYear.Count}}</td><td>{{printf "%.2f" .Analysis.PureReservations.ThreeYear.TotalSavings}}</td><td>{{printf "%.2f" .Analysis.PureReservations.ThreeYear.AverageSavings}}</td></tr>
<tr><td>Pure savings plans</td><td>{{.Analysis.PureSavingsPlans.Count}}</td><td>{{printf "%.2f" .Analysis.PureSavingsPlans.TotalSavings}}</td><td>{{printf "%.2f" .Analysis.PureSavingsPlans.AverageSavings}}</td></tr>
<tr><td>Combined commitments (1 year)</td><td>{{.Analysis.Combined.OneYear.Count}}</td><td>{{printf "%.2f" .Analysis.Combined.OneYear.TotalSavings}}</td><td>{{printf "%.2f" .Analysis.Combined.OneYear.AverageSavings}}</td></tr>
<tr><td>Combined commitments (3 years)</td><td>{{.Analysis.Combined.ThreeYear.Count}}</td><td>{{printf "%.2f" .Analysis.Combined.ThreeYear.TotalSavings}}</td><td>{{printf "%.2f" .Analysis.Combined.ThreeYear.AverageSavings}}</td></tr>
<tr><td>Uncategorized</td><td>{{.Analysis.UncategorizedCount}}</td><td></td><td></td></tr>
</table>
</body>
</html>
`
