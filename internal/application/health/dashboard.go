package health

import (
	"bytes"
	"html/template"
	"sort"
)

var dashboardTmpl = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>Propshare · API Status</title>
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <meta http-equiv="refresh" content="15">
  <style>
    :root { --ink: #1d2b3a; --brand: #2f6f5e; --bad: #c0392b; --muted: #6b7785; --bg: #f5f6f4; }
    body { background: var(--bg); color: var(--ink); font-family: system-ui, sans-serif; margin: 0; padding: 48px 20px; }
    main { max-width: 960px; margin: 0 auto; }
    h1 { font-size: 40px; letter-spacing: -1px; margin: 0 0 6px; }
    h1.issue { color: var(--bad); }
    .sub { color: var(--muted); margin: 0 0 32px; }
    .grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(260px, 1fr)); gap: 20px; }
    section { background: #fff; border-radius: 16px; padding: 24px; box-shadow: 0 8px 30px rgba(0,0,0,0.05); }
    .label { text-transform: uppercase; font-size: 11px; letter-spacing: 2px; color: var(--muted); margin-bottom: 14px; }
    .big { font-size: 32px; font-weight: 800; margin-bottom: 10px; }
    .row { display: flex; justify-content: space-between; padding: 6px 0; border-bottom: 1px solid #eef0ee; font-size: 14px; }
    .row:last-child { border-bottom: none; }
    .ok { color: var(--brand); font-weight: 700; }
    .bad { color: var(--bad); font-weight: 700; }
    footer { margin-top: 28px; font-family: monospace; font-size: 13px; color: var(--muted); }
    a { color: var(--brand); }
  </style>
</head>
<body>
<main>
  <h1 class="{{.Status}}">{{if eq .Status "ok"}}All Systems Operational{{else}}Degraded Service{{end}}</h1>
  <p class="sub">Investment API, cache and ledger connectivity.</p>
  <div class="grid">
    <section>
      <div class="label">Traffic</div>
      <div class="big">{{.Traffic.TotalRequests}}</div>
      <div class="row"><span>Successful</span><span class="ok">{{.Traffic.SuccessCount}}</span></div>
      <div class="row"><span>Failed</span><span class="bad">{{.Traffic.FailedCount}}</span></div>
      <div class="row"><span>Success rate</span><span>{{.Traffic.SuccessRate}}%</span></div>
      <div class="row"><span>Avg latency</span><span>{{.Traffic.AvgResponseTime}} ms</span></div>
    </section>
    <section>
      <div class="label">Runtime</div>
      <div class="big">{{.Runtime.UptimeSeconds}}s</div>
      <div class="row"><span>Heap in use</span><span>{{.Runtime.Memory.HeapUsed}} MB</span></div>
      <div class="row"><span>Goroutines</span><span>{{.Runtime.Goroutines}}</span></div>
      <div class="row"><span>Platform</span><span>{{.Runtime.Platform}}</span></div>
      <div class="row"><span>Go</span><span>{{.Runtime.GoVersion}}</span></div>
    </section>
    <section>
      <div class="label">Dependencies</div>
      {{range .Deps}}
      <div class="row"><span>{{.Name}}</span><span class="{{if .Healthy}}ok{{else}}bad{{end}}">{{.Status}}{{if .PingMs}} · {{.PingMs}} ms{{end}}</span></div>
      {{end}}
    </section>
  </div>
  <footer>
    {{with .LastRequest}}last request: {{index . "method"}} {{index . "path"}}{{else}}no requests recorded{{end}}
    · <a href="/health/json">json</a> · <a href="/health/errors">errors</a>
  </footer>
</main>
</body>
</html>`))

type depRow struct {
	Name    string
	Status  string
	PingMs  int64
	Healthy bool
}

// RenderDashboardHTML returns the HTML for GET /.
func RenderDashboardHTML(health CollectResult) (string, error) {
	deps := make([]depRow, 0, len(health.Dependencies))
	for name, d := range health.Dependencies {
		row := depRow{Name: name, Status: d.Status}
		if d.PingMs != nil {
			row.PingMs = *d.PingMs
		}
		switch d.Status {
		case "connected", "reachable", "disabled":
			row.Healthy = true
		}
		deps = append(deps, row)
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].Name < deps[j].Name })

	lastReq, _ := health.Traffic.LastRequest.(map[string]interface{})
	var buf bytes.Buffer
	err := dashboardTmpl.Execute(&buf, struct {
		CollectResult
		Deps        []depRow
		LastRequest map[string]interface{}
	}{health, deps, lastReq})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
