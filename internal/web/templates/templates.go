// Package templates renders the dashboard and HTMX fragments as templ
// components.
package templates

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/csvjson/internal/core"
)

// DashboardData is everything the dashboard page shows.
type DashboardData struct {
	Limiter core.LimiterStatus
	Active  []core.Job
	Recent  []core.Job
}

// Dashboard renders the landing page: upload forms for both directions,
// the limiter state and recent jobs.
func Dashboard(data DashboardData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, dashboardHead); err != nil {
			return err
		}
		if err := convertForm(w, core.CSVToJSON, "CSV to JSON", ".csv,.gz,.zst,.lz4,.xz"); err != nil {
			return err
		}
		if err := convertForm(w, core.JSONToCSV, "JSON to CSV", ".json,.ndjson,.jsonl,.gz,.zst,.lz4,.xz"); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w,
			`<section id="limiter"><h2>Conversions</h2><p>%d running, %d free of %d</p></section>`,
			data.Limiter.Active, data.Limiter.Available, data.Limiter.MaxConcurrent); err != nil {
			return err
		}
		if err := JobTable("Running", data.Active).Render(ctx, w); err != nil {
			return err
		}
		if err := JobTable("Recent", data.Recent).Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, dashboardFoot)
		return err
	})
}

const dashboardHead = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>CSV / JSON converter</title>
</head>
<body>
<main>
<h1>CSV / JSON converter</h1>
<div id="errors"></div>
`

const dashboardFoot = `</main>
</body>
</html>
`

func convertForm(w io.Writer, d core.Direction, title, accept string) error {
	_, err := fmt.Fprintf(w, `<section class="convert">
<h2>%s</h2>
<form method="post" action="/api/convert/%s" enctype="multipart/form-data">
<input type="file" name="file" accept="%s" required>
<button type="submit">Convert</button>
</form>
</section>
`, templ.EscapeString(title), templ.EscapeString(string(d)), templ.EscapeString(accept))
	return err
}

// JobTable renders a titled table of jobs. Nothing is written for an
// empty list.
func JobTable(title string, jobs []core.Job) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if len(jobs) == 0 {
			return nil
		}
		if _, err := fmt.Fprintf(w,
			"<section class=\"jobs\"><h2>%s</h2>\n<table>\n<tr><th>Started</th><th>Direction</th><th>Input</th><th>Phase</th><th>Rows</th><th>Checksum</th><th>Error</th></tr>\n",
			templ.EscapeString(title)); err != nil {
			return err
		}
		for _, j := range jobs {
			if err := jobRow(w, j); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "</table></section>\n")
		return err
	})
}

func jobRow(w io.Writer, j core.Job) error {
	errText := j.Error
	if j.ErrorCode != "" {
		errText = j.ErrorCode + ": " + errText
	}
	_, err := fmt.Fprintf(w,
		"<tr id=\"job-%s\"><td>%s</td><td>%s</td><td>%s</td><td class=\"phase-%s\">%s</td><td>%s</td><td><code>%s</code></td><td>%s</td></tr>\n",
		templ.EscapeString(j.ID),
		j.StartedAt.Format(time.DateTime),
		templ.EscapeString(string(j.Direction)),
		templ.EscapeString(j.Input),
		templ.EscapeString(string(j.Phase)),
		templ.EscapeString(string(j.Phase)),
		strconv.FormatInt(j.Rows, 10),
		templ.EscapeString(j.Checksum),
		templ.EscapeString(errText),
	)
	return err
}

// ErrorAlert renders an error fragment for HTMX swaps.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w, `<div class="alert alert-error" role="alert"><p>%s</p>`,
			templ.EscapeString(message)); err != nil {
			return err
		}
		if action != "" {
			if _, err := fmt.Fprintf(w, `<p class="action">%s</p>`, templ.EscapeString(action)); err != nil {
				return err
			}
		}
		_, err := fmt.Fprintf(w, `<small>Error code: %s</small></div>`, templ.EscapeString(code))
		return err
	})
}
