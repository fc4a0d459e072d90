// Package report renders task lists for export.
package report

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"tasktide/pkg/task"
)

const timeLayout = "2006-01-02 15:04"

var page = template.Must(template.New("incomplete").Funcs(template.FuncMap{
	"when": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Format(timeLayout)
	},
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<title>Incomplete Tasks</title>
<style>
body { font-family: Arial, sans-serif; margin: 20px; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
th { background-color: #f2f2f2; }
tr:nth-child(even) { background-color: #f9f9f9; }
</style>
</head>
<body>
<h1>Incomplete Tasks</h1>
<p>Generated {{when .Generated}} ({{.Zone}})</p>
<table>
<tr><th>Name</th><th>Description</th><th>Start Time</th><th>Duration (Hours)</th><th>Location</th><th>Status</th></tr>
{{- range .Tasks}}
<tr><td>{{.ShortName}}</td><td>{{.Description}}</td><td>{{when .StartTime}}</td><td>{{.DurationHours}}</td><td>{{.Location}}</td><td>{{.Status}}</td></tr>
{{- end}}
</table>
</body>
</html>
`))

// WriteHTML writes an HTML table of the incomplete tasks in tasks.
// Completed tasks are left out. Start times are shown in generated's
// location, which is named in the header.
func WriteHTML(w io.Writer, tasks []task.Task, generated time.Time) error {
	loc := generated.Location()
	open := make([]task.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Status == task.StatusCompleted {
			continue
		}
		if !t.StartTime.IsZero() {
			t.StartTime = t.StartTime.In(loc)
		}
		open = append(open, t)
	}
	err := page.Execute(w, struct {
		Tasks     []task.Task
		Generated time.Time
		Zone      string
	}{open, generated, generated.Format("MST")})
	if err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

// FileName is the default export file name for a report generated at t.
func FileName(t time.Time) string {
	return fmt.Sprintf("incomplete_tasks_%d.html", t.UnixMilli())
}
