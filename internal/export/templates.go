package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var reportTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}

	reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(reportTemplateHTML))
}

// TemplateData holds data for report template rendering
type TemplateData struct {
	Title         string
	Content       string
	WorkspaceName string
	GeneratedAt   time.Time
	Tasks         []TemplateTask
	History       []TemplateTransition
}

// TemplateTask is one row in the task table
type TemplateTask struct {
	Title    string
	Category string
	DueDate  string
	Tags     string
}

// TemplateTransition is one row in the history appendix
type TemplateTransition struct {
	When           string
	PreviousStatus string
	NewStatus      string
	ChangedBy      string
	Details        string
}

// RenderReportHTML renders the project report template with provided data
func RenderReportHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const reportTemplateHTML = `<!DOCTYPE html>
<html lang="es">
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    h2 { margin-top: 2rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    table { width: 100%; border-collapse: collapse; margin: 1rem 0; }
    th, td { border: 1px solid #ccc; padding: 0.4rem 0.6rem; text-align: left; font-size: 0.9em; }
    th { background: #f0f0f0; }
    .category { white-space: nowrap; }
    .history { color: #444; font-size: 0.85em; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.WorkspaceName}} | Generado el {{formatDate .GeneratedAt "02/01/2006 15:04"}}</div>
  {{if .Content}}<p>{{.Content}}</p>{{end}}
  {{if .Tasks}}
  <h2>Tareas</h2>
  <table>
    <tr><th>Tarea</th><th>Columna</th><th>Fecha límite</th><th>Etiquetas</th></tr>
    {{range .Tasks}}<tr><td>{{.Title}}</td><td class="category">{{.Category}}</td><td>{{.DueDate}}</td><td>{{.Tags}}</td></tr>
    {{end}}
  </table>
  {{end}}
  {{if .History}}
  <h2>Historial</h2>
  <table class="history">
    <tr><th>Fecha</th><th>De</th><th>A</th><th>Por</th><th>Detalle</th></tr>
    {{range .History}}<tr><td>{{.When}}</td><td>{{.PreviousStatus}}</td><td>{{.NewStatus}}</td><td>{{.ChangedBy}}</td><td>{{.Details}}</td></tr>
    {{end}}
  </table>
  {{end}}
</body>
</html>`
