package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var (
	noteTemplate  *template.Template
	chartTemplate *template.Template
)

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"join": strings.Join,
	}

	noteTemplate = loadTemplate("templates/note.html", fallbackNoteTemplate, funcMap)
	chartTemplate = loadTemplate("templates/chart.html", fallbackChartTemplate, funcMap)
}

func loadTemplate(path, fallback string, funcMap template.FuncMap) *template.Template {
	contents, err := templateFS.ReadFile(path)
	if err != nil {
		return template.Must(template.New("export").Funcs(funcMap).Parse(fallback))
	}
	return template.Must(template.New("export").Funcs(funcMap).Parse(string(contents)))
}

// NoteTemplateData holds data for session note rendering.
type NoteTemplateData struct {
	ClientName  string
	SessionDate time.Time
	ContentHTML template.HTML
	Summary     string
	Tags        []string
	Author      string
}

// ChartTemplateData holds data for client chart rendering.
type ChartTemplateData struct {
	Client       ClientInfo
	Appointments []AppointmentInfo
	Notes        []NoteTemplateData
}

// RenderNoteHTML renders the session note template with provided data.
func RenderNoteHTML(data NoteTemplateData) (string, error) {
	var buf bytes.Buffer
	if err := noteTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderChartHTML renders the client chart template with provided data.
func RenderChartHTML(data ChartTemplateData) (string, error) {
	var buf bytes.Buffer
	if err := chartTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// textToHTML converts plain note text to paragraphs, escaping any markup.
func textToHTML(text string) template.HTML {
	var b strings.Builder
	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		escaped := template.HTMLEscapeString(para)
		escaped = strings.ReplaceAll(escaped, "\n", "<br>")
		b.WriteString("<p>")
		b.WriteString(escaped)
		b.WriteString("</p>\n")
	}
	return template.HTML(b.String())
}

const fallbackNoteTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>Session Note</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .summary { background: #f5f5f5; padding: 1rem; margin: 1rem 0; border-left: 3px solid #333; }
    .tags { color: #666; font-size: 0.9em; }
  </style>
</head>
<body>
  <h1>Session Note</h1>
  <div class="meta">{{.ClientName}} | {{.SessionDate.Format "Jan 2, 2006"}} | {{.Author}}</div>
  <div>{{.ContentHTML}}</div>
  {{if .Summary}}<div class="summary"><strong>Summary:</strong> {{.Summary}}</div>{{end}}
  {{if .Tags}}<div class="tags">Tags: {{join .Tags ", "}}</div>{{end}}
</body>
</html>`

const fallbackChartTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>Client Chart</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    table { border-collapse: collapse; width: 100%; }
    th, td { text-align: left; padding: 0.4rem; border-bottom: 1px solid #ddd; }
    .note { margin: 1rem 0; padding: 1rem; border: 1px solid #ddd; }
  </style>
</head>
<body>
  <h1>{{.Client.Name}}</h1>
  <p>{{.Client.Email}} {{.Client.Phone}} | Status: {{.Client.Status}}</p>
  {{if .Appointments}}
  <h2>Appointments</h2>
  <table>
    <tr><th>Date</th><th>Type</th><th>Status</th></tr>
    {{range .Appointments}}<tr><td>{{.StartTime.Format "Jan 2, 2006 3:04 PM"}}</td><td>{{.Type}}</td><td>{{.Status}}</td></tr>{{end}}
  </table>
  {{end}}
  {{if .Notes}}
  <h2>Session Notes</h2>
  {{range .Notes}}
  <div class="note">
    <div><strong>{{.SessionDate.Format "Jan 2, 2006"}}</strong> — {{.Author}}</div>
    <div>{{.ContentHTML}}</div>
  </div>
  {{end}}
  {{end}}
</body>
</html>`
