package export

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"
)

var minutesTemplate = template.Must(template.New("minutes").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(minutesTemplateSrc))

// TemplateData holds data for minutes template rendering
type TemplateData struct {
	Title        string
	Description  string
	Status       string
	OwnerName    string
	ScheduledFor time.Time
	HasSchedule  bool
	Attendees    []AttendeeInfo
	Motions      []TemplateMotion
	History      []HistoryInfo
	Chats        []ChatInfo
}

// TemplateMotion holds motion data for template
type TemplateMotion struct {
	Title        string
	Description  string
	Status       string
	ProposerName string
	Outcome      string
	For          int
	Against      int
	Abstain      int
	DecidedAt    time.Time
	HasDecision  bool
	Replies      []TemplateReply
}

// TemplateReply holds reply data for template
type TemplateReply struct {
	Author string
	Stance string
	Body   string
}

// RenderMinutesHTML renders the minutes template with provided data
func RenderMinutesHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := minutesTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// exportText renders plain text minutes.
func exportText(data TemplateData, title string) (*Result, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "MINUTES: %s\n", data.Title)
	if data.HasSchedule {
		fmt.Fprintf(&b, "Scheduled: %s\n", data.ScheduledFor.Format("Jan 2, 2006 15:04 MST"))
	}
	fmt.Fprintf(&b, "Convened by: %s\n", data.OwnerName)
	fmt.Fprintf(&b, "Status: %s\n", data.Status)
	if len(data.Attendees) > 0 {
		names := make([]string, 0, len(data.Attendees))
		for _, a := range data.Attendees {
			names = append(names, fmt.Sprintf("%s (%s)", a.Name, a.Role))
		}
		fmt.Fprintf(&b, "Present: %s\n", strings.Join(names, ", "))
	}
	b.WriteString("\n")

	if len(data.Motions) == 0 {
		b.WriteString("No motions were brought before the meeting.\n")
	}
	for i, m := range data.Motions {
		fmt.Fprintf(&b, "%d. %s (proposed by %s)\n", i+1, m.Title, m.ProposerName)
		if m.Description != "" {
			fmt.Fprintf(&b, "   %s\n", m.Description)
		}
		fmt.Fprintf(&b, "   Status: %s\n", m.Status)
		if m.HasDecision {
			fmt.Fprintf(&b, "   Decided %s: %s (for %d, against %d, abstain %d)\n",
				m.DecidedAt.Format("Jan 2, 2006"), m.Outcome, m.For, m.Against, m.Abstain)
		}
		for _, r := range m.Replies {
			fmt.Fprintf(&b, "   - [%s] %s: %s\n", r.Stance, r.Author, r.Body)
		}
		b.WriteString("\n")
	}

	if len(data.Chats) > 0 {
		b.WriteString("DISCUSSION\n")
		for _, c := range data.Chats {
			fmt.Fprintf(&b, "  %s %s: %s\n", c.SentAt.Format("15:04"), c.Author, c.Body)
		}
		b.WriteString("\n")
	}

	if len(data.History) > 0 {
		b.WriteString("PROCEEDINGS\n")
		for _, h := range data.History {
			fmt.Fprintf(&b, "  %s %s", h.CreatedAt.Format("Jan 2 15:04"), h.EventType)
			if h.ActorName != "" {
				fmt.Fprintf(&b, " by %s", h.ActorName)
			}
			if h.Detail != "" {
				fmt.Fprintf(&b, ": %s", h.Detail)
			}
			b.WriteString("\n")
		}
	}

	return &Result{
		Data:     []byte(b.String()),
		Filename: sanitizeFilename(title) + ".txt",
		MimeType: "text/plain; charset=utf-8",
	}, nil
}

const minutesTemplateSrc = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Georgia, serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; color: #1f2937; }
    h1 { border-bottom: 2px solid #7c3aed; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .motion { margin: 1.5rem 0; padding: 1rem; border-left: 3px solid #7c3aed; background: #faf8ff; }
    .motion h3 { margin: 0 0 0.5rem 0; }
    .tally { font-size: 0.9em; color: #444; }
    .outcome { font-weight: bold; text-transform: uppercase; }
    .reply { margin: 0.5rem 0 0 1rem; font-size: 0.9em; color: #555; }
    .stance { font-variant: small-caps; color: #7c3aed; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  {{if .Description}}<p>{{.Description}}</p>{{end}}
  <div class="meta">Convened by {{.OwnerName}}{{if .HasSchedule}} | {{formatDate .ScheduledFor "Jan 2, 2006 15:04"}}{{end}} | {{.Status}}</div>
  {{if .Attendees}}
  <div class="meta">Present: {{range $i, $a := .Attendees}}{{if $i}}, {{end}}{{$a.Name}} ({{$a.Role}}){{end}}</div>
  {{end}}
  {{if .Motions}}
  <h2>Motions</h2>
  {{range .Motions}}
  <div class="motion">
    <h3>{{.Title}}</h3>
    {{if .Description}}<p>{{.Description}}</p>{{end}}
    <div class="tally">Proposed by {{.ProposerName}} | status {{.Status}}</div>
    {{if .HasDecision}}
    <div class="tally">
      <span class="outcome">{{.Outcome}}</span>
      on {{formatDate .DecidedAt "Jan 2, 2006"}}
      (for {{.For}}, against {{.Against}}, abstain {{.Abstain}})
    </div>
    {{end}}
    {{range .Replies}}
    <div class="reply"><span class="stance">{{.Stance}}</span> {{.Author}}: {{.Body}}</div>
    {{end}}
  </div>
  {{end}}
  {{else}}
  <p>No motions were brought before the meeting.</p>
  {{end}}
  {{if .Chats}}
  <h2>Discussion</h2>
  {{range .Chats}}
  <div class="reply">{{formatDate .SentAt "15:04"}} {{.Author}}: {{.Body}}</div>
  {{end}}
  {{end}}
  {{if .History}}
  <h2>Proceedings</h2>
  {{range .History}}
  <div class="reply">{{formatDate .CreatedAt "Jan 2 15:04"}} {{.EventType}}{{if .ActorName}} by {{.ActorName}}{{end}}{{if .Detail}}: {{.Detail}}{{end}}</div>
  {{end}}
  {{end}}
</body>
</html>`
