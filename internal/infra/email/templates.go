package email

import (
	"bytes"
	"fmt"
	"html/template"
	texttemplate "text/template"
	"time"
)

const dateLayout = "Monday, January 2, 2006 at 15:04"

// templateData is what every reminder template renders from.
type templateData struct {
	Name       string
	CourseName string
	CourseCode string
	StartDate  string
	Message    string
}

// TemplateSource is the raw subject and HTML content of one notification kind.
type TemplateSource struct {
	Subject string
	Content string
}

type emailTemplate struct {
	subject *texttemplate.Template
	body    *template.Template
}

const layoutHTML = `<!DOCTYPE html><html><body style="font-family:sans-serif">
<p>Hello {{.Name}},</p>
{{template "content" .}}
<p>See you soon,<br>The training team</p>
</body></html>`

// DefaultTemplates returns the built-in notification templates.
func DefaultTemplates() map[Kind]TemplateSource {
	return map[Kind]TemplateSource{
		KindCourseStarting: {
			Subject: "Reminder: {{.CourseName}} starts tomorrow",
			Content: `<p>Your course <strong>{{.CourseName}}</strong>{{if .CourseCode}} ({{.CourseCode}}){{end}} starts on {{.StartDate}}.</p>
<p>Please arrive a few minutes early.</p>`,
		},
		KindPreparation: {
			Subject: "Prepare for {{.CourseName}}",
			Content: `<p><strong>{{.CourseName}}</strong> starts on {{.StartDate}}.</p>
<p>Please review the course materials and bring everything listed in the course description.</p>`,
		},
		KindTechCheck: {
			Subject: "Tech check for {{.CourseName}}",
			Content: `<p><strong>{{.CourseName}}</strong> is a live online session starting on {{.StartDate}}.</p>
<p>Please test your camera, microphone and connection before the session.</p>`,
		},
		KindCustom: {
			Subject: "Message about {{.CourseName}}",
			Content: `<p>{{.Message}}</p>`,
		},
	}
}

func parseTemplates(sources map[Kind]TemplateSource) (map[Kind]emailTemplate, error) {
	out := make(map[Kind]emailTemplate, len(sources))
	for kind, src := range sources {
		subject, err := texttemplate.New(string(kind) + "-subject").Parse(src.Subject)
		if err != nil {
			return nil, fmt.Errorf("parse subject for %s: %w", kind, err)
		}
		body, err := template.New(string(kind)).Parse(layoutHTML)
		if err != nil {
			return nil, fmt.Errorf("parse layout for %s: %w", kind, err)
		}
		if _, err := body.New("content").Parse(src.Content); err != nil {
			return nil, fmt.Errorf("parse content for %s: %w", kind, err)
		}
		out[kind] = emailTemplate{subject: subject, body: body}
	}
	return out, nil
}

func (t emailTemplate) render(data templateData) (subject, html string, err error) {
	var sb, hb bytes.Buffer
	if err := t.subject.Execute(&sb, data); err != nil {
		return "", "", fmt.Errorf("render subject: %w", err)
	}
	if err := t.body.Execute(&hb, data); err != nil {
		return "", "", fmt.Errorf("render body: %w", err)
	}
	return sb.String(), hb.String(), nil
}

func formatStart(t time.Time, ok bool) string {
	if !ok {
		return "a date to be announced"
	}
	return t.Format(dateLayout)
}
