package render

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"rfqflow/payload"
)

// Renderer turns a stored payload into the outbound message text.
type Renderer interface {
	Render(p payload.Payload, expiresAt *time.Time) (string, error)
}

const defaultTemplate = `New travel request
{{- if .Summary}}

{{.Summary}}
{{- end}}
{{- if .Expires}}

Open until: {{.Expires}}
{{- end}}

Ref: {{.Ref}}`

type view struct {
	Summary string
	Expires string
	Ref     string
}

// TextRenderer renders with text/template. It holds no state beyond the
// parsed template and is safe for concurrent use.
type TextRenderer struct {
	tmpl *template.Template
}

func NewTextRenderer() *TextRenderer {
	return &TextRenderer{tmpl: template.Must(template.New("rfq").Parse(defaultTemplate))}
}

// NewTextRendererFromString parses a custom template. Fields: .Summary, .Expires, .Ref.
func NewTextRendererFromString(text string) (*TextRenderer, error) {
	tmpl, err := template.New("rfq").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("render: parse template: %w", err)
	}
	return &TextRenderer{tmpl: tmpl}, nil
}

func (r *TextRenderer) Render(p payload.Payload, expiresAt *time.Time) (string, error) {
	v := view{
		Summary: p.Summary,
		Ref:     shortRef(p.TripRequestID),
	}
	if expiresAt != nil && !expiresAt.IsZero() {
		v.Expires = expiresAt.UTC().Format("2006-01-02 15:04 UTC")
	}

	var b strings.Builder
	if err := r.tmpl.Execute(&b, v); err != nil {
		return "", fmt.Errorf("render: execute: %w", err)
	}
	return b.String(), nil
}

func shortRef(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return strings.ToUpper(id)
}
