package mail

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/cbroglie/mustache"

	"github.com/telekom/invite-mailer/pkg/config"
)

//go:embed templates/invitation.html
var invitationTemplateRaw string

// Renderer renders an HTML body from a variable mapping.
type Renderer interface {
	Render(vars map[string]any) (string, error)
}

// NewRenderer parses source with the given engine. An empty source falls
// back to the built-in invitation template, which uses mustache syntax.
func NewRenderer(engine string, source string) (Renderer, error) {
	if source == "" {
		engine, source = config.EngineMustache, invitationTemplateRaw
	}

	switch engine {
	case config.EngineMustache, "":
		tmpl, err := mustache.ParseString(source)
		if err != nil {
			return nil, fmt.Errorf("failed to parse mustache template: %w", err)
		}
		return &mustacheRenderer{tmpl: tmpl}, nil
	case config.EngineGoTemplate:
		tmpl, err := template.New("mail").Funcs(sprig.HtmlFuncMap()).Parse(source)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template: %w", err)
		}
		return &goTemplateRenderer{tmpl: tmpl}, nil
	default:
		return nil, fmt.Errorf("unknown template engine %q", engine)
	}
}

type mustacheRenderer struct {
	tmpl *mustache.Template
}

func (r *mustacheRenderer) Render(vars map[string]any) (string, error) {
	out, err := r.tmpl.Render(vars)
	if err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}
	return out, nil
}

type goTemplateRenderer struct {
	tmpl *template.Template
}

func (r *goTemplateRenderer) Render(vars map[string]any) (string, error) {
	var b bytes.Buffer
	if err := r.tmpl.Execute(&b, vars); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return b.String(), nil
}
