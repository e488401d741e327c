// Package template renders campaign subject and body templates against a
// recipient's substitution fields using the Liquid template language.
package template

import (
	"crypto/md5"
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/osteele/liquid"
)

// Renderer is a pure substitution engine with a compiled-template cache.
// Rendering is lax: variables missing from the recipient's field map
// expand to the empty string, never to raw placeholder syntax. Values
// rendered into HTML bodies are escaped first, since recipient fields
// originate from uploaded spreadsheets and must not inject markup.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // md5(template) -> *liquid.Template
}

// NewRenderer creates a renderer with the mailer's filter set registered.
func NewRenderer() *Renderer {
	engine := liquid.NewEngine()

	// Fallback value: {{ name | default: "participant" }}
	engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		s := fmt.Sprintf("%v", value)
		if s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})

	// Explicit escape for templates that embed fields in attributes:
	// {{ certificate_url | escape }}
	engine.RegisterFilter("escape", func(s string) string {
		return html.EscapeString(s)
	})

	// Capitalize first letter: {{ name | capitalize }}
	engine.RegisterFilter("capitalize", func(s string) string {
		if len(s) == 0 {
			return s
		}
		return strings.ToUpper(string(s[0])) + s[1:]
	})

	// Uppercase certificate codes: {{ certificate_id | upcase_id }}
	engine.RegisterFilter("upcase_id", func(s string) string {
		return strings.ToUpper(strings.TrimSpace(s))
	})

	return &Renderer{engine: engine}
}

// RenderSubject expands a subject template with the recipient's raw field
// values. Subjects are plain text; no HTML escaping applies.
func (r *Renderer) RenderSubject(tpl string, fields map[string]string) (string, error) {
	return r.render(tpl, plainContext(fields))
}

// RenderHTML expands an HTML body template. Every recipient-supplied value
// is HTML-escaped before substitution.
func (r *Renderer) RenderHTML(tpl string, fields map[string]string) (string, error) {
	return r.render(tpl, htmlContext(fields))
}

// RenderText expands a plain-text body template with raw field values.
func (r *Renderer) RenderText(tpl string, fields map[string]string) (string, error) {
	return r.render(tpl, plainContext(fields))
}

// Validate compiles a template string and returns any syntax error.
func (r *Renderer) Validate(tpl string) error {
	_, err := r.engine.ParseString(tpl)
	return err
}

func (r *Renderer) render(tpl string, ctx map[string]interface{}) (string, error) {
	key := fmt.Sprintf("%x", md5.Sum([]byte(tpl)))
	if cached, ok := r.cache.Load(key); ok {
		return cached.(*liquid.Template).RenderString(ctx)
	}

	compiled, err := r.engine.ParseString(tpl)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	r.cache.Store(key, compiled)

	out, err := compiled.RenderString(ctx)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

func plainContext(fields map[string]string) map[string]interface{} {
	ctx := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		ctx[k] = v
	}
	return ctx
}

func htmlContext(fields map[string]string) map[string]interface{} {
	ctx := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		ctx[k] = html.EscapeString(v)
	}
	return ctx
}
