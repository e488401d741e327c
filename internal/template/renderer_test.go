package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSubject(t *testing.T) {
	r := NewRenderer()
	out, err := r.RenderSubject("Your {{course}} certificate, {{name}}", map[string]string{
		"name":   "Ada",
		"course": "Go Fundamentals",
	})
	require.NoError(t, err)
	assert.Equal(t, "Your Go Fundamentals certificate, Ada", out)
}

func TestRenderIdempotent(t *testing.T) {
	r := NewRenderer()
	fields := map[string]string{"name": "Ada", "certificate_id": "cert-42"}
	tpl := "Hello {{name}}, your id is {{certificate_id}}"

	first, err := r.RenderSubject(tpl, fields)
	require.NoError(t, err)
	second, err := r.RenderSubject(tpl, fields)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMissingVariablesRenderEmpty(t *testing.T) {
	r := NewRenderer()
	out, err := r.RenderSubject("Hello {{name}}, code: {{missing_field}}!", map[string]string{
		"name": "Ada",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada, code: !", out)
	assert.NotContains(t, out, "{{", "placeholder syntax must never leak to recipients")
}

func TestRenderHTMLEscapesRecipientValues(t *testing.T) {
	r := NewRenderer()
	out, err := r.RenderHTML("<p>Hi {{name}}</p>", map[string]string{
		"name": `<script>alert("x")</script>`,
	})
	require.NoError(t, err)
	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "&lt;script&gt;")
}

func TestRenderTextDoesNotEscape(t *testing.T) {
	r := NewRenderer()
	out, err := r.RenderText("Hi {{name}}", map[string]string{"name": "O'Brien & Sons"})
	require.NoError(t, err)
	assert.Equal(t, "Hi O'Brien & Sons", out)
}

func TestDefaultFilter(t *testing.T) {
	r := NewRenderer()
	out, err := r.RenderSubject(`Hi {{ name | default: "participant" }}`, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "Hi participant", out)
}

func TestUpcaseIDFilter(t *testing.T) {
	r := NewRenderer()
	out, err := r.RenderSubject(`{{ certificate_id | upcase_id }}`, map[string]string{
		"certificate_id": " cert-42 ",
	})
	require.NoError(t, err)
	assert.Equal(t, "CERT-42", out)
}

func TestValidate(t *testing.T) {
	r := NewRenderer()
	assert.NoError(t, r.Validate("Hello {{name}}"))
	assert.Error(t, r.Validate("{% if x %}unclosed"))
}
