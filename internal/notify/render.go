package notify

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Renderer turns markdown message bodies into safe HTML.
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
	strict *bluemonday.Policy
}

// NewRenderer builds a renderer.
func NewRenderer() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		),
		policy: bluemonday.UGCPolicy(),
		strict: bluemonday.StrictPolicy(),
	}
}

// HTML converts markdown and sanitizes the result. Conversion errors fall
// back to the escaped source.
func (r *Renderer) HTML(markdown string) string {
	var buf strings.Builder
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		return r.strict.Sanitize(markdown)
	}
	return r.policy.Sanitize(buf.String())
}

// Plain strips markup from user-supplied text before it is embedded in a message.
func (r *Renderer) Plain(text string) string {
	return strings.TrimSpace(r.strict.Sanitize(text))
}
