// Package render turns campaign content plus a subscriber into the final
// email document. Every rendered email carries the unsubscribe footer; the
// document shell is fixed and not configurable per campaign.
package render

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/osteele/liquid"

	"github.com/leadwave/leadwave/internal/domain"
)

// PreviewEmail and PreviewFirstName identify the synthetic subscriber used
// for campaign previews. Previews run the exact same render path as real
// sends so preview and send output cannot drift.
const (
	PreviewEmail     = "test@example.com"
	PreviewFirstName = "Test"
)

// FirstNameFallback substitutes for {{firstName}} when the subscriber has none.
const FirstNameFallback = "Valued Customer"

// TokenGenerator produces unsubscribe URLs for rendered emails.
type TokenGenerator interface {
	Generate(email, tenantID, campaignID string) string
}

// Renderer performs Liquid personalization and wraps content in the
// compliant document shell.
type Renderer struct {
	engine *liquid.Engine
	tokens TokenGenerator
	cache  sync.Map // campaignID -> *liquid.Template

	now func() time.Time
}

// NewRenderer creates a renderer with the standard personalization filters.
func NewRenderer(tokens TokenGenerator) *Renderer {
	r := &Renderer{
		engine: liquid.NewEngine(),
		tokens: tokens,
		now:    time.Now,
	}
	r.registerFilters()
	return r
}

func (r *Renderer) registerFilters() {
	// Fallback value: {{ firstName | default: "Friend" }}
	r.engine.RegisterFilter("default", func(value any, defaultVal string) any {
		if value == nil {
			return defaultVal
		}
		strVal := fmt.Sprintf("%v", value)
		if strVal == "" || strVal == "<nil>" {
			return defaultVal
		}
		return value
	})

	r.engine.RegisterFilter("capitalize", func(s string) string {
		if len(s) == 0 {
			return s
		}
		return strings.ToUpper(string(s[0])) + strings.ToLower(s[1:])
	})

	r.engine.RegisterFilter("urlencode", func(s string) string {
		return url.QueryEscape(s)
	})

	r.engine.RegisterFilter("escape", func(s string) string {
		return html.EscapeString(s)
	})

	r.engine.RegisterFilter("truncate", func(s string, length int) string {
		if len(s) <= length {
			return s
		}
		if length <= 3 {
			return s[:length]
		}
		return s[:length-3] + "..."
	})

	r.engine.RegisterFilter("currency", func(value any) string {
		var f float64
		switch v := value.(type) {
		case float64:
			f = v
		case int:
			f = float64(v)
		case int64:
			f = float64(v)
		case string:
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return v
			}
			f = parsed
		default:
			return fmt.Sprintf("%v", value)
		}
		return fmt.Sprintf("$%.2f", f)
	})
}

// varPattern finds {{ variable }} references, with or without filters.
var varPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_.]*?)(?:\s*\||\s*\}\})`)

// Personalize substitutes subscriber data into a content template.
// Recognized placeholders: firstName (fallback "Valued Customer"), lastName
// (fallback empty), email, currentYear, and every custom field by key.
// Placeholders with no matching data pass through unreplaced; a malformed
// template yields a TemplateRenderError.
func (r *Renderer) Personalize(content string, sub *domain.Subscriber) (string, error) {
	ctx := r.personalizationContext(sub)
	r.preserveUnknownVars(content, ctx)

	tpl, err := r.template(content)
	if err != nil {
		return "", &domain.TemplateRenderError{Cause: err}
	}
	out, err := tpl.RenderString(ctx)
	if err != nil {
		return "", &domain.TemplateRenderError{Cause: err}
	}
	return out, nil
}

// template returns the parsed template for content, caching across renders
// so a campaign's content is parsed once per process, not once per recipient.
func (r *Renderer) template(content string) (*liquid.Template, error) {
	if cached, ok := r.cache.Load(content); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, err := r.engine.ParseString(content)
	if err != nil {
		return nil, err
	}
	r.cache.Store(content, tpl)
	return tpl, nil
}

func (r *Renderer) personalizationContext(sub *domain.Subscriber) map[string]any {
	firstName := sub.FirstName
	if firstName == "" {
		firstName = FirstNameFallback
	}

	ctx := map[string]any{
		"firstName":   firstName,
		"lastName":    sub.LastName,
		"email":       sub.Email,
		"currentYear": strconv.Itoa(r.now().Year()),
	}
	for key, val := range sub.CustomFields {
		ctx[key] = val.String()
	}
	return ctx
}

// preserveUnknownVars maps every referenced variable that has no context
// entry back to its literal placeholder text, so unknown placeholders
// survive rendering instead of collapsing to empty strings.
func (r *Renderer) preserveUnknownVars(content string, ctx map[string]any) {
	for _, match := range varPattern.FindAllStringSubmatch(content, -1) {
		if len(match) < 2 {
			continue
		}
		name := strings.TrimSpace(match[1])
		if _, ok := ctx[name]; ok {
			continue
		}
		if strings.Contains(name, ".") {
			continue // nested paths are resolved by liquid itself
		}
		ctx[name] = "{{" + name + "}}"
	}
}

// Render produces the final email document for one subscriber: personalized
// content inside the fixed responsive shell, with the hidden preheader (if
// any) and the mandatory unsubscribe footer.
func (r *Renderer) Render(subject, contentHTML, preheader, campaignID, tenantID string, sub *domain.Subscriber) (string, error) {
	personalized, err := r.Personalize(contentHTML, sub)
	if err != nil {
		if tre, ok := err.(*domain.TemplateRenderError); ok {
			tre.CampaignID = campaignID
		}
		return "", err
	}

	personalizedSubject, err := r.Personalize(subject, sub)
	if err != nil {
		if tre, ok := err.(*domain.TemplateRenderError); ok {
			tre.CampaignID = campaignID
		}
		return "", err
	}

	unsubURL := r.tokens.Generate(sub.Email, tenantID, campaignID)
	return r.wrapDocument(personalizedSubject, personalized, preheader, unsubURL), nil
}

// RenderPreview renders campaign content against the synthetic preview
// subscriber. Same code path as Render, byte-identical structure.
func (r *Renderer) RenderPreview(subject, contentHTML, tenantID, campaignID string) (string, error) {
	preview := &domain.Subscriber{
		Email:     PreviewEmail,
		FirstName: PreviewFirstName,
		TenantID:  tenantID,
	}
	return r.Render(subject, contentHTML, "", campaignID, tenantID, preview)
}

func (r *Renderer) wrapDocument(subject, content, preheader, unsubURL string) string {
	var b strings.Builder

	b.WriteString("<!DOCTYPE html>\n")
	b.WriteString(`<html lang="en">` + "\n<head>\n")
	b.WriteString(`<meta charset="utf-8">` + "\n")
	b.WriteString(`<meta name="viewport" content="width=device-width, initial-scale=1.0">` + "\n")
	if preheader != "" {
		b.WriteString(`<meta name="description" content="` + html.EscapeString(preheader) + `">` + "\n")
	}
	b.WriteString("<title>" + html.EscapeString(subject) + "</title>\n")
	b.WriteString(`<style>
body{margin:0;padding:0;background:#f4f4f7;font-family:Helvetica,Arial,sans-serif;color:#333}
.container{max-width:600px;margin:0 auto;padding:24px;background:#ffffff}
.footer{padding:16px 24px;font-size:12px;color:#999;text-align:center}
.footer a{color:#999}
@media only screen and (max-width:620px){.container{width:100%!important;padding:16px}}
</style>
`)
	b.WriteString("</head>\n<body>\n")
	if preheader != "" {
		b.WriteString(`<div style="display:none;max-height:0;overflow:hidden">` + html.EscapeString(preheader) + "</div>\n")
	}
	b.WriteString(`<div class="container">` + "\n")
	b.WriteString(content)
	b.WriteString("\n</div>\n")
	b.WriteString(`<div class="footer">` + "\n")
	b.WriteString(`<p>You are receiving this email because you subscribed to our list.</p>` + "\n")
	b.WriteString(`<p><a href="` + unsubURL + `">Unsubscribe</a></p>` + "\n")
	b.WriteString("</div>\n</body>\n</html>")

	return b.String()
}
