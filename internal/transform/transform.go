// Package transform implements C6: turning raw MIME bytes into a bounded,
// RAG-ready Transformed Message (§4.6). The pipeline never propagates an
// error to its caller; malformed input degrades into a best-effort record
// with an errors list (coreerrors.TransformDegraded, §7).
package transform

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jaytaylor/html2text"
	"github.com/jhillyerd/enmime"

	"github.com/sujalsin/enterprisebridge/internal/coreerrors"
	"github.com/sujalsin/enterprisebridge/internal/models"
)

const (
	defaultBodyCharLimit       = 5000
	defaultAttachmentCharLimit = 2000
	quoteCollapseDepth         = 3
)

// Extractor pulls text out of a non-inline attachment (§4.6 step 4). It
// returns a non-nil error for content it cannot handle; the attachment is
// then kept with a nil ExtractedText rather than failing the transform.
type Extractor interface {
	Extract(content []byte, contentType string) (string, error)
}

// NopExtractor never extracts anything; every attachment is left
// unsupported. This is the default when no capability is injected.
type NopExtractor struct{}

func (NopExtractor) Extract([]byte, string) (string, error) {
	return "", fmt.Errorf("transform: no attachment extractor configured")
}

// Transformer runs the C6 pipeline with a fixed configuration.
type Transformer struct {
	bodyCharLimit        int
	attachmentCharLimit  int
	trackingHostPatterns []string
	extractor            Extractor
}

// New builds a Transformer. Non-positive limits fall back to the default
// limits (§6). A nil extractor falls back to NopExtractor.
func New(bodyCharLimit, attachmentCharLimit int, trackingHostPatterns []string, extractor Extractor) *Transformer {
	if bodyCharLimit <= 0 {
		bodyCharLimit = defaultBodyCharLimit
	}
	if attachmentCharLimit <= 0 {
		attachmentCharLimit = defaultAttachmentCharLimit
	}
	if extractor == nil {
		extractor = NopExtractor{}
	}
	return &Transformer{
		bodyCharLimit:        bodyCharLimit,
		attachmentCharLimit:  attachmentCharLimit,
		trackingHostPatterns: trackingHostPatterns,
		extractor:            extractor,
	}
}

// Transform runs the full C6 pipeline over raw MIME bytes.
func (t *Transformer) Transform(raw []byte) models.TransformedMessage {
	var out models.TransformedMessage

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		out.Errors = append(out.Errors, fmt.Sprintf("%s: parse: %v", coreerrors.TransformDegraded, err))
		return out
	}

	out.Subject = env.GetHeader("Subject")
	out.From = env.GetHeader("From")
	out.To = splitAddressList(env.GetHeader("To"))
	out.Date = env.GetHeader("Date")

	body := t.extractBody(env, &out)
	body = collapseQuotes(body)
	out.Body = truncateScalars(body, t.bodyCharLimit)

	out.Attachments = t.extractAttachments(env)

	participants := append([]string{out.From}, out.To...)
	out.ThreadID = deriveThreadID(env, out.Subject, participants)

	return out
}

// extractBody implements §4.6 step 1-2: prefer text/plain, otherwise
// degrade HTML to text after running the cleanup pass.
func (t *Transformer) extractBody(env *enmime.Envelope, out *models.TransformedMessage) string {
	if strings.TrimSpace(env.Text) != "" {
		return env.Text
	}
	if strings.TrimSpace(env.HTML) == "" {
		return ""
	}

	cleaned, err := cleanHTML(env.HTML, t.trackingHostPatterns)
	if err != nil {
		out.Errors = append(out.Errors, fmt.Sprintf("%s: html cleanup: %v", coreerrors.TransformDegraded, err))
		cleaned = env.HTML
	}

	text, err := html2text.FromString(cleaned, html2text.Options{PrettyTables: false})
	if err != nil {
		out.Errors = append(out.Errors, fmt.Sprintf("%s: html degrade: %v", coreerrors.TransformDegraded, err))
		return cleaned
	}
	return text
}

func splitAddressList(header string) []string {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
