package transform

import (
	"strings"

	"github.com/jhillyerd/enmime"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sujalsin/enterprisebridge/internal/models"
)

// extractAttachments implements §4.6 step 4 over every non-inline part.
func (t *Transformer) extractAttachments(env *enmime.Envelope) []models.Attachment {
	if len(env.Attachments) == 0 {
		return nil
	}
	out := make([]models.Attachment, 0, len(env.Attachments))
	for _, part := range env.Attachments {
		out = append(out, t.extractAttachment(part))
	}
	return out
}

func (t *Transformer) extractAttachment(part *enmime.Part) models.Attachment {
	att := models.Attachment{
		Filename:    part.FileName,
		ContentType: part.ContentType,
		Size:        len(part.Content),
	}

	switch {
	case part.ContentType == "application/pdf":
		if text, err := t.extractor.Extract(part.Content, part.ContentType); err == nil {
			truncated := truncateScalars(text, t.attachmentCharLimit)
			att.ExtractedText = &truncated
		}
		// extractor unavailable or failed: extracted_text stays nil, no
		// error surfaced — this is expected degradation, not a fault.
	case strings.HasPrefix(part.ContentType, "text/"):
		text := decodeWithCharsetFallback(part.Content, part.Charset)
		truncated := truncateScalars(text, t.attachmentCharLimit)
		att.ExtractedText = &truncated
	}

	return att
}

// decodeWithCharsetFallback decodes content per its declared charset,
// falling back to a lossy UTF-8 replace when the charset is absent or
// unrecognized (§4.6 step 4).
func decodeWithCharsetFallback(content []byte, charset string) string {
	if charset != "" {
		if enc, err := htmlindex.Get(charset); err == nil {
			if decoded, decErr := enc.NewDecoder().Bytes(content); decErr == nil {
				return string(decoded)
			}
		}
	}
	return strings.ToValidUTF8(string(content), "�")
}
