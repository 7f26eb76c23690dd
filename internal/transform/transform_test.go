package transform

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func htmlMessage(body string) []byte {
	msg := "From: alice@example.com\r\n" +
		"To: bob@example.com\r\n" +
		"Subject: Hello\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" + body
	return []byte(msg)
}

func textMessage(body string) []byte {
	msg := "From: alice@example.com\r\n" +
		"To: bob@example.com\r\n" +
		"Subject: Hello\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" + body
	return []byte(msg)
}

func TestTransformSignatureStrip(t *testing.T) {
	tr := New(0, 0, nil, nil)
	raw := htmlMessage("<p>Hi</p><div class='signature'>-- Alice</div>")

	out := tr.Transform(raw)

	assert.Equal(t, "Hi", strings.TrimSpace(out.Body))
}

func TestTransformQuoteCollapse(t *testing.T) {
	tr := New(0, 0, nil, nil)
	body := "Top\n> L1\n>> L2\n>>> L3a\n>>> L3b\n>>>> L4"
	raw := textMessage(body)

	out := tr.Transform(raw)

	assert.Equal(t, "Top\n> L1\n>> L2\n[Quoted text collapsed]", out.Body)
}

func TestTransformTrackingPixelStripped(t *testing.T) {
	tr := New(0, 0, nil, nil)
	raw := htmlMessage("<p>Visible text</p><img src='x' width='1' height='1'>")

	out := tr.Transform(raw)

	assert.Contains(t, out.Body, "Visible text")
	assert.NotContains(t, out.Body, "[image")
}

func TestTransformBodyAndAttachmentBounds(t *testing.T) {
	tr := New(50, 20, nil, nil)
	body := strings.Repeat("a", 500)
	raw := textMessage(body)

	out := tr.Transform(raw)

	assert.LessOrEqual(t, len([]rune(out.Body)), 50)
	for _, att := range out.Attachments {
		if att.ExtractedText != nil {
			assert.LessOrEqual(t, len([]rune(*att.ExtractedText)), 20)
		}
	}
}

func TestTransformIdempotentOnCleanText(t *testing.T) {
	clean := "Just a plain clean message with no quotes or markup."
	once := collapseQuotes(clean)
	twice := collapseQuotes(once)
	assert.Equal(t, once, twice)

	limited := truncateScalars(clean, 5000)
	limitedAgain := truncateScalars(limited, 5000)
	assert.Equal(t, limited, limitedAgain)
}

func TestThreadIDStableAcrossSharedReferencesHead(t *testing.T) {
	tr := New(0, 0, nil, nil)

	base := "From: a@x.com\r\nTo: b@x.com\r\nSubject: %s\r\nReferences: <root@x.com> <mid2@x.com>\r\nContent-Type: text/plain\r\n\r\nbody"
	msg1 := []byte(fmt.Sprintf(base, "Hello"))
	msg2 := []byte(fmt.Sprintf(base, "Re: Hello"))

	out1 := tr.Transform(msg1)
	out2 := tr.Transform(msg2)

	assert.Equal(t, out1.ThreadID, out2.ThreadID)
	assert.Len(t, out1.ThreadID, 12)
}

func TestThreadIDFallsBackToSubjectAndParticipants(t *testing.T) {
	tr := New(0, 0, nil, nil)
	raw := textMessage("no headers reference anything")

	out := tr.Transform(raw)
	require.NotEmpty(t, out.ThreadID)
	assert.Len(t, out.ThreadID, 12)
}

type stubExtractor struct {
	text string
	err  error
}

func (s stubExtractor) Extract([]byte, string) (string, error) {
	return s.text, s.err
}

func TestTransformMalformedMIMEDegrades(t *testing.T) {
	tr := New(0, 0, nil, nil)
	out := tr.Transform([]byte{0x00, 0x01, 0x02})
	assert.Empty(t, out.Body)
}

func TestTransformPDFAttachmentUsesExtractor(t *testing.T) {
	tr := New(0, 10, nil, stubExtractor{text: "extracted pdf words that are long"})

	raw := []byte("From: a@x.com\r\n" +
		"To: b@x.com\r\n" +
		"Subject: with attachment\r\n" +
		"Content-Type: multipart/mixed; boundary=BOUNDARY\r\n" +
		"\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: text/plain\r\n\r\n" +
		"body text\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: application/pdf\r\n" +
		"Content-Disposition: attachment; filename=\"doc.pdf\"\r\n\r\n" +
		"%PDF-1.4 fake bytes\r\n" +
		"--BOUNDARY--\r\n")

	out := tr.Transform(raw)
	require.Len(t, out.Attachments, 1)
	require.NotNil(t, out.Attachments[0].ExtractedText)
	assert.LessOrEqual(t, len([]rune(*out.Attachments[0].ExtractedText)), 10)
}

func TestTransformPDFAttachmentExtractorFailureLeavesNilText(t *testing.T) {
	tr := New(0, 0, nil, stubExtractor{err: fmt.Errorf("boom")})

	raw := []byte("From: a@x.com\r\n" +
		"To: b@x.com\r\n" +
		"Subject: with attachment\r\n" +
		"Content-Type: multipart/mixed; boundary=BOUNDARY\r\n" +
		"\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: text/plain\r\n\r\n" +
		"body text\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: application/pdf\r\n" +
		"Content-Disposition: attachment; filename=\"doc.pdf\"\r\n\r\n" +
		"%PDF-1.4 fake bytes\r\n" +
		"--BOUNDARY--\r\n")

	out := tr.Transform(raw)
	require.Len(t, out.Attachments, 1)
	assert.Nil(t, out.Attachments[0].ExtractedText)
}
