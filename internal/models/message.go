package models

// Attachment is a single non-inline MIME part extracted from a message.
// ExtractedText is nil when extraction was unsupported, unavailable, or
// failed; the attachment itself is still kept (§4.6 step 4).
type Attachment struct {
	Filename      string `json:"filename"`
	ContentType   string `json:"content_type"`
	Size          int    `json:"size"`
	ExtractedText *string `json:"extracted_text,omitempty"`
}

// TransformedMessage is the RAG-ready representation C6 produces from raw
// RFC 5322/MIME bytes (§3). Body is bounded to the configured character
// limit (default 5000 Unicode scalar values); Errors is non-nil only when
// the pipeline had to degrade (malformed MIME, failed extraction, ...) and
// is never treated as a hard failure by the caller.
type TransformedMessage struct {
	Subject     string       `json:"subject"`
	From        string       `json:"from"`
	To          []string     `json:"to"`
	Date        string       `json:"date"`
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments"`
	ThreadID    string       `json:"thread_id"`
	Errors      []string     `json:"errors,omitempty"`
}

// OutgoingMessage is the envelope the handler layer passes to the SMTP pool
// for send_message (§6).
type OutgoingMessage struct {
	To      []string
	CC      []string
	BCC     []string
	Subject string
	Body    string
	Headers map[string]string
}
