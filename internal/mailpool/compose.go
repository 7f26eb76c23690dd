package mailpool

import (
	"bytes"
	"fmt"

	"github.com/emersion/go-message/mail"

	"github.com/sujalsin/enterprisebridge/internal/models"
)

// composeEnvelope builds the raw MIME bytes for an outgoing message (§4.4:
// "the pool composes the MIME envelope; the handler need not"). Headers in
// msg.Headers are applied after the standard ones, so a caller-supplied
// Message-Id or Reply-To can override the generated default.
func composeEnvelope(from string, msg models.OutgoingMessage, messageID string) ([]byte, error) {
	var h mail.Header
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", toAddressList(msg.To))
	if len(msg.CC) > 0 {
		h.SetAddressList("Cc", toAddressList(msg.CC))
	}
	h.SetSubject(msg.Subject)
	h.SetMessageID(messageID)

	for k, v := range msg.Headers {
		h.Set(k, v)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("mailpool: create mime writer: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("mailpool: create inline writer: %w", err)
	}

	var partHeader mail.InlineHeader
	partHeader.Set("Content-Type", "text/plain; charset=utf-8")
	pw, err := tw.CreatePart(partHeader)
	if err != nil {
		return nil, fmt.Errorf("mailpool: create body part: %w", err)
	}
	if _, err := pw.Write([]byte(msg.Body)); err != nil {
		_ = pw.Close()
		return nil, fmt.Errorf("mailpool: write body: %w", err)
	}
	if err := pw.Close(); err != nil {
		return nil, fmt.Errorf("mailpool: close body part: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("mailpool: close inline writer: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("mailpool: close mime writer: %w", err)
	}

	return buf.Bytes(), nil
}

func toAddressList(addrs []string) []*mail.Address {
	out := make([]*mail.Address, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, &mail.Address{Address: a})
	}
	return out
}
