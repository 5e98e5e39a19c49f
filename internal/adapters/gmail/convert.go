package gmail

import (
	"encoding/base64"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/mikey/reply-checker/internal/alias"
	"github.com/mikey/reply-checker/internal/core"
	gmail "google.golang.org/api/gmail/v1"
)

func convertMessage(msg *gmail.Message) *core.ProviderMessage {
	out := &core.ProviderMessage{
		ID:         msg.Id,
		ThreadID:   msg.ThreadId,
		Snippet:    msg.Snippet,
		LabelIDs:   msg.LabelIds,
		RawHeaders: make(map[string]string),
		IsRead:     true,
	}
	for _, label := range msg.LabelIds {
		if label == "UNREAD" {
			out.IsRead = false
		}
	}
	if msg.InternalDate > 0 {
		out.Date = time.UnixMilli(msg.InternalDate).UTC()
	}

	if msg.Payload == nil {
		return out
	}

	for _, h := range msg.Payload.Headers {
		out.RawHeaders[h.Name] = h.Value
	}
	out.Subject = headerValue(msg.Payload.Headers, "Subject")
	out.From = alias.Normalize(headerValue(msg.Payload.Headers, "From"))
	out.To = parseAddressList(headerValue(msg.Payload.Headers, "To"))
	if out.Date.IsZero() {
		if t, err := netmail.ParseDate(headerValue(msg.Payload.Headers, "Date")); err == nil {
			out.Date = t.UTC()
		}
	}

	var plain, html string
	extractBody(msg.Payload, &plain, &html, 0)
	out.BodyText = plain
	if out.BodyText == "" {
		out.BodyText = html
	}
	return out
}

func headerValue(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func parseAddressList(value string) []string {
	if value == "" {
		return nil
	}
	addrs, err := mail.ParseAddressList(value)
	if err != nil {
		// Fall back to comma splitting for headers the parser rejects
		var out []string
		for _, part := range strings.Split(value, ",") {
			if n := alias.Normalize(part); n != "" {
				out = append(out, n)
			}
		}
		return out
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, strings.ToLower(a.Address))
	}
	return out
}

const maxPartDepth = 10

// extractBody walks the MIME tree and keeps the first text/plain and text/html parts
func extractBody(part *gmail.MessagePart, plain, html *string, depth int) {
	if part == nil || depth > maxPartDepth {
		return
	}

	if part.Body != nil && part.Body.Data != "" && part.Filename == "" {
		switch {
		case strings.HasPrefix(part.MimeType, "text/plain") && *plain == "":
			*plain = decodeBody(part.Body.Data)
		case strings.HasPrefix(part.MimeType, "text/html") && *html == "":
			*html = decodeBody(part.Body.Data)
		}
	}

	for _, p := range part.Parts {
		extractBody(p, plain, html, depth+1)
	}
}

func decodeBody(data string) string {
	if decoded, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(decoded)
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(decoded)
	}
	return ""
}
