package yahoo

import (
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/mikey/reply-checker/internal/alias"
	"github.com/mikey/reply-checker/internal/core"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

func convertMessage(uid imap.UID, env *imap.Envelope, flags []imap.Flag, raw []byte, logger *zap.Logger) *core.ProviderMessage {
	out := &core.ProviderMessage{
		ID:         strconv.FormatUint(uint64(uid), 10),
		RawHeaders: make(map[string]string),
	}
	for _, f := range flags {
		if f == imap.FlagSeen {
			out.IsRead = true
		}
		out.LabelIDs = append(out.LabelIDs, string(f))
	}

	if env != nil {
		if env.MessageID != "" {
			out.ID = env.MessageID
			out.ThreadID = env.MessageID
		}
		if len(env.InReplyTo) > 0 {
			out.ThreadID = env.InReplyTo[0]
		}
		out.Subject = env.Subject
		out.Date = env.Date.UTC()
		if len(env.From) > 0 {
			out.From = strings.ToLower(env.From[0].Addr())
		}
		for _, to := range env.To {
			out.To = append(out.To, strings.ToLower(to.Addr()))
		}
	}

	if raw == nil {
		return out
	}
	parsed, err := parseMIME(raw)
	if err != nil {
		logger.Debug("Failed to parse message body", zap.String("message_id", out.ID), zap.Error(err))
	}
	for k, v := range parsed.headers {
		out.RawHeaders[k] = v
	}
	out.BodyText = parsed.text
	if out.BodyText == "" {
		out.BodyText = parsed.html
	}

	// Envelope data wins, headers fill the gaps
	if out.From == "" {
		out.From = alias.Normalize(parsed.headers["From"])
	}
	if out.Subject == "" {
		out.Subject = parsed.subject
	}
	if out.Date.IsZero() && !parsed.date.IsZero() {
		out.Date = parsed.date.UTC()
	}
	return out
}

type parsedMIME struct {
	headers map[string]string
	subject string
	date    time.Time
	text    string
	html    string
}

// parseMIME walks a raw RFC 5322 message, returning decoded headers and the
// first text/plain and text/html parts of any nesting depth
func parseMIME(raw []byte) (parsedMIME, error) {
	out := parsedMIME{headers: make(map[string]string)}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// Treat unparseable input as a plain text body
		out.text = string(raw)
		return out, err
	}
	defer mr.Close()

	fields := mr.Header.Fields()
	for fields.Next() {
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		if _, seen := out.headers[fields.Key()]; !seen {
			out.headers[fields.Key()] = value
		}
	}
	out.subject, _ = mr.Header.Subject()
	if d, err := mr.Header.Date(); err == nil {
		out.date = d
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, err
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		if contentType == "" {
			contentType = "text/plain"
		}
		body, err := io.ReadAll(io.LimitReader(part.Body, maxBodyBytes))
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(contentType, "text/plain") && out.text == "":
			out.text = string(body)
		case strings.HasPrefix(contentType, "text/html") && out.html == "":
			out.html = string(body)
		}
	}
	return out, nil
}
