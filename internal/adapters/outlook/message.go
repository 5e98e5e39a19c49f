package outlook

import (
	"strings"
	"time"

	"github.com/mikey/reply-checker/internal/core"
)

type emailAddress struct {
	EmailAddress struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	} `json:"emailAddress"`
}

type graphMessage struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	Subject        string `json:"subject"`
	BodyPreview    string `json:"bodyPreview"`
	Body           struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	From             emailAddress   `json:"from"`
	ToRecipients     []emailAddress `json:"toRecipients"`
	ReceivedDateTime time.Time      `json:"receivedDateTime"`
	IsRead           bool           `json:"isRead"`
	Categories       []string       `json:"categories"`
	Headers          []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"internetMessageHeaders"`
}

type messageList struct {
	Value    []graphMessage `json:"value"`
	NextLink string         `json:"@odata.nextLink"`
}

func (m *graphMessage) toProviderMessage() *core.ProviderMessage {
	out := &core.ProviderMessage{
		ID:         m.ID,
		ThreadID:   m.ConversationID,
		Subject:    m.Subject,
		Snippet:    m.BodyPreview,
		From:       strings.ToLower(m.From.EmailAddress.Address),
		Date:       m.ReceivedDateTime.UTC(),
		LabelIDs:   m.Categories,
		RawHeaders: make(map[string]string, len(m.Headers)),
		IsRead:     m.IsRead,
	}
	for _, r := range m.ToRecipients {
		out.To = append(out.To, strings.ToLower(r.EmailAddress.Address))
	}
	for _, h := range m.Headers {
		out.RawHeaders[h.Name] = h.Value
	}
	if strings.EqualFold(m.Body.ContentType, "text") {
		out.BodyText = m.Body.Content
	}
	return out
}
