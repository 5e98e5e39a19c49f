package yahoo

import (
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/mikey/reply-checker/internal/core"
)

// BuildCriteria renders a search query as IMAP SEARCH criteria
func BuildCriteria(q core.SearchQuery, after time.Time) *imap.SearchCriteria {
	criteria := &imap.SearchCriteria{}
	if !after.IsZero() {
		// SINCE ignores the time of day and the server's zone may differ
		criteria.Since = after.UTC().AddDate(0, 0, -1)
	}
	if subject := strings.TrimSpace(q.Subject); subject != "" {
		criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{Key: "Subject", Value: subject})
	}

	if len(q.From) > 0 {
		senders := make([]imap.SearchCriteria, 0, len(q.From))
		for _, addr := range q.From {
			senders = append(senders, imap.SearchCriteria{
				Header: []imap.SearchCriteriaHeaderField{{Key: "From", Value: addr}},
			})
		}
		from := orChain(senders)
		criteria.Header = append(criteria.Header, from.Header...)
		criteria.Or = append(criteria.Or, from.Or...)
	}
	return criteria
}

// ThreadCriteria matches the sent message and every message referencing it
func ThreadCriteria(messageID string) *imap.SearchCriteria {
	return &imap.SearchCriteria{
		Or: [][2]imap.SearchCriteria{{
			{Header: []imap.SearchCriteriaHeaderField{{Key: "Message-Id", Value: messageID}}},
			{Or: [][2]imap.SearchCriteria{{
				{Header: []imap.SearchCriteriaHeaderField{{Key: "In-Reply-To", Value: messageID}}},
				{Header: []imap.SearchCriteriaHeaderField{{Key: "References", Value: messageID}}},
			}}},
		}},
	}
}

// orChain folds criteria into nested binary ORs
func orChain(list []imap.SearchCriteria) *imap.SearchCriteria {
	if len(list) == 1 {
		c := list[0]
		return &c
	}
	return &imap.SearchCriteria{
		Or: [][2]imap.SearchCriteria{{list[0], *orChain(list[1:])}},
	}
}
