package gmail

import (
	"fmt"
	"strings"
	"time"

	"github.com/mikey/reply-checker/internal/core"
)

// BuildQuery renders a search query in Gmail search syntax
func BuildQuery(q core.SearchQuery, after time.Time) string {
	var parts []string

	switch len(q.From) {
	case 0:
	case 1:
		parts = append(parts, "from:"+q.From[0])
	default:
		parts = append(parts, "from:("+strings.Join(q.From, " OR ")+")")
	}

	if subject := strings.TrimSpace(q.Subject); subject != "" {
		parts = append(parts, fmt.Sprintf("subject:%q", strings.ReplaceAll(subject, `"`, "")))
	}
	if q.InboxOnly {
		parts = append(parts, "in:inbox")
	}
	if !after.IsZero() {
		// after: is day-granular in the mailbox's zone, so start a day early
		parts = append(parts, "after:"+after.UTC().AddDate(0, 0, -1).Format("2006/01/02"))
	}
	return strings.Join(parts, " ")
}
