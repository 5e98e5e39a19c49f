package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/mikey/reply-checker/internal/alias"
	"github.com/mikey/reply-checker/internal/core"
)

// Layer names recorded as DetectionResult.MatchedLayer
const (
	LayerThread        = "thread_correlation"
	LayerSubjectSender = "subject_sender"
	LayerAlias         = "alias_intelligence"
)

// Layer is one detection strategy. Detect returns the matching reply or nil,
// recording its search effort in meta.
type Layer interface {
	Name() string
	Detect(ctx context.Context, run *Run, meta *core.SearchMetadata) (*core.ProviderMessage, error)
}

// ThreadLayer looks for replies inside the sent message's own conversation
type ThreadLayer struct{}

// Name implements Layer
func (ThreadLayer) Name() string { return LayerThread }

// Detect implements Layer
func (ThreadLayer) Detect(ctx context.Context, run *Run, meta *core.SearchMetadata) (*core.ProviderMessage, error) {
	if run.Sent.MessageID == "" {
		meta.Note("sent message has no provider message id")
		return nil, nil
	}
	if run.BudgetLeft() == 0 {
		return nil, nil
	}

	thread, err := run.FetchThread(ctx, meta)
	if err != nil {
		return nil, err
	}
	if thread == nil {
		meta.Note("thread not found")
		return nil, nil
	}

	return run.SelectReply(ctx, thread.Messages, meta), nil
}

// SubjectSenderLayer searches the inbox for mail from the recipient,
// first with the original subject and then without it. Every query is read
// up to MaxPages pages so the earliest reply wins.
type SubjectSenderLayer struct {
	MaxPages int
}

// Name implements Layer
func (SubjectSenderLayer) Name() string { return LayerSubjectSender }

// Detect implements Layer
func (l SubjectSenderLayer) Detect(ctx context.Context, run *Run, meta *core.SearchMetadata) (*core.ProviderMessage, error) {
	recipient := alias.Normalize(run.Sent.RecipientEmail)
	if recipient == "" {
		meta.Note("sent message has no recipient")
		return nil, nil
	}

	var queries []core.SearchQuery
	if subject := BaseSubject(run.Sent.Subject); subject != "" {
		queries = append(queries, core.SearchQuery{From: []string{recipient}, Subject: subject, InboxOnly: true})
	}
	queries = append(queries, core.SearchQuery{From: []string{recipient}, InboxOnly: true})

	var best *core.ProviderMessage
	for _, q := range queries {
		var err error
		best, err = searchEarliest(ctx, run, q, l.MaxPages, best, meta)
		if err != nil {
			return keepFound(best, err, meta)
		}
	}
	return best, nil
}

// AliasLayer searches for mail from alias addresses in fixed-size batches,
// reading a bounded number of pages per batch. The earliest reply across all
// batches wins.
type AliasLayer struct {
	BatchSize     int
	PagesPerBatch int
}

// Name implements Layer
func (AliasLayer) Name() string { return LayerAlias }

// Detect implements Layer
func (l AliasLayer) Detect(ctx context.Context, run *Run, meta *core.SearchMetadata) (*core.ProviderMessage, error) {
	if len(run.Aliases) == 0 {
		meta.Note("no aliases to search")
		return nil, nil
	}

	var best *core.ProviderMessage
	for i, batch := range alias.Batch(run.Aliases, l.BatchSize) {
		var err error
		best, err = searchEarliest(ctx, run, core.SearchQuery{From: batch, InboxOnly: true}, l.PagesPerBatch, best, meta)
		if err != nil {
			return keepFound(best, fmt.Errorf("alias batch %d: %w", i+1, err), meta)
		}
	}
	return best, nil
}

// searchEarliest pages through one query and returns the earliest reply seen
// so far, starting from best. It stops early when the scan budget runs out.
func searchEarliest(ctx context.Context, run *Run, q core.SearchQuery, maxPages int, best *core.ProviderMessage, meta *core.SearchMetadata) (*core.ProviderMessage, error) {
	if maxPages <= 0 {
		maxPages = 1
	}
	token := ""
	for page := 0; page < maxPages; page++ {
		if run.BudgetLeft() == 0 {
			return best, nil
		}
		result, err := run.Search(ctx, q, token, meta)
		if err != nil {
			return best, err
		}
		best = run.EarlierReply(ctx, result.Messages, best, meta)
		if result.NextPageToken == "" {
			break
		}
		token = result.NextPageToken
	}
	return best, nil
}

// keepFound reports a reply already found despite a later search failure
func keepFound(best *core.ProviderMessage, err error, meta *core.SearchMetadata) (*core.ProviderMessage, error) {
	if best == nil {
		return nil, err
	}
	meta.Note(fmt.Sprintf("search stopped after a reply was found: %v", err))
	return best, nil
}

var replyPrefix = regexp.MustCompile(`(?i)^\s*(re|fwd?|aw|sv|antw)\s*(\[\d+\])?\s*:\s*`)

// BaseSubject strips reply and forward prefixes from a subject
func BaseSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		stripped := replyPrefix.ReplaceAllString(s, "")
		if stripped == s {
			return s
		}
		s = strings.TrimSpace(stripped)
	}
}
