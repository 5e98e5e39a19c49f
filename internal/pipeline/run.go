package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/mikey/reply-checker/internal/alias"
	"github.com/mikey/reply-checker/internal/core"
	"github.com/mikey/reply-checker/internal/retry"
)

// Run is the per-check state shared by the layers of one pipeline execution
type Run struct {
	Sent         *core.SentMessage
	AccountEmail string
	Aliases      []string

	allowed     alias.Set
	adapter     core.ProviderAdapter
	p           *Pipeline
	stats       *retry.Stats
	scanned     int
	exhausted   bool
	autoReplies int
}

// BudgetLeft returns how many more messages may be scanned
func (r *Run) BudgetLeft() int {
	if r.p.opts.MaxMessagesScanned <= 0 {
		return int(^uint(0) >> 1)
	}
	left := r.p.opts.MaxMessagesScanned - r.scanned
	if left <= 0 {
		r.exhausted = true
		return 0
	}
	return left
}

// PageSize returns the page size to request, bounded by the remaining budget
func (r *Run) PageSize() int {
	size := r.p.opts.PageSize
	if left := r.BudgetLeft(); left < size {
		size = left
	}
	return size
}

// FetchThread loads the sent message's conversation through the retry executor
func (r *Run) FetchThread(ctx context.Context, meta *core.SearchMetadata) (*core.Thread, error) {
	meta.QueriesRun++
	thread, err := retry.Call(ctx, r.p.executor, "fetch_thread", r.stats,
		func(ctx context.Context) (*core.Thread, error) {
			return r.adapter.FetchThread(ctx, r.Sent.UserID, r.Sent.MessageID)
		})
	if err != nil {
		return nil, err
	}
	if thread != nil {
		meta.PagesChecked++
		r.count(meta, len(thread.Messages))
	}
	return thread, nil
}

// Search runs one search page through the retry executor
func (r *Run) Search(ctx context.Context, query core.SearchQuery, pageToken string, meta *core.SearchMetadata) (*core.SearchPage, error) {
	opts := core.SearchOptions{
		MaxResults: r.PageSize(),
		After:      r.Sent.SentAt,
		PageToken:  pageToken,
	}
	if pageToken == "" {
		meta.QueriesRun++
	}
	page, err := retry.Call(ctx, r.p.executor, "search_messages", r.stats,
		func(ctx context.Context) (*core.SearchPage, error) {
			return r.adapter.SearchMessages(ctx, r.Sent.UserID, query, opts)
		})
	if err != nil {
		return nil, err
	}
	if page == nil {
		page = &core.SearchPage{}
	}
	meta.PagesChecked++
	r.count(meta, len(page.Messages))
	return page, nil
}

func (r *Run) count(meta *core.SearchMetadata, n int) {
	meta.MessagesScanned += n
	r.scanned += n
}

// SelectReply returns the earliest message that qualifies as a human reply
// to the sent message, or nil
func (r *Run) SelectReply(ctx context.Context, msgs []*core.ProviderMessage, meta *core.SearchMetadata) *core.ProviderMessage {
	candidates := make([]*core.ProviderMessage, 0, len(msgs))
	for _, m := range msgs {
		if m != nil {
			candidates = append(candidates, m)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Date.Before(candidates[j].Date)
	})

	for _, m := range candidates {
		if !r.qualifies(m) {
			continue
		}
		if verdict := r.p.classifier.Classify(ctx, m); verdict.IsAutoReply {
			r.autoReplies++
			meta.Note(fmt.Sprintf("skipped automatic reply %s (%s)", m.ID, verdict.Reason))
			continue
		}
		return m
	}
	return nil
}

// EarlierReply returns the earliest reply in msgs when it predates best,
// otherwise best. Messages not older than best are never classified.
func (r *Run) EarlierReply(ctx context.Context, msgs []*core.ProviderMessage, best *core.ProviderMessage, meta *core.SearchMetadata) *core.ProviderMessage {
	if best != nil {
		older := make([]*core.ProviderMessage, 0, len(msgs))
		for _, m := range msgs {
			if m != nil && m.Date.Before(best.Date) {
				older = append(older, m)
			}
		}
		msgs = older
	}
	if reply := r.SelectReply(ctx, msgs, meta); reply != nil {
		return reply
	}
	return best
}

func (r *Run) qualifies(m *core.ProviderMessage) bool {
	if !m.Date.After(r.Sent.SentAt) {
		return false
	}
	if r.AccountEmail != "" && alias.Normalize(m.From) == alias.Normalize(r.AccountEmail) {
		return false
	}
	if !r.allowed.Contains(m.From) {
		return false
	}
	if r.p.ignore.IsIgnored(alias.Normalize(m.From)) {
		return false
	}
	if r.AccountEmail != "" && len(m.To) > 0 && !alias.NewSet(m.To...).Contains(r.AccountEmail) {
		return false
	}
	return true
}
