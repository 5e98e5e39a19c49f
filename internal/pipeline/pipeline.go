package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/mikey/reply-checker/internal/alias"
	"github.com/mikey/reply-checker/internal/autoreply"
	"github.com/mikey/reply-checker/internal/core"
	"github.com/mikey/reply-checker/internal/ignorelist"
	"github.com/mikey/reply-checker/internal/retry"
	"github.com/mikey/reply-checker/internal/utils"
	"go.uber.org/zap"
)

// Status is the three-way result of a pipeline run
type Status string

const (
	StatusFound         Status = "found"
	StatusNotFound      Status = "not_found"
	StatusIndeterminate Status = "indeterminate"
)

// Options bounds the work a single run may do
type Options struct {
	AliasBatchSize     int
	PagesPerBatch      int
	PageSize           int
	MaxMessagesScanned int
	MaxReplyContent    int
}

// DefaultOptions returns the standard search bounds
func DefaultOptions() Options {
	return Options{
		AliasBatchSize:     alias.DefaultBatchSize,
		PagesPerBatch:      3,
		PageSize:           25,
		MaxMessagesScanned: 500,
		MaxReplyContent:    4096,
	}
}

// Outcome is the result of running every layer for one sent message
type Outcome struct {
	Status        Status
	Reply         *core.ProviderMessage
	ReplyContent  string
	MatchedLayer  string
	Metadata      core.SearchMetadata
	Layers        []core.LayerReport
	Err           error
	ErrKind       core.ErrorKind
	RateLimitHits int
}

// Pipeline runs detection layers in order and stops at the first match
type Pipeline struct {
	layers     []Layer
	executor   *retry.Executor
	resolver   *alias.Resolver
	classifier *autoreply.Classifier
	ignore     *ignorelist.Checker
	text       *utils.TextProcessor
	opts       Options
	logger     *zap.Logger
}

// New creates a pipeline with the standard layer order:
// thread correlation, then subject/sender search, then alias intelligence
func New(
	executor *retry.Executor,
	resolver *alias.Resolver,
	classifier *autoreply.Classifier,
	ignore *ignorelist.Checker,
	text *utils.TextProcessor,
	opts Options,
	logger *zap.Logger,
) *Pipeline {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultOptions().PageSize
	}
	if opts.PagesPerBatch <= 0 {
		opts.PagesPerBatch = DefaultOptions().PagesPerBatch
	}
	if opts.AliasBatchSize <= 0 {
		opts.AliasBatchSize = alias.DefaultBatchSize
	}

	return &Pipeline{
		layers: []Layer{
			ThreadLayer{},
			SubjectSenderLayer{MaxPages: opts.PagesPerBatch},
			AliasLayer{BatchSize: opts.AliasBatchSize, PagesPerBatch: opts.PagesPerBatch},
		},
		executor:   executor,
		resolver:   resolver,
		classifier: classifier,
		ignore:     ignore,
		text:       text,
		opts:       opts,
		logger:     logger,
	}
}

// Layers returns the layers in execution order
func (p *Pipeline) Layers() []Layer {
	return p.layers
}

// Detect runs the layers against adapter for the sent message
func (p *Pipeline) Detect(ctx context.Context, adapter core.ProviderAdapter, sent *core.SentMessage) *Outcome {
	run := &Run{
		Sent:    sent,
		adapter: adapter,
		p:       p,
		stats:   &retry.Stats{},
	}
	out := &Outcome{}
	defer func() { out.RateLimitHits = run.stats.RateLimitHits() }()

	logger := p.logger.With(
		zap.String("sent_email_id", sent.ID),
		zap.String("provider", string(adapter.Provider())))

	if !adapter.IsTokenValid(ctx, sent.UserID) {
		err := core.NewProviderError(adapter.Provider(), "token", core.KindAuth, errors.New("access token is not valid"))
		return p.abort(out, err, logger)
	}

	email, err := retry.Call(ctx, p.executor, "get_user_email", run.stats,
		func(ctx context.Context) (string, error) {
			return adapter.GetUserEmail(ctx, sent.UserID)
		})
	switch {
	case err == nil:
		run.AccountEmail = email
	case core.IsAuthError(err) || ctx.Err() != nil:
		return p.abort(out, err, logger)
	default:
		out.Metadata.Note(fmt.Sprintf("account address unavailable: %v", err))
	}

	aliases, err := p.resolver.ResolveAliases(ctx, sent.ContactID, sent.RecipientEmail)
	if err != nil {
		out.Metadata.Note(err.Error())
	}
	run.Aliases = aliases
	run.allowed = alias.NewSet(append([]string{sent.RecipientEmail}, aliases...)...)

	attempted, failed := 0, 0
	var lastErr error

	for _, layer := range p.layers {
		if ctx.Err() != nil {
			return p.abort(out, ctx.Err(), logger)
		}
		if run.BudgetLeft() == 0 {
			break
		}

		var meta core.SearchMetadata
		reply, err := layer.Detect(ctx, run, &meta)
		report := core.LayerReport{Layer: layer.Name(), Metadata: meta}
		attempted++

		if err != nil {
			report.Error = err.Error()
			report.ErrKind = core.KindOf(err)
			out.Layers = append(out.Layers, report)
			out.Metadata.Add(meta)
			out.Metadata.Note(fmt.Sprintf("%s failed: %v", layer.Name(), err))

			if core.IsAuthError(err) || ctx.Err() != nil {
				return p.abort(out, err, logger)
			}

			logger.Warn("Detection layer failed",
				zap.String("layer", layer.Name()),
				zap.String("kind", string(report.ErrKind)),
				zap.Error(err))
			failed++
			lastErr = err
			continue
		}

		out.Layers = append(out.Layers, report)
		out.Metadata.Add(meta)

		if reply != nil {
			out.Status = StatusFound
			out.Reply = reply
			out.MatchedLayer = layer.Name()
			out.ReplyContent = p.text.ReplyContent(reply.BodyText, reply.Snippet, p.opts.MaxReplyContent)
			logger.Info("Reply detected",
				zap.String("layer", layer.Name()),
				zap.String("reply_message_id", reply.ID))
			return out
		}
	}

	if run.exhausted {
		out.Metadata.Note("scan budget exhausted")
	}

	if attempted > 0 && failed == attempted {
		out.Status = StatusIndeterminate
		out.Err = lastErr
		out.ErrKind = core.KindOf(lastErr)
		logger.Warn("Every detection layer failed", zap.Error(lastErr))
		return out
	}

	if run.autoReplies > 0 {
		out.Metadata.Note(fmt.Sprintf("only automatic replies found (%d)", run.autoReplies))
	}
	out.Status = StatusNotFound
	return out
}

func (p *Pipeline) abort(out *Outcome, err error, logger *zap.Logger) *Outcome {
	out.Status = StatusIndeterminate
	out.Err = err
	out.ErrKind = core.KindOf(err)
	logger.Warn("Detection aborted",
		zap.String("kind", string(out.ErrKind)),
		zap.Error(err))
	return out
}
