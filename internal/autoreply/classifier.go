package autoreply

import (
	"context"
	"strings"

	"github.com/mikey/reply-checker/internal/core"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
)

// Verdict is the classification of a single inbound message
type Verdict struct {
	IsAutoReply bool
	Reason      string
}

// bulkPrecedence are Precedence header values marking machine mail
var bulkPrecedence = []string{"bulk", "list", "auto_reply", "junk"}

// autoReplySubjects are subject phrases used by vacation responders
var autoReplySubjects = []string{
	"out of office",
	"automatic reply",
	"auto-reply",
	"away from office",
}

// Classifier flags auto-generated messages from headers and subject,
// optionally consulting an LLM judge for messages that pass the heuristics
type Classifier struct {
	judge     core.AutoReplyJudge
	threshold float64
	logger    *zap.Logger
}

// NewClassifier creates a new classifier. judge may be nil.
func NewClassifier(judge core.AutoReplyJudge, threshold float64, logger *zap.Logger) *Classifier {
	return &Classifier{
		judge:     judge,
		threshold: threshold,
		logger:    logger,
	}
}

// Classify decides whether msg is an automatic reply or bulk mail
func (c *Classifier) Classify(ctx context.Context, msg *core.ProviderMessage) Verdict {
	if v := c.classifyHeaders(msg); v.IsAutoReply {
		return v
	}

	// Casers carry state and are not shared between goroutines
	subject := cases.Fold().String(msg.Subject)
	for _, phrase := range autoReplySubjects {
		if strings.Contains(subject, phrase) {
			return Verdict{IsAutoReply: true, Reason: "subject contains " + phrase}
		}
	}

	if c.judge == nil {
		return Verdict{}
	}

	verdict, err := c.judge.JudgeAutoReply(ctx, msg)
	if err != nil {
		c.logger.Warn("Auto-reply judge failed, keeping heuristic verdict",
			zap.String("message_id", msg.ID),
			zap.Error(err))
		return Verdict{}
	}

	if verdict.IsAutoReply && verdict.Confidence >= c.threshold {
		c.logger.Debug("Auto-reply judge flagged message",
			zap.String("message_id", msg.ID),
			zap.Float64("confidence", verdict.Confidence),
			zap.String("model", verdict.ModelUsed))
		return Verdict{IsAutoReply: true, Reason: "judged automatic by " + verdict.ModelUsed}
	}

	return Verdict{}
}

func (c *Classifier) classifyHeaders(msg *core.ProviderMessage) Verdict {
	if _, ok := msg.Header("X-Autoreply"); ok {
		return Verdict{IsAutoReply: true, Reason: "X-Autoreply header"}
	}

	if v, ok := msg.Header("Auto-Submitted"); ok {
		if !strings.EqualFold(strings.TrimSpace(v), "no") {
			return Verdict{IsAutoReply: true, Reason: "Auto-Submitted: " + v}
		}
	}

	if _, ok := msg.Header("X-Autorespond"); ok {
		return Verdict{IsAutoReply: true, Reason: "X-Autorespond header"}
	}

	if v, ok := msg.Header("Precedence"); ok {
		precedence := strings.ToLower(strings.TrimSpace(v))
		for _, bulk := range bulkPrecedence {
			if precedence == bulk {
				return Verdict{IsAutoReply: true, Reason: "Precedence: " + precedence}
			}
		}
	}

	if _, ok := msg.Header("X-Auto-Response-Suppress"); ok {
		return Verdict{IsAutoReply: true, Reason: "X-Auto-Response-Suppress header"}
	}

	return Verdict{}
}
