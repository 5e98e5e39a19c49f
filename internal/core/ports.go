package core

import (
	"context"
	"time"
)

// ProviderAdapter is a uniform view of one mailbox backend
type ProviderAdapter interface {
	// Provider returns the backend tag this adapter serves
	Provider() ProviderType

	// CheckHealth probes reachability without retries
	CheckHealth(ctx context.Context, userID string) ProviderHealth

	// GetUserEmail returns the account's own address, or "" when unknown
	GetUserEmail(ctx context.Context, userID string) (string, error)

	// FetchThread returns the conversation containing messageID, or nil when not found
	FetchThread(ctx context.Context, userID, messageID string) (*Thread, error)

	// SearchMessages returns one page of messages matching the query
	SearchMessages(ctx context.Context, userID string, query SearchQuery, opts SearchOptions) (*SearchPage, error)

	// IsTokenValid reports whether the user's credentials are usable
	IsTokenValid(ctx context.Context, userID string) bool
}

// SentMessageSource reads messages written by the send path
type SentMessageSource interface {
	GetSentMessage(ctx context.Context, id string) (*SentMessage, error)
	ListSentMessages(ctx context.Context, userID string, limit int) ([]*SentMessage, error)
}

// ResultRepository stores detection results
type ResultRepository interface {
	// GetResult returns the stored result for a sent message or ErrNotFound
	GetResult(ctx context.Context, sentEmailID string) (*DetectionResult, error)

	// SaveResult writes a result. It returns ErrReplyAlreadyRecorded when a
	// found=true result already exists for the sent message.
	SaveResult(ctx context.Context, result *DetectionResult) error
}

// DeadLetterRepository stores dead-letter entries
type DeadLetterRepository interface {
	// CreateDeadLetter inserts an entry. A pending_review entry is only inserted
	// when the sent message has no other pending entry, otherwise ErrPendingExists.
	CreateDeadLetter(ctx context.Context, entry *DeadLetterEntry) error
	GetDeadLetter(ctx context.Context, id string) (*DeadLetterEntry, error)

	// FindDeadLetter returns the newest entry for a sent message in the given status
	FindDeadLetter(ctx context.Context, sentEmailID string, status DeadLetterStatus) (*DeadLetterEntry, error)

	// UpdatePendingFailure refreshes the failure details of a pending entry
	UpdatePendingFailure(ctx context.Context, entry *DeadLetterEntry) error

	// TransitionDeadLetter moves a pending_review entry to a new status.
	// It returns ErrStatusConflict when the entry is no longer pending.
	TransitionDeadLetter(ctx context.Context, id string, update ReviewUpdate) error

	CountDeadLettersByStatus(ctx context.Context, userID string) (map[DeadLetterStatus]int, error)
	ListPendingDeadLetters(ctx context.Context, userID string, limit int) ([]*DeadLetterEntry, error)

	// PurgeReviewedDeadLetters deletes reviewed entries last updated before the
	// cutoff. Pending and skipped entries are never purged.
	PurgeReviewedDeadLetters(ctx context.Context, before time.Time) (int64, error)
}

// AliasRepository stores durable aliases learned by other subsystems
type AliasRepository interface {
	KnownAliases(ctx context.Context, contactID string) ([]Alias, error)
	AddKnownAlias(ctx context.Context, alias Alias) error
}

// Store bundles every repository a persistence backend provides
type Store interface {
	SentMessageSource
	ResultRepository
	DeadLetterRepository
	AliasRepository
	Close() error
}

// AutoReplyVerdict is an LLM opinion on whether a message was machine-generated
type AutoReplyVerdict struct {
	IsAutoReply bool
	Confidence  float64
	Explanation string
	ModelUsed   string
}

// AutoReplyJudge is an optional second opinion consulted after header heuristics
type AutoReplyJudge interface {
	JudgeAutoReply(ctx context.Context, msg *ProviderMessage) (*AutoReplyVerdict, error)
}
