package core

import (
	"strings"
	"time"
)

// ProviderType tags a mailbox backend
type ProviderType string

const (
	ProviderGmail   ProviderType = "gmail"
	ProviderOutlook ProviderType = "outlook"
	ProviderYahoo   ProviderType = "yahoo"
)

// ParseProviderType converts a stored provider tag into a ProviderType
func ParseProviderType(s string) (ProviderType, bool) {
	switch ProviderType(s) {
	case ProviderGmail, ProviderOutlook, ProviderYahoo:
		return ProviderType(s), true
	default:
		return "", false
	}
}

// SentMessage is an outbound email whose reply status is being tracked.
// It is written by the send path and never modified here.
type SentMessage struct {
	ID             string       `db:"id" json:"id"`
	UserID         string       `db:"user_id" json:"user_id"`
	ContactID      string       `db:"contact_id" json:"contact_id"`
	Provider       ProviderType `db:"provider" json:"provider"`
	ThreadID       string       `db:"thread_id" json:"thread_id"`
	MessageID      string       `db:"message_id" json:"message_id"`
	RecipientEmail string       `db:"recipient_email" json:"recipient_email"`
	Subject        string       `db:"subject" json:"subject"`
	SentAt         time.Time    `db:"sent_at" json:"sent_at"`
}

// SearchMetadata records how much searching a check performed
type SearchMetadata struct {
	QueriesRun      int      `json:"queries_run"`
	PagesChecked    int      `json:"pages_checked"`
	MessagesScanned int      `json:"messages_scanned"`
	Notes           []string `json:"notes,omitempty"`
}

// Add folds another metadata record into this one
func (m *SearchMetadata) Add(other SearchMetadata) {
	m.QueriesRun += other.QueriesRun
	m.PagesChecked += other.PagesChecked
	m.MessagesScanned += other.MessagesScanned
	m.Notes = append(m.Notes, other.Notes...)
}

// Note appends a free-form note
func (m *SearchMetadata) Note(note string) {
	m.Notes = append(m.Notes, note)
}

// MatchedLayerManual marks results recorded by a human reviewer
const MatchedLayerManual = "manual"

// DetectionResult is the recorded outcome of a reply check
type DetectionResult struct {
	SentEmailID    string         `json:"sent_email_id"`
	Found          bool           `json:"found"`
	ReplyMessageID string         `json:"reply_message_id,omitempty"`
	ReplyContent   string         `json:"reply_content,omitempty"`
	ReceivedAt     *time.Time     `json:"received_at,omitempty"`
	Sender         string         `json:"sender,omitempty"`
	IsAutoReply    bool           `json:"is_auto_reply"`
	MatchedLayer   string         `json:"matched_layer,omitempty"`
	SearchMetadata SearchMetadata `json:"search_metadata"`
	CheckedAt      time.Time      `json:"checked_at"`
}

// AliasSource distinguishes durable aliases from synthesized ones
type AliasSource string

const (
	AliasSourceKnown     AliasSource = "known"
	AliasSourceGenerated AliasSource = "generated"
)

// Alias is an alternate address believed to belong to a contact
type Alias struct {
	ContactID  string      `db:"contact_id" json:"contact_id"`
	AliasEmail string      `db:"alias_email" json:"alias_email"`
	Source     AliasSource `db:"source" json:"source"`
	Confidence *float64    `db:"confidence" json:"confidence,omitempty"`
}

// DeadLetterStatus is the review state of a dead-letter entry
type DeadLetterStatus string

const (
	StatusPendingReview   DeadLetterStatus = "pending_review"
	StatusManuallyChecked DeadLetterStatus = "manually_checked"
	StatusRetryScheduled  DeadLetterStatus = "retry_scheduled"
	StatusSkipped         DeadLetterStatus = "skipped"
	StatusResolved        DeadLetterStatus = "resolved"
)

// AllStatuses lists every dead-letter status in display order
var AllStatuses = []DeadLetterStatus{
	StatusPendingReview,
	StatusManuallyChecked,
	StatusRetryScheduled,
	StatusSkipped,
	StatusResolved,
}

// LayerReport is the per-layer record attached to dead-letter entries
type LayerReport struct {
	Layer    string         `json:"layer"`
	Metadata SearchMetadata `json:"metadata"`
	Error    string         `json:"error,omitempty"`
	ErrKind  ErrorKind      `json:"error_kind,omitempty"`
}

// DeadLetterEntry is a sent message whose check could not be completed
type DeadLetterEntry struct {
	ID            string           `json:"id"`
	SentEmailID   string           `json:"sent_email_id"`
	UserID        string           `json:"user_id"`
	Provider      ProviderType     `json:"provider"`
	Status        DeadLetterStatus `json:"status"`
	LastError     string           `json:"last_error"`
	LayerMetadata []LayerReport    `json:"layer_metadata,omitempty"`
	AttemptCount  int              `json:"attempt_count"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	ReviewedBy    string           `json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time       `json:"reviewed_at,omitempty"`
	Notes         string           `json:"notes,omitempty"`
}

// ReviewUpdate carries the fields written when a reviewer transitions an entry
type ReviewUpdate struct {
	Status     DeadLetterStatus
	ReviewedBy string
	Notes      string
	ReviewedAt time.Time
}

// ProviderHealth is a point-in-time reachability probe
type ProviderHealth struct {
	Provider       ProviderType `json:"provider"`
	Healthy        bool         `json:"healthy"`
	LastCheckedAt  time.Time    `json:"last_checked_at"`
	ErrorMessage   string       `json:"error_message,omitempty"`
	ResponseTimeMs int64        `json:"response_time_ms"`
}

// ProviderMessage is a normalized inbound message
type ProviderMessage struct {
	ID         string            `json:"id"`
	ThreadID   string            `json:"thread_id"`
	Subject    string            `json:"subject"`
	Snippet    string            `json:"snippet"`
	From       string            `json:"from"`
	To         []string          `json:"to"`
	Date       time.Time         `json:"date"`
	LabelIDs   []string          `json:"label_ids,omitempty"`
	RawHeaders map[string]string `json:"raw_headers,omitempty"`
	BodyText   string            `json:"body_text,omitempty"`
	IsRead     bool              `json:"is_read"`
}

// Header looks up a raw header case-insensitively
func (m *ProviderMessage) Header(name string) (string, bool) {
	if v, ok := m.RawHeaders[name]; ok {
		return v, true
	}
	for k, v := range m.RawHeaders {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// Thread is a provider conversation
type Thread struct {
	ID       string             `json:"id"`
	Messages []*ProviderMessage `json:"messages"`
}

// SearchQuery is a provider-neutral inbox search that each adapter renders
// into its native syntax
type SearchQuery struct {
	From      []string
	Subject   string
	InboxOnly bool
}

// SearchOptions bounds a single search page
type SearchOptions struct {
	MaxResults int
	After      time.Time
	PageToken  string
}

// SearchPage is one page of search results
type SearchPage struct {
	Messages      []*ProviderMessage
	NextPageToken string
}
