package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mikey/reply-checker/internal/core"
	"go.uber.org/zap"
)

// dialect captures the statements that differ between SQL backends
type dialect struct {
	name         string
	insertIgnore string
	fromDual     string
	aliasUpsert  string
	migrations   []migration
}

var sqliteDialect = dialect{
	name:         "sqlite",
	insertIgnore: "INSERT OR IGNORE",
	aliasUpsert: `INSERT INTO aliases (contact_id, alias_email, source, confidence)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (contact_id, alias_email) DO UPDATE SET source = excluded.source, confidence = excluded.confidence`,
	migrations: sqliteMigrations,
}

var mysqlDialect = dialect{
	name:         "mysql",
	insertIgnore: "INSERT IGNORE",
	fromDual:     " FROM DUAL",
	aliasUpsert: `INSERT INTO aliases (contact_id, alias_email, source, confidence)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE source = VALUES(source), confidence = VALUES(confidence)`,
	migrations: mysqlMigrations,
}

// SQLStore is a core.Store backed by a SQL database
type SQLStore struct {
	db      *sqlx.DB
	dialect dialect
	logger  *zap.Logger
	cleanup *cleanupTask
}

func newSQLStore(db *sqlx.DB, d dialect, logger *zap.Logger, migrate bool) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d, logger: logger}
	if migrate {
		if err := s.runMigrations(context.Background()); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// startCleanup launches the retention purge for reviewed dead letters
func (s *SQLStore) startCleanup(retention, freq time.Duration) {
	s.cleanup = startCleanupTask(s, retention, freq, s.logger)
}

func (s *SQLStore) runMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var current int
	if err := s.db.GetContext(ctx, &current, `SELECT COALESCE(MAX(version), 0) FROM schema_version`); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range s.dialect.migrations {
		if m.version <= current {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration %d failed: %w", m.version, err)
			}
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, m.version); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
		s.logger.Info("Applied schema migration",
			zap.String("dialect", s.dialect.name),
			zap.Int("version", m.version))
	}
	return nil
}

// AddSentMessage inserts a sent message, standing in for the send path
func (s *SQLStore) AddSentMessage(ctx context.Context, msg *core.SentMessage) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO sent_emails (id, user_id, contact_id, provider, thread_id, message_id, recipient_email, subject, sent_at)
		VALUES (:id, :user_id, :contact_id, :provider, :thread_id, :message_id, :recipient_email, :subject, :sent_at)
	`, msg)
	if err != nil {
		return fmt.Errorf("failed to insert sent message: %w", err)
	}
	return nil
}

const sentColumns = `id, user_id, contact_id, provider, thread_id, message_id, recipient_email, subject, sent_at`

// GetSentMessage implements core.SentMessageSource
func (s *SQLStore) GetSentMessage(ctx context.Context, id string) (*core.SentMessage, error) {
	var msg core.SentMessage
	err := s.db.GetContext(ctx, &msg, `SELECT `+sentColumns+` FROM sent_emails WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query sent message: %w", err)
	}
	msg.SentAt = msg.SentAt.UTC()
	return &msg, nil
}

// ListSentMessages implements core.SentMessageSource, oldest first
func (s *SQLStore) ListSentMessages(ctx context.Context, userID string, limit int) ([]*core.SentMessage, error) {
	query := `SELECT ` + sentColumns + ` FROM sent_emails WHERE user_id = ? ORDER BY sent_at ASC`
	args := []interface{}{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var msgs []*core.SentMessage
	if err := s.db.SelectContext(ctx, &msgs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list sent messages: %w", err)
	}
	return msgs, nil
}

type resultRow struct {
	SentEmailID    string         `db:"sent_email_id"`
	Found          bool           `db:"found"`
	ReplyMessageID sql.NullString `db:"reply_message_id"`
	ReplyContent   sql.NullString `db:"reply_content"`
	ReceivedAt     sql.NullTime   `db:"received_at"`
	Sender         sql.NullString `db:"sender"`
	IsAutoReply    bool           `db:"is_auto_reply"`
	MatchedLayer   sql.NullString `db:"matched_layer"`
	SearchMetadata string         `db:"search_metadata"`
	CheckedAt      time.Time      `db:"checked_at"`
}

func (r *resultRow) toResult() (*core.DetectionResult, error) {
	result := &core.DetectionResult{
		SentEmailID:    r.SentEmailID,
		Found:          r.Found,
		ReplyMessageID: r.ReplyMessageID.String,
		ReplyContent:   r.ReplyContent.String,
		Sender:         r.Sender.String,
		IsAutoReply:    r.IsAutoReply,
		MatchedLayer:   r.MatchedLayer.String,
		CheckedAt:      r.CheckedAt.UTC(),
	}
	if r.ReceivedAt.Valid {
		t := r.ReceivedAt.Time.UTC()
		result.ReceivedAt = &t
	}
	if r.SearchMetadata != "" {
		if err := json.Unmarshal([]byte(r.SearchMetadata), &result.SearchMetadata); err != nil {
			return nil, fmt.Errorf("failed to decode search metadata: %w", err)
		}
	}
	return result, nil
}

// GetResult implements core.ResultRepository
func (s *SQLStore) GetResult(ctx context.Context, sentEmailID string) (*core.DetectionResult, error) {
	var row resultRow
	err := s.db.GetContext(ctx, &row, `
		SELECT sent_email_id, found, reply_message_id, reply_content, received_at, sender,
			is_auto_reply, matched_layer, search_metadata, checked_at
		FROM detection_results WHERE sent_email_id = ?
	`, sentEmailID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query detection result: %w", err)
	}
	return row.toResult()
}

// SaveResult implements core.ResultRepository. A stored found=true result is
// never overwritten.
func (s *SQLStore) SaveResult(ctx context.Context, result *core.DetectionResult) error {
	metadata, err := json.Marshal(result.SearchMetadata)
	if err != nil {
		return fmt.Errorf("failed to encode search metadata: %w", err)
	}
	var receivedAt interface{}
	if result.ReceivedAt != nil {
		receivedAt = result.ReceivedAt.UTC()
	}
	values := []interface{}{
		result.Found,
		nullString(result.ReplyMessageID),
		nullString(result.ReplyContent),
		receivedAt,
		nullString(result.Sender),
		result.IsAutoReply,
		nullString(result.MatchedLayer),
		string(metadata),
		result.CheckedAt.UTC(),
	}

	// Replace a previous negative result first
	res, err := s.db.ExecContext(ctx, `
		UPDATE detection_results
		SET found = ?, reply_message_id = ?, reply_content = ?, received_at = ?, sender = ?,
			is_auto_reply = ?, matched_layer = ?, search_metadata = ?, checked_at = ?
		WHERE sent_email_id = ? AND found = ?
	`, append(values, result.SentEmailID, false)...)
	if err != nil {
		return fmt.Errorf("failed to update detection result: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	res, err = s.db.ExecContext(ctx, s.dialect.insertIgnore+` INTO detection_results
		(sent_email_id, found, reply_message_id, reply_content, received_at, sender,
			is_auto_reply, matched_layer, search_metadata, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, append([]interface{}{result.SentEmailID}, values...)...)
	if err != nil {
		return fmt.Errorf("failed to insert detection result: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrReplyAlreadyRecorded
	}
	return nil
}

type deadLetterRow struct {
	ID            string         `db:"id"`
	SentEmailID   string         `db:"sent_email_id"`
	UserID        string         `db:"user_id"`
	Provider      string         `db:"provider"`
	Status        string         `db:"status"`
	LastError     string         `db:"last_error"`
	LayerMetadata string         `db:"layer_metadata"`
	AttemptCount  int            `db:"attempt_count"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
	ReviewedBy    sql.NullString `db:"reviewed_by"`
	ReviewedAt    sql.NullTime   `db:"reviewed_at"`
	Notes         sql.NullString `db:"notes"`
}

const deadLetterColumns = `id, sent_email_id, user_id, provider, status, last_error, layer_metadata,
	attempt_count, created_at, updated_at, reviewed_by, reviewed_at, notes`

func (r *deadLetterRow) toEntry() (*core.DeadLetterEntry, error) {
	entry := &core.DeadLetterEntry{
		ID:           r.ID,
		SentEmailID:  r.SentEmailID,
		UserID:       r.UserID,
		Provider:     core.ProviderType(r.Provider),
		Status:       core.DeadLetterStatus(r.Status),
		LastError:    r.LastError,
		AttemptCount: r.AttemptCount,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
		ReviewedBy:   r.ReviewedBy.String,
		Notes:        r.Notes.String,
	}
	if r.ReviewedAt.Valid {
		t := r.ReviewedAt.Time.UTC()
		entry.ReviewedAt = &t
	}
	if r.LayerMetadata != "" {
		if err := json.Unmarshal([]byte(r.LayerMetadata), &entry.LayerMetadata); err != nil {
			return nil, fmt.Errorf("failed to decode layer metadata: %w", err)
		}
	}
	return entry, nil
}

func (s *SQLStore) scanDeadLetters(ctx context.Context, query string, args ...interface{}) ([]*core.DeadLetterEntry, error) {
	var rows []deadLetterRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	entries := make([]*core.DeadLetterEntry, 0, len(rows))
	for i := range rows {
		entry, err := rows[i].toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// CreateDeadLetter implements core.DeadLetterRepository
func (s *SQLStore) CreateDeadLetter(ctx context.Context, entry *core.DeadLetterEntry) error {
	layers, err := json.Marshal(layerReports(entry.LayerMetadata))
	if err != nil {
		return fmt.Errorf("failed to encode layer metadata: %w", err)
	}
	var reviewedAt interface{}
	if entry.ReviewedAt != nil {
		reviewedAt = entry.ReviewedAt.UTC()
	}

	args := []interface{}{
		entry.ID, entry.SentEmailID, entry.UserID, string(entry.Provider), string(entry.Status),
		entry.LastError, string(layers), entry.AttemptCount, entry.CreatedAt.UTC(), entry.UpdatedAt.UTC(),
		nullString(entry.ReviewedBy), reviewedAt, nullString(entry.Notes),
	}

	if entry.Status != core.StatusPendingReview {
		if _, err := s.db.ExecContext(ctx, `INSERT INTO dead_letter_entries (`+deadLetterColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...); err != nil {
			return fmt.Errorf("failed to insert dead letter entry: %w", err)
		}
		return nil
	}

	// At most one pending entry per sent message; the check and insert are one statement
	res, err := s.db.ExecContext(ctx, `INSERT INTO dead_letter_entries (`+deadLetterColumns+`)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?`+s.dialect.fromDual+`
		WHERE NOT EXISTS (
			SELECT 1 FROM dead_letter_entries WHERE sent_email_id = ? AND status = ?
		)`, append(args, entry.SentEmailID, string(core.StatusPendingReview))...)
	if err != nil {
		return fmt.Errorf("failed to insert dead letter entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrPendingExists
	}
	return nil
}

// GetDeadLetter implements core.DeadLetterRepository
func (s *SQLStore) GetDeadLetter(ctx context.Context, id string) (*core.DeadLetterEntry, error) {
	entries, err := s.scanDeadLetters(ctx, `SELECT `+deadLetterColumns+` FROM dead_letter_entries WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letter entry: %w", err)
	}
	if len(entries) == 0 {
		return nil, core.ErrNotFound
	}
	return entries[0], nil
}

// FindDeadLetter implements core.DeadLetterRepository
func (s *SQLStore) FindDeadLetter(ctx context.Context, sentEmailID string, status core.DeadLetterStatus) (*core.DeadLetterEntry, error) {
	entries, err := s.scanDeadLetters(ctx, `SELECT `+deadLetterColumns+` FROM dead_letter_entries
		WHERE sent_email_id = ? AND status = ?
		ORDER BY created_at DESC LIMIT 1`, sentEmailID, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letter entry: %w", err)
	}
	if len(entries) == 0 {
		return nil, core.ErrNotFound
	}
	return entries[0], nil
}

// UpdatePendingFailure implements core.DeadLetterRepository
func (s *SQLStore) UpdatePendingFailure(ctx context.Context, entry *core.DeadLetterEntry) error {
	layers, err := json.Marshal(layerReports(entry.LayerMetadata))
	if err != nil {
		return fmt.Errorf("failed to encode layer metadata: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE dead_letter_entries
		SET last_error = ?, layer_metadata = ?, attempt_count = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, entry.LastError, string(layers), entry.AttemptCount, entry.UpdatedAt.UTC(), entry.ID, string(core.StatusPendingReview))
	if err != nil {
		return fmt.Errorf("failed to update dead letter entry: %w", err)
	}
	return s.checkPendingWrite(ctx, res, entry.ID)
}

// TransitionDeadLetter implements core.DeadLetterRepository. The status
// guard lives in the WHERE clause so concurrent reviews cannot both win.
func (s *SQLStore) TransitionDeadLetter(ctx context.Context, id string, update core.ReviewUpdate) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE dead_letter_entries
		SET status = ?, reviewed_by = ?, reviewed_at = ?, notes = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(update.Status), nullString(update.ReviewedBy), update.ReviewedAt.UTC(), nullString(update.Notes),
		update.ReviewedAt.UTC(), id, string(core.StatusPendingReview))
	if err != nil {
		return fmt.Errorf("failed to transition dead letter entry: %w", err)
	}
	return s.checkPendingWrite(ctx, res, id)
}

// checkPendingWrite tells a missing entry apart from one that already left pending_review
func (s *SQLStore) checkPendingWrite(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM dead_letter_entries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to query dead letter entry: %w", err)
	}
	if count == 0 {
		return core.ErrNotFound
	}
	return core.ErrStatusConflict
}

// CountDeadLettersByStatus implements core.DeadLetterRepository
func (s *SQLStore) CountDeadLettersByStatus(ctx context.Context, userID string) (map[core.DeadLetterStatus]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT status, COUNT(*) AS count FROM dead_letter_entries
		WHERE user_id = ? GROUP BY status
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count dead letter entries: %w", err)
	}

	counts := make(map[core.DeadLetterStatus]int, len(rows))
	for _, row := range rows {
		counts[core.DeadLetterStatus(row.Status)] = row.Count
	}
	return counts, nil
}

// ListPendingDeadLetters implements core.DeadLetterRepository
func (s *SQLStore) ListPendingDeadLetters(ctx context.Context, userID string, limit int) ([]*core.DeadLetterEntry, error) {
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letter_entries
		WHERE user_id = ? AND status = ? ORDER BY created_at DESC`
	args := []interface{}{userID, string(core.StatusPendingReview)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	entries, err := s.scanDeadLetters(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending dead letters: %w", err)
	}
	return entries, nil
}

// PurgeReviewedDeadLetters implements core.DeadLetterRepository. Skipped
// entries are kept since they exclude the message from automated checks.
func (s *SQLStore) PurgeReviewedDeadLetters(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM dead_letter_entries WHERE status NOT IN (?, ?) AND updated_at < ?
	`, string(core.StatusPendingReview), string(core.StatusSkipped), before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge dead letters: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		s.logger.Warn("Failed to get rows affected during purge", zap.Error(err))
		return 0, nil
	}
	return n, nil
}

// KnownAliases implements core.AliasRepository
func (s *SQLStore) KnownAliases(ctx context.Context, contactID string) ([]core.Alias, error) {
	var aliases []core.Alias
	err := s.db.SelectContext(ctx, &aliases, `
		SELECT contact_id, alias_email, source, confidence FROM aliases
		WHERE contact_id = ? ORDER BY alias_email
	`, contactID)
	if err != nil {
		return nil, fmt.Errorf("failed to query aliases: %w", err)
	}
	return aliases, nil
}

// AddKnownAlias implements core.AliasRepository
func (s *SQLStore) AddKnownAlias(ctx context.Context, a core.Alias) error {
	source := a.Source
	if source == "" {
		source = core.AliasSourceKnown
	}
	var confidence interface{}
	if a.Confidence != nil {
		confidence = *a.Confidence
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.aliasUpsert, a.ContactID, a.AliasEmail, string(source), confidence); err != nil {
		return fmt.Errorf("failed to upsert alias: %w", err)
	}
	return nil
}

// Close stops the cleanup task and closes the database connection
func (s *SQLStore) Close() error {
	if s.cleanup != nil {
		s.cleanup.stop()
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close %s database: %w", s.dialect.name, err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func layerReports(reports []core.LayerReport) []core.LayerReport {
	if reports == nil {
		return []core.LayerReport{}
	}
	return reports
}
