package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/mikey/reply-checker/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	s, err := newSQLStore(sqlx.NewDb(db, "mysql"), mysqlDialect, zap.NewNop(), false)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return s, mock
}

func TestNormalizeMySQLDSN(t *testing.T) {
	cfg, err := normalizeMySQLDSN("checker:secret@tcp(db:3306)/replies")
	require.NoError(t, err)
	assert.True(t, cfg.ParseTime)
	assert.True(t, cfg.ClientFoundRows)
	assert.Equal(t, time.UTC, cfg.Loc)
	assert.Equal(t, "db:3306", cfg.Addr)
	assert.Equal(t, "replies", cfg.DBName)

	_, err = normalizeMySQLDSN("not a dsn")
	assert.Error(t, err)
}

func TestMySQLStore_RunMigrations(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_version").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COALESCE\\(MAX\\(version\\), 0\\) FROM schema_version").
		WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow(1))
	mock.ExpectExec("CREATE INDEX idx_sent_emails_user").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_version").WithArgs(2).WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.runMigrations(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_RunMigrationsFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_version").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COALESCE").WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow(0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sent_emails").WillReturnError(sql.ErrConnDone)

	err := s.runMigrations(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration 1 failed")
}

func TestMySQLStore_SaveResult(t *testing.T) {
	result := &core.DetectionResult{SentEmailID: "s1", Found: true, ReplyMessageID: "r1", CheckedAt: time.Now()}

	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		wantErr error
	}{
		{
			name: "replaces negative result",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE detection_results").WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "inserts first result",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE detection_results").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("INSERT IGNORE INTO detection_results").WillReturnResult(sqlmock.NewResult(1, 1))
			},
		},
		{
			name: "keeps recorded reply",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE detection_results").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("INSERT IGNORE INTO detection_results").WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantErr: core.ErrReplyAlreadyRecorded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			tt.setup(mock)

			err := s.SaveResult(context.Background(), result)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestMySQLStore_TransitionDeadLetter(t *testing.T) {
	update := core.ReviewUpdate{Status: core.StatusResolved, ReviewedBy: "ops", ReviewedAt: time.Now()}

	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		wantErr error
	}{
		{
			name: "pending entry transitions",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE dead_letter_entries").WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "reviewed entry conflicts",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE dead_letter_entries").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM dead_letter_entries").
					WithArgs("d1").
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
			},
			wantErr: core.ErrStatusConflict,
		},
		{
			name: "missing entry",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE dead_letter_entries").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM dead_letter_entries").
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
			},
			wantErr: core.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			tt.setup(mock)

			err := s.TransitionDeadLetter(context.Background(), "d1", update)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestMySQLStore_AddKnownAliasUsesUpsert(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("ON DUPLICATE KEY UPDATE").
		WithArgs("c1", "jd@corp.example", "known", nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.AddKnownAlias(context.Background(), core.Alias{ContactID: "c1", AliasEmail: "jd@corp.example"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_CountDeadLettersByStatus(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT status, COUNT\\(\\*\\) AS count FROM dead_letter_entries").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("pending_review", 3).
			AddRow("resolved", 2))

	counts, err := s.CountDeadLettersByStatus(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, counts[core.StatusPendingReview])
	assert.Equal(t, 2, counts[core.StatusResolved])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_CreatePendingDeadLetterIsConditional(t *testing.T) {
	s, mock := newMockStore(t)
	entry := newEntry("d2", "s1", time.Now())

	mock.ExpectExec("INSERT INTO dead_letter_entries .* FROM DUAL\\s+WHERE NOT EXISTS").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.CreateDeadLetter(context.Background(), entry)
	assert.ErrorIs(t, err, core.ErrPendingExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_PurgeKeepsPendingAndSkipped(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM dead_letter_entries WHERE status NOT IN").
		WithArgs("pending_review", "skipped", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.PurgeReviewedDeadLetters(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
