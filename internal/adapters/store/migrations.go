package store

// migration holds a single schema migration with its target version.
// Statements run one at a time since the MySQL driver rejects multi-statement execs.
type migration struct {
	version    int
	statements []string
}

// sqliteMigrations is the ordered list of SQLite schema migrations
var sqliteMigrations = []migration{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS sent_emails (
				id              TEXT PRIMARY KEY,
				user_id         TEXT NOT NULL,
				contact_id      TEXT NOT NULL DEFAULT '',
				provider        TEXT NOT NULL,
				thread_id       TEXT NOT NULL DEFAULT '',
				message_id      TEXT NOT NULL DEFAULT '',
				recipient_email TEXT NOT NULL,
				subject         TEXT NOT NULL DEFAULT '',
				sent_at         DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS detection_results (
				sent_email_id    TEXT PRIMARY KEY,
				found            BOOLEAN NOT NULL DEFAULT 0,
				reply_message_id TEXT,
				reply_content    TEXT,
				received_at      DATETIME,
				sender           TEXT,
				is_auto_reply    BOOLEAN NOT NULL DEFAULT 0,
				matched_layer    TEXT,
				search_metadata  TEXT NOT NULL DEFAULT '{}',
				checked_at       DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS dead_letter_entries (
				id             TEXT PRIMARY KEY,
				sent_email_id  TEXT NOT NULL,
				user_id        TEXT NOT NULL,
				provider       TEXT NOT NULL DEFAULT '',
				status         TEXT NOT NULL DEFAULT 'pending_review',
				last_error     TEXT NOT NULL DEFAULT '',
				layer_metadata TEXT NOT NULL DEFAULT '[]',
				attempt_count  INTEGER NOT NULL DEFAULT 1,
				created_at     DATETIME NOT NULL,
				updated_at     DATETIME NOT NULL,
				reviewed_by    TEXT,
				reviewed_at    DATETIME,
				notes          TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_dead_letter_user_status ON dead_letter_entries(user_id, status, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_dead_letter_sent_email ON dead_letter_entries(sent_email_id, status)`,
			`CREATE TABLE IF NOT EXISTS aliases (
				contact_id  TEXT NOT NULL,
				alias_email TEXT NOT NULL,
				source      TEXT NOT NULL DEFAULT 'known',
				confidence  REAL,
				PRIMARY KEY (contact_id, alias_email)
			)`,
		},
	},
	{
		version: 2,
		statements: []string{
			`CREATE INDEX IF NOT EXISTS idx_sent_emails_user ON sent_emails(user_id, sent_at)`,
		},
	},
}

// mysqlMigrations is the ordered list of MySQL schema migrations
var mysqlMigrations = []migration{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS sent_emails (
				id              VARCHAR(191) PRIMARY KEY,
				user_id         VARCHAR(191) NOT NULL,
				contact_id      VARCHAR(191) NOT NULL DEFAULT '',
				provider        VARCHAR(32) NOT NULL,
				thread_id       VARCHAR(255) NOT NULL DEFAULT '',
				message_id      VARCHAR(512) NOT NULL DEFAULT '',
				recipient_email VARCHAR(320) NOT NULL,
				subject         TEXT NOT NULL,
				sent_at         DATETIME(6) NOT NULL
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS detection_results (
				sent_email_id    VARCHAR(191) PRIMARY KEY,
				found            TINYINT(1) NOT NULL DEFAULT 0,
				reply_message_id VARCHAR(512),
				reply_content    MEDIUMTEXT,
				received_at      DATETIME(6),
				sender           VARCHAR(320),
				is_auto_reply    TINYINT(1) NOT NULL DEFAULT 0,
				matched_layer    VARCHAR(64),
				search_metadata  TEXT NOT NULL,
				checked_at       DATETIME(6) NOT NULL
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS dead_letter_entries (
				id             VARCHAR(36) PRIMARY KEY,
				sent_email_id  VARCHAR(191) NOT NULL,
				user_id        VARCHAR(191) NOT NULL,
				provider       VARCHAR(32) NOT NULL DEFAULT '',
				status         VARCHAR(32) NOT NULL DEFAULT 'pending_review',
				last_error     TEXT NOT NULL,
				layer_metadata MEDIUMTEXT NOT NULL,
				attempt_count  INT NOT NULL DEFAULT 1,
				created_at     DATETIME(6) NOT NULL,
				updated_at     DATETIME(6) NOT NULL,
				reviewed_by    VARCHAR(191),
				reviewed_at    DATETIME(6),
				notes          TEXT,
				INDEX idx_dead_letter_user_status (user_id, status, created_at),
				INDEX idx_dead_letter_sent_email (sent_email_id, status)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS aliases (
				contact_id  VARCHAR(191) NOT NULL,
				alias_email VARCHAR(320) NOT NULL,
				source      VARCHAR(16) NOT NULL DEFAULT 'known',
				confidence  DOUBLE,
				PRIMARY KEY (contact_id, alias_email(191))
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		},
	},
	{
		version: 2,
		statements: []string{
			`CREATE INDEX idx_sent_emails_user ON sent_emails(user_id, sent_at)`,
		},
	},
}
