package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds every read and write against the schema. The same methods run
// on the database handle or inside a transaction.
type Queries struct {
	q querier
}

type Store struct {
	*Queries
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases shared across calls.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{Queries: &Queries{q: db}, db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise. fn must only use the Queries it is
// given.
func (s *Store) WithTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Queries{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		module_id TEXT NOT NULL,
		subject TEXT NOT NULL,
		topic TEXT NOT NULL,
		subtopic TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL,
		question_type TEXT NOT NULL DEFAULT 'multiple_choice',
		options TEXT NOT NULL DEFAULT '[]',
		correct_answer TEXT NOT NULL,
		difficulty TEXT NOT NULL CHECK (difficulty IN ('easy', 'medium', 'hard')),
		points INTEGER NOT NULL DEFAULT 0,
		time_limit INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_questions_module ON questions(module_id);
	CREATE INDEX IF NOT EXISTS idx_questions_topic ON questions(subject, topic);

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'student',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS challenges (
		id TEXT PRIMARY KEY,
		assigned_by INTEGER NOT NULL,
		assigned_to INTEGER NOT NULL,
		challenge_type TEXT NOT NULL,
		scope TEXT NOT NULL,
		question_count INTEGER NOT NULL,
		focus_area TEXT NOT NULL,
		requested_focus TEXT NOT NULL,
		focus_fallback BOOLEAN NOT NULL DEFAULT 0,
		allocation TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL DEFAULT 'pending',
		session_id TEXT,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_challenges_assigned_to ON challenges(assigned_to, status);

	CREATE TABLE IF NOT EXISTS quiz_sessions (
		id TEXT PRIMARY KEY,
		student_id INTEGER NOT NULL,
		scope TEXT NOT NULL,
		challenge_id TEXT,
		focus_area TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		last_activity_at DATETIME NOT NULL,
		total_questions INTEGER NOT NULL,
		correct_count INTEGER NOT NULL DEFAULT 0,
		wrong_count INTEGER NOT NULL DEFAULT 0,
		total_points INTEGER NOT NULL DEFAULT 0,
		time_taken_seconds INTEGER NOT NULL DEFAULT 0,
		score_percentage REAL NOT NULL DEFAULT 0,
		current_question_id INTEGER,
		current_tier TEXT NOT NULL DEFAULT 'medium',
		consecutive_correct INTEGER NOT NULL DEFAULT 0,
		consecutive_wrong INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (challenge_id) REFERENCES challenges(id)
	);
	CREATE INDEX IF NOT EXISTS idx_quiz_sessions_student ON quiz_sessions(student_id);
	CREATE INDEX IF NOT EXISTS idx_quiz_sessions_status ON quiz_sessions(status, last_activity_at);

	CREATE TABLE IF NOT EXISTS answer_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		question_id INTEGER NOT NULL,
		subject TEXT NOT NULL,
		topic TEXT NOT NULL,
		subtopic TEXT NOT NULL DEFAULT '',
		user_answer TEXT,
		is_correct BOOLEAN NOT NULL,
		points_earned INTEGER NOT NULL,
		time_spent_seconds INTEGER NOT NULL,
		difficulty TEXT NOT NULL,
		answered_at DATETIME NOT NULL,
		UNIQUE (session_id, question_id),
		FOREIGN KEY (session_id) REFERENCES quiz_sessions(id),
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);

	CREATE TABLE IF NOT EXISTS attempt_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id INTEGER NOT NULL,
		subject TEXT NOT NULL,
		topic TEXT NOT NULL,
		session_id TEXT NOT NULL,
		attempted_at DATETIME NOT NULL,
		easy_correct INTEGER NOT NULL DEFAULT 0,
		easy_total INTEGER NOT NULL DEFAULT 0,
		medium_correct INTEGER NOT NULL DEFAULT 0,
		medium_total INTEGER NOT NULL DEFAULT 0,
		hard_correct INTEGER NOT NULL DEFAULT 0,
		hard_total INTEGER NOT NULL DEFAULT 0,
		time_spent INTEGER NOT NULL DEFAULT 0,
		UNIQUE (student_id, subject, topic, session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_attempt_snapshots_topic ON attempt_snapshots(student_id, subject, topic, attempted_at);

	CREATE TABLE IF NOT EXISTS topic_performance (
		student_id INTEGER NOT NULL,
		subject TEXT NOT NULL,
		topic TEXT NOT NULL,
		total_attempts INTEGER NOT NULL DEFAULT 0,
		total_questions INTEGER NOT NULL DEFAULT 0,
		correct_answers INTEGER NOT NULL DEFAULT 0,
		accuracy_percent REAL NOT NULL DEFAULT 0,
		easy_correct INTEGER NOT NULL DEFAULT 0,
		easy_total INTEGER NOT NULL DEFAULT 0,
		medium_correct INTEGER NOT NULL DEFAULT 0,
		medium_total INTEGER NOT NULL DEFAULT 0,
		hard_correct INTEGER NOT NULL DEFAULT 0,
		hard_total INTEGER NOT NULL DEFAULT 0,
		performance_level TEXT NOT NULL DEFAULT 'neutral',
		confidence_score REAL NOT NULL DEFAULT 0,
		last_updated DATETIME NOT NULL,
		PRIMARY KEY (student_id, subject, topic)
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		sha256 TEXT NOT NULL,
		imported_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}
