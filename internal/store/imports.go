package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/pavelanni/quizmaster/internal/model"
)

var (
	// ErrAlreadyImported is returned by ImportFile when the same content was
	// already imported under that name.
	ErrAlreadyImported = errors.New("file already imported")
	// ErrFileChanged is returned by ImportFile when a file was imported before
	// with different content. Re-importing would duplicate its questions.
	ErrFileChanged = errors.New("file changed since last import")
)

// GetImportedFileHash returns the sha256 recorded for a previously imported
// file, or "" if the file was never imported.
func (q *Queries) GetImportedFileHash(ctx context.Context, path string) (string, error) {
	var hash string
	err := q.q.QueryRowContext(ctx, `SELECT sha256 FROM imported_files WHERE path = ?`, path).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return hash, err
}

// SetImportedFileHash records the hash of an imported file.
func (q *Queries) SetImportedFileHash(ctx context.Context, path, hash string) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO imported_files (path, sha256, imported_at) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET sha256 = excluded.sha256, imported_at = excluded.imported_at`,
		path, hash, time.Now().UTC(),
	)
	return err
}

// ImportFile imports a JSON array of questions read from name. A name is
// imported once: the same content fails with ErrAlreadyImported and changed
// content with ErrFileChanged. The questions and the hash are written in one
// transaction.
func (s *Store) ImportFile(ctx context.Context, name string, data []byte) (int, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	var questions []model.QuestionImport
	if err := json.Unmarshal(data, &questions); err != nil {
		return 0, model.Invalid("file", "invalid_json", map[string]any{"Value": name})
	}
	if err := validateImports(questions); err != nil {
		return 0, err
	}

	err := s.WithTx(ctx, func(q *Queries) error {
		stored, err := q.GetImportedFileHash(ctx, name)
		if err != nil {
			return err
		}
		switch stored {
		case "":
		case hash:
			return ErrAlreadyImported
		default:
			return ErrFileChanged
		}
		if err := q.insertImports(ctx, questions); err != nil {
			return err
		}
		return q.SetImportedFileHash(ctx, name, hash)
	})
	if err != nil {
		return 0, err
	}
	return len(questions), nil
}
