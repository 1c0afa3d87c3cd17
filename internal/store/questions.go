package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pavelanni/quizmaster/internal/model"
)

const questionColumns = `id, module_id, subject, topic, subtopic, text, question_type,
	options, correct_answer, difficulty, points, time_limit`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(r rowScanner) (model.Question, error) {
	var q model.Question
	var options string
	if err := r.Scan(&q.ID, &q.ModuleID, &q.Subject, &q.Topic, &q.Subtopic, &q.Text, &q.Type,
		&options, &q.CorrectAnswer, &q.Difficulty, &q.Points, &q.TimeLimit); err != nil {
		return q, err
	}
	if err := json.Unmarshal([]byte(options), &q.Options); err != nil {
		return q, fmt.Errorf("decode options for question %d: %w", q.ID, err)
	}
	return q, nil
}

// InsertQuestion adds a question to the bank.
func (q *Queries) InsertQuestion(ctx context.Context, qu model.Question) (int64, error) {
	if qu.Type == "" {
		qu.Type = model.QuestionMultipleChoice
	}
	if qu.Options == nil {
		qu.Options = []string{}
	}
	options, err := json.Marshal(qu.Options)
	if err != nil {
		return 0, err
	}
	res, err := q.q.ExecContext(ctx,
		`INSERT INTO questions (module_id, subject, topic, subtopic, text, question_type,
		 options, correct_answer, difficulty, points, time_limit)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		qu.ModuleID, qu.Subject, qu.Topic, qu.Subtopic, qu.Text, qu.Type,
		string(options), qu.CorrectAnswer, qu.Difficulty, qu.Points, qu.TimeLimit,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ImportQuestions validates and inserts a batch of questions in one
// transaction, so a bad entry leaves the bank unchanged.
func (s *Store) ImportQuestions(ctx context.Context, questions []model.QuestionImport) error {
	if err := validateImports(questions); err != nil {
		return err
	}
	return s.WithTx(ctx, func(q *Queries) error {
		return q.insertImports(ctx, questions)
	})
}

func (q *Queries) insertImports(ctx context.Context, questions []model.QuestionImport) error {
	for _, qi := range questions {
		_, err := q.InsertQuestion(ctx, model.Question{
			ModuleID:      qi.ModuleID,
			Subject:       qi.Subject,
			Topic:         qi.Topic,
			Subtopic:      qi.Subtopic,
			Text:          qi.Text,
			Type:          qi.Type,
			Options:       qi.Options,
			CorrectAnswer: qi.CorrectAnswer,
			Difficulty:    qi.Difficulty,
			Points:        qi.Points,
			TimeLimit:     qi.TimeLimit,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func validateImports(questions []model.QuestionImport) error {
	for i, qi := range questions {
		if err := validateImport(qi); err != nil {
			return fmt.Errorf("question %d: %w", i+1, err)
		}
	}
	return nil
}

func validateImport(qi model.QuestionImport) error {
	switch {
	case strings.TrimSpace(qi.ModuleID) == "":
		return model.Invalid("module_id", "required", nil)
	case strings.TrimSpace(qi.Subject) == "":
		return model.Invalid("subject", "required", nil)
	case strings.TrimSpace(qi.Topic) == "":
		return model.Invalid("topic", "required", nil)
	case strings.TrimSpace(qi.Text) == "":
		return model.Invalid("text", "required", nil)
	case strings.TrimSpace(qi.CorrectAnswer) == "":
		return model.Invalid("correct_answer", "required", nil)
	case !qi.Difficulty.Valid():
		return model.Invalid("difficulty", "invalid_difficulty", map[string]any{"Value": qi.Difficulty})
	case qi.Points < 0:
		return model.Invalid("points", "out_of_range", nil)
	}
	switch qi.Type {
	case "", model.QuestionMultipleChoice, model.QuestionTrueFalse, model.QuestionShortAnswer:
	default:
		return model.Invalid("question_type", "invalid_question_type", map[string]any{"Value": qi.Type})
	}
	return nil
}

// GetQuestion returns a question by ID.
func (q *Queries) GetQuestion(ctx context.Context, id int64) (model.Question, error) {
	qu, err := scanQuestion(q.q.QueryRowContext(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return qu, ErrNotFound
	}
	return qu, err
}

// ListQuestions returns every question ordered by ID.
func (q *Queries) ListQuestions(ctx context.Context) ([]model.Question, error) {
	return q.queryQuestions(ctx, `SELECT `+questionColumns+` FROM questions ORDER BY id`)
}

// QuestionCount returns the size of the bank.
func (q *Queries) QuestionCount(ctx context.Context) (int, error) {
	var count int
	err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions`).Scan(&count)
	return count, err
}

// LoadPool returns every question matching the scope. A module scope matches
// on module_id; a topics scope matches any selector, where a selector with
// subtopics restricts to those subtopics.
func (q *Queries) LoadPool(ctx context.Context, scope model.Scope) ([]model.Question, error) {
	switch sc := scope.(type) {
	case model.ModuleScope:
		return q.queryQuestions(ctx,
			`SELECT `+questionColumns+` FROM questions WHERE module_id = ? ORDER BY id`, sc.ModuleID)
	case model.TopicsScope:
		if len(sc.Selectors) == 0 {
			return nil, nil
		}
		var (
			where []string
			args  []any
		)
		for _, sel := range sc.Selectors {
			clause := "(subject = ? AND topic = ?"
			args = append(args, sel.Subject, sel.Topic)
			if len(sel.Subtopics) > 0 {
				clause += " AND subtopic IN (?" + strings.Repeat(", ?", len(sel.Subtopics)-1) + ")"
				for _, st := range sel.Subtopics {
					args = append(args, st)
				}
			}
			where = append(where, clause+")")
		}
		return q.queryQuestions(ctx,
			`SELECT `+questionColumns+` FROM questions WHERE `+strings.Join(where, " OR ")+` ORDER BY id`,
			args...)
	default:
		return nil, nil
	}
}

func (q *Queries) queryQuestions(ctx context.Context, query string, args ...any) ([]model.Question, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		qu, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, qu)
	}
	return questions, rows.Err()
}

// CountTopics returns how many questions exist per (subject, topic) pair.
func (q *Queries) CountTopics(ctx context.Context) (map[model.TopicKey]int, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT subject, topic, COUNT(*) FROM questions GROUP BY subject, topic`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[model.TopicKey]int)
	for rows.Next() {
		var k model.TopicKey
		var n int
		if err := rows.Scan(&k.Subject, &k.Topic, &n); err != nil {
			return nil, err
		}
		counts[k] = n
	}
	return counts, rows.Err()
}
