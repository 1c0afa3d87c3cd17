package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent takes quizzes and may start self-initiated challenges.
	UserRoleStudent UserRole = "student"
	// UserRoleParent assigns challenges to a student.
	UserRoleParent UserRole = "parent"
	// UserRoleTeacher assigns challenges to students.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin manages users and the question bank.
	UserRoleAdmin UserRole = "admin"
)

// ValidUserRole reports whether r is a known role.
func ValidUserRole(r UserRole) bool {
	switch r {
	case UserRoleStudent, UserRoleParent, UserRoleTeacher, UserRoleAdmin:
		return true
	}
	return false
}

// User represents a system user.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuthSession represents an authentication token.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// Difficulty represents question difficulty level.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Difficulties lists the tiers from easiest to hardest.
var Difficulties = [3]Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard}

// Index returns the tier position (easy=0, medium=1, hard=2), or -1.
func (d Difficulty) Index() int {
	switch d {
	case DifficultyEasy:
		return 0
	case DifficultyMedium:
		return 1
	case DifficultyHard:
		return 2
	}
	return -1
}

// Valid reports whether d is one of the three tiers.
func (d Difficulty) Valid() bool {
	return d.Index() >= 0
}

// QuestionType describes how a question is answered.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionTrueFalse      QuestionType = "true_false"
	QuestionShortAnswer    QuestionType = "short_answer"
)

// TopicKey identifies a (subject, topic) pair.
type TopicKey struct {
	Subject string `json:"subject"`
	Topic   string `json:"topic"`
}

// Question is a bank question. Each question belongs to exactly one
// (subject, topic) pair and one module.
type Question struct {
	ID            int64        `json:"id"`
	ModuleID      string       `json:"module_id"`
	Subject       string       `json:"subject"`
	Topic         string       `json:"topic"`
	Subtopic      string       `json:"subtopic,omitempty"`
	Text          string       `json:"text"`
	Type          QuestionType `json:"question_type"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"-"`
	Difficulty    Difficulty   `json:"difficulty"`
	Points        int          `json:"points"`
	TimeLimit     int          `json:"time_limit"`
}

// Key returns the question's (subject, topic) pair.
func (q Question) Key() TopicKey {
	return TopicKey{Subject: q.Subject, Topic: q.Topic}
}

// QuestionImport is used for loading questions from JSON.
type QuestionImport struct {
	ModuleID      string       `json:"module_id"`
	Subject       string       `json:"subject"`
	Topic         string       `json:"topic"`
	Subtopic      string       `json:"subtopic"`
	Text          string       `json:"text"`
	Type          QuestionType `json:"question_type"`
	Options       []string     `json:"options"`
	CorrectAnswer string       `json:"correct_answer"`
	Difficulty    Difficulty   `json:"difficulty"`
	Points        int          `json:"points"`
	TimeLimit     int          `json:"time_limit"`
}

// SessionStatus represents the status of a quiz session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusAbandoned SessionStatus = "abandoned"
)

// FocusArea steers topic selection within a session.
type FocusArea string

const (
	FocusStrengthen FocusArea = "strengthen"
	FocusImprove    FocusArea = "improve"
	FocusBalanced   FocusArea = "balanced"
)

// Valid reports whether f is a known focus area.
func (f FocusArea) Valid() bool {
	switch f {
	case FocusStrengthen, FocusImprove, FocusBalanced:
		return true
	}
	return false
}

// PerformanceLevel is the rolling classification of a topic.
type PerformanceLevel string

const (
	LevelWeak    PerformanceLevel = "weak"
	LevelNeutral PerformanceLevel = "neutral"
	LevelStrong  PerformanceLevel = "strong"
)

// QuizSession is one attempt at a quiz. CompletedAt is nil while in progress.
type QuizSession struct {
	ID                 string        `json:"id"`
	StudentID          int64         `json:"student_id"`
	Scope              Scope         `json:"-"`
	ChallengeID        string        `json:"challenge_id,omitempty"`
	FocusArea          FocusArea     `json:"focus_area"`
	Status             SessionStatus `json:"status"`
	StartedAt          time.Time     `json:"started_at"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty"`
	LastActivityAt     time.Time     `json:"last_activity_at"`
	TotalQuestions     int           `json:"total_questions"`
	CorrectCount       int           `json:"correct_count"`
	WrongCount         int           `json:"wrong_count"`
	TotalPoints        int           `json:"total_points"`
	TimeTakenSeconds   int           `json:"time_taken_seconds"`
	ScorePercentage    float64       `json:"score_percentage"`
	CurrentQuestionID  *int64        `json:"current_question_id,omitempty"`
	CurrentTier        Difficulty    `json:"current_tier"`
	ConsecutiveCorrect int           `json:"consecutive_correct"`
	ConsecutiveWrong   int           `json:"consecutive_wrong"`
}

// Answered returns the number of graded questions.
func (s QuizSession) Answered() int {
	return s.CorrectCount + s.WrongCount
}

// AnswerRecord is an append-only grading record, one per question per session.
// UserAnswer is nil when the question timed out.
type AnswerRecord struct {
	ID               int64      `json:"-"`
	SessionID        string     `json:"session_id"`
	QuestionID       int64      `json:"question_id"`
	Subject          string     `json:"subject"`
	Topic            string     `json:"topic"`
	Subtopic         string     `json:"subtopic,omitempty"`
	UserAnswer       *string    `json:"user_answer"`
	IsCorrect        bool       `json:"is_correct"`
	PointsEarned     int        `json:"points_earned"`
	TimeSpentSeconds int        `json:"time_spent_seconds"`
	DifficultyAtAsk  Difficulty `json:"difficulty"`
	AnsweredAt       time.Time  `json:"answered_at"`
}

// Key returns the record's (subject, topic) pair.
func (r AnswerRecord) Key() TopicKey {
	return TopicKey{Subject: r.Subject, Topic: r.Topic}
}

// DifficultyStats counts correct answers out of total for one tier.
type DifficultyStats struct {
	Correct int `json:"correct"`
	Total   int `json:"total"`
}

// AttemptSnapshot summarizes one completed session restricted to one topic.
type AttemptSnapshot struct {
	ID          int64
	StudentID   int64
	Subject     string
	Topic       string
	SessionID   string
	AttemptedAt time.Time
	Easy        DifficultyStats
	Medium      DifficultyStats
	Hard        DifficultyStats
	TimeSpent   int
}

// Total returns the number of questions in the attempt.
func (a AttemptSnapshot) Total() int {
	return a.Easy.Total + a.Medium.Total + a.Hard.Total
}

// Correct returns the number of correct answers in the attempt.
func (a AttemptSnapshot) Correct() int {
	return a.Easy.Correct + a.Medium.Correct + a.Hard.Correct
}

// TopicPerformance is the rolling statistic per (student, subject, topic).
type TopicPerformance struct {
	StudentID        int64            `json:"student_id"`
	Subject          string           `json:"subject"`
	Topic            string           `json:"topic"`
	TotalAttempts    int              `json:"total_attempts"`
	TotalQuestions   int              `json:"total_questions"`
	CorrectAnswers   int              `json:"correct_answers"`
	AccuracyPercent  float64          `json:"accuracy_percent"`
	Easy             DifficultyStats  `json:"easy"`
	Medium           DifficultyStats  `json:"medium"`
	Hard             DifficultyStats  `json:"hard"`
	PerformanceLevel PerformanceLevel `json:"performance_level"`
	ConfidenceScore  float64          `json:"confidence_score"`
	LastUpdated      time.Time        `json:"last_updated"`
}

// Key returns the row's (subject, topic) pair.
func (p TopicPerformance) Key() TopicKey {
	return TopicKey{Subject: p.Subject, Topic: p.Topic}
}

// ChallengeType distinguishes single-module from multi-topic challenges.
type ChallengeType string

const (
	ChallengeSimple   ChallengeType = "simple"
	ChallengeAdvanced ChallengeType = "advanced"
)

// ChallengeStatus is the challenge lifecycle state.
type ChallengeStatus string

const (
	ChallengePending   ChallengeStatus = "pending"
	ChallengeCompleted ChallengeStatus = "completed"
	ChallengeDismissed ChallengeStatus = "dismissed"
	// ChallengeExpired is derived on read. It is never stored.
	ChallengeExpired ChallengeStatus = "expired"
)

// Challenge is an assigned or self-initiated quiz plan.
// SessionID is set once a session has consumed it.
type Challenge struct {
	ID             string          `json:"id"`
	AssignedBy     int64           `json:"assigned_by"`
	AssignedTo     int64           `json:"assigned_to"`
	Type           ChallengeType   `json:"challenge_type"`
	Scope          Scope           `json:"-"`
	QuestionCount  int             `json:"question_count"`
	FocusArea      FocusArea       `json:"focus_area"`
	RequestedFocus FocusArea       `json:"requested_focus"`
	FocusFallback  bool            `json:"focus_fallback"`
	Allocation     []int           `json:"allocation,omitempty"`
	Status         ChallengeStatus `json:"status"`
	SessionID      string          `json:"session_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
}

// Expired reports whether the challenge is past its expiry at now.
func (c Challenge) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// SessionView combines a session with its answer log for review.
type SessionView struct {
	Session QuizSession    `json:"session"`
	Answers []AnswerRecord `json:"answers"`
}

// QuizConfig holds runtime engine parameters set via CLI flags.
type QuizConfig struct {
	DefaultQuestionCount int
	StreakUp             int
	StreakDown           int
	MixTolerance         float64
	ChallengeTTL         time.Duration
}
