// Package prompts renders the review prompts sent to the language model.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

//go:embed templates/*.txt
var templateFS embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// maxAnswerRunes bounds a single answer inside a prompt.
const maxAnswerRunes = 2000

// Audience selects who the review is written for.
type Audience string

const (
	// AudienceStudent addresses the student directly.
	AudienceStudent Audience = "student"
	// AudienceGuardian addresses a parent or teacher.
	AudienceGuardian Audience = "guardian"
)

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[Audience]*template.Template
)

// ReviewItem is one answered question in the review prompt.
type ReviewItem struct {
	Number        int
	Topic         string
	Difficulty    string
	Question      string
	Answer        string
	CorrectAnswer string
	IsCorrect     bool
}

// ReviewData holds template data for review prompts.
type ReviewData struct {
	ScorePercentage float64
	Correct         int
	Answered        int
	Items           []ReviewItem
}

func load() error {
	loadOnce.Do(func() {
		templates = make(map[Audience]*template.Template)
		for _, a := range []Audience{AudienceStudent, AudienceGuardian} {
			name := "templates/review_" + string(a) + ".txt"
			content, err := templateFS.ReadFile(name)
			if err != nil {
				loadErr = fmt.Errorf("read prompt file %s: %w", name, err)
				return
			}
			tmpl, err := template.New(string(a)).Parse(string(content))
			if err != nil {
				loadErr = fmt.Errorf("parse prompt template %s: %w", name, err)
				return
			}
			templates[a] = tmpl
		}
	})
	return loadErr
}

// BuildReviewPrompt renders the review prompt for the audience. Student
// answers are sanitized before they reach the template.
func BuildReviewPrompt(audience Audience, data ReviewData) (string, error) {
	if err := load(); err != nil {
		return "", err
	}
	tmpl, ok := templates[audience]
	if !ok {
		return "", fmt.Errorf("unknown prompt audience %q", audience)
	}

	items := make([]ReviewItem, len(data.Items))
	for i, it := range data.Items {
		it.Answer = sanitizeAnswer(it.Answer)
		items[i] = it
	}
	data.Items = items

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + " [truncated]"
	}
	return answer
}
