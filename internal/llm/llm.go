// Package llm writes feedback on completed quiz sessions through an
// OpenAI-compatible chat API.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/quizmaster/internal/llm/prompts"
	"github.com/pavelanni/quizmaster/internal/model"
)

// ErrNotCompleted is returned when a review is requested for a session that
// is still running.
var ErrNotCompleted = errors.New("session is not completed")

// Review is the model's feedback on one session.
type Review struct {
	SessionID string   `json:"session_id"`
	Summary   string   `json:"summary"`
	Strengths []string `json:"strengths"`
	Practice  []string `json:"practice"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// ReviewSession asks the model for feedback on a completed session. questions
// must hold every question referenced by the answer log.
func (c *Client) ReviewSession(ctx context.Context, audience prompts.Audience, view model.SessionView, questions map[int64]model.Question) (*Review, error) {
	if view.Session.Status != model.StatusCompleted {
		return nil, ErrNotCompleted
	}
	prompt, err := prompts.BuildReviewPrompt(audience, reviewData(view, questions))
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "session_id", view.Session.ID, "raw", raw)

	review, err := parseReview(raw)
	if err != nil {
		return nil, err
	}
	review.SessionID = view.Session.ID
	return review, nil
}

func reviewData(view model.SessionView, questions map[int64]model.Question) prompts.ReviewData {
	data := prompts.ReviewData{
		ScorePercentage: view.Session.ScorePercentage,
		Correct:         view.Session.CorrectCount,
		Answered:        view.Session.Answered(),
	}
	for i, a := range view.Answers {
		q := questions[a.QuestionID]
		var answer string
		if a.UserAnswer != nil {
			answer = *a.UserAnswer
		}
		data.Items = append(data.Items, prompts.ReviewItem{
			Number:        i + 1,
			Topic:         a.Topic,
			Difficulty:    string(a.DifficultyAtAsk),
			Question:      q.Text,
			Answer:        answer,
			CorrectAnswer: q.CorrectAnswer,
			IsCorrect:     a.IsCorrect,
		})
	}
	return data
}

func parseReview(raw string) (*Review, error) {
	var r Review
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}
	if r.Summary == "" {
		return nil, fmt.Errorf("LLM response has no summary (raw: %s)", raw)
	}
	return &r, nil
}
