package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MaxTopicSelectors bounds the selector list of an advanced scope.
const MaxTopicSelectors = 10

// Scope is the question source of a session: either a single module or an
// ordered list of topic selectors. Exactly one of ModuleScope or TopicsScope
// implements it.
type Scope interface {
	scopeKind() string
}

// ModuleScope selects every question of one module.
type ModuleScope struct {
	ModuleID string `json:"module_id"`
}

func (ModuleScope) scopeKind() string { return "module" }

// TopicSelector addresses one topic, optionally narrowed to some subtopics.
// Subtopics are tags inside the topic and are never addressed on their own.
type TopicSelector struct {
	Subject   string   `json:"subject"`
	Topic     string   `json:"topic"`
	Subtopics []string `json:"subtopics,omitempty"`
}

// Matches reports whether q falls under the selector.
func (s TopicSelector) Matches(q Question) bool {
	if q.Subject != s.Subject || q.Topic != s.Topic {
		return false
	}
	if len(s.Subtopics) == 0 {
		return true
	}
	for _, st := range s.Subtopics {
		if st == q.Subtopic {
			return true
		}
	}
	return false
}

// TopicsScope is the multi-topic scope of an advanced challenge.
type TopicsScope struct {
	Selectors []TopicSelector `json:"selectors"`
}

func (TopicsScope) scopeKind() string { return "topics" }

// SlotOf returns the index of the first selector matching q, or -1.
func (s TopicsScope) SlotOf(q Question) int {
	for i, sel := range s.Selectors {
		if sel.Matches(q) {
			return i
		}
	}
	return -1
}

// Validate checks the selector list: at most MaxTopicSelectors entries, each
// with a subject and topic, and no blank subtopic.
func (s TopicsScope) Validate() error {
	if len(s.Selectors) > MaxTopicSelectors {
		return Invalid("scope", "too_many_selectors", map[string]any{"Max": MaxTopicSelectors})
	}
	for i, sel := range s.Selectors {
		if strings.TrimSpace(sel.Subject) == "" || strings.TrimSpace(sel.Topic) == "" {
			return Invalid(fmt.Sprintf("scope.selectors[%d]", i), "subject_topic_required", nil)
		}
		for _, st := range sel.Subtopics {
			if strings.TrimSpace(st) == "" {
				return Invalid(fmt.Sprintf("scope.selectors[%d].subtopics", i), "required", nil)
			}
		}
	}
	return nil
}

// ScopeEmpty reports whether a scope addresses nothing.
func ScopeEmpty(s Scope) bool {
	switch sc := s.(type) {
	case ModuleScope:
		return sc.ModuleID == ""
	case TopicsScope:
		return len(sc.Selectors) == 0
	case nil:
		return true
	default:
		panic(fmt.Sprintf("unknown scope %T", s))
	}
}

type scopeEnvelope struct {
	Kind     string          `json:"kind"`
	ModuleID string          `json:"module_id,omitempty"`
	Topics   []TopicSelector `json:"selectors,omitempty"`
}

// EncodeScope serializes a scope for storage.
func EncodeScope(s Scope) (string, error) {
	var env scopeEnvelope
	switch sc := s.(type) {
	case ModuleScope:
		env = scopeEnvelope{Kind: sc.scopeKind(), ModuleID: sc.ModuleID}
	case TopicsScope:
		env = scopeEnvelope{Kind: sc.scopeKind(), Topics: sc.Selectors}
	default:
		return "", fmt.Errorf("encode scope: unsupported type %T", s)
	}
	b, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeScope parses a scope produced by EncodeScope.
func DecodeScope(raw string) (Scope, error) {
	var env scopeEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("decode scope: %w", err)
	}
	switch env.Kind {
	case "module":
		return ModuleScope{ModuleID: env.ModuleID}, nil
	case "topics":
		return TopicsScope{Selectors: env.Topics}, nil
	}
	return nil, fmt.Errorf("decode scope: unknown kind %q", env.Kind)
}
