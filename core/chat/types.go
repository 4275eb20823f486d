// Package chat keeps the per-owner timeline of generation exchanges,
// grouped into named sessions.
//
// State is immutable: every mutation is a pure reducer producing a new State,
// applied under the store lock and persisted right after.
package chat

import (
	"errors"
	"time"

	"github.com/mudler/genstudio/core/params"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Status is the lifecycle of an assistant message.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

const DefaultSessionName = "New chat"

// InterruptedGeneration is the error of a placeholder found still processing
// when a saved timeline is hydrated: nothing will ever settle it.
const InterruptedGeneration = "The generation was interrupted before it finished. Please try again."

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrMessageSettled  = errors.New("message already reached a terminal status")
)

type UserContent struct {
	Prompt       string                  `json:"prompt"`
	Attachments  []params.ImageReference `json:"attachments,omitempty"`
	AutoAttached *params.ImageReference  `json:"autoAttached,omitempty"`
	ModelID      string                  `json:"modelId"`
	ModelName    string                  `json:"modelName,omitempty"`
	Parameters   *params.Store           `json:"parameters,omitempty"`
}

type AssistantContent struct {
	Status  Status   `json:"status"`
	Outputs []string `json:"outputs,omitempty"`
	IsVideo bool     `json:"isVideo,omitempty"`
	Seed    *int64   `json:"seed,omitempty"`
	Error   string   `json:"error,omitempty"`
	ModelID string   `json:"modelId,omitempty"`
}

type Content struct {
	Text      string            `json:"text,omitempty"`
	User      *UserContent      `json:"user,omitempty"`
	Assistant *AssistantContent `json:"assistant,omitempty"`
}

type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	Content   Content   `json:"content"`
}

type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Messages  []Message `json:"messages"`
}

// SessionSummary is a session without its messages.
type SessionSummary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
	Current      bool      `json:"current"`
}

// State is the whole persisted timeline of one owner. Treat it as a value:
// reducers never modify the State they receive.
type State struct {
	Sessions           []Session `json:"sessions"`
	CurrentSessionID   string    `json:"currentSessionId"`
	AutoAttachDisabled bool      `json:"autoAttachDisabled"`
}

// Settlement is the terminal outcome written into a placeholder.
type Settlement struct {
	Status  Status
	Outputs []string
	IsVideo bool
	Seed    *int64
	Error   string
}

// NewUserMessage builds a user turn.
func NewUserMessage(id string, at time.Time, c UserContent) Message {
	return Message{ID: id, Role: RoleUser, CreatedAt: at, Content: Content{User: &c}}
}

// NewPlaceholder builds an assistant message in the processing status.
func NewPlaceholder(id string, at time.Time, modelID string) Message {
	return Message{
		ID:        id,
		Role:      RoleAssistant,
		CreatedAt: at,
		Content:   Content{Assistant: &AssistantContent{Status: StatusProcessing, ModelID: modelID}},
	}
}

// Status returns the assistant status, empty for other roles.
func (m Message) Status() Status {
	if m.Content.Assistant == nil {
		return ""
	}
	return m.Content.Assistant.Status
}

func (m Message) clone() Message {
	if u := m.Content.User; u != nil {
		c := *u
		c.Attachments = append([]params.ImageReference(nil), u.Attachments...)
		if u.AutoAttached != nil {
			ref := *u.AutoAttached
			c.AutoAttached = &ref
		}
		if u.Parameters != nil {
			c.Parameters = u.Parameters.Clone()
		}
		m.Content.User = &c
	}
	if a := m.Content.Assistant; a != nil {
		c := *a
		c.Outputs = append([]string(nil), a.Outputs...)
		if a.Seed != nil {
			seed := *a.Seed
			c.Seed = &seed
		}
		m.Content.Assistant = &c
	}
	return m
}

func (s Session) clone() Session {
	msgs := make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		msgs[i] = m.clone()
	}
	s.Messages = msgs
	return s
}

func (s Session) summary(current string) SessionSummary {
	return SessionSummary{
		ID:           s.ID,
		Name:         s.Name,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		MessageCount: len(s.Messages),
		Current:      s.ID == current,
	}
}
