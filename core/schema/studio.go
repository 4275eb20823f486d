package schema

import (
	"encoding/json"

	"github.com/mudler/genstudio/core/chat"
	"github.com/mudler/genstudio/core/config"
	"github.com/mudler/genstudio/core/form"
	"github.com/mudler/genstudio/core/params"
)

// ModelSummary is a registry entry as listed by /api/models.
type ModelSummary struct {
	ID              string               `json:"id"`
	Name            string               `json:"name"`
	Description     string               `json:"description,omitempty"`
	DescriptionHTML string               `json:"description_html,omitempty"`
	Category        config.ModelCategory `json:"category"`
	Model           string               `json:"model"`
	Capabilities    config.Capabilities  `json:"capabilities"`
}

type ModelsResponse struct {
	Models []ModelSummary `json:"models"`
}

type WorkspaceResponse struct {
	Model      ModelSummary            `json:"model"`
	Params     *params.Store           `json:"params"`
	Validation config.ValidationReport `json:"validation"`
}

type FormResponse struct {
	ModelID string       `json:"model_id"`
	Fields  []form.Field `json:"fields"`
}

type SelectModelRequest struct {
	Model string `json:"model"`
}

type SetParamRequest struct {
	Value json.RawMessage `json:"value"`
}

type GenerateRequest struct {
	SessionID  string `json:"session_id,omitempty"`
	AutoAttach *bool  `json:"auto_attach,omitempty"`
	Wait       bool   `json:"wait,omitempty"`
}

// GenerateResponse is returned as soon as a generation was dispatched. When
// the client asked to wait, Message holds the settled assistant message.
type GenerateResponse struct {
	SessionID     string        `json:"session_id"`
	UserMessageID string        `json:"user_message_id"`
	MessageID     string        `json:"message_id"`
	Status        chat.Status   `json:"status"`
	Message       *chat.Message `json:"message,omitempty"`
}

type SessionRequest struct {
	Name string `json:"name"`
}

type SessionsResponse struct {
	CurrentSessionID string                `json:"current_session_id"`
	Sessions         []chat.SessionSummary `json:"sessions"`
}

type MessagesResponse struct {
	SessionID string         `json:"session_id"`
	Messages  []chat.Message `json:"messages"`
}

type AutoAttachResponse struct {
	Available bool   `json:"available"`
	URL       string `json:"url,omitempty"`
	Dismissed bool   `json:"dismissed"`
}
