package store

import (
	"time"

	"github.com/google/uuid"
)

// Author kinds for chat messages.
const (
	AuthorUser      = "user"
	AuthorAssistant = "assistant"
)

// MessageOption is an interactive choice offered to the user alongside a
// message (e.g. a restart affordance on an error message).
type MessageOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Message is one entry in a session's conversation. Messages are immutable
// once created.
type Message struct {
	ID        string          `json:"id"`
	Author    string          `json:"author"`
	Content   string          `json:"content"`
	Options   []MessageOption `json:"options,omitempty"`
	IsError   bool            `json:"isError,omitempty"`
	HasResult bool            `json:"hasResult,omitempty"`
	ResultRef string          `json:"resultRef,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage builds a message with a fresh id and timestamp.
func NewMessage(author, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Author:    author,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// NewErrorMessage builds an assistant error message carrying the given
// interactive options.
func NewErrorMessage(content string, opts ...MessageOption) Message {
	m := NewMessage(AuthorAssistant, content)
	m.IsError = true
	m.Options = opts
	return m
}

// Implementation is one generated candidate as returned by the backend.
// The code and its metadata are opaque to this client.
type Implementation struct {
	ClassName string  `json:"className,omitempty"`
	Code      string  `json:"code,omitempty"`
	Score     float64 `json:"score,omitempty"`
	Model     string  `json:"model,omitempty"`
}

// GenerationResult is a session's current set of candidates plus which one
// is highlighted.
type GenerationResult struct {
	IsRefinement  bool             `json:"isRefinement,omitempty"`
	BackendAnswer string           `json:"backendAnswer,omitempty"`
	Candidates    []Implementation `json:"candidates,omitempty"`
	SelectedIndex int              `json:"selectedIndex"`
}

// LQLStatus records the outcome of validating the session's LQL document.
type LQLStatus struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Session is the store-owned conversation and generation state record.
// The orchestrator holds a cached copy plus a current-session-id pointer;
// the store remains the source of truth.
type Session struct {
	ID        string             `json:"id"`
	Name      string             `json:"name,omitempty"`
	Messages  []Message          `json:"messages,omitempty"`
	Result    *GenerationResult  `json:"result,omitempty"`
	LQL       *LQLStatus         `json:"lql,omitempty"`
	Settings  *GenerationOptions `json:"settings,omitempty"`
	CreatedAt time.Time          `json:"createdAt,omitempty"`
	UpdatedAt time.Time          `json:"updatedAt,omitempty"`
}
