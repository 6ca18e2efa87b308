package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Frame types sent over the broadcast WebSocket.
const (
	FrameTypeConnection = "connection"
	FrameTypeComplete   = "generation-complete"
	FrameTypeProgress   = "generation-progress"
)

// Payload validation errors. Handlers map these to 400 responses.
var (
	ErrNotJSON        = errors.New("request body is not a JSON object")
	ErrMissingSuccess = errors.New("missing required field: success")
	ErrMissingData    = errors.New("success payload has no data object")
	ErrMissingError   = errors.New("failure payload has no error string")
)

// FlexIndex is a candidate index that tolerates the backend sending it as a
// JSON number, a numeric string, or null.
type FlexIndex int

// UnmarshalJSON accepts 2, "2" or null.
func (f *FlexIndex) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		*f = 0
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid candidate index %q: %w", string(data), err)
	}
	*f = FlexIndex(n)
	return nil
}

// MarshalJSON always emits a plain number.
func (f FlexIndex) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(f))), nil
}

// GenerationData is the result body carried by a successful completion.
// Implementations are kept as raw JSON: the relay forwards them, it does not
// interpret them.
type GenerationData struct {
	IsRefinement               bool              `json:"isRefinement,omitempty"`
	BackendAnswer              string            `json:"backendAnswer,omitempty"`
	BestImplementation         json.RawMessage   `json:"bestImplementation,omitempty"`
	OtherImplementations       []json.RawMessage `json:"otherImplementations,omitempty"`
	RefinedImplementation      json.RawMessage   `json:"refinedImplementation,omitempty"`
	RefinedImplementationIndex *FlexIndex        `json:"refinedImplementationIndex,omitempty"`
}

// WebhookPayload is a validated completion callback from the job runner.
// Either Data (Success true) or Error (Success false) is set, never both.
type WebhookPayload struct {
	SessionID      string
	Success        bool
	Data           *GenerationData
	Error          string
	ProcessingTime float64
	ReceivedAt     time.Time
}

// webhookBody is the wire shape of the webhook POST body.
type webhookBody struct {
	Success        *bool           `json:"success"`
	Data           *GenerationData `json:"data,omitempty"`
	Error          string          `json:"error,omitempty"`
	ProcessingTime float64         `json:"processingTime,omitempty"`
}

// ParseWebhookPayload validates a webhook POST body and returns the typed
// payload. The success flag selects which half of the union must be present;
// anything else is rejected so malformed shapes never reach a browser.
func ParseWebhookPayload(sessionID string, body []byte) (*WebhookPayload, error) {
	var wire webhookBody
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	if wire.Success == nil {
		return nil, ErrMissingSuccess
	}
	if *wire.Success {
		if wire.Data == nil {
			return nil, ErrMissingData
		}
	} else if wire.Error == "" {
		return nil, ErrMissingError
	}

	return &WebhookPayload{
		SessionID:      sessionID,
		Success:        *wire.Success,
		Data:           wire.Data,
		Error:          wire.Error,
		ProcessingTime: wire.ProcessingTime,
		ReceivedAt:     time.Now(),
	}, nil
}

// CompleteFrame is the normalized envelope broadcast to every connected
// WebSocket client when a completion arrives.
type CompleteFrame struct {
	Type           string          `json:"type"`
	SessionID      string          `json:"sessionId"`
	Success        bool            `json:"success"`
	Data           *GenerationData `json:"data,omitempty"`
	Error          string          `json:"error,omitempty"`
	ProcessingTime float64         `json:"processingTime,omitempty"`
}

// Frame converts the payload into its broadcast envelope.
func (p *WebhookPayload) Frame() CompleteFrame {
	return CompleteFrame{
		Type:           FrameTypeComplete,
		SessionID:      p.SessionID,
		Success:        p.Success,
		Data:           p.Data,
		Error:          p.Error,
		ProcessingTime: p.ProcessingTime,
	}
}

// ProgressFrame is a pass-through progress update. It is broadcast but never
// cached; a client that misses one loses nothing durable.
type ProgressFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Stage     string `json:"stage,omitempty"`
	Message   string `json:"message,omitempty"`
}

// progressBody is the wire shape of the progress POST body.
type progressBody struct {
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message,omitempty"`
}

// ParseProgressFrame validates a progress POST body.
func ParseProgressFrame(sessionID string, body []byte) (*ProgressFrame, error) {
	var wire progressBody
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	return &ProgressFrame{
		Type:      FrameTypeProgress,
		SessionID: sessionID,
		Stage:     wire.Stage,
		Message:   wire.Message,
	}, nil
}

// ConnectionFrame is sent to a client immediately after the WebSocket
// upgrade completes.
type ConnectionFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// NewConnectionFrame builds the confirmation frame for a fresh connection.
func NewConnectionFrame() ConnectionFrame {
	return ConnectionFrame{
		Type:      FrameTypeConnection,
		Message:   "connected to generation relay",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
