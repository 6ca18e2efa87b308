// Package orchestrator sequences generation and refinement requests and
// their eventual asynchronous results into consistent session state.
//
// A request runs as: relay health pre-flight, submit to the session store,
// subscribe to the relay for the accepted job, then adopt the completion
// when it arrives. The store stays the source of truth: a successful
// completion triggers a full session reload rather than trusting the
// webhook payload alone.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/codecowboy/cowboy/internal/relayclient"
	"github.com/codecowboy/cowboy/internal/store"
)

// ErrRelayUnreachable means the pre-flight health check failed and no job
// was submitted.
var ErrRelayUnreachable = errors.New("relay is not reachable")

// OptionRestart is the interactive option id attached to error messages so
// the user can retry the failed operation.
const OptionRestart = "restart"

// DefaultHealthTimeout bounds the pre-flight health check.
const DefaultHealthTimeout = 3 * time.Second

// relayLink is the slice of the relay client the orchestrator uses.
type relayLink interface {
	Subscribe(sessionID string, opts ...relayclient.SubscribeOption) *relayclient.Subscription
	Unsubscribe(sessionID string)
	Status() relayclient.Status
}

// sessionStore is the slice of the store client the orchestrator uses.
type sessionStore interface {
	CreateSession(ctx context.Context, name string) (*store.Session, error)
	GetSession(ctx context.Context, sessionID string) (*store.Session, error)
	Generate(ctx context.Context, req store.GenerationRequest) (*store.Submission, error)
	Refine(ctx context.Context, req store.RefinementRequest) (*store.Submission, error)
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Relay relayLink
	Store sessionStore
	// HealthURL is the relay's HTTP health endpoint.
	HealthURL string
	// HealthTimeout bounds the pre-flight check (default 3s).
	HealthTimeout time.Duration
	// HTTPClient is used for the health check. Defaults to a short-timeout
	// client.
	HTTPClient *http.Client
	Logger     *slog.Logger
	// OnProgress, if set, receives progress updates for the running job.
	OnProgress func(relayclient.ProgressEvent)
}

// Orchestrator owns the current session and its generation lifecycle.
// Construct it with New and inject it from the composition root.
type Orchestrator struct {
	relay      relayLink
	store      sessionStore
	healthURL  string
	healthWait time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	onProgress func(relayclient.ProgressEvent)

	mu         sync.Mutex
	current    *store.Session
	generating bool
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = DefaultHealthTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.HealthTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Orchestrator{
		relay:      cfg.Relay,
		store:      cfg.Store,
		healthURL:  cfg.HealthURL,
		healthWait: cfg.HealthTimeout,
		httpClient: cfg.HTTPClient,
		logger:     logger,
		onProgress: cfg.OnProgress,
	}
}

// NewSession creates a session in the store and makes it current.
func (o *Orchestrator) NewSession(ctx context.Context, name string) (*store.Session, error) {
	s, err := o.store.CreateSession(ctx, name)
	if err != nil {
		return nil, err
	}
	o.switchTo(s)
	return s, nil
}

// OpenSession loads a stored session and makes it current, abandoning any
// subscription held for the previously current session.
func (o *Orchestrator) OpenSession(ctx context.Context, sessionID string) (*store.Session, error) {
	s, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	o.switchTo(s)
	return s, nil
}

func (o *Orchestrator) switchTo(s *store.Session) {
	o.mu.Lock()
	prev := o.current
	o.current = s
	o.generating = false
	o.mu.Unlock()

	if prev != nil && prev.ID != s.ID {
		o.relay.Unsubscribe(prev.ID)
	}
}

// Current returns a snapshot of the current session, or nil.
func (o *Orchestrator) Current() *store.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return nil
	}
	snapshot := *o.current
	return &snapshot
}

// Generating reports whether a job is outstanding for the current session.
func (o *Orchestrator) Generating() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.generating
}

// Abandon locally forgets an outstanding job: the subscription is removed
// and the busy flag cleared. The backend job, if any, runs to completion
// and its webhook is dropped by the relay client.
func (o *Orchestrator) Abandon(sessionID string) {
	o.relay.Unsubscribe(sessionID)
	o.mu.Lock()
	if o.current != nil && o.current.ID == sessionID {
		o.generating = false
	}
	o.mu.Unlock()
}

// StartGeneration runs the pre-flight, submits a generation job and
// subscribes for its completion. It returns once the job is accepted; the
// result is adopted asynchronously.
func (o *Orchestrator) StartGeneration(ctx context.Context, req store.GenerationRequest) error {
	if err := o.preflight(ctx); err != nil {
		o.appendError(req.SessionID,
			"The generation relay is not running. Start it with \"cowboy relay\" and try again.")
		return err
	}

	ticket, err := o.store.Generate(ctx, req)
	if err != nil {
		o.reportSubmitFailure(req.SessionID, err)
		return err
	}

	o.awaitCompletion(ticket)
	return nil
}

// StartRefinement runs the pre-flight, submits a refinement job and
// subscribes for its completion.
func (o *Orchestrator) StartRefinement(ctx context.Context, req store.RefinementRequest) error {
	if err := o.preflight(ctx); err != nil {
		o.appendError(req.SessionID,
			"The generation relay is not running. Start it with \"cowboy relay\" and try again.")
		return err
	}

	ticket, err := o.store.Refine(ctx, req)
	if err != nil {
		o.reportSubmitFailure(req.SessionID, err)
		return err
	}

	o.awaitCompletion(ticket)
	return nil
}

// preflight verifies the relay's health endpoint answers within the
// configured timeout. Advisory only: a healthy relay now does not
// guarantee the webhook later.
func (o *Orchestrator) preflight(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, o.healthWait)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.healthURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRelayUnreachable, err)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRelayUnreachable, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health returned status %d", ErrRelayUnreachable, resp.StatusCode)
	}
	return nil
}

// awaitCompletion subscribes against an accepted submission and hands the
// subscription to the completion goroutine. Subscribing here, with the
// ticket in hand, keeps the subscription registered before the job can
// possibly finish.
func (o *Orchestrator) awaitCompletion(ticket *store.Submission) {
	var opts []relayclient.SubscribeOption
	if o.onProgress != nil {
		opts = append(opts, relayclient.WithProgress(o.onProgress))
	}
	sub := o.relay.Subscribe(ticket.SessionID, opts...)

	o.mu.Lock()
	o.generating = true
	o.mu.Unlock()

	go o.handleCompletion(ticket, sub)
}

// handleCompletion adopts one completion event into session state.
func (o *Orchestrator) handleCompletion(ticket *store.Submission, sub *relayclient.Subscription) {
	ev, ok := <-sub.C
	if !ok {
		return
	}

	o.mu.Lock()
	stale := o.current == nil || o.current.ID != ev.SessionID
	// Only the current session's job may clear the busy flag: a late
	// completion for a background session must not release an outstanding
	// job on the session the user is looking at.
	if !stale {
		o.generating = false
	}
	o.mu.Unlock()

	if stale {
		o.logger.Info("Completion for non-current session ignored",
			"session_id", ev.SessionID)
		return
	}

	if !ev.Success {
		o.logger.Warn("Generation failed", "session_id", ev.SessionID, "error", ev.Error)
		o.appendError(ev.SessionID, "Generation failed: "+ev.Error)
		return
	}

	selected := 0
	if ticket.Refinement && ev.Data != nil && ev.Data.RefinedImplementationIndex != nil {
		selected = int(*ev.Data.RefinedImplementationIndex)
	}

	o.logger.Info("Generation complete",
		"session_id", ev.SessionID,
		"refinement", ticket.Refinement,
		"processing_time", ev.ProcessingTime)

	// Reload the full session so server-authored messages arrive too.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	fresh, err := o.store.GetSession(ctx, ev.SessionID)
	if err != nil {
		o.logger.Error("Session reload after completion failed",
			"session_id", ev.SessionID, "error", err)
		o.appendError(ev.SessionID, "The result arrived but the session could not be reloaded: "+err.Error())
		return
	}
	if fresh.Result != nil {
		fresh.Result.SelectedIndex = selected
	}

	o.mu.Lock()
	if o.current != nil && o.current.ID == fresh.ID {
		o.current = fresh
	}
	o.mu.Unlock()
}

// reportSubmitFailure surfaces a rejected or failed submission. Prior
// result and history stay untouched apart from the appended error message.
func (o *Orchestrator) reportSubmitFailure(sessionID string, err error) {
	o.logger.Warn("Submission failed", "session_id", sessionID, "error", err)

	var rej *store.RejectionError
	if errors.As(err, &rej) {
		o.appendError(sessionID, rej.Message)
		return
	}
	o.appendError(sessionID, "The request could not be submitted: "+err.Error())
}

// appendError adds a client-local error message with a restart option to
// the current session's conversation. It is never posted to the store.
func (o *Orchestrator) appendError(sessionID, text string) {
	msg := store.NewErrorMessage(text, store.MessageOption{ID: OptionRestart, Label: "Restart"})

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil || o.current.ID != sessionID {
		return
	}
	o.current.Messages = append(o.current.Messages, msg)
}
