// Package chat runs conversation turns against the agent API.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pricefinder/pricefinder/internal/bridge"
	"github.com/pricefinder/pricefinder/internal/config"
	"github.com/pricefinder/pricefinder/internal/domain"
	"github.com/pricefinder/pricefinder/internal/session"
)

var (
	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrIndexOutOfRange is returned for a history or quick-search index that does not exist.
	ErrIndexOutOfRange = errors.New("index out of range")
)

// Phase is a step of the turn state machine.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseSending   Phase = "sending"
	PhaseSucceeded Phase = "succeeded"
	PhaseTimedOut  Phase = "timed_out"
	PhaseFailed    Phase = "failed"
)

// TurnOutcome is the result of a completed turn.
type TurnOutcome struct {
	Phase  Phase         `json:"phase"`
	Reply  string        `json:"reply"`
	Result bridge.Result `json:"-"`
}

// Agent is the outbound side of a turn.
type Agent interface {
	SendMessage(ctx context.Context, message, sessionID string) bridge.Result
	SearchProducts(ctx context.Context, query string) bridge.Result
}

// Controller drives turns for sessions held in a registry.
type Controller struct {
	agent           Agent
	registry        *session.Registry
	ui              config.UIConfig
	showErrorDetail bool
	convLog         ConversationLogger
	logger          *slog.Logger

	mu     sync.Mutex
	phases map[string]Phase
}

// Option configures a Controller.
type Option func(*Controller)

// WithConversationLogger records every turn to l.
func WithConversationLogger(l ConversationLogger) Option {
	return func(c *Controller) {
		if l != nil {
			c.convLog = l
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewController creates a controller.
func NewController(agent Agent, registry *session.Registry, ui config.UIConfig, showErrorDetail bool, opts ...Option) *Controller {
	c := &Controller{
		agent:           agent,
		registry:        registry,
		ui:              ui,
		showErrorDetail: showErrorDetail,
		convLog:         NoopConversationLogger(),
		logger:          slog.Default(),
		phases:          make(map[string]Phase),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UI returns the configured user-facing strings.
func (c *Controller) UI() config.UIConfig {
	return c.ui
}

// Phase reports where the client's current turn is.
func (c *Controller) Phase(clientID string) Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.phases[clientID]; ok {
		return p
	}
	return PhaseIdle
}

func (c *Controller) setPhase(clientID string, p Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p == PhaseIdle {
		delete(c.phases, clientID)
		return
	}
	c.phases[clientID] = p
}

// Send submits free text: the text is appended as a user message and
// recorded in search history, then forwarded to the agent. Exactly one
// assistant message is appended whatever the outcome.
func (c *Controller) Send(ctx context.Context, e *session.Entry, text string) (*TurnOutcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	return c.converse(ctx, e, text, true)
}

// Replay re-sends one of the most recent searches (index 0 is the newest)
// without recording it in history again.
func (c *Controller) Replay(ctx context.Context, e *session.Entry, index int) (*TurnOutcome, error) {
	var recent []string
	e.View(func(s *session.State) { recent = s.RecentSearches(session.RecentSearchLimit) })
	if index < 0 || index >= len(recent) {
		return nil, fmt.Errorf("%w: history %d", ErrIndexOutOfRange, index)
	}
	return c.converse(ctx, e, recent[index], false)
}

// QuickSearch appends the configured quick-search query as a user message
// and records it in history. No agent call is made.
func (c *Controller) QuickSearch(ctx context.Context, e *session.Entry, index int) (string, error) {
	if index < 0 || index >= len(c.ui.QuickSearches) {
		return "", fmt.Errorf("%w: quick search %d", ErrIndexOutOfRange, index)
	}
	query := c.ui.QuickSearches[index].Query

	if !e.BeginTurn() {
		return "", session.ErrTurnInProgress
	}
	defer e.EndTurn()

	var sessionID string
	if err := e.Update(func(s *session.State) error {
		sessionID = s.ID()
		if err := s.AddMessage(domain.RoleUser, query); err != nil {
			return err
		}
		s.AddSearchHistory(query)
		return nil
	}); err != nil {
		return "", err
	}
	c.logEvent(e.ClientID(), sessionID, "inbound", "quick_search", query, nil)
	c.save(ctx, e)
	return query, nil
}

// Search runs a product search. On success the session's current products
// are replaced and the agent's message is appended; on failure the
// configured error message is appended.
func (c *Controller) Search(ctx context.Context, e *session.Entry, query string) (*TurnOutcome, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyMessage
	}
	if !e.BeginTurn() {
		return nil, session.ErrTurnInProgress
	}
	defer e.EndTurn()

	clientID := e.ClientID()
	c.setPhase(clientID, PhaseSending)
	defer c.setPhase(clientID, PhaseIdle)

	var sessionID string
	if err := e.Update(func(s *session.State) error {
		sessionID = s.ID()
		s.AddSearchHistory(query)
		return nil
	}); err != nil {
		return nil, err
	}
	c.logEvent(clientID, sessionID, "inbound", "search_query", query, nil)
	c.save(ctx, e)

	res := c.agent.SearchProducts(ctx, query)

	out := &TurnOutcome{Phase: phaseFor(res), Result: res}
	c.setPhase(clientID, out.Phase)
	switch {
	case res.Failed():
		out.Reply = c.failureReply(res)
	case len(res.Products) == 0:
		out.Reply = c.ui.NoResultsMessage
	case res.Message == "":
		out.Reply = c.ui.NoResponseMessage
	default:
		out.Reply = res.Message
	}

	if err := e.Update(func(s *session.State) error {
		if !res.Failed() {
			s.SetCurrentProducts(res.Products)
		}
		return s.AddMessage(domain.RoleAssistant, out.Reply)
	}); err != nil {
		return nil, err
	}
	c.logEvent(clientID, sessionID, "outbound", "search_result", out.Reply, map[string]any{
		"kind":     string(res.Kind),
		"products": len(res.Products),
		"elapsed":  res.Elapsed.String(),
	})
	c.save(ctx, e)
	return out, nil
}

func (c *Controller) converse(ctx context.Context, e *session.Entry, text string, record bool) (*TurnOutcome, error) {
	if !e.BeginTurn() {
		return nil, session.ErrTurnInProgress
	}
	defer e.EndTurn()

	clientID := e.ClientID()
	c.setPhase(clientID, PhaseSending)
	defer c.setPhase(clientID, PhaseIdle)

	var sessionID string
	if err := e.Update(func(s *session.State) error {
		sessionID = s.ID()
		if err := s.AddMessage(domain.RoleUser, text); err != nil {
			return err
		}
		if record {
			s.AddSearchHistory(text)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	c.logEvent(clientID, sessionID, "inbound", "chat_user_message", text, nil)
	c.save(ctx, e)

	res := c.agent.SendMessage(ctx, text, sessionID)
	out := &TurnOutcome{Phase: phaseFor(res), Result: res, Reply: c.reply(res)}
	c.setPhase(clientID, out.Phase)

	if err := e.Update(func(s *session.State) error {
		return s.AddMessage(domain.RoleAssistant, out.Reply)
	}); err != nil {
		return nil, err
	}

	c.logger.Info("Chat turn completed",
		"client_id", clientID,
		"session_id", sessionID,
		"phase", out.Phase,
		"kind", res.Kind,
		"elapsed", res.Elapsed,
	)
	c.logEvent(clientID, sessionID, "outbound", "chat_assistant_message", out.Reply, map[string]any{
		"kind":    string(res.Kind),
		"elapsed": res.Elapsed.String(),
	})
	c.save(ctx, e)
	return out, nil
}

// reply maps a chat result to the assistant text.
func (c *Controller) reply(res bridge.Result) string {
	if !res.Failed() {
		if !res.HasResponse {
			return c.ui.NoResponseMessage
		}
		return res.Response
	}
	return c.failureReply(res)
}

func (c *Controller) failureReply(res bridge.Result) string {
	if res.Kind == bridge.KindServiceReported || !c.showErrorDetail {
		return c.ui.ErrorMessage
	}
	return c.ui.ErrorMessage + "\nDetail: " + res.Error
}

func phaseFor(res bridge.Result) Phase {
	switch res.Kind {
	case bridge.KindOK:
		return PhaseSucceeded
	case bridge.KindTimeout:
		return PhaseTimedOut
	default:
		return PhaseFailed
	}
}

// save persists the entry. Persistence is best effort: a failed write is
// logged and the in-memory session stays authoritative.
func (c *Controller) save(ctx context.Context, e *session.Entry) {
	if err := c.registry.Save(context.WithoutCancel(ctx), e); err != nil {
		c.logger.Warn("Failed to persist session", "client_id", e.ClientID(), "error", err)
	}
}

func (c *Controller) logEvent(clientID, sessionID, direction, eventType, content string, meta map[string]any) {
	c.convLog.Log(ConversationLogEvent{
		ClientID:   clientID,
		SessionID:  sessionID,
		Channel:    "chat_http",
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Metadata:   meta,
	})
}
