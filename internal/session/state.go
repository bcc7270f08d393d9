// Package session holds per-session chat state and the registry that owns it.
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pricefinder/pricefinder/internal/domain"
)

const (
	// DefaultMaxMessages is the transcript cap used when none is configured.
	DefaultMaxMessages = 100
	// SearchHistoryLimit is the number of distinct queries kept per session.
	SearchHistoryLimit = 10
	// DefaultWelcomeMessage seeds every new transcript.
	DefaultWelcomeMessage = "안녕하세요! 최저가 쇼핑 도우미입니다. 어떤 상품을 찾고 계신가요?"
)

// ErrInvalidRole is returned when a message role is neither user nor assistant.
var ErrInvalidRole = errors.New("invalid message role")

// Options configures a State.
type Options struct {
	MaxMessages    int
	WelcomeMessage string
	// NewID generates session identifiers. Defaults to uuid.NewString.
	NewID func() string
}

func (o Options) withDefaults() Options {
	if o.MaxMessages < 2 {
		o.MaxMessages = DefaultMaxMessages
	}
	if o.WelcomeMessage == "" {
		o.WelcomeMessage = DefaultWelcomeMessage
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return o
}

// data is the full session contents. It is always replaced as a unit.
type data struct {
	id        string
	messages  []domain.ChatMessage
	history   []string
	products  []domain.Product
	createdAt time.Time
	updatedAt time.Time
}

// State is the conversation state of one chat session. It performs no I/O
// and is owned by a single session; it is not safe for concurrent writers.
type State struct {
	opts Options
	d    *data
}

// New creates an uninitialized State. Call Initialize before use.
func New(opts Options) *State {
	return &State{opts: opts.withDefaults()}
}

// Initialize creates the session contents if they do not exist yet.
// Calling it on an initialized State is a no-op.
func (s *State) Initialize() {
	if s.d != nil {
		return
	}
	now := time.Now()
	s.d = &data{
		id: s.opts.NewID(),
		messages: []domain.ChatMessage{
			{Role: domain.RoleAssistant, Content: s.opts.WelcomeMessage},
		},
		history:   []string{},
		products:  []domain.Product{},
		createdAt: now,
		updatedAt: now,
	}
}

// Initialized reports whether Initialize has run since creation or the last Clear.
func (s *State) Initialized() bool {
	return s.d != nil
}

// Clear discards everything and initializes a fresh session with a new ID.
func (s *State) Clear() {
	s.d = nil
	s.Initialize()
}

// AddMessage appends a message to the transcript. When the transcript grows
// past the cap, the welcome message at index 0 is kept together with the
// newest MaxMessages-1 messages.
func (s *State) AddMessage(role domain.Role, content string) error {
	if !role.Valid() {
		return ErrInvalidRole
	}
	s.Initialize()

	s.d.messages = append(s.d.messages, domain.ChatMessage{Role: role, Content: content})
	s.d.messages = capMessages(s.d.messages, s.opts.MaxMessages)
	s.touch()
	return nil
}

// AddSearchHistory records a query unless an identical one is already
// present. Only the most recent SearchHistoryLimit entries are kept.
func (s *State) AddSearchHistory(query string) {
	s.Initialize()

	for _, q := range s.d.history {
		if q == query {
			return
		}
	}
	s.d.history = append(s.d.history, query)
	s.d.history = capHistory(s.d.history, SearchHistoryLimit)
	s.touch()
}

// SetCurrentProducts replaces the current product list.
func (s *State) SetCurrentProducts(products []domain.Product) {
	s.Initialize()

	s.d.products = append([]domain.Product(nil), products...)
	if s.d.products == nil {
		s.d.products = []domain.Product{}
	}
	s.touch()
}

// ID returns the session identifier, or "" before Initialize.
func (s *State) ID() string {
	if s.d == nil {
		return ""
	}
	return s.d.id
}

// Messages returns a copy of the transcript.
func (s *State) Messages() []domain.ChatMessage {
	if s.d == nil {
		return nil
	}
	return append([]domain.ChatMessage(nil), s.d.messages...)
}

// SearchHistory returns a copy of the recorded queries, oldest first.
func (s *State) SearchHistory() []string {
	if s.d == nil {
		return nil
	}
	return append([]string{}, s.d.history...)
}

// RecentSearches returns up to n of the latest queries, newest first.
func (s *State) RecentSearches(n int) []string {
	history := s.SearchHistory()
	if n > len(history) {
		n = len(history)
	}
	recent := make([]string, 0, n)
	for i := len(history) - 1; i >= len(history)-n; i-- {
		recent = append(recent, history[i])
	}
	return recent
}

// CurrentProducts returns a copy of the products from the last search.
func (s *State) CurrentProducts() []domain.Product {
	if s.d == nil {
		return nil
	}
	return append([]domain.Product{}, s.d.products...)
}

// UpdatedAt returns the time of the last mutation.
func (s *State) UpdatedAt() time.Time {
	if s.d == nil {
		return time.Time{}
	}
	return s.d.updatedAt
}

// Snapshot returns the persisted form of the session for clientID.
func (s *State) Snapshot(clientID string) *domain.SessionRecord {
	s.Initialize()
	return &domain.SessionRecord{
		ClientID:        clientID,
		SessionID:       s.d.id,
		Messages:        s.Messages(),
		SearchHistory:   s.SearchHistory(),
		CurrentProducts: s.CurrentProducts(),
		CreatedAt:       s.d.createdAt,
		UpdatedAt:       s.d.updatedAt,
	}
}

// Restore replaces the session contents with rec. Both caps are re-applied
// and a record with no messages gets the welcome message seeded.
func (s *State) Restore(rec *domain.SessionRecord) {
	if rec == nil || rec.SessionID == "" {
		s.Clear()
		return
	}

	d := &data{
		id:        rec.SessionID,
		messages:  append([]domain.ChatMessage(nil), rec.Messages...),
		history:   append([]string{}, rec.SearchHistory...),
		products:  append([]domain.Product{}, rec.CurrentProducts...),
		createdAt: rec.CreatedAt,
		updatedAt: rec.UpdatedAt,
	}
	if len(d.messages) == 0 {
		d.messages = []domain.ChatMessage{{Role: domain.RoleAssistant, Content: s.opts.WelcomeMessage}}
	}
	d.messages = capMessages(d.messages, s.opts.MaxMessages)
	d.history = capHistory(d.history, SearchHistoryLimit)
	s.d = d
}

func (s *State) touch() {
	s.d.updatedAt = time.Now()
}

// capMessages keeps index 0 and the newest limit-1 messages.
func capMessages(msgs []domain.ChatMessage, limit int) []domain.ChatMessage {
	if len(msgs) <= limit {
		return msgs
	}
	kept := make([]domain.ChatMessage, 0, limit)
	kept = append(kept, msgs[0])
	kept = append(kept, msgs[len(msgs)-(limit-1):]...)
	return kept
}

// capHistory is a plain trailing window; index 0 gets no special treatment.
func capHistory(history []string, limit int) []string {
	if len(history) <= limit {
		return history
	}
	return append([]string{}, history[len(history)-limit:]...)
}
