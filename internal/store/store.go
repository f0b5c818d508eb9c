// Package store provides storage backends for LeadPulse.
//
// It persists conversation lifecycle state, scheduled follow-up messages,
// the evaluation audit trail, consultant preferences, follow-up rules and
// message templates. SQLite, PostgreSQL and in-memory implementations share
// the Store interface.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leadpulse/leadpulse/internal/models"
)

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store implementations.
type Option func(*Opts)

// WithSQLiteDSN sets a SQLite file path as the store DSN.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets a PostgreSQL connection string as the store DSN.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL-style connection strings and
// "sqlite" for anything else (assumed to be a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// Store is the persistence interface shared by all backends.
type Store interface {
	// Conversation state
	SaveConversationState(state *models.ConversationState) error
	GetConversationState(conversationID string) (*models.ConversationState, error)
	GetConversationByLeadPhone(phone string) (*models.ConversationState, error)
	ListCandidateConversations(now time.Time) ([]models.ConversationState, error)
	ListConversationsByState() (map[models.ConversationStateValue]int, error)
	IncrementFollowupCount(conversationID string, sentAt time.Time) error

	// Conversation transcript
	AddConversationMessage(conversationID string, m models.ConversationMessage) error
	GetRecentMessages(conversationID string, limit int) ([]models.ConversationMessage, error)
	GetLastInboundMessageTime(conversationID string) (*time.Time, error)

	// Scheduled follow-up messages
	CreateScheduledMessage(m *models.ScheduledFollowupMessage) error
	GetScheduledMessage(id string) (*models.ScheduledFollowupMessage, error)
	ListScheduledMessages(status models.ScheduledMessageStatus, limit int) ([]models.ScheduledFollowupMessage, error)
	ClaimDuePendingMessages(now time.Time, limit int) ([]models.ScheduledFollowupMessage, error)
	MarkMessageSent(id string, sentAt time.Time) error
	FailMessageAttempt(id string, errMsg string) error
	ReleaseMessageToPending(id string) error
	CancelScheduledMessage(id string, reason string) error
	ResetMessageForRetry(id string, scheduledFor time.Time) error
	RescheduleMessage(id string, scheduledFor time.Time) error
	RequeueStaleProcessingMessages(staleBefore time.Time) (int, error)
	CountMessagesByStatus() (map[models.ScheduledMessageStatus]int, error)

	// Evaluation audit trail
	AppendEvaluationLog(entry *models.FollowupAiEvaluationLog) error
	GetPreviousEvaluations(conversationID string, limit int) ([]models.PreviousEvaluation, error)

	// Consultant preferences
	GetPreferences(consultantID string) (*models.ConsultantAiPreferences, error)
	SavePreferences(p *models.ConsultantAiPreferences) error

	// Follow-up rules
	CreateFollowupRule(r *models.FollowupRule) error
	GetFollowupRule(id string) (*models.FollowupRule, error)
	ListFollowupRules(consultantID string) ([]models.FollowupRule, error)
	UpdateFollowupRule(r *models.FollowupRule) error
	DeleteFollowupRule(id string) error

	// Message templates
	SaveTemplate(t *models.MessageTemplate) error
	GetTemplate(id string) (*models.MessageTemplate, error)
	ListTemplates(consultantID string) ([]models.MessageTemplate, error)

	// Close releases the underlying resources.
	Close() error
}

// conversationRecord bundles the in-memory rows for one conversation.
type conversationRecord struct {
	state    models.ConversationState
	messages []models.ConversationMessage
}

// InMemoryStore is a map-backed Store used for tests and DSN-less runs.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*conversationRecord
	scheduled     map[string]models.ScheduledFollowupMessage
	evaluations   []models.FollowupAiEvaluationLog
	preferences   map[string]models.ConsultantAiPreferences
	rules         map[string]models.FollowupRule
	templates     map[string]models.MessageTemplate
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]*conversationRecord),
		scheduled:     make(map[string]models.ScheduledFollowupMessage),
		preferences:   make(map[string]models.ConsultantAiPreferences),
		rules:         make(map[string]models.FollowupRule),
		templates:     make(map[string]models.MessageTemplate),
	}
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

func (s *InMemoryStore) SaveConversationState(state *models.ConversationState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	rec, ok := s.conversations[state.ConversationID]
	if !ok {
		state.CreatedAt = now
		rec = &conversationRecord{}
		s.conversations[state.ConversationID] = rec
	} else {
		state.CreatedAt = rec.state.CreatedAt
	}
	state.UpdatedAt = now
	rec.state = *state
	return nil
}

func (s *InMemoryStore) GetConversationState(conversationID string) (*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.conversations[conversationID]
	if !ok {
		return nil, nil
	}
	state := rec.state
	return &state, nil
}

func (s *InMemoryStore) GetConversationByLeadPhone(phone string) (*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.conversations {
		if rec.state.LeadPhone == phone {
			state := rec.state
			return &state, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) ListCandidateConversations(now time.Time) ([]models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	enabled := make(map[string]bool)
	for _, r := range s.rules {
		if r.Enabled {
			enabled[r.ConsultantID] = true
		}
	}

	var out []models.ConversationState
	for _, rec := range s.conversations {
		st := rec.state
		if !st.Active || st.CurrentState.IsTerminal() || st.PermanentlyExcluded {
			continue
		}
		if st.DormantUntil != nil && st.DormantUntil.After(now) {
			continue
		}
		if !enabled[st.ConsultantID] {
			continue
		}
		if st.NextFollowupScheduledAt != nil && st.NextFollowupScheduledAt.After(now) {
			continue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConversationID < out[j].ConversationID })
	return out, nil
}

func (s *InMemoryStore) ListConversationsByState() (map[models.ConversationStateValue]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[models.ConversationStateValue]int)
	for _, rec := range s.conversations {
		counts[rec.state.CurrentState]++
	}
	return counts, nil
}

func (s *InMemoryStore) IncrementFollowupCount(conversationID string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.conversations[conversationID]
	if !ok {
		return models.ErrConversationNotFound
	}
	rec.state.FollowupCount++
	rec.state.LastFollowupAt = &sentAt
	rec.state.NextFollowupScheduledAt = nil
	rec.state.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) AddConversationMessage(conversationID string, m models.ConversationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.conversations[conversationID]
	if !ok {
		return models.ErrConversationNotFound
	}
	rec.messages = append(rec.messages, m)
	return nil
}

func (s *InMemoryStore) GetRecentMessages(conversationID string, limit int) ([]models.ConversationMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.conversations[conversationID]
	if !ok {
		return nil, nil
	}
	msgs := rec.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.ConversationMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *InMemoryStore) GetLastInboundMessageTime(conversationID string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.conversations[conversationID]
	if !ok {
		return nil, nil
	}
	for i := len(rec.messages) - 1; i >= 0; i-- {
		if rec.messages[i].Direction == models.DirectionInbound {
			t := rec.messages[i].SentAt
			return &t, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) CreateScheduledMessage(m *models.ScheduledFollowupMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = models.MessageStatusPending
	}
	if m.MaxAttempts == 0 {
		m.MaxAttempts = models.DefaultMessageMaxAttempts
	}
	now := time.Now()
	m.CreatedAt = now
	m.UpdatedAt = now
	s.scheduled[m.ID] = *m
	return nil
}

func (s *InMemoryStore) GetScheduledMessage(id string) (*models.ScheduledFollowupMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.scheduled[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *InMemoryStore) ListScheduledMessages(status models.ScheduledMessageStatus, limit int) ([]models.ScheduledFollowupMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ScheduledFollowupMessage
	for _, m := range s.scheduled {
		if status != "" && m.Status != status {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) ClaimDuePendingMessages(now time.Time, limit int) ([]models.ScheduledFollowupMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []models.ScheduledFollowupMessage
	for _, m := range s.scheduled {
		if m.Status == models.MessageStatusPending && !m.ScheduledFor.After(now) {
			due = append(due, m)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledFor.Before(due[j].ScheduledFor) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		m := s.scheduled[due[i].ID]
		m.Status = models.MessageStatusProcessing
		m.UpdatedAt = now
		s.scheduled[m.ID] = m
		due[i] = m
	}
	return due, nil
}

func (s *InMemoryStore) MarkMessageSent(id string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.scheduled[id]
	if !ok {
		return models.ErrMessageNotFound
	}
	m.Status = models.MessageStatusSent
	m.SentAt = &sentAt
	m.UpdatedAt = time.Now()
	s.scheduled[id] = m
	return nil
}

func (s *InMemoryStore) FailMessageAttempt(id string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.scheduled[id]
	if !ok {
		return models.ErrMessageNotFound
	}
	now := time.Now()
	m.AttemptCount++
	m.LastAttemptAt = &now
	m.ErrorMessage = errMsg
	if m.AttemptCount >= m.MaxAttempts {
		m.Status = models.MessageStatusFailed
	} else {
		m.Status = models.MessageStatusPending
	}
	m.UpdatedAt = now
	s.scheduled[id] = m
	return nil
}

func (s *InMemoryStore) ReleaseMessageToPending(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.scheduled[id]
	if !ok {
		return models.ErrMessageNotFound
	}
	if m.Status != models.MessageStatusProcessing {
		return nil
	}
	m.Status = models.MessageStatusPending
	m.UpdatedAt = time.Now()
	s.scheduled[id] = m
	return nil
}

func (s *InMemoryStore) CancelScheduledMessage(id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.scheduled[id]
	if !ok {
		return models.ErrMessageNotFound
	}
	// Cancellation only applies to pending messages; anything else is a no-op.
	if m.Status != models.MessageStatusPending {
		return nil
	}
	m.Status = models.MessageStatusCancelled
	m.CancellationReason = reason
	m.UpdatedAt = time.Now()
	s.scheduled[id] = m
	return nil
}

func (s *InMemoryStore) ResetMessageForRetry(id string, scheduledFor time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.scheduled[id]
	if !ok {
		return models.ErrMessageNotFound
	}
	if m.Status != models.MessageStatusFailed {
		return models.ErrMessageNotRetryable
	}
	m.Status = models.MessageStatusPending
	m.AttemptCount = 0
	m.ErrorMessage = ""
	m.ScheduledFor = scheduledFor
	m.UpdatedAt = time.Now()
	s.scheduled[id] = m
	return nil
}

func (s *InMemoryStore) RescheduleMessage(id string, scheduledFor time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.scheduled[id]
	if !ok {
		return models.ErrMessageNotFound
	}
	if m.Status != models.MessageStatusPending {
		return models.ErrMessageNotPending
	}
	m.ScheduledFor = scheduledFor
	m.UpdatedAt = time.Now()
	s.scheduled[id] = m
	return nil
}

func (s *InMemoryStore) RequeueStaleProcessingMessages(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, m := range s.scheduled {
		if m.Status == models.MessageStatusProcessing && m.UpdatedAt.Before(staleBefore) {
			m.Status = models.MessageStatusPending
			m.UpdatedAt = time.Now()
			s.scheduled[id] = m
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) CountMessagesByStatus() (map[models.ScheduledMessageStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[models.ScheduledMessageStatus]int)
	for _, m := range s.scheduled {
		counts[m.Status]++
	}
	return counts, nil
}

func (s *InMemoryStore) AppendEvaluationLog(entry *models.FollowupAiEvaluationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.evaluations = append(s.evaluations, *entry)
	return nil
}

func (s *InMemoryStore) GetPreviousEvaluations(conversationID string, limit int) ([]models.PreviousEvaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PreviousEvaluation
	for i := len(s.evaluations) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		e := s.evaluations[i]
		if e.ConversationID != conversationID {
			continue
		}
		out = append(out, models.PreviousEvaluation{
			Decision:        e.Decision,
			Reasoning:       e.Reasoning,
			Timestamp:       e.CreatedAt,
			ConfidenceScore: e.ConfidenceScore,
		})
	}
	return out, nil
}

func (s *InMemoryStore) GetPreferences(consultantID string) (*models.ConsultantAiPreferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.preferences[consultantID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *InMemoryStore) SavePreferences(p *models.ConsultantAiPreferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preferences[p.ConsultantID] = *p
	return nil
}

func (s *InMemoryStore) CreateFollowupRule(r *models.FollowupRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	s.rules[r.ID] = *r
	return nil
}

func (s *InMemoryStore) GetFollowupRule(id string) (*models.FollowupRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *InMemoryStore) ListFollowupRules(consultantID string) ([]models.FollowupRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.FollowupRule
	for _, r := range s.rules {
		if consultantID != "" && r.ConsultantID != consultantID {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *InMemoryStore) UpdateFollowupRule(r *models.FollowupRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.rules[r.ID]
	if !ok {
		return models.ErrRuleNotFound
	}
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = time.Now()
	s.rules[r.ID] = *r
	return nil
}

func (s *InMemoryStore) DeleteFollowupRule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return models.ErrRuleNotFound
	}
	delete(s.rules, id)
	return nil
}

func (s *InMemoryStore) SaveTemplate(t *models.MessageTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	s.templates[t.ID] = *t
	return nil
}

func (s *InMemoryStore) GetTemplate(id string) (*models.MessageTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *InMemoryStore) ListTemplates(consultantID string) ([]models.MessageTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.MessageTemplate
	for _, t := range s.templates {
		if consultantID != "" && t.ConsultantID != consultantID {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
