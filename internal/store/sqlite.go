// Package store provides storage backends for LeadPulse.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/leadpulse/leadpulse/internal/models"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	slog.Debug("SQLite database opened")

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	// Run migrations to ensure tables exist
	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveConversationState(state *models.ConversationState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	now := time.Now()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = now
	}
	state.UpdatedAt = now
	_, err := s.db.Exec(
		`INSERT INTO conversation_states (`+conversationStateColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(conversation_id) DO UPDATE SET
			consultant_id = excluded.consultant_id,
			lead_name = excluded.lead_name,
			lead_phone = excluded.lead_phone,
			current_state = excluded.current_state,
			previous_state = excluded.previous_state,
			followup_count = excluded.followup_count,
			max_followups_allowed = excluded.max_followups_allowed,
			consecutive_no_reply_count = excluded.consecutive_no_reply_count,
			engagement_score = excluded.engagement_score,
			conversion_probability = excluded.conversion_probability,
			temperature_level = excluded.temperature_level,
			has_asked_price = excluded.has_asked_price,
			has_mentioned_urgency = excluded.has_mentioned_urgency,
			has_said_no_explicitly = excluded.has_said_no_explicitly,
			discovery_completed = excluded.discovery_completed,
			demo_presented = excluded.demo_presented,
			last_followup_at = excluded.last_followup_at,
			next_followup_scheduled_at = excluded.next_followup_scheduled_at,
			dormant_until = excluded.dormant_until,
			dormant_reason = excluded.dormant_reason,
			permanently_excluded = excluded.permanently_excluded,
			last_ai_evaluation_at = excluded.last_ai_evaluation_at,
			ai_recommendation = excluded.ai_recommendation,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		state.ConversationID, state.ConsultantID, nilIfEmpty(state.LeadName), nilIfEmpty(state.LeadPhone),
		state.CurrentState, nilIfEmpty(string(state.PreviousState)),
		state.FollowupCount, state.MaxFollowupsAllowed, state.ConsecutiveNoReplyCount, state.EngagementScore,
		state.ConversionProbability, state.TemperatureLevel, state.HasAskedPrice, state.HasMentionedUrgency,
		state.HasSaidNoExplicitly, state.DiscoveryCompleted, state.DemoPresented,
		state.LastFollowupAt, state.NextFollowupScheduledAt, state.DormantUntil, nilIfEmpty(state.DormantReason),
		state.PermanentlyExcluded, state.LastAiEvaluationAt, nilIfEmpty(state.AiRecommendation),
		state.Active, state.CreatedAt, state.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore.SaveConversationState failed", "error", err, "conversationID", state.ConversationID)
		return fmt.Errorf("failed to save conversation state for %s: %w", state.ConversationID, err)
	}
	slog.Debug("SQLiteStore.SaveConversationState succeeded", "conversationID", state.ConversationID, "state", state.CurrentState)
	return nil
}

func (s *SQLiteStore) GetConversationState(conversationID string) (*models.ConversationState, error) {
	row := s.db.QueryRow(
		`SELECT `+conversationStateColumns+` FROM conversation_states WHERE conversation_id = ?`,
		conversationID,
	)
	c, err := scanConversationState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetConversationState failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to get conversation state for %s: %w", conversationID, err)
	}
	return &c, nil
}

func (s *SQLiteStore) GetConversationByLeadPhone(phone string) (*models.ConversationState, error) {
	row := s.db.QueryRow(
		`SELECT `+conversationStateColumns+` FROM conversation_states WHERE lead_phone = ? ORDER BY updated_at DESC LIMIT 1`,
		phone,
	)
	c, err := scanConversationState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetConversationByLeadPhone failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to get conversation by lead phone: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) ListCandidateConversations(now time.Time) ([]models.ConversationState, error) {
	rows, err := s.db.Query(
		`SELECT `+conversationStateColumns+` FROM conversation_states cs
		 WHERE cs.active = 1
		   AND cs.current_state NOT IN ('closed_won', 'closed_lost')
		   AND cs.permanently_excluded = 0
		   AND (cs.dormant_until IS NULL OR cs.dormant_until <= ?)
		   AND (cs.next_followup_scheduled_at IS NULL OR cs.next_followup_scheduled_at <= ?)
		   AND EXISTS (SELECT 1 FROM followup_rules r WHERE r.consultant_id = cs.consultant_id AND r.enabled = 1)
		 ORDER BY cs.conversation_id ASC`,
		now, now,
	)
	if err != nil {
		slog.Error("SQLiteStore.ListCandidateConversations query failed", "error", err)
		return nil, fmt.Errorf("failed to query candidate conversations: %w", err)
	}
	defer rows.Close()

	var out []models.ConversationState
	for rows.Next() {
		c, err := scanConversationState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation state row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candidate conversation rows: %w", err)
	}
	slog.Debug("SQLiteStore.ListCandidateConversations succeeded", "count", len(out))
	return out, nil
}

func (s *SQLiteStore) ListConversationsByState() (map[models.ConversationStateValue]int, error) {
	rows, err := s.db.Query(`SELECT current_state, COUNT(*) FROM conversation_states GROUP BY current_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count conversations by state: %w", err)
	}
	defer rows.Close()
	counts := make(map[models.ConversationStateValue]int)
	for rows.Next() {
		var state models.ConversationStateValue
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan state count row: %w", err)
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) IncrementFollowupCount(conversationID string, sentAt time.Time) error {
	res, err := s.db.Exec(
		`UPDATE conversation_states
		 SET followup_count = followup_count + 1, last_followup_at = ?, next_followup_scheduled_at = NULL, updated_at = ?
		 WHERE conversation_id = ?`,
		sentAt, time.Now(), conversationID,
	)
	if err != nil {
		slog.Error("SQLiteStore.IncrementFollowupCount failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to increment followup count for %s: %w", conversationID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrConversationNotFound
	}
	return nil
}

func (s *SQLiteStore) AddConversationMessage(conversationID string, m models.ConversationMessage) error {
	metadata, err := encodeMetadata(m.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO conversation_messages (id, conversation_id, direction, type, content, metadata_json, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), conversationID, m.Direction, m.Type, m.Content, metadata, m.SentAt,
	)
	if err != nil {
		slog.Error("SQLiteStore.AddConversationMessage failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to insert conversation message for %s: %w", conversationID, err)
	}
	return nil
}

func (s *SQLiteStore) GetRecentMessages(conversationID string, limit int) ([]models.ConversationMessage, error) {
	rows, err := s.db.Query(
		`SELECT direction, type, content, metadata_json, sent_at FROM (
			SELECT direction, type, content, metadata_json, sent_at
			FROM conversation_messages WHERE conversation_id = ?
			ORDER BY sent_at DESC LIMIT ?
		 ) AS recent ORDER BY sent_at ASC`,
		conversationID, limit,
	)
	if err != nil {
		slog.Error("SQLiteStore.GetRecentMessages query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query recent messages for %s: %w", conversationID, err)
	}
	defer rows.Close()

	var out []models.ConversationMessage
	for rows.Next() {
		m, err := scanConversationMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation message row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetLastInboundMessageTime(conversationID string) (*time.Time, error) {
	var t sql.NullTime
	err := s.db.QueryRow(
		`SELECT MAX(sent_at) FROM conversation_messages WHERE conversation_id = ? AND direction = 'inbound'`,
		conversationID,
	).Scan(&t)
	if err == sql.ErrNoRows || (err == nil && !t.Valid) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last inbound time for %s: %w", conversationID, err)
	}
	return &t.Time, nil
}

func (s *SQLiteStore) CreateScheduledMessage(m *models.ScheduledFollowupMessage) error {
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
	_, err := s.db.Exec(
		`INSERT INTO scheduled_messages (`+scheduledMessageColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.ConsultantID, nilIfEmpty(m.TemplateID), nilIfEmpty(m.MessageText),
		nilIfEmpty(m.FallbackMessage), m.ScheduledFor, m.Status, m.AttemptCount, m.MaxAttempts,
		m.LastAttemptAt, m.SentAt, nilIfEmpty(m.ErrorMessage), nilIfEmpty(m.CancellationReason),
		nilIfEmpty(m.AiDecisionReasoning), m.AiConfidenceScore, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore.CreateScheduledMessage failed", "error", err, "conversationID", m.ConversationID)
		return fmt.Errorf("failed to create scheduled message for %s: %w", m.ConversationID, err)
	}
	slog.Debug("SQLiteStore.CreateScheduledMessage succeeded", "id", m.ID, "scheduledFor", m.ScheduledFor)
	return nil
}

func (s *SQLiteStore) GetScheduledMessage(id string) (*models.ScheduledFollowupMessage, error) {
	row := s.db.QueryRow(`SELECT `+scheduledMessageColumns+` FROM scheduled_messages WHERE id = ?`, id)
	m, err := scanScheduledMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scheduled message %s: %w", id, err)
	}
	return &m, nil
}

func (s *SQLiteStore) ListScheduledMessages(status models.ScheduledMessageStatus, limit int) ([]models.ScheduledFollowupMessage, error) {
	query := `SELECT ` + scheduledMessageColumns + ` FROM scheduled_messages`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY scheduled_for ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduled messages: %w", err)
	}
	defer rows.Close()

	var out []models.ScheduledFollowupMessage
	for rows.Next() {
		m, err := scanScheduledMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scheduled message row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ClaimDuePendingMessages(now time.Time, limit int) ([]models.ScheduledFollowupMessage, error) {
	rows, err := s.db.Query(
		`SELECT `+scheduledMessageColumns+` FROM scheduled_messages
		 WHERE status = 'pending' AND scheduled_for <= ?
		 ORDER BY scheduled_for ASC LIMIT ?`,
		now, limit,
	)
	if err != nil {
		slog.Error("SQLiteStore.ClaimDuePendingMessages query failed", "error", err)
		return nil, fmt.Errorf("failed to query due pending messages: %w", err)
	}
	defer rows.Close()

	var due []models.ScheduledFollowupMessage
	for rows.Next() {
		m, err := scanScheduledMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scheduled message row: %w", err)
		}
		due = append(due, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate due message rows: %w", err)
	}

	// Mark claimed messages as processing
	for i := range due {
		_, err := s.db.Exec(
			`UPDATE scheduled_messages SET status = 'processing', updated_at = ? WHERE id = ?`,
			now, due[i].ID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to mark message %s processing: %w", due[i].ID, err)
		}
		due[i].Status = models.MessageStatusProcessing
	}
	slog.Debug("SQLiteStore.ClaimDuePendingMessages succeeded", "count", len(due))
	return due, nil
}

func (s *SQLiteStore) MarkMessageSent(id string, sentAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE scheduled_messages SET status = 'sent', sent_at = ?, updated_at = ? WHERE id = ?`,
		sentAt, time.Now(), id,
	)
	if err != nil {
		slog.Error("SQLiteStore.MarkMessageSent failed", "error", err, "id", id)
		return fmt.Errorf("failed to mark message %s sent: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) FailMessageAttempt(id string, errMsg string) error {
	now := time.Now()
	var attempts, maxAttempts int
	err := s.db.QueryRow(`SELECT attempt_count, max_attempts FROM scheduled_messages WHERE id = ?`, id).
		Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return models.ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up message %s for attempt: %w", id, err)
	}

	attempts++
	status := models.MessageStatusPending
	if attempts >= maxAttempts {
		status = models.MessageStatusFailed
	}
	_, err = s.db.Exec(
		`UPDATE scheduled_messages
		 SET status = ?, attempt_count = ?, last_attempt_at = ?, error_message = ?, updated_at = ?
		 WHERE id = ?`,
		status, attempts, now, errMsg, now, id,
	)
	if err != nil {
		slog.Error("SQLiteStore.FailMessageAttempt failed", "error", err, "id", id)
		return fmt.Errorf("failed to record attempt for message %s: %w", id, err)
	}
	slog.Debug("SQLiteStore.FailMessageAttempt recorded", "id", id, "attempts", attempts, "status", status)
	return nil
}

func (s *SQLiteStore) ReleaseMessageToPending(id string) error {
	_, err := s.db.Exec(
		`UPDATE scheduled_messages SET status = 'pending', updated_at = ? WHERE id = ? AND status = 'processing'`,
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to release message %s to pending: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) CancelScheduledMessage(id string, reason string) error {
	// Cancellation only applies to pending messages; anything else is a no-op.
	_, err := s.db.Exec(
		`UPDATE scheduled_messages
		 SET status = 'cancelled', cancellation_reason = ?, updated_at = ?
		 WHERE id = ? AND status = 'pending'`,
		reason, time.Now(), id,
	)
	if err != nil {
		slog.Error("SQLiteStore.CancelScheduledMessage failed", "error", err, "id", id)
		return fmt.Errorf("failed to cancel message %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) ResetMessageForRetry(id string, scheduledFor time.Time) error {
	res, err := s.db.Exec(
		`UPDATE scheduled_messages
		 SET status = 'pending', attempt_count = 0, error_message = NULL, scheduled_for = ?, updated_at = ?
		 WHERE id = ? AND status = 'failed'`,
		scheduledFor, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to reset message %s for retry: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrMessageNotRetryable
	}
	return nil
}

func (s *SQLiteStore) RescheduleMessage(id string, scheduledFor time.Time) error {
	res, err := s.db.Exec(
		`UPDATE scheduled_messages SET scheduled_for = ?, updated_at = ? WHERE id = ? AND status = 'pending'`,
		scheduledFor, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to reschedule message %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrMessageNotPending
	}
	return nil
}

func (s *SQLiteStore) RequeueStaleProcessingMessages(staleBefore time.Time) (int, error) {
	res, err := s.db.Exec(
		`UPDATE scheduled_messages SET status = 'pending', updated_at = ? WHERE status = 'processing' AND updated_at < ?`,
		time.Now(), staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale processing messages: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) CountMessagesByStatus() (map[models.ScheduledMessageStatus]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM scheduled_messages GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count messages by status: %w", err)
	}
	defer rows.Close()
	counts := make(map[models.ScheduledMessageStatus]int)
	for rows.Next() {
		var status models.ScheduledMessageStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count row: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) AppendEvaluationLog(entry *models.FollowupAiEvaluationLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO evaluation_logs (id, conversation_id, conversation_context, decision, urgency,
			selected_template_id, reasoning, confidence_score, model_used, latency_ms, was_executed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ConversationID, nilIfEmpty(entry.ConversationContext), entry.Decision,
		nilIfEmpty(entry.Urgency), nilIfEmpty(entry.SelectedTemplateID), nilIfEmpty(entry.Reasoning),
		entry.ConfidenceScore, nilIfEmpty(entry.ModelUsed), entry.LatencyMs, entry.WasExecuted, entry.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore.AppendEvaluationLog failed", "error", err, "conversationID", entry.ConversationID)
		return fmt.Errorf("failed to append evaluation log for %s: %w", entry.ConversationID, err)
	}
	return nil
}

func (s *SQLiteStore) GetPreviousEvaluations(conversationID string, limit int) ([]models.PreviousEvaluation, error) {
	rows, err := s.db.Query(
		`SELECT decision, reasoning, confidence_score, created_at
		 FROM evaluation_logs WHERE conversation_id = ?
		 ORDER BY created_at DESC LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query previous evaluations for %s: %w", conversationID, err)
	}
	defer rows.Close()

	var out []models.PreviousEvaluation
	for rows.Next() {
		var e models.PreviousEvaluation
		var reasoning sql.NullString
		if err := rows.Scan(&e.Decision, &reasoning, &e.ConfidenceScore, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan evaluation log row: %w", err)
		}
		e.Reasoning = reasoning.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetPreferences(consultantID string) (*models.ConsultantAiPreferences, error) {
	var p models.ConsultantAiPreferences
	var customInstructions sql.NullString
	err := s.db.QueryRow(
		`SELECT consultant_id, max_followups_total, min_hours_between_followups, aggressiveness_level,
			persistence_level, stop_on_first_no, custom_instructions
		 FROM consultant_preferences WHERE consultant_id = ?`,
		consultantID,
	).Scan(&p.ConsultantID, &p.MaxFollowupsTotal, &p.MinHoursBetweenFollowups, &p.AggressivenessLevel,
		&p.PersistenceLevel, &p.StopOnFirstNo, &customInstructions)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preferences for %s: %w", consultantID, err)
	}
	p.CustomInstructions = customInstructions.String
	return &p, nil
}

func (s *SQLiteStore) SavePreferences(p *models.ConsultantAiPreferences) error {
	_, err := s.db.Exec(
		`INSERT INTO consultant_preferences (consultant_id, max_followups_total, min_hours_between_followups,
			aggressiveness_level, persistence_level, stop_on_first_no, custom_instructions)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(consultant_id) DO UPDATE SET
			max_followups_total = excluded.max_followups_total,
			min_hours_between_followups = excluded.min_hours_between_followups,
			aggressiveness_level = excluded.aggressiveness_level,
			persistence_level = excluded.persistence_level,
			stop_on_first_no = excluded.stop_on_first_no,
			custom_instructions = excluded.custom_instructions`,
		p.ConsultantID, p.MaxFollowupsTotal, p.MinHoursBetweenFollowups,
		p.AggressivenessLevel, p.PersistenceLevel, p.StopOnFirstNo, nilIfEmpty(p.CustomInstructions),
	)
	if err != nil {
		slog.Error("SQLiteStore.SavePreferences failed", "error", err, "consultantID", p.ConsultantID)
		return fmt.Errorf("failed to save preferences for %s: %w", p.ConsultantID, err)
	}
	return nil
}

func (s *SQLiteStore) CreateFollowupRule(r *models.FollowupRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	_, err := s.db.Exec(
		`INSERT INTO followup_rules (id, consultant_id, name, priority, enabled, trigger_after_hours,
			max_followups, template_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ConsultantID, r.Name, r.Priority, r.Enabled, r.TriggerAfterHours,
		r.MaxFollowups, nilIfEmpty(r.TemplateID), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore.CreateFollowupRule failed", "error", err, "consultantID", r.ConsultantID)
		return fmt.Errorf("failed to create followup rule for %s: %w", r.ConsultantID, err)
	}
	return nil
}

func (s *SQLiteStore) GetFollowupRule(id string) (*models.FollowupRule, error) {
	row := s.db.QueryRow(
		`SELECT id, consultant_id, name, priority, enabled, trigger_after_hours, max_followups, template_id,
			created_at, updated_at
		 FROM followup_rules WHERE id = ?`,
		id,
	)
	r, err := scanFollowupRule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get followup rule %s: %w", id, err)
	}
	return &r, nil
}

func (s *SQLiteStore) ListFollowupRules(consultantID string) ([]models.FollowupRule, error) {
	query := `SELECT id, consultant_id, name, priority, enabled, trigger_after_hours, max_followups, template_id,
		created_at, updated_at FROM followup_rules`
	var args []interface{}
	if consultantID != "" {
		query += ` WHERE consultant_id = ?`
		args = append(args, consultantID)
	}
	query += ` ORDER BY priority DESC, id ASC`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query followup rules: %w", err)
	}
	defer rows.Close()

	var out []models.FollowupRule
	for rows.Next() {
		r, err := scanFollowupRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan followup rule row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateFollowupRule(r *models.FollowupRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	res, err := s.db.Exec(
		`UPDATE followup_rules
		 SET name = ?, priority = ?, enabled = ?, trigger_after_hours = ?, max_followups = ?, template_id = ?, updated_at = ?
		 WHERE id = ?`,
		r.Name, r.Priority, r.Enabled, r.TriggerAfterHours, r.MaxFollowups, nilIfEmpty(r.TemplateID), time.Now(), r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update followup rule %s: %w", r.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrRuleNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteFollowupRule(id string) error {
	res, err := s.db.Exec(`DELETE FROM followup_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete followup rule %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrRuleNotFound
	}
	return nil
}

func (s *SQLiteStore) SaveTemplate(t *models.MessageTemplate) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	_, err := s.db.Exec(
		`INSERT INTO message_templates (id, consultant_id, name, body, provider_ref, approval_status,
			priority, language, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			body = excluded.body,
			provider_ref = excluded.provider_ref,
			approval_status = excluded.approval_status,
			priority = excluded.priority,
			language = excluded.language,
			updated_at = excluded.updated_at`,
		t.ID, t.ConsultantID, t.Name, t.Body, nilIfEmpty(t.ProviderRef), t.ApprovalStatus,
		t.Priority, nilIfEmpty(t.Language), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore.SaveTemplate failed", "error", err, "templateID", t.ID)
		return fmt.Errorf("failed to save template %s: %w", t.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetTemplate(id string) (*models.MessageTemplate, error) {
	row := s.db.QueryRow(
		`SELECT id, consultant_id, name, body, provider_ref, approval_status, priority, language, created_at, updated_at
		 FROM message_templates WHERE id = ?`,
		id,
	)
	t, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template %s: %w", id, err)
	}
	return &t, nil
}

func (s *SQLiteStore) ListTemplates(consultantID string) ([]models.MessageTemplate, error) {
	query := `SELECT id, consultant_id, name, body, provider_ref, approval_status, priority, language, created_at, updated_at
		FROM message_templates`
	var args []interface{}
	if consultantID != "" {
		query += ` WHERE consultant_id = ?`
		args = append(args, consultantID)
	}
	query += ` ORDER BY priority DESC, id ASC`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	var out []models.MessageTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
