// Package store provides storage backends for LeadPulse.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/leadpulse/leadpulse/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	slog.Debug("Postgres database opened")

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	slog.Debug("Postgres ping successful")

	// Run migrations to ensure tables exist
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveConversationState(state *models.ConversationState) error {
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
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)
		 ON CONFLICT (conversation_id) DO UPDATE SET
			consultant_id = EXCLUDED.consultant_id,
			lead_name = EXCLUDED.lead_name,
			lead_phone = EXCLUDED.lead_phone,
			current_state = EXCLUDED.current_state,
			previous_state = EXCLUDED.previous_state,
			followup_count = EXCLUDED.followup_count,
			max_followups_allowed = EXCLUDED.max_followups_allowed,
			consecutive_no_reply_count = EXCLUDED.consecutive_no_reply_count,
			engagement_score = EXCLUDED.engagement_score,
			conversion_probability = EXCLUDED.conversion_probability,
			temperature_level = EXCLUDED.temperature_level,
			has_asked_price = EXCLUDED.has_asked_price,
			has_mentioned_urgency = EXCLUDED.has_mentioned_urgency,
			has_said_no_explicitly = EXCLUDED.has_said_no_explicitly,
			discovery_completed = EXCLUDED.discovery_completed,
			demo_presented = EXCLUDED.demo_presented,
			last_followup_at = EXCLUDED.last_followup_at,
			next_followup_scheduled_at = EXCLUDED.next_followup_scheduled_at,
			dormant_until = EXCLUDED.dormant_until,
			dormant_reason = EXCLUDED.dormant_reason,
			permanently_excluded = EXCLUDED.permanently_excluded,
			last_ai_evaluation_at = EXCLUDED.last_ai_evaluation_at,
			ai_recommendation = EXCLUDED.ai_recommendation,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at`,
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
		slog.Error("PostgresStore.SaveConversationState failed", "error", err, "conversationID", state.ConversationID)
		return fmt.Errorf("failed to save conversation state for %s: %w", state.ConversationID, err)
	}
	slog.Debug("PostgresStore.SaveConversationState succeeded", "conversationID", state.ConversationID, "state", state.CurrentState)
	return nil
}

func (s *PostgresStore) GetConversationState(conversationID string) (*models.ConversationState, error) {
	row := s.db.QueryRow(
		`SELECT `+conversationStateColumns+` FROM conversation_states WHERE conversation_id = $1`,
		conversationID,
	)
	c, err := scanConversationState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.GetConversationState failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to get conversation state for %s: %w", conversationID, err)
	}
	return &c, nil
}

func (s *PostgresStore) GetConversationByLeadPhone(phone string) (*models.ConversationState, error) {
	row := s.db.QueryRow(
		`SELECT `+conversationStateColumns+` FROM conversation_states WHERE lead_phone = $1 ORDER BY updated_at DESC LIMIT 1`,
		phone,
	)
	c, err := scanConversationState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.GetConversationByLeadPhone failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to get conversation by lead phone: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) ListCandidateConversations(now time.Time) ([]models.ConversationState, error) {
	rows, err := s.db.Query(
		`SELECT `+conversationStateColumns+` FROM conversation_states cs
		 WHERE cs.active = TRUE
		   AND cs.current_state NOT IN ('closed_won', 'closed_lost')
		   AND cs.permanently_excluded = FALSE
		   AND (cs.dormant_until IS NULL OR cs.dormant_until <= $1)
		   AND (cs.next_followup_scheduled_at IS NULL OR cs.next_followup_scheduled_at <= $2)
		   AND EXISTS (SELECT 1 FROM followup_rules r WHERE r.consultant_id = cs.consultant_id AND r.enabled = TRUE)
		 ORDER BY cs.conversation_id ASC`,
		now, now,
	)
	if err != nil {
		slog.Error("PostgresStore.ListCandidateConversations query failed", "error", err)
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
	slog.Debug("PostgresStore.ListCandidateConversations succeeded", "count", len(out))
	return out, nil
}

func (s *PostgresStore) ListConversationsByState() (map[models.ConversationStateValue]int, error) {
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

func (s *PostgresStore) IncrementFollowupCount(conversationID string, sentAt time.Time) error {
	res, err := s.db.Exec(
		`UPDATE conversation_states
		 SET followup_count = followup_count + 1, last_followup_at = $1, next_followup_scheduled_at = NULL, updated_at = $2
		 WHERE conversation_id = $3`,
		sentAt, time.Now(), conversationID,
	)
	if err != nil {
		slog.Error("PostgresStore.IncrementFollowupCount failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to increment followup count for %s: %w", conversationID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrConversationNotFound
	}
	return nil
}

func (s *PostgresStore) AddConversationMessage(conversationID string, m models.ConversationMessage) error {
	metadata, err := encodeMetadata(m.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO conversation_messages (id, conversation_id, direction, type, content, metadata_json, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.NewString(), conversationID, m.Direction, m.Type, m.Content, metadata, m.SentAt,
	)
	if err != nil {
		slog.Error("PostgresStore.AddConversationMessage failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to insert conversation message for %s: %w", conversationID, err)
	}
	return nil
}

func (s *PostgresStore) GetRecentMessages(conversationID string, limit int) ([]models.ConversationMessage, error) {
	rows, err := s.db.Query(
		`SELECT direction, type, content, metadata_json, sent_at FROM (
			SELECT direction, type, content, metadata_json, sent_at
			FROM conversation_messages WHERE conversation_id = $1
			ORDER BY sent_at DESC LIMIT $2
		 ) AS recent ORDER BY sent_at ASC`,
		conversationID, limit,
	)
	if err != nil {
		slog.Error("PostgresStore.GetRecentMessages query failed", "error", err, "conversationID", conversationID)
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

func (s *PostgresStore) GetLastInboundMessageTime(conversationID string) (*time.Time, error) {
	var t sql.NullTime
	err := s.db.QueryRow(
		`SELECT MAX(sent_at) FROM conversation_messages WHERE conversation_id = $1 AND direction = 'inbound'`,
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

func (s *PostgresStore) CreateScheduledMessage(m *models.ScheduledFollowupMessage) error {
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
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		m.ID, m.ConversationID, m.ConsultantID, nilIfEmpty(m.TemplateID), nilIfEmpty(m.MessageText),
		nilIfEmpty(m.FallbackMessage), m.ScheduledFor, m.Status, m.AttemptCount, m.MaxAttempts,
		m.LastAttemptAt, m.SentAt, nilIfEmpty(m.ErrorMessage), nilIfEmpty(m.CancellationReason),
		nilIfEmpty(m.AiDecisionReasoning), m.AiConfidenceScore, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore.CreateScheduledMessage failed", "error", err, "conversationID", m.ConversationID)
		return fmt.Errorf("failed to create scheduled message for %s: %w", m.ConversationID, err)
	}
	slog.Debug("PostgresStore.CreateScheduledMessage succeeded", "id", m.ID, "scheduledFor", m.ScheduledFor)
	return nil
}

func (s *PostgresStore) GetScheduledMessage(id string) (*models.ScheduledFollowupMessage, error) {
	row := s.db.QueryRow(`SELECT `+scheduledMessageColumns+` FROM scheduled_messages WHERE id = $1`, id)
	m, err := scanScheduledMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scheduled message %s: %w", id, err)
	}
	return &m, nil
}

func (s *PostgresStore) ListScheduledMessages(status models.ScheduledMessageStatus, limit int) ([]models.ScheduledFollowupMessage, error) {
	query := `SELECT ` + scheduledMessageColumns + ` FROM scheduled_messages`
	var args []interface{}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(` WHERE status = $%d`, len(args))
	}
	query += ` ORDER BY scheduled_for ASC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
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

func (s *PostgresStore) ClaimDuePendingMessages(now time.Time, limit int) ([]models.ScheduledFollowupMessage, error) {
	// Single-statement claim; FOR UPDATE SKIP LOCKED keeps concurrent sweeps from
	// double-claiming the same rows.
	rows, err := s.db.Query(
		`UPDATE scheduled_messages SET status = 'processing', updated_at = $1
		 WHERE id IN (
			SELECT id FROM scheduled_messages
			WHERE status = 'pending' AND scheduled_for <= $2
			ORDER BY scheduled_for ASC LIMIT $3
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+scheduledMessageColumns,
		now, now, limit,
	)
	if err != nil {
		slog.Error("PostgresStore.ClaimDuePendingMessages failed", "error", err)
		return nil, fmt.Errorf("failed to claim due pending messages: %w", err)
	}
	defer rows.Close()

	var due []models.ScheduledFollowupMessage
	for rows.Next() {
		m, err := scanScheduledMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claimed message row: %w", err)
		}
		due = append(due, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate claimed message rows: %w", err)
	}
	slog.Debug("PostgresStore.ClaimDuePendingMessages succeeded", "count", len(due))
	return due, nil
}

func (s *PostgresStore) MarkMessageSent(id string, sentAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE scheduled_messages SET status = 'sent', sent_at = $1, updated_at = $2 WHERE id = $3`,
		sentAt, time.Now(), id,
	)
	if err != nil {
		slog.Error("PostgresStore.MarkMessageSent failed", "error", err, "id", id)
		return fmt.Errorf("failed to mark message %s sent: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) FailMessageAttempt(id string, errMsg string) error {
	now := time.Now()
	var attempts, maxAttempts int
	err := s.db.QueryRow(`SELECT attempt_count, max_attempts FROM scheduled_messages WHERE id = $1`, id).
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
		 SET status = $1, attempt_count = $2, last_attempt_at = $3, error_message = $4, updated_at = $5
		 WHERE id = $6`,
		status, attempts, now, errMsg, now, id,
	)
	if err != nil {
		slog.Error("PostgresStore.FailMessageAttempt failed", "error", err, "id", id)
		return fmt.Errorf("failed to record attempt for message %s: %w", id, err)
	}
	slog.Debug("PostgresStore.FailMessageAttempt recorded", "id", id, "attempts", attempts, "status", status)
	return nil
}

func (s *PostgresStore) ReleaseMessageToPending(id string) error {
	_, err := s.db.Exec(
		`UPDATE scheduled_messages SET status = 'pending', updated_at = $1 WHERE id = $2 AND status = 'processing'`,
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to release message %s to pending: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) CancelScheduledMessage(id string, reason string) error {
	// Cancellation only applies to pending messages; anything else is a no-op.
	_, err := s.db.Exec(
		`UPDATE scheduled_messages
		 SET status = 'cancelled', cancellation_reason = $1, updated_at = $2
		 WHERE id = $3 AND status = 'pending'`,
		reason, time.Now(), id,
	)
	if err != nil {
		slog.Error("PostgresStore.CancelScheduledMessage failed", "error", err, "id", id)
		return fmt.Errorf("failed to cancel message %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) ResetMessageForRetry(id string, scheduledFor time.Time) error {
	res, err := s.db.Exec(
		`UPDATE scheduled_messages
		 SET status = 'pending', attempt_count = 0, error_message = NULL, scheduled_for = $1, updated_at = $2
		 WHERE id = $3 AND status = 'failed'`,
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

func (s *PostgresStore) RescheduleMessage(id string, scheduledFor time.Time) error {
	res, err := s.db.Exec(
		`UPDATE scheduled_messages SET scheduled_for = $1, updated_at = $2 WHERE id = $3 AND status = 'pending'`,
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

func (s *PostgresStore) RequeueStaleProcessingMessages(staleBefore time.Time) (int, error) {
	res, err := s.db.Exec(
		`UPDATE scheduled_messages SET status = 'pending', updated_at = $1 WHERE status = 'processing' AND updated_at < $2`,
		time.Now(), staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale processing messages: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PostgresStore) CountMessagesByStatus() (map[models.ScheduledMessageStatus]int, error) {
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

func (s *PostgresStore) AppendEvaluationLog(entry *models.FollowupAiEvaluationLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO evaluation_logs (id, conversation_id, conversation_context, decision, urgency,
			selected_template_id, reasoning, confidence_score, model_used, latency_ms, was_executed, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		entry.ID, entry.ConversationID, nilIfEmpty(entry.ConversationContext), entry.Decision,
		nilIfEmpty(entry.Urgency), nilIfEmpty(entry.SelectedTemplateID), nilIfEmpty(entry.Reasoning),
		entry.ConfidenceScore, nilIfEmpty(entry.ModelUsed), entry.LatencyMs, entry.WasExecuted, entry.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore.AppendEvaluationLog failed", "error", err, "conversationID", entry.ConversationID)
		return fmt.Errorf("failed to append evaluation log for %s: %w", entry.ConversationID, err)
	}
	return nil
}

func (s *PostgresStore) GetPreviousEvaluations(conversationID string, limit int) ([]models.PreviousEvaluation, error) {
	rows, err := s.db.Query(
		`SELECT decision, reasoning, confidence_score, created_at
		 FROM evaluation_logs WHERE conversation_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
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

func (s *PostgresStore) GetPreferences(consultantID string) (*models.ConsultantAiPreferences, error) {
	var p models.ConsultantAiPreferences
	var customInstructions sql.NullString
	err := s.db.QueryRow(
		`SELECT consultant_id, max_followups_total, min_hours_between_followups, aggressiveness_level,
			persistence_level, stop_on_first_no, custom_instructions
		 FROM consultant_preferences WHERE consultant_id = $1`,
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

func (s *PostgresStore) SavePreferences(p *models.ConsultantAiPreferences) error {
	_, err := s.db.Exec(
		`INSERT INTO consultant_preferences (consultant_id, max_followups_total, min_hours_between_followups,
			aggressiveness_level, persistence_level, stop_on_first_no, custom_instructions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (consultant_id) DO UPDATE SET
			max_followups_total = EXCLUDED.max_followups_total,
			min_hours_between_followups = EXCLUDED.min_hours_between_followups,
			aggressiveness_level = EXCLUDED.aggressiveness_level,
			persistence_level = EXCLUDED.persistence_level,
			stop_on_first_no = EXCLUDED.stop_on_first_no,
			custom_instructions = EXCLUDED.custom_instructions`,
		p.ConsultantID, p.MaxFollowupsTotal, p.MinHoursBetweenFollowups,
		p.AggressivenessLevel, p.PersistenceLevel, p.StopOnFirstNo, nilIfEmpty(p.CustomInstructions),
	)
	if err != nil {
		slog.Error("PostgresStore.SavePreferences failed", "error", err, "consultantID", p.ConsultantID)
		return fmt.Errorf("failed to save preferences for %s: %w", p.ConsultantID, err)
	}
	return nil
}

func (s *PostgresStore) CreateFollowupRule(r *models.FollowupRule) error {
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
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.ConsultantID, r.Name, r.Priority, r.Enabled, r.TriggerAfterHours,
		r.MaxFollowups, nilIfEmpty(r.TemplateID), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore.CreateFollowupRule failed", "error", err, "consultantID", r.ConsultantID)
		return fmt.Errorf("failed to create followup rule for %s: %w", r.ConsultantID, err)
	}
	return nil
}

func (s *PostgresStore) GetFollowupRule(id string) (*models.FollowupRule, error) {
	row := s.db.QueryRow(
		`SELECT id, consultant_id, name, priority, enabled, trigger_after_hours, max_followups, template_id,
			created_at, updated_at
		 FROM followup_rules WHERE id = $1`,
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

func (s *PostgresStore) ListFollowupRules(consultantID string) ([]models.FollowupRule, error) {
	query := `SELECT id, consultant_id, name, priority, enabled, trigger_after_hours, max_followups, template_id,
		created_at, updated_at FROM followup_rules`
	var args []interface{}
	if consultantID != "" {
		args = append(args, consultantID)
		query += ` WHERE consultant_id = $1`
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

func (s *PostgresStore) UpdateFollowupRule(r *models.FollowupRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	res, err := s.db.Exec(
		`UPDATE followup_rules
		 SET name = $1, priority = $2, enabled = $3, trigger_after_hours = $4, max_followups = $5, template_id = $6, updated_at = $7
		 WHERE id = $8`,
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

func (s *PostgresStore) DeleteFollowupRule(id string) error {
	res, err := s.db.Exec(`DELETE FROM followup_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete followup rule %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrRuleNotFound
	}
	return nil
}

func (s *PostgresStore) SaveTemplate(t *models.MessageTemplate) error {
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
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			body = EXCLUDED.body,
			provider_ref = EXCLUDED.provider_ref,
			approval_status = EXCLUDED.approval_status,
			priority = EXCLUDED.priority,
			language = EXCLUDED.language,
			updated_at = EXCLUDED.updated_at`,
		t.ID, t.ConsultantID, t.Name, t.Body, nilIfEmpty(t.ProviderRef), t.ApprovalStatus,
		t.Priority, nilIfEmpty(t.Language), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore.SaveTemplate failed", "error", err, "templateID", t.ID)
		return fmt.Errorf("failed to save template %s: %w", t.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetTemplate(id string) (*models.MessageTemplate, error) {
	row := s.db.QueryRow(
		`SELECT id, consultant_id, name, body, provider_ref, approval_status, priority, language, created_at, updated_at
		 FROM message_templates WHERE id = $1`,
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

func (s *PostgresStore) ListTemplates(consultantID string) ([]models.MessageTemplate, error) {
	query := `SELECT id, consultant_id, name, body, provider_ref, approval_status, priority, language, created_at, updated_at
		FROM message_templates`
	var args []interface{}
	if consultantID != "" {
		args = append(args, consultantID)
		query += ` WHERE consultant_id = $1`
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
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
