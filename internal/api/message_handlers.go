package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/leadpulse/leadpulse/internal/models"
)

// CancelReasonManual marks messages cancelled through the API.
const CancelReasonManual = "manual_cancellation"

func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	status := models.ScheduledMessageStatus(r.URL.Query().Get("status"))
	if status != "" && !models.IsValidMessageStatus(status) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid message status"))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid limit"))
			return
		}
		limit = n
	}

	messages, err := s.st.ListScheduledMessages(status, limit)
	if err != nil {
		slog.Error("Server.messagesHandler: failed to list messages", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list messages"))
		return
	}
	if messages == nil {
		messages = []models.ScheduledFollowupMessage{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(messages))
}

func (s *Server) cancelMessageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	id := r.PathValue("id")

	reason := CancelReasonManual
	if r.ContentLength > 0 {
		var req struct {
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		if req.Reason != "" {
			reason = req.Reason
		}
	}

	// Cancelling an already cancelled or sent message is a no-op, so the
	// endpoint stays idempotent.
	if err := s.st.CancelScheduledMessage(id, reason); err != nil {
		if errors.Is(err, models.ErrMessageNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Message not found"))
			return
		}
		slog.Error("Server.cancelMessageHandler: failed to cancel message", "message_id", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to cancel message"))
		return
	}
	slog.Info("Server.cancelMessageHandler: message cancelled", "message_id", id, "reason", reason)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message cancelled", nil))
}

func (s *Server) retryMessageHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	id := r.PathValue("id")

	scheduledFor := s.now().Add(RetryRescheduleDelay)
	if err := s.st.ResetMessageForRetry(id, scheduledFor); err != nil {
		switch {
		case errors.Is(err, models.ErrMessageNotFound):
			writeJSONResponse(w, http.StatusNotFound, models.Error("Message not found"))
		case errors.Is(err, models.ErrMessageNotRetryable):
			writeJSONResponse(w, http.StatusConflict, models.Error("Only failed messages can be retried"))
		default:
			slog.Error("Server.retryMessageHandler: failed to reset message", "message_id", id, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to retry message"))
		}
		return
	}

	msg, err := s.st.GetScheduledMessage(id)
	if err != nil || msg == nil {
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message queued for retry", nil))
		return
	}
	slog.Info("Server.retryMessageHandler: message queued for retry", "message_id", id, "scheduled_for", scheduledFor)
	writeJSONResponse(w, http.StatusOK, models.Success(msg))
}

func (s *Server) sendNowMessageHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	id := r.PathValue("id")

	if err := s.st.RescheduleMessage(id, s.now()); err != nil {
		switch {
		case errors.Is(err, models.ErrMessageNotFound):
			writeJSONResponse(w, http.StatusNotFound, models.Error("Message not found"))
		case errors.Is(err, models.ErrMessageNotPending):
			writeJSONResponse(w, http.StatusConflict, models.Error("Only pending messages can be sent now"))
		default:
			slog.Error("Server.sendNowMessageHandler: failed to reschedule message", "message_id", id, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to reschedule message"))
		}
		return
	}

	// Run a processing cycle so the message goes out before the next tick.
	if _, err := s.runtime.RunProcessingCycle(r.Context()); err != nil {
		slog.Error("Server.sendNowMessageHandler: processing cycle failed", "message_id", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Message rescheduled but processing failed"))
		return
	}

	msg, err := s.st.GetScheduledMessage(id)
	if err != nil || msg == nil {
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message processed", nil))
		return
	}
	slog.Info("Server.sendNowMessageHandler: message processed", "message_id", id, "status", msg.Status)
	writeJSONResponse(w, http.StatusOK, models.Success(msg))
}
