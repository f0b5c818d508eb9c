package api

import (
	"log/slog"
	"net/http"

	"github.com/leadpulse/leadpulse/internal/models"
)

func (s *Server) schedulerStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	status, err := s.runtime.Status()
	if err != nil {
		slog.Error("Server.schedulerStatusHandler: failed to build status", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to build scheduler status"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(status))
}

// analyticsSummary is the dashboard aggregate: funnel distribution, queue
// depths, and lifetime pipeline counters.
type analyticsSummary struct {
	ConversationsByState map[models.ConversationStateValue]int `json:"conversations_by_state"`
	MessagesByStatus     map[models.ScheduledMessageStatus]int `json:"messages_by_status"`
	TotalConversations   int                                   `json:"total_conversations"`
	PipelineTotals       interface{}                           `json:"pipeline_totals"`
}

func (s *Server) analyticsSummaryHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	byState, err := s.st.ListConversationsByState()
	if err != nil {
		slog.Error("Server.analyticsSummaryHandler: failed to count conversations", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to build analytics summary"))
		return
	}
	byStatus, err := s.st.CountMessagesByStatus()
	if err != nil {
		slog.Error("Server.analyticsSummaryHandler: failed to count messages", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to build analytics summary"))
		return
	}

	total := 0
	for _, n := range byState {
		total += n
	}

	summary := analyticsSummary{
		ConversationsByState: byState,
		MessagesByStatus:     byStatus,
		TotalConversations:   total,
	}
	if status, err := s.runtime.Status(); err == nil {
		summary.PipelineTotals = status.Totals
	}
	writeJSONResponse(w, http.StatusOK, models.Success(summary))
}
