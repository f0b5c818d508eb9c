package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/leadpulse/leadpulse/internal/models"
)

// conversationStatePatch carries the fields PATCH accepts. Pointers
// distinguish "leave unchanged" from an explicit zero value.
type conversationStatePatch struct {
	CurrentState          *models.ConversationStateValue `json:"current_state,omitempty"`
	EngagementScore       *int                           `json:"engagement_score,omitempty"`
	ConversionProbability *float64                       `json:"conversion_probability,omitempty"`
	MaxFollowupsAllowed   *int                           `json:"max_followups_allowed,omitempty"`
	Active                *bool                          `json:"active,omitempty"`
	PermanentlyExcluded   *bool                          `json:"permanently_excluded,omitempty"`
	DormantUntil          *time.Time                     `json:"dormant_until,omitempty"`
	ClearDormancy         bool                           `json:"clear_dormancy,omitempty"`
}

func (s *Server) conversationStateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		state, err := s.st.GetConversationState(id)
		if err != nil {
			slog.Error("Server.conversationStateHandler: failed to load state", "conversation_id", id, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load conversation state"))
			return
		}
		if state == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(state))

	case http.MethodPatch:
		s.patchConversationState(w, r, id)

	default:
		w.Header().Set("Allow", "GET, PATCH")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) patchConversationState(w http.ResponseWriter, r *http.Request, id string) {
	var patch conversationStatePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	state, err := s.st.GetConversationState(id)
	if err != nil {
		slog.Error("Server.patchConversationState: failed to load state", "conversation_id", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load conversation state"))
		return
	}
	if state == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}

	if patch.CurrentState != nil {
		if !models.IsValidConversationState(*patch.CurrentState) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid conversation state value"))
			return
		}
		if *patch.CurrentState != state.CurrentState {
			state.PreviousState = state.CurrentState
			state.CurrentState = *patch.CurrentState
		}
	}
	if patch.EngagementScore != nil {
		state.EngagementScore = *patch.EngagementScore
	}
	if patch.ConversionProbability != nil {
		state.ConversionProbability = *patch.ConversionProbability
	}
	if patch.MaxFollowupsAllowed != nil {
		state.MaxFollowupsAllowed = *patch.MaxFollowupsAllowed
	}
	if patch.Active != nil {
		state.Active = *patch.Active
	}
	if patch.PermanentlyExcluded != nil {
		state.PermanentlyExcluded = *patch.PermanentlyExcluded
	}
	if patch.DormantUntil != nil {
		state.DormantUntil = patch.DormantUntil
		state.DormantReason = "manual"
	}
	if patch.ClearDormancy {
		state.DormantUntil = nil
		state.DormantReason = ""
	}

	if err := s.st.SaveConversationState(state); err != nil {
		slog.Error("Server.patchConversationState: failed to save state", "conversation_id", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save conversation state"))
		return
	}
	slog.Info("Server.patchConversationState: state updated", "conversation_id", id, "state", state.CurrentState)
	writeJSONResponse(w, http.StatusOK, models.Success(state))
}

// evaluateHandler runs the full decision pipeline for one conversation
// synchronously. With {"live": true} the decision is applied and an immediate
// send actually goes out; otherwise it is a dry run.
func (s *Server) evaluateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	id := r.PathValue("id")

	var req struct {
		Live bool `json:"live"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
	}

	outcome, executed, err := s.runtime.EvaluateConversation(r.Context(), id, req.Live)
	if err != nil {
		if errors.Is(err, models.ErrConversationNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
			return
		}
		slog.Error("Server.evaluateHandler: evaluation failed", "conversation_id", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Evaluation failed"))
		return
	}

	result := map[string]interface{}{
		"decision":   outcome.Decision,
		"source":     outcome.Source,
		"rule_name":  outcome.RuleName,
		"latency_ms": outcome.LatencyMs,
		"live":       req.Live,
		"executed":   executed,
	}
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}
