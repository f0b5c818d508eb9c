package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/leadpulse/leadpulse/internal/engine"
	"github.com/leadpulse/leadpulse/internal/models"
)

// defaultRuleLadder is what POST /rules/seed installs for a consultant that
// has no rules yet: a gentle nudge after a day, a value reminder after three,
// and a last attempt after a week.
var defaultRuleLadder = []models.FollowupRule{
	{Name: "Primo sollecito dopo 24 ore", Priority: 10, Enabled: true, TriggerAfterHours: 24, MaxFollowups: 5},
	{Name: "Promemoria dopo 3 giorni", Priority: 5, Enabled: true, TriggerAfterHours: 72, MaxFollowups: 5},
	{Name: "Ultimo tentativo dopo 7 giorni", Priority: 1, Enabled: true, TriggerAfterHours: 168, MaxFollowups: 5},
}

func (s *Server) rulesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	switch r.Method {
	case http.MethodGet:
		s.listRules(w, r)
	case http.MethodPost:
		s.createRule(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	consultantID := r.URL.Query().Get("consultant_id")
	rules, err := s.st.ListFollowupRules(consultantID)
	if err != nil {
		slog.Error("Server.listRules: failed to list rules", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list rules"))
		return
	}
	if rules == nil {
		rules = []models.FollowupRule{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(rules))
}

func (s *Server) createRule(w http.ResponseWriter, r *http.Request) {
	var rule models.FollowupRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := rule.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.st.CreateFollowupRule(&rule); err != nil {
		slog.Error("Server.createRule: failed to create rule", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create rule"))
		return
	}
	slog.Info("Server.createRule: rule created", "rule_id", rule.ID, "consultant_id", rule.ConsultantID)
	writeJSONResponse(w, http.StatusCreated, models.Success(rule))
}

func (s *Server) ruleByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		rule, err := s.st.GetFollowupRule(id)
		if err != nil {
			slog.Error("Server.ruleByIDHandler: failed to get rule", "rule_id", id, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get rule"))
			return
		}
		if rule == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Rule not found"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(rule))

	case http.MethodPut:
		var rule models.FollowupRule
		if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		rule.ID = id
		if err := rule.Validate(); err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		if err := s.st.UpdateFollowupRule(&rule); err != nil {
			if errors.Is(err, models.ErrRuleNotFound) {
				writeJSONResponse(w, http.StatusNotFound, models.Error("Rule not found"))
				return
			}
			slog.Error("Server.ruleByIDHandler: failed to update rule", "rule_id", id, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update rule"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(rule))

	case http.MethodDelete:
		if err := s.st.DeleteFollowupRule(id); err != nil {
			if errors.Is(err, models.ErrRuleNotFound) {
				writeJSONResponse(w, http.StatusNotFound, models.Error("Rule not found"))
				return
			}
			slog.Error("Server.ruleByIDHandler: failed to delete rule", "rule_id", id, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete rule"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Rule deleted", nil))

	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) seedRulesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		ConsultantID string `json:"consultant_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.ConsultantID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("consultant_id is required"))
		return
	}

	existing, err := s.st.ListFollowupRules(req.ConsultantID)
	if err != nil {
		slog.Error("Server.seedRulesHandler: failed to list rules", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to seed rules"))
		return
	}
	if len(existing) > 0 {
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Consultant already has rules, nothing seeded", existing))
		return
	}

	created := make([]models.FollowupRule, 0, len(defaultRuleLadder))
	for _, tmpl := range defaultRuleLadder {
		rule := tmpl
		rule.ConsultantID = req.ConsultantID
		if err := s.st.CreateFollowupRule(&rule); err != nil {
			slog.Error("Server.seedRulesHandler: failed to create default rule", "name", rule.Name, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to seed rules"))
			return
		}
		created = append(created, rule)
	}
	slog.Info("Server.seedRulesHandler: default rules seeded", "consultant_id", req.ConsultantID, "count", len(created))
	writeJSONResponse(w, http.StatusCreated, models.Success(created))
}

func (s *Server) generateRuleHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if s.ruleGen == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Rule generation is not configured"))
		return
	}
	var req struct {
		ConsultantID string `json:"consultant_id"`
		Description  string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.ConsultantID == "" || req.Description == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("consultant_id and description are required"))
		return
	}

	rule, err := s.ruleGen.GenerateRule(r.Context(), req.ConsultantID, req.Description)
	if err != nil {
		slog.Error("Server.generateRuleHandler: generation failed", "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Failed to generate rule"))
		return
	}
	if err := s.st.CreateFollowupRule(rule); err != nil {
		slog.Error("Server.generateRuleHandler: failed to persist rule", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save generated rule"))
		return
	}
	slog.Info("Server.generateRuleHandler: rule generated", "rule_id", rule.ID, "consultant_id", rule.ConsultantID)
	writeJSONResponse(w, http.StatusCreated, models.Success(rule))
}

func (s *Server) systemRulesHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(engine.ListSystemRules()))
}
