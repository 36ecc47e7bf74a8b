package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"sentinel/internal/alerts"
	"sentinel/internal/logger"
	"sentinel/internal/middleware"
	"sentinel/internal/models"
)

// RuleRequest is the body of POST /rules. Crypto and User are accepted as
// aliases for Key and Owner.
type RuleRequest struct {
	Key    string   `json:"key"`
	Owner  string   `json:"owner"`
	Crypto string   `json:"crypto"`
	User   string   `json:"user"`
	Above  *float64 `json:"above"`
	Below  *float64 `json:"below"`
}

func (req RuleRequest) rule() models.Rule {
	rule := models.Rule{
		Key:   req.Key,
		Owner: req.Owner,
		Above: req.Above,
		Below: req.Below,
	}
	if rule.Key == "" {
		rule.Key = req.Crypto
	}
	if rule.Owner == "" {
		rule.Owner = req.User
	}
	return rule
}

// RuleResponse confirms a stored rule
type RuleResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Rule    models.Rule `json:"rule"`
}

// RuleListResponse is the body of GET /rules
type RuleListResponse struct {
	Rules []models.Rule `json:"rules"`
	Count int           `json:"count"`
}

func (h *Handler) handleRuleCreate(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, KindBadRequest, err.Error())
		return
	}

	rule, err := h.Engine.Upsert(req.rule())
	if err != nil {
		if errors.Is(err, alerts.ErrInvalidRule) {
			writeError(w, http.StatusBadRequest, KindInvalidRule, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, KindInternal, "failed to store rule")
		return
	}

	log := logger.WithRequestID(middleware.RequestIDFrom(r.Context()))
	log.Info().
		Str("rule_id", rule.ID).
		Str("key", rule.Key).
		Str("owner", rule.Owner).
		Msg("rule stored")

	writeJSON(w, http.StatusOK, RuleResponse{
		Success: true,
		Message: fmt.Sprintf("Alert for %s has been set!", rule.Key),
		Rule:    rule,
	})
}

func (h *Handler) handleRuleList(w http.ResponseWriter, r *http.Request) {
	var rules []models.Rule
	if key := r.URL.Query().Get("key"); key != "" {
		rules = h.Engine.ListByKey(key)
	} else {
		rules = h.Engine.List()
	}
	if rules == nil {
		rules = []models.Rule{}
	}
	writeJSON(w, http.StatusOK, RuleListResponse{Rules: rules, Count: len(rules)})
}

func (h *Handler) handleRuleDelete(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r, "key")
	if err != nil {
		writeError(w, http.StatusBadRequest, KindBadRequest, "invalid key")
		return
	}
	owner, err := pathKey(r, "owner")
	if err != nil {
		writeError(w, http.StatusBadRequest, KindBadRequest, "invalid owner")
		return
	}

	if err := h.Engine.Remove(key, owner); err != nil {
		if errors.Is(err, alerts.ErrNotFound) {
			writeError(w, http.StatusNotFound, KindNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, KindInternal, "failed to remove rule")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Alert for %s removed for %s", models.NormalizeKey(key), owner),
	})
}
