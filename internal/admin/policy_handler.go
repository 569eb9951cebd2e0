package admin

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/xela07ax/spaceai-tool-guard/internal/domain"
	"github.com/xela07ax/spaceai-tool-guard/internal/identity"
	"go.uber.org/zap"
)

// PolicyLister: активный набор политик (policy.Store)
type PolicyLister interface {
	Policies() []domain.Policy
}

type PolicyHandler struct {
	store  PolicyLister
	reload func(ctx context.Context) error
	logger *zap.Logger
}

// NewPolicyHandler: reload перечитывает набор из источника (и при необходимости
// оповещает остальные инстансы)
func NewPolicyHandler(store PolicyLister, reload func(ctx context.Context) error, logger *zap.Logger) *PolicyHandler {
	return &PolicyHandler{store: store, reload: reload, logger: logger.Named("policy-handler")}
}

type reloadResponse struct {
	Status   string `json:"status"`
	Policies int    `json:"policies"`
}

// List возвращает активные политики в порядке вычисления.
// GET /v1/policies
func (h *PolicyHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Policies())
}

// Reload перечитывает политики. Невалидный набор отклоняется, прежний остается активным.
// POST /v1/policies/reload
func (h *PolicyHandler) Reload(w http.ResponseWriter, r *http.Request) {
	operator, _ := identity.FromContext(r.Context())

	if err := h.reload(r.Context()); err != nil {
		h.logger.Error("policy reload failed", zap.String("operator", operator.AgentID), zap.Error(err))
		http.Error(w, "Policy reload failed: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}

	count := len(h.store.Policies())
	h.logger.Info("policies reloaded", zap.String("operator", operator.AgentID), zap.Int("count", count))
	writeJSON(w, http.StatusOK, reloadResponse{Status: "reloaded", Policies: count})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
