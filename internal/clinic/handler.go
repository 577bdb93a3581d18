package clinic

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

// Handler provides HTTP endpoints for clinic configuration management.
type Handler struct {
	store    Source
	clinicID string
	logger   *logging.Logger
}

// NewHandler creates a new clinic config HTTP handler.
func NewHandler(store Source, clinicID string, logger *logging.Logger) *Handler {
	if store == nil {
		panic("clinic: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		store:    store,
		clinicID: clinicID,
		logger:   logger,
	}
}

// Routes returns a chi router with clinic admin routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/config", h.GetConfig)
	r.Put("/config", h.UpdateConfig)
	return r
}

// GetConfig returns the clinic configuration.
// GET /admin/clinic/config
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.store.Get(r.Context(), h.clinicID)
	if err != nil {
		h.logger.Error("failed to get clinic config", "clinic_id", h.clinicID, "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(cfg); err != nil {
		h.logger.Error("failed to encode clinic config", "clinic_id", h.clinicID, "error", err)
	}
}

// UpdateConfigRequest is the request body for updating clinic config. Nil fields are left
// untouched.
type UpdateConfigRequest struct {
	Name           string         `json:"name,omitempty"`
	Phone          string         `json:"phone,omitempty"`
	Address        string         `json:"address,omitempty"`
	Timezone       string         `json:"timezone,omitempty"`
	OpeningHours   []string       `json:"opening_hours,omitempty"`
	Services       []Service      `json:"services,omitempty"`
	Professionals  []Professional `json:"professionals,omitempty"`
	InsurancePlans *[]string      `json:"insurance_plans,omitempty"`
	PaymentMethods []string       `json:"payment_methods,omitempty"`
	FAQ            []FAQ          `json:"faq,omitempty"`
}

// UpdateConfig applies a partial update to the clinic configuration.
// PUT /admin/clinic/config
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req UpdateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}

	cfg, err := h.store.Get(r.Context(), h.clinicID)
	if err != nil {
		h.logger.Error("failed to get clinic config", "clinic_id", h.clinicID, "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}

	if req.Name != "" {
		cfg.Name = req.Name
	}
	if req.Phone != "" {
		cfg.Phone = req.Phone
	}
	if req.Address != "" {
		cfg.Address = req.Address
	}
	if req.Timezone != "" {
		cfg.Timezone = req.Timezone
	}
	if req.OpeningHours != nil {
		cfg.OpeningHours = req.OpeningHours
	}
	if req.Services != nil {
		cfg.Services = req.Services
	}
	if req.Professionals != nil {
		cfg.Professionals = req.Professionals
	}
	if req.InsurancePlans != nil {
		cfg.InsurancePlans = *req.InsurancePlans
	}
	if req.PaymentMethods != nil {
		cfg.PaymentMethods = req.PaymentMethods
	}
	if req.FAQ != nil {
		cfg.FAQ = req.FAQ
	}

	if err := h.store.Set(r.Context(), cfg); err != nil {
		h.logger.Error("failed to save clinic config", "clinic_id", h.clinicID, "error", err)
		http.Error(w, `{"error": "failed to save config"}`, http.StatusInternalServerError)
		return
	}

	h.logger.Info("clinic config updated", "clinic_id", h.clinicID, "name", cfg.Name)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(cfg); err != nil {
		h.logger.Error("failed to encode clinic config", "clinic_id", h.clinicID, "error", err)
	}
}
