package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/clinic-booking-assistant/internal/clinic"
	"github.com/wolfman30/clinic-booking-assistant/internal/conversation"
	httpmiddleware "github.com/wolfman30/clinic-booking-assistant/internal/http/middleware"
	"github.com/wolfman30/clinic-booking-assistant/internal/webchat"
	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

// Config holds the handlers mounted by New.
type Config struct {
	Logger              *logging.Logger
	ConversationHandler *conversation.Handler
	ClinicHandler       *clinic.Handler
	WebChatHandler      *webchat.Handler
	MetricsHandler      http.Handler
	Metrics             httpmiddleware.HTTPObserver
	RateLimiter         *httpmiddleware.RateLimiter
	AdminAuthSecret     string
	CORSAllowedOrigins  []string
}

// New creates a new chi router with all routes configured.
func New(cfg *Config) http.Handler {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(logger, cfg.Metrics))

	r.Get("/health", healthCheck)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/chat", func(chat chi.Router) {
		if cfg.RateLimiter != nil {
			chat.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
		}
		if cfg.ConversationHandler != nil {
			chat.Post("/messages", cfg.ConversationHandler.Message)
		}
		if cfg.WebChatHandler != nil {
			chat.Get("/ws", cfg.WebChatHandler.HandleWebSocket)
			chat.Get("/history", cfg.WebChatHandler.HandleHistory)
		}
	})

	// Operator routes stay unmounted without a signing secret.
	if cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			if cfg.ConversationHandler != nil {
				admin.Get("/sessions/{sessionID}/turns", cfg.ConversationHandler.Transcript)
			}
			if cfg.ClinicHandler != nil {
				admin.Mount("/clinic", cfg.ClinicHandler.Routes())
			}
		})
	}

	return r
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
