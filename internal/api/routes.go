package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the management API router. metricsHandler may
// be nil when metrics are not exposed on this binary.
func SetupRoutes(h *Handlers, metricsHandler http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://app.lettora.co.uk", "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", h.ListCampaigns)
			r.Post("/", h.CreateCampaign)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetCampaign)
				r.Put("/", h.UpdateCampaign)
				r.Delete("/", h.DeleteCampaign)
				r.Get("/stats", h.GetCampaignStats)
				r.Post("/launch", h.LaunchCampaign)
				r.Post("/pause", h.PauseCampaign)
				r.Post("/resume", h.ResumeCampaign)
				r.Post("/stop", h.StopCampaign)
				r.Post("/cancel", h.CancelCampaign)
				r.Post("/schedule", h.ScheduleCampaign)
				r.Post("/abtest", h.ConfigureABTest)
				r.Post("/abtest/evaluate", h.EvaluateABTest)
			})
		})

		r.Route("/leads", func(r chi.Router) {
			r.Get("/", h.ListLeads)
			r.Post("/", h.CreateLead)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetLead)
				r.Put("/", h.UpdateLead)
				r.Delete("/", h.DeleteLead)
				r.Post("/qualify", h.QualifyLead)
				r.Get("/activities", h.ListLeadActivities)
			})
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", h.ListTemplates)
			r.Post("/", h.CreateTemplate)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetTemplate)
				r.Put("/", h.UpdateTemplate)
				r.Delete("/", h.DeleteTemplate)
			})
		})

		r.Route("/emails", func(r chi.Router) {
			r.Get("/{id}", h.GetCampaignEmail)
			r.Post("/send-test", h.SendTestEmail)
			r.Post("/send-bulk", h.SendBulkEmail)
		})
	})

	r.Post("/webhooks/delivery", h.DeliveryWebhook)

	return r
}
