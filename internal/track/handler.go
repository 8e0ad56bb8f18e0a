// Package track serves the public tracking surface: the open pixel and
// the click redirect. Both endpoints are passive: they produce their
// fixed response no matter what recording does, so a broken or probed
// tracking URL never surfaces an error to an email client.
package track

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// 1x1 transparent PNG
const pixelB64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

var pixelPNG = func() []byte {
	b, err := base64.StdEncoding.DecodeString(pixelB64)
	if err != nil {
		panic(err)
	}
	return b
}()

// Tracker records engagement hits. Satisfied by the engagement service.
type Tracker interface {
	RecordOpen(ctx context.Context, emailID string)
	RecordClick(ctx context.Context, emailID, url, userAgent, ip string)
}

// Handler serves the tracking endpoints.
type Handler struct {
	tracker Tracker
}

// NewHandler creates a tracking handler.
func NewHandler(tracker Tracker) *Handler {
	return &Handler{tracker: tracker}
}

// Routes returns the tracking router. It carries only Recoverer: request
// logging at this traffic level would be noise, and RealIP is done by
// hand because the ip also feeds the click log.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/track/open/{id}", h.HandleOpen)
	r.Get("/track/click/{id}", h.HandleClick)
	r.Get("/health", h.HandleHealth)
	return r
}

// HandleOpen records the open and serves the pixel. The response is
// byte-identical for known and unknown ids.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	emailID := chi.URLParam(r, "id")
	if emailID != "" {
		h.tracker.RecordOpen(r.Context(), emailID)
	}
	h.servePixel(w)
}

// HandleClick records the click and redirects to the wrapped URL.
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	emailID := chi.URLParam(r, "id")
	target := r.URL.Query().Get("url")

	if target == "" || !strings.HasPrefix(target, "http") {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}

	if emailID != "" {
		h.tracker.RecordClick(r.Context(), emailID, target, r.UserAgent(), realIP(r))
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelPNG)
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
