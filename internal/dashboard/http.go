package dashboard

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/your-org/blipguard/internal/guard"
	"github.com/your-org/blipguard/pkg/report"
)

const maxReportBytes = 64 << 10

// HTTPHandler exposes the report sink and status endpoints.
type HTTPHandler struct {
	service *Service
	logger  *zap.Logger
	router  chi.Router
}

// NewHTTPHandler constructs the HTTP handler and wires routes.
func NewHTTPHandler(service *Service, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HTTPHandler{
		service: service,
		logger:  logger,
	}
	h.buildRouter()
	return h
}

func (h *HTTPHandler) buildRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", h.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/reports", h.handleReport)
		r.Get("/status", h.handleStatus)
		r.Post("/sources/{id}/reset", h.handleResetBaseline)
	})

	h.router = r
}

// Router exposes the configured chi router.
func (h *HTTPHandler) Router() http.Handler {
	return h.router
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *HTTPHandler) handleReport(w http.ResponseWriter, r *http.Request) {
	var payload report.Payload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxReportBytes)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	event, err := h.service.Accept(r.Context(), payload)
	switch {
	case errors.Is(err, ErrUnauthorized):
		h.logger.Warn("report rejected", zap.String("remote", r.RemoteAddr), zap.String("source", payload.Source))
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	case errors.Is(err, ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("report failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "report failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id": event.ID,
	})
}

func (h *HTTPHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"reports": h.service.Latest(),
		"sources": h.service.Sources(),
	})
}

type resetRequest struct {
	SecretKey string `json:"secret_key"`
}

func (h *HTTPHandler) handleResetBaseline(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxReportBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	// ids default to the stream URL, so clients escape them
	id, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid source id")
		return
	}
	err = h.service.ResetBaseline(req.SecretKey, id)
	switch {
	case errors.Is(err, ErrUnauthorized):
		h.logger.Warn("baseline reset rejected", zap.String("remote", r.RemoteAddr), zap.String("source", id))
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	case errors.Is(err, guard.ErrUnknownSource):
		writeError(w, http.StatusNotFound, "unknown source")
		return
	case err != nil:
		h.logger.Error("baseline reset failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "reset failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"source": id,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}
