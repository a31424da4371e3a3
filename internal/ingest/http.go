package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter mounts the webhook endpoint on POST / and POST /ingest, plus
// /healthz and, when metricsHandler is set, /metrics.
func NewRouter(svc *Service, maxBodyBytes int64, metricsHandler http.Handler) *mux.Router {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	h := &handler{svc: svc, maxBodyBytes: maxBodyBytes}
	r := mux.NewRouter()
	r.HandleFunc("/", h.ingest).Methods(http.MethodPost)
	r.HandleFunc("/ingest", h.ingest).Methods(http.MethodPost)
	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}
	return r
}

type handler struct {
	svc          *Service
	maxBodyBytes int64
}

func (h *handler) ingest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeText(w, http.StatusRequestEntityTooLarge, "payload rejected: body exceeds configured limit")
			return
		}
		writeText(w, http.StatusBadRequest, "payload rejected: failed to read body")
		return
	}

	res, err := h.svc.Ingest(r.Context(), body)
	switch {
	case errors.Is(err, ErrEmptyPayload):
		writeText(w, http.StatusBadRequest, "payload rejected: empty payload")
	case errors.Is(err, ErrMalformedPayload):
		writeText(w, http.StatusBadRequest, "payload rejected: malformed json")
	case errors.Is(err, ErrUnsupportedPayloadShape):
		writeText(w, http.StatusBadRequest, "payload rejected: expected a json object or array of objects")
	case err != nil:
		writeText(w, http.StatusInternalServerError, "internal error publishing message")
	default:
		w.Header().Set("X-Message-Id", res.MessageID)
		writeText(w, http.StatusOK, "message published")
	}
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg+"\n")
}
