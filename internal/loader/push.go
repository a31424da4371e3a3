package loader

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
)

// PushEnvelope is the body a push subscription POSTs for each delivery.
type PushEnvelope struct {
	Message struct {
		Data        string            `json:"data"`
		MessageID   string            `json:"messageId"`
		Attributes  map[string]string `json:"attributes,omitempty"`
		PublishTime string            `json:"publishTime,omitempty"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// NewAdminRouter mounts GET /healthz and, when metricsHandler is set,
// GET /metrics.
func NewAdminRouter(metricsHandler http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	}).Methods(http.MethodGet)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}
	return r
}

// NewPushRouter adds POST /push to the admin routes. A 2xx response acks the
// delivery; 500 asks the channel to redeliver it.
func NewPushRouter(p *Processor, maxBodyBytes int64, metricsHandler http.Handler) *mux.Router {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	h := &pushHandler{proc: p, maxBodyBytes: maxBodyBytes}
	r := NewAdminRouter(metricsHandler)
	r.HandleFunc("/push", h.push).Methods(http.MethodPost)
	return r
}

type pushHandler struct {
	proc         *Processor
	maxBodyBytes int64
}

func (h *pushHandler) push(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "envelope exceeds configured limit", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read envelope", http.StatusBadRequest)
		return
	}
	var env PushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		// Not a delivery at all; redelivering it would not help.
		http.Error(w, "malformed push envelope", http.StatusBadRequest)
		return
	}
	if _, err := h.proc.Process(r.Context(), Delivery{ID: env.Message.MessageID, Data: env.Message.Data}); err != nil {
		http.Error(w, "unit not processed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
