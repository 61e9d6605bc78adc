package sync

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// Handler exposes the reconciler over HTTP: a status view and a manual
// sync trigger. The trigger only wakes the scheduler, it never runs a cycle
// on the request goroutine.
type Handler struct {
	reconciler *Reconciler
	trigger    func()
}

func NewHandler(reconciler *Reconciler, trigger func()) *Handler {
	return &Handler{reconciler: reconciler, trigger: trigger}
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	status := h.reconciler.Status()
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	log.Debug("Manual sync requested")
	w.Header().Set("Content-Type", "application/json")

	h.trigger()

	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "scheduled"}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}
