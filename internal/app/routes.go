package app

import (
	"github.com/gorilla/mux"
)

// RegisterRoutes registers all API endpoints.
func RegisterRoutes(r *mux.Router, deps *Dependencies) {
	r.HandleFunc("/api/status", deps.SyncHandler.GetStatus).Methods("GET")
	r.HandleFunc("/api/sync", deps.SyncHandler.TriggerSync).Methods("POST")
}
