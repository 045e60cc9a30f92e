// Package status serves the read-only HTTP view of the interface registry.
package status

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"firestige.xyz/psniff/internal/state"
)

// Handlers serves registry snapshots.
type Handlers struct {
	registry *state.Registry
	started  time.Time
}

// NewHandlers creates handlers over r.
func NewHandlers(r *state.Registry) *Handlers {
	return &Handlers{registry: r, started: time.Now()}
}

// RegisterRoutes registers the status routes on router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/status", h.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/status/ready", h.handleReady).Methods(http.MethodGet)
	router.HandleFunc("/status/interfaces/{name}", h.handleInterface).Methods(http.MethodGet)
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Timestamp  time.Time               `json:"timestamp"`
	Uptime     string                  `json:"uptime"`
	Interfaces []state.InterfaceStatus `json:"interfaces"`
}

func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, StatusResponse{
		Timestamp:  time.Now().UTC(),
		Uptime:     time.Since(h.started).Truncate(time.Second).String(),
		Interfaces: h.registry.SnapshotAll(),
	})
}

func (h *Handlers) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handlers) handleInterface(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	iface, ok := h.registry.Lookup(name)
	if !ok {
		respondWithError(w, http.StatusNotFound, "unknown interface: "+name)
		return
	}
	respondWithJSON(w, http.StatusOK, iface.Snapshot())
}

func respondWithJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondWithError(w http.ResponseWriter, status int, message string) {
	respondWithJSON(w, status, map[string]string{"error": message})
}
