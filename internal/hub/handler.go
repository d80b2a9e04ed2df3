package hub

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Handler exposes the hub's HTTP surface: the websocket endpoint plus
// health and stats.
type Handler struct {
	hub *Hub
}

// NewHandler wraps hub for HTTP serving.
func NewHandler(h *Hub) *Handler {
	return &Handler{hub: h}
}

// HandleWebsocket upgrades a client connection.
func (h *Handler) HandleWebsocket(w http.ResponseWriter, r *http.Request) {
	if err := h.hub.UpgradeConnection(w, r); err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
	}
}

// HandleStats reports connection statistics.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"connections":%d}`, h.hub.ConnectionCount())
}

// HandleHealth is a trivial liveness endpoint.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// RegisterRoutes wires the handler into mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleWebsocket)
	mux.HandleFunc("/stats", h.HandleStats)
	mux.HandleFunc("/health", h.HandleHealth)
}
