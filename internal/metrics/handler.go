package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/angeloszaimis/tunnel-relay/internal/backend"
)

func (c *Collector) Handler(tunnel *backend.Tunnel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := c.TunnelSnapshot(tunnel)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}
