package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type healthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

// HandleHealth reports that the relay is up, along with the configured model.
func (m Main) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(healthResponse{Status: "ok", Model: m.model}); err != nil {
		m.logger.Error("Failed to write health response", slog.String(errLoggerKey, err.Error()))
	}
}
