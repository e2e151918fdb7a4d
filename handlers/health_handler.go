package handlers

import (
	"net/http"
	"time"

	"github.com/upb/llm-orchestrator/utils"
)

// HealthStatus is the liveness payload served at /healthz
type HealthStatus struct {
	Status  string    `json:"status"`
	Service string    `json:"service"`
	Time    time.Time `json:"time"`
}

// Healthz reports process liveness. Provider health lives under
// /api/v1/providers/health.
func Healthz(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, HealthStatus{
		Status:  "ok",
		Service: "llm-orchestrator",
		Time:    time.Now().UTC(),
	})
}
