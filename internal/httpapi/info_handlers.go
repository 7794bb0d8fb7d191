package httpapi

import (
	"net/http"

	"github.com/chaz8081/gostt-server/internal/models"
)

type healthResponse struct {
	Status       string `json:"status"`
	ModelLoaded  bool   `json:"model_loaded"`
	WhisperModel string `json:"whisper_model"`
	Version      string `json:"version"`
	Backend      string `json:"backend"`
}

// handleHealth reads only the immutable model info, so it answers even when
// every worker is busy.
func (r *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:       "ok",
		ModelLoaded:  r.info.Loaded,
		WhisperModel: r.info.Model,
		Version:      r.cfg.Version,
		Backend:      r.info.Backend,
	})
}

func (r *Router) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"models":        models.IDs(),
		"current_model": r.info.Model,
		"description":   models.Descriptions(),
	})
}

func (r *Router) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, r.dispatcher.Stats())
}

func (r *Router) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "gostt-server",
		"version": r.cfg.Version,
		"health":  "/health",
		"endpoints": map[string]string{
			"transcribe_file":   "POST /transcribe/",
			"transcribe_base64": "POST /transcribe/base64",
			"transcribe_ws":     "GET /ws/transcribe",
			"versioned":         "POST /api/v1/transcribe/",
			"models":            "GET /models",
			"stats":             "GET /stats",
		},
	})
}
