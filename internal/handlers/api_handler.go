package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/webpscan/internal/common"
	"github.com/ternarybob/webpscan/internal/interfaces"
	"github.com/ternarybob/webpscan/internal/models"
)

// APIHandler serves the system endpoints: health, config, version
type APIHandler struct {
	config *common.Config
	scans  interfaces.ScanStorage
	logger arbor.ILogger
}

// NewAPIHandler creates the system API handler
func NewAPIHandler(config *common.Config, scans interfaces.ScanStorage, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		config: config,
		scans:  scans,
		logger: logger,
	}
}

// HealthHandler handles GET /api/health
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	queued, err := h.scans.CountScansByStatus(r.Context(), models.ScanStatusQueued)
	if err != nil {
		h.logger.Error().Err(err).Msg("Health check failed to count queued scans")
		WriteJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "unhealthy",
			"timestamp": time.Now().UTC(),
		})
		return
	}
	processing, err := h.scans.CountScansByStatus(r.Context(), models.ScanStatusProcessing)
	if err != nil {
		processing = 0
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"queuedJobs":     queued,
		"processingJobs": processing,
		"timestamp":      time.Now().UTC(),
	})
}

// ConfigHandler handles GET /api/config. Only client-relevant settings
// are exposed.
func (h *APIHandler) ConfigHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"emailEnabled": h.config.Email.Enabled,
	})
}

// VersionHandler handles GET /api/version
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.Version,
		"build":   common.Build,
	})
}

// NotFoundHandler answers unmatched /api/ paths
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusNotFound, "Not found")
}
