// -----------------------------------------------------------------------
// Scan Handler - submission, status, report, and download endpoints
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/webpscan/internal/common"
	"github.com/ternarybob/webpscan/internal/interfaces"
	"github.com/ternarybob/webpscan/internal/models"
	"github.com/ternarybob/webpscan/internal/services/admission"
	"github.com/ternarybob/webpscan/internal/services/report"
	"github.com/ternarybob/webpscan/internal/services/savings"
	"github.com/ternarybob/webpscan/internal/services/scheduler"
	"github.com/ternarybob/webpscan/internal/services/validation"
)

// Waker nudges the worker pool after an enqueue
type Waker interface {
	Wake()
}

// StatsSource exposes the aggregate snapshot to the stats endpoint
type StatsSource interface {
	Snapshot(ctx context.Context) (*models.StatsUpdate, error)
}

// ProgressSource answers queue-position questions for submissions
type ProgressSource interface {
	ScanEnqueued(ctx context.Context, scanID string)
}

// ScanHandler serves the scan lifecycle API
type ScanHandler struct {
	config    *common.Config
	validator *validation.SubmissionValidator
	admission *admission.Service
	scheduler *scheduler.Service
	scans     interfaces.ScanStorage
	images    interfaces.ImageStorage
	zips      interfaces.ZipStorage
	stats     StatsSource
	progress  ProgressSource
	reports   *report.Service
	pool      Waker
	logger    arbor.ILogger
}

// NewScanHandler creates the scan API handler
func NewScanHandler(config *common.Config, validator *validation.SubmissionValidator, admissionSvc *admission.Service, sched *scheduler.Service, scans interfaces.ScanStorage, images interfaces.ImageStorage, zips interfaces.ZipStorage, stats StatsSource, progress ProgressSource, reports *report.Service, pool Waker, logger arbor.ILogger) *ScanHandler {
	return &ScanHandler{
		config:    config,
		validator: validator,
		admission: admissionSvc,
		scheduler: sched,
		scans:     scans,
		images:    images,
		zips:      zips,
		stats:     stats,
		progress:  progress,
		reports:   reports,
		pool:      pool,
		logger:    logger,
	}
}

type submitRequest struct {
	URL           string `json:"url"`
	Email         string `json:"email,omitempty"`
	ConvertToWebP bool   `json:"convertToWebP"`
}

type submitResponse struct {
	ScanID        string `json:"scanId"`
	QueuePosition int    `json:"queuePosition"`
	Message       string `json:"message"`
	ConvertToWebP bool   `json:"convertToWebP"`
}

// SubmitHandler handles POST /api/scan
func (h *ScanHandler) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"errors":  []string{"Request body is not valid JSON."},
		})
		return
	}

	if result := h.validator.ValidateSubmission(req.URL, req.Email); !result.Valid {
		WriteJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"errors":  result.Errors,
		})
		return
	}

	ip := h.admission.EffectiveIP(r)
	if err := h.admission.Admit(r.Context(), ip); err != nil {
		var rejection *admission.RejectionError
		if errors.As(err, &rejection) {
			if rejection.RetryAfterSeconds > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(rejection.RetryAfterSeconds))
			}
			WriteError(w, http.StatusTooManyRequests, rejection.Message)
			return
		}
		h.logger.Error().Err(err).Msg("Admission check failed")
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	submissionCount, err := h.scans.NextSubmissionCount(r.Context(), ip)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to compute submission count")
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	job := &models.ScanJob{
		ID:              common.NewScanID(),
		URL:             common.NormalizeURL(req.URL),
		Email:           req.Email,
		SubmitterIP:     ip,
		SubmissionCount: submissionCount,
		PriorityScore:   scheduler.BaseScore(submissionCount),
		Status:          models.ScanStatusQueued,
		ConvertToWebP:   req.ConvertToWebP && h.config.WebPConversion.Enabled,
		CreatedAt:       time.Now(),
	}

	if err := h.scans.SaveScan(r.Context(), job); err != nil {
		h.logger.Error().Err(err).Msg("Failed to persist scan submission")
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	position, err := h.scheduler.QueuePosition(r.Context(), job.ID)
	if err != nil {
		position = 0
	}

	h.progress.ScanEnqueued(r.Context(), job.ID)
	h.pool.Wake()

	h.logger.Info().
		Str("scan_id", job.ID).
		Str("url", job.URL).
		Int("queue_position", position).
		Msg("Scan submitted")

	WriteJSON(w, http.StatusCreated, submitResponse{
		ScanID:        job.ID,
		QueuePosition: position,
		Message:       fmt.Sprintf("Scan queued at position %d.", position),
		ConvertToWebP: job.ConvertToWebP,
	})
}

// StatusHandler handles GET /api/scan/{scanId}/status
func (h *ScanHandler) StatusHandler(w http.ResponseWriter, r *http.Request, scanID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	job, err := h.scans.GetScan(r.Context(), scanID)
	if err != nil {
		if interfaces.IsNotFound(err) {
			WriteError(w, http.StatusNotFound, "Scan not found")
			return
		}
		h.logger.Error().Str("scan_id", scanID).Err(err).Msg("Failed to load scan")
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// ReportHandler handles GET /api/scan/{scanId}/report
func (h *ScanHandler) ReportHandler(w http.ResponseWriter, r *http.Request, scanID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	job, err := h.scans.GetScan(r.Context(), scanID)
	if err != nil {
		if interfaces.IsNotFound(err) {
			WriteError(w, http.StatusNotFound, "Scan not found")
			return
		}
		h.logger.Error().Str("scan_id", scanID).Err(err).Msg("Failed to load scan")
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if job.Status != models.ScanStatusCompleted {
		WriteError(w, http.StatusBadRequest, "Report is only available for completed scans")
		return
	}

	images, err := h.images.GetImagesByScan(r.Context(), scanID)
	if err != nil {
		h.logger.Error().Str("scan_id", scanID).Err(err).Msg("Failed to load images for report")
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	pdf, err := h.reports.Generate(job, images, savings.Summarize(images))
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to generate report")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename(job)))
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.Write(pdf)
}

// ScanImagesHandler handles GET /api/scan/{scanId}/images
func (h *ScanHandler) ScanImagesHandler(w http.ResponseWriter, r *http.Request, scanID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	if _, err := h.scans.GetScan(r.Context(), scanID); err != nil {
		if interfaces.IsNotFound(err) {
			WriteError(w, http.StatusNotFound, "Scan not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	zip, err := h.zips.GetZipByScan(r.Context(), scanID)
	if err != nil {
		if interfaces.IsNotFound(err) {
			WriteError(w, http.StatusNotFound, "WebP conversion was not requested for this scan")
			return
		}
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.serveZip(w, zip)
}

// DownloadHandler handles GET /api/images/{downloadId}
func (h *ScanHandler) DownloadHandler(w http.ResponseWriter, r *http.Request, downloadID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	zip, err := h.zips.GetZip(r.Context(), downloadID)
	if err != nil {
		if interfaces.IsNotFound(err) {
			WriteError(w, http.StatusNotFound, "Download not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.serveZip(w, zip)
}

// serveZip streams the artifact file, answering 410 once the download
// window has passed or the file is gone.
func (h *ScanHandler) serveZip(w http.ResponseWriter, zip *models.ConvertedImageZip) {
	if zip.Expired(time.Now()) {
		WriteJSON(w, http.StatusGone, map[string]interface{}{
			"expired": true,
			"error":   "This download has expired.",
		})
		return
	}

	file, err := os.Open(zip.FilePath)
	if err != nil {
		WriteJSON(w, http.StatusGone, map[string]interface{}{
			"expired": true,
			"error":   "This download is no longer available.",
		})
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", zip.Filename))
	w.Header().Set("Content-Length", strconv.FormatInt(zip.SizeBytes, 10))
	if _, err := io.Copy(w, file); err != nil {
		h.logger.Debug().Str("download_id", zip.DownloadID).Err(err).Msg("Zip download interrupted")
	}
}

// StatsHandler handles GET /api/scan/stats
func (h *ScanHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	snapshot, err := h.stats.Snapshot(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to build stats snapshot")
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	WriteJSON(w, http.StatusOK, snapshot)
}
