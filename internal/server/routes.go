package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc(wsPath, s.app.WSHandler.HandleWebSocket)

	// API routes - Scans
	mux.HandleFunc("/api/scan", s.app.ScanHandler.SubmitHandler)      // POST - submit a scan
	mux.HandleFunc("/api/scan/stats", s.app.ScanHandler.StatsHandler) // GET - aggregate savings stats
	mux.HandleFunc("/api/scan/", s.handleScanRoutes)                  // GET /{id}/status|report|images
	mux.HandleFunc("/api/images/", s.handleDownloadRoutes)            // GET /{downloadId}

	// API routes - System
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/config", s.app.APIHandler.ConfigHandler)
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleScanRoutes routes /api/scan/{scanId}/{action} requests
func (s *Server) handleScanRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/scan/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}

	scanID, action := parts[0], parts[1]
	switch action {
	case "status":
		s.app.ScanHandler.StatusHandler(w, r, scanID)
	case "report":
		s.app.ScanHandler.ReportHandler(w, r, scanID)
	case "images":
		s.app.ScanHandler.ScanImagesHandler(w, r, scanID)
	default:
		s.app.APIHandler.NotFoundHandler(w, r)
	}
}

// handleDownloadRoutes routes /api/images/{downloadId} requests
func (s *Server) handleDownloadRoutes(w http.ResponseWriter, r *http.Request) {
	downloadID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/images/"), "/")
	if downloadID == "" || strings.Contains(downloadID, "/") {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}
	s.app.ScanHandler.DownloadHandler(w, r, downloadID)
}
