package ingest

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// blobKinds maps the multipart file field names to stored blob kinds.
var blobKinds = []string{"screenshot", "video", "network_logs", "console_logs", "metadata"}

// ingestResponse is the 201 body.
type ingestResponse struct {
	ID               string          `json:"id"`
	CreatedAt        time.Time       `json:"created_at"`
	ForwardingStatus string          `json:"forwarding_status"`
	Forwarding       json.RawMessage `json:"forwarding"`
}

func (s *Service) handleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)

	if err := r.ParseMultipartForm(8 << 20); err != nil {
		errorJSON(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	defer r.MultipartForm.RemoveAll()

	projectKey := r.FormValue("project_key")
	if projectKey == "" {
		errorJSON(w, http.StatusBadRequest, "Missing project_key.")
		return
	}

	project, err := s.store.ProjectByKey(r.Context(), projectKey)
	if errors.Is(err, sql.ErrNoRows) {
		errorJSON(w, http.StatusUnauthorized, "Invalid project key.")
		return
	}
	if err != nil {
		s.logger.Warn("ingest: project lookup", "error", err)
		errorJSON(w, http.StatusInternalServerError, "Failed to store report.")
		return
	}
	if !project.IsActive {
		errorJSON(w, http.StatusForbidden, "Project is inactive.")
		return
	}

	recent, err := s.store.RecentEventCount(r.Context(), project.ID, time.Minute)
	if err != nil {
		s.logger.Warn("ingest: rate limit count", "error", err)
		errorJSON(w, http.StatusInternalServerError, "Failed to store report.")
		return
	}
	if recent >= project.RateLimitPerMin {
		errorJSON(w, http.StatusTooManyRequests, "Rate limit exceeded.")
		return
	}

	ev := s.eventFromForm(r, project.ID)

	blobs, err := s.collectBlobs(r)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	integration, err := s.store.IntegrationFor(r.Context(), project.ID)
	if err != nil {
		s.logger.Warn("ingest: integration lookup", "error", err)
	}
	ev.ForwardingStatus = ForwardNone
	if integration != nil && s.forwarder != nil {
		ev.ForwardingStatus = ForwardPending
	}

	if err := s.store.InsertReport(r.Context(), ev, blobs); err != nil {
		s.logger.Warn("ingest: insert report", "error", err)
		errorJSON(w, http.StatusInternalServerError, "Failed to store report.")
		return
	}

	if ev.ForwardingStatus == ForwardPending {
		s.forwardAsync(integration, ev)
	}

	s.logger.Info("ingest: report stored",
		"report", ev.ID, "project", project.ID, "mode", ev.CaptureMode, "blobs", len(blobs))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(ingestResponse{
		ID:               ev.ID,
		CreatedAt:        ev.CreatedAt.UTC(),
		ForwardingStatus: ev.ForwardingStatus,
		Forwarding:       json.RawMessage("null"),
	})
}

// eventFromForm maps the fixed multipart field set onto a row. Unknown
// or malformed optional fields degrade to their zero values; only the
// project key gates ingestion.
func (s *Service) eventFromForm(r *http.Request, projectID string) *ReportEvent {
	boolField := func(name string) bool {
		v, _ := strconv.ParseBool(r.FormValue(name))
		return v
	}
	intField := func(name string) int {
		v, _ := strconv.Atoi(r.FormValue(name))
		return v
	}

	title := strings.TrimSpace(s.sanitize(r.FormValue("title")))
	if title == "" {
		title = "Untitled report"
	}
	provider := r.FormValue("provider")
	if provider == "" {
		provider = "manual"
	}
	mode := r.FormValue("capture_mode")
	if mode == "" {
		mode = "screenshot"
	}

	duration, _ := strconv.ParseInt(r.FormValue("duration_ms"), 10, 64)

	return &ReportEvent{
		ProjectID:        projectID,
		Title:            title,
		Description:      s.sanitize(r.FormValue("description")),
		Provider:         provider,
		CaptureMode:      mode,
		HasScreenshot:    boolField("has_screenshot"),
		HasVideo:         boolField("has_video"),
		HasNetworkLogs:   boolField("has_network_logs"),
		HasConsoleLogs:   boolField("has_console_logs"),
		JSErrorCount:     intField("js_error_count"),
		UserAgent:        r.FormValue("user_agent"),
		BrowserName:      r.FormValue("browser_name"),
		OSName:           r.FormValue("os_name"),
		DeviceType:       r.FormValue("device_type"),
		ScreenResolution: r.FormValue("screen_resolution"),
		Viewport:         r.FormValue("viewport"),
		ColorScheme:      r.FormValue("color_scheme"),
		Locale:           r.FormValue("locale"),
		Timezone:         r.FormValue("timezone"),
		ConnectionType:   r.FormValue("connection_type"),
		PageURL:          r.FormValue("page_url"),
		Environment:      r.FormValue("environment"),
		DurationMs:       duration,
	}
}

func (s *Service) collectBlobs(r *http.Request) ([]BlobRow, error) {
	var blobs []BlobRow
	for _, kind := range blobKinds {
		file, header, err := r.FormFile(kind)
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			return nil, err
		}
		blobs = append(blobs, BlobRow{
			Kind:        kind,
			ContentType: partContentType(header),
			Data:        data,
		})
	}
	return blobs, nil
}

func partContentType(h *multipart.FileHeader) string {
	if ct := h.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func (s *Service) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "reportID")
	ev, err := s.store.ReportByID(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		errorJSON(w, http.StatusNotFound, "Report not found.")
		return
	}
	if err != nil {
		s.logger.Warn("ingest: report lookup", "report", id, "error", err)
		errorJSON(w, http.StatusInternalServerError, "Failed to load report.")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":                 ev.ID,
		"title":              ev.Title,
		"description":        ev.Description,
		"provider":           ev.Provider,
		"capture_mode":       ev.CaptureMode,
		"has_screenshot":     ev.HasScreenshot,
		"has_video":          ev.HasVideo,
		"has_network_logs":   ev.HasNetworkLogs,
		"has_console_logs":   ev.HasConsoleLogs,
		"js_error_count":     ev.JSErrorCount,
		"user_agent":         ev.UserAgent,
		"browser_name":       ev.BrowserName,
		"os_name":            ev.OSName,
		"device_type":        ev.DeviceType,
		"screen_resolution":  ev.ScreenResolution,
		"viewport":           ev.Viewport,
		"page_url":           ev.PageURL,
		"environment":        ev.Environment,
		"duration_ms":        ev.DurationMs,
		"forwarding_status":  ev.ForwardingStatus,
		"external_issue_key": ev.ExternalIssueKey,
		"external_issue_url": ev.ExternalIssueURL,
		"created_at":         ev.CreatedAt,
	})
}

func (s *Service) handleGetBlob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "reportID")
	kind := chi.URLParam(r, "kind")

	blob, err := s.store.BlobByKind(r.Context(), id, kind)
	if errors.Is(err, sql.ErrNoRows) {
		errorJSON(w, http.StatusNotFound, "Blob not found.")
		return
	}
	if err != nil {
		s.logger.Warn("ingest: blob lookup", "report", id, "kind", kind, "error", err)
		errorJSON(w, http.StatusInternalServerError, "Failed to load blob.")
		return
	}

	w.Header().Set("Content-Type", blob.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(blob.Data)))
	w.Write(blob.Data)
}
