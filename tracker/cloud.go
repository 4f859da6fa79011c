package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/quickbugs/quickbugs/bugreport/report"
)

// CloudConfig points the hosted ingestion endpoint.
type CloudConfig struct {
	ProjectKey string
	Endpoint   string // absolute URL of the /api/ingest endpoint

	Client *http.Client
}

// Cloud submits reports to the hosted ingestion endpoint as multipart
// form data: scalar fields plus one binary part per evidence file. The
// endpoint stores the report and forwards it to the project's
// configured tracker asynchronously.
type Cloud struct {
	cfg    CloudConfig
	client *http.Client
}

func NewCloud(cfg CloudConfig) (*Cloud, error) {
	if cfg.ProjectKey == "" {
		return nil, fmt.Errorf("tracker: cloud needs a project key")
	}
	// http.Client.Do rejects relative URLs, so catch a bad endpoint
	// here instead of at submit time.
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("tracker: cloud endpoint must be an absolute URL, got %q", cfg.Endpoint)
	}
	return &Cloud{cfg: cfg, client: httpClient(cfg.Client)}, nil
}

func (c *Cloud) Provider() report.Provider { return report.ProviderCloud }

func (c *Cloud) Submit(ctx context.Context, payload *report.Payload, progress report.ProgressFunc) (*report.SubmitResult, error) {
	progress = ensureProgress(progress)
	progress("Preparing report…")

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"project_key":       c.cfg.ProjectKey,
		"title":             payload.Title,
		"description":       payload.Description,
		"provider":          string(report.ProviderCloud),
		"capture_mode":      string(payload.Mode),
		"has_screenshot":    strconv.FormatBool(payload.Screenshot != nil),
		"has_video":         strconv.FormatBool(payload.Video != nil),
		"has_network_logs":  strconv.FormatBool(len(payload.NetworkLogs) > 0),
		"has_console_logs":  strconv.FormatBool(len(payload.ConsoleLogs) > 0),
		"js_error_count":    strconv.Itoa(len(payload.JSErrors)),
		"user_agent":        payload.UserAgent,
		"browser_name":      ParseBrowserName(payload.UserAgent),
		"os_name":           ParseOSName(payload.UserAgent),
		"device_type":       deviceType(payload.Metadata.Viewport.Width),
		"screen_resolution": fmt.Sprintf("%dx%d", payload.Metadata.Screen.Width, payload.Metadata.Screen.Height),
		"viewport":          fmt.Sprintf("%dx%d", payload.Metadata.Viewport.Width, payload.Metadata.Viewport.Height),
		"locale":            payload.Metadata.Locale,
		"timezone":          payload.Metadata.Timezone,
		"page_url":          payload.PageURL,
		"duration_ms":       strconv.FormatInt(payload.ElapsedMs, 10),
	}
	if payload.Metadata.ColorScheme != "" && payload.Metadata.ColorScheme != "unknown" {
		fields["color_scheme"] = payload.Metadata.ColorScheme
	}
	if payload.Metadata.Connection.EffectiveType != "" {
		fields["connection_type"] = payload.Metadata.Connection.EffectiveType
	}
	fields["environment"] = environmentFor(payload.PageURL)

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("tracker: cloud form: %w", err)
		}
	}

	if payload.Screenshot != nil {
		if err := writeFilePart(w, "screenshot", report.ScreenshotFileName(),
			report.BlobMIME(payload.Screenshot, "image/png"), payload.Screenshot.Data); err != nil {
			return nil, err
		}
	}
	if payload.Video != nil {
		if err := writeFilePart(w, "video", report.RecordingFileName(),
			report.BlobMIME(payload.Video, "video/webm"), payload.Video.Data); err != nil {
			return nil, err
		}
	}
	if len(payload.NetworkLogs) > 0 {
		if err := writeFilePart(w, "network_logs", "network-logs.txt", "text/plain",
			[]byte(report.FormatNetworkLogs(payload.NetworkLogs))); err != nil {
			return nil, err
		}
	}
	if len(payload.ConsoleLogs) > 0 || len(payload.JSErrors) > 0 {
		var parts []string
		if len(payload.JSErrors) > 0 {
			parts = append(parts, "=== JavaScript Errors ===\n"+report.FormatJSErrors(payload.JSErrors))
		}
		if len(payload.ConsoleLogs) > 0 {
			parts = append(parts, "=== Console Output ===\n"+report.FormatConsoleLogs(payload.ConsoleLogs))
		}
		if err := writeFilePart(w, "console_logs", "console-logs.txt", "text/plain",
			[]byte(strings.Join(parts, "\n\n"))); err != nil {
			return nil, err
		}
	}
	mdJSON, _ := json.Marshal(payload.Metadata)
	if err := writeFilePart(w, "metadata", "client-metadata.json", "application/json", mdJSON); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("tracker: cloud form: %w", err)
	}

	progress("Sending report…")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tracker: cloud submission: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return nil, fmt.Errorf("tracker: cloud: %s", errBody.Error)
		}
		return nil, fmt.Errorf("tracker: cloud: HTTP %d", resp.StatusCode)
	}

	var result struct {
		ID               string `json:"id"`
		CreatedAt        string `json:"created_at"`
		ForwardingStatus string `json:"forwarding_status"`
		Forwarding       *struct {
			Provider string `json:"provider"`
			IssueID  string `json:"issue_id"`
			IssueKey string `json:"issue_key"`
			IssueURL string `json:"issue_url"`
		} `json:"forwarding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("tracker: cloud: decode response: %w", err)
	}
	if result.ID == "" {
		return nil, fmt.Errorf("tracker: cloud: response carried no report id")
	}

	progress("Report submitted.")

	out := &report.SubmitResult{
		Provider: report.ProviderCloud,
		IssueID:  result.ID,
		IssueKey: shortReportKey(result.ID),
	}
	if result.Forwarding != nil && result.Forwarding.IssueKey != "" {
		out.IssueKey = result.Forwarding.IssueKey
		out.IssueURL = result.Forwarding.IssueURL
	} else if result.ForwardingStatus == "pending" || result.ForwardingStatus == "running" {
		out.Warnings = append(out.Warnings, "tracker forwarding is still running; the external issue link will appear in the dashboard")
	}
	return out, nil
}

// shortReportKey derives the display key from the report id.
func shortReportKey(id string) string {
	trimmed := id
	if len(trimmed) > 8 {
		trimmed = trimmed[:8]
	}
	return "QB-" + trimmed
}

// ParseBrowserName identifies the browser family from a user agent.
// The order matters: Chrome's UA contains Safari, Edge's contains
// Chrome.
func ParseBrowserName(ua string) string {
	switch {
	case strings.Contains(ua, "Firefox/"):
		return "Firefox"
	case strings.Contains(ua, "Edg/"):
		return "Edge"
	case strings.Contains(ua, "OPR/") || strings.Contains(ua, "Opera/"):
		return "Opera"
	case strings.Contains(ua, "Chrome/"):
		return "Chrome"
	case strings.Contains(ua, "Safari/"):
		return "Safari"
	}
	return "Unknown"
}

// ParseOSName identifies the operating system from a user agent. iOS
// and Android must come before Mac OS and Linux: their UAs contain
// "like Mac OS X" and "Linux" respectively.
func ParseOSName(ua string) string {
	switch {
	case strings.Contains(ua, "iPhone") || strings.Contains(ua, "iPad"):
		return "iOS"
	case strings.Contains(ua, "Android"):
		return "Android"
	case strings.Contains(ua, "Windows"):
		return "Windows"
	case strings.Contains(ua, "Mac OS"):
		return "macOS"
	case strings.Contains(ua, "Linux"):
		return "Linux"
	}
	return "Unknown"
}

func deviceType(viewportWidth int) string {
	switch {
	case viewportWidth <= 0:
		return "unknown"
	case viewportWidth < 768:
		return "mobile"
	case viewportWidth < 1024:
		return "tablet"
	}
	return "desktop"
}

// environmentFor classifies the page host the way the dashboard groups
// reports.
func environmentFor(pageURL string) string {
	switch {
	case pageURL == "":
		return "unknown"
	case strings.Contains(pageURL, "localhost") || strings.Contains(pageURL, "127.0.0.1"):
		return "development"
	case strings.Contains(pageURL, "staging") || strings.Contains(pageURL, "preview"):
		return "staging"
	}
	return "production"
}
