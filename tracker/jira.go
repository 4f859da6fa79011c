package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/quickbugs/quickbugs/bugreport/report"
)

// JiraConfig credentials a Jira Cloud site with basic auth.
type JiraConfig struct {
	BaseURL    string
	Email      string
	APIToken   string
	ProjectKey string
	IssueType  string // default "Bug"

	Client *http.Client
}

// Jira creates issues through the Jira Cloud REST v3 API and uploads
// every evidence file as an issue attachment.
type Jira struct {
	cfg    JiraConfig
	client *http.Client
}

func NewJira(cfg JiraConfig) (*Jira, error) {
	if cfg.BaseURL == "" || cfg.Email == "" || cfg.APIToken == "" || cfg.ProjectKey == "" {
		return nil, fmt.Errorf("tracker: jira needs base url, email, api token and project key")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.IssueType == "" {
		cfg.IssueType = "Bug"
	}
	return &Jira{cfg: cfg, client: httpClient(cfg.Client)}, nil
}

func (j *Jira) Provider() report.Provider { return report.ProviderJira }

func (j *Jira) Submit(ctx context.Context, payload *report.Payload, progress report.ProgressFunc) (*report.SubmitResult, error) {
	progress = ensureProgress(progress)

	progress("Creating Jira issue…")
	issue, err := j.createIssue(ctx, payload.Title, jiraDescription(payload))
	if err != nil {
		return nil, err
	}

	progress("Uploading attachments…")
	var warnings []string
	attach := func(filename, contentType string, data []byte) {
		if err := j.uploadAttachment(ctx, issue.Key, filename, contentType, data); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s upload failed: %v", filename, err))
		}
	}

	if payload.Screenshot != nil {
		attach(report.ScreenshotFileName(), report.BlobMIME(payload.Screenshot, "image/png"), payload.Screenshot.Data)
	}
	if payload.Video != nil {
		attach(report.RecordingFileName(), report.BlobMIME(payload.Video, "video/webm"), payload.Video.Data)
	}

	attach("network-logs.txt", "text/plain", []byte(report.FormatNetworkLogs(payload.NetworkLogs)))

	if len(payload.ConsoleLogs) > 0 || len(payload.JSErrors) > 0 {
		var parts []string
		if len(payload.JSErrors) > 0 {
			parts = append(parts, "=== JavaScript Errors ===\n"+report.FormatJSErrors(payload.JSErrors))
		}
		if len(payload.ConsoleLogs) > 0 {
			parts = append(parts, "=== Console Output ===\n"+report.FormatConsoleLogs(payload.ConsoleLogs))
		}
		attach("console-logs.txt", "text/plain", []byte(strings.Join(parts, "\n\n")))
	}

	mdJSON, _ := json.MarshalIndent(payload.Metadata, "", "  ")
	attach("client-metadata.json", "application/json", mdJSON)

	progress("Done!")
	return &report.SubmitResult{
		Provider: report.ProviderJira,
		IssueID:  issue.ID,
		IssueKey: issue.Key,
		IssueURL: j.cfg.BaseURL + "/browse/" + issue.Key,
		Warnings: warnings,
	}, nil
}

// jiraDescription lists the context fields and the attachment roster so
// the issue reads sensibly before anyone opens the files.
func jiraDescription(payload *report.Payload) string {
	mode := "Video"
	if payload.Mode == report.ModeScreenshot {
		mode = "Screenshot"
	}
	pageURL := payload.PageURL
	if pageURL == "" {
		pageURL = "Unknown"
	}

	lines := []string{
		payload.Description,
		"",
		"Context:",
		fmt.Sprintf("- Reported At: %s", payload.StoppedAt.Format("2006-01-02T15:04:05.000Z07:00")),
		fmt.Sprintf("- Capture Mode: %s", mode),
		fmt.Sprintf("- Page URL: %s", pageURL),
	}

	if payload.Screenshot != nil || payload.Video != nil {
		lines = append(lines, "", "Attachments:")
		if payload.Screenshot != nil {
			lines = append(lines, "- Screenshot attached")
		}
		if payload.Video != nil {
			lines = append(lines, "- Screen recording attached")
		}
		lines = append(lines,
			"- Network logs attached (network-logs.txt)",
			"- Client metadata attached (client-metadata.json)")
	}
	return strings.Join(lines, "\n")
}

// adfDocument wraps plain text into Atlassian Document Format, one
// paragraph per blank-line-separated chunk.
func adfDocument(text string) map[string]any {
	var content []map[string]any
	for _, chunk := range strings.Split(text, "\n\n") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		content = append(content, map[string]any{
			"type":    "paragraph",
			"content": []map[string]any{{"type": "text", "text": chunk}},
		})
	}
	return map[string]any{"type": "doc", "version": 1, "content": content}
}

type jiraIssue struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// CreateIssue creates a bare issue without attachments. The ingest
// service uses this when forwarding stored reports.
func (j *Jira) CreateIssue(ctx context.Context, title, description string) (*report.SubmitResult, error) {
	issue, err := j.createIssue(ctx, title, description)
	if err != nil {
		return nil, err
	}
	return &report.SubmitResult{
		Provider: report.ProviderJira,
		IssueID:  issue.ID,
		IssueKey: issue.Key,
		IssueURL: j.cfg.BaseURL + "/browse/" + issue.Key,
	}, nil
}

// AttachFile uploads one file to an existing issue.
func (j *Jira) AttachFile(ctx context.Context, issueKey, filename, contentType string, data []byte) error {
	return j.uploadAttachment(ctx, issueKey, filename, contentType, data)
}

func (j *Jira) createIssue(ctx context.Context, title, description string) (*jiraIssue, error) {
	body, err := json.Marshal(map[string]any{
		"fields": map[string]any{
			"project":     map[string]string{"key": j.cfg.ProjectKey},
			"summary":     title,
			"description": adfDocument(description),
			"issuetype":   map[string]string{"name": j.cfg.IssueType},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("tracker: marshal jira issue: %w", err)
	}

	url := j.cfg.BaseURL + "/rest/api/3/issue"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(j.cfg.Email, j.cfg.APIToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := j.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tracker: jira issue creation: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tracker: jira issue creation failed (HTTP %d): %s",
			resp.StatusCode, jiraErrorDetail(raw))
	}

	var issue jiraIssue
	if err := json.Unmarshal(raw, &issue); err != nil || issue.ID == "" || issue.Key == "" {
		return nil, fmt.Errorf("tracker: jira issue creation failed: invalid API response")
	}
	return &issue, nil
}

func (j *Jira) uploadAttachment(ctx context.Context, issueKey, filename, contentType string, data []byte) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := writeFilePart(w, "file", filename, contentType, data); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	url := j.cfg.BaseURL + "/rest/api/3/issue/" + issueKey + "/attachments"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return err
	}
	req.SetBasicAuth(j.cfg.Email, j.cfg.APIToken)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Atlassian-Token", "no-check")

	resp, err := j.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, jiraErrorDetail(raw))
	}
	return nil
}

// jiraErrorDetail pulls the human-readable messages out of Jira's two
// error body shapes.
func jiraErrorDetail(raw []byte) string {
	var body struct {
		ErrorMessages []string          `json:"errorMessages"`
		Errors        map[string]string `json:"errors"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return strings.TrimSpace(string(raw))
	}
	var msgs []string
	msgs = append(msgs, body.ErrorMessages...)
	for _, v := range body.Errors {
		msgs = append(msgs, v)
	}
	if len(msgs) == 0 {
		return strings.TrimSpace(string(raw))
	}
	return strings.Join(msgs, "; ")
}
