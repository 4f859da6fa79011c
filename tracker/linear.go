package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/quickbugs/quickbugs/bugreport/report"
)

const defaultLinearEndpoint = "https://api.linear.app/graphql"

// LinearConfig credentials the Linear GraphQL API directly, or points
// at a server-side proxy so the API key stays off the client.
type LinearConfig struct {
	APIKey    string
	TeamID    string
	ProjectID string
	Endpoint  string // default api.linear.app/graphql

	// SubmitProxyURL, when set, receives the whole report as multipart
	// form data and creates the issue server-side. Takes precedence over
	// direct API access.
	SubmitProxyURL string

	Client *http.Client
}

// Linear creates issues through Linear's GraphQL API: upload assets via
// fileUpload targets, create the issue, attach logs and metadata as
// comments.
type Linear struct {
	cfg    LinearConfig
	client *http.Client
}

func NewLinear(cfg LinearConfig) (*Linear, error) {
	if cfg.SubmitProxyURL == "" && (cfg.APIKey == "" || cfg.TeamID == "") {
		return nil, fmt.Errorf("tracker: linear needs api key and team id, or a submit proxy url")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultLinearEndpoint
	}
	return &Linear{cfg: cfg, client: httpClient(cfg.Client)}, nil
}

func (l *Linear) Provider() report.Provider { return report.ProviderLinear }

func (l *Linear) Submit(ctx context.Context, payload *report.Payload, progress report.ProgressFunc) (*report.SubmitResult, error) {
	progress = ensureProgress(progress)

	if l.cfg.SubmitProxyURL != "" {
		return l.submitViaProxy(ctx, payload, progress)
	}

	var screenshotURL, recordingURL string
	if payload.Screenshot != nil {
		progress("Uploading screenshot…")
		url, err := l.uploadAsset(ctx, payload.Screenshot.Data,
			report.ScreenshotFileName(), report.BlobMIME(payload.Screenshot, "image/png"))
		if err != nil {
			return nil, err
		}
		screenshotURL = url
	}
	if payload.Video != nil {
		progress("Uploading recording…")
		url, err := l.uploadAsset(ctx, payload.Video.Data,
			report.RecordingFileName(), report.BlobMIME(payload.Video, "video/webm"))
		if err != nil {
			return nil, err
		}
		recordingURL = url
	}

	progress("Creating Linear issue…")
	issue, err := l.createIssue(ctx, payload.Title, linearDescription(payload, screenshotURL, recordingURL))
	if err != nil {
		return nil, err
	}

	progress("Attaching logs…")
	var warnings []string
	logsComment := "### Network Logs\n```text\n" + report.FormatNetworkLogs(payload.NetworkLogs) + "\n```"
	if err := l.addComment(ctx, issue.ID, logsComment); err != nil {
		warnings = append(warnings, fmt.Sprintf("network logs comment failed: %v", err))
	}

	mdJSON, _ := json.MarshalIndent(payload.Metadata, "", "  ")
	mdComment := "### Client Metadata\n```json\n" + string(mdJSON) + "\n```"
	if err := l.addComment(ctx, issue.ID, mdComment); err != nil {
		warnings = append(warnings, fmt.Sprintf("metadata comment failed: %v", err))
	}

	progress("Done!")
	return &report.SubmitResult{
		Provider: report.ProviderLinear,
		IssueID:  issue.ID,
		IssueKey: issue.Identifier,
		IssueURL: issue.URL,
		Warnings: warnings,
	}, nil
}

// linearDescription builds the issue body; evidence links go inline,
// logs and metadata arrive as comments after issue creation.
func linearDescription(payload *report.Payload, screenshotURL, recordingURL string) string {
	mode := "Video"
	if payload.Mode == report.ModeScreenshot {
		mode = "Screenshot"
	}
	pageURL := payload.PageURL
	if pageURL == "" {
		pageURL = "Unknown"
	}

	var b strings.Builder
	b.WriteString(payload.Description)
	b.WriteString("\n\n### Context\n")
	fmt.Fprintf(&b, "- Reported At: %s\n", payload.StoppedAt.Format("2006-01-02T15:04:05.000Z07:00"))
	fmt.Fprintf(&b, "- Capture Mode: %s\n", mode)
	fmt.Fprintf(&b, "- Page URL: %s\n", pageURL)

	if screenshotURL != "" || recordingURL != "" {
		b.WriteString("\n### Media\n")
		if screenshotURL != "" {
			fmt.Fprintf(&b, "- Screenshot: [Open screenshot](%s)\n", screenshotURL)
		}
		if recordingURL != "" {
			fmt.Fprintf(&b, "- Recording: [Open recording](%s)\n", recordingURL)
		}
	}

	b.WriteString("\n*Network logs and client metadata are attached as comments below.*")
	return b.String()
}

// CreateIssue creates a bare issue without uploads or comments. The
// ingest service uses this when forwarding stored reports.
func (l *Linear) CreateIssue(ctx context.Context, title, description string) (*report.SubmitResult, error) {
	issue, err := l.createIssue(ctx, title, description)
	if err != nil {
		return nil, err
	}
	return &report.SubmitResult{
		Provider: report.ProviderLinear,
		IssueID:  issue.ID,
		IssueKey: issue.Identifier,
		IssueURL: issue.URL,
	}, nil
}

// Comment adds a comment to an existing issue.
func (l *Linear) Comment(ctx context.Context, issueID, body string) error {
	return l.addComment(ctx, issueID, body)
}

type linearIssue struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier"`
	URL        string `json:"url"`
}

func (l *Linear) createIssue(ctx context.Context, title, description string) (*linearIssue, error) {
	const query = `mutation IssueCreate($input: IssueCreateInput!) {
		issueCreate(input: $input) {
			success
			issue { id identifier url }
		}
	}`

	input := map[string]any{
		"teamId":      l.cfg.TeamID,
		"title":       title,
		"description": description,
	}
	if l.cfg.ProjectID != "" {
		input["projectId"] = l.cfg.ProjectID
	}

	var resp struct {
		Data struct {
			IssueCreate struct {
				Success bool         `json:"success"`
				Issue   *linearIssue `json:"issue"`
			} `json:"issueCreate"`
		} `json:"data"`
	}
	if err := l.graphql(ctx, query, map[string]any{"input": input}, &resp); err != nil {
		return nil, fmt.Errorf("tracker: linear issue creation failed: %w", err)
	}
	if !resp.Data.IssueCreate.Success || resp.Data.IssueCreate.Issue == nil {
		return nil, fmt.Errorf("tracker: linear issue creation failed")
	}
	issue := resp.Data.IssueCreate.Issue
	if issue.ID == "" || issue.Identifier == "" {
		return nil, fmt.Errorf("tracker: linear did not return an issue identifier")
	}
	return issue, nil
}

// addComment failures are non-critical; the issue already exists.
func (l *Linear) addComment(ctx context.Context, issueID, body string) error {
	const query = `mutation CommentCreate($input: CommentCreateInput!) {
		commentCreate(input: $input) { success }
	}`
	var resp struct {
		Data struct {
			CommentCreate struct {
				Success bool `json:"success"`
			} `json:"commentCreate"`
		} `json:"data"`
	}
	if err := l.graphql(ctx, query, map[string]any{
		"input": map[string]any{"issueId": issueID, "body": body},
	}, &resp); err != nil {
		return err
	}
	if !resp.Data.CommentCreate.Success {
		return fmt.Errorf("comment rejected")
	}
	return nil
}

// uploadAsset requests a fileUpload target, PUTs the bytes to the
// returned URL with the returned headers, and yields the asset URL.
func (l *Linear) uploadAsset(ctx context.Context, data []byte, filename, contentType string) (string, error) {
	const query = `mutation FileUpload($contentType: String!, $filename: String!, $size: Int!) {
		fileUpload(contentType: $contentType, filename: $filename, size: $size) {
			success
			uploadFile {
				uploadUrl
				assetUrl
				headers { key value }
			}
		}
	}`

	var resp struct {
		Data struct {
			FileUpload struct {
				Success    bool `json:"success"`
				UploadFile *struct {
					UploadURL string `json:"uploadUrl"`
					AssetURL  string `json:"assetUrl"`
					Headers   []struct {
						Key   string `json:"key"`
						Value string `json:"value"`
					} `json:"headers"`
				} `json:"uploadFile"`
			} `json:"fileUpload"`
		} `json:"data"`
	}
	err := l.graphql(ctx, query, map[string]any{
		"contentType": contentType,
		"filename":    filename,
		"size":        len(data),
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("tracker: linear upload target: %w", err)
	}
	target := resp.Data.FileUpload.UploadFile
	if target == nil || target.UploadURL == "" || target.AssetURL == "" {
		return "", fmt.Errorf("tracker: linear did not return a valid upload target")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target.UploadURL, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	for _, h := range target.Headers {
		if h.Key != "" && h.Value != "" {
			req.Header.Set(h.Key, h.Value)
		}
	}

	putResp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tracker: linear media upload: %w", err)
	}
	defer putResp.Body.Close()
	if putResp.StatusCode < 200 || putResp.StatusCode >= 300 {
		return "", fmt.Errorf("tracker: linear media upload failed (HTTP %d)", putResp.StatusCode)
	}
	return target.AssetURL, nil
}

func (l *Linear) graphql(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", l.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP POST %s: %w", l.cfg.Endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, graphqlErrorMessage(raw))
	}
	if msg := graphqlErrorMessage(raw); msg != "" {
		return fmt.Errorf("%s", msg)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// graphqlErrorMessage joins the messages of a GraphQL errors array,
// empty when the response carries none.
func graphqlErrorMessage(raw []byte) string {
	var body struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	var msgs []string
	for _, e := range body.Errors {
		if e.Message != "" {
			msgs = append(msgs, e.Message)
		}
	}
	return strings.Join(msgs, "; ")
}

// submitViaProxy posts the whole report as multipart form data to a
// backend that holds the Linear credentials.
func (l *Linear) submitViaProxy(ctx context.Context, payload *report.Payload, progress report.ProgressFunc) (*report.SubmitResult, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"provider":    string(report.ProviderLinear),
		"title":       payload.Title,
		"description": payload.Description,
		"pageUrl":     payload.PageURL,
		"userAgent":   payload.UserAgent,
		"reportedAt":  payload.StoppedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		"captureMode": string(payload.Mode),
	}
	mdJSON, _ := json.Marshal(payload.Metadata)
	fields["clientMetadata"] = string(mdJSON)
	formatted := report.FormatNetworkLogs(payload.NetworkLogs)
	fields["networkLogs"] = formatted

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("tracker: linear proxy form: %w", err)
		}
	}

	if err := writeFilePart(w, "requestsLogFile", "network-logs.txt", "text/plain", []byte(formatted)); err != nil {
		return nil, err
	}
	if payload.Video != nil {
		if err := writeFilePart(w, "screenRecordingFile", report.RecordingFileName(),
			report.BlobMIME(payload.Video, "video/webm"), payload.Video.Data); err != nil {
			return nil, err
		}
	}
	if payload.Screenshot != nil {
		if err := writeFilePart(w, "screenshotFile", report.ScreenshotFileName(),
			report.BlobMIME(payload.Screenshot, "image/png"), payload.Screenshot.Data); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("tracker: linear proxy form: %w", err)
	}

	progress("Submitting to Linear…")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.cfg.SubmitProxyURL, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tracker: linear proxy submission: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Error  string `json:"error"`
		Linear *struct {
			ID         string `json:"id"`
			Identifier string `json:"identifier"`
			URL        string `json:"url"`
		} `json:"linear"`
		Warnings []string `json:"warnings"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if body.Error != "" {
			return nil, fmt.Errorf("tracker: %s", body.Error)
		}
		return nil, fmt.Errorf("tracker: linear proxy submission failed (HTTP %d)", resp.StatusCode)
	}
	if decodeErr != nil || body.Linear == nil || body.Linear.ID == "" || body.Linear.Identifier == "" {
		return nil, fmt.Errorf("tracker: linear proxy submission failed: invalid response")
	}

	return &report.SubmitResult{
		Provider: report.ProviderLinear,
		IssueID:  body.Linear.ID,
		IssueKey: body.Linear.Identifier,
		IssueURL: body.Linear.URL,
		Warnings: body.Warnings,
	}, nil
}

func writeFilePart(w *multipart.Writer, field, filename, contentType string, data []byte) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("tracker: form file %s: %w", field, err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("tracker: form file %s: %w", field, err)
	}
	return nil
}
