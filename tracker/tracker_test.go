package tracker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/quickbugs/quickbugs/bugreport/report"
)

func testPayload() *report.Payload {
	status := 200
	stopped := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	return &report.Payload{
		Title:       "Checkout button unresponsive",
		Description: "Clicking Buy does nothing.",
		Screenshot:  &report.Blob{Data: []byte("png-bytes"), MIME: "image/png"},
		NetworkLogs: []report.NetworkLogEntry{
			{Method: "POST", URL: "https://shop.example.com/api/cart", Status: &status, DurationMs: 120, Timestamp: stopped},
		},
		ConsoleLogs: []report.ConsoleLogEntry{
			{Level: "error", Timestamp: stopped, Args: []string{"cart update failed"}},
		},
		JSErrors: []report.JSError{
			{Timestamp: stopped, Message: "cart is undefined", Type: report.JSErrorUncaught},
		},
		Mode:      report.ModeScreenshot,
		PageURL:   "https://shop.example.com/checkout",
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		StartedAt: stopped.Add(-5 * time.Second),
		StoppedAt: stopped,
		ElapsedMs: 5000,
		Metadata: report.ClientMetadata{
			Locale:   "en-US",
			Timezone: "Europe/Paris",
			Viewport: report.Viewport{Width: 1280, Height: 800},
			Screen:   report.Screen{Width: 1920, Height: 1080},
		},
	}
}

func TestNewLinearValidation(t *testing.T) {
	if _, err := NewLinear(LinearConfig{}); err == nil {
		t.Fatal("expected error without credentials")
	}
	if _, err := NewLinear(LinearConfig{APIKey: "key"}); err == nil {
		t.Fatal("expected error without team id")
	}
	if _, err := NewLinear(LinearConfig{APIKey: "key", TeamID: "team"}); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLinear(LinearConfig{SubmitProxyURL: "https://proxy.example.com"}); err != nil {
		t.Fatal(err)
	}
}

func TestLinearSubmit(t *testing.T) {
	var gotAuth string
	var mutations []string
	uploads := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			uploads++
			w.WriteHeader(http.StatusOK)
			return
		}

		gotAuth = r.Header.Get("Authorization")
		var body struct {
			Query     string         `json:"query"`
			Variables map[string]any `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Error(err)
		}

		switch {
		case strings.Contains(body.Query, "fileUpload"):
			mutations = append(mutations, "fileUpload")
			json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{
					"fileUpload": map[string]any{
						"success": true,
						"uploadFile": map[string]any{
							"uploadUrl": "http://" + r.Host + "/upload",
							"assetUrl":  "https://assets.example.com/shot.png",
							"headers":   []map[string]string{{"key": "x-meta", "value": "1"}},
						},
					},
				},
			})
		case strings.Contains(body.Query, "issueCreate"):
			mutations = append(mutations, "issueCreate")
			input := body.Variables["input"].(map[string]any)
			if input["teamId"] != "team-1" {
				t.Errorf("teamId = %v", input["teamId"])
			}
			desc := input["description"].(string)
			if !strings.Contains(desc, "### Context") || !strings.Contains(desc, "Capture Mode: Screenshot") {
				t.Errorf("description missing context: %q", desc)
			}
			if !strings.Contains(desc, "https://assets.example.com/shot.png") {
				t.Errorf("description missing asset link: %q", desc)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{
					"issueCreate": map[string]any{
						"success": true,
						"issue": map[string]string{
							"id": "issue-1", "identifier": "ENG-7",
							"url": "https://linear.app/team/issue/ENG-7",
						},
					},
				},
			})
		case strings.Contains(body.Query, "commentCreate"):
			mutations = append(mutations, "commentCreate")
			json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"commentCreate": map[string]any{"success": true}},
			})
		default:
			t.Errorf("unexpected query: %s", body.Query)
		}
	}))
	defer srv.Close()

	l, err := NewLinear(LinearConfig{APIKey: "lin_key", TeamID: "team-1", Endpoint: srv.URL})
	if err != nil {
		t.Fatal(err)
	}

	result, err := l.Submit(context.Background(), testPayload(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.IssueKey != "ENG-7" || result.IssueID != "issue-1" {
		t.Fatalf("result = %+v", result)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("warnings = %v", result.Warnings)
	}
	if gotAuth != "lin_key" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if uploads != 1 {
		t.Fatalf("uploads = %d, want 1", uploads)
	}
	want := []string{"fileUpload", "issueCreate", "commentCreate", "commentCreate"}
	if len(mutations) != len(want) {
		t.Fatalf("mutations = %v, want %v", mutations, want)
	}
	for i := range want {
		if mutations[i] != want[i] {
			t.Fatalf("mutations = %v, want %v", mutations, want)
		}
	}
}

func TestLinearCommentFailureIsWarning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Query string `json:"query"`
		}
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &body)

		if strings.Contains(body.Query, "commentCreate") {
			json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"commentCreate": map[string]any{"success": false}},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"issueCreate": map[string]any{
					"success": true,
					"issue":   map[string]string{"id": "i", "identifier": "ENG-1", "url": "u"},
				},
			},
		})
	}))
	defer srv.Close()

	l, _ := NewLinear(LinearConfig{APIKey: "k", TeamID: "t", Endpoint: srv.URL})
	payload := testPayload()
	payload.Screenshot = nil

	result, err := l.Submit(context.Background(), payload, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Warnings) != 2 {
		t.Fatalf("warnings = %v, want comment failures surfaced", result.Warnings)
	}
}

func TestLinearGraphQLError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]string{{"message": "team not found"}},
		})
	}))
	defer srv.Close()

	l, _ := NewLinear(LinearConfig{APIKey: "k", TeamID: "t", Endpoint: srv.URL})
	payload := testPayload()
	payload.Screenshot = nil

	_, err := l.Submit(context.Background(), payload, nil)
	if err == nil || !strings.Contains(err.Error(), "team not found") {
		t.Fatalf("err = %v", err)
	}
}

func TestLinearSubmitViaProxy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Error(err)
			return
		}
		if got := r.FormValue("provider"); got != "linear" {
			t.Errorf("provider = %q", got)
		}
		if got := r.FormValue("title"); got != "Checkout button unresponsive" {
			t.Errorf("title = %q", got)
		}
		if r.FormValue("clientMetadata") == "" {
			t.Error("clientMetadata missing")
		}
		if _, _, err := r.FormFile("requestsLogFile"); err != nil {
			t.Errorf("requestsLogFile: %v", err)
		}
		f, hdr, err := r.FormFile("screenshotFile")
		if err != nil {
			t.Errorf("screenshotFile: %v", err)
			return
		}
		f.Close()
		if hdr.Filename != "bug-screenshot.png" {
			t.Errorf("screenshot filename = %q", hdr.Filename)
		}
		if ct := hdr.Header.Get("Content-Type"); ct != "image/png" {
			t.Errorf("screenshot content type = %q", ct)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"linear":   map[string]string{"id": "i-9", "identifier": "ENG-9", "url": "https://linear.app/x/ENG-9"},
			"warnings": []string{"metadata comment skipped"},
		})
	}))
	defer srv.Close()

	l, err := NewLinear(LinearConfig{SubmitProxyURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	result, err := l.Submit(context.Background(), testPayload(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.IssueKey != "ENG-9" {
		t.Fatalf("result = %+v", result)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("warnings = %v", result.Warnings)
	}
}

func TestNewJiraValidation(t *testing.T) {
	cfgs := []JiraConfig{
		{},
		{BaseURL: "https://x.atlassian.net"},
		{BaseURL: "https://x.atlassian.net", Email: "a@b.c"},
		{BaseURL: "https://x.atlassian.net", Email: "a@b.c", APIToken: "tok"},
	}
	for i, cfg := range cfgs {
		if _, err := NewJira(cfg); err == nil {
			t.Fatalf("config %d: expected validation error", i)
		}
	}
	if _, err := NewJira(JiraConfig{
		BaseURL: "https://x.atlassian.net", Email: "a@b.c", APIToken: "tok", ProjectKey: "ENG",
	}); err != nil {
		t.Fatal(err)
	}
}

func TestJiraSubmit(t *testing.T) {
	var attachments []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "dev@example.com" || pass != "token-1" {
			t.Errorf("basic auth = %q %q", user, pass)
		}

		switch {
		case r.URL.Path == "/rest/api/3/issue" && r.Method == http.MethodPost:
			var body struct {
				Fields struct {
					Project   map[string]string `json:"project"`
					Summary   string            `json:"summary"`
					IssueType map[string]string `json:"issuetype"`
				} `json:"fields"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Error(err)
			}
			if body.Fields.Project["key"] != "ENG" || body.Fields.IssueType["name"] != "Bug" {
				t.Errorf("fields = %+v", body.Fields)
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]string{"id": "10001", "key": "ENG-12"})

		case strings.HasSuffix(r.URL.Path, "/attachments"):
			if r.Header.Get("X-Atlassian-Token") != "no-check" {
				t.Error("missing X-Atlassian-Token header")
			}
			if err := r.ParseMultipartForm(32 << 20); err != nil {
				t.Error(err)
				return
			}
			_, hdr, err := r.FormFile("file")
			if err != nil {
				t.Errorf("file part: %v", err)
				return
			}
			attachments = append(attachments, hdr.Filename)
			w.WriteHeader(http.StatusOK)
			io.WriteString(w, "[]")

		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	j, err := NewJira(JiraConfig{
		BaseURL: srv.URL, Email: "dev@example.com", APIToken: "token-1", ProjectKey: "ENG",
	})
	if err != nil {
		t.Fatal(err)
	}

	result, err := j.Submit(context.Background(), testPayload(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.IssueKey != "ENG-12" {
		t.Fatalf("result = %+v", result)
	}
	if result.IssueURL != srv.URL+"/browse/ENG-12" {
		t.Fatalf("issue url = %q", result.IssueURL)
	}
	want := []string{"bug-screenshot.png", "network-logs.txt", "console-logs.txt", "client-metadata.json"}
	if len(attachments) != len(want) {
		t.Fatalf("attachments = %v, want %v", attachments, want)
	}
	for i := range want {
		if attachments[i] != want[i] {
			t.Fatalf("attachments = %v, want %v", attachments, want)
		}
	}
}

func TestJiraAttachmentFailureIsWarning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/attachments") {
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]any{"errorMessages": []string{"attachments disabled"}})
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "1", "key": "ENG-1"})
	}))
	defer srv.Close()

	j, _ := NewJira(JiraConfig{BaseURL: srv.URL, Email: "e", APIToken: "t", ProjectKey: "ENG"})
	result, err := j.Submit(context.Background(), testPayload(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("attachment failures not surfaced as warnings")
	}
	for _, warning := range result.Warnings {
		if !strings.Contains(warning, "attachments disabled") {
			t.Fatalf("warning = %q", warning)
		}
	}
}

func TestJiraCreateIssueError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"errors": map[string]string{"project": "project is required"},
		})
	}))
	defer srv.Close()

	j, _ := NewJira(JiraConfig{BaseURL: srv.URL, Email: "e", APIToken: "t", ProjectKey: "ENG"})
	_, err := j.Submit(context.Background(), testPayload(), nil)
	if err == nil || !strings.Contains(err.Error(), "project is required") {
		t.Fatalf("err = %v", err)
	}
}

func TestAdfDocument(t *testing.T) {
	doc := adfDocument("first paragraph\n\nsecond paragraph")
	content := doc["content"].([]map[string]any)
	if len(content) != 2 {
		t.Fatalf("paragraphs = %d, want 2", len(content))
	}
	if doc["version"] != 1 || doc["type"] != "doc" {
		t.Fatalf("doc envelope = %v", doc)
	}
}

func TestNewCloudValidation(t *testing.T) {
	if _, err := NewCloud(CloudConfig{Endpoint: "https://app.example.com/api/ingest"}); err == nil {
		t.Fatal("expected error without project key")
	}

	// Relative endpoints would only fail later inside http.Client.Do,
	// so the constructor has to reject them up front.
	for _, endpoint := range []string{"", "/api/ingest", "app.example.com/api/ingest"} {
		if _, err := NewCloud(CloudConfig{ProjectKey: "qb_x", Endpoint: endpoint}); err == nil {
			t.Fatalf("expected error for endpoint %q", endpoint)
		}
	}

	if _, err := NewCloud(CloudConfig{ProjectKey: "qb_x", Endpoint: "https://app.example.com/api/ingest"}); err != nil {
		t.Fatal(err)
	}
}

func TestCloudSubmit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Error(err)
			return
		}
		checks := map[string]string{
			"project_key":       "qb_testkey",
			"title":             "Checkout button unresponsive",
			"capture_mode":      "screenshot",
			"has_screenshot":    "true",
			"has_video":         "false",
			"has_network_logs":  "true",
			"has_console_logs":  "true",
			"js_error_count":    "1",
			"browser_name":      "Chrome",
			"os_name":           "Linux",
			"device_type":       "desktop",
			"screen_resolution": "1920x1080",
			"viewport":          "1280x800",
			"locale":            "en-US",
			"duration_ms":       "5000",
			"environment":       "production",
		}
		for field, want := range checks {
			if got := r.FormValue(field); got != want {
				t.Errorf("%s = %q, want %q", field, got, want)
			}
		}
		for _, part := range []string{"screenshot", "network_logs", "console_logs", "metadata"} {
			if _, _, err := r.FormFile(part); err != nil {
				t.Errorf("part %s: %v", part, err)
			}
		}
		if _, _, err := r.FormFile("video"); err == nil {
			t.Error("video part present without a recording")
		}

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"id":                "0192d1f4-aaaa-bbbb-cccc-111122223333",
			"created_at":        "2025-03-14T09:30:01Z",
			"forwarding_status": "none",
		})
	}))
	defer srv.Close()

	c, err := NewCloud(CloudConfig{ProjectKey: "qb_testkey", Endpoint: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	result, err := c.Submit(context.Background(), testPayload(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.IssueKey != "QB-0192d1f4" {
		t.Fatalf("issue key = %q", result.IssueKey)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("warnings = %v", result.Warnings)
	}
}

func TestCloudSubmitForwarded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"id":                "abc12345",
			"created_at":        "2025-03-14T09:30:01Z",
			"forwarding_status": "done",
			"forwarding": map[string]string{
				"provider": "linear", "issue_id": "i", "issue_key": "ENG-3",
				"issue_url": "https://linear.app/x/ENG-3",
			},
		})
	}))
	defer srv.Close()

	c, _ := NewCloud(CloudConfig{ProjectKey: "qb_k", Endpoint: srv.URL})
	result, err := c.Submit(context.Background(), testPayload(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.IssueKey != "ENG-3" || result.IssueURL != "https://linear.app/x/ENG-3" {
		t.Fatalf("result = %+v", result)
	}
}

func TestCloudSubmitPendingForwarding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"id": "abc12345", "created_at": "x", "forwarding_status": "pending",
		})
	}))
	defer srv.Close()

	c, _ := NewCloud(CloudConfig{ProjectKey: "qb_k", Endpoint: srv.URL})
	result, err := c.Submit(context.Background(), testPayload(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("warnings = %v", result.Warnings)
	}
}

func TestCloudSubmitError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "Rate limit exceeded."})
	}))
	defer srv.Close()

	c, _ := NewCloud(CloudConfig{ProjectKey: "qb_k", Endpoint: srv.URL})
	_, err := c.Submit(context.Background(), testPayload(), nil)
	if err == nil || !strings.Contains(err.Error(), "Rate limit exceeded.") {
		t.Fatalf("err = %v", err)
	}
}

func TestParseBrowserName(t *testing.T) {
	tests := []struct{ ua, want string }{
		{"Mozilla/5.0 ... Chrome/120.0 Safari/537.36", "Chrome"},
		{"Mozilla/5.0 ... Chrome/120.0 Safari/537.36 Edg/120.0", "Edge"},
		{"Mozilla/5.0 ... Chrome/120.0 Safari/537.36 OPR/106.0", "Opera"},
		{"Mozilla/5.0 ... Gecko/20100101 Firefox/121.0", "Firefox"},
		{"Mozilla/5.0 ... Version/17.1 Safari/605.1.15", "Safari"},
		{"curl/8.4.0", "Unknown"},
	}
	for _, tt := range tests {
		if got := ParseBrowserName(tt.ua); got != tt.want {
			t.Errorf("ParseBrowserName(%q) = %q, want %q", tt.ua, got, tt.want)
		}
	}
}

func TestParseOSName(t *testing.T) {
	tests := []struct{ ua, want string }{
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64)", "Windows"},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)", "macOS"},
		{"Mozilla/5.0 (X11; Linux x86_64)", "Linux"},
		// Android UAs contain "Linux"; Android must win.
		{"Mozilla/5.0 (Linux; Android 14; Pixel 8)", "Android"},
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)", "iOS"},
		{"curl/8.4.0", "Unknown"},
	}
	for _, tt := range tests {
		if got := ParseOSName(tt.ua); got != tt.want {
			t.Errorf("ParseOSName(%q) = %q, want %q", tt.ua, got, tt.want)
		}
	}
}

func TestDeviceType(t *testing.T) {
	tests := []struct {
		width int
		want  string
	}{
		{0, "unknown"}, {-1, "unknown"},
		{320, "mobile"}, {767, "mobile"},
		{768, "tablet"}, {1023, "tablet"},
		{1024, "desktop"}, {2560, "desktop"},
	}
	for _, tt := range tests {
		if got := deviceType(tt.width); got != tt.want {
			t.Errorf("deviceType(%d) = %q, want %q", tt.width, got, tt.want)
		}
	}
}

func TestEnvironmentFor(t *testing.T) {
	tests := []struct{ url, want string }{
		{"", "unknown"},
		{"http://localhost:3000/cart", "development"},
		{"http://127.0.0.1:8080/", "development"},
		{"https://staging.example.com/", "staging"},
		{"https://preview-42.example.app/", "staging"},
		{"https://example.com/", "production"},
	}
	for _, tt := range tests {
		if got := environmentFor(tt.url); got != tt.want {
			t.Errorf("environmentFor(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestShortReportKey(t *testing.T) {
	if got := shortReportKey("0192d1f4-aaaa"); got != "QB-0192d1f4" {
		t.Fatalf("long id = %q", got)
	}
	if got := shortReportKey("abc"); got != "QB-abc" {
		t.Fatalf("short id = %q", got)
	}
}
