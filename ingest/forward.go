package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quickbugs/quickbugs/bugreport/report"
	"github.com/quickbugs/quickbugs/tracker"
)

// Forwarder creates an external tracker issue for a stored report.
// Implementations return the created issue or an error; the service
// records either outcome on the report row.
type Forwarder interface {
	Forward(ctx context.Context, row *IntegrationRow, ev *ReportEvent) (*report.SubmitResult, error)
}

// TrackerForwarder builds tracker clients from the integration row's
// provider, token and config and creates a summary issue. Evidence
// files stay in the dashboard; the issue links back by report id.
type TrackerForwarder struct {
	// BaseURL of the dashboard, used for the report link in forwarded
	// issues. Empty disables the link.
	BaseURL string

	Logger *slog.Logger
}

// linearForwardConfig is the integrations.config shape for Linear.
type linearForwardConfig struct {
	TeamID    string `json:"team_id"`
	ProjectID string `json:"project_id"`
}

// jiraForwardConfig is the integrations.config shape for Jira.
type jiraForwardConfig struct {
	SiteURL    string `json:"site_url"`
	Email      string `json:"email"`
	ProjectKey string `json:"project_key"`
	IssueType  string `json:"issue_type"`
}

func (f *TrackerForwarder) Forward(ctx context.Context, row *IntegrationRow, ev *ReportEvent) (*report.SubmitResult, error) {
	description := f.forwardDescription(ev)

	switch row.Provider {
	case string(report.ProviderLinear):
		var cfg linearForwardConfig
		if err := json.Unmarshal([]byte(row.Config), &cfg); err != nil {
			return nil, fmt.Errorf("ingest: linear integration config: %w", err)
		}
		client, err := tracker.NewLinear(tracker.LinearConfig{
			APIKey:    row.APIToken,
			TeamID:    cfg.TeamID,
			ProjectID: cfg.ProjectID,
		})
		if err != nil {
			return nil, err
		}
		return client.CreateIssue(ctx, ev.Title, description)

	case string(report.ProviderJira):
		var cfg jiraForwardConfig
		if err := json.Unmarshal([]byte(row.Config), &cfg); err != nil {
			return nil, fmt.Errorf("ingest: jira integration config: %w", err)
		}
		baseURL := cfg.SiteURL
		if baseURL != "" && !strings.HasPrefix(baseURL, "http") {
			baseURL = "https://" + baseURL
		}
		client, err := tracker.NewJira(tracker.JiraConfig{
			BaseURL:    baseURL,
			Email:      cfg.Email,
			APIToken:   row.APIToken,
			ProjectKey: cfg.ProjectKey,
			IssueType:  cfg.IssueType,
		})
		if err != nil {
			return nil, err
		}
		return client.CreateIssue(ctx, ev.Title, description)
	}

	return nil, fmt.Errorf("ingest: unsupported forwarding provider %q", row.Provider)
}

// forwardDescription summarizes the stored report for the tracker
// issue.
func (f *TrackerForwarder) forwardDescription(ev *ReportEvent) string {
	orNA := func(s string) string {
		if s == "" {
			return "N/A"
		}
		return s
	}
	lines := []string{
		"**Bug Report** from QuickBugs",
		"",
		fmt.Sprintf("- **Page:** %s", orNA(ev.PageURL)),
		fmt.Sprintf("- **Browser:** %s", orNA(ev.BrowserName)),
		fmt.Sprintf("- **OS:** %s", orNA(ev.OSName)),
		fmt.Sprintf("- **Device:** %s", orNA(ev.DeviceType)),
		fmt.Sprintf("- **Capture:** %s", orNA(ev.CaptureMode)),
		fmt.Sprintf("- **Environment:** %s", orNA(ev.Environment)),
	}
	if ev.Description != "" {
		lines = append(lines, "", ev.Description)
	}
	if f.BaseURL != "" {
		lines = append(lines, "",
			fmt.Sprintf("Evidence files: %s/reports/%s", strings.TrimRight(f.BaseURL, "/"), ev.ID))
	}
	return strings.Join(lines, "\n")
}

// forwardAsync runs the forward in the background and records the
// outcome. Errors never reach the ingest response; they show up as
// forwarding_status=failed.
func (s *Service) forwardAsync(row *IntegrationRow, ev *ReportEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		result, err := s.forwarder.Forward(ctx, row, ev)
		if err != nil {
			s.logger.Warn("ingest: forwarding failed",
				"report", ev.ID, "provider", row.Provider, "error", err)
			if serr := s.store.SetForwardingResult(ctx, ev.ID, ForwardFailed, "", "", ""); serr != nil {
				s.logger.Warn("ingest: record forwarding failure", "report", ev.ID, "error", serr)
			}
			return
		}

		if err := s.store.SetForwardingResult(ctx, ev.ID, ForwardDone,
			result.IssueID, result.IssueKey, result.IssueURL); err != nil {
			s.logger.Warn("ingest: record forwarding result", "report", ev.ID, "error", err)
			return
		}
		s.logger.Info("ingest: report forwarded",
			"report", ev.ID, "provider", row.Provider, "issue", result.IssueKey)
	}()
}
