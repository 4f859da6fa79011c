package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quickbugs/quickbugs/dbopen"
	"github.com/quickbugs/quickbugs/idgen"
)

// Schema is applied at service construction. Blobs live in their own
// table so listing reports never drags megabytes of video through the
// row cache.
const Schema = `
CREATE TABLE IF NOT EXISTS projects (
    id                 TEXT PRIMARY KEY,
    project_key        TEXT NOT NULL UNIQUE,
    name               TEXT NOT NULL DEFAULT '',
    is_active          INTEGER NOT NULL DEFAULT 1,
    rate_limit_per_min INTEGER NOT NULL DEFAULT 60,
    created_at         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS integrations (
    id         TEXT PRIMARY KEY,
    project_id TEXT NOT NULL REFERENCES projects(id),
    provider   TEXT NOT NULL,
    api_token  TEXT NOT NULL,
    config     TEXT NOT NULL DEFAULT '{}',
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_integrations_project ON integrations(project_id);

CREATE TABLE IF NOT EXISTS report_events (
    id                 TEXT PRIMARY KEY,
    project_id         TEXT NOT NULL REFERENCES projects(id),
    title              TEXT NOT NULL,
    description        TEXT NOT NULL DEFAULT '',
    provider           TEXT NOT NULL DEFAULT 'cloud',
    capture_mode       TEXT NOT NULL DEFAULT 'screenshot',
    has_screenshot     INTEGER NOT NULL DEFAULT 0,
    has_video          INTEGER NOT NULL DEFAULT 0,
    has_network_logs   INTEGER NOT NULL DEFAULT 0,
    has_console_logs   INTEGER NOT NULL DEFAULT 0,
    js_error_count     INTEGER NOT NULL DEFAULT 0,
    user_agent         TEXT NOT NULL DEFAULT '',
    browser_name       TEXT NOT NULL DEFAULT '',
    os_name            TEXT NOT NULL DEFAULT '',
    device_type        TEXT NOT NULL DEFAULT '',
    screen_resolution  TEXT NOT NULL DEFAULT '',
    viewport           TEXT NOT NULL DEFAULT '',
    color_scheme       TEXT,
    locale             TEXT,
    timezone           TEXT,
    connection_type    TEXT,
    page_url           TEXT NOT NULL DEFAULT '',
    environment        TEXT NOT NULL DEFAULT '',
    duration_ms        INTEGER NOT NULL DEFAULT 0,
    forwarding_status  TEXT NOT NULL DEFAULT 'none',
    external_issue_id  TEXT,
    external_issue_key TEXT,
    external_issue_url TEXT,
    created_at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_project_created ON report_events(project_id, created_at DESC);

CREATE TABLE IF NOT EXISTS report_blobs (
    report_id    TEXT NOT NULL REFERENCES report_events(id),
    kind         TEXT NOT NULL,
    content_type TEXT NOT NULL,
    data         BLOB NOT NULL,
    PRIMARY KEY (report_id, kind)
);
`

// Forwarding status values carried by report_events.
const (
	ForwardNone    = "none"
	ForwardPending = "pending"
	ForwardDone    = "done"
	ForwardFailed  = "failed"
)

// Project is one registered report destination.
type Project struct {
	ID              string
	ProjectKey      string
	Name            string
	IsActive        bool
	RateLimitPerMin int
}

// IntegrationRow is a tracker configuration attached to a project.
type IntegrationRow struct {
	ID       string
	Provider string
	APIToken string
	Config   string // provider-specific JSON
}

// ReportEvent mirrors one report_events row.
type ReportEvent struct {
	ID               string
	ProjectID        string
	Title            string
	Description      string
	Provider         string
	CaptureMode      string
	HasScreenshot    bool
	HasVideo         bool
	HasNetworkLogs   bool
	HasConsoleLogs   bool
	JSErrorCount     int
	UserAgent        string
	BrowserName      string
	OSName           string
	DeviceType       string
	ScreenResolution string
	Viewport         string
	ColorScheme      string
	Locale           string
	Timezone         string
	ConnectionType   string
	PageURL          string
	Environment      string
	DurationMs       int64
	ForwardingStatus string
	ExternalIssueID  string
	ExternalIssueKey string
	ExternalIssueURL string
	CreatedAt        time.Time
}

// BlobRow is one stored evidence file.
type BlobRow struct {
	Kind        string
	ContentType string
	Data        []byte
}

// Store wraps the SQLite tables behind the ingest service.
type Store struct {
	db    *sql.DB
	newID idgen.Generator
}

func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("ingest: DB is required")
	}
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("ingest: schema: %w", err)
	}
	return &Store{db: db, newID: idgen.Default}, nil
}

// CreateProject provisions a project with a fresh key.
func (s *Store) CreateProject(ctx context.Context, name string, rateLimitPerMin int) (*Project, error) {
	if rateLimitPerMin <= 0 {
		rateLimitPerMin = 60
	}
	p := &Project{
		ID:              s.newID(),
		ProjectKey:      idgen.Prefixed("qb_", idgen.NanoID(24))(),
		Name:            name,
		IsActive:        true,
		RateLimitPerMin: rateLimitPerMin,
	}
	_, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO projects (id, project_key, name, is_active, rate_limit_per_min, created_at)
		 VALUES (?, ?, ?, 1, ?, ?)`,
		p.ID, p.ProjectKey, p.Name, p.RateLimitPerMin, time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("ingest: create project: %w", err)
	}
	return p, nil
}

// ProjectByKey resolves a project key, sql.ErrNoRows when unknown.
func (s *Store) ProjectByKey(ctx context.Context, key string) (*Project, error) {
	var p Project
	var active int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_key, name, is_active, rate_limit_per_min FROM projects WHERE project_key = ?`,
		key).Scan(&p.ID, &p.ProjectKey, &p.Name, &active, &p.RateLimitPerMin)
	if err != nil {
		return nil, err
	}
	p.IsActive = active != 0
	return &p, nil
}

// RecentEventCount counts a project's reports in the trailing window.
func (s *Store) RecentEventCount(ctx context.Context, projectID string, window time.Duration) (int, error) {
	cutoff := time.Now().Add(-window).Unix()
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM report_events WHERE project_id = ? AND created_at >= ?`,
		projectID, cutoff).Scan(&n)
	return n, err
}

// AddIntegration attaches a tracker configuration to a project.
func (s *Store) AddIntegration(ctx context.Context, projectID, provider, apiToken, configJSON string) (string, error) {
	id := s.newID()
	if configJSON == "" {
		configJSON = "{}"
	}
	_, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO integrations (id, project_id, provider, api_token, config, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, projectID, provider, apiToken, configJSON, time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("ingest: add integration: %w", err)
	}
	return id, nil
}

// IntegrationFor returns the project's first integration, nil when none
// is configured.
func (s *Store) IntegrationFor(ctx context.Context, projectID string) (*IntegrationRow, error) {
	var row IntegrationRow
	err := s.db.QueryRowContext(ctx,
		`SELECT id, provider, api_token, config FROM integrations
		 WHERE project_id = ? ORDER BY created_at LIMIT 1`,
		projectID).Scan(&row.ID, &row.Provider, &row.APIToken, &row.Config)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// InsertReport stores the event row and its blobs in one transaction.
func (s *Store) InsertReport(ctx context.Context, ev *ReportEvent, blobs []BlobRow) error {
	if ev.ID == "" {
		ev.ID = s.newID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO report_events (
				id, project_id, title, description, provider, capture_mode,
				has_screenshot, has_video, has_network_logs, has_console_logs, js_error_count,
				user_agent, browser_name, os_name, device_type, screen_resolution, viewport,
				color_scheme, locale, timezone, connection_type, page_url, environment,
				duration_ms, forwarding_status, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.ID, ev.ProjectID, ev.Title, ev.Description, ev.Provider, ev.CaptureMode,
			ev.HasScreenshot, ev.HasVideo, ev.HasNetworkLogs, ev.HasConsoleLogs, ev.JSErrorCount,
			ev.UserAgent, ev.BrowserName, ev.OSName, ev.DeviceType, ev.ScreenResolution, ev.Viewport,
			nullable(ev.ColorScheme), nullable(ev.Locale), nullable(ev.Timezone), nullable(ev.ConnectionType),
			ev.PageURL, ev.Environment, ev.DurationMs, ev.ForwardingStatus, ev.CreatedAt.Unix())
		if err != nil {
			return fmt.Errorf("insert report: %w", err)
		}
		for _, b := range blobs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO report_blobs (report_id, kind, content_type, data) VALUES (?, ?, ?, ?)`,
				ev.ID, b.Kind, b.ContentType, b.Data); err != nil {
				return fmt.Errorf("insert blob %s: %w", b.Kind, err)
			}
		}
		return nil
	})
}

// ReportByID loads one event row.
func (s *Store) ReportByID(ctx context.Context, id string) (*ReportEvent, error) {
	var ev ReportEvent
	var hs, hv, hn, hc int
	var colorScheme, locale, timezone, connType sql.NullString
	var extID, extKey, extURL sql.NullString
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, title, description, provider, capture_mode,
			has_screenshot, has_video, has_network_logs, has_console_logs, js_error_count,
			user_agent, browser_name, os_name, device_type, screen_resolution, viewport,
			color_scheme, locale, timezone, connection_type, page_url, environment,
			duration_ms, forwarding_status, external_issue_id, external_issue_key, external_issue_url,
			created_at
		 FROM report_events WHERE id = ?`, id).Scan(
		&ev.ID, &ev.ProjectID, &ev.Title, &ev.Description, &ev.Provider, &ev.CaptureMode,
		&hs, &hv, &hn, &hc, &ev.JSErrorCount,
		&ev.UserAgent, &ev.BrowserName, &ev.OSName, &ev.DeviceType, &ev.ScreenResolution, &ev.Viewport,
		&colorScheme, &locale, &timezone, &connType, &ev.PageURL, &ev.Environment,
		&ev.DurationMs, &ev.ForwardingStatus, &extID, &extKey, &extURL, &createdAt)
	if err != nil {
		return nil, err
	}
	ev.HasScreenshot, ev.HasVideo = hs != 0, hv != 0
	ev.HasNetworkLogs, ev.HasConsoleLogs = hn != 0, hc != 0
	ev.ColorScheme = colorScheme.String
	ev.Locale = locale.String
	ev.Timezone = timezone.String
	ev.ConnectionType = connType.String
	ev.ExternalIssueID = extID.String
	ev.ExternalIssueKey = extKey.String
	ev.ExternalIssueURL = extURL.String
	ev.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &ev, nil
}

// BlobByKind loads one evidence file for a report.
func (s *Store) BlobByKind(ctx context.Context, reportID, kind string) (*BlobRow, error) {
	var b BlobRow
	b.Kind = kind
	err := s.db.QueryRowContext(ctx,
		`SELECT content_type, data FROM report_blobs WHERE report_id = ? AND kind = ?`,
		reportID, kind).Scan(&b.ContentType, &b.Data)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// SetForwardingResult records the outcome of tracker forwarding.
func (s *Store) SetForwardingResult(ctx context.Context, reportID, status, issueID, issueKey, issueURL string) error {
	_, err := dbopen.Exec(ctx, s.db,
		`UPDATE report_events SET forwarding_status = ?,
			external_issue_id = ?, external_issue_key = ?, external_issue_url = ?
		 WHERE id = ?`,
		status, nullable(issueID), nullable(issueKey), nullable(issueURL), reportID)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
