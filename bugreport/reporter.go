package bugreport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/quickbugs/quickbugs/bugreport/internal/browser"
	"github.com/quickbugs/quickbugs/bugreport/internal/console"
	"github.com/quickbugs/quickbugs/bugreport/report"
)

// DefaultDescription stands in for an empty user description; a report
// body is never sent empty.
const DefaultDescription = "No additional details provided."

// Integration turns a report payload into an issue on an external
// tracker. Implementations surface failures as returned errors with a
// human-readable message and never panic.
type Integration interface {
	Provider() report.Provider
	Submit(ctx context.Context, payload *report.Payload, progress report.ProgressFunc) (*report.SubmitResult, error)
}

// ConsoleSource exposes the intercepted console and error buffers.
type ConsoleSource interface {
	Snapshot() ([]report.ConsoleLogEntry, []report.JSError)
	Clear()
}

// ReporterConfig wires a Reporter.
type ReporterConfig struct {
	Session     *Session
	Console     ConsoleSource
	Integration Integration
	Tab         *browser.Tab
	Logger      *slog.Logger
}

// Reporter fronts a capture Session and submits the resulting evidence
// to a tracker integration.
type Reporter struct {
	session *Session
	console ConsoleSource
	tab     *browser.Tab
	logger  *slog.Logger

	mu          sync.Mutex
	integration Integration
}

func NewReporter(cfg ReporterConfig) *Reporter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reporter{
		session:     cfg.Session,
		console:     cfg.Console,
		tab:         cfg.Tab,
		logger:      cfg.Logger,
		integration: cfg.Integration,
	}
}

// Start begins a video recording.
func (r *Reporter) Start(ctx context.Context) error {
	return r.session.Start(ctx)
}

// Stop ends the recording with a manual reason.
func (r *Reporter) Stop(ctx context.Context) (*report.Artifacts, error) {
	return r.session.Stop(ctx, report.StopManual)
}

// CaptureScreenshot takes a full-page or region screenshot.
func (r *Reporter) CaptureScreenshot(ctx context.Context, region *report.Region) (*report.Artifacts, error) {
	return r.session.CaptureScreenshot(ctx, region)
}

// SetIntegration swaps the tracker target. The UI lets users pick a
// provider after capturing, so this can change between capture and
// submit.
func (r *Reporter) SetIntegration(i Integration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.integration = i
}

// Artifacts returns the current draft, nil when nothing was captured.
func (r *Reporter) Artifacts() *report.Artifacts { return r.session.Artifacts() }

// Recording reports whether a video capture is active.
func (r *Reporter) Recording() bool { return r.session.Recording() }

// ElapsedMs is the age of the active recording, 0 when idle.
func (r *Reporter) ElapsedMs() int64 { return r.session.ElapsedMs() }

// MaxDuration is the recording auto-stop limit.
func (r *Reporter) MaxDuration() time.Duration { return r.session.MaxDuration() }

// ClearDraft discards captured artifacts without submitting.
func (r *Reporter) ClearDraft() { r.session.Reset() }

// Provider names the configured tracker target, empty when none is set.
func (r *Reporter) Provider() report.Provider {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.integration == nil {
		return ""
	}
	return r.integration.Provider()
}

// SubmitOptions carry per-submission extras.
type SubmitOptions struct {
	// Annotation attaches highlight regions the user drew on a
	// screenshot artifact.
	Annotation *report.Annotation
	Progress   report.ProgressFunc
}

// Submit validates the draft, bundles the payload, and hands it to the
// integration. A failed submit leaves the draft intact so the user can
// retry without recapturing; only a successful one resets the session.
func (r *Reporter) Submit(ctx context.Context, title, description string, opts SubmitOptions) (*report.SubmitResult, error) {
	if r.session.Recording() {
		if _, err := r.session.Stop(ctx, report.StopManual); err != nil {
			return nil, err
		}
	}

	artifacts := r.session.Artifacts()
	if artifacts == nil {
		return nil, fmt.Errorf("bugreport: capture a screenshot or record your screen before submitting")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("bugreport: a bug title is required")
	}
	description = strings.TrimSpace(description)
	if description == "" {
		description = DefaultDescription
	}

	r.mu.Lock()
	integration := r.integration
	r.mu.Unlock()
	if integration == nil {
		return nil, fmt.Errorf("bugreport: no tracker integration configured")
	}

	netLogs := r.session.FinalizeNetworkLogs()

	var consoleLogs []report.ConsoleLogEntry
	var jsErrors []report.JSError
	if r.console != nil {
		consoleLogs, jsErrors = r.console.Snapshot()
	}

	metadata := CollectMetadata(ctx, r.tab)
	metadata.Mode = artifacts.Mode
	metadata.Capture = report.CaptureTiming{
		StartedAt: artifacts.StartedAt,
		StoppedAt: artifacts.StoppedAt,
		ElapsedMs: artifacts.ElapsedMs,
	}
	metadata.Annotation = opts.Annotation

	payload := &report.Payload{
		Title:       title,
		Description: description,
		Video:       artifacts.Video,
		Screenshot:  artifacts.Screenshot,
		NetworkLogs: netLogs,
		ConsoleLogs: consoleLogs,
		JSErrors:    jsErrors,
		Mode:        artifacts.Mode,
		PageURL:     r.pageURL(ctx),
		UserAgent:   r.userAgent(ctx),
		StartedAt:   artifacts.StartedAt,
		StoppedAt:   artifacts.StoppedAt,
		ElapsedMs:   artifacts.ElapsedMs,
		Metadata:    metadata,
	}

	progress := opts.Progress
	if progress == nil {
		progress = func(string) {}
	}
	progress(fmt.Sprintf("Submitting to %s…", integration.Provider()))

	result, err := integration.Submit(ctx, payload, progress)
	if err != nil {
		r.logger.Warn("bugreport: submit failed",
			"provider", integration.Provider(), "error", err)
		return nil, err
	}

	r.session.Reset()
	r.logger.Info("bugreport: report submitted",
		"provider", result.Provider, "issue", result.IssueKey)
	return result, nil
}

func (r *Reporter) pageURL(ctx context.Context) string {
	if r.tab == nil {
		return ""
	}
	return r.tab.CurrentURL(ctx)
}

func (r *Reporter) userAgent(ctx context.Context) string {
	if r.tab == nil || r.tab.Page == nil {
		return ""
	}
	res, err := r.tab.Page.Context(ctx).Eval(`() => navigator.userAgent`)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

var _ ConsoleSource = (*console.Interceptor)(nil)
