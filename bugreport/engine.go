package bugreport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quickbugs/quickbugs/bugreport/internal/browser"
	"github.com/quickbugs/quickbugs/bugreport/internal/console"
	"github.com/quickbugs/quickbugs/bugreport/internal/netlog"
	"github.com/quickbugs/quickbugs/bugreport/internal/screencast"
	"github.com/quickbugs/quickbugs/bugreport/internal/screenshot"
	"github.com/quickbugs/quickbugs/bugreport/report"
	"github.com/quickbugs/quickbugs/tracker"
)

// Engine assembles the whole capture stack for one page: browser, tab,
// console interceptor, network recorder, screenshot capturer, screen
// recorder, session, and reporter. The CLI talks to the Reporter; the
// Engine only owns lifecycle.
type Engine struct {
	cfg Config

	manager  *browser.Manager
	tab      *browser.Tab
	console  *console.Interceptor
	network  *netlog.Recorder
	recorder *screencast.Recorder
	session  *Session
	reporter *Reporter

	autoStopped chan report.StopReason

	logger *slog.Logger
}

// NewEngine launches (or attaches to) Chrome, opens the target page,
// and wires every capture component. The console interceptor starts
// immediately so the first submit already has log history.
func NewEngine(ctx context.Context, cfg Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Page.URL == "" {
		return nil, fmt.Errorf("bugreport: page url is required")
	}

	mgr := browser.NewManager(browser.Config{
		RemoteURL:    cfg.Browser.Remote,
		Headless:     cfg.Browser.Headless,
		WindowWidth:  cfg.Browser.WindowWidth,
		WindowHeight: cfg.Browser.WindowHeight,
		Logger:       logger,
	})
	if _, err := mgr.Start(ctx); err != nil {
		return nil, fmt.Errorf("bugreport: start browser: %w", err)
	}

	// When attaching to an external browser the page is usually open
	// already; only fall back to a fresh tab when it is not.
	var tab *browser.Tab
	var err error
	if cfg.Browser.Remote != "" {
		tab, err = browser.FindTab(ctx, mgr, cfg.Page.URL, cfg.Page.ID)
	}
	if tab == nil {
		tab, err = browser.OpenTab(ctx, mgr, cfg.Page.URL, cfg.Page.ID)
	}
	if err != nil {
		mgr.Close()
		return nil, fmt.Errorf("bugreport: open tab: %w", err)
	}

	e := &Engine{
		cfg:         cfg,
		manager:     mgr,
		tab:         tab,
		autoStopped: make(chan report.StopReason, 1),
		logger:      logger,
	}

	e.console = console.New(console.Config{Tab: tab, Logger: logger})
	e.console.Start()

	e.network = netlog.New(netlog.Config{Tab: tab, Logger: logger})

	var system screencast.AudioSource
	if cfg.Capture.SystemAudio {
		system = screencast.PulseMonitor("")
	}
	display := &screencast.ScreencastSource{
		Tab:         tab,
		SystemAudio: system,
		FrameRate:   cfg.Capture.FrameRate,
		Quality:     cfg.Capture.Quality,
		MaxWidth:    cfg.Capture.MaxWidth,
		MaxHeight:   cfg.Capture.MaxHeight,
		Logger:      logger,
	}
	e.recorder = screencast.NewRecorder(screencast.Config{
		Display:    display,
		Microphone: screencast.PulseMicrophone(cfg.Capture.MicrophoneDevice),
		Encoder:    &screencast.FFmpegFactory{Path: cfg.Capture.FFmpegPath},
		SystemGain: cfg.Capture.SystemGain,
		MicGain:    cfg.Capture.MicGain,
		Logger:     logger,
	})

	e.session = NewSession(SessionConfig{
		Recorder:    e.recorder,
		Screenshot:  screenshot.New(screenshot.Config{Tab: tab, Logger: logger}),
		Network:     e.network,
		MaxDuration: cfg.Capture.MaxDuration,
		OnAutoStop: func(reason report.StopReason) {
			select {
			case e.autoStopped <- reason:
			default:
			}
		},
		Logger: logger,
	})
	e.recorder.OnEnded = e.session.HandleScreenEnded

	integration, err := buildIntegration(cfg.Tracker)
	if err != nil {
		e.Close(ctx)
		return nil, err
	}

	e.reporter = NewReporter(ReporterConfig{
		Session:     e.session,
		Console:     e.console,
		Integration: integration,
		Tab:         tab,
		Logger:      logger,
	})

	return e, nil
}

// buildIntegration maps the tracker section of the config onto a
// concrete client. An empty provider means submit-less operation; the
// reporter rejects Submit until SetIntegration is called.
func buildIntegration(cfg TrackerConfig) (Integration, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "linear":
		return tracker.NewLinear(tracker.LinearConfig{
			APIKey:         cfg.Linear.APIKey,
			TeamID:         cfg.Linear.TeamID,
			SubmitProxyURL: cfg.Linear.ProxyURL,
		})
	case "jira":
		return tracker.NewJira(tracker.JiraConfig{
			BaseURL:    cfg.Jira.BaseURL,
			Email:      cfg.Jira.Email,
			APIToken:   cfg.Jira.APIToken,
			ProjectKey: cfg.Jira.ProjectKey,
			IssueType:  cfg.Jira.IssueType,
		})
	case "cloud":
		return tracker.NewCloud(tracker.CloudConfig{
			Endpoint:   cfg.Cloud.Endpoint,
			ProjectKey: cfg.Cloud.ProjectKey,
		})
	default:
		return nil, fmt.Errorf("bugreport: unknown tracker provider %q", cfg.Provider)
	}
}

// Reporter returns the submission front end.
func (e *Engine) Reporter() *Reporter {
	return e.reporter
}

// AutoStopped delivers the reason when a recording ends without a
// caller-initiated stop.
func (e *Engine) AutoStopped() <-chan report.StopReason {
	return e.autoStopped
}

// Session returns the capture session, mostly for status queries.
func (e *Engine) Session() *Session {
	return e.session
}

// Tab returns the page under observation.
func (e *Engine) Tab() *browser.Tab {
	return e.tab
}

// Close tears the stack down in reverse order of construction. Safe
// after a partial NewEngine failure.
func (e *Engine) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if e.session != nil {
		e.session.Dispose(ctx)
	}
	if e.recorder != nil {
		e.recorder.Dispose(ctx)
	}
	if e.console != nil {
		e.console.Stop()
	}
	if e.tab != nil {
		if err := e.tab.Close(); err != nil {
			e.logger.Warn("bugreport: close tab", "error", err)
		}
	}
	if e.manager != nil {
		return e.manager.Close()
	}
	return nil
}
