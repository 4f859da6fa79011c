// Package netlog records the page's network activity through CDP Network
// events. Observation is transparent by construction: nothing is hijacked
// or rewritten, requests proceed exactly as they would without the
// recorder attached.
package netlog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/quickbugs/quickbugs/bugreport/internal/browser"
	"github.com/quickbugs/quickbugs/bugreport/report"
)

// Config for creating a Recorder.
type Config struct {
	Tab    *browser.Tab
	Logger *slog.Logger
}

// pending tracks a request that was issued but has not settled yet.
type pending struct {
	method  string
	url     string
	status  *int
	started time.Time
	issued  time.Time
}

// Recorder accumulates one log entry per settled request. Entries are
// ordered by completion time; a request that fails at the transport level
// gets a nil status.
type Recorder struct {
	tab    *browser.Tab
	logger *slog.Logger

	mu        sync.Mutex
	recording bool
	cancel    context.CancelFunc
	inflight  map[proto.NetworkRequestID]*pending
	logs      []report.NetworkLogEntry
}

// New creates a Recorder. Call Start to begin observing.
func New(cfg Config) *Recorder {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Recorder{
		tab:      cfg.Tab,
		logger:   cfg.Logger,
		inflight: make(map[proto.NetworkRequestID]*pending),
	}
}

// Start enables Network-domain observation. Calling Start while already
// recording is a no-op. It fails when no page is attached, since there
// is no network surface to observe.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return nil
	}
	if r.tab == nil || r.tab.Page == nil {
		return fmt.Errorf("netlog: no page attached, network recording unavailable")
	}

	if err := (proto.NetworkEnable{}).Call(r.tab.Page); err != nil {
		return fmt.Errorf("netlog: enable network domain: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.recording = true

	go r.listen(ctx)
	return nil
}

// Stop detaches the observer and returns the accumulated log. Calling
// Stop while not recording just returns the current snapshot.
func (r *Recorder) Stop() []report.NetworkLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		r.recording = false
		if r.cancel != nil {
			r.cancel()
			r.cancel = nil
		}
		if r.tab != nil && r.tab.Page != nil {
			if err := (proto.NetworkDisable{}).Call(r.tab.Page); err != nil {
				r.logger.Debug("netlog: disable network domain", "error", err)
			}
		}
		r.inflight = make(map[proto.NetworkRequestID]*pending)
	}

	return r.copyLogsLocked()
}

// Clear empties the log.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = nil
}

// IsRecording reports whether observation is active.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Logs returns a defensive copy of the accumulated entries.
func (r *Recorder) Logs() []report.NetworkLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyLogsLocked()
}

func (r *Recorder) copyLogsLocked() []report.NetworkLogEntry {
	out := make([]report.NetworkLogEntry, len(r.logs))
	copy(out, r.logs)
	return out
}

func (r *Recorder) listen(ctx context.Context) {
	page := r.tab.Page.Context(ctx)

	go page.EachEvent(func(e *proto.NetworkRequestWillBeSent) {
		if e.Request == nil {
			return
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if !r.recording {
			return
		}
		r.inflight[e.RequestID] = &pending{
			method:  e.Request.Method,
			url:     e.Request.URL,
			started: time.Now(),
			issued:  time.Now().UTC(),
		}
	})()

	go page.EachEvent(func(e *proto.NetworkResponseReceived) {
		if e.Response == nil {
			return
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if p, ok := r.inflight[e.RequestID]; ok {
			status := e.Response.Status
			p.status = &status
		}
	})()

	go page.EachEvent(func(e *proto.NetworkLoadingFinished) {
		r.settle(e.RequestID, true)
	})()

	page.EachEvent(func(e *proto.NetworkLoadingFailed) {
		r.settle(e.RequestID, false)
	})()
}

// settle moves an in-flight request into the log at its completion time.
func (r *Recorder) settle(id proto.NetworkRequestID, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, found := r.inflight[id]
	if !found || !r.recording {
		return
	}
	delete(r.inflight, id)

	entry := report.NetworkLogEntry{
		Method:     p.method,
		URL:        p.url,
		DurationMs: max(0, time.Since(p.started).Milliseconds()),
		Timestamp:  p.issued,
	}
	if ok {
		entry.Status = p.status
	}
	r.logs = append(r.logs, entry)
}
