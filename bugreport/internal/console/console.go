// Package console intercepts the page's console output and global error
// surfaces: console API calls, uncaught exceptions, and unhandled promise
// rejections. Interception is a pure side channel that never alters the
// page's own behavior, and every handler is hardened so a bug in
// capture can never interfere with the application under observation.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/quickbugs/quickbugs/bugreport/internal/browser"
	"github.com/quickbugs/quickbugs/bugreport/report"
)

const (
	maxConsoleEntries = 200
	maxErrorEntries   = 50
	maxArgLength      = 1000

	rejectionBinding = "__quickbugs_rejection"
)

// rejectionHookJS registers a page-side unhandledrejection listener that
// reports through the CDP binding. The uncaught-error surface arrives via
// Runtime.exceptionThrown, so the two hooks stay independent and a
// failure in one never silences the other.
const rejectionHookJS = `() => {
	if (window.__quickbugs_rejection_hooked) { return; }
	window.__quickbugs_rejection_hooked = true;
	window.addEventListener("unhandledrejection", (event) => {
		try {
			const reason = event.reason;
			window.` + rejectionBinding + `(JSON.stringify({
				message: reason instanceof Error ? (reason.message || "Unknown error") : String(reason),
				stack: reason instanceof Error ? (reason.stack || "") : "",
			}));
		} catch (_) {
			// Capture must never interfere with rejection propagation.
		}
	});
}`

// Config for creating an Interceptor.
type Config struct {
	Tab    *browser.Tab
	Logger *slog.Logger
}

// Interceptor tails the page's console and error surfaces into two
// bounded ring buffers. Start and Stop are idempotent; Snapshot copies
// both buffers without draining them.
type Interceptor struct {
	tab    *browser.Tab
	logger *slog.Logger

	mu     sync.Mutex
	logs   *ring[report.ConsoleLogEntry]
	errs   *ring[report.JSError]
	active bool
	cancel context.CancelFunc
}

// New creates an Interceptor. Call Start to install the hooks.
func New(cfg Config) *Interceptor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Interceptor{
		tab:    cfg.Tab,
		logger: cfg.Logger,
		logs:   newRing[report.ConsoleLogEntry](maxConsoleEntries),
		errs:   newRing[report.JSError](maxErrorEntries),
	}
}

// Start installs the console and error hooks. No-op when already active
// or when no page is attached; it never fails. This is fire-and-forget
// instrumentation.
func (c *Interceptor) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active || c.tab == nil || c.tab.Page == nil {
		return
	}
	c.active = true
	c.logs.clear()
	c.errs.clear()

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	page := c.tab.Page

	if err := (proto.RuntimeEnable{}).Call(page); err != nil {
		c.logger.Warn("console: runtime enable failed", "error", err)
	}
	if err := (proto.RuntimeAddBinding{Name: rejectionBinding}).Call(page); err != nil {
		c.logger.Warn("console: add rejection binding failed (may already exist)", "error", err)
	}
	if _, err := page.Eval(rejectionHookJS); err != nil {
		c.logger.Warn("console: inject rejection hook failed", "error", err)
	}

	go c.listenConsole(ctx)
	go c.listenExceptions(ctx)
	go c.listenRejections(ctx)
}

// Stop removes the hooks and detaches the listeners, idempotently. The
// buffers keep their contents until Clear.
func (c *Interceptor) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return
	}
	c.active = false

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.tab != nil && c.tab.Page != nil {
		if err := (proto.RuntimeRemoveBinding{Name: rejectionBinding}).Call(c.tab.Page); err != nil {
			c.logger.Debug("console: remove binding failed", "error", err)
		}
	}
	c.logger.Debug("console: stopped", "logs", c.logs.len(), "errors", c.errs.len())
}

// Snapshot returns point-in-time copies of both buffers without draining.
func (c *Interceptor) Snapshot() ([]report.ConsoleLogEntry, []report.JSError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logs.snapshot(), c.errs.snapshot()
}

// Clear empties both buffers.
func (c *Interceptor) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs.clear()
	c.errs.clear()
}

// Active reports whether the hooks are installed.
func (c *Interceptor) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Interceptor) listenConsole(ctx context.Context) {
	c.tab.Page.Context(ctx).EachEvent(func(e *proto.RuntimeConsoleAPICalled) {
		defer c.recoverHook("console")

		level := mapConsoleLevel(e.Type)
		if level == "" {
			return
		}

		args := make([]string, 0, len(e.Args))
		for _, a := range e.Args {
			args = append(args, serializeArg(a))
		}

		c.pushLog(report.ConsoleLogEntry{
			Level:     level,
			Timestamp: time.Now().UTC(),
			Args:      args,
		})
	})()
}

func (c *Interceptor) listenExceptions(ctx context.Context) {
	c.tab.Page.Context(ctx).EachEvent(func(e *proto.RuntimeExceptionThrown) {
		defer c.recoverHook("exception")

		if e.ExceptionDetails == nil {
			return
		}
		d := e.ExceptionDetails

		message := d.Text
		stack := ""
		if d.Exception != nil && d.Exception.Description != "" {
			message, stack = splitExceptionDescription(d.Exception.Description)
		}
		if message == "" {
			message = "Unknown error"
		}

		c.pushErr(report.JSError{
			Timestamp: time.Now().UTC(),
			Message:   message,
			Source:    d.URL,
			Line:      d.LineNumber,
			Column:    d.ColumnNumber,
			Stack:     stack,
			Type:      report.JSErrorUncaught,
		})
	})()
}

func (c *Interceptor) listenRejections(ctx context.Context) {
	c.tab.Page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		defer c.recoverHook("rejection")

		if e.Name != rejectionBinding {
			return
		}

		var payload struct {
			Message string `json:"message"`
			Stack   string `json:"stack"`
		}
		if err := json.Unmarshal([]byte(e.Payload), &payload); err != nil {
			c.logger.Warn("console: parse rejection payload", "error", err)
			return
		}
		if payload.Message == "" {
			payload.Message = "Unknown error"
		}

		c.pushErr(report.JSError{
			Timestamp: time.Now().UTC(),
			Message:   payload.Message,
			Stack:     payload.Stack,
			Type:      report.JSErrorUnhandledRejection,
		})
	})()
}

func (c *Interceptor) pushLog(entry report.ConsoleLogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return
	}
	c.logs.push(entry)
}

func (c *Interceptor) pushErr(entry report.JSError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return
	}
	c.errs.push(entry)
}

// recoverHook swallows panics inside capture handlers. A broken hook must
// never take down the engine or the page's own error handling.
func (c *Interceptor) recoverHook(which string) {
	if r := recover(); r != nil {
		c.logger.Warn("console: capture hook panicked", "hook", which, "panic", r)
	}
}

func mapConsoleLevel(t proto.RuntimeConsoleAPICalledType) string {
	switch t {
	case proto.RuntimeConsoleAPICalledTypeLog:
		return "log"
	case proto.RuntimeConsoleAPICalledTypeInfo:
		return "info"
	case proto.RuntimeConsoleAPICalledTypeWarning:
		return "warn"
	case proto.RuntimeConsoleAPICalledTypeError:
		return "error"
	default:
		return ""
	}
}

// serializeArg flattens a remote object into a bounded string: strings
// pass through, everything else is JSON-encoded, and values that refuse
// to serialize (circular structures land here) degrade to plain
// formatting rather than being dropped.
func serializeArg(o *proto.RuntimeRemoteObject) string {
	if o == nil {
		return "null"
	}

	if o.Type == proto.RuntimeRemoteObjectTypeString {
		return truncateArg(o.Value.Str())
	}

	if data, err := json.Marshal(o.Value.Val()); err == nil && len(data) > 0 && string(data) != "null" {
		return truncateArg(string(data))
	}

	if o.Description != "" {
		return truncateArg(o.Description)
	}
	return truncateArg(fmt.Sprint(o.Value.Val()))
}

func truncateArg(s string) string {
	runes := []rune(s)
	if len(runes) <= maxArgLength {
		return s
	}
	return string(runes[:maxArgLength]) + "…"
}

// splitExceptionDescription separates "Error: message\n  at ..." into the
// first line and the full stack text.
func splitExceptionDescription(desc string) (message, stack string) {
	for i := 0; i < len(desc); i++ {
		if desc[i] == '\n' {
			return desc[:i], desc
		}
	}
	return desc, ""
}
