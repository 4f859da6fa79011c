// Package report defines the data model shared by the capture engine, the
// tracker integrations, and the ingest service: log entries, artifact
// bundles, client metadata, and the submission payload.
package report

import (
	"time"
)

// CaptureMode says which kind of evidence a session produced.
type CaptureMode string

const (
	ModeVideo      CaptureMode = "video"
	ModeScreenshot CaptureMode = "screenshot"
)

// StopReason records why a recording ended.
type StopReason string

const (
	StopManual      StopReason = "manual"       // caller asked
	StopTimeLimit   StopReason = "time_limit"   // max duration reached
	StopScreenEnded StopReason = "screen_ended" // capture target went away
)

// Provider identifies a tracker integration target.
type Provider string

const (
	ProviderLinear Provider = "linear"
	ProviderJira   Provider = "jira"
	ProviderCloud  Provider = "cloud"
)

// NetworkLogEntry is one completed (or failed) network request.
// Status is nil when the request failed at the transport level rather
// than returning an HTTP error code. Entries are ordered by completion
// time, not issue time.
type NetworkLogEntry struct {
	Method     string    `json:"method"`
	URL        string    `json:"url"`
	Status     *int      `json:"status"`
	DurationMs int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// ConsoleLogEntry is one captured console call. Args are pre-serialized
// and truncated by the interceptor.
type ConsoleLogEntry struct {
	Level     string    `json:"level"` // log | info | warn | error
	Timestamp time.Time `json:"timestamp"`
	Args      []string  `json:"args"`
}

// JSErrorType distinguishes the two global error surfaces.
type JSErrorType string

const (
	JSErrorUncaught           JSErrorType = "error"
	JSErrorUnhandledRejection JSErrorType = "unhandledrejection"
)

// JSError is one captured page error or unhandled promise rejection.
type JSError struct {
	Timestamp time.Time   `json:"timestamp"`
	Message   string      `json:"message"`
	Source    string      `json:"source,omitempty"`
	Line      int         `json:"lineno,omitempty"`
	Column    int         `json:"colno,omitempty"`
	Stack     string      `json:"stack,omitempty"`
	Type      JSErrorType `json:"type"`
}

// Region is a pixel rectangle relative to the viewport at capture time.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// HighlightRegion is a rectangle normalized to 0..1 of the screenshot
// image dimensions. Normalized because the image may be rendered at a
// different pixel density than the viewport it was captured from.
type HighlightRegion struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Annotation carries user-drawn highlights on a screenshot.
type Annotation struct {
	ImageWidth  int               `json:"image_width"`
	ImageHeight int               `json:"image_height"`
	Highlights  []HighlightRegion `json:"highlights"`
}

// Blob is a captured binary artifact tagged with its media type.
type Blob struct {
	Data []byte
	MIME string
}

// Size returns the payload length in bytes.
func (b *Blob) Size() int {
	if b == nil {
		return 0
	}
	return len(b.Data)
}

// Artifacts is the immutable output of one capture cycle. Exactly one of
// Video/Screenshot is non-nil, matching Mode. The Session replaces the
// whole value on the next capture; nothing mutates it in place.
type Artifacts struct {
	Video       *Blob
	Screenshot  *Blob
	NetworkLogs []NetworkLogEntry
	Mode        CaptureMode
	StartedAt   time.Time
	StoppedAt   time.Time
	ElapsedMs   int64
	StopReason  StopReason
}

// Viewport describes the page viewport at snapshot time.
type Viewport struct {
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	PixelRatio float64 `json:"pixel_ratio"`
}

// Screen describes the physical screen at snapshot time.
type Screen struct {
	Width       int `json:"width"`
	Height      int `json:"height"`
	AvailWidth  int `json:"avail_width"`
	AvailHeight int `json:"avail_height"`
	ColorDepth  int `json:"color_depth"`
}

// Device describes client capability hints.
type Device struct {
	HardwareConcurrency int     `json:"hardware_concurrency"`
	DeviceMemoryGB      float64 `json:"device_memory_gb"`
	MaxTouchPoints      int     `json:"max_touch_points"`
	Online              bool    `json:"online"`
	CookieEnabled       bool    `json:"cookie_enabled"`
}

// Connection describes the client network link, when the page exposes it.
type Connection struct {
	EffectiveType string  `json:"effective_type,omitempty"`
	DownlinkMbps  float64 `json:"downlink_mbps,omitempty"`
	RTTMs         int     `json:"rtt_ms,omitempty"`
	SaveData      bool    `json:"save_data"`
}

// CaptureTiming is the window one capture cycle covered.
type CaptureTiming struct {
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	ElapsedMs int64     `json:"elapsed_ms"`
}

// ClientMetadata is a one-shot snapshot of the client environment, taken
// once per submit. Fields stay at their zero values when the collector
// runs without a page attached; collection never fails.
type ClientMetadata struct {
	Locale      string        `json:"locale,omitempty"`
	Timezone    string        `json:"timezone,omitempty"`
	Language    string        `json:"language,omitempty"`
	Languages   []string      `json:"languages,omitempty"`
	Platform    string        `json:"platform,omitempty"`
	Referrer    string        `json:"referrer,omitempty"`
	ColorScheme string        `json:"color_scheme,omitempty"` // light | dark | unknown
	Viewport    Viewport      `json:"viewport"`
	Screen      Screen        `json:"screen"`
	Device      Device        `json:"device"`
	Connection  Connection    `json:"connection"`
	Mode        CaptureMode   `json:"capture_mode,omitempty"`
	Capture     CaptureTiming `json:"capture"`
	Annotation  *Annotation   `json:"annotation,omitempty"`
}

// Payload is the full report handed to an Integration. Built fresh per
// submission and never persisted by the capture engine.
type Payload struct {
	Title       string
	Description string
	Video       *Blob
	Screenshot  *Blob
	NetworkLogs []NetworkLogEntry
	ConsoleLogs []ConsoleLogEntry
	JSErrors    []JSError
	Mode        CaptureMode
	PageURL     string
	UserAgent   string
	StartedAt   time.Time
	StoppedAt   time.Time
	ElapsedMs   int64
	Metadata    ClientMetadata
}

// SubmitResult is what an Integration returns for a created issue.
// Warnings carry non-fatal degradations (an attachment that failed to
// upload, forwarding still running server-side).
type SubmitResult struct {
	Provider Provider `json:"provider"`
	IssueID  string   `json:"issue_id"`
	IssueKey string   `json:"issue_key"`
	IssueURL string   `json:"issue_url,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ProgressFunc receives human-readable submit progress messages.
type ProgressFunc func(message string)
