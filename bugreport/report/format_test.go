package report

import (
	"strings"
	"testing"
	"time"
)

var formatTime = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func TestFormatNetworkLogs(t *testing.T) {
	if got := FormatNetworkLogs(nil); got != "No network requests captured." {
		t.Fatalf("empty = %q", got)
	}

	status := 200
	logs := []NetworkLogEntry{
		{Method: "get", URL: "https://example.com/api", Status: &status, DurationMs: 42, Timestamp: formatTime},
		{Method: "POST", URL: "https://example.com/save", Status: nil, DurationMs: 11, Timestamp: formatTime},
	}
	got := FormatNetworkLogs(logs)
	lines := strings.Split(got, "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines", len(lines))
	}
	if !strings.Contains(lines[0], "GET https://example.com/api -> 200 (42ms)") {
		t.Fatalf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], "POST https://example.com/save -> FAILED (11ms)") {
		t.Fatalf("line 1 = %q", lines[1])
	}
	if !strings.HasPrefix(lines[0], "[2025-03-14T09:26:53Z]") {
		t.Fatalf("timestamp prefix = %q", lines[0])
	}
}

func TestFormatConsoleLogs(t *testing.T) {
	if got := FormatConsoleLogs(nil); got != "No console output captured." {
		t.Fatalf("empty = %q", got)
	}

	logs := []ConsoleLogEntry{
		{Level: "warn", Timestamp: formatTime, Args: []string{"slow", "request"}},
	}
	got := FormatConsoleLogs(logs)
	if !strings.Contains(got, "WARN ") {
		t.Fatalf("level tag missing: %q", got)
	}
	if !strings.Contains(got, "slow request") {
		t.Fatalf("args not joined: %q", got)
	}
}

func TestFormatJSErrors(t *testing.T) {
	if got := FormatJSErrors(nil); got != "No JavaScript errors captured." {
		t.Fatalf("empty = %q", got)
	}

	errs := []JSError{
		{
			Timestamp: formatTime,
			Type:      JSErrorUncaught,
			Message:   "x is not a function",
			Source:    "https://example.com/app.js",
			Line:      10,
			Column:    5,
			Stack:     "TypeError: x is not a function\n    at main (app.js:10:5)",
		},
		{Timestamp: formatTime, Type: JSErrorUnhandledRejection, Message: "fetch failed"},
	}
	got := FormatJSErrors(errs)
	if !strings.Contains(got, "error: x is not a function") {
		t.Fatalf("missing typed message: %q", got)
	}
	if !strings.Contains(got, "at https://example.com/app.js:10:5") {
		t.Fatalf("missing source location: %q", got)
	}
	if !strings.Contains(got, "unhandledrejection: fetch failed") {
		t.Fatalf("missing rejection entry: %q", got)
	}
	blocks := strings.Split(got, "\n\n")
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks", len(blocks))
	}
}

func TestBlobMIME(t *testing.T) {
	if got := BlobMIME(nil, "video/webm"); got != "video/webm" {
		t.Fatalf("nil blob = %q", got)
	}
	if got := BlobMIME(&Blob{}, "image/png"); got != "image/png" {
		t.Fatalf("untagged blob = %q", got)
	}
	if got := BlobMIME(&Blob{MIME: "video/webm"}, "x"); got != "video/webm" {
		t.Fatalf("tagged blob = %q", got)
	}
}

func TestFileNames(t *testing.T) {
	if RecordingFileName() != "bug-recording.webm" {
		t.Fatal("recording file name changed")
	}
	if ScreenshotFileName() != "bug-screenshot.png" {
		t.Fatal("screenshot file name changed")
	}
}

func TestBlobSize(t *testing.T) {
	var b *Blob
	if b.Size() != 0 {
		t.Fatal("nil blob has nonzero size")
	}
	if (&Blob{Data: []byte("abc")}).Size() != 3 {
		t.Fatal("size mismatch")
	}
}
