package report

import (
	"fmt"
	"strings"
	"time"
)

const timestampLayout = time.RFC3339

// FormatNetworkLogs renders the network log as one line per request,
// the shape the tracker integrations embed in issue comments.
func FormatNetworkLogs(logs []NetworkLogEntry) string {
	if len(logs) == 0 {
		return "No network requests captured."
	}

	lines := make([]string, 0, len(logs))
	for _, e := range logs {
		status := "FAILED"
		if e.Status != nil {
			status = fmt.Sprintf("%d", *e.Status)
		}
		lines = append(lines, fmt.Sprintf("[%s] %s %s -> %s (%dms)",
			e.Timestamp.Format(timestampLayout),
			strings.ToUpper(e.Method), e.URL, status, e.DurationMs))
	}
	return strings.Join(lines, "\n")
}

// FormatConsoleLogs renders the console transcript as plain text.
func FormatConsoleLogs(logs []ConsoleLogEntry) string {
	if len(logs) == 0 {
		return "No console output captured."
	}

	lines := make([]string, 0, len(logs))
	for _, e := range logs {
		tag := strings.ToUpper(e.Level)
		for len(tag) < 5 {
			tag += " "
		}
		lines = append(lines, fmt.Sprintf("[%s] %s %s",
			e.Timestamp.Format(timestampLayout), tag, strings.Join(e.Args, " ")))
	}
	return strings.Join(lines, "\n")
}

// FormatJSErrors renders captured errors with source locations and stacks.
func FormatJSErrors(errs []JSError) string {
	if len(errs) == 0 {
		return "No JavaScript errors captured."
	}

	blocks := make([]string, 0, len(errs))
	for _, e := range errs {
		var b strings.Builder
		fmt.Fprintf(&b, "[%s] %s: %s", e.Timestamp.Format(timestampLayout), e.Type, e.Message)
		if e.Source != "" {
			fmt.Fprintf(&b, "\n  at %s", e.Source)
			if e.Line > 0 {
				fmt.Fprintf(&b, ":%d", e.Line)
			}
			if e.Column > 0 {
				fmt.Fprintf(&b, ":%d", e.Column)
			}
		}
		if e.Stack != "" {
			for _, line := range strings.Split(e.Stack, "\n") {
				fmt.Fprintf(&b, "\n  %s", line)
			}
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}

// RecordingFileName names a video blob for upload.
func RecordingFileName() string { return "bug-recording.webm" }

// ScreenshotFileName names a screenshot blob for upload.
func ScreenshotFileName() string { return "bug-screenshot.png" }

// BlobMIME returns the blob's media type or the fallback when untagged.
func BlobMIME(b *Blob, fallback string) string {
	if b == nil || b.MIME == "" {
		return fallback
	}
	return b.MIME
}
