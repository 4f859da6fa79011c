// Package tracker submits bug report payloads to external issue
// trackers. Each integration turns one report.Payload into an issue on
// its provider and returns the created issue's identifiers.
package tracker

import (
	"net/http"
	"time"

	"github.com/quickbugs/quickbugs/bugreport/report"
)

const defaultTimeout = 60 * time.Second

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: defaultTimeout}
}

func noProgress(string) {}

func ensureProgress(p report.ProgressFunc) report.ProgressFunc {
	if p == nil {
		return noProgress
	}
	return p
}
