package bugreport

import (
	"context"
	"encoding/json"

	"github.com/quickbugs/quickbugs/bugreport/internal/browser"
	"github.com/quickbugs/quickbugs/bugreport/report"
)

// metadataJS snapshots the client environment in one round trip. Every
// field is read defensively; a missing API yields a null, never a throw.
const metadataJS = `() => {
	const n = navigator || {};
	const conn = n.connection || n.mozConnection || n.webkitConnection || null;
	let scheme = "unknown";
	try {
		if (window.matchMedia("(prefers-color-scheme: dark)").matches) scheme = "dark";
		else if (window.matchMedia("(prefers-color-scheme: light)").matches) scheme = "light";
	} catch (e) {}
	return JSON.stringify({
		locale: (Intl.DateTimeFormat().resolvedOptions() || {}).locale || null,
		timezone: (Intl.DateTimeFormat().resolvedOptions() || {}).timeZone || null,
		language: n.language || null,
		languages: Array.isArray(n.languages) ? n.languages.slice(0, 8) : null,
		platform: n.platform || null,
		referrer: document.referrer || null,
		color_scheme: scheme,
		viewport: {
			width: window.innerWidth || 0,
			height: window.innerHeight || 0,
			pixel_ratio: window.devicePixelRatio || 1,
		},
		screen: {
			width: (screen || {}).width || 0,
			height: (screen || {}).height || 0,
			avail_width: (screen || {}).availWidth || 0,
			avail_height: (screen || {}).availHeight || 0,
			color_depth: (screen || {}).colorDepth || 0,
		},
		device: {
			hardware_concurrency: n.hardwareConcurrency || 0,
			device_memory_gb: n.deviceMemory || 0,
			max_touch_points: n.maxTouchPoints || 0,
			online: n.onLine !== false,
			cookie_enabled: n.cookieEnabled !== false,
		},
		connection: conn ? {
			effective_type: conn.effectiveType || "",
			downlink_mbps: conn.downlink || 0,
			rtt_ms: conn.rtt || 0,
			save_data: conn.saveData === true,
		} : null,
	});
}`

type metadataSnapshot struct {
	Locale      *string            `json:"locale"`
	Timezone    *string            `json:"timezone"`
	Language    *string            `json:"language"`
	Languages   []string           `json:"languages"`
	Platform    *string            `json:"platform"`
	Referrer    *string            `json:"referrer"`
	ColorScheme *string            `json:"color_scheme"`
	Viewport    report.Viewport    `json:"viewport"`
	Screen      report.Screen      `json:"screen"`
	Device      report.Device      `json:"device"`
	Connection  *report.Connection `json:"connection"`
}

// CollectMetadata snapshots the attached page's environment. It never
// fails: with no page, or when evaluation breaks, it returns a zero
// snapshot so submission can proceed with whatever is known.
func CollectMetadata(ctx context.Context, tab *browser.Tab) report.ClientMetadata {
	var md report.ClientMetadata
	md.ColorScheme = "unknown"
	if tab == nil || tab.Page == nil {
		return md
	}

	res, err := tab.Page.Context(ctx).Eval(metadataJS)
	if err != nil {
		return md
	}

	var snap metadataSnapshot
	if err := json.Unmarshal([]byte(res.Value.Str()), &snap); err != nil {
		return md
	}

	md.Locale = deref(snap.Locale)
	md.Timezone = deref(snap.Timezone)
	md.Language = deref(snap.Language)
	md.Languages = snap.Languages
	md.Platform = deref(snap.Platform)
	md.Referrer = deref(snap.Referrer)
	if snap.ColorScheme != nil {
		md.ColorScheme = *snap.ColorScheme
	}
	md.Viewport = snap.Viewport
	md.Screen = snap.Screen
	md.Device = snap.Device
	if snap.Connection != nil {
		md.Connection = *snap.Connection
	}
	return md
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
