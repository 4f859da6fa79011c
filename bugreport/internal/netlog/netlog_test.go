package netlog

import (
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

func TestStartWithoutPage(t *testing.T) {
	r := New(Config{})
	if err := r.Start(); err == nil {
		t.Fatal("Start without a page must fail")
	}
	if r.IsRecording() {
		t.Fatal("recorder thinks it is recording")
	}
}

func TestStopWhileIdle(t *testing.T) {
	r := New(Config{})
	if logs := r.Stop(); len(logs) != 0 {
		t.Fatalf("idle Stop returned %d entries", len(logs))
	}
}

func TestSettleSuccess(t *testing.T) {
	r := New(Config{})
	r.recording = true

	id := proto.NetworkRequestID("req-1")
	r.inflight[id] = &pending{
		method:  "GET",
		url:     "https://example.com/api",
		started: time.Now().Add(-20 * time.Millisecond),
		issued:  time.Now().UTC(),
	}
	status := 200
	r.inflight[id].status = &status

	r.settle(id, true)

	logs := r.Logs()
	if len(logs) != 1 {
		t.Fatalf("got %d entries, want 1", len(logs))
	}
	e := logs[0]
	if e.Method != "GET" || e.URL != "https://example.com/api" {
		t.Fatalf("entry = %+v", e)
	}
	if e.Status == nil || *e.Status != 200 {
		t.Fatalf("status = %v, want 200", e.Status)
	}
	if e.DurationMs < 0 {
		t.Fatalf("negative duration %d", e.DurationMs)
	}
	if len(r.inflight) != 0 {
		t.Fatal("settled request still in flight")
	}
}

func TestSettleFailureDropsStatus(t *testing.T) {
	r := New(Config{})
	r.recording = true

	id := proto.NetworkRequestID("req-2")
	status := 502
	r.inflight[id] = &pending{method: "POST", url: "https://example.com", status: &status, started: time.Now(), issued: time.Now().UTC()}

	r.settle(id, false)

	logs := r.Logs()
	if len(logs) != 1 {
		t.Fatalf("got %d entries", len(logs))
	}
	if logs[0].Status != nil {
		t.Fatalf("failed request carries status %d", *logs[0].Status)
	}
}

func TestSettleUnknownRequest(t *testing.T) {
	r := New(Config{})
	r.recording = true
	r.settle(proto.NetworkRequestID("never-seen"), true)
	if len(r.Logs()) != 0 {
		t.Fatal("unknown request produced a log entry")
	}
}

func TestSettleAfterStopIgnored(t *testing.T) {
	r := New(Config{})
	id := proto.NetworkRequestID("req-3")
	r.recording = true
	r.inflight[id] = &pending{method: "GET", url: "https://example.com", started: time.Now(), issued: time.Now().UTC()}
	r.recording = false

	r.settle(id, true)
	if len(r.Logs()) != 0 {
		t.Fatal("settle after stop recorded an entry")
	}
}

func TestClear(t *testing.T) {
	r := New(Config{})
	r.recording = true
	id := proto.NetworkRequestID("req-4")
	r.inflight[id] = &pending{method: "GET", url: "https://example.com", started: time.Now(), issued: time.Now().UTC()}
	r.settle(id, true)

	r.Clear()
	if len(r.Logs()) != 0 {
		t.Fatal("Clear left entries")
	}
}

func TestLogsIsCopy(t *testing.T) {
	r := New(Config{})
	r.recording = true
	id := proto.NetworkRequestID("req-5")
	r.inflight[id] = &pending{method: "GET", url: "https://example.com", started: time.Now(), issued: time.Now().UTC()}
	r.settle(id, true)

	logs := r.Logs()
	logs[0].URL = "mutated"
	if r.Logs()[0].URL != "https://example.com" {
		t.Fatal("Logs returned the internal slice")
	}
}
