package console

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/quickbugs/quickbugs/bugreport/report"
)

func TestRingEviction(t *testing.T) {
	r := newRing[int](3)
	for i := 1; i <= 5; i++ {
		r.push(i)
	}
	if r.len() != 3 {
		t.Fatalf("len = %d, want 3", r.len())
	}
	got := r.snapshot()
	want := []int{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("snapshot = %v, want %v", got, want)
		}
	}
}

func TestRingSnapshotIsCopy(t *testing.T) {
	r := newRing[int](4)
	r.push(1)
	snap := r.snapshot()
	r.push(2)
	if len(snap) != 1 {
		t.Fatalf("snapshot mutated by later push: %v", snap)
	}
}

func TestRingClear(t *testing.T) {
	r := newRing[int](4)
	r.push(1)
	r.push(2)
	r.clear()
	if r.len() != 0 {
		t.Fatalf("len after clear = %d", r.len())
	}
}

func TestConsoleBufferBounds(t *testing.T) {
	c := New(Config{})
	c.active = true

	for i := 0; i < maxConsoleEntries+50; i++ {
		c.pushLog(report.ConsoleLogEntry{
			Level: "log", Timestamp: time.Now(), Args: []string{fmt.Sprint(i)},
		})
	}
	for i := 0; i < maxErrorEntries+10; i++ {
		c.pushErr(report.JSError{Message: fmt.Sprint(i), Type: report.JSErrorUncaught})
	}

	logs, errs := c.Snapshot()
	if len(logs) != maxConsoleEntries {
		t.Fatalf("logs = %d, want %d", len(logs), maxConsoleEntries)
	}
	if len(errs) != maxErrorEntries {
		t.Fatalf("errors = %d, want %d", len(errs), maxErrorEntries)
	}
	// Oldest entries were evicted.
	if logs[0].Args[0] != "50" {
		t.Fatalf("oldest surviving log = %q, want 50", logs[0].Args[0])
	}
}

func TestPushIgnoredWhenInactive(t *testing.T) {
	c := New(Config{})
	c.pushLog(report.ConsoleLogEntry{Level: "log"})
	c.pushErr(report.JSError{Message: "x"})
	logs, errs := c.Snapshot()
	if len(logs) != 0 || len(errs) != 0 {
		t.Fatal("inactive interceptor buffered entries")
	}
}

func TestStartWithoutPage(t *testing.T) {
	c := New(Config{})
	c.Start()
	if c.Active() {
		t.Fatal("interceptor active without a page")
	}
	c.Stop() // no-op
}

func TestMapConsoleLevel(t *testing.T) {
	tests := []struct {
		in   proto.RuntimeConsoleAPICalledType
		want string
	}{
		{proto.RuntimeConsoleAPICalledTypeLog, "log"},
		{proto.RuntimeConsoleAPICalledTypeInfo, "info"},
		{proto.RuntimeConsoleAPICalledTypeWarning, "warn"},
		{proto.RuntimeConsoleAPICalledTypeError, "error"},
		{proto.RuntimeConsoleAPICalledTypeDebug, ""},
		{proto.RuntimeConsoleAPICalledTypeTrace, ""},
	}
	for _, tt := range tests {
		if got := mapConsoleLevel(tt.in); got != tt.want {
			t.Errorf("mapConsoleLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncateArg(t *testing.T) {
	short := "hello"
	if got := truncateArg(short); got != short {
		t.Fatalf("short arg changed: %q", got)
	}

	long := strings.Repeat("x", maxArgLength+100)
	got := truncateArg(long)
	if runes := []rune(got); len(runes) != maxArgLength+1 {
		t.Fatalf("truncated length = %d runes", len(runes))
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatal("truncation marker missing")
	}

	// Truncation is rune-aware, never splitting a multibyte character.
	wide := strings.Repeat("é", maxArgLength+5)
	if got := truncateArg(wide); !strings.HasPrefix(got, "é") || !strings.HasSuffix(got, "…") {
		t.Fatalf("multibyte truncation broken: %q...", got[:12])
	}
}

func TestSplitExceptionDescription(t *testing.T) {
	msg, stack := splitExceptionDescription("TypeError: x is not a function\n    at foo (app.js:10)")
	if msg != "TypeError: x is not a function" {
		t.Fatalf("message = %q", msg)
	}
	if !strings.Contains(stack, "at foo") {
		t.Fatalf("stack = %q", stack)
	}

	msg, stack = splitExceptionDescription("plain message")
	if msg != "plain message" || stack != "" {
		t.Fatalf("single-line split = %q, %q", msg, stack)
	}
}

func TestSerializeArgNil(t *testing.T) {
	if got := serializeArg(nil); got != "null" {
		t.Fatalf("nil arg = %q", got)
	}
}

func TestClear(t *testing.T) {
	c := New(Config{})
	c.active = true
	c.pushLog(report.ConsoleLogEntry{Level: "log", Args: []string{"x"}})
	c.pushErr(report.JSError{Message: "y"})
	c.Clear()
	logs, errs := c.Snapshot()
	if len(logs) != 0 || len(errs) != 0 {
		t.Fatal("Clear left entries behind")
	}
}
