// Package bugreport orchestrates evidence capture for web-app bug
// reports: console and error interception, network activity logging,
// screen recording with microphone audio, and full-page screenshots,
// bundled into an artifact set a tracker integration can submit.
package bugreport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quickbugs/quickbugs/bugreport/internal/netlog"
	"github.com/quickbugs/quickbugs/bugreport/internal/screencast"
	"github.com/quickbugs/quickbugs/bugreport/internal/screenshot"
	"github.com/quickbugs/quickbugs/bugreport/report"
)

// DefaultMaxDuration bounds a recording when the caller never stops it.
const DefaultMaxDuration = 120000 * time.Millisecond

// ScreenshotCapturer renders the current page to a PNG blob.
type ScreenshotCapturer interface {
	Capture(ctx context.Context) (*report.Blob, error)
	CaptureRegion(ctx context.Context, region report.Region) (*report.Blob, error)
}

// VideoRecorder is the display+microphone recorder the session drives.
type VideoRecorder interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (*report.Blob, error)
	Recording() bool
	Dispose(ctx context.Context)
}

// NetworkRecorder accumulates request/response activity.
type NetworkRecorder interface {
	Start() error
	Stop() []report.NetworkLogEntry
	Clear()
	IsRecording() bool
	Logs() []report.NetworkLogEntry
}

// SessionConfig wires a Session's collaborators.
type SessionConfig struct {
	Recorder   VideoRecorder
	Screenshot ScreenshotCapturer
	Network    NetworkRecorder

	// MaxDuration arms the auto-stop timer. Zero means DefaultMaxDuration.
	MaxDuration time.Duration

	// OnAutoStop fires when a recording ends without a caller-initiated
	// stop, with reason time_limit or screen_ended. Called outside the
	// session lock, at most once per recording.
	OnAutoStop func(reason report.StopReason)

	Logger *slog.Logger
}

func (c *SessionConfig) applyDefaults() {
	if c.MaxDuration <= 0 {
		c.MaxDuration = DefaultMaxDuration
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// recordingState exists only while a recording is active, so a start
// timestamp can never outlive the recording it belongs to.
type recordingState struct {
	startedAt time.Time
	timer     *time.Timer
}

// sessionStop dedups concurrent stop callers onto one finalize.
type sessionStop struct {
	done      chan struct{}
	artifacts *report.Artifacts
	err       error
}

// Session owns at most one capture activity at a time: either a video
// recording in progress or a one-shot screenshot. It is the sole owner
// of the resulting Artifacts; callers read them but never mutate.
type Session struct {
	cfg SessionConfig

	mu             sync.Mutex
	recording      *recordingState // nil when idle
	stopInFlight   *sessionStop
	artifacts      *report.Artifacts
	netLogsPending bool // screenshot taken, network recorder still live
	disposed       bool
}

func NewSession(cfg SessionConfig) *Session {
	cfg.applyDefaults()
	return &Session{cfg: cfg}
}

// Start begins a video recording. No-op when one is already active.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return fmt.Errorf("bugreport: session disposed")
	}
	if s.recording != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	// A screenshot may have left the network recorder running; a fresh
	// recording owns its own window.
	if s.cfg.Network != nil {
		s.cfg.Network.Stop()
		s.cfg.Network.Clear()
		if err := s.cfg.Network.Start(); err != nil {
			return fmt.Errorf("bugreport: network recorder: %w", err)
		}
	}

	if err := s.cfg.Recorder.Start(ctx); err != nil {
		if s.cfg.Network != nil {
			s.cfg.Network.Stop()
		}
		return err
	}

	s.mu.Lock()
	s.netLogsPending = false
	rec := &recordingState{startedAt: time.Now()}
	rec.timer = time.AfterFunc(s.cfg.MaxDuration, func() { s.autoStop(report.StopTimeLimit) })
	s.recording = rec
	s.mu.Unlock()

	s.cfg.Logger.Info("bugreport: recording started", "max_duration", s.cfg.MaxDuration)
	return nil
}

// HandleScreenEnded is the forced-stop path for the OS-level "stop
// sharing" affordance. Wire it to the recorder's ended hook.
func (s *Session) HandleScreenEnded() {
	s.autoStop(report.StopScreenEnded)
}

func (s *Session) autoStop(reason report.StopReason) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	s.mu.Lock()
	active := s.recording != nil
	s.mu.Unlock()
	if !active {
		return
	}

	if _, err := s.Stop(ctx, reason); err != nil {
		s.cfg.Logger.Warn("bugreport: auto-stop failed", "reason", reason, "error", err)
		return
	}
	if s.cfg.OnAutoStop != nil {
		s.cfg.OnAutoStop(reason)
	}
}

// Stop ends the active recording and assembles a video artifact set.
// Concurrent callers share the in-flight result; stopping while idle
// returns the last artifacts unchanged.
func (s *Session) Stop(ctx context.Context, reason report.StopReason) (*report.Artifacts, error) {
	s.mu.Lock()
	if inflight := s.stopInFlight; inflight != nil {
		s.mu.Unlock()
		select {
		case <-inflight.done:
			return inflight.artifacts, inflight.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	rec := s.recording
	if rec == nil {
		artifacts := s.artifacts
		s.mu.Unlock()
		return artifacts, nil
	}
	stop := &sessionStop{done: make(chan struct{})}
	s.stopInFlight = stop
	s.recording = nil
	s.mu.Unlock()

	rec.timer.Stop()

	blob, err := s.cfg.Recorder.Stop(ctx)
	var netLogs []report.NetworkLogEntry
	if s.cfg.Network != nil {
		netLogs = s.cfg.Network.Stop()
	}

	if err != nil {
		stop.err = err
	} else {
		stoppedAt := time.Now()
		stop.artifacts = &report.Artifacts{
			Video:       blob,
			NetworkLogs: netLogs,
			Mode:        report.ModeVideo,
			StartedAt:   rec.startedAt,
			StoppedAt:   stoppedAt,
			ElapsedMs:   stoppedAt.Sub(rec.startedAt).Milliseconds(),
			StopReason:  reason,
		}
	}

	s.mu.Lock()
	if stop.err == nil {
		s.artifacts = stop.artifacts
		s.netLogsPending = false
	}
	s.stopInFlight = nil
	s.mu.Unlock()
	close(stop.done)

	if stop.err != nil {
		return nil, stop.err
	}
	s.cfg.Logger.Info("bugreport: recording stopped",
		"reason", reason, "elapsed_ms", stop.artifacts.ElapsedMs)
	return stop.artifacts, nil
}

// CaptureScreenshot takes a full-page or region screenshot. An active
// recording is manually stopped first; video and screenshot capture are
// never concurrent. Network logging keeps running afterwards so the
// user's follow-up interaction is still covered; those logs are drained
// at submit time or on the next reset.
func (s *Session) CaptureScreenshot(ctx context.Context, region *report.Region) (*report.Artifacts, error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil, fmt.Errorf("bugreport: session disposed")
	}
	active := s.recording != nil
	s.mu.Unlock()

	if active {
		if _, err := s.Stop(ctx, report.StopManual); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.artifacts = nil
	s.mu.Unlock()

	if s.cfg.Network != nil {
		s.cfg.Network.Stop()
		s.cfg.Network.Clear()
		if err := s.cfg.Network.Start(); err != nil {
			return nil, fmt.Errorf("bugreport: network recorder: %w", err)
		}
	}

	startedAt := time.Now()
	var blob *report.Blob
	var err error
	if region != nil {
		blob, err = s.cfg.Screenshot.CaptureRegion(ctx, *region)
	} else {
		blob, err = s.cfg.Screenshot.Capture(ctx)
	}
	if err != nil {
		if s.cfg.Network != nil {
			s.cfg.Network.Stop()
		}
		return nil, err
	}

	stoppedAt := time.Now()
	artifacts := &report.Artifacts{
		Screenshot: blob,
		Mode:       report.ModeScreenshot,
		StartedAt:  startedAt,
		StoppedAt:  stoppedAt,
		ElapsedMs:  stoppedAt.Sub(startedAt).Milliseconds(),
	}

	s.mu.Lock()
	s.artifacts = artifacts
	s.netLogsPending = true
	s.mu.Unlock()

	s.cfg.Logger.Info("bugreport: screenshot captured", "bytes", blob.Size(), "region", region != nil)
	return artifacts, nil
}

// FinalizeNetworkLogs drains the network recorder for a screenshot
// artifact whose log window was still open, and stamps the result onto
// the artifacts. Video artifacts already carry their logs.
func (s *Session) FinalizeNetworkLogs() []report.NetworkLogEntry {
	s.mu.Lock()
	pending := s.netLogsPending
	artifacts := s.artifacts
	s.mu.Unlock()

	if s.cfg.Network == nil {
		return nil
	}
	if !pending || artifacts == nil || artifacts.Mode != report.ModeScreenshot {
		if artifacts != nil {
			return artifacts.NetworkLogs
		}
		return s.cfg.Network.Logs()
	}

	logs := s.cfg.Network.Stop()

	s.mu.Lock()
	s.netLogsPending = false
	if s.artifacts == artifacts {
		updated := *artifacts
		updated.NetworkLogs = logs
		s.artifacts = &updated
	}
	s.mu.Unlock()
	return logs
}

// Artifacts returns the current draft, nil when nothing was captured.
func (s *Session) Artifacts() *report.Artifacts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifacts
}

// Recording reports whether a video capture is active.
func (s *Session) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording != nil
}

// ElapsedMs is the age of the active recording, 0 when idle.
func (s *Session) ElapsedMs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recording == nil {
		return 0
	}
	return time.Since(s.recording.startedAt).Milliseconds()
}

// MaxDuration is the auto-stop limit applied to recordings.
func (s *Session) MaxDuration() time.Duration {
	return s.cfg.MaxDuration
}

// Reset drops the draft and any still-pending network log window.
func (s *Session) Reset() {
	s.mu.Lock()
	pending := s.netLogsPending
	s.artifacts = nil
	s.netLogsPending = false
	s.mu.Unlock()

	if pending && s.cfg.Network != nil {
		s.cfg.Network.Stop()
	}
	if s.cfg.Network != nil {
		s.cfg.Network.Clear()
	}
}

// Dispose stops any in-flight capture and releases recorder resources.
// The session is unusable afterwards.
func (s *Session) Dispose(ctx context.Context) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	rec := s.recording
	s.recording = nil
	s.artifacts = nil
	s.netLogsPending = false
	s.mu.Unlock()

	if rec != nil {
		rec.timer.Stop()
	}
	s.cfg.Recorder.Dispose(ctx)
	if s.cfg.Network != nil {
		s.cfg.Network.Stop()
		s.cfg.Network.Clear()
	}
}

// compile-time wiring checks against the concrete implementations
var (
	_ NetworkRecorder    = (*netlog.Recorder)(nil)
	_ ScreenshotCapturer = (*screenshot.Capturer)(nil)
	_ VideoRecorder      = (*screencast.Recorder)(nil)
)
