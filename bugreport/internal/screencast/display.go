package screencast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/quickbugs/quickbugs/bugreport/internal/browser"
)

// Frame is one encoded video frame from the display stream.
type Frame struct {
	Data      []byte // JPEG
	Timestamp time.Time
}

// DisplayStream is a live display capture: a video frame stream plus
// optional system-audio tracks.
type DisplayStream interface {
	Frames() <-chan Frame
	AudioTracks() []Track
	// Stop ends the capture and every track it owns. Idempotent.
	Stop() error
	Ended() bool
}

// DisplaySource acquires a display stream. In a browser this is the
// user-facing OS share picker; here it is the page screencast. The
// onEnded hook fires when the capture target goes away on its own
// (tab closed, target crashed) rather than by a caller's Stop.
type DisplaySource interface {
	Open(ctx context.Context, onEnded func()) (DisplayStream, error)
}

// ScreencastSource captures the attached tab through CDP screencast
// frames, optionally pairing them with a system-audio source.
type ScreencastSource struct {
	Tab         *browser.Tab
	SystemAudio AudioSource // optional display-audio equivalent
	FrameRate   int         // default 15
	Quality     int         // JPEG quality, default 80
	MaxWidth    int         // default 1280
	MaxHeight   int         // default 720
	Logger      *slog.Logger
}

func (s *ScreencastSource) defaults() {
	if s.FrameRate <= 0 {
		s.FrameRate = 15
	}
	if s.Quality <= 0 {
		s.Quality = 80
	}
	if s.MaxWidth <= 0 {
		s.MaxWidth = 1280
	}
	if s.MaxHeight <= 0 {
		s.MaxHeight = 720
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
}

// Open starts the screencast and begins delivering frames. System audio
// acquisition failing is not fatal; display audio is optional, exactly
// unlike the microphone.
func (s *ScreencastSource) Open(ctx context.Context, onEnded func()) (DisplayStream, error) {
	s.defaults()

	if s.Tab == nil || s.Tab.Page == nil {
		return nil, ErrUnsupported
	}

	var audio []Track
	if s.SystemAudio != nil {
		tracks, err := s.SystemAudio.Open(ctx)
		if err != nil {
			s.Logger.Warn("screencast: system audio unavailable", "error", err)
		} else {
			audio = tracks
		}
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	st := &screencastStream{
		tab:    s.Tab,
		frames: make(chan Frame, s.FrameRate*2),
		audio:  audio,
		cancel: cancel,
		logger: s.Logger,
	}

	quality := s.Quality
	err := proto.PageStartScreencast{
		Format:        proto.PageStartScreencastFormatJpeg,
		Quality:       &quality,
		MaxWidth:      &s.MaxWidth,
		MaxHeight:     &s.MaxHeight,
		EveryNthFrame: &[]int{1}[0],
	}.Call(s.Tab.Page)
	if err != nil {
		cancel()
		stopTracks(audio)
		return nil, fmt.Errorf("screencast: start: %w", mapCaptureError(err))
	}

	go st.pumpFrames(streamCtx)
	go st.watchTarget(streamCtx, onEnded)

	return st, nil
}

type screencastStream struct {
	tab    *browser.Tab
	frames chan Frame
	audio  []Track
	cancel context.CancelFunc
	logger *slog.Logger

	mu    sync.Mutex
	ended bool
}

func (s *screencastStream) Frames() <-chan Frame { return s.frames }
func (s *screencastStream) AudioTracks() []Track { return s.audio }

func (s *screencastStream) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *screencastStream) Stop() error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	s.ended = true
	close(s.frames)
	s.mu.Unlock()

	if s.tab != nil && s.tab.Page != nil {
		if err := (proto.PageStopScreencast{}).Call(s.tab.Page); err != nil {
			s.logger.Debug("screencast: stop screencast", "error", err)
		}
	}
	s.cancel()
	stopTracks(s.audio)
	return nil
}

// pumpFrames forwards screencast frames, acking each one - Chrome stops
// sending until the previous frame is acknowledged. A full buffer drops
// the frame rather than stalling the event loop.
func (s *screencastStream) pumpFrames(ctx context.Context) {
	s.tab.Page.Context(ctx).EachEvent(func(e *proto.PageScreencastFrame) {
		if err := (proto.PageScreencastFrameAck{SessionID: e.SessionID}).Call(s.tab.Page); err != nil {
			s.logger.Debug("screencast: frame ack", "error", err)
		}

		s.deliver(Frame{Data: e.Data, Timestamp: time.Now()})
	})()
}

// deliver hands a frame to the consumer, reporting false once the
// stream has stopped. The send happens under the same lock Stop takes
// before closing frames, so a send on the closed channel is impossible.
func (s *screencastStream) deliver(frame Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	select {
	case s.frames <- frame:
	default:
		s.logger.Debug("screencast: frame dropped, buffer full")
	}
	return true
}

// watchTarget detects the capture target going away mid-recording: the
// equivalent of the user hitting the OS-level "stop sharing" control.
func (s *screencastStream) watchTarget(ctx context.Context, onEnded func()) {
	b := s.tab.Browser()
	if b == nil {
		return
	}
	targetID := s.tab.TargetID()
	b.Context(ctx).EachEvent(func(e *proto.TargetTargetDestroyed) {
		if e.TargetID != targetID {
			return
		}
		s.mu.Lock()
		alreadyEnded := s.ended
		s.mu.Unlock()
		if alreadyEnded {
			return
		}
		s.logger.Info("screencast: capture target ended")
		if onEnded != nil {
			onEnded()
		}
	})()
}
