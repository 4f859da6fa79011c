package screencast

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// Track is one live PCM audio stream (s16le, interleaved). A track keeps
// delivering samples until it is stopped or its device goes away; Read
// returns io.EOF after either.
type Track interface {
	io.Reader
	Label() string
	SampleRate() int
	Channels() int
	// Stop releases the underlying device. Idempotent.
	Stop() error
	// Ended reports whether the track has been stopped or has run dry.
	Ended() bool
}

// AudioSource acquires audio tracks. Acquisition can block on the
// platform (device open, user prompt) and must respect ctx.
type AudioSource interface {
	Label() string
	Open(ctx context.Context) ([]Track, error)
}

// CommandSource captures PCM by running an external capture command that
// writes raw samples to stdout. The default microphone and system-audio
// sources are built on it.
type CommandSource struct {
	Name       string // source label, e.g. "microphone"
	Path       string // capture binary
	Args       []string
	SampleRate int
	Channels   int
}

// PulseMicrophone returns the default microphone source: parec reading
// the given Pulse/PipeWire device (empty = default input).
func PulseMicrophone(device string) *CommandSource {
	args := []string{"--format=s16le", "--rate=48000", "--channels=2"}
	if device != "" {
		args = append(args, "--device="+device)
	}
	return &CommandSource{
		Name:       "microphone",
		Path:       "parec",
		Args:       args,
		SampleRate: 48000,
		Channels:   2,
	}
}

// PulseMonitor returns a system-audio source reading a monitor device,
// the closest equivalent of display-media audio.
func PulseMonitor(device string) *CommandSource {
	if device == "" {
		device = "@DEFAULT_MONITOR@"
	}
	return &CommandSource{
		Name:       "system-audio",
		Path:       "parec",
		Args:       []string{"--format=s16le", "--rate=48000", "--channels=2", "--device=" + device},
		SampleRate: 48000,
		Channels:   2,
	}
}

// Label implements AudioSource.
func (s *CommandSource) Label() string { return s.Name }

// Open starts the capture process and returns its stdout as one track.
// Failures are mapped to the stable capture taxonomy.
func (s *CommandSource) Open(ctx context.Context) ([]Track, error) {
	if s.Path == "" {
		return nil, ErrNoSource
	}
	if _, err := exec.LookPath(s.Path); err != nil {
		return nil, fmt.Errorf("%s: %w", s.Name, mapCaptureError(err))
	}

	cmd := exec.CommandContext(ctx, s.Path, s.Args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Name, mapCaptureError(err))
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%s: %w", s.Name, mapCaptureError(err))
	}

	t := &processTrack{
		label:      s.Name,
		reader:     stdout,
		sampleRate: s.SampleRate,
		channels:   s.Channels,
		cmd:        cmd,
	}
	return []Track{t}, nil
}

// processTrack wraps a capture process as a Track.
type processTrack struct {
	label      string
	reader     io.ReadCloser
	sampleRate int
	channels   int
	cmd        *exec.Cmd

	mu    sync.Mutex
	ended bool
}

func (t *processTrack) Read(p []byte) (int, error) {
	n, err := t.reader.Read(p)
	if err != nil {
		t.mu.Lock()
		t.ended = true
		t.mu.Unlock()
	}
	return n, err
}

func (t *processTrack) Label() string   { return t.label }
func (t *processTrack) SampleRate() int { return t.sampleRate }
func (t *processTrack) Channels() int   { return t.channels }

func (t *processTrack) Stop() error {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return nil
	}
	t.ended = true
	t.mu.Unlock()

	t.reader.Close()
	if t.cmd != nil && t.cmd.Process != nil {
		t.cmd.Process.Kill()
		t.cmd.Wait()
	}
	return nil
}

func (t *processTrack) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

// stopTracks stops every track, ignoring individual failures. Used on
// all teardown paths so no device is left held.
func stopTracks(tracks []Track) {
	for _, t := range tracks {
		if t != nil {
			t.Stop()
		}
	}
}
