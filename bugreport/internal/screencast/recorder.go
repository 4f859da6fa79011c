package screencast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quickbugs/quickbugs/bugreport/report"
)

type recorderState int

const (
	stateIdle recorderState = iota
	stateStarting
	stateRecording
	stateStopping
)

// Config wires a Recorder. Display is required; Microphone is required
// too because a recording without commentary audio is rejected outright.
type Config struct {
	Display    DisplaySource
	Microphone AudioSource
	Encoder    EncoderFactory

	SystemGain float64 // default 0.6
	MicGain    float64 // default 1.0

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.SystemGain == 0 {
		c.SystemGain = 0.6
	}
	if c.MicGain == 0 {
		c.MicGain = 1.0
	}
	if c.Encoder == nil {
		c.Encoder = &FFmpegFactory{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Recorder captures one display stream plus microphone audio into an
// in-memory webm blob. One recording at a time; Start while active is
// an error, Stop while idle is a no-op.
type Recorder struct {
	cfg Config

	mu        sync.Mutex
	state     recorderState
	stream    DisplayStream
	micTracks []Track
	encoder   Encoder
	stop      *stopResult
	lastBlob  *report.Blob
	frames    chan struct{} // closed to stop the pump

	// OnEnded fires once per recording when the source disappears out
	// from under us. Set before Start; called outside the lock.
	OnEnded func()
}

// stopResult lets concurrent Stop callers share one in-flight
// finalization instead of racing teardown.
type stopResult struct {
	done chan struct{}
	blob *report.Blob
	err  error
}

func NewRecorder(cfg Config) *Recorder {
	cfg.applyDefaults()
	return &Recorder{cfg: cfg}
}

// Start acquires display and microphone in that order and begins
// encoding. Display is torn down again if the microphone step fails, so
// a failed start never leaks a live capture.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != stateIdle {
		r.mu.Unlock()
		return fmt.Errorf("screencast: recording already in progress")
	}
	r.state = stateStarting
	r.mu.Unlock()

	fail := func(err error) error {
		r.mu.Lock()
		r.state = stateIdle
		r.mu.Unlock()
		return err
	}

	if r.cfg.Display == nil {
		return fail(fmt.Errorf("screencast: no display source: %w", ErrNoSource))
	}
	if r.cfg.Microphone == nil {
		return fail(fmt.Errorf("screencast: no microphone source: %w", ErrNoMicrophoneAudio))
	}

	stream, err := r.cfg.Display.Open(ctx, r.handleEnded)
	if err != nil {
		return fail(fmt.Errorf("screencast: display: %w", mapCaptureError(err)))
	}

	micTracks, err := r.cfg.Microphone.Open(ctx)
	if err != nil {
		stream.Stop()
		return fail(fmt.Errorf("screencast: microphone: %w", mapCaptureError(err)))
	}
	if len(micTracks) == 0 {
		stream.Stop()
		return fail(fmt.Errorf("screencast: microphone produced no audio: %w", ErrNoMicrophoneAudio))
	}

	audio := r.mixAudio(stream.AudioTracks(), micTracks)

	mime := r.pickMIME()
	enc, err := r.newEncoder(mime, audio)
	if err != nil {
		stream.Stop()
		stopTracks(micTracks)
		return fail(fmt.Errorf("screencast: encoder: %w", err))
	}

	r.mu.Lock()
	r.stream = stream
	r.micTracks = micTracks
	r.encoder = enc
	r.stop = nil
	r.frames = make(chan struct{})
	r.state = stateRecording
	r.mu.Unlock()

	go r.pump(stream, enc)

	r.cfg.Logger.Info("screencast: recording started", "mime", enc.MIME())
	return nil
}

// pickMIME walks the preference order and settles on the first
// supported type, falling back to the bare container.
func (r *Recorder) pickMIME() string {
	for _, m := range mimePreference {
		if r.cfg.Encoder.Supports(m) {
			return m
		}
	}
	return fallbackMIME
}

// newEncoder retries with the bare container when the preferred codec
// combination fails at construction time.
func (r *Recorder) newEncoder(mime string, audio []Track) (Encoder, error) {
	var chunks [][]byte
	var chunksMu sync.Mutex
	opts := EncoderOptions{
		MIME:        mime,
		AudioTracks: audio,
		OnChunk: func(c []byte) {
			chunksMu.Lock()
			chunks = append(chunks, c)
			chunksMu.Unlock()
		},
	}

	enc, err := r.cfg.Encoder.New(opts)
	if err != nil && mime != fallbackMIME {
		r.cfg.Logger.Warn("screencast: encoder rejected mime, retrying bare container",
			"mime", mime, "error", err)
		opts.MIME = fallbackMIME
		enc, err = r.cfg.Encoder.New(opts)
	}
	if err != nil {
		return nil, err
	}
	return &chunkedEncoder{Encoder: enc, chunks: &chunks, mu: &chunksMu}, nil
}

// chunkedEncoder pairs an encoder with its accumulated chunk list so
// finalize can assemble the blob.
type chunkedEncoder struct {
	Encoder
	chunks *[][]byte
	mu     *sync.Mutex
}

func (c *chunkedEncoder) assemble() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	for _, ch := range *c.chunks {
		n += len(ch)
	}
	out := make([]byte, 0, n)
	for _, ch := range *c.chunks {
		out = append(out, ch...)
	}
	return out
}

// mixAudio combines system and microphone tracks with their gains.
// Incompatible formats fall back to forwarding all tracks unmixed.
func (r *Recorder) mixAudio(system, mic []Track) []Track {
	all := make([]Track, 0, len(system)+len(mic))
	gains := make([]float64, 0, len(system)+len(mic))
	for _, t := range system {
		all = append(all, t)
		gains = append(gains, r.cfg.SystemGain)
	}
	for _, t := range mic {
		all = append(all, t)
		gains = append(gains, r.cfg.MicGain)
	}
	if len(all) == 1 {
		return all
	}

	mixed, err := Mix(all, gains)
	if err != nil {
		r.cfg.Logger.Warn("screencast: audio mix unavailable, forwarding raw tracks", "error", err)
		return all
	}
	return []Track{mixed}
}

// pump forwards frames from the display stream to the encoder until the
// stream closes or Stop signals.
func (r *Recorder) pump(stream DisplayStream, enc Encoder) {
	r.mu.Lock()
	done := r.frames
	r.mu.Unlock()

	for {
		select {
		case <-done:
			return
		case f, ok := <-stream.Frames():
			if !ok {
				return
			}
			if err := enc.WriteFrame(f); err != nil {
				r.cfg.Logger.Warn("screencast: dropped frame", "error", err)
			}
		}
	}
}

// handleEnded is the source-vanished path: the display stream reports
// its target is gone. The recording is NOT finalized here; the OnEnded
// owner calls Stop so the blob lands in its artifacts, not stranded in
// lastBlob. Only without a hook does the recorder stop itself.
func (r *Recorder) handleEnded() {
	r.mu.Lock()
	active := r.state == stateRecording
	onEnded := r.OnEnded
	r.mu.Unlock()
	if !active {
		return
	}

	go func() {
		if onEnded != nil {
			onEnded()
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		r.Stop(ctx)
	}()
}

// Stop ends the recording and returns the assembled blob. Concurrent
// calls while a stop is in flight wait for it and share its result.
// Stop when idle returns nil, nil.
func (r *Recorder) Stop(ctx context.Context) (*report.Blob, error) {
	r.mu.Lock()
	switch r.state {
	case stateIdle, stateStarting:
		r.mu.Unlock()
		return nil, nil
	case stateStopping:
		res := r.stop
		r.mu.Unlock()
		select {
		case <-res.done:
			return res.blob, res.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	res := &stopResult{done: make(chan struct{})}
	r.stop = res
	r.state = stateStopping
	stream := r.stream
	micTracks := r.micTracks
	enc := r.encoder
	close(r.frames)
	r.mu.Unlock()

	res.blob, res.err = r.finalize(ctx, stream, micTracks, enc)
	close(res.done)

	r.mu.Lock()
	r.state = stateIdle
	r.stream = nil
	r.micTracks = nil
	r.encoder = nil
	if res.err == nil {
		r.lastBlob = res.blob
	}
	r.mu.Unlock()

	return res.blob, res.err
}

// finalize is the single teardown path shared by every way a recording
// can end: stop the stream so audio pipes drain to EOF, flush the
// encoder, assemble the chunks.
func (r *Recorder) finalize(ctx context.Context, stream DisplayStream, micTracks []Track, enc Encoder) (*report.Blob, error) {
	if stream != nil {
		if err := stream.Stop(); err != nil {
			r.cfg.Logger.Warn("screencast: stream stop", "error", err)
		}
	}
	stopTracks(micTracks)

	if enc == nil {
		return nil, nil
	}
	if err := enc.Stop(ctx); err != nil {
		r.cfg.Logger.Warn("screencast: encoder stop", "error", err)
	}

	ce, ok := enc.(*chunkedEncoder)
	if !ok {
		return nil, fmt.Errorf("screencast: encoder produced no retrievable output")
	}
	data := ce.assemble()
	if len(data) == 0 {
		return nil, fmt.Errorf("screencast: recording produced no data")
	}

	blob := &report.Blob{Data: data, MIME: baseMIME(enc.MIME())}
	r.cfg.Logger.Info("screencast: recording finished", "bytes", len(data), "mime", blob.MIME)
	return blob, nil
}

// baseMIME strips codec parameters; stored blobs carry the container
// type only.
func baseMIME(mime string) string {
	for i := 0; i < len(mime); i++ {
		if mime[i] == ';' {
			return mime[:i]
		}
	}
	return mime
}

// Recording reports whether a capture is active or winding down.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateRecording || r.state == stateStopping
}

// LastBlob returns the most recently finished recording, if any.
func (r *Recorder) LastBlob() *report.Blob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastBlob
}

// ClearLastBlob drops the retained recording so its memory can be
// reclaimed after submission.
func (r *Recorder) ClearLastBlob() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastBlob = nil
}

// Dispose stops any active recording and drops retained data.
func (r *Recorder) Dispose(ctx context.Context) {
	r.Stop(ctx)
	r.ClearLastBlob()
}
