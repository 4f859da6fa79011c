package screencast

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// mimePreference orders the container/codec combinations best
// compression first, broad compatibility last. The recorder takes the
// first one the encoder factory reports as supported.
var mimePreference = []string{
	"video/webm;codecs=vp9,opus",
	"video/webm;codecs=vp8,opus",
	"video/webm",
}

const fallbackMIME = "video/webm"

// EncoderOptions configure one encoding run.
type EncoderOptions struct {
	MIME         string
	FrameRate    int
	VideoBitrate int // bits/s, default 1_200_000
	AudioBitrate int // bits/s, default 96_000
	AudioTracks  []Track
	// OnChunk receives encoded output roughly once per chunk interval so
	// memory stays bounded and partial data survives a crash.
	OnChunk func(chunk []byte)
}

// Encoder consumes video frames and the audio tracks it was built with,
// and emits container chunks until stopped.
type Encoder interface {
	WriteFrame(f Frame) error
	// Stop flushes the container and waits for the encoder to finish.
	Stop(ctx context.Context) error
	// MIME is the negotiated output type, which may differ from the
	// requested one after a fallback.
	MIME() string
}

// EncoderFactory probes capability and constructs encoders. Capability
// is evaluated at call time, not compile time, so the same preference
// walk works against any runtime's codec surface.
type EncoderFactory interface {
	Supports(mime string) bool
	New(opts EncoderOptions) (Encoder, error)
}

// chunkInterval bounds how long encoded output sits outside the chunk
// list. Fixed at one second, matching the recorder's salvage guarantee.
const chunkInterval = 1000 * time.Millisecond

// FFmpegFactory builds encoders on an external ffmpeg binary. Codec
// support is probed from `ffmpeg -encoders` once and cached.
type FFmpegFactory struct {
	Path string // default "ffmpeg"

	once     sync.Once
	encoders string
	found    bool
}

func (f *FFmpegFactory) path() string {
	if f.Path == "" {
		return "ffmpeg"
	}
	return f.Path
}

func (f *FFmpegFactory) probe() {
	f.once.Do(func() {
		bin, err := exec.LookPath(f.path())
		if err != nil {
			return
		}
		out, err := exec.Command(bin, "-hide_banner", "-encoders").Output()
		if err != nil {
			return
		}
		f.encoders = string(out)
		f.found = true
	})
}

// Supports reports whether the probed encoder set covers the mime's
// codec pair. The bare container type only needs ffmpeg itself.
func (f *FFmpegFactory) Supports(mime string) bool {
	f.probe()
	if !f.found {
		return false
	}

	video, audio := codecsFor(mime)
	if video != "" && !strings.Contains(f.encoders, video) {
		return false
	}
	if audio != "" && !strings.Contains(f.encoders, audio) {
		return false
	}
	return true
}

// codecsFor maps a mime string to the ffmpeg encoder names it requires.
func codecsFor(mime string) (video, audio string) {
	switch {
	case strings.Contains(mime, "vp9"):
		video = "libvpx-vp9"
	case strings.Contains(mime, "vp8"):
		video = "libvpx"
	}
	if strings.Contains(mime, "opus") {
		audio = "libopus"
	}
	return video, audio
}

// New starts an ffmpeg process wired for the given options: JPEG frames
// on stdin, one extra pipe per audio track, webm chunks on stdout.
func (f *FFmpegFactory) New(opts EncoderOptions) (Encoder, error) {
	f.probe()
	if !f.found {
		return nil, fmt.Errorf("encoder: %s not available: %w", f.path(), ErrUnsupported)
	}
	if opts.FrameRate <= 0 {
		opts.FrameRate = 15
	}
	if opts.VideoBitrate <= 0 {
		opts.VideoBitrate = 1_200_000
	}
	if opts.AudioBitrate <= 0 {
		opts.AudioBitrate = 96_000
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "image2pipe", "-framerate", fmt.Sprint(opts.FrameRate), "-i", "pipe:0",
	}

	// Audio inputs arrive on inherited descriptors 3, 4, ...
	var audioWriters []*os.File
	var audioReaders []*os.File
	for i, t := range opts.AudioTracks {
		pr, pw, err := os.Pipe()
		if err != nil {
			closeFiles(audioWriters)
			closeFiles(audioReaders)
			return nil, fmt.Errorf("encoder: audio pipe: %w", err)
		}
		audioReaders = append(audioReaders, pr)
		audioWriters = append(audioWriters, pw)
		args = append(args,
			"-f", "s16le",
			"-ar", fmt.Sprint(t.SampleRate()),
			"-ac", fmt.Sprint(t.Channels()),
			"-i", fmt.Sprintf("/dev/fd/%d", 3+i),
		)
	}

	video, audio := codecsFor(opts.MIME)
	if video == "" {
		video = "libvpx"
	}
	args = append(args, "-c:v", video, "-b:v", fmt.Sprint(opts.VideoBitrate))
	if len(opts.AudioTracks) > 0 {
		if audio == "" {
			audio = "libopus"
		}
		args = append(args, "-c:a", audio, "-b:a", fmt.Sprint(opts.AudioBitrate))
		if len(opts.AudioTracks) > 1 {
			// Unmixed fallback: fold all audio inputs into one output stream.
			args = append(args,
				"-filter_complex", fmt.Sprintf("amix=inputs=%d", len(opts.AudioTracks)))
		}
	}
	args = append(args, "-f", "webm", "pipe:1")

	cmd := exec.Command(f.path(), args...)
	cmd.ExtraFiles = audioReaders

	stdin, err := cmd.StdinPipe()
	if err != nil {
		closeFiles(audioWriters)
		closeFiles(audioReaders)
		return nil, fmt.Errorf("encoder: stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		closeFiles(audioWriters)
		closeFiles(audioReaders)
		return nil, fmt.Errorf("encoder: stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		closeFiles(audioWriters)
		closeFiles(audioReaders)
		return nil, fmt.Errorf("encoder: start: %w", err)
	}
	closeFiles(audioReaders) // child holds them now

	e := &ffmpegEncoder{
		mime:    opts.MIME,
		cmd:     cmd,
		stdin:   stdin,
		onChunk: opts.OnChunk,
		done:    make(chan struct{}),
	}

	for i, t := range opts.AudioTracks {
		go e.pumpAudio(t, audioWriters[i])
	}
	go e.pumpOutput(stdout)

	return e, nil
}

type ffmpegEncoder struct {
	mime    string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	onChunk func([]byte)
	done    chan struct{}

	mu      sync.Mutex
	stopped bool
}

func (e *ffmpegEncoder) MIME() string { return e.mime }

func (e *ffmpegEncoder) WriteFrame(f Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return fmt.Errorf("encoder: stopped")
	}
	if _, err := e.stdin.Write(f.Data); err != nil {
		return fmt.Errorf("encoder: write frame: %w", err)
	}
	return nil
}

func (e *ffmpegEncoder) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		<-e.done
		return nil
	}
	e.stopped = true
	e.mu.Unlock()

	e.stdin.Close()

	waitErr := make(chan error, 1)
	go func() { waitErr <- e.cmd.Wait() }()

	select {
	case err := <-waitErr:
		<-e.done
		if err != nil {
			return fmt.Errorf("encoder: ffmpeg exit: %w", err)
		}
		return nil
	case <-ctx.Done():
		e.cmd.Process.Kill()
		<-waitErr
		<-e.done
		return ctx.Err()
	}
}

// pumpAudio copies a PCM track into its ffmpeg input pipe until the
// track ends, then closes the pipe so ffmpeg can finalize the stream.
func (e *ffmpegEncoder) pumpAudio(t Track, w *os.File) {
	defer w.Close()
	io.Copy(w, t)
}

// pumpOutput drains encoded output, handing it over in chunk-interval
// batches so memory use stays bounded.
func (e *ffmpegEncoder) pumpOutput(r io.Reader) {
	defer close(e.done)

	var (
		mu  sync.Mutex
		buf []byte
	)
	flush := func() {
		mu.Lock()
		chunk := buf
		buf = nil
		mu.Unlock()
		if len(chunk) > 0 && e.onChunk != nil {
			e.onChunk(chunk)
		}
	}

	ticker := time.NewTicker(chunkInterval)
	defer ticker.Stop()
	readDone := make(chan struct{})

	go func() {
		defer close(readDone)
		tmp := make([]byte, 64*1024)
		for {
			n, err := r.Read(tmp)
			if n > 0 {
				mu.Lock()
				buf = append(buf, tmp[:n]...)
				mu.Unlock()
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ticker.C:
			flush()
		case <-readDone:
			flush()
			return
		}
	}
}

func closeFiles(files []*os.File) {
	for _, f := range files {
		if f != nil {
			f.Close()
		}
	}
}
