package screencast

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// Mix sums several PCM tracks into one, each input passing through its
// own gain stage. Separate gains keep per-source volume control trivial
// later even though every gain is 1.0 today. All inputs must share a
// sample rate and channel count; when they don't, the caller falls back
// to forwarding the raw tracks unmixed.
func Mix(tracks []Track, gains []float64) (Track, error) {
	if len(tracks) == 0 {
		return nil, fmt.Errorf("mixer: no input tracks")
	}
	if len(gains) != len(tracks) {
		return nil, fmt.Errorf("mixer: %d gains for %d tracks", len(gains), len(tracks))
	}

	rate, channels := tracks[0].SampleRate(), tracks[0].Channels()
	for _, t := range tracks[1:] {
		if t.SampleRate() != rate || t.Channels() != channels {
			return nil, fmt.Errorf("mixer: mismatched formats (%dHz/%dch vs %dHz/%dch)",
				rate, channels, t.SampleRate(), t.Channels())
		}
	}

	return &mixedTrack{
		inputs:     tracks,
		gains:      gains,
		sampleRate: rate,
		channels:   channels,
	}, nil
}

// mixedTrack reads all inputs in lockstep and emits the clipped sum.
// An input that runs dry drops out of the sum; the mix ends when every
// input has ended.
type mixedTrack struct {
	inputs     []Track
	gains      []float64
	sampleRate int
	channels   int

	mu    sync.Mutex
	ended bool
}

func (m *mixedTrack) Label() string   { return "mixed" }
func (m *mixedTrack) SampleRate() int { return m.sampleRate }
func (m *mixedTrack) Channels() int   { return m.channels }

func (m *mixedTrack) Ended() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ended
}

func (m *mixedTrack) Stop() error {
	m.mu.Lock()
	if m.ended {
		m.mu.Unlock()
		return nil
	}
	m.ended = true
	m.mu.Unlock()

	stopTracks(m.inputs)
	return nil
}

func (m *mixedTrack) Read(p []byte) (int, error) {
	if m.Ended() {
		return 0, io.EOF
	}

	// Sample-aligned reads only.
	n := len(p) - len(p)%2
	if n == 0 {
		return 0, nil
	}

	buf := make([]byte, n)
	sum := make([]int32, n/2)
	live := 0

	for i, in := range m.inputs {
		if in.Ended() {
			continue
		}
		read, err := io.ReadFull(in, buf)
		if read > 0 {
			live++
			for s := 0; s+1 < read; s += 2 {
				v := int32(int16(binary.LittleEndian.Uint16(buf[s:])))
				sum[s/2] += int32(float64(v) * m.gains[i])
			}
		}
		if err != nil && read == 0 {
			in.Stop()
		}
	}

	if live == 0 {
		m.mu.Lock()
		m.ended = true
		m.mu.Unlock()
		return 0, io.EOF
	}

	for i, v := range sum {
		binary.LittleEndian.PutUint16(p[i*2:], uint16(clipSample(v)))
	}
	return n, nil
}

func clipSample(v int32) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	default:
		return int16(v)
	}
}
