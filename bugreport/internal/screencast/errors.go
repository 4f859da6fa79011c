package screencast

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
)

// Stable capture-boundary errors. The UI shows these directly, so raw
// platform failures are mapped here instead of leaking through.
var (
	ErrPermissionDenied  = errors.New("screen or microphone permission was denied")
	ErrSetupCancelled    = errors.New("recording setup was cancelled before it started")
	ErrNoSource          = errors.New("no screen or microphone source was found")
	ErrSourceUnreadable  = errors.New("unable to access the selected screen or microphone")
	ErrNoMicrophoneAudio = errors.New("microphone audio track is unavailable")
	ErrUnsupported       = errors.New("this environment does not support screen and microphone recording")
)

// mapCaptureError translates acquisition failures into the stable
// taxonomy. Anything unrecognized passes through with its native message.
func mapCaptureError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrPermissionDenied),
		errors.Is(err, ErrSetupCancelled),
		errors.Is(err, ErrNoSource),
		errors.Is(err, ErrSourceUnreadable),
		errors.Is(err, ErrNoMicrophoneAudio),
		errors.Is(err, ErrUnsupported):
		return err
	case errors.Is(err, os.ErrPermission):
		return ErrPermissionDenied
	case errors.Is(err, context.Canceled):
		return ErrSetupCancelled
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return ErrNoSource
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "not allowed"):
		return ErrPermissionDenied
	case strings.Contains(msg, "no such device"), strings.Contains(msg, "not found"):
		return ErrNoSource
	case strings.Contains(msg, "device or resource busy"), strings.Contains(msg, "cannot open"):
		return ErrSourceUnreadable
	}
	return err
}
