package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied     = errors.New("capture permission denied")
	ErrDeviceUnavailable    = errors.New("capture device unavailable")
	ErrDeviceBusy           = errors.New("capture device busy")
	ErrUnsupportedEncoding  = errors.New("no supported recording encoding")
	ErrPreconditionFailed   = errors.New("precondition failed")
	ErrSignalingApplyFailed = errors.New("signaling apply failed")
	ErrNotRecording         = errors.New("no active recording")
	ErrPeerNotFound         = errors.New("peer not found")
	ErrNotJoined            = errors.New("room not joined")
	ErrRoomNotFound         = errors.New("room not found")
	ErrInvalidTransition    = errors.New("invalid room status transition")
)

// ErrAlreadyRecording is a precondition failure: a recording is already active.
var ErrAlreadyRecording = fmt.Errorf("%w: already recording", ErrPreconditionFailed)

// IsDeviceError reports whether err belongs to the capture/device family.
func IsDeviceError(err error) bool {
	return errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrDeviceUnavailable) ||
		errors.Is(err, ErrDeviceBusy)
}
