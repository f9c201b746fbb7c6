package camera

import (
	"context"
	"image"
	"regexp"
)

// Facing is a hint about which way a camera points
type Facing int

const (
	FacingUnknown Facing = iota
	FacingFront
	FacingBack
)

func (f Facing) String() string {
	switch f {
	case FacingFront:
		return "front"
	case FacingBack:
		return "back"
	default:
		return "unknown"
	}
}

var (
	backLabel  = regexp.MustCompile(`(?i)back|rear|environment`)
	frontLabel = regexp.MustCompile(`(?i)front|user|face`)
)

// FacingFromLabel guesses the facing of a device from its human label
func FacingFromLabel(label string) Facing {
	switch {
	case backLabel.MatchString(label):
		return FacingBack
	case frontLabel.MatchString(label):
		return FacingFront
	default:
		return FacingUnknown
	}
}

// Device is an immutable snapshot of one video input
type Device struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Facing Facing `json:"-"`
}

// Permission is the platform's cached camera permission state
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionPrompt  Permission = "prompt"
	PermissionUnknown Permission = "unknown"
)

// Constraints describes one capture request
type Constraints struct {
	DeviceID    string
	ExactDevice bool
	Facing      Facing
	Width       int
	Height      int
	FrameRate   int
	MaxFPS      int
}

// Unconstrained reports whether the request leaves every choice to the platform
func (c Constraints) Unconstrained() bool {
	return c.DeviceID == "" && c.Facing == FacingUnknown && c.Width == 0 && c.Height == 0 && c.FrameRate == 0
}

// Stream is a live capture handle. Close stops every track and frees the device.
type Stream interface {
	DeviceID() string
	ReadFrame() (img image.Image, release func(), err error)
	Live() bool
	Close() error
}

// MediaDevices is the platform capture API the scanner runs on
type MediaDevices interface {
	EnumerateDevices(ctx context.Context) ([]Device, error)
	Open(ctx context.Context, c Constraints) (Stream, error)
	Permission(ctx context.Context) Permission
}

// Release stops a stream if there is one. Errors are not interesting to callers
// that are about to drop the handle anyway.
func Release(s Stream) {
	if s == nil {
		return
	}
	_ = s.Close()
}
