package camera

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
)

// ErrorKind classifies capture failures
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindPermissionDenied
	KindDeviceNotFound
	KindDeviceBusy
	KindConstraintsUnsatisfiable
	KindUnsupported
	KindStreamEnded
)

func (k ErrorKind) String() string {
	switch k {
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindDeviceNotFound:
		return "DeviceNotFound"
	case KindDeviceBusy:
		return "DeviceBusy"
	case KindConstraintsUnsatisfiable:
		return "ConstraintsUnsatisfiable"
	case KindUnsupported:
		return "Unsupported"
	case KindStreamEnded:
		return "StreamEnded"
	default:
		return "Unknown"
	}
}

// Sentinel errors returned by MediaDevices backends.
var (
	ErrPermissionDenied         = errors.New("camera permission denied")
	ErrDeviceNotFound           = errors.New("camera device not found")
	ErrDeviceBusy               = errors.New("camera device busy")
	ErrConstraintsUnsatisfiable = errors.New("no camera mode satisfies the constraints")
	ErrUnsupported              = errors.New("camera capture not supported")
	ErrStreamEnded              = errors.New("camera stream ended")
)

// Error is the typed failure of an acquisition
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("camera error: %s", e.Kind)
	}
	return fmt.Sprintf("camera error: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Classify maps an arbitrary backend failure onto an ErrorKind
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var camErr *Error
	if errors.As(err, &camErr) {
		return camErr.Kind
	}

	switch {
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, os.ErrPermission),
		errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return KindPermissionDenied
	case errors.Is(err, ErrDeviceNotFound), errors.Is(err, os.ErrNotExist),
		errors.Is(err, syscall.ENOENT), errors.Is(err, syscall.ENODEV):
		return KindDeviceNotFound
	case errors.Is(err, ErrDeviceBusy), errors.Is(err, syscall.EBUSY):
		return KindDeviceBusy
	case errors.Is(err, ErrConstraintsUnsatisfiable):
		return KindConstraintsUnsatisfiable
	case errors.Is(err, ErrUnsupported):
		return KindUnsupported
	case errors.Is(err, ErrStreamEnded), errors.Is(err, io.EOF):
		return KindStreamEnded
	}

	// Some drivers flatten the errno into text
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied"):
		return KindPermissionDenied
	case strings.Contains(msg, "no such device"), strings.Contains(msg, "no such file"):
		return KindDeviceNotFound
	case strings.Contains(msg, "device or resource busy"):
		return KindDeviceBusy
	}
	return KindUnknown
}
