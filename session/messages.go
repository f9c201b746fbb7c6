package session

import (
	"context"
	"errors"

	"github.com/Smartdcs2026/Scan-Dcs/camera"
	"github.com/Smartdcs2026/Scan-Dcs/lookup"
)

var (
	ErrNotRunning = errors.New("camera is not running")
	ErrSuperseded = errors.New("camera request superseded")
	ErrClosed     = errors.New("session controller closed")
)

// Describe maps an error onto a stable kind and an operator-facing message
func Describe(err error) (kind string, message string) {
	if err == nil {
		return "", ""
	}

	var camErr *camera.Error
	if errors.As(err, &camErr) {
		return camErr.Kind.String(), cameraMessage(camErr.Kind)
	}

	var lookErr *lookup.Error
	if errors.As(err, &lookErr) {
		return lookErr.Kind.String(), lookupMessage(lookErr)
	}

	switch {
	case errors.Is(err, lookup.ErrEmptyQuery):
		return "EmptyQuery", "Enter a code to search"
	case errors.Is(err, ErrNotRunning):
		return "NotRunning", "Start the camera before switching devices"
	case errors.Is(err, ErrSuperseded):
		return "Superseded", "The camera request was replaced by a newer one"
	case errors.Is(err, ErrClosed), errors.Is(err, context.Canceled):
		return "Closed", "The scanner is shutting down"
	}
	return camera.KindUnknown.String(), err.Error()
}

func cameraMessage(kind camera.ErrorKind) string {
	switch kind {
	case camera.KindPermissionDenied:
		return "Camera access was denied. Allow camera access for this application in the system settings, then press Start again"
	case camera.KindDeviceNotFound:
		return "No camera was found. Connect a camera or pick another device"
	case camera.KindDeviceBusy:
		return "The camera is in use by another application. Close it and try again"
	case camera.KindConstraintsUnsatisfiable:
		return "The camera does not support the requested video mode"
	case camera.KindUnsupported:
		return "Camera capture is not available on this system"
	case camera.KindStreamEnded:
		return "The camera stopped delivering video. Press Start to reopen it"
	case camera.KindUnknown:
		return "The camera could not be opened"
	}
	return "The camera could not be opened"
}

func lookupMessage(err *lookup.Error) string {
	switch err.Kind {
	case lookup.KindTimeout:
		return "The lookup service did not answer in time"
	case lookup.KindAPI:
		return err.Message
	case lookup.KindTransport:
		return "Could not reach the lookup service"
	}
	return err.Message
}
