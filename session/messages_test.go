package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/Smartdcs2026/Scan-Dcs/camera"
	"github.com/Smartdcs2026/Scan-Dcs/lookup"
	"github.com/stretchr/testify/assert"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind string
		wantMsg  string
	}{
		{"nil", nil, "", ""},
		{"permission", &camera.Error{Kind: camera.KindPermissionDenied}, "PermissionDenied", "Camera access was denied"},
		{"wrapped busy", fmt.Errorf("start: %w", &camera.Error{Kind: camera.KindDeviceBusy}), "DeviceBusy", "in use"},
		{"not found", &camera.Error{Kind: camera.KindDeviceNotFound}, "DeviceNotFound", "No camera"},
		{"constraints", &camera.Error{Kind: camera.KindConstraintsUnsatisfiable}, "ConstraintsUnsatisfiable", "video mode"},
		{"unsupported", &camera.Error{Kind: camera.KindUnsupported}, "Unsupported", "not available"},
		{"stream ended", &camera.Error{Kind: camera.KindStreamEnded}, "StreamEnded", "stopped delivering"},
		{"camera unknown", &camera.Error{Kind: camera.KindUnknown}, "Unknown", "could not be opened"},
		{"timeout", &lookup.Error{Kind: lookup.KindTimeout}, "Timeout", "did not answer"},
		{"transport", &lookup.Error{Kind: lookup.KindTransport}, "TransportError", "Could not reach"},
		{"api", &lookup.Error{Kind: lookup.KindAPI, Message: "sheet locked"}, "ApiError", "sheet locked"},
		{"empty query", lookup.ErrEmptyQuery, "EmptyQuery", "Enter a code"},
		{"not running", ErrNotRunning, "NotRunning", "Start the camera"},
		{"superseded", ErrSuperseded, "Superseded", "replaced"},
		{"closed", ErrClosed, "Closed", "shutting down"},
		{"cancelled", context.Canceled, "Closed", "shutting down"},
		{"other", errBoom, "Unknown", "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, msg := Describe(tt.err)
			assert.Equal(t, tt.wantKind, kind)
			assert.Contains(t, msg, tt.wantMsg)
		})
	}
}
