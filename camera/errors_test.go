package camera

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindUnknown},
		{"typed error", &Error{Kind: KindDeviceBusy}, KindDeviceBusy},
		{"wrapped typed error", fmt.Errorf("tier: %w", &Error{Kind: KindUnsupported}), KindUnsupported},
		{"sentinel permission", ErrPermissionDenied, KindPermissionDenied},
		{"os permission", &os.PathError{Op: "open", Path: "/dev/video0", Err: syscall.EACCES}, KindPermissionDenied},
		{"missing node", &os.PathError{Op: "open", Path: "/dev/video9", Err: syscall.ENOENT}, KindDeviceNotFound},
		{"no device", fmt.Errorf("ioctl: %w", syscall.ENODEV), KindDeviceNotFound},
		{"busy errno", fmt.Errorf("start: %w", syscall.EBUSY), KindDeviceBusy},
		{"busy text", errors.New("VIDIOC_STREAMON: device or resource busy"), KindDeviceBusy},
		{"constraints", fmt.Errorf("x: %w", ErrConstraintsUnsatisfiable), KindConstraintsUnsatisfiable},
		{"unsupported", ErrUnsupported, KindUnsupported},
		{"stream ended", fmt.Errorf("read: %w", io.EOF), KindStreamEnded},
		{"other", errors.New("boom"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	err := &Error{Kind: KindDeviceNotFound, Err: ErrDeviceNotFound}
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Error("Error should unwrap to its cause")
	}
	if err.Error() == "" {
		t.Error("Error message is empty")
	}
}
