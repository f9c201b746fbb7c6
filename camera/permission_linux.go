//go:build linux

package camera

import (
	"errors"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// probePermission checks whether this process may open any V4L2 node
func probePermission() Permission {
	nodes, _ := filepath.Glob("/dev/video*")
	if len(nodes) == 0 {
		return PermissionUnknown
	}

	denied := 0
	for _, node := range nodes {
		err := unix.Access(node, unix.R_OK|unix.W_OK)
		if err == nil {
			return PermissionGranted
		}
		if errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) {
			denied++
		}
	}

	if denied == len(nodes) {
		return PermissionDenied
	}
	return PermissionUnknown
}
