//go:build !linux

package camera

// probePermission has no portable answer outside Linux; the capture
// backend learns a denial from the first failed open instead.
func probePermission() Permission {
	return PermissionUnknown
}
