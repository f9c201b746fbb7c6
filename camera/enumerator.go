package camera

import (
	"context"
	"runtime"

	"go.uber.org/zap"
)

// Enumerator lists video inputs and picks a sensible default
type Enumerator struct {
	media  MediaDevices
	mobile bool
	logger *zap.Logger
}

// NewEnumerator creates an enumerator. formFactor is "auto", "mobile" or "desktop".
func NewEnumerator(media MediaDevices, formFactor string, logger *zap.Logger) *Enumerator {
	mobile := formFactor == "mobile"
	if formFactor == "" || formFactor == "auto" {
		mobile = runtime.GOOS == "android" || runtime.GOOS == "ios"
	}
	return &Enumerator{
		media:  media,
		mobile: mobile,
		logger: logger,
	}
}

// ListDevices returns the current device snapshot. Enumeration failures are
// logged and yield an empty list.
func (e *Enumerator) ListDevices(ctx context.Context) []Device {
	if e.media == nil {
		return nil
	}

	devices, err := e.media.EnumerateDevices(ctx)
	if err != nil {
		e.logger.Warn("Device enumeration failed", zap.Error(err))
		return nil
	}

	e.logger.Debug("Enumerated video devices", zap.Int("count", len(devices)))
	return devices
}

// PickDefault prefers a rear camera on mobile, otherwise the first device
func (e *Enumerator) PickDefault(devices []Device) string {
	if len(devices) == 0 {
		return ""
	}
	if e.mobile {
		for _, d := range devices {
			if backLabel.MatchString(d.Label) {
				return d.ID
			}
		}
	}
	return devices[0].ID
}

// IsMobile reports the resolved form factor
func (e *Enumerator) IsMobile() bool {
	return e.mobile
}
