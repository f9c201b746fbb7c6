package camera

import (
	"context"
	"errors"
	"fmt"

	"github.com/Smartdcs2026/Scan-Dcs/config"
	"go.uber.org/zap"
)

// Tier is one capture request in the fallback sequence. Constraints returns
// false when the tier does not apply (for example, no device was requested).
type Tier struct {
	Name        string
	Constraints func(preferredDeviceID string) (Constraints, bool)
}

// DefaultTiers builds the ordered fallback chain from the camera settings
func DefaultTiers(cfg config.CameraConfig) []Tier {
	hints := func(c Constraints) Constraints {
		c.Width = cfg.Width
		c.Height = cfg.Height
		c.FrameRate = cfg.FPS
		c.MaxFPS = cfg.FPS
		return c
	}

	tiers := []Tier{{
		Name: "exact-device",
		Constraints: func(id string) (Constraints, bool) {
			return hints(Constraints{DeviceID: id, ExactDevice: true}), id != ""
		},
	}}

	if cfg.IdealDeviceTier {
		tiers = append(tiers, Tier{
			Name: "ideal-device",
			Constraints: func(id string) (Constraints, bool) {
				return hints(Constraints{DeviceID: id}), id != ""
			},
		})
	}

	return append(tiers,
		Tier{
			Name: "environment",
			Constraints: func(string) (Constraints, bool) {
				return hints(Constraints{Facing: FacingBack}), true
			},
		},
		Tier{
			Name: "any",
			Constraints: func(string) (Constraints, bool) {
				return Constraints{}, true
			},
		},
	)
}

// Acquirer opens capture streams by walking the tier list
type Acquirer struct {
	media  MediaDevices
	tiers  []Tier
	logger *zap.Logger
}

// NewAcquirer creates an acquirer over the given tiers
func NewAcquirer(media MediaDevices, tiers []Tier, logger *zap.Logger) *Acquirer {
	return &Acquirer{
		media:  media,
		tiers:  tiers,
		logger: logger,
	}
}

// Acquire returns the first stream any tier manages to open. When every tier
// fails the error kind comes from the last failure. Callers must release any
// stream they already hold before calling.
func (a *Acquirer) Acquire(ctx context.Context, preferredDeviceID string) (Stream, error) {
	if a.media == nil {
		return nil, &Error{Kind: KindUnsupported, Err: ErrUnsupported}
	}

	var lastErr error
	for _, tier := range a.tiers {
		constraints, ok := tier.Constraints(preferredDeviceID)
		if !ok {
			continue
		}

		if err := ctx.Err(); err != nil {
			return nil, &Error{Kind: KindUnknown, Err: err}
		}

		stream, err := a.media.Open(ctx, constraints)
		if err == nil {
			a.logger.Info("Camera stream opened",
				zap.String("tier", tier.Name),
				zap.String("device", stream.DeviceID()))
			return stream, nil
		}

		a.logger.Debug("Capture tier failed",
			zap.String("tier", tier.Name),
			zap.String("requested_device", preferredDeviceID),
			zap.Error(err))
		lastErr = fmt.Errorf("tier %s: %w", tier.Name, err)
	}

	if lastErr == nil {
		lastErr = errors.New("no capture tier applicable")
	}
	return nil, &Error{Kind: Classify(lastErr), Err: lastErr}
}
