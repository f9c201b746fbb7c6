package camera

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/pion/mediadevices/pkg/driver"
	_ "github.com/pion/mediadevices/pkg/driver/camera" // registers platform camera drivers
	"github.com/pion/mediadevices/pkg/prop"
	"go.uber.org/zap"
)

// Manager is the MediaDevices backend built on the mediadevices driver registry
type Manager struct {
	logger *zap.Logger

	mu         sync.Mutex
	deniedSeen bool // a driver refused us for permission reasons
	probe      func() Permission
}

// NewManager creates a camera manager over the registered video drivers
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		logger: logger,
		probe:  probePermission,
	}
}

func (m *Manager) videoDrivers() []driver.Driver {
	return driver.GetManager().Query(driver.FilterVideoRecorder())
}

// EnumerateDevices lists the registered video recorders
func (m *Manager) EnumerateDevices(ctx context.Context) ([]Device, error) {
	drivers := m.videoDrivers()
	devices := make([]Device, 0, len(drivers))
	for _, d := range drivers {
		label := d.Info().Label
		devices = append(devices, Device{
			ID:     d.ID(),
			Label:  label,
			Facing: FacingFromLabel(label),
		})
	}
	return devices, nil
}

// Open starts capturing on the first driver that satisfies the constraints
func (m *Manager) Open(ctx context.Context, c Constraints) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates, err := m.candidates(c)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, d := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		capture, err := m.openDriver(d, c)
		if err == nil {
			m.deniedSeen = false
			return capture, nil
		}

		if Classify(err) == KindPermissionDenied {
			m.deniedSeen = true
		}
		m.logger.Debug("Driver open failed",
			zap.String("device", d.ID()),
			zap.String("label", d.Info().Label),
			zap.Error(err))
		lastErr = err
	}
	return nil, lastErr
}

// candidates orders the drivers worth trying for a request
func (m *Manager) candidates(c Constraints) ([]driver.Driver, error) {
	all := m.videoDrivers()
	if len(all) == 0 {
		return nil, ErrDeviceNotFound
	}

	switch {
	case c.DeviceID != "":
		var matched, rest []driver.Driver
		for _, d := range all {
			if d.ID() == c.DeviceID {
				matched = append(matched, d)
			} else {
				rest = append(rest, d)
			}
		}
		if c.ExactDevice {
			if len(matched) == 0 {
				return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, c.DeviceID)
			}
			return matched, nil
		}
		return append(matched, rest...), nil

	case c.Facing != FacingUnknown:
		var matched []driver.Driver
		for _, d := range all {
			if FacingFromLabel(d.Info().Label) == c.Facing {
				matched = append(matched, d)
			}
		}
		if len(matched) == 0 {
			return nil, fmt.Errorf("%w: no %s-facing camera", ErrConstraintsUnsatisfiable, c.Facing)
		}
		return matched, nil
	}

	return all, nil
}

func (m *Manager) openDriver(d driver.Driver, c Constraints) (*Capture, error) {
	if d.Status() != driver.StateClosed {
		return nil, fmt.Errorf("%w: %s is %s", ErrDeviceBusy, d.ID(), d.Status())
	}

	recorder, ok := d.(driver.VideoRecorder)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a video recorder", ErrUnsupported, d.ID())
	}

	if err := d.Open(); err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", d.ID(), err)
	}

	mode, err := selectMode(d.Properties(), c)
	if err != nil {
		_ = d.Close()
		return nil, err
	}

	reader, err := recorder.VideoRecord(mode)
	if err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("failed to start recording on %s: %w", d.ID(), err)
	}

	m.logger.Info("Capture started",
		zap.String("device", d.ID()),
		zap.String("label", d.Info().Label),
		zap.Int("width", mode.Width),
		zap.Int("height", mode.Height),
		zap.Float32("fps", mode.FrameRate))

	return newCapture(d, reader, mode, m.logger), nil
}

// selectMode picks the driver property closest to the requested hints.
// Modes above MaxFPS are never chosen.
func selectMode(props []prop.Media, c Constraints) (prop.Media, error) {
	if len(props) == 0 {
		return prop.Media{}, fmt.Errorf("%w: driver reports no modes", ErrConstraintsUnsatisfiable)
	}
	if c.Unconstrained() {
		return props[0], nil
	}

	best := -1
	bestScore := math.MaxFloat64
	for i, p := range props {
		if c.MaxFPS > 0 && p.FrameRate > float32(c.MaxFPS)+0.5 {
			continue
		}
		score := 0.0
		if c.Width > 0 {
			score += math.Abs(float64(p.Width - c.Width))
		}
		if c.Height > 0 {
			score += math.Abs(float64(p.Height - c.Height))
		}
		if c.FrameRate > 0 && p.FrameRate > 0 {
			score += 10 * math.Abs(float64(p.FrameRate)-float64(c.FrameRate))
		}
		if score < bestScore {
			best, bestScore = i, score
		}
	}

	if best < 0 {
		return prop.Media{}, fmt.Errorf("%w: every mode exceeds %d fps", ErrConstraintsUnsatisfiable, c.MaxFPS)
	}
	return props[best], nil
}

// Permission reports the camera permission state. A permission failure seen
// while opening sticks until the platform probe reports access again.
func (m *Manager) Permission(ctx context.Context) Permission {
	p := m.probe()

	m.mu.Lock()
	defer m.mu.Unlock()

	if p == PermissionGranted {
		m.deniedSeen = false
		return p
	}
	if m.deniedSeen {
		return PermissionDenied
	}
	return p
}
