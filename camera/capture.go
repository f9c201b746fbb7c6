package camera

import (
	"image"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"go.uber.org/zap"
)

// Capture is a Stream backed by one running mediadevices driver
type Capture struct {
	drv    driver.Driver
	reader video.Reader
	mode   prop.Media
	logger *zap.Logger

	frames atomic.Uint64
	closed atomic.Bool
	once   sync.Once
}

func newCapture(d driver.Driver, reader video.Reader, mode prop.Media, logger *zap.Logger) *Capture {
	return &Capture{
		drv:    d,
		reader: reader,
		mode:   mode,
		logger: logger.With(zap.String("device", d.ID())),
	}
}

// DeviceID returns the id of the driver this capture runs on
func (c *Capture) DeviceID() string {
	return c.drv.ID()
}

// ReadFrame blocks until the next frame. It returns io.EOF once the capture is closed.
func (c *Capture) ReadFrame() (image.Image, func(), error) {
	if c.closed.Load() {
		return nil, nil, io.EOF
	}

	img, release, err := c.reader.Read()
	if err != nil {
		if c.closed.Load() {
			return nil, nil, io.EOF
		}
		return nil, nil, err
	}

	c.frames.Add(1)
	if release == nil {
		release = func() {}
	}
	return img, release, nil
}

// Live reports whether the driver is still delivering frames
func (c *Capture) Live() bool {
	return !c.closed.Load() && c.drv.Status() == driver.StateRunning
}

// Close stops the driver. Safe to call more than once.
func (c *Capture) Close() error {
	var err error
	c.once.Do(func() {
		c.closed.Store(true)
		err = c.drv.Close()
		c.logger.Info("Capture closed", zap.Uint64("frames", c.frames.Load()))
	})
	return err
}

// GetStats returns capture statistics
func (c *Capture) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"device": c.drv.ID(),
		"width":  c.mode.Width,
		"height": c.mode.Height,
		"fps":    c.mode.FrameRate,
		"frames": c.frames.Load(),
		"live":   c.Live(),
	}
}
