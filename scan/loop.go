package scan

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrNoCode is returned by a Decoder when a frame holds no readable code
var ErrNoCode = errors.New("no code found")

// MaxReadFailures is how many consecutive failed reads end the loop
const MaxReadFailures = 5

// Decoder recognises a code in one frame
type Decoder interface {
	Decode(img image.Image) (string, error)
}

// FrameSource yields frames until it is closed
type FrameSource interface {
	ReadFrame() (img image.Image, release func(), err error)
}

// FrameSink receives every frame the loop consumes (the preview)
type FrameSink interface {
	PushFrame(img image.Image)
	Clear()
}

// Loop submits frames to the decoder until reset
type Loop struct {
	decoder  Decoder
	sink     FrameSink
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	paused atomic.Bool

	frameCount  atomic.Uint64
	decodeCount atomic.Uint64
}

// NewLoop creates a decode loop. sink may be nil.
func NewLoop(decoder Decoder, sink FrameSink, interval time.Duration, logger *zap.Logger) *Loop {
	return &Loop{
		decoder:  decoder,
		sink:     sink,
		interval: interval,
		logger:   logger,
	}
}

// Start begins decoding src, handing raw text to onText from the loop's
// goroutine. onEnd, if set, is called once when the source ends on its own
// or keeps failing; it is never called after Reset. Start is a no-op while a
// previous Start is still active.
func (l *Loop) Start(src FrameSource, onText func(string), onEnd func(error)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.paused.Store(false)

	l.wg.Add(1)
	go l.run(ctx, src, onText, onEnd)

	l.logger.Debug("Decode loop started")
	return true
}

// Running reports whether the loop has been started and not reset
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

// Pause stops frame consumption without tearing the loop down
func (l *Loop) Pause() {
	l.paused.Store(true)
}

// Resume undoes Pause
func (l *Loop) Resume() {
	l.paused.Store(false)
}

// Paused reports whether frames are currently skipped
func (l *Loop) Paused() bool {
	return l.paused.Load()
}

// Reset cancels the loop. It does not wait: the reader may be blocked on the
// stream until the stream is released.
func (l *Loop) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel == nil {
		return
	}
	l.cancel()
	l.cancel = nil
	l.paused.Store(false)
	l.logger.Debug("Decode loop reset")
}

// Wait blocks until every loop goroutine has exited
func (l *Loop) Wait() {
	l.wg.Wait()
}

func (l *Loop) run(ctx context.Context, src FrameSource, onText func(string), onEnd func(error)) {
	defer l.wg.Done()

	var endErr error
	defer func() {
		l.mu.Lock()
		ended := ctx.Err() == nil && l.cancel != nil
		if ended {
			// Source ended on its own; allow a later Start.
			l.cancel()
			l.cancel = nil
		}
		l.mu.Unlock()

		if ended && endErr != nil && onEnd != nil {
			onEnd(endErr)
		}
	}()

	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		if l.paused.Load() {
			if !l.sleep(ctx) {
				return
			}
			continue
		}

		img, release, err := src.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				l.logger.Debug("Frame source ended", zap.Error(err))
				endErr = err
				return
			}
			failures++
			l.logger.Warn("Frame read failed", zap.Int("consecutive", failures), zap.Error(err))
			if failures >= MaxReadFailures {
				endErr = err
				return
			}
			if !l.sleep(ctx) {
				return
			}
			continue
		}
		failures = 0

		// Frames read after a reset belong to a superseded session.
		if ctx.Err() != nil {
			release()
			return
		}

		l.frameCount.Add(1)
		if l.sink != nil {
			l.sink.PushFrame(img)
		}

		text, err := l.decoder.Decode(img)
		release()
		if err == nil && text != "" {
			l.decodeCount.Add(1)
			onText(text)
		}

		if !l.sleep(ctx) {
			return
		}
	}
}

func (l *Loop) sleep(ctx context.Context) bool {
	if l.interval <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(l.interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// GetStats returns loop counters
func (l *Loop) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"running": l.Running(),
		"paused":  l.Paused(),
		"frames":  l.frameCount.Load(),
		"decodes": l.decodeCount.Load(),
	}
}
