package mjpeg

import (
	"bytes"
	"image"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const boundary = "frame"

// Preview re-encodes the frames the decoder sees as JPEG and serves them as a
// multipart MJPEG stream. Encoding only happens while someone is watching.
type Preview struct {
	interval time.Duration
	quality  int
	logger   *zap.Logger
	now      func() time.Time

	mu          sync.Mutex
	subscribers map[chan []byte]struct{}
	lastEncode  time.Time
	latest      []byte

	frameCount atomic.Uint64
	dropCount  atomic.Uint64
}

// NewPreview creates a preview limited to fps frames per second
func NewPreview(fps, quality int, logger *zap.Logger) *Preview {
	if fps <= 0 {
		fps = 10
	}
	if quality <= 0 || quality > 100 {
		quality = 75
	}

	return &Preview{
		interval:    time.Second / time.Duration(fps),
		quality:     quality,
		logger:      logger,
		now:         time.Now,
		subscribers: make(map[chan []byte]struct{}),
	}
}

// PushFrame encodes img for the current viewers. img is only read during the call.
func (p *Preview) PushFrame(img image.Image) {
	p.mu.Lock()
	if len(p.subscribers) == 0 {
		p.mu.Unlock()
		return
	}
	now := p.now()
	if !p.lastEncode.IsZero() && now.Sub(p.lastEncode) < p.interval {
		p.mu.Unlock()
		return
	}
	p.lastEncode = now
	p.mu.Unlock()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.quality}); err != nil {
		p.logger.Warn("Failed to encode preview frame", zap.Error(err))
		return
	}
	data := buf.Bytes()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.latest = data
	p.frameCount.Add(1)
	for ch := range p.subscribers {
		select {
		case ch <- data:
		default:
			// Viewer is behind; it gets the next frame instead.
			p.dropCount.Add(1)
		}
	}
}

// Clear forgets the last frame so new viewers do not see a stale image
func (p *Preview) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latest = nil
	p.lastEncode = time.Time{}
}

// Latest returns the most recent encoded frame, if any
func (p *Preview) Latest() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest
}

func (p *Preview) subscribe() chan []byte {
	ch := make(chan []byte, 1)
	p.mu.Lock()
	p.subscribers[ch] = struct{}{}
	p.mu.Unlock()
	return ch
}

func (p *Preview) unsubscribe(ch chan []byte) {
	p.mu.Lock()
	delete(p.subscribers, ch)
	p.mu.Unlock()
}

// Viewers returns the number of connected viewers
func (p *Preview) Viewers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subscribers)
}

// ServeHTTP streams frames until the client goes away
func (p *Preview) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// The stream outlives any server write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	ch := p.subscribe()
	defer p.unsubscribe(ch)

	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(boundary); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)

	p.logger.Debug("Preview viewer connected", zap.String("remote_addr", r.RemoteAddr))
	defer p.logger.Debug("Preview viewer disconnected", zap.String("remote_addr", r.RemoteAddr))

	if latest := p.Latest(); latest != nil {
		if err := p.writePart(w, mw, latest); err != nil {
			return
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case data := <-ch:
			if err := p.writePart(w, mw, data); err != nil {
				return
			}
		}
	}
}

func (p *Preview) writePart(w http.ResponseWriter, mw *multipart.Writer, data []byte) error {
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":   {"image/jpeg"},
		"Content-Length": {strconv.Itoa(len(data))},
	})
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	return http.NewResponseController(w).Flush()
}

// GetStats returns preview counters
func (p *Preview) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"viewers": p.Viewers(),
		"frames":  p.frameCount.Load(),
		"dropped": p.dropCount.Load(),
	}
}
