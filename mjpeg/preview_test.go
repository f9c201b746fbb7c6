package mjpeg

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func testFrame() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 10), B: 128, A: 255})
		}
	}
	return img
}

func TestPushFrameWithoutViewersIsSkipped(t *testing.T) {
	p := NewPreview(10, 80, zaptest.NewLogger(t))

	p.PushFrame(testFrame())

	if p.Latest() != nil {
		t.Error("Expected no frame to be encoded without viewers")
	}
	if got := p.GetStats()["frames"].(uint64); got != 0 {
		t.Errorf("Expected 0 frames, got %d", got)
	}
}

func TestPushFrameRateLimit(t *testing.T) {
	p := NewPreview(10, 80, zaptest.NewLogger(t))
	now := time.Unix(1700000000, 0)
	p.now = func() time.Time { return now }

	ch := p.subscribe()
	defer p.unsubscribe(ch)

	p.PushFrame(testFrame())
	p.PushFrame(testFrame()) // same instant, skipped
	now = now.Add(100 * time.Millisecond)
	p.PushFrame(testFrame()) // viewer has not drained, dropped for it

	if got := p.GetStats()["frames"].(uint64); got != 2 {
		t.Errorf("Expected 2 encoded frames, got %d", got)
	}
	if got := p.GetStats()["dropped"].(uint64); got != 1 {
		t.Errorf("Expected 1 dropped frame, got %d", got)
	}

	data := <-ch
	if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
		t.Errorf("Expected a valid JPEG, got %v", err)
	}
}

func TestClear(t *testing.T) {
	p := NewPreview(10, 80, zaptest.NewLogger(t))
	ch := p.subscribe()
	defer p.unsubscribe(ch)

	p.PushFrame(testFrame())
	if p.Latest() == nil {
		t.Fatal("Expected a latest frame")
	}

	p.Clear()
	if p.Latest() != nil {
		t.Error("Expected latest frame to be cleared")
	}
}

func TestServeHTTPStreamsParts(t *testing.T) {
	p := NewPreview(50, 80, zaptest.NewLogger(t))
	srv := httptest.NewServer(p)
	defer srv.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(25 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.PushFrame(testFrame())
			}
		}
	}()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		t.Fatalf("Bad content type: %v", err)
	}
	if mediaType != "multipart/x-mixed-replace" {
		t.Errorf("Expected multipart/x-mixed-replace, got %s", mediaType)
	}

	mr := multipart.NewReader(resp.Body, params["boundary"])
	for i := 0; i < 2; i++ {
		part, err := mr.NextPart()
		if err != nil {
			t.Fatalf("Failed to read part %d: %v", i, err)
		}
		if ct := part.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("Expected image/jpeg part, got %s", ct)
		}
		data, err := io.ReadAll(part)
		if err != nil {
			t.Fatalf("Failed to read part body: %v", err)
		}
		if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
			t.Errorf("Part %d is not a valid JPEG: %v", i, err)
		}
	}
}
