package session

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Smartdcs2026/Scan-Dcs/camera"
	"github.com/Smartdcs2026/Scan-Dcs/lookup"
	"github.com/Smartdcs2026/Scan-Dcs/scan"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeStream struct {
	id      string
	readErr error
	closes  atomic.Int32
}

func (s *fakeStream) DeviceID() string { return s.id }

func (s *fakeStream) ReadFrame() (image.Image, func(), error) {
	if s.closes.Load() > 0 {
		return nil, nil, io.EOF
	}
	if s.readErr != nil {
		return nil, nil, s.readErr
	}
	return image.NewGray(image.Rect(0, 0, 4, 4)), func() {}, nil
}

func (s *fakeStream) Live() bool { return s.closes.Load() == 0 }

func (s *fakeStream) Close() error {
	s.closes.Add(1)
	return nil
}

func (s *fakeStream) GetStats() map[string]interface{} {
	return map[string]interface{}{"device": s.id}
}

type fakeDevices struct {
	devices []camera.Device
}

func (d *fakeDevices) ListDevices(ctx context.Context) []camera.Device { return d.devices }

func (d *fakeDevices) PickDefault(devices []camera.Device) string {
	if len(devices) == 0 {
		return ""
	}
	return devices[0].ID
}

type fakeAcquirer struct {
	mu      sync.Mutex
	calls   []string
	errs    []error // scripted per call; nil or missing means success
	streams []*fakeStream
	hold    chan struct{}
	readErr error // handed to every stream opened
}

func (a *fakeAcquirer) Acquire(ctx context.Context, preferred string) (camera.Stream, error) {
	a.mu.Lock()
	n := len(a.calls)
	a.calls = append(a.calls, preferred)
	hold := a.hold
	var err error
	if n < len(a.errs) {
		err = a.errs[n]
	}
	a.mu.Unlock()

	if hold != nil {
		<-hold
	}
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	s := &fakeStream{id: preferred, readErr: a.readErr}
	a.streams = append(a.streams, s)
	a.mu.Unlock()
	return s, nil
}

func (a *fakeAcquirer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func (a *fakeAcquirer) stream(i int) *fakeStream {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.streams[i]
}

type fakePermissions struct {
	state camera.Permission
}

func (p *fakePermissions) Permission(ctx context.Context) camera.Permission { return p.state }

// fakeLoop hands raw text to the controller on demand
type fakeLoop struct {
	mu      sync.Mutex
	onText  func(string)
	onEnd   func(error)
	lastEnd func(error)
	starts  int
	paused  bool
}

func (l *fakeLoop) Start(src scan.FrameSource, onText func(string), onEnd func(error)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.onText != nil {
		return false
	}
	l.onText = onText
	l.onEnd = onEnd
	l.lastEnd = onEnd
	l.starts++
	l.paused = false
	return true
}

func (l *fakeLoop) Pause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = true
}

func (l *fakeLoop) Resume() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = false
}

func (l *fakeLoop) Paused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}

func (l *fakeLoop) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onText = nil
	l.onEnd = nil
	l.paused = false
}

func (l *fakeLoop) GetStats() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return map[string]interface{}{"starts": l.starts}
}

// end reports the source as finished the way the decode goroutine would
func (l *fakeLoop) end(err error) {
	l.mu.Lock()
	fn := l.onEnd
	l.onText = nil
	l.onEnd = nil
	l.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (l *fakeLoop) running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.onText != nil
}

// emit delivers raw text the way the decode goroutine would
func (l *fakeLoop) emit(raw string) {
	l.mu.Lock()
	fn := l.onText
	l.mu.Unlock()
	if fn != nil {
		fn(raw)
	}
}

type lookupReply struct {
	res lookup.Result
	err error
}

type lookupCall struct {
	query string
	reply chan lookupReply
}

func (c *lookupCall) found(fields ...lookup.Field) {
	c.reply <- lookupReply{res: lookup.Result{Query: c.query, Found: true, Fields: fields}}
}

func (c *lookupCall) notFound() {
	c.reply <- lookupReply{res: lookup.Result{Query: c.query}}
}

func (c *lookupCall) fail(err error) {
	c.reply <- lookupReply{res: lookup.Result{Query: c.query}, err: err}
}

type fakeLookup struct {
	calls chan *lookupCall
}

func (f *fakeLookup) Lookup(ctx context.Context, query string) (lookup.Result, error) {
	call := &lookupCall{query: query, reply: make(chan lookupReply, 1)}
	f.calls <- call
	select {
	case r := <-call.reply:
		return r.res, r.err
	case <-ctx.Done():
		return lookup.Result{Query: query}, &lookup.Error{Kind: lookup.KindTransport, Message: "cancelled", Err: ctx.Err()}
	}
}

func (f *fakeLookup) next(t *testing.T) *lookupCall {
	t.Helper()
	select {
	case call := <-f.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("no lookup dispatched")
		return nil
	}
}

func (f *fakeLookup) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case call := <-f.calls:
		t.Fatalf("unexpected lookup for %q", call.query)
	case <-time.After(wait):
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) ofKind(kind EventKind) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (s *recordingSink) waitFor(t *testing.T, kind EventKind) Event {
	t.Helper()
	var found Event
	require.Eventually(t, func() bool {
		events := s.ofKind(kind)
		if len(events) == 0 {
			return false
		}
		found = events[len(events)-1]
		return true
	}, 2*time.Second, 5*time.Millisecond, "no %s event", kind)
	return found
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	ctrl     *Controller
	devices  *fakeDevices
	acquirer *fakeAcquirer
	perms    *fakePermissions
	loop     *fakeLoop
	lookup   *fakeLookup
	sink     *recordingSink
	clock    *fakeClock
}

func newHarness(t *testing.T, tune func(*Options)) *harness {
	t.Helper()

	h := &harness{
		devices: &fakeDevices{devices: []camera.Device{
			{ID: "cam0", Label: "Front Camera", Facing: camera.FacingFront},
			{ID: "cam1", Label: "Back Camera", Facing: camera.FacingBack},
		}},
		acquirer: &fakeAcquirer{},
		perms:    &fakePermissions{state: camera.PermissionGranted},
		loop:     &fakeLoop{},
		lookup:   &fakeLookup{calls: make(chan *lookupCall, 8)},
		sink:     &recordingSink{},
		clock:    &fakeClock{now: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)},
	}

	opts := Options{
		Cooldown:       800 * time.Millisecond,
		SameCodeHold:   1800 * time.Millisecond,
		IdleTimeout:    time.Minute,
		FailureBackoff: 200 * time.Millisecond,
		Now:            h.clock.Now,
	}
	if tune != nil {
		tune(&opts)
	}

	h.ctrl = NewController(Deps{
		Devices:     h.devices,
		Acquirer:    h.acquirer,
		Permissions: h.perms,
		Loop:        h.loop,
		Lookup:      h.lookup,
		Sink:        h.sink,
	}, opts, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	go h.ctrl.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.ctrl.Done()
	})
	return h
}

// sync waits until every task queued so far has run
func (h *harness) sync(t *testing.T) Status {
	t.Helper()
	st, err := h.ctrl.Status(context.Background())
	require.NoError(t, err)
	return st
}

var errBoom = errors.New("boom")
