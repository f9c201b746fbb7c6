package session

import (
	"context"
	"fmt"
	"time"

	"github.com/Smartdcs2026/Scan-Dcs/camera"
	"github.com/Smartdcs2026/Scan-Dcs/config"
	"github.com/Smartdcs2026/Scan-Dcs/lookup"
	"github.com/Smartdcs2026/Scan-Dcs/scan"
	"go.uber.org/zap"
)

// DeviceLister enumerates cameras
type DeviceLister interface {
	ListDevices(ctx context.Context) []camera.Device
	PickDefault(devices []camera.Device) string
}

// Acquirer opens capture streams
type Acquirer interface {
	Acquire(ctx context.Context, preferredDeviceID string) (camera.Stream, error)
}

// PermissionChecker reports the cached camera permission
type PermissionChecker interface {
	Permission(ctx context.Context) camera.Permission
}

// DecodeLoop consumes frames from the open stream
type DecodeLoop interface {
	Start(src scan.FrameSource, onText func(string), onEnd func(error)) bool
	Pause()
	Resume()
	Paused() bool
	Reset()
}

// statsProvider is implemented by components that keep runtime counters
type statsProvider interface {
	GetStats() map[string]interface{}
}

// Lookuper resolves one query
type Lookuper interface {
	Lookup(ctx context.Context, query string) (lookup.Result, error)
}

// Deps are the collaborators a Controller drives. Permissions, Preview and
// Sink may be nil.
type Deps struct {
	Devices     DeviceLister
	Acquirer    Acquirer
	Permissions PermissionChecker
	Loop        DecodeLoop
	Lookup      Lookuper
	Preview     scan.FrameSink
	Sink        Sink
}

// Options tunes a Controller
type Options struct {
	PreferredDevice string
	Cooldown        time.Duration
	SameCodeHold    time.Duration
	IdleTimeout     time.Duration
	FailureBackoff  time.Duration
	Now             func() time.Time
}

// OptionsFromConfig derives controller options from the configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PreferredDevice: cfg.Camera.PreferredDevice,
		Cooldown:        cfg.Scan.Cooldown(),
		SameCodeHold:    cfg.Scan.SameCodeHold(),
		IdleTimeout:     cfg.Scan.IdleTimeout(),
		FailureBackoff:  cfg.Scan.FailureBackoff(),
	}
}

// Session is the state owned by the controller loop
type Session struct {
	State      State
	DeviceID   string
	Devices    []camera.Device
	stream     camera.Stream
	generation uint64
}

// Status is a point-in-time view of the session
type Status struct {
	State      string          `json:"state"`
	DeviceID   string          `json:"device_id,omitempty"`
	Devices    []camera.Device `json:"devices"`
	InFlight   string          `json:"in_flight,omitempty"`
	Pending    string          `json:"pending,omitempty"`
	LastText   string          `json:"last_text,omitempty"`
	Paused     bool            `json:"paused"`
	Generation uint64          `json:"generation"`
}

// Controller runs the scan session state machine. Every mutation happens on
// the goroutine executing Run; acquisition, lookups, timers and decode
// results run elsewhere and post continuations back. Continuations carry the
// generation they were started under and are dropped once it has moved on.
type Controller struct {
	deps   Deps
	opts   Options
	logger *zap.Logger

	tasks chan func()
	done  chan struct{}

	// Owned by the Run goroutine.
	ctx          context.Context
	sess         Session
	gate         *scan.Gate
	flight       scan.Flight
	idle         *IdleTimer
	lookupEpoch  uint64
	lookupCancel context.CancelFunc
	backoff      *time.Timer
}

// NewController creates a controller. Nothing happens until Run is called.
func NewController(deps Deps, opts Options, logger *zap.Logger) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Controller{
		deps:   deps,
		opts:   opts,
		logger: logger.With(zap.String("component", "session")),
		tasks:  make(chan func(), 64),
		done:   make(chan struct{}),
		ctx:    context.Background(),
		gate:   scan.NewGate(opts.Cooldown, opts.SameCodeHold),
		sess:   Session{DeviceID: opts.PreferredDevice},
	}
	c.idle = NewIdleTimer(opts.IdleTimeout, c.onIdle, c.logger)
	return c
}

// Run executes posted work until ctx is cancelled, then tears the session down
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	defer close(c.done)

	c.logger.Info("Session controller started")
	for {
		select {
		case <-ctx.Done():
			c.stop(ReasonRestart)
			c.logger.Info("Session controller stopped")
			return nil
		case task := <-c.tasks:
			task()
		}
	}
}

// Done is closed once Run has returned
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Start opens the camera and begins decoding. It is a no-op while the camera
// is running or a start is already in progress.
func (c *Controller) Start(ctx context.Context) error {
	res := make(chan error, 1)
	if err := c.exec(ctx, func() { c.start(res) }); err != nil {
		return err
	}
	return c.await(ctx, res)
}

// Stop tears the session down. Stopping an idle session does nothing.
func (c *Controller) Stop(ctx context.Context, reason StopReason) error {
	res := make(chan error, 1)
	if err := c.exec(ctx, func() {
		c.stop(reason)
		res <- nil
	}); err != nil {
		return err
	}
	return c.await(ctx, res)
}

// SwitchDevice reopens the camera on another device. The session must be running.
func (c *Controller) SwitchDevice(ctx context.Context, deviceID string) error {
	res := make(chan error, 1)
	if err := c.exec(ctx, func() { c.switchDevice(deviceID, res) }); err != nil {
		return err
	}
	return c.await(ctx, res)
}

// Submit feeds a manually entered query to the lookup gate
func (c *Controller) Submit(ctx context.Context, query string) error {
	res := make(chan error, 1)
	if err := c.exec(ctx, func() {
		q := scan.Normalize(query)
		if q == "" {
			res <- lookup.ErrEmptyQuery
			return
		}
		c.idle.Bump()
		c.offer(q)
		res <- nil
	}); err != nil {
		return err
	}
	return c.await(ctx, res)
}

// Activity records operator activity for the idle timer
func (c *Controller) Activity(ctx context.Context) error {
	return c.exec(ctx, func() { c.idle.Bump() })
}

// Devices re-enumerates cameras and returns them with the default pick
func (c *Controller) Devices(ctx context.Context) ([]camera.Device, string, error) {
	devices := c.deps.Devices.ListDevices(ctx)
	def := c.deps.Devices.PickDefault(devices)

	res := make(chan error, 1)
	if err := c.exec(ctx, func() {
		c.setDevices(devices)
		res <- nil
	}); err != nil {
		return nil, "", err
	}
	return devices, def, c.await(ctx, res)
}

// Status returns a snapshot of the session
func (c *Controller) Status(ctx context.Context) (Status, error) {
	res := make(chan Status, 1)
	if err := c.exec(ctx, func() {
		st := Status{
			State:      c.sess.State.String(),
			DeviceID:   c.sess.DeviceID,
			Devices:    c.sess.Devices,
			InFlight:   c.flight.Current(),
			LastText:   c.gate.LastText(),
			Paused:     c.deps.Loop.Paused(),
			Generation: c.sess.generation,
		}
		if next, ok := c.flight.Pending(); ok {
			st.Pending = next
		}
		res <- st
	}); err != nil {
		return Status{}, err
	}

	select {
	case st := <-res:
		return st, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	case <-c.done:
		return Status{}, ErrClosed
	}
}

// Stats collects runtime counters from the decode loop, the open capture and
// the preview
func (c *Controller) Stats(ctx context.Context) (map[string]interface{}, error) {
	res := make(chan map[string]interface{}, 1)
	if err := c.exec(ctx, func() {
		stats := map[string]interface{}{
			"state":      c.sess.State.String(),
			"generation": c.sess.generation,
		}
		if p, ok := c.deps.Loop.(statsProvider); ok {
			stats["decode"] = p.GetStats()
		}
		if p, ok := c.sess.stream.(statsProvider); ok {
			stats["capture"] = p.GetStats()
		}
		if p, ok := c.deps.Preview.(statsProvider); ok {
			stats["preview"] = p.GetStats()
		}
		res <- stats
	}); err != nil {
		return nil, err
	}

	select {
	case stats := <-res:
		return stats, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

func (c *Controller) exec(ctx context.Context, task func()) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.tasks <- task:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) await(ctx context.Context, res <-chan error) error {
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// post queues a continuation from a background goroutine. It reports false
// once the controller has shut down.
func (c *Controller) post(task func()) bool {
	select {
	case c.tasks <- task:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) start(res chan<- error) {
	switch c.sess.State {
	case StateRunning, StateStarting:
		res <- nil
		return
	}

	if c.deps.Permissions != nil && c.deps.Permissions.Permission(c.ctx) == camera.PermissionDenied {
		err := &camera.Error{Kind: camera.KindPermissionDenied, Err: camera.ErrPermissionDenied}
		c.logger.Warn("Camera permission previously denied, not prompting again")
		c.surfaceCameraError(err, "camera blocked")
		res <- err
		return
	}

	c.sess.generation++
	c.setState(StateStarting, "opening camera")
	c.acquire(c.sess.generation, c.sess.DeviceID, "camera running", "open failed", res)
}

func (c *Controller) switchDevice(deviceID string, res chan<- error) {
	if c.sess.State != StateRunning {
		res <- ErrNotRunning
		return
	}
	if deviceID == c.sess.DeviceID && c.sess.stream != nil && c.sess.stream.Live() {
		res <- nil
		return
	}

	c.idle.Bump()
	c.sess.generation++
	c.deps.Loop.Reset()
	c.releaseStream()
	c.sess.DeviceID = deviceID
	c.setState(StateStarting, "switching camera")
	c.acquire(c.sess.generation, deviceID, "camera switched", "switch failed", res)
}

// acquire opens a stream off the loop and continues in finishAcquire
func (c *Controller) acquire(gen uint64, preferred, runningText, failText string, res chan<- error) {
	ctx := c.ctx
	go func() {
		id := preferred
		if id == "" {
			id = c.deps.Devices.PickDefault(c.deps.Devices.ListDevices(ctx))
		}

		stream, err := c.deps.Acquirer.Acquire(ctx, id)

		// Labels are often blank until permission has been granted once.
		var devices []camera.Device
		if err == nil {
			devices = c.deps.Devices.ListDevices(ctx)
		}

		if !c.post(func() { c.finishAcquire(gen, stream, devices, err, runningText, failText, res) }) {
			camera.Release(stream)
			res <- ErrClosed
		}
	}()
}

func (c *Controller) finishAcquire(gen uint64, stream camera.Stream, devices []camera.Device, err error, runningText, failText string, res chan<- error) {
	if gen != c.sess.generation || c.sess.State != StateStarting {
		c.logger.Debug("Discarding superseded acquisition",
			zap.Uint64("generation", gen),
			zap.Uint64("current", c.sess.generation))
		camera.Release(stream)
		res <- ErrSuperseded
		return
	}

	if err != nil {
		c.teardownCamera()
		c.surfaceCameraError(err, failText)
		res <- err
		return
	}

	c.sess.stream = stream
	c.sess.DeviceID = stream.DeviceID()
	c.setDevices(devices)
	c.setState(StateRunning, runningText)
	c.idle.Start()
	c.startDecode()
	res <- nil
}

func (c *Controller) startDecode() {
	gen := c.sess.generation
	c.deps.Loop.Start(c.sess.stream, func(raw string) {
		c.post(func() { c.handleRaw(gen, raw) })
	}, func(err error) {
		c.post(func() { c.streamLost(gen, err) })
	})
}

// streamLost handles a capture that ended or kept failing while running.
// The camera is torn down and the session left Idle so Start reopens it;
// lookups in flight are not affected.
func (c *Controller) streamLost(gen uint64, err error) {
	if gen != c.sess.generation || c.sess.State != StateRunning {
		return
	}

	c.logger.Warn("Camera stream lost",
		zap.String("device", c.sess.DeviceID),
		zap.Error(err))

	kind := camera.Classify(err)
	if kind == camera.KindUnknown {
		kind = camera.KindStreamEnded
	}

	c.sess.generation++
	c.teardownCamera()
	c.surfaceCameraError(&camera.Error{
		Kind: kind,
		Err:  fmt.Errorf("capture stopped: %w", err),
	}, "camera lost")
}

func (c *Controller) stop(reason StopReason) {
	if c.sess.State == StateIdle && c.sess.stream == nil {
		return
	}

	c.logger.Info("Stopping camera",
		zap.String("reason", reason.String()),
		zap.String("state", c.sess.State.String()))

	c.sess.State = StateStopping
	c.sess.generation++

	c.lookupEpoch++
	c.flight.Cancel()
	if c.lookupCancel != nil {
		c.lookupCancel()
		c.lookupCancel = nil
	}

	c.teardownCamera()
	c.sess.State = StateIdle

	switch reason {
	case ReasonIdle:
		c.emit(Event{Kind: EventIdleStop, Message: "camera stopped after inactivity"})
		c.emitStatus("camera off")
	case ReasonUser:
		c.emitStatus("camera off")
	}
}

// teardownCamera stops everything tied to the open stream. Lookup gating is
// left alone.
func (c *Controller) teardownCamera() {
	if c.backoff != nil {
		c.backoff.Stop()
		c.backoff = nil
	}
	c.idle.Stop()
	c.deps.Loop.Reset()
	c.releaseStream()
}

func (c *Controller) releaseStream() {
	camera.Release(c.sess.stream)
	c.sess.stream = nil
	if c.deps.Preview != nil {
		c.deps.Preview.Clear()
	}
}

func (c *Controller) onIdle() {
	c.post(func() {
		if c.sess.State == StateRunning {
			c.stop(ReasonIdle)
		}
	})
}

func (c *Controller) handleRaw(gen uint64, raw string) {
	if gen != c.sess.generation || c.sess.State != StateRunning {
		return
	}

	ev, ok := c.gate.Accept(raw, c.opts.Now())
	if !ok {
		return
	}

	c.idle.Bump()
	c.emit(Event{Kind: EventScanAccepted, Query: ev.Text})
	c.offer(ev.Text)
}

func (c *Controller) offer(q string) {
	if !c.flight.Offer(q) {
		c.logger.Debug("Lookup in flight, parking query",
			zap.String("query", q),
			zap.String("in_flight", c.flight.Current()))
		return
	}
	c.dispatch(q)
}

func (c *Controller) dispatch(q string) {
	epoch := c.lookupEpoch
	ctx, cancel := context.WithCancel(c.ctx)
	c.lookupCancel = cancel

	c.emit(Event{Kind: EventLookupStarted, Query: q, Message: "Searching: " + q})

	go func() {
		res, err := c.deps.Lookup.Lookup(ctx, q)
		c.post(func() { c.finishLookup(epoch, q, res, err) })
	}()
}

func (c *Controller) finishLookup(epoch uint64, q string, res lookup.Result, err error) {
	if epoch != c.lookupEpoch {
		c.logger.Debug("Discarding stale lookup result", zap.String("query", q))
		return
	}
	if c.lookupCancel != nil {
		c.lookupCancel()
		c.lookupCancel = nil
	}

	switch {
	case err != nil:
		kind, msg := Describe(err)
		c.emit(Event{Kind: EventLookupError, Query: q, ErrorKind: kind, Message: msg})
		c.pauseForBackoff()
	case !res.Found:
		c.emit(Event{Kind: EventLookupNotFound, Query: q, Message: "No record for " + q})
	default:
		c.emit(Event{Kind: EventLookupSuccess, Query: q, Fields: res.Fields})
	}

	if next, ok := c.flight.Complete(); ok {
		c.dispatch(next)
	}
}

// pauseForBackoff holds the decode loop after a failed lookup. The camera
// stays open so no new permission prompt is triggered.
func (c *Controller) pauseForBackoff() {
	if c.sess.State != StateRunning || c.opts.FailureBackoff <= 0 {
		return
	}

	if c.backoff != nil {
		c.backoff.Stop()
	}
	gen := c.sess.generation
	c.deps.Loop.Pause()
	c.backoff = time.AfterFunc(c.opts.FailureBackoff, func() {
		c.post(func() {
			if gen != c.sess.generation || c.sess.State != StateRunning {
				return
			}
			c.backoff = nil
			c.deps.Loop.Resume()
		})
	})
}

func (c *Controller) setDevices(devices []camera.Device) {
	c.sess.Devices = devices
	c.emit(Event{
		Kind:       EventDevices,
		DeviceID:   c.sess.DeviceID,
		Devices:    devices,
		Selectable: len(devices) > 1,
	})
}

func (c *Controller) setState(s State, text string) {
	c.sess.State = s
	c.emitStatus(text)
}

func (c *Controller) emitStatus(text string) {
	c.emit(Event{
		Kind:     EventCameraStatus,
		State:    c.sess.State.String(),
		DeviceID: c.sess.DeviceID,
		Message:  text,
	})
}

func (c *Controller) surfaceCameraError(err error, text string) {
	kind, msg := Describe(err)
	c.sess.State = StateError
	c.emit(Event{
		Kind:      EventCameraError,
		State:     StateError.String(),
		ErrorKind: kind,
		Message:   msg,
	})
	c.setState(StateIdle, text)
}

func (c *Controller) emit(e Event) {
	if c.deps.Sink != nil {
		c.deps.Sink.Emit(e)
	}
}
