package scan

import (
	"strings"
	"time"
)

// Event is one accepted, normalized decode
type Event struct {
	Text string
	At   time.Time
}

// Normalize trims and upper-cases decoded or typed text
func Normalize(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// Gate drops decode events that arrive too fast or repeat the code that was
// just accepted. It is not safe for concurrent use; the session loop owns it.
type Gate struct {
	cooldown     time.Duration
	sameCodeHold time.Duration

	lastScanAt time.Time
	lastText   string
	lastTextAt time.Time
}

// NewGate creates a gate with the global cooldown and the same-code hold
func NewGate(cooldown, sameCodeHold time.Duration) *Gate {
	return &Gate{
		cooldown:     cooldown,
		sameCodeHold: sameCodeHold,
	}
}

// Accept filters one raw event observed at now. Only accepted events move the
// last-seen fields.
func (g *Gate) Accept(raw string, now time.Time) (Event, bool) {
	text := Normalize(raw)
	if text == "" {
		return Event{}, false
	}

	if !g.lastScanAt.IsZero() && now.Sub(g.lastScanAt) < g.cooldown {
		return Event{}, false
	}

	if text == g.lastText && !g.lastTextAt.IsZero() && now.Sub(g.lastTextAt) < g.sameCodeHold {
		return Event{}, false
	}

	g.lastScanAt = now
	g.lastText = text
	g.lastTextAt = now
	return Event{Text: text, At: now}, true
}

// LastText returns the most recently accepted code
func (g *Gate) LastText() string {
	return g.lastText
}

// Flight allows one lookup at a time. Queries offered while one is out replace
// each other; only the newest survives to run next.
type Flight struct {
	inFlight    bool
	current     string
	pendingNext string
	hasNext     bool
}

// Offer returns true when q should be dispatched now. Otherwise q is parked
// as the next query, overwriting whatever was parked before.
func (f *Flight) Offer(q string) bool {
	if f.inFlight {
		f.pendingNext = q
		f.hasNext = true
		return false
	}
	f.inFlight = true
	f.current = q
	return true
}

// Complete marks the current lookup done. When a query is parked it becomes
// current and is returned for dispatch; the flight stays occupied.
func (f *Flight) Complete() (string, bool) {
	if f.hasNext {
		next := f.pendingNext
		f.pendingNext = ""
		f.hasNext = false
		f.current = next
		f.inFlight = true
		return next, true
	}
	f.inFlight = false
	f.current = ""
	return "", false
}

// Cancel forgets the current and parked queries
func (f *Flight) Cancel() {
	*f = Flight{}
}

// InFlight reports whether a lookup is outstanding
func (f *Flight) InFlight() bool {
	return f.inFlight
}

// Current returns the outstanding query, if any
func (f *Flight) Current() string {
	return f.current
}

// Pending returns the parked query, if any
func (f *Flight) Pending() (string, bool) {
	return f.pendingNext, f.hasNext
}
