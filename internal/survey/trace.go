package survey

import (
	"sync"

	"github.com/TerraScore/TerraScore/internal/location"
)

// TraceRecorder records a boundary walk from a location subscription. Points
// are appended monotonically by timestamp; stopping with fewer than two points
// emits nothing, so a trace step can never complete with a degenerate line.
type TraceRecorder struct {
	mu      sync.Mutex
	points  []GPSPoint
	sub     *location.Subscription
	active  bool
	stopped chan struct{}
	onPoint func(GPSPoint)
}

// NewTraceRecorder creates a recorder. onPoint, when set, observes every
// accepted fix (the session trail feed).
func NewTraceRecorder(onPoint func(GPSPoint)) *TraceRecorder {
	return &TraceRecorder{onPoint: onPoint}
}

// Start begins consuming the subscription. Starting an active recorder is a
// no-op.
func (t *TraceRecorder) Start(sub *location.Subscription) {
	t.mu.Lock()
	if t.active {
		t.mu.Unlock()
		return
	}
	t.active = true
	t.sub = sub
	t.points = nil
	t.stopped = make(chan struct{})
	t.mu.Unlock()

	go t.consume(sub)
}

func (t *TraceRecorder) consume(sub *location.Subscription) {
	defer close(t.stopped)
	for {
		select {
		case <-sub.Done():
			return
		case sample := <-sub.Samples():
			t.append(GPSPoint{
				Lat:       sample.Lat,
				Lng:       sample.Lng,
				Accuracy:  sample.Accuracy,
				Timestamp: sample.Timestamp,
			})
		}
	}
}

func (t *TraceRecorder) append(p GPSPoint) {
	t.mu.Lock()
	if n := len(t.points); n > 0 && p.Timestamp < t.points[n-1].Timestamp {
		t.mu.Unlock()
		return
	}
	t.points = append(t.points, p)
	cb := t.onPoint
	t.mu.Unlock()

	if cb != nil {
		cb(p)
	}
}

// Stop closes the subscription and returns the recorded trace as a GeoJSON
// LineString. ok is false when fewer than two points were recorded.
func (t *TraceRecorder) Stop() (lineString string, ok bool) {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return "", false
	}
	t.active = false
	sub := t.sub
	stopped := t.stopped
	t.sub = nil
	t.mu.Unlock()

	sub.Close()
	<-stopped

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.points) < 2 {
		return "", false
	}
	line, err := TrailLineString(t.points)
	if err != nil {
		return "", false
	}
	return line, true
}

// Points returns a copy of the recorded fixes.
func (t *TraceRecorder) Points() []GPSPoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]GPSPoint(nil), t.points...)
}
