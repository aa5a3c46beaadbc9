package survey

import (
	"strings"
	"testing"
	"time"

	"github.com/TerraScore/TerraScore/internal/location"
)

func waitForPoints(t *testing.T, rec *TraceRecorder, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(rec.Points()) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("recorder never saw %d points, have %d", n, len(rec.Points()))
}

func TestTraceRecorderTooFewPoints(t *testing.T) {
	rec := NewTraceRecorder(nil)
	sub := location.NewSubscription(8)
	rec.Start(sub)

	sub.Push(location.Sample{Lat: 1, Lng: 2, Timestamp: 100})
	waitForPoints(t, rec, 1)

	if line, ok := rec.Stop(); ok {
		t.Fatalf("single point must not produce a trace, got %s", line)
	}
}

func TestTraceRecorderEmitsLineString(t *testing.T) {
	var seen []GPSPoint
	rec := NewTraceRecorder(func(p GPSPoint) { seen = append(seen, p) })
	sub := location.NewSubscription(8)
	rec.Start(sub)

	sub.Push(location.Sample{Lat: 10, Lng: 20, Timestamp: 100})
	sub.Push(location.Sample{Lat: 11, Lng: 21, Timestamp: 200})
	sub.Push(location.Sample{Lat: 12, Lng: 22, Timestamp: 300})
	waitForPoints(t, rec, 3)

	line, ok := rec.Stop()
	if !ok {
		t.Fatalf("expected a trace")
	}
	want := `"coordinates":[[20,10],[21,11],[22,12]]`
	if !strings.Contains(line, want) {
		t.Fatalf("expected %s in %s", want, line)
	}
	if len(seen) != 3 {
		t.Fatalf("onPoint should see every accepted fix, got %d", len(seen))
	}
}

func TestTraceRecorderRejectsTimestampRegression(t *testing.T) {
	rec := NewTraceRecorder(nil)
	sub := location.NewSubscription(8)
	rec.Start(sub)

	sub.Push(location.Sample{Lat: 1, Lng: 1, Timestamp: 200})
	waitForPoints(t, rec, 1)
	sub.Push(location.Sample{Lat: 2, Lng: 2, Timestamp: 100}) // stale fix
	sub.Push(location.Sample{Lat: 3, Lng: 3, Timestamp: 300})
	waitForPoints(t, rec, 2)

	points := rec.Points()
	if len(points) != 2 || points[1].Timestamp != 300 {
		t.Fatalf("stale fix must be dropped, got %+v", points)
	}
	rec.Stop()
}

func TestTraceRecorderStartWhileActiveIsNoop(t *testing.T) {
	rec := NewTraceRecorder(nil)
	sub := location.NewSubscription(8)
	rec.Start(sub)

	other := location.NewSubscription(8)
	rec.Start(other) // ignored

	sub.Push(location.Sample{Lat: 1, Lng: 1, Timestamp: 100})
	waitForPoints(t, rec, 1)
	rec.Stop()

	if !other.Push(location.Sample{}) {
		t.Fatalf("second subscription must be untouched")
	}
}

func TestTraceRecorderStopWithoutStart(t *testing.T) {
	rec := NewTraceRecorder(nil)
	if _, ok := rec.Stop(); ok {
		t.Fatalf("stop before start must report no trace")
	}
}
