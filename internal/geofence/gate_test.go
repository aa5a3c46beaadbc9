package geofence

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/TerraScore/TerraScore/internal/api"
	"github.com/TerraScore/TerraScore/internal/location"
)

// sampleAtDistance places a fix the given number of meters due north of the
// site, using the same sphere radius the distance check uses. The tiny inward
// bias keeps float rounding from pushing a boundary fix past the threshold.
func sampleAtDistance(siteLat, siteLng, meters float64) location.Sample {
	dLat := meters * (1 - 1e-12) / (6371000 * math.Pi / 180)
	return location.Sample{Lat: siteLat + dLat, Lng: siteLng, Accuracy: 5}
}

type fakeConfirmer struct {
	err    error
	called int
	jobID  string
	loc    api.LocationUpdate
}

func (f *fakeConfirmer) ConfirmArrival(_ context.Context, jobID string, loc api.LocationUpdate) error {
	f.called++
	f.jobID = jobID
	f.loc = loc
	return f.err
}

func TestWithinRangeBoundary(t *testing.T) {
	const siteLat, siteLng = -6.2, 106.8

	cases := []struct {
		name   string
		meters float64
		want   bool
	}{
		{"well inside", 100, true},
		{"just inside", 499, true},
		{"exactly at threshold", 500, true},
		{"just outside", 501, false},
		{"far away", 5000, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := sampleAtDistance(siteLat, siteLng, tc.meters)
			if got := WithinRange(s, siteLat, siteLng); got != tc.want {
				t.Fatalf("at %.0fm: got %v, want %v (distance %.2fm)",
					tc.meters, got, tc.want, DistanceM(s, siteLat, siteLng))
			}
		})
	}
}

func TestConfirmOutOfRangeSkipsNetwork(t *testing.T) {
	fake := &fakeConfirmer{}
	gate := NewGate(fake)

	s := sampleAtDistance(10, 20, 800)
	err := gate.Confirm(context.Background(), "job-1", s, 10, 20)
	if !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if fake.called != 0 {
		t.Fatalf("out-of-range confirm must not hit the service")
	}
}

func TestConfirmForwardsLocation(t *testing.T) {
	fake := &fakeConfirmer{}
	gate := NewGate(fake)

	s := sampleAtDistance(10, 20, 50)
	if err := gate.Confirm(context.Background(), "job-1", s, 10, 20); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if fake.jobID != "job-1" || fake.loc.Lat != s.Lat || fake.loc.Accuracy != 5 {
		t.Fatalf("unexpected call: job=%s loc=%+v", fake.jobID, fake.loc)
	}
}

func TestConfirmRejectionIsRecoverable(t *testing.T) {
	fake := &fakeConfirmer{err: &api.APIError{Status: 422, Code: "too_far", Message: "not at site"}}
	gate := NewGate(fake)

	s := sampleAtDistance(10, 20, 50)
	err := gate.Confirm(context.Background(), "job-1", s, 10, 20)

	var rejected *ArrivalRejected
	if !errors.As(err, &rejected) {
		t.Fatalf("expected ArrivalRejected, got %v", err)
	}
	if rejected.Err.Code != "too_far" {
		t.Fatalf("expected service error to surface, got %+v", rejected.Err)
	}

	// the gate still works after a rejection
	fake.err = nil
	if err := gate.Confirm(context.Background(), "job-1", s, 10, 20); err != nil {
		t.Fatalf("confirm after rejection: %v", err)
	}
}

func TestConfirmServerErrorPassesThrough(t *testing.T) {
	fake := &fakeConfirmer{err: &api.APIError{Status: 503, Code: "unavailable", Message: "down"}}
	gate := NewGate(fake)

	s := sampleAtDistance(10, 20, 50)
	err := gate.Confirm(context.Background(), "job-1", s, 10, 20)

	var rejected *ArrivalRejected
	if errors.As(err, &rejected) {
		t.Fatalf("5xx must not be treated as a rejection")
	}
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 503 {
		t.Fatalf("expected 503 to pass through, got %v", err)
	}
}
