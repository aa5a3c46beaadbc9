package geofence

import (
	"context"
	"errors"
	"fmt"

	"github.com/TerraScore/TerraScore/internal/api"
	"github.com/TerraScore/TerraScore/internal/location"
	"github.com/TerraScore/TerraScore/internal/shared/geo"
)

// arrivalThresholdM is the radius around the site center inside which the
// survey may begin. The boundary itself counts as inside.
const arrivalThresholdM = 500.0

// ErrOutOfRange means the device is farther from the site than the arrival
// threshold allows.
var ErrOutOfRange = errors.New("outside arrival range")

// ArrivalRejected means the service refused the arrival confirmation, usually
// because its own distance check disagreed with ours. The gate stays open and
// the surveyor can retry from a better fix.
type ArrivalRejected struct {
	Err *api.APIError
}

func (e *ArrivalRejected) Error() string {
	return fmt.Sprintf("arrival rejected: %s", e.Err.Message)
}

func (e *ArrivalRejected) Unwrap() error { return e.Err }

type arrivalConfirmer interface {
	ConfirmArrival(ctx context.Context, jobID string, loc api.LocationUpdate) error
}

// Gate guards the transition from travel to active survey. Confirm succeeds
// only when the device is within range of the site and the service accepts
// the arrival.
type Gate struct {
	client arrivalConfirmer
}

func NewGate(client arrivalConfirmer) *Gate {
	return &Gate{client: client}
}

// DistanceM is the great-circle distance from the sample to the site center.
func DistanceM(s location.Sample, siteLat, siteLng float64) float64 {
	return geo.HaversineM(s.Lat, s.Lng, siteLat, siteLng)
}

// WithinRange reports whether the sample is close enough to begin the survey.
func WithinRange(s location.Sample, siteLat, siteLng float64) bool {
	return DistanceM(s, siteLat, siteLng) <= arrivalThresholdM
}

// Confirm checks the local distance gate, then reports arrival to the
// service. A local miss returns ErrOutOfRange without a network call. A 4xx
// rejection comes back as *ArrivalRejected; both are recoverable and leave
// the gate operational.
func (g *Gate) Confirm(ctx context.Context, jobID string, s location.Sample, siteLat, siteLng float64) error {
	if !WithinRange(s, siteLat, siteLng) {
		return ErrOutOfRange
	}
	err := g.client.ConfirmArrival(ctx, jobID, api.LocationUpdate{
		Lat:      s.Lat,
		Lng:      s.Lng,
		Accuracy: s.Accuracy,
	})
	if err != nil {
		var apiErr *api.APIError
		if errors.As(err, &apiErr) && apiErr.IsClientError() {
			return &ArrivalRejected{Err: apiErr}
		}
		return err
	}
	return nil
}
