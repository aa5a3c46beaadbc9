package survey

import "encoding/json"

// Step kinds.
const (
	KindChecklist = "checklist"
	KindPhoto     = "photo"
	KindVideo     = "video"
	KindGPSTrace  = "gps_trace"
)

// Step is one entry in a job's survey template. Templates are immutable for
// the lifetime of a session.
type Step struct {
	ID          string   `json:"id"`
	Kind        string   `json:"kind"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required"`
	Options     []string `json:"options,omitempty"`
}

// Response is the answer recorded for one step. Value shape depends on Kind:
// a checklist answer string, a media descriptor, or a serialized trace.
type Response struct {
	StepID    string `json:"step_id"`
	Kind      string `json:"kind"`
	Value     any    `json:"value"`
	Completed bool   `json:"completed"`
}

// GPSPoint is one fix in the boundary trace, appended in capture order.
type GPSPoint struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp int64   `json:"timestamp"` // unix milliseconds
}

// TrailLineString serializes a trail as a GeoJSON LineString. Coordinates are
// [lng, lat] pairs in trail order.
func TrailLineString(trail []GPSPoint) (string, error) {
	coords := make([][2]float64, 0, len(trail))
	for _, p := range trail {
		coords = append(coords, [2]float64{p.Lng, p.Lat})
	}
	raw, err := json.Marshal(struct {
		Type        string       `json:"type"`
		Coordinates [][2]float64 `json:"coordinates"`
	}{Type: "LineString", Coordinates: coords})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
