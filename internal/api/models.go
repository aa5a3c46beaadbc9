package api

import "time"

// Template is the ordered step list for a job's survey.
type Template struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	SurveyType string `json:"survey_type"`
	Version    int    `json:"version,omitempty"`
	Steps      []Step `json:"steps"`
}

type Step struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"` // photo, video, checklist, gps_trace
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required"`
	Options     []string `json:"options,omitempty"`
}

// Offer is a time-bounded job proposal. Transient: refreshed on push or poll.
type Offer struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	OfferRank  int       `json:"offer_rank"`
	DistanceKm float64   `json:"distance_km"`
	Status     string    `json:"status,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// PresignedURL is a short-lived direct upload destination.
type PresignedURL struct {
	UploadURL string `json:"upload_url"`
	RemoteKey string `json:"remote_key"`
	ExpiresIn int    `json:"expires_in"`
}

// MediaRegistration records an already-transferred object with the service.
type MediaRegistration struct {
	RemoteKey   string    `json:"remote_key"`
	StepID      string    `json:"step_id"`
	MediaType   string    `json:"media_type"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Accuracy    float64   `json:"accuracy"`
	ContentHash string    `json:"content_hash"`
	ByteSize    int64     `json:"byte_size"`
	CapturedAt  time.Time `json:"captured_at"`
}

type Media struct {
	ID         string    `json:"id"`
	RemoteKey  string    `json:"remote_key"`
	StepID     string    `json:"step_id"`
	MediaType  string    `json:"media_type"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// SurveySubmission is the survey submit payload.
type SurveySubmission struct {
	Responses       map[string]any `json:"responses"`
	GPSTrailGeoJSON string         `json:"gps_trail_geojson"`
	StartedAt       time.Time      `json:"started_at"`
	DurationMinutes float64        `json:"duration_minutes"`
	TemplateID      string         `json:"template_id"`
}

type LocationUpdate struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy"`
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
}
