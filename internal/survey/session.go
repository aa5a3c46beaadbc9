package survey

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/TerraScore/TerraScore/internal/api"
	"github.com/TerraScore/TerraScore/internal/media"
	"github.com/TerraScore/TerraScore/internal/store"
)

// ErrIncomplete means a required step has no completed response yet.
var ErrIncomplete = errors.New("required steps incomplete")

// Session holds the in-memory state of one survey being filled in: the step
// list, responses, captured media, the GPS trail and the navigation cursor.
// Media ownership transfers to the durable upload queue on enqueue; the
// session copy only tracks step completion.
type Session struct {
	mu         sync.Mutex
	jobID      string
	templateID string
	steps      []Step
	responses  map[string]Response
	mediaQueue []media.Item
	trail      []GPSPoint
	startedAt  time.Time
	cursor     int

	nowFn func() time.Time
}

func NewSession() *Session {
	return &Session{
		responses: map[string]Response{},
		nowFn:     time.Now,
	}
}

// Init resets all state for a new job and records the session start time.
func (s *Session) Init(jobID, templateID string, steps []Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobID = jobID
	s.templateID = templateID
	s.steps = append([]Step(nil), steps...)
	s.responses = map[string]Response{}
	s.mediaQueue = nil
	s.trail = nil
	s.startedAt = s.nowFn().UTC()
	s.cursor = 0
}

// SetResponse replaces the response for a step. Last write wins; the value
// shape is the caller's responsibility.
func (s *Session) SetResponse(stepID string, r Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.StepID = stepID
	s.responses[stepID] = r
}

func (s *Session) AddMedia(item media.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mediaQueue = append(s.mediaQueue, item)
}

// MarkMediaUploaded records the remote key on the first un-uploaded item for
// the step.
func (s *Session) MarkMediaUploaded(stepID, remoteKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.mediaQueue {
		if s.mediaQueue[i].StepID == stepID && !s.mediaQueue[i].Uploaded {
			s.mediaQueue[i].Uploaded = true
			s.mediaQueue[i].RemoteKey = remoteKey
			return
		}
	}
}

func (s *Session) AddGPSPoint(p GPSPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trail = append(s.trail, p)
}

// NextStep and PrevStep move the cursor without wraparound. Step ordering is a
// UI concern; the session only tracks the position requested.
func (s *Session) NextStep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor < len(s.steps)-1 {
		s.cursor++
	}
}

func (s *Session) PrevStep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor > 0 {
		s.cursor--
	}
}

func (s *Session) CurrentStep() (Step, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor < 0 || s.cursor >= len(s.steps) {
		return Step{}, false
	}
	return s.steps[s.cursor], true
}

// IsAllComplete reports whether every required step has a completed response.
// Non-required steps never affect the result.
func (s *Session) IsAllComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, step := range s.steps {
		if !step.Required {
			continue
		}
		if r, ok := s.responses[step.ID]; !ok || !r.Completed {
			return false
		}
	}
	return true
}

// Reset clears everything back to the empty state.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobID = ""
	s.templateID = ""
	s.steps = nil
	s.responses = map[string]Response{}
	s.mediaQueue = nil
	s.trail = nil
	s.startedAt = time.Time{}
	s.cursor = 0
}

func (s *Session) JobID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobID
}

func (s *Session) Media() []media.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]media.Item(nil), s.mediaQueue...)
}

func (s *Session) Trail() []GPSPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]GPSPoint(nil), s.trail...)
}

// Submission builds the remote payload for an online submit. It fails with
// ErrIncomplete when a required step has no completed response; nothing is
// mutated either way.
func (s *Session) Submission() (api.SurveySubmission, error) {
	if !s.IsAllComplete() {
		return api.SurveySubmission{}, ErrIncomplete
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return BuildSubmission(s.templateID, s.responses, s.trail, s.startedAt, s.nowFn())
}

// Draft snapshots the session for durable offline storage.
func (s *Session) Draft() (store.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	responses, err := json.Marshal(s.responses)
	if err != nil {
		return store.Draft{}, err
	}
	trail := s.trail
	if trail == nil {
		trail = []GPSPoint{}
	}
	trailJSON, err := json.Marshal(trail)
	if err != nil {
		return store.Draft{}, err
	}

	return store.Draft{
		JobID:         s.jobID,
		TemplateID:    s.templateID,
		ResponsesJSON: string(responses),
		GPSTrailJSON:  string(trailJSON),
		StartedAt:     s.startedAt,
	}, nil
}

// ParseDraft recovers the response map and trail from a stored draft.
func ParseDraft(d store.Draft) (map[string]Response, []GPSPoint, error) {
	responses := map[string]Response{}
	if err := json.Unmarshal([]byte(d.ResponsesJSON), &responses); err != nil {
		return nil, nil, err
	}
	var trail []GPSPoint
	if err := json.Unmarshal([]byte(d.GPSTrailJSON), &trail); err != nil {
		return nil, nil, err
	}
	return responses, trail, nil
}

// BuildSubmission assembles the survey submit payload. Both the online submit
// path and the draft auto-submit path go through it, so an offline round trip
// produces the same payload as an immediate submission.
func BuildSubmission(templateID string, responses map[string]Response, trail []GPSPoint, startedAt, now time.Time) (api.SurveySubmission, error) {
	line, err := TrailLineString(trail)
	if err != nil {
		return api.SurveySubmission{}, err
	}

	out := make(map[string]any, len(responses))
	for id, r := range responses {
		out[id] = r
	}

	return api.SurveySubmission{
		Responses:       out,
		GPSTrailGeoJSON: line,
		StartedAt:       startedAt.UTC(),
		DurationMinutes: now.Sub(startedAt).Minutes(),
		TemplateID:      templateID,
	}, nil
}
