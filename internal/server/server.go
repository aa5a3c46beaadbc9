package server

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/TerraScore/TerraScore/internal/api"
	"github.com/TerraScore/TerraScore/internal/geofence"
	"github.com/TerraScore/TerraScore/internal/location"
	"github.com/TerraScore/TerraScore/internal/media"
	"github.com/TerraScore/TerraScore/internal/store"
)

// Orchestrator is the sync trigger surface the server exposes over HTTP.
type Orchestrator interface {
	RunSync(ctx context.Context) bool
	Running() bool
}

type statusMonitor interface {
	Online() bool
}

// offerFeed is the offer channel surface reported by /status.
type offerFeed interface {
	State() string
	Offers() []api.Offer
	Resume()
}

type arrivalGate interface {
	Confirm(ctx context.Context, jobID string, s location.Sample, siteLat, siteLng float64) error
}

// locationSink receives position fixes pushed by the platform layer.
type locationSink interface {
	Push(location.Sample) bool
}

type mediaCapturer interface {
	Capture(stepID, srcPath string, lat, lng float64) (media.Item, error)
}

// Server is the local status and control plane: health, queue visibility,
// position ingest, and a manual sync trigger. It binds to loopback; there
// is no auth.
type Server struct {
	App      *fiber.App
	store    *store.Store
	monitor  statusMonitor
	offers   offerFeed
	sync     Orchestrator
	gate     arrivalGate
	sink     locationSink
	capturer mediaCapturer
}

func NewServer(st *store.Store, monitor statusMonitor, offers offerFeed, sync Orchestrator, gate arrivalGate, sink locationSink, capturer mediaCapturer) *Server {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{App: app, store: st, monitor: monitor, offers: offers, sync: sync, gate: gate, sink: sink, capturer: capturer}
	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.App.Get("/status", s.handleStatus)
	s.App.Get("/offers", s.handleOffers)
	s.App.Post("/sync", s.handleSync)
	s.App.Post("/location", s.handleLocation)
	s.App.Post("/arrive", s.handleArrive)
	s.App.Post("/capture", s.handleCapture)
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	counts, err := s.store.QueueCounts(c.Context())
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	drafts, err := s.store.DraftCount(c.Context())
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(fiber.Map{
		"online":       s.monitor.Online(),
		"offer_feed":   s.offers.State(),
		"offers":       len(s.offers.Offers()),
		"sync_running": s.sync.Running(),
		"queue":        counts,
		"drafts":       drafts,
	})
}

func (s *Server) handleOffers(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"offers": s.offers.Offers()})
}

// handleSync kicks a pass in the background and resumes the offer feed. The
// pass itself decides whether it actually runs; an in-flight pass makes this
// a no-op.
func (s *Server) handleSync(c *fiber.Ctx) error {
	go s.sync.RunSync(context.Background())
	go s.offers.Resume()
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "triggered"})
}

type locationRequest struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp int64   `json:"timestamp"`
}

// handleLocation ingests one position fix from the platform layer.
func (s *Server) handleLocation(c *fiber.Ctx) error {
	var req locationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	ok := s.sink.Push(location.Sample{
		Lat:       req.Lat,
		Lng:       req.Lng,
		Accuracy:  req.Accuracy,
		Timestamp: req.Timestamp,
	})
	if !ok {
		return fiber.NewError(fiber.StatusConflict, "location stream closed")
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "buffered"})
}

type arriveRequest struct {
	JobID    string  `json:"job_id"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy"`
	SiteLat  float64 `json:"site_lat"`
	SiteLng  float64 `json:"site_lng"`
}

// handleArrive runs the arrival gate for a job. Out-of-range and service
// rejections come back as 422 so the caller can retry from a better fix.
func (s *Server) handleArrive(c *fiber.Ctx) error {
	var req arriveRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if req.JobID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "job_id required")
	}

	sample := location.Sample{Lat: req.Lat, Lng: req.Lng, Accuracy: req.Accuracy}
	err := s.gate.Confirm(c.Context(), req.JobID, sample, req.SiteLat, req.SiteLng)

	var rejected *geofence.ArrivalRejected
	switch {
	case err == nil:
		return c.JSON(fiber.Map{"status": "arrived", "distance_m": geofence.DistanceM(sample, req.SiteLat, req.SiteLng)})
	case errors.Is(err, geofence.ErrOutOfRange):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":      "out_of_range",
			"distance_m": geofence.DistanceM(sample, req.SiteLat, req.SiteLng),
		})
	case errors.As(err, &rejected):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": rejected.Err.Code})
	default:
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
}

type captureRequest struct {
	JobID      string  `json:"job_id"`
	StepID     string  `json:"step_id"`
	SourcePath string  `json:"source_path"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
}

// handleCapture copies a platform-recorded file into managed media storage
// and queues it for upload. The source file stays untouched.
func (s *Server) handleCapture(c *fiber.Ctx) error {
	var req captureRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if req.JobID == "" || req.StepID == "" || req.SourcePath == "" {
		return fiber.NewError(fiber.StatusBadRequest, "job_id, step_id and source_path required")
	}

	item, err := s.capturer.Capture(req.StepID, req.SourcePath, req.Lat, req.Lng)
	if err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	}

	id, err := s.store.EnqueueUpload(c.Context(), store.UploadTask{
		JobID:       req.JobID,
		StepID:      item.StepID,
		FilePath:    item.URI,
		ContentType: item.ContentType,
		ContentHash: item.ContentHash,
		ByteSize:    item.ByteSize,
		Lat:         item.Lat,
		Lng:         item.Lng,
		CapturedAt:  item.CapturedAt,
	})
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"task_id":      id,
		"content_hash": item.ContentHash,
		"media_type":   item.MediaType(),
	})
}
