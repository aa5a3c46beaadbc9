package location

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/TerraScore/TerraScore/internal/store"
)

// Sample is one position fix from a source.
type Sample struct {
	Lat       float64
	Lng       float64
	Accuracy  float64
	Timestamp int64 // unix milliseconds
}

// Source provides position fixes: the platform GPS, a replay file, or a fake.
type Source interface {
	Watch(ctx context.Context) (*Subscription, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) (*Subscription, error)

func (f SourceFunc) Watch(ctx context.Context) (*Subscription, error) { return f(ctx) }

// Subscription is a cancellable stream of position fixes. Producers Push,
// consumers range over Samples and honor Done; Close is idempotent.
type Subscription struct {
	ch   chan Sample
	done chan struct{}
	once sync.Once
}

func NewSubscription(buffer int) *Subscription {
	return &Subscription{
		ch:   make(chan Sample, buffer),
		done: make(chan struct{}),
	}
}

func (s *Subscription) Samples() <-chan Sample { return s.ch }

func (s *Subscription) Done() <-chan struct{} { return s.done }

// Push delivers a fix to the consumer. It reports false once the subscription
// is closed. A lagging consumer drops fixes rather than blocking the producer.
func (s *Subscription) Push(sample Sample) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- sample:
	default:
	}
	return true
}

func (s *Subscription) Close() {
	s.once.Do(func() { close(s.done) })
}

// Recorder drains a subscription into the durable location buffer, where the
// sync pass later flushes the freshest fix to the service.
type Recorder struct {
	store *store.Store
	log   *logrus.Logger
}

func NewRecorder(st *store.Store, log *logrus.Logger) *Recorder {
	return &Recorder{store: st, log: log}
}

// Run consumes the subscription until it is closed or the context ends.
func (r *Recorder) Run(ctx context.Context, sub *Subscription) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case sample := <-sub.Samples():
			err := r.store.BufferLocation(ctx, store.LocationSample{
				Lat:       sample.Lat,
				Lng:       sample.Lng,
				Accuracy:  sample.Accuracy,
				Timestamp: sample.Timestamp,
			})
			if err != nil {
				r.log.WithError(err).Warn("buffer location failed")
			}
		}
	}
}
