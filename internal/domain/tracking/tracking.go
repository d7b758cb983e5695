package tracking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/example/supply-marketplace/internal/apperr"
	"github.com/example/supply-marketplace/internal/domain/order"
	"github.com/example/supply-marketplace/internal/infrastructure/store"
)

const (
	Collection = "order_tracking"

	maxAppendAttempts = 5
)

var (
	ErrMissingStatus   = fmt.Errorf("%w: tracking status is required", apperr.ErrValidation)
	ErrMissingLocation = fmt.Errorf("%w: tracking location is required", apperr.ErrValidation)
	ErrOutOfOrder      = fmt.Errorf("tracking: %w", apperr.ErrOutOfOrderEvent)
)

type Coordinates struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

type Event struct {
	Status      string       `json:"status" validate:"required"`
	Location    string       `json:"location" validate:"required"`
	Timestamp   time.Time    `json:"timestamp"`
	Notes       string       `json:"notes,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

// record is the stored tracking document, one per order.
type record struct {
	OrderID string  `json:"orderId" validate:"required"`
	Events  []Event `json:"events" validate:"dive"`
}

type Timeline struct {
	OrderID      string  `json:"orderId"`
	Events       []Event `json:"events"`
	CurrentPhase string  `json:"currentPhase,omitempty"`
}

type Service struct {
	store  store.Store
	orders *order.Service
	now    func() time.Time
}

func NewService(s store.Store, orders *order.Service) *Service {
	return &Service{store: s, orders: orders, now: time.Now}
}

// WithClock replaces the clock used to stamp events.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// AppendTrackingEvent stamps a new event with the current time and appends it
// to the order's timeline. The timeline document is written at the version it
// was read at, so concurrent appends are applied one after another.
func (s *Service) AppendTrackingEvent(ctx context.Context, orderID, status, location, notes string, coords *Coordinates) (*Event, error) {
	status = strings.TrimSpace(status)
	location = strings.TrimSpace(location)
	if status == "" {
		return nil, ErrMissingStatus
	}
	if location == "" {
		return nil, ErrMissingLocation
	}
	if coords != nil && (coords.Lat < -90 || coords.Lat > 90 || coords.Lng < -180 || coords.Lng > 180) {
		return nil, apperr.Validation("coordinates out of range")
	}
	if _, err := s.orders.Get(ctx, orderID); err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		rec, version, err := s.load(ctx, orderID)
		if err != nil {
			return nil, err
		}

		ev := Event{
			Status:      status,
			Location:    location,
			Timestamp:   s.now().UTC(),
			Notes:       notes,
			Coordinates: coords,
		}
		if n := len(rec.Events); n > 0 && ev.Timestamp.Before(rec.Events[n-1].Timestamp) {
			return nil, fmt.Errorf("%w: %s is before the latest event at %s",
				ErrOutOfOrder, ev.Timestamp.Format(time.RFC3339Nano), rec.Events[n-1].Timestamp.Format(time.RFC3339Nano))
		}
		rec.Events = append(rec.Events, ev)

		err = s.store.Commit(ctx, store.PutWrite(Collection, orderID, rec, version))
		if err == nil {
			return &ev, nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt == maxAppendAttempts {
			return nil, err
		}
	}
}

// GetTrackingTimeline returns the order's events oldest first. An order with
// no events yet has an empty timeline.
func (s *Service) GetTrackingTimeline(ctx context.Context, orderID string) (*Timeline, error) {
	if _, err := s.orders.Get(ctx, orderID); err != nil {
		return nil, err
	}
	rec, _, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}

	events := rec.Events
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	tl := &Timeline{OrderID: orderID, Events: events}
	if n := len(events); n > 0 {
		tl.CurrentPhase = events[n-1].Status
	}
	return tl, nil
}

func (s *Service) load(ctx context.Context, orderID string) (*record, int64, error) {
	doc, err := s.store.Get(ctx, Collection, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return &record{OrderID: orderID, Events: []Event{}}, store.MustNotExist, nil
	}
	if err != nil {
		return nil, 0, err
	}
	rec, err := store.Decode[record](doc)
	if err != nil {
		return nil, 0, err
	}
	return rec, doc.Version, nil
}
