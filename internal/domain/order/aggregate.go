package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/supply-marketplace/internal/apperr"
	"github.com/example/supply-marketplace/internal/domain/pricing"
	"github.com/example/supply-marketplace/internal/infrastructure/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	Collection = "orders"

	maxWriteAttempts = 5
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// Statuses lists every order status.
var Statuses = []Status{StatusPending, StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled}

func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown order status %q", apperr.ErrValidation, s)
}

type PaymentMethod string

const (
	PaymentWallet       PaymentMethod = "wallet"
	PaymentGCash        PaymentMethod = "gcash"
	PaymentPayPal       PaymentMethod = "paypal"
	PaymentBankTransfer PaymentMethod = "bank-transfer"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentWallet, PaymentGCash, PaymentPayPal, PaymentBankTransfer:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

var (
	ErrOrderNotFound  = fmt.Errorf("order %w", apperr.ErrNotFound)
	ErrEmptyOrder     = fmt.Errorf("%w: order must have at least one item", apperr.ErrValidation)
	ErrInvalidStatus  = fmt.Errorf("order: %w", apperr.ErrInvalidStatusTransition)
	ErrOrderCancelled = fmt.Errorf("%w: order is already cancelled", ErrInvalidStatus)
	ErrOrderDelivered = fmt.Errorf("%w: order is already delivered", ErrInvalidStatus)
)

// validTransitions defines allowed state transitions
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
	StatusDelivered:  {}, // terminal state
	StatusCancelled:  {}, // terminal state
}

func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Address struct {
	Street     string `json:"street" validate:"required"`
	City       string `json:"city" validate:"required"`
	Province   string `json:"province" validate:"required"`
	PostalCode string `json:"postalCode" validate:"required"`
}

type Item struct {
	ProductID string          `json:"productId" validate:"required"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	LineTotal decimal.Decimal `json:"lineTotal"`
}

type Payment struct {
	Method        PaymentMethod `json:"method" validate:"required"`
	Status        PaymentStatus `json:"status" validate:"required"`
	TransactionID string        `json:"transactionId,omitempty"`
}

// Order items and pricing are frozen at creation; only Status and
// Payment.Status change afterwards.
type Order struct {
	ID              string            `json:"id" validate:"required"`
	UserID          string            `json:"userId" validate:"required"`
	UserRole        string            `json:"userRole"`
	BuyerEmail      string            `json:"buyerEmail,omitempty"`
	Items           []Item            `json:"items" validate:"required,min=1,dive"`
	Pricing         pricing.Breakdown `json:"pricing"`
	ShippingAddress Address           `json:"shippingAddress"`
	Payment         Payment           `json:"payment"`
	Status          Status            `json:"status" validate:"required"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// CanTransitionTo checks if the order can transition to the target status
func (o *Order) CanTransitionTo(target Status) bool {
	return CanTransition(o.Status, target)
}

// transitionError returns an appropriate error for an invalid transition
func (o *Order) transitionError(target Status) error {
	switch o.Status {
	case StatusCancelled:
		return ErrOrderCancelled
	case StatusDelivered:
		return ErrOrderDelivered
	default:
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidStatus, o.Status, target)
	}
}

func (o *Order) PaidByWallet() bool {
	return o.Payment.Method == PaymentWallet && o.Payment.Status == PaymentPaid
}

type Service struct {
	store store.Store
	now   func() time.Time
}

func NewService(s store.Store) *Service {
	return &Service{store: s, now: time.Now}
}

// NewID returns an id for an order that is about to be paid for, so the
// payment can reference it before the order exists.
func NewID() string {
	return uuid.New().String()
}

// IDForKey derives the order id for a client idempotency key. Retries that
// carry the same key reach the gateway with the same id.
func IDForKey(userID, key string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("checkout/"+userID+"/"+key)).String()
}

// Draft builds a new order; it is not stored until its CreateWrite is committed.
func (s *Service) Draft(id, userID, role, email string, items []Item, breakdown pricing.Breakdown, address Address, payment Payment, status Status) (*Order, error) {
	if len(items) == 0 {
		return nil, ErrEmptyOrder
	}
	now := s.now()
	return &Order{
		ID:              id,
		UserID:          userID,
		UserRole:        role,
		BuyerEmail:      email,
		Items:           items,
		Pricing:         breakdown,
		ShippingAddress: address,
		Payment:         payment,
		Status:          status,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

func CreateWrite(o *Order) store.Write {
	return store.PutWrite(Collection, o.ID, o, store.MustNotExist)
}

func (s *Service) Get(ctx context.Context, orderID string) (*Order, error) {
	o, _, err := s.load(ctx, orderID)
	return o, err
}

// ListByUser returns the user's orders, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Order, error) {
	docs, err := s.store.Query(ctx, store.Query{
		Collection: Collection,
		Filters:    []store.Filter{store.Eq("userId", userID)},
		OrderBy:    "createdAt",
		Desc:       true,
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}
	return store.DecodeAll[Order](docs)
}

// UpdateStatus moves the order to newStatus if the transition table allows it.
// It returns the updated order and the status it had before.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, newStatus Status) (*Order, Status, error) {
	var previous Status
	o, err := s.Mutate(ctx, orderID, func(o *Order) error {
		if !o.CanTransitionTo(newStatus) {
			return o.transitionError(newStatus)
		}
		previous = o.Status
		o.Status = newStatus
		return nil
	})
	return o, previous, err
}

// Mutate applies fn to the stored order and writes it back guarded by the
// version it was read at, retrying when another writer got there first.
func (s *Service) Mutate(ctx context.Context, orderID string, fn func(o *Order) error) (*Order, error) {
	for attempt := 1; ; attempt++ {
		o, version, err := s.load(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if err := fn(o); err != nil {
			return nil, err
		}
		o.UpdatedAt = s.now()

		err = s.store.Commit(ctx, store.PutWrite(Collection, o.ID, o, version))
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt == maxWriteAttempts {
			return nil, err
		}
	}
}

func (s *Service) load(ctx context.Context, orderID string) (*Order, int64, error) {
	doc, err := s.store.Get(ctx, Collection, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, 0, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, 0, err
	}
	o, err := store.Decode[Order](doc)
	if err != nil {
		return nil, 0, err
	}
	return o, doc.Version, nil
}
