package payment

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/example/supply-marketplace/internal/apperr"
	"github.com/guonaihong/gout"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrDeclined = fmt.Errorf("%w: charge declined", apperr.ErrPaymentFailed)
	ErrTimeout  = fmt.Errorf("gateway: %w", apperr.ErrPaymentTimeout)
)

// Charge statuses reported by gateways, synchronously or through the webhook.
const (
	StatusCaptured = "captured"
	StatusPending  = "pending"
	StatusDenied   = "denied"
	StatusRefunded = "refunded"
)

type ChargeRequest struct {
	Amount   decimal.Decimal   `json:"amount"`
	Currency string            `json:"currency"`
	Method   string            `json:"method"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type ChargeResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
}

// Captured reports whether the money was taken synchronously.
func (r *ChargeResult) Captured() bool {
	return r.Success && r.Status == StatusCaptured
}

// Gateway is an external payment provider.
type Gateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// HTTPGateway calls a provider's REST API.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	logger  *zap.Logger
}

func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *HTTPGateway {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPGateway{baseURL: baseURL, apiKey: apiKey, timeout: timeout, logger: logger.Named("gateway")}
}

func (g *HTTPGateway) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var (
		res  ChargeResult
		code int
	)
	err := gout.POST(g.baseURL + "/charges").
		WithContext(ctx).
		SetHeader(gout.H{
			"Authorization":   "Bearer " + g.apiKey,
			"Idempotency-Key": req.Metadata["orderId"],
		}).
		SetJSON(req).
		BindJSON(&res).
		Code(&code).
		Do()
	if err != nil {
		if isTimeout(ctx, err) {
			g.logger.Warn("charge timed out", zap.String("method", req.Method), zap.Duration("timeout", g.timeout))
			return nil, fmt.Errorf("%w after %s", ErrTimeout, g.timeout)
		}
		return nil, fmt.Errorf("%w: %v", apperr.ErrUnavailable, err)
	}

	switch {
	case code >= 500:
		return nil, fmt.Errorf("%w: gateway returned %d", apperr.ErrUnavailable, code)
	case code >= 400 || !res.Success:
		g.logger.Info("charge declined", zap.Int("code", code), zap.String("reason", res.Error))
		msg := res.Error
		if msg == "" {
			msg = fmt.Sprintf("gateway returned %d", code)
		}
		return nil, fmt.Errorf("%w: %s", ErrDeclined, msg)
	case res.TransactionID == "":
		return nil, fmt.Errorf("%w: gateway returned no transaction id", apperr.ErrPaymentFailed)
	}
	if res.Status == "" {
		res.Status = StatusCaptured
	}
	return &res, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Fake is an in-process Gateway for development and tests.
type Fake struct {
	mu     sync.Mutex
	Result ChargeResult
	Err    error
	Delay  time.Duration
	Calls  []ChargeRequest
}

// NewFake returns a gateway that captures every charge.
func NewFake() *Fake {
	return &Fake{Result: ChargeResult{Success: true, TransactionID: "fake-tx", Status: StatusCaptured}}
}

func (f *Fake) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, req)
	res, err, delay := f.Result, f.Err, f.Delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ErrTimeout
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fmt.Errorf("%w: %s", ErrDeclined, res.Error)
	}
	return &res, nil
}

func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}
