package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/supply-marketplace/internal/apperr"
	"github.com/example/supply-marketplace/internal/infrastructure/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	Collection             = "wallets"
	TransactionsCollection = "wallet_transactions"
)

var (
	ErrInvalidAmount     = fmt.Errorf("%w: amount must be positive", apperr.ErrValidation)
	ErrInvalidUser       = fmt.Errorf("%w: userId is required", apperr.ErrValidation)
	ErrInsufficientFunds = fmt.Errorf("wallet: %w", apperr.ErrInsufficientFunds)
	ErrLedgerMismatch    = errors.New("wallet balance does not match its transactions")
)

type TxType string

const (
	TxCredit TxType = "credit"
	TxDebit  TxType = "debit"
)

// Transaction is an append-only ledger entry.
type Transaction struct {
	ID             string          `json:"id" validate:"required"`
	UserID         string          `json:"userId" validate:"required"`
	Type           TxType          `json:"type" validate:"oneof=credit debit"`
	Amount         decimal.Decimal `json:"amount"`
	RelatedOrderID string          `json:"relatedOrderId,omitempty"`
	Description    string          `json:"description,omitempty"`
	BalanceAfter   decimal.Decimal `json:"balanceAfter"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// account is the stored wallet document; its version guards every balance change.
type account struct {
	UserID    string          `json:"userId" validate:"required"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency" validate:"required"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type Wallet struct {
	UserID       string          `json:"userId"`
	Balance      decimal.Decimal `json:"balance"`
	Currency     string          `json:"currency"`
	Transactions []Transaction   `json:"transactions"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

type Summary struct {
	Balance          decimal.Decimal `json:"balance"`
	TotalEarnings    decimal.Decimal `json:"totalEarnings"`
	TotalSpent       decimal.Decimal `json:"totalSpent"`
	TransactionCount int             `json:"transactionCount"`
}

type Service struct {
	store       store.Store
	currency    string
	logger      *zap.Logger
	now         func() time.Time
	maxAttempts int
	backoff     time.Duration
}

type Option func(*Service)

// WithRetry sets how many times a balance update is retried after losing a
// compare-and-swap race, and the base delay between attempts.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(s *Service) {
		s.maxAttempts = attempts
		s.backoff = backoff
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(s store.Store, currency string, logger *zap.Logger, opts ...Option) *Service {
	svc := &Service{
		store:       s,
		currency:    currency,
		logger:      logger.Named("wallet"),
		now:         time.Now,
		maxAttempts: 5,
		backoff:     10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// GetWallet returns the wallet with its transactions, newest first. A zero
// balance wallet is created on first access.
func (s *Service) GetWallet(ctx context.Context, userID string) (*Wallet, error) {
	acct, _, err := s.account(ctx, userID)
	if err != nil {
		return nil, err
	}
	txs, err := s.transactions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Wallet{
		UserID:       acct.UserID,
		Balance:      acct.Balance,
		Currency:     acct.Currency,
		Transactions: txs,
		CreatedAt:    acct.CreatedAt,
		UpdatedAt:    acct.UpdatedAt,
	}, nil
}

func (s *Service) HasSufficientBalance(ctx context.Context, userID string, amount decimal.Decimal) (bool, error) {
	if !amount.IsPositive() {
		return false, ErrInvalidAmount
	}
	acct, _, err := s.account(ctx, userID)
	if err != nil {
		return false, err
	}
	return acct.Balance.GreaterThanOrEqual(amount), nil
}

// Debit removes amount from the balance. The funds check and the balance
// update are one compare-and-swap commit, so concurrent debits cannot both
// spend the same balance.
func (s *Service) Debit(ctx context.Context, userID string, amount decimal.Decimal, relatedOrderID, description string) (*Transaction, error) {
	return s.apply(ctx, "", userID, TxDebit, amount, relatedOrderID, description)
}

func (s *Service) Credit(ctx context.Context, userID string, amount decimal.Decimal, relatedOrderID, description string) (*Transaction, error) {
	return s.apply(ctx, "", userID, TxCredit, amount, relatedOrderID, description)
}

// RefundOrder credits amount back for orderID. The transaction id is derived
// from the order, so repeating a refund returns the original transaction.
func (s *Service) RefundOrder(ctx context.Context, userID string, amount decimal.Decimal, orderID, description string) (*Transaction, error) {
	if orderID == "" {
		return nil, fmt.Errorf("%w: orderId is required for a refund", apperr.ErrValidation)
	}
	return s.apply(ctx, RefundTransactionID(orderID), userID, TxCredit, amount, orderID, description)
}

func RefundTransactionID(orderID string) string {
	return "refund-" + orderID
}

func (s *Service) GetWalletSummary(ctx context.Context, userID string) (*Summary, error) {
	w, err := s.GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	summary := &Summary{
		Balance:          w.Balance,
		TotalEarnings:    decimal.Zero,
		TotalSpent:       decimal.Zero,
		TransactionCount: len(w.Transactions),
	}
	for _, tx := range w.Transactions {
		switch tx.Type {
		case TxCredit:
			summary.TotalEarnings = summary.TotalEarnings.Add(tx.Amount)
		case TxDebit:
			summary.TotalSpent = summary.TotalSpent.Add(tx.Amount)
		}
	}
	return summary, nil
}

// VerifyBalance checks that the stored balance equals credits minus debits.
func (s *Service) VerifyBalance(ctx context.Context, userID string) error {
	summary, err := s.GetWalletSummary(ctx, userID)
	if err != nil {
		return err
	}
	computed := summary.TotalEarnings.Sub(summary.TotalSpent)
	if !computed.Equal(summary.Balance) {
		return fmt.Errorf("%w: user %s balance %s, transactions sum to %s",
			ErrLedgerMismatch, userID, summary.Balance, computed)
	}
	return nil
}

func (s *Service) apply(ctx context.Context, txID, userID string, typ TxType, amount decimal.Decimal, relatedOrderID, description string) (*Transaction, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	for attempt := 1; ; attempt++ {
		if txID != "" {
			if existing, err := s.transaction(ctx, txID); err == nil {
				return existing, nil
			} else if !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
		}

		acct, version, err := s.account(ctx, userID)
		if err != nil {
			return nil, err
		}

		balance := acct.Balance
		switch typ {
		case TxDebit:
			if balance.LessThan(amount) {
				return nil, fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientFunds, balance, amount)
			}
			balance = balance.Sub(amount)
		case TxCredit:
			balance = balance.Add(amount)
		}

		now := s.now()
		tx := Transaction{
			ID:             txID,
			UserID:         userID,
			Type:           typ,
			Amount:         amount,
			RelatedOrderID: relatedOrderID,
			Description:    description,
			BalanceAfter:   balance,
			CreatedAt:      now,
		}
		if tx.ID == "" {
			tx.ID = uuid.New().String()
		}
		acct.Balance = balance
		acct.UpdatedAt = now

		err = s.store.Commit(ctx,
			store.PutWrite(Collection, userID, acct, version),
			store.PutWrite(TransactionsCollection, tx.ID, tx, store.MustNotExist),
		)
		if err == nil {
			s.logger.Info("wallet transaction applied",
				zap.String("userId", userID),
				zap.String("type", string(typ)),
				zap.String("amount", amount.String()),
				zap.String("balance", balance.String()),
				zap.String("orderId", relatedOrderID))
			return &tx, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, err
		}
		if attempt >= s.maxAttempts {
			s.logger.Warn("wallet update gave up after conflicts",
				zap.String("userId", userID), zap.Int("attempts", attempt))
			return nil, fmt.Errorf("wallet %s: %w", userID, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * s.backoff):
		}
	}
}

func (s *Service) account(ctx context.Context, userID string) (*account, int64, error) {
	if userID == "" {
		return nil, 0, ErrInvalidUser
	}
	for {
		doc, err := s.store.Get(ctx, Collection, userID)
		if err == nil {
			acct, err := store.Decode[account](doc)
			if err != nil {
				return nil, 0, err
			}
			return acct, doc.Version, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, 0, err
		}

		now := s.now()
		acct := account{
			UserID:    userID,
			Balance:   decimal.Zero,
			Currency:  s.currency,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = s.store.Commit(ctx, store.PutWrite(Collection, userID, acct, store.MustNotExist))
		if err == nil {
			s.logger.Info("wallet created", zap.String("userId", userID))
			return &acct, 1, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, 0, err
		}
		// Lost the creation race; read the winner's document.
	}
}

func (s *Service) transaction(ctx context.Context, txID string) (*Transaction, error) {
	doc, err := s.store.Get(ctx, TransactionsCollection, txID)
	if err != nil {
		return nil, err
	}
	return store.Decode[Transaction](doc)
}

func (s *Service) transactions(ctx context.Context, userID string) ([]Transaction, error) {
	docs, err := s.store.Query(ctx, store.Query{
		Collection: TransactionsCollection,
		Filters:    []store.Filter{store.Eq("userId", userID)},
		OrderBy:    "createdAt",
		Desc:       true,
	})
	if err != nil {
		return nil, err
	}
	txs, err := store.DecodeAll[Transaction](docs)
	if err != nil {
		return nil, err
	}
	out := make([]Transaction, len(txs))
	for i, tx := range txs {
		out[i] = *tx
	}
	return out, nil
}
