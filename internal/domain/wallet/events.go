package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

const AggregateType = "Wallet"

const (
	EventWalletCredited = "WalletCredited"
	EventWalletDebited  = "WalletDebited"
)

type BalanceChanged struct {
	TransactionID  string          `json:"transaction_id"`
	UserID         string          `json:"user_id"`
	Amount         decimal.Decimal `json:"amount"`
	BalanceAfter   decimal.Decimal `json:"balance_after"`
	RelatedOrderID string          `json:"related_order_id,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// EventType names the event a transaction of this type publishes.
func (t TxType) EventType() string {
	if t == TxDebit {
		return EventWalletDebited
	}
	return EventWalletCredited
}

func (tx *Transaction) Changed() BalanceChanged {
	return BalanceChanged{
		TransactionID:  tx.ID,
		UserID:         tx.UserID,
		Amount:         tx.Amount,
		BalanceAfter:   tx.BalanceAfter,
		RelatedOrderID: tx.RelatedOrderID,
		OccurredAt:     tx.CreatedAt,
	}
}
