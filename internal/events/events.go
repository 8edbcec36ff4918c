package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DepositCredited struct {
	AccountID    uuid.UUID       `json:"account_id"`
	DepositID    uuid.UUID       `json:"deposit_id"`
	Reference    string          `json:"reference"`
	DepositType  string          `json:"deposit_type"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// PurchaseSettled is published on purchase.completed and purchase.refunded.
type PurchaseSettled struct {
	AccountID     uuid.UUID       `json:"account_id"`
	RecordID      uuid.UUID       `json:"record_id"`
	TransactionID string          `json:"transaction_id"`
	Product       string          `json:"product"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
