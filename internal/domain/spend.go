package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SpendStatus string

const (
	SpendPending SpendStatus = "Pending"
	SpendSuccess SpendStatus = "Success"
	SpendFailed  SpendStatus = "Failed"
	SpendError   SpendStatus = "Error"
)

func (s SpendStatus) Terminal() bool {
	return s == SpendSuccess || s == SpendFailed || s == SpendError
}

// Refunded reports whether reaching s implies the debit was returned.
func (s SpendStatus) Refunded() bool {
	return s == SpendFailed || s == SpendError
}

// SpendMetadata carries the product-specific fields shown on a receipt.
type SpendMetadata struct {
	PhoneNumber  string `json:"phone_number,omitempty"`
	MeterNumber  string `json:"meter_number,omitempty"`
	MeterType    string `json:"meter_type,omitempty"`
	PlanName     string `json:"plan_name,omitempty"`
	Token        string `json:"token,omitempty"`
	CustomerName string `json:"customer_name,omitempty"`
}

type SpendRecord struct {
	ID            uuid.UUID       `json:"id"`
	AccountID     uuid.UUID       `json:"account_id"`
	TransactionID string          `json:"transaction_id"`
	ProductName   string          `json:"product_name"`
	ProductType   string          `json:"product_type,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Status        SpendStatus     `json:"status"`
	Metadata      SpendMetadata   `json:"metadata"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	TransactedAt  time.Time       `json:"transacted_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type SpendRepository interface {
	CreateSpendRecord(ctx context.Context, record *SpendRecord) error
	GetSpendRecord(ctx context.Context, accountID, id uuid.UUID) (*SpendRecord, error)
	GetSpendRecordForUpdate(ctx context.Context, id uuid.UUID) (*SpendRecord, error)
	ListSpendRecords(ctx context.Context, accountID uuid.UUID) ([]*SpendRecord, error)
	UpdateSpendRecord(ctx context.Context, record *SpendRecord) error
}
