package handler

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"billpay-wallet/internal/domain"
	"billpay-wallet/internal/errors"
	"billpay-wallet/internal/service"
)

type DepositService interface {
	ReconcileDeposit(ctx context.Context, req service.DepositRequest) (*service.DepositResult, error)
}

type SyncService interface {
	SyncAccount(ctx context.Context, accountID string) (*service.SyncResult, error)
}

type TempAccountService interface {
	CreateTempAccount(ctx context.Context, req service.TempAccountRequest) (*domain.DepositTransaction, error)
	GetTempAccount(ctx context.Context, accountID string) (*service.TempAccountStatus, error)
}

type DepositHandler struct {
	deposits DepositService
	sync     SyncService
	temps    TempAccountService
	records  RecordService
}

func NewDepositHandler(deposits DepositService, sync SyncService, temps TempAccountService, records RecordService) *DepositHandler {
	return &DepositHandler{
		deposits: deposits,
		sync:     sync,
		temps:    temps,
		records:  records,
	}
}

type VerifyDepositRequest struct {
	Reference     string `json:"reference"`
	TransactionID string `json:"transaction_id"`
	AccountID     string `json:"account_id"`
	Channel       string `json:"channel"`
	DepositType   string `json:"deposit_type"`
	BillingEmail  string `json:"billing_email"`
	BillingName   string `json:"billing_name"`
}

type TempAccountRequest struct {
	Amount    string `json:"amount"`
	Reference string `json:"reference,omitempty"`
}

// VerifyDeposit answers 201 when the deposit was credited by this call and 200 when
// it had already been processed.
func (h *DepositHandler) VerifyDeposit(w http.ResponseWriter, r *http.Request) {
	var req VerifyDepositRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.deposits.ReconcileDeposit(r.Context(), service.DepositRequest{
		Reference:     req.Reference,
		TransactionID: req.TransactionID,
		AccountID:     req.AccountID,
		Channel:       req.Channel,
		DepositType:   req.DepositType,
		BillingEmail:  req.BillingEmail,
		BillingName:   req.BillingName,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if result.Outcome == service.OutcomeCredited {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

func (h *DepositHandler) SyncAccount(w http.ResponseWriter, r *http.Request) {
	result, err := h.sync.SyncAccount(r.Context(), mux.Vars(r)["account_id"])
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *DepositHandler) ListDeposits(w http.ResponseWriter, r *http.Request) {
	deposits, err := h.records.ListDeposits(r.Context(), mux.Vars(r)["account_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if deposits == nil {
		deposits = []*domain.DepositTransaction{}
	}

	writeJSON(w, http.StatusOK, deposits)
}

func (h *DepositHandler) CreateTempAccount(w http.ResponseWriter, r *http.Request) {
	var req TempAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	kobo, err := toKobo(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	deposit, err := h.temps.CreateTempAccount(r.Context(), service.TempAccountRequest{
		AccountID:  mux.Vars(r)["account_id"],
		AmountKobo: kobo,
		Reference:  req.Reference,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, deposit)
}

func (h *DepositHandler) GetTempAccount(w http.ResponseWriter, r *http.Request) {
	status, err := h.temps.GetTempAccount(r.Context(), mux.Vars(r)["account_id"])
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// toKobo converts a naira amount with at most two decimals to kobo.
func toKobo(raw string) (int64, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, errors.NewAppError(errors.InvalidAmount, "invalid amount format").WithDetails(err.Error())
	}
	if !amount.IsPositive() || amount.Exponent() < -2 {
		return 0, errors.ErrInvalidAmount
	}
	return amount.Shift(2).IntPart(), nil
}
