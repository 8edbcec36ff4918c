package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"billpay-wallet/internal/domain"
	"billpay-wallet/internal/errors"
	"billpay-wallet/internal/service"
)

type PurchaseService interface {
	Purchase(ctx context.Context, req *service.PurchaseRequest) (*service.PurchaseResult, error)
}

type RecordService interface {
	ListSpendRecords(ctx context.Context, accountID string) ([]*domain.SpendRecord, error)
	GetSpendRecord(ctx context.Context, accountID, recordID string) (*domain.SpendRecord, error)
	ListDeposits(ctx context.Context, accountID string) ([]*domain.DepositTransaction, error)
}

type PurchaseHandler struct {
	purchases PurchaseService
	records   RecordService
}

func NewPurchaseHandler(purchases PurchaseService, records RecordService) *PurchaseHandler {
	return &PurchaseHandler{
		purchases: purchases,
		records:   records,
	}
}

type PurchaseRequest struct {
	AccountID     string `json:"account_id"`
	TransactionID string `json:"transaction_id"`
	PIN           string `json:"pin"`
	Amount        string `json:"amount"`

	Network     string `json:"network,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`

	PlanID   string `json:"plan_id,omitempty"`
	PlanName string `json:"plan_name,omitempty"`

	Provider        string `json:"provider,omitempty"`
	SmartCardNumber string `json:"smart_card_number,omitempty"`
	PlanCode        string `json:"plan_code,omitempty"`
	CustomerName    string `json:"customer_name,omitempty"`

	DistributorID string `json:"distributor_id,omitempty"`
	MeterNumber   string `json:"meter_number,omitempty"`
	MeterType     string `json:"meter_type,omitempty"`
}

// Purchase returns the purchase result unwrapped, since clients branch on its
// status and failCode fields.
func (h *PurchaseHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, errors.NewAppError(errors.InvalidAmount, "invalid amount format").WithDetails(err.Error()))
		return
	}

	result, err := h.purchases.Purchase(r.Context(), &service.PurchaseRequest{
		AccountID:       req.AccountID,
		TransactionID:   req.TransactionID,
		PIN:             req.PIN,
		Product:         mux.Vars(r)["product"],
		Amount:          amount,
		Network:         req.Network,
		PhoneNumber:     req.PhoneNumber,
		PlanID:          req.PlanID,
		PlanName:        req.PlanName,
		TVProvider:      req.Provider,
		SmartCardNumber: req.SmartCardNumber,
		PlanCode:        req.PlanCode,
		CustomerName:    req.CustomerName,
		DistributorID:   req.DistributorID,
		MeterNumber:     req.MeterNumber,
		MeterType:       req.MeterType,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(purchaseStatus(result))
	json.NewEncoder(w).Encode(result)
}

// purchaseStatus is 201 for every settled or pending outcome. Only a vendor outage and
// internal save failures get error statuses.
func purchaseStatus(result *service.PurchaseResult) int {
	switch {
	case strings.HasSuffix(result.FailCode, "05"):
		return http.StatusBadGateway
	case strings.HasSuffix(result.FailCode, "02"), strings.HasSuffix(result.FailCode, "08"):
		return http.StatusInternalServerError
	}
	return http.StatusCreated
}

func (h *PurchaseHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.records.ListSpendRecords(r.Context(), mux.Vars(r)["account_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []*domain.SpendRecord{}
	}

	writeJSON(w, http.StatusOK, records)
}

func (h *PurchaseHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	record, err := h.records.GetSpendRecord(r.Context(), vars["account_id"], vars["record_id"])
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}
