package handler

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"billpay-wallet/internal/domain"
	"billpay-wallet/internal/service"
)

type AccountService interface {
	CreateAccount(ctx context.Context, req service.CreateAccountRequest) (*domain.Account, error)
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)
	SetPIN(ctx context.Context, accountID, currentPIN, newPIN string) error
	UpdateProfile(ctx context.Context, accountID string, req service.UpdateProfileRequest) (*domain.Account, error)
	LookupContact(ctx context.Context, email, phoneNumber string) (*service.ContactLookup, error)
}

type ProvisioningService interface {
	GetDedicatedAccount(ctx context.Context, accountID string) (*service.DedicatedAccountResult, error)
}

type AccountHandler struct {
	accountService AccountService
	provisioning   ProvisioningService
}

func NewAccountHandler(accountService AccountService, provisioning ProvisioningService) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
		provisioning:   provisioning,
	}
}

type CreateAccountRequest struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
	PIN         string `json:"pin,omitempty"`
}

type SetPINRequest struct {
	CurrentPIN string `json:"current_pin,omitempty"`
	NewPIN     string `json:"new_pin"`
}

type UpdateProfileRequest struct {
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	Username    string `json:"username,omitempty"`
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

type LookupContactRequest struct {
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

type AccountResponse struct {
	AccountID        string                   `json:"account_id"`
	FirstName        string                   `json:"first_name"`
	LastName         string                   `json:"last_name"`
	Username         string                   `json:"username"`
	Email            string                   `json:"email"`
	PhoneNumber      string                   `json:"phone_number"`
	Balance          string                   `json:"balance"`
	HasPIN           bool                     `json:"has_pin"`
	DedicatedAccount *domain.DedicatedAccount `json:"dedicated_account,omitempty"`
}

func newAccountResponse(account *domain.Account) AccountResponse {
	return AccountResponse{
		AccountID:        account.ID.String(),
		FirstName:        account.FirstName,
		LastName:         account.LastName,
		Username:         account.Username,
		Email:            account.Email,
		PhoneNumber:      account.PhoneNumber,
		Balance:          account.Balance.StringFixed(2),
		HasPIN:           account.HasPIN(),
		DedicatedAccount: account.DedicatedAccount,
	}
}

func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	account, err := h.accountService.CreateAccount(r.Context(), service.CreateAccountRequest{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Username:    req.Username,
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
		PIN:         req.PIN,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newAccountResponse(account))
}

func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.accountService.GetAccount(r.Context(), mux.Vars(r)["account_id"])
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newAccountResponse(account))
}

func (h *AccountHandler) SetPIN(w http.ResponseWriter, r *http.Request) {
	var req SetPINRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.accountService.SetPIN(r.Context(), mux.Vars(r)["account_id"], req.CurrentPIN, req.NewPIN); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AccountHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	account, err := h.accountService.UpdateProfile(r.Context(), mux.Vars(r)["account_id"], service.UpdateProfileRequest{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Username:    req.Username,
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newAccountResponse(account))
}

// LookupContact tells a signup form whether an email or phone number is already in use.
func (h *AccountHandler) LookupContact(w http.ResponseWriter, r *http.Request) {
	var req LookupContactRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.accountService.LookupContact(r.Context(), req.Email, req.PhoneNumber)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetDedicatedAccount answers 202 while the processor is still assigning the account.
func (h *AccountHandler) GetDedicatedAccount(w http.ResponseWriter, r *http.Request) {
	result, err := h.provisioning.GetDedicatedAccount(r.Context(), mux.Vars(r)["account_id"])
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if result.InProgress {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}
