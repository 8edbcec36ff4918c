package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Account struct {
	ID                    uuid.UUID         `json:"account_id"`
	FirstName             string            `json:"first_name"`
	LastName              string            `json:"last_name"`
	Username              string            `json:"username"`
	Email                 string            `json:"email"`
	PhoneNumber           string            `json:"phone_number"`
	Balance               decimal.Decimal   `json:"balance"`
	PINHash               string            `json:"-"`
	ProcessorCustomerID   string            `json:"processor_customer_id,omitempty"`
	ProcessorCustomerCode string            `json:"processor_customer_code,omitempty"`
	DedicatedAccount      *DedicatedAccount `json:"dedicated_account,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

// DedicatedAccount is the bank account the processor issues to a single customer.
type DedicatedAccount struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	BankName      string `json:"bank_name"`
}

func (d *DedicatedAccount) Complete() bool {
	return d != nil && d.AccountNumber != "" && d.AccountName != "" && d.BankName != ""
}

// Profile holds the account fields the owner may edit.
type Profile struct {
	FirstName   string
	LastName    string
	Username    string
	Email       string
	PhoneNumber string
}

func (a *Account) Profile() Profile {
	return Profile{
		FirstName:   a.FirstName,
		LastName:    a.LastName,
		Username:    a.Username,
		Email:       a.Email,
		PhoneNumber: a.PhoneNumber,
	}
}

func (a *Account) SetProfile(p Profile) {
	a.FirstName = p.FirstName
	a.LastName = p.LastName
	a.Username = p.Username
	a.Email = p.Email
	a.PhoneNumber = p.PhoneNumber
}

func (a *Account) HasPIN() bool {
	return a.PINHash != ""
}

func (a *Account) FullName() string {
	if a.LastName == "" {
		return a.FirstName
	}
	return a.FirstName + " " + a.LastName
}

type AccountRepository interface {
	CreateAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*Account, error)
	GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*Account, error)
	GetAccountByProcessorCustomer(ctx context.Context, customerID string) (*Account, error)
	UpdateAccountBalance(ctx context.Context, id uuid.UUID, newBalance decimal.Decimal) error
	UpdatePINHash(ctx context.Context, id uuid.UUID, pinHash string) error
	UpdateProfile(ctx context.Context, id uuid.UUID, profile Profile) error
	// ContactsRegistered reports whether any account uses email or phoneNumber. Empty
	// arguments are not looked up.
	ContactsRegistered(ctx context.Context, email, phoneNumber string) (emailTaken, phoneTaken bool, err error)
	UpdateProcessorCustomer(ctx context.Context, id uuid.UUID, customerID, customerCode string) error
	UpdateDedicatedAccount(ctx context.Context, id uuid.UUID, dva DedicatedAccount) error
}
