package service

import (
	"context"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"billpay-wallet/internal/domain"
	"billpay-wallet/internal/errors"
)

type AccountService struct {
	store       domain.Store
	provisioner *ProvisioningService
	logger      *slog.Logger
}

func NewAccountService(store domain.Store, provisioner *ProvisioningService, logger *slog.Logger) *AccountService {
	return &AccountService{
		store:       store,
		provisioner: provisioner,
		logger:      logger,
	}
}

type CreateAccountRequest struct {
	FirstName   string
	LastName    string
	Username    string
	Email       string
	PhoneNumber string
	PIN         string
}

// CreateAccount stores a new account with a zero balance. Processor provisioning starts
// after the insert commits and cannot undo it.
func (s *AccountService) CreateAccount(ctx context.Context, req CreateAccountRequest) (*domain.Account, error) {
	s.logger.Info("Creating account", "username", req.Username, "email", req.Email)

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Username = strings.TrimSpace(req.Username)
	if err := requireFields("first_name", req.FirstName, "username", req.Username, "email", req.Email); err != nil {
		return nil, err
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return nil, errors.NewAppError(errors.InvalidInput, "invalid email address")
	}

	account := &domain.Account{
		ID:          uuid.New(),
		FirstName:   strings.TrimSpace(req.FirstName),
		LastName:    strings.TrimSpace(req.LastName),
		Username:    req.Username,
		Email:       req.Email,
		PhoneNumber: strings.TrimSpace(req.PhoneNumber),
		Balance:     decimal.Zero,
	}

	if req.PIN != "" {
		if err := validatePIN(req.PIN); err != nil {
			return nil, err
		}
		hash, err := hashPIN(req.PIN)
		if err != nil {
			return nil, err
		}
		account.PINHash = hash
	}

	if err := s.store.Account().CreateAccount(ctx, account); err != nil {
		return nil, err
	}

	s.logger.Info("Account created successfully", "account_id", account.ID)
	if s.provisioner != nil {
		s.provisioner.ProvisionAsync(account)
	}
	return account, nil
}

func (s *AccountService) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	s.logger.Info("Getting account", "account_id", accountID)

	id, err := parseAccountID(accountID)
	if err != nil {
		return nil, err
	}

	return s.store.Account().GetAccount(ctx, id)
}

// SetPIN replaces the spend PIN. When a PIN is already set the current one must match.
func (s *AccountService) SetPIN(ctx context.Context, accountID, currentPIN, newPIN string) error {
	id, err := parseAccountID(accountID)
	if err != nil {
		return err
	}
	if err := validatePIN(newPIN); err != nil {
		return err
	}

	account, err := s.store.Account().GetAccount(ctx, id)
	if err != nil {
		return err
	}
	if account.HasPIN() && !pinMatches(account.PINHash, currentPIN) {
		s.logger.Warn("PIN change rejected", "account_id", id)
		return errors.ErrInvalidPIN
	}

	hash, err := hashPIN(newPIN)
	if err != nil {
		return err
	}
	if err := s.store.Account().UpdatePINHash(ctx, id, hash); err != nil {
		return err
	}

	s.logger.Info("PIN updated", "account_id", id)
	return nil
}

// UpdateProfileRequest carries the profile fields to change. Empty fields keep their
// current value.
type UpdateProfileRequest struct {
	FirstName   string
	LastName    string
	Username    string
	Email       string
	PhoneNumber string
}

func (r UpdateProfileRequest) empty() bool {
	return r.FirstName == "" && r.LastName == "" && r.Username == "" && r.Email == "" && r.PhoneNumber == ""
}

// UpdateProfile applies the non-empty fields of req. Email and username stay unique across
// accounts, email without regard to case.
func (s *AccountService) UpdateProfile(ctx context.Context, accountID string, req UpdateProfileRequest) (*domain.Account, error) {
	id, err := parseAccountID(accountID)
	if err != nil {
		return nil, err
	}

	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if req.empty() {
		return nil, errors.NewAppError(errors.InvalidInput, "no profile changes provided")
	}
	if req.Email != "" {
		if _, err := mail.ParseAddress(req.Email); err != nil {
			return nil, errors.NewAppError(errors.InvalidInput, "invalid email address")
		}
	}

	var updated *domain.Account
	err = s.store.WithTransaction(ctx, func(tx domain.Store) error {
		account, err := tx.Account().GetAccountForUpdate(ctx, id)
		if err != nil {
			return err
		}

		profile := account.Profile()
		if req.FirstName != "" {
			profile.FirstName = req.FirstName
		}
		if req.LastName != "" {
			profile.LastName = req.LastName
		}
		if req.Username != "" {
			profile.Username = req.Username
		}
		if req.Email != "" {
			profile.Email = req.Email
		}
		if req.PhoneNumber != "" {
			profile.PhoneNumber = req.PhoneNumber
		}

		if err := tx.Account().UpdateProfile(ctx, id, profile); err != nil {
			return err
		}
		account.SetProfile(profile)
		updated = account
		return nil
	})
	if err != nil {
		s.logger.Warn("Profile update failed", "account_id", accountID, "error", err)
		return nil, err
	}

	s.logger.Info("Profile updated", "account_id", id)
	return updated, nil
}

// ContactLookup reports whether an email or phone number already belongs to an account.
type ContactLookup struct {
	Email           string `json:"email,omitempty"`
	EmailRegistered bool   `json:"email_registered"`
	PhoneNumber     string `json:"phone_number,omitempty"`
	PhoneRegistered bool   `json:"phone_registered"`
}

func (l *ContactLookup) Registered() bool {
	return l.EmailRegistered || l.PhoneRegistered
}

// LookupContact checks email and phone number against existing accounts. At least one
// must be given.
func (s *AccountService) LookupContact(ctx context.Context, email, phoneNumber string) (*ContactLookup, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	phoneNumber = strings.TrimSpace(phoneNumber)
	if email == "" && phoneNumber == "" {
		return nil, errors.NewAppError(errors.InvalidInput, "email or phone_number is required")
	}

	emailTaken, phoneTaken, err := s.store.Account().ContactsRegistered(ctx, email, phoneNumber)
	if err != nil {
		return nil, persistenceError(err)
	}

	return &ContactLookup{
		Email:           email,
		EmailRegistered: emailTaken,
		PhoneNumber:     phoneNumber,
		PhoneRegistered: phoneTaken,
	}, nil
}
