package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"billpay-wallet/internal/errors"
	"billpay-wallet/internal/paystack"
	"billpay-wallet/internal/service"
)

type ChargeEventHandler interface {
	HandleChargeEvent(ctx context.Context, charge *paystack.Transaction) (*service.DepositResult, error)
}

type WebhookHandler struct {
	secretKey string
	deposits  ChargeEventHandler
	logger    *slog.Logger
}

func NewWebhookHandler(secretKey string, deposits ChargeEventHandler, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		secretKey: secretKey,
		deposits:  deposits,
		logger:    logger,
	}
}

// Paystack accepts a signed event. Only retryable failures answer with an error status,
// so Paystack redelivers those and drops the rest.
func (h *WebhookHandler) Paystack(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "unreadable body"))
		return
	}

	if !paystack.VerifySignature(h.secretKey, body, r.Header.Get(paystack.SignatureHeader)) {
		h.logger.Warn("Rejected webhook with bad signature", "remote_addr", r.RemoteAddr)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var event paystack.Event
	if err := json.Unmarshal(body, &event); err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid event").WithDetails(err.Error()))
		return
	}

	if event.Event != paystack.EventChargeSuccess {
		h.logger.Info("Ignoring webhook event", "event", event.Event)
		w.WriteHeader(http.StatusOK)
		return
	}

	charge, err := event.Transaction()
	if err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid charge payload").WithDetails(err.Error()))
		return
	}

	result, err := h.deposits.HandleChargeEvent(r.Context(), charge)
	if err != nil {
		appErr := errors.AsAppError(err)
		if appErr.Retryable() {
			writeError(w, appErr)
			return
		}
		h.logger.Warn("Charge event not applied", "reference", charge.Reference, "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	h.logger.Info("Charge event applied", "reference", charge.Reference, "outcome", result.Outcome)
	w.WriteHeader(http.StatusOK)
}
