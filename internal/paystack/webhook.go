package paystack

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
)

const SignatureHeader = "x-paystack-signature"

// VerifySignature checks the HMAC-SHA512 of body against the hex signature Paystack sent.
func VerifySignature(secretKey string, body []byte, signature string) bool {
	if secretKey == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secretKey))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Event is a webhook notification.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

const EventChargeSuccess = "charge.success"

// Transaction decodes the event payload for charge events.
func (e *Event) Transaction() (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(e.Data, &tx); err != nil {
		return nil, err
	}
	tx.Raw = e.Data
	return &tx, nil
}
