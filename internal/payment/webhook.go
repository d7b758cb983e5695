package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/example/supply-marketplace/internal/apperr"
	"github.com/go-playground/validator/v10"
)

const SignatureHeader = "X-Signature"

var (
	ErrBadSignature = fmt.Errorf("%w: invalid webhook signature", apperr.ErrUnauthorized)

	validate = validator.New()
)

// Notification is the asynchronous terminal status of a charge.
type Notification struct {
	OrderID       string `json:"orderId" validate:"required"`
	TransactionID string `json:"transactionId" validate:"required"`
	Status        string `json:"status" validate:"required,oneof=captured denied refunded"`
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func VerifySignature(secret string, body []byte, signature string) error {
	if secret == "" || signature == "" {
		return ErrBadSignature
	}
	want, err := hex.DecodeString(signature)
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), want) {
		return ErrBadSignature
	}
	return nil
}

// ParseNotification verifies the signature and decodes the payload.
func ParseNotification(secret string, body []byte, signature string) (*Notification, error) {
	if err := VerifySignature(secret, body, signature); err != nil {
		return nil, err
	}
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("%w: webhook payload: %v", apperr.ErrValidation, err)
	}
	if err := validate.Struct(&n); err != nil {
		return nil, fmt.Errorf("%w: webhook payload: %v", apperr.ErrValidation, err)
	}
	return &n, nil
}
