package http

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// Base58 alphabet: 123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz
var base58Regex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Solana account addresses: base58, 32-44 characters.
	v.RegisterValidation("solana_addr", func(fl validator.FieldLevel) bool {
		addr := fl.Field().String()
		return len(addr) >= 32 && len(addr) <= 44 && base58Regex.MatchString(addr)
	})
	// Transaction signatures: base58, 64 bytes encoded (87-88 characters).
	v.RegisterValidation("solana_sig", func(fl validator.FieldLevel) bool {
		sig := fl.Field().String()
		return len(sig) >= 80 && len(sig) <= 90 && base58Regex.MatchString(sig)
	})
	return v
}

type createPaymentRequest struct {
	MerchantWallet string  `json:"merchantWallet" validate:"required,solana_addr"`
	Amount         float64 `json:"amount" validate:"required,gt=0"`
	Reference      string  `json:"reference" validate:"required"`
	Memo           string  `json:"memo,omitempty" validate:"omitempty,max=256"`
	PayerWallet    string  `json:"payerWallet,omitempty" validate:"omitempty,solana_addr"`
	TokenID        string  `json:"tokenId,omitempty"`
}

type lockPaymentRequest struct {
	Reference   string `json:"reference" validate:"required"`
	PayerWallet string `json:"payerWallet" validate:"required,solana_addr"`
}

type confirmPaymentRequest struct {
	Reference    string `json:"reference" validate:"required"`
	Signature    string `json:"signature" validate:"required,solana_sig"`
	SenderWallet string `json:"senderWallet" validate:"required,solana_addr"`
	TokenID      string `json:"tokenId,omitempty"`
}

type verifyPaymentRequest struct {
	Reference      string   `json:"reference" validate:"required"`
	MerchantWallet string   `json:"merchantWallet" validate:"required,solana_addr"`
	ExpectedAmount *float64 `json:"expectedAmount,omitempty" validate:"omitempty,gt=0"`
}

type verifyOnChainRequest struct {
	Signature      string  `json:"signature" validate:"required,solana_sig"`
	MerchantWallet string  `json:"merchantWallet" validate:"required,solana_addr"`
	ExpectedAmount float64 `json:"expectedAmount,omitempty" validate:"omitempty,gt=0"`
	SenderWallet   string  `json:"senderWallet,omitempty" validate:"omitempty,solana_addr"`
	TokenID        string  `json:"tokenId,omitempty"`
}

// validationMessage flattens the first validator error into a human-readable
// message for the error response.
func validationMessage(err error) string {
	errs, ok := err.(validator.ValidationErrors)
	if !ok || len(errs) == 0 {
		return "invalid request body"
	}
	fe := errs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "gt":
		return fmt.Sprintf("%s must be positive", fe.Field())
	case "solana_addr":
		return fmt.Sprintf("%s must be a valid Solana wallet address", fe.Field())
	case "solana_sig":
		return fmt.Sprintf("%s must be a valid transaction signature", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
