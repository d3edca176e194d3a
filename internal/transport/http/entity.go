package httpt

import "time"

type ErrorResponse struct {
	Error string `json:"error"`
}

type SuccessResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Amounts travel as decimal strings: JSON numbers go through float64 and
// money never does.
type CreatePaymentRequest struct {
	OrderRef string  `json:"order_ref" binding:"required,uuid"`
	UserRef  string  `json:"user_ref"  binding:"required,uuid"`
	Amount   string  `json:"amount"    binding:"required"`
	Currency string  `json:"currency"  binding:"required,len=3"`
	MethodID *string `json:"method_id" binding:"omitempty,uuid"`
}

type RefundPaymentRequest struct {
	Amount string `json:"amount" binding:"required"`
}

type CreateMethodRequest struct {
	Type          string     `json:"type"           binding:"required,oneof=CARD BANK WALLET"`
	ProviderToken string     `json:"provider_token" binding:"required"`
	MaskedID      string     `json:"masked_id"      binding:"required,max=20"`
	ExpiresAt     *time.Time `json:"expires_at"`
	IsDefault     bool       `json:"is_default"`
}
