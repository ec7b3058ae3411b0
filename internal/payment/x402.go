package payment

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Challenge is the machine-readable "payment required" descriptor sent with
// a 402 response. It is transport-level contract only and is never stored.
type Challenge struct {
	PaymentID  string          `json:"payment_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	PaymentURL string          `json:"payment_url"`
}

// Header renders the challenge as a WWW-Authenticate value:
//
//	x402 amount="0.5" currency="USDC" payment-url="https://..."
func (c Challenge) Header() string {
	return fmt.Sprintf("x402 amount=%q currency=%q payment-url=%q", c.Amount.String(), c.Currency, c.PaymentURL)
}
