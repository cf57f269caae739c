// internal/domain/payment_method.go
package domain

// PaymentMethodType defines the kind of stored payment instrument.
type PaymentMethodType string

const (
	PaymentMethodTypeCard         PaymentMethodType = "card"
	PaymentMethodTypeBankTransfer PaymentMethodType = "bank_transfer"
)

// PaymentMethod is a stored payment instrument reference. Transactions only
// use its label at creation time; no foreign-key integrity is kept afterward.
type PaymentMethod struct {
	ID            string            `json:"id"`
	Type          PaymentMethodType `json:"type"`
	Last4         string            `json:"last4,omitempty"`          // card only
	Brand         string            `json:"brand,omitempty"`          // card only
	BankName      string            `json:"bank_name,omitempty"`      // bank_transfer only
	AccountNumber string            `json:"account_number,omitempty"` // bank_transfer only
	IsDefault     bool              `json:"is_default"`
}

// Label returns the human-readable name used in transaction descriptions.
func (m PaymentMethod) Label() string {
	if m.Type == PaymentMethodTypeCard {
		return "Credit Card"
	}
	return "Bank Transfer"
}
