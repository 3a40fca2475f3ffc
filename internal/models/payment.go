package models

// PaymentDetails is the card payload forwarded verbatim to the payment
// gateway. The core never stores it.
type PaymentDetails struct {
	CardHolder string `json:"card_holder" validate:"required"`
	CardNumber string `json:"card_number" validate:"required,min=12,max=19"`
	Expiry     string `json:"expiry" validate:"required"`
	CVV        string `json:"cvv" validate:"required,min=3,max=4"`
}
