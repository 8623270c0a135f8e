package app

import (
	"time"

	"github.com/google/uuid"
)

// ContractSignedEvent asks the mailer to send the signature confirmation. PaymentURL points
// at the portal page that opens the first payment link.
type ContractSignedEvent struct {
	BookingID         uuid.UUID `json:"booking_id"`
	BookingReference  string    `json:"booking_reference"`
	ContractReference string    `json:"contract_reference"`
	Email             string    `json:"email"`
	CustomerName      string    `json:"customer_name"`
	SignerName        string    `json:"signer_name"`
	PriceTTC          int64     `json:"price_ttc"`
	DepositAmount     int64     `json:"deposit_amount"`
	BalanceAmount     int64     `json:"balance_amount"`
	DepositPercent    int       `json:"deposit_percent"`
	PaymentMethod     string    `json:"payment_method"`
	PaymentURL        string    `json:"payment_url"`
	Currency          string    `json:"currency"`
	SignedAt          time.Time `json:"signed_at"`
}

// PaymentConfirmedEvent starts the downstream confirmation workflow.
type PaymentConfirmedEvent struct {
	BookingID         uuid.UUID `json:"booking_id"`
	BookingReference  string    `json:"booking_reference"`
	Email             string    `json:"email"`
	Provider          string    `json:"provider"`
	ProviderPaymentID string    `json:"provider_payment_id"`
	InstallmentType   string    `json:"installment_type"`
	Amount            int64     `json:"amount"`
	TotalPaid         int64     `json:"total_paid"`
	PriceTTC          int64     `json:"price_ttc"`
	PreviousStatus    string    `json:"previous_status"`
	Status            string    `json:"status"`
	Currency          string    `json:"currency"`
	PaidAt            time.Time `json:"paid_at"`
}

// PaymentFailedEvent is published for genuine checkout failures so an operator follows up.
type PaymentFailedEvent struct {
	BookingID         uuid.UUID `json:"booking_id"`
	BookingReference  string    `json:"booking_reference"`
	Provider          string    `json:"provider"`
	ProviderPaymentID string    `json:"provider_payment_id,omitempty"`
	ProviderLinkID    string    `json:"provider_link_id,omitempty"`
	InstallmentType   string    `json:"installment_type"`
	RawStatus         string    `json:"raw_status"`
	OccurredAt        time.Time `json:"occurred_at"`
}
