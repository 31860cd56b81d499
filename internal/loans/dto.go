package loans

import "time"

// Wire-level request shapes. Dates travel as ISO-8601 calendar dates
// (YYYY-MM-DD, no time component); the handler parses them before calling
// into the engine.

type GenerateScheduleRequest struct {
	Principal           float64  `json:"principal" validate:"required,gt=0"`
	AnnualRatePct       float64  `json:"annual_rate_pct" validate:"gte=0,lt=100"`
	TenureMonths        int      `json:"tenure_months" validate:"required,gte=1"`
	StartDate           string   `json:"start_date" validate:"required,datetime=2006-01-02"`
	InstallmentOverride *float64 `json:"installment_override,omitempty" validate:"omitempty,gt=0"`
}

type PartPaymentRequest struct {
	Amount        float64 `json:"amount" validate:"required,gt=0"`
	PaymentDate   string  `json:"payment_date" validate:"required,datetime=2006-01-02"`
	ReductionMode string  `json:"reduction_mode" validate:"required,oneof=tenure emi"`
}

type ForeclosureRequest struct {
	ForeclosureDate string `json:"foreclosure_date" validate:"required,datetime=2006-01-02"`
	PaymentMethod   string `json:"payment_method,omitempty" validate:"omitempty,max=40"`
}

type MarkPaidRequest struct {
	PaidDate      string `json:"paid_date" validate:"required,datetime=2006-01-02"`
	PaymentMethod string `json:"payment_method" validate:"required,max=40"`
}

// Engine-level inputs, already parsed and validated.

type GenerateScheduleInput struct {
	LoanID              int64
	Principal           float64
	AnnualRatePct       float64
	TenureMonths        int
	StartDate           time.Time
	InstallmentOverride float64
}

type PartPaymentInput struct {
	LoanID      int64
	Amount      float64
	PaymentDate time.Time
	Mode        ReductionMode
}

type ForeclosureInput struct {
	LoanID          int64
	ForeclosureDate time.Time
	PaymentMethod   string
}

type MarkPaidInput struct {
	InstallmentID int64
	PaidDate      time.Time
	PaymentMethod string
}

// Engine results returned to callers and serialized on the wire.

type GenerateScheduleResult struct {
	InstallmentAmount float64 `json:"installment_amount"`
	RowCount          int     `json:"row_count"`
	TotalInterest     float64 `json:"total_interest"`
}

type PartPaymentResult struct {
	NewRemainingPrincipal float64 `json:"new_remaining_principal"`
	NewTenureMonths       int     `json:"new_tenure_months"`
	NewInstallmentAmount  float64 `json:"new_installment_amount"`
	InterestSaved         float64 `json:"interest_saved"`
}

type ForeclosureResult struct {
	AmountPaid         float64 `json:"amount_paid"`
	PrincipalComponent float64 `json:"principal_component"`
	InterestComponent  float64 `json:"interest_component"`
	InterestSaved      float64 `json:"interest_saved"`
}

type MarkPaidResult struct {
	Status         string  `json:"status"`
	InstallmentSeq int     `json:"installment_seq"`
	Amount         float64 `json:"amount"`
}
