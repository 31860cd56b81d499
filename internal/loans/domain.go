package loans

import "time"

// LoanStatus enumerates loan lifecycle states.
type LoanStatus string

const (
	LoanStatusActive LoanStatus = "active"
	LoanStatusClosed LoanStatus = "closed"
)

// InstallmentStatus enumerates schedule row states.
type InstallmentStatus string

const (
	InstallmentPending   InstallmentStatus = "pending"
	InstallmentPaid      InstallmentStatus = "paid"
	InstallmentCancelled InstallmentStatus = "cancelled"
)

// EventKind enumerates ledger event kinds. The set is closed; the engine's
// replay logic switches exhaustively over it.
type EventKind string

const (
	EventScheduleGenerated EventKind = "schedule_generated"
	EventPayment           EventKind = "payment"
	EventPartPayment       EventKind = "part_payment"
	EventForeclosure       EventKind = "foreclosure"
)

// ReductionMode selects what a part-payment shortens.
type ReductionMode string

const (
	// ReduceTenure keeps the installment amount and shortens the tenure.
	ReduceTenure ReductionMode = "tenure"
	// ReduceEMI keeps the tenure and lowers the installment amount.
	ReduceEMI ReductionMode = "emi"
)

// Loan model. Mutated only through engine operations; transitions to closed
// only via foreclosure.
type Loan struct {
	ID                int64
	Principal         float64
	AnnualRatePct     float64
	TenureMonths      int
	StartDate         time.Time
	InstallmentAmount float64
	Status            LoanStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Installment is one schedule row. RemainingPrincipal is the outstanding
// balance after this installment's principal is applied.
type Installment struct {
	ID                 int64
	LoanID             int64
	Seq                int
	DueDate            time.Time
	Amount             float64
	PrincipalComponent float64
	InterestComponent  float64
	RemainingPrincipal float64
	Status             InstallmentStatus
	Adjusted           bool
	AdjustedByEventID  *int64
	PaidDate           *time.Time
	PaidMethod         string
	CreatedAt          time.Time
}

// Event is one immutable ledger entry. The event sequence per loan is the
// authoritative history; the installment set is a derived projection.
// Derived fields are populated only where the kind calls for them.
type Event struct {
	ID                   int64
	LoanID               int64
	Kind                 EventKind
	EffectiveDate        time.Time
	Amount               float64
	InterestSaved        float64
	NewTenureMonths      *int
	NewInstallmentAmount *float64
	Method               string
	Reference            string
	CreatedAt            time.Time
}

// outstandingBefore derives the outstanding principal before the given
// pending installment's principal is applied. Both the engine and the
// summary projector use this same definition.
func outstandingBefore(first Installment) float64 {
	return first.RemainingPrincipal + first.PrincipalComponent
}
