package loans

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lendcore/lendcore/internal/amort"
	"github.com/lendcore/lendcore/internal/observability"
)

// Store defines row-level data access for loans, installments and events.
// Repository implements it over a pool; InTx hands out a transactional view.
type Store interface {
	GetLoan(ctx context.Context, id int64) (*Loan, error)
	GetLoanForUpdate(ctx context.Context, id int64) (*Loan, error)
	UpdateLoanTerms(ctx context.Context, id int64, principal, annualRatePct float64, tenureMonths int, startDate time.Time, installment float64) error
	UpdateLoanInstallment(ctx context.Context, id int64, installment float64) error
	UpdateLoanStatus(ctx context.Context, id int64, status LoanStatus) error
	ReplaceSchedule(ctx context.Context, loanID int64, rows []Installment) error
	ReplacePending(ctx context.Context, loanID int64, rows []Installment) error
	MarkPendingAdjusted(ctx context.Context, loanID, eventID int64) error
	CancelPending(ctx context.Context, loanID, eventID int64) error
	GetInstallment(ctx context.Context, id int64) (*Installment, error)
	MarkPaid(ctx context.Context, installmentID int64, paidDate time.Time, method string) (*Installment, error)
	ListInstallments(ctx context.Context, loanID int64, status InstallmentStatus) ([]Installment, error)
	AppendEvent(ctx context.Context, ev Event) (int64, error)
	ListEvents(ctx context.Context, loanID int64) ([]Event, error)
}

// Repo is the full persistence port required by the engine.
type Repo interface {
	Store
	InTx(ctx context.Context, fn func(Store) error) error
}

// PaidNotification is handed to the expense-ledger collaborator after an
// installment payment commits. The engine never writes that ledger itself.
type PaidNotification struct {
	LoanID        int64     `json:"loan_id"`
	InstallmentID int64     `json:"installment_id"`
	Seq           int       `json:"seq"`
	Amount        float64   `json:"amount"`
	PaidDate      time.Time `json:"paid_date"`
	Method        string    `json:"method"`
	Reference     string    `json:"reference"`
}

// Notifier publishes paid-installment notifications.
type Notifier interface {
	InstallmentPaid(ctx context.Context, n PaidNotification) error
}

// Service is the loan mutation engine. Each operation runs as one
// transaction with the loan row locked, so two mutations on the same loan
// never interleave; different loans mutate independently.
type Service struct {
	repo     Repo
	cache    *SummaryCache
	notifier Notifier
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewService builds the engine.
func NewService(repo Repo, cache *SummaryCache, notifier Notifier, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: cache, notifier: notifier, metrics: metrics, logger: logger}
}

// GenerateSchedule computes the installment for a loan, builds the full
// amortization schedule and replaces any prior schedule. Regenerating with
// identical inputs is idempotent; regenerating with new terms is the
// intended correction path.
func (s *Service) GenerateSchedule(ctx context.Context, in GenerateScheduleInput) (result *GenerateScheduleResult, err error) {
	defer func() { s.metrics.ObserveMutation("generate_schedule", err) }()

	installment := in.InstallmentOverride
	if installment <= 0 {
		installment, err = amort.Installment(in.Principal, in.AnnualRatePct, in.TenureMonths)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", err, ErrInvalidInput)
		}
	}
	rows, err := amort.BuildSchedule(in.Principal, in.AnnualRatePct, in.TenureMonths,
		amort.AddMonths(in.StartDate, 1), installment)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidInput)
	}
	totalInterest := amort.TotalInterest(rows)

	err = s.repo.InTx(ctx, func(tx Store) error {
		loan, err := tx.GetLoanForUpdate(ctx, in.LoanID)
		if err != nil {
			return err
		}
		if loan.Status == LoanStatusClosed {
			return fmt.Errorf("loan %d is closed: %w", in.LoanID, ErrInvalidState)
		}
		if err := tx.ReplaceSchedule(ctx, in.LoanID, toInstallments(rows)); err != nil {
			return err
		}
		if err := tx.UpdateLoanTerms(ctx, in.LoanID, in.Principal, in.AnnualRatePct,
			in.TenureMonths, in.StartDate, installment); err != nil {
			return err
		}
		tenure := in.TenureMonths
		_, err = tx.AppendEvent(ctx, Event{
			LoanID:               in.LoanID,
			Kind:                 EventScheduleGenerated,
			EffectiveDate:        in.StartDate,
			Amount:               in.Principal,
			NewTenureMonths:      &tenure,
			NewInstallmentAmount: &installment,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.bumpCache(ctx)

	return &GenerateScheduleResult{
		InstallmentAmount: installment,
		RowCount:          len(rows),
		TotalInterest:     totalInterest,
	}, nil
}

// ApplyPartPayment applies a lump-sum principal reduction and rebuilds the
// remaining schedule, either shortening the tenure (fixed EMI) or lowering
// the EMI (fixed tenure).
func (s *Service) ApplyPartPayment(ctx context.Context, in PartPaymentInput) (result *PartPaymentResult, err error) {
	defer func() { s.metrics.ObserveMutation("part_payment", err) }()

	err = s.repo.InTx(ctx, func(tx Store) error {
		loan, err := tx.GetLoanForUpdate(ctx, in.LoanID)
		if err != nil {
			return err
		}
		if loan.Status != LoanStatusActive {
			return fmt.Errorf("loan %d is %s: %w", in.LoanID, loan.Status, ErrInvalidState)
		}
		pending, err := tx.ListInstallments(ctx, in.LoanID, InstallmentPending)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return fmt.Errorf("loan %d: %w", in.LoanID, ErrNoPendingInstallments)
		}

		outstanding := amort.Round2(outstandingBefore(pending[0]))
		if in.Amount > outstanding {
			return fmt.Errorf("amount %.2f > outstanding %.2f: %w", in.Amount, outstanding, ErrExceedsOutstanding)
		}
		newPrincipal := amort.Round2(outstanding - in.Amount)

		var (
			newTenure      int
			newInstallment float64
			rebuilt        []amort.ScheduleRow
			rows           []Installment
		)
		// Paying the full outstanding leaves nothing to amortize; the
		// replacement schedule is empty.
		if newPrincipal > 0 {
			switch in.Mode {
			case ReduceTenure:
				newInstallment = loan.InstallmentAmount
				newTenure, err = amort.SolveTenure(newPrincipal, amort.MonthlyRate(loan.AnnualRatePct), newInstallment)
				if err != nil {
					return fmt.Errorf("%v: %w", err, ErrInvalidInput)
				}
			case ReduceEMI:
				newTenure = len(pending)
				newInstallment, err = amort.Installment(newPrincipal, loan.AnnualRatePct, newTenure)
				if err != nil {
					return fmt.Errorf("%v: %w", err, ErrInvalidInput)
				}
			default:
				return fmt.Errorf("unknown reduction mode %q: %w", in.Mode, ErrInvalidInput)
			}

			// The rebuilt schedule keeps the next due date of the rows it
			// replaces and continues their numbering.
			rebuilt, err = amort.BuildSchedule(newPrincipal, loan.AnnualRatePct, newTenure,
				pending[0].DueDate, newInstallment)
			if err != nil {
				return fmt.Errorf("%v: %w", err, ErrInvalidInput)
			}
			rows = toInstallments(rebuilt)
			for i := range rows {
				rows[i].Seq = pending[0].Seq + i
			}
		}

		interestSaved := amort.Round2(sumInterest(pending) - amort.TotalInterest(rebuilt))

		eventID, err := tx.AppendEvent(ctx, Event{
			LoanID:               in.LoanID,
			Kind:                 EventPartPayment,
			EffectiveDate:        in.PaymentDate,
			Amount:               in.Amount,
			InterestSaved:        interestSaved,
			NewTenureMonths:      &newTenure,
			NewInstallmentAmount: &newInstallment,
			Method:               string(in.Mode),
		})
		if err != nil {
			return err
		}
		if err := tx.MarkPendingAdjusted(ctx, in.LoanID, eventID); err != nil {
			return err
		}
		if err := tx.ReplacePending(ctx, in.LoanID, rows); err != nil {
			return err
		}
		if in.Mode == ReduceEMI && newPrincipal > 0 {
			if err := tx.UpdateLoanInstallment(ctx, in.LoanID, newInstallment); err != nil {
				return err
			}
		}

		result = &PartPaymentResult{
			NewRemainingPrincipal: newPrincipal,
			NewTenureMonths:       newTenure,
			NewInstallmentAmount:  newInstallment,
			InterestSaved:         interestSaved,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.bumpCache(ctx)
	return result, nil
}

// Foreclose settles a loan in full: remaining outstanding principal plus
// interest accrued since the last due date on a 30-day-month convention.
// All pending installments are cancelled and the loan closes.
func (s *Service) Foreclose(ctx context.Context, in ForeclosureInput) (result *ForeclosureResult, err error) {
	defer func() { s.metrics.ObserveMutation("foreclosure", err) }()

	err = s.repo.InTx(ctx, func(tx Store) error {
		loan, err := tx.GetLoanForUpdate(ctx, in.LoanID)
		if err != nil {
			return err
		}
		if loan.Status != LoanStatusActive {
			return fmt.Errorf("loan %d is %s: %w", in.LoanID, loan.Status, ErrInvalidState)
		}
		pending, err := tx.ListInstallments(ctx, in.LoanID, InstallmentPending)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return fmt.Errorf("loan %d: %w", in.LoanID, ErrNoPendingInstallments)
		}

		outstanding := amort.Round2(outstandingBefore(pending[0]))
		days := daysBetween(pending[0].DueDate, in.ForeclosureDate)

		// 30-day-month convention regardless of actual month length.
		dailyRate := amort.MonthlyRate(loan.AnnualRatePct) / 30
		accrued := amort.Round2(outstanding * dailyRate * float64(days))
		amountPaid := amort.Round2(outstanding + accrued)
		interestSaved := amort.Round2(sumInterest(pending) - accrued)

		eventID, err := tx.AppendEvent(ctx, Event{
			LoanID:        in.LoanID,
			Kind:          EventForeclosure,
			EffectiveDate: in.ForeclosureDate,
			Amount:        amountPaid,
			InterestSaved: interestSaved,
			Method:        in.PaymentMethod,
		})
		if err != nil {
			return err
		}
		if err := tx.CancelPending(ctx, in.LoanID, eventID); err != nil {
			return err
		}
		if err := tx.UpdateLoanStatus(ctx, in.LoanID, LoanStatusClosed); err != nil {
			return err
		}

		result = &ForeclosureResult{
			AmountPaid:         amountPaid,
			PrincipalComponent: outstanding,
			InterestComponent:  accrued,
			InterestSaved:      interestSaved,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.bumpCache(ctx)
	return result, nil
}

// MarkInstallmentPaid records a scheduled payment and, after commit, hands a
// notification to the expense-ledger collaborator.
func (s *Service) MarkInstallmentPaid(ctx context.Context, in MarkPaidInput) (result *MarkPaidResult, err error) {
	defer func() { s.metrics.ObserveMutation("mark_paid", err) }()

	var notification PaidNotification
	err = s.repo.InTx(ctx, func(tx Store) error {
		inst, err := tx.GetInstallment(ctx, in.InstallmentID)
		if err != nil {
			return err
		}
		loan, err := tx.GetLoanForUpdate(ctx, inst.LoanID)
		if err != nil {
			return err
		}
		if loan.Status != LoanStatusActive {
			return fmt.Errorf("loan %d is %s: %w", loan.ID, loan.Status, ErrInvalidState)
		}
		paid, err := tx.MarkPaid(ctx, in.InstallmentID, in.PaidDate, in.PaymentMethod)
		if err != nil {
			return err
		}
		reference := uuid.NewString()
		if _, err := tx.AppendEvent(ctx, Event{
			LoanID:        loan.ID,
			Kind:          EventPayment,
			EffectiveDate: in.PaidDate,
			Amount:        paid.Amount,
			Method:        in.PaymentMethod,
			Reference:     reference,
		}); err != nil {
			return err
		}

		notification = PaidNotification{
			LoanID:        loan.ID,
			InstallmentID: paid.ID,
			Seq:           paid.Seq,
			Amount:        paid.Amount,
			PaidDate:      in.PaidDate,
			Method:        in.PaymentMethod,
			Reference:     reference,
		}
		result = &MarkPaidResult{
			Status:         string(InstallmentPaid),
			InstallmentSeq: paid.Seq,
			Amount:         paid.Amount,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.bumpCache(ctx)

	// The payment is committed; a notification failure must not undo it.
	// Delivery retries are the notifier's responsibility.
	if s.notifier != nil {
		if err := s.notifier.InstallmentPaid(ctx, notification); err != nil {
			s.log().Warn("expense notification failed",
				slog.Int64("loan_id", notification.LoanID),
				slog.Int64("installment_id", notification.InstallmentID),
				slog.Any("error", err))
		}
	}
	return result, nil
}

// ListSchedule returns a loan's installments, optionally filtered by status.
func (s *Service) ListSchedule(ctx context.Context, loanID int64, status InstallmentStatus) ([]Installment, error) {
	if _, err := s.repo.GetLoan(ctx, loanID); err != nil {
		return nil, err
	}
	return s.repo.ListInstallments(ctx, loanID, status)
}

// ListEvents returns a loan's ledger entries in creation order.
func (s *Service) ListEvents(ctx context.Context, loanID int64) ([]Event, error) {
	if _, err := s.repo.GetLoan(ctx, loanID); err != nil {
		return nil, err
	}
	return s.repo.ListEvents(ctx, loanID)
}

func (s *Service) bumpCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.log().Warn("summary cache bump failed", slog.Any("error", err))
	}
}

func (s *Service) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

func toInstallments(rows []amort.ScheduleRow) []Installment {
	out := make([]Installment, len(rows))
	for i, row := range rows {
		out[i] = Installment{
			Seq:                row.Seq,
			DueDate:            row.DueDate,
			Amount:             row.Amount,
			PrincipalComponent: row.PrincipalComponent,
			InterestComponent:  row.InterestComponent,
			RemainingPrincipal: row.RemainingPrincipal,
			Status:             InstallmentPending,
		}
	}
	return out
}

func sumInterest(rows []Installment) float64 {
	var total float64
	for _, row := range rows {
		total = amort.Round2(total + row.InterestComponent)
	}
	return total
}

// daysBetween counts whole days from a due date to a settlement date,
// floored at zero for early settlement within the period.
func daysBetween(due, settled time.Time) int {
	days := int(settled.Sub(due).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
