package loans

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	loans        map[int64]*Loan
	installments map[int64]*Installment
	events       []Event
	nextInstID   int64
	nextEventID  int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		loans:        make(map[int64]*Loan),
		installments: make(map[int64]*Installment),
	}
}

func (r *memoryRepo) InTx(ctx context.Context, fn func(Store) error) error {
	return fn(r)
}

func (r *memoryRepo) GetLoan(ctx context.Context, id int64) (*Loan, error) {
	loan, ok := r.loans[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *loan
	return &copied, nil
}

func (r *memoryRepo) GetLoanForUpdate(ctx context.Context, id int64) (*Loan, error) {
	return r.GetLoan(ctx, id)
}

func (r *memoryRepo) UpdateLoanTerms(ctx context.Context, id int64, principal, annualRatePct float64, tenureMonths int, startDate time.Time, installment float64) error {
	loan, ok := r.loans[id]
	if !ok {
		return ErrNotFound
	}
	loan.Principal = principal
	loan.AnnualRatePct = annualRatePct
	loan.TenureMonths = tenureMonths
	loan.StartDate = startDate
	loan.InstallmentAmount = installment
	loan.Status = LoanStatusActive
	return nil
}

func (r *memoryRepo) UpdateLoanInstallment(ctx context.Context, id int64, installment float64) error {
	loan, ok := r.loans[id]
	if !ok {
		return ErrNotFound
	}
	loan.InstallmentAmount = installment
	return nil
}

func (r *memoryRepo) UpdateLoanStatus(ctx context.Context, id int64, status LoanStatus) error {
	loan, ok := r.loans[id]
	if !ok {
		return ErrNotFound
	}
	loan.Status = status
	return nil
}

func (r *memoryRepo) ReplaceSchedule(ctx context.Context, loanID int64, rows []Installment) error {
	for id, inst := range r.installments {
		if inst.LoanID == loanID {
			delete(r.installments, id)
		}
	}
	r.insert(loanID, rows)
	return nil
}

func (r *memoryRepo) ReplacePending(ctx context.Context, loanID int64, rows []Installment) error {
	for id, inst := range r.installments {
		if inst.LoanID == loanID && inst.Status == InstallmentPending {
			delete(r.installments, id)
		}
	}
	r.insert(loanID, rows)
	return nil
}

func (r *memoryRepo) insert(loanID int64, rows []Installment) {
	for _, row := range rows {
		r.nextInstID++
		inst := row
		inst.ID = r.nextInstID
		inst.LoanID = loanID
		inst.Status = InstallmentPending
		r.installments[inst.ID] = &inst
	}
}

func (r *memoryRepo) MarkPendingAdjusted(ctx context.Context, loanID, eventID int64) error {
	for _, inst := range r.installments {
		if inst.LoanID == loanID && inst.Status == InstallmentPending {
			inst.Adjusted = true
			id := eventID
			inst.AdjustedByEventID = &id
		}
	}
	return nil
}

func (r *memoryRepo) CancelPending(ctx context.Context, loanID, eventID int64) error {
	for _, inst := range r.installments {
		if inst.LoanID == loanID && inst.Status == InstallmentPending {
			inst.Status = InstallmentCancelled
			inst.Adjusted = true
			id := eventID
			inst.AdjustedByEventID = &id
		}
	}
	return nil
}

func (r *memoryRepo) GetInstallment(ctx context.Context, id int64) (*Installment, error) {
	inst, ok := r.installments[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *inst
	return &copied, nil
}

func (r *memoryRepo) MarkPaid(ctx context.Context, installmentID int64, paidDate time.Time, method string) (*Installment, error) {
	inst, ok := r.installments[installmentID]
	if !ok {
		return nil, ErrNotFound
	}
	if inst.Status != InstallmentPending {
		return nil, ErrAlreadyPaid
	}
	inst.Status = InstallmentPaid
	inst.PaidDate = &paidDate
	inst.PaidMethod = method
	copied := *inst
	return &copied, nil
}

func (r *memoryRepo) ListInstallments(ctx context.Context, loanID int64, status InstallmentStatus) ([]Installment, error) {
	var out []Installment
	for _, inst := range r.installments {
		if inst.LoanID != loanID {
			continue
		}
		if status != "" && inst.Status != status {
			continue
		}
		out = append(out, *inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (r *memoryRepo) AppendEvent(ctx context.Context, ev Event) (int64, error) {
	r.nextEventID++
	ev.ID = r.nextEventID
	ev.CreatedAt = time.Unix(r.nextEventID, 0)
	r.events = append(r.events, ev)
	return ev.ID, nil
}

func (r *memoryRepo) ListEvents(ctx context.Context, loanID int64) ([]Event, error) {
	var out []Event
	for _, ev := range r.events {
		if ev.LoanID == loanID {
			out = append(out, ev)
		}
	}
	return out, nil
}

type fakeNotifier struct {
	paid []PaidNotification
}

func (n *fakeNotifier) InstallmentPaid(ctx context.Context, paid PaidNotification) error {
	n.paid = append(n.paid, paid)
	return nil
}

func seedLoan(repo *memoryRepo, id int64) {
	repo.loans[id] = &Loan{
		ID:        id,
		Status:    LoanStatusActive,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func testDate(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newTestService() (*Service, *memoryRepo, *fakeNotifier) {
	repo := newMemoryRepo()
	notifier := &fakeNotifier{}
	service := NewService(repo, nil, notifier, nil, nil)
	return service, repo, notifier
}

func generateStandardLoan(t *testing.T, service *Service, loanID int64) *GenerateScheduleResult {
	t.Helper()
	result, err := service.GenerateSchedule(context.Background(), GenerateScheduleInput{
		LoanID:        loanID,
		Principal:     100000,
		AnnualRatePct: 12,
		TenureMonths:  12,
		StartDate:     testDate(2025, time.January, 1),
	})
	require.NoError(t, err)
	return result
}

func payInstallments(t *testing.T, service *Service, repo *memoryRepo, loanID int64, count int) {
	t.Helper()
	pending, err := repo.ListInstallments(context.Background(), loanID, InstallmentPending)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(pending), count)
	for i := 0; i < count; i++ {
		_, err := service.MarkInstallmentPaid(context.Background(), MarkPaidInput{
			InstallmentID: pending[i].ID,
			PaidDate:      pending[i].DueDate,
			PaymentMethod: "upi",
		})
		require.NoError(t, err)
	}
}

func TestGenerateSchedule(t *testing.T) {
	service, repo, _ := newTestService()
	seedLoan(repo, 1)

	result := generateStandardLoan(t, service, 1)
	require.InDelta(t, 8884.88, result.InstallmentAmount, 0.001)
	require.Equal(t, 12, result.RowCount)
	require.InDelta(t, 6618.53, result.TotalInterest, 0.01)

	rows, err := repo.ListInstallments(context.Background(), 1, "")
	require.NoError(t, err)
	require.Len(t, rows, 12)
	require.Equal(t, testDate(2025, time.February, 1), rows[0].DueDate)

	loan, err := repo.GetLoan(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, LoanStatusActive, loan.Status)
	require.InDelta(t, 8884.88, loan.InstallmentAmount, 0.001)

	events, err := repo.ListEvents(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, EventScheduleGenerated, events[0].Kind)
}

func TestGenerateScheduleIdempotent(t *testing.T) {
	service, repo, _ := newTestService()
	seedLoan(repo, 1)

	first := generateStandardLoan(t, service, 1)
	second := generateStandardLoan(t, service, 1)
	require.Equal(t, first.InstallmentAmount, second.InstallmentAmount)
	require.Equal(t, first.RowCount, second.RowCount)
	require.Equal(t, first.TotalInterest, second.TotalInterest)

	rows, err := repo.ListInstallments(context.Background(), 1, "")
	require.NoError(t, err)
	require.Len(t, rows, 12)
}

func TestGenerateScheduleUnknownLoan(t *testing.T) {
	service, _, _ := newTestService()
	_, err := service.GenerateSchedule(context.Background(), GenerateScheduleInput{
		LoanID:        42,
		Principal:     100000,
		AnnualRatePct: 12,
		TenureMonths:  12,
		StartDate:     testDate(2025, time.January, 1),
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGenerateScheduleClosedLoan(t *testing.T) {
	service, repo, _ := newTestService()
	seedLoan(repo, 1)
	repo.loans[1].Status = LoanStatusClosed

	_, err := service.GenerateSchedule(context.Background(), GenerateScheduleInput{
		LoanID:        1,
		Principal:     100000,
		AnnualRatePct: 12,
		TenureMonths:  12,
		StartDate:     testDate(2025, time.January, 1),
	})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestPartPaymentTenureMode(t *testing.T) {
	service, repo, _ := newTestService()
	seedLoan(repo, 1)
	generateStandardLoan(t, service, 1)
	payInstallments(t, service, repo, 1, 3)

	result, err := service.ApplyPartPayment(context.Background(), PartPaymentInput{
		LoanID:      1,
		Amount:      20000,
		PaymentDate: testDate(2025, time.April, 15),
		Mode:        ReduceTenure,
	})
	require.NoError(t, err)

	// Conservation: the payment reduces outstanding principal exactly.
	require.InDelta(t, 76108.02, result.NewRemainingPrincipal+20000, 0.001)
	require.Less(t, result.NewTenureMonths, 9)
	require.InDelta(t, 8884.88, result.NewInstallmentAmount, 0.001)
	require.Greater(t, result.InterestSaved, 0.0)

	pending, err := repo.ListInstallments(context.Background(), 1, InstallmentPending)
	require.NoError(t, err)
	require.Len(t, pending, result.NewTenureMonths)
	require.Equal(t, 4, pending[0].Seq)
	require.Equal(t, testDate(2025, time.May, 1), pending[0].DueDate)

	// Paid history is untouched.
	paid, err := repo.ListInstallments(context.Background(), 1, InstallmentPaid)
	require.NoError(t, err)
	require.Len(t, paid, 3)

	loan, err := repo.GetLoan(context.Background(), 1)
	require.NoError(t, err)
	require.InDelta(t, 8884.88, loan.InstallmentAmount, 0.001)
}

func TestPartPaymentEMIMode(t *testing.T) {
	service, repo, _ := newTestService()
	seedLoan(repo, 1)
	generateStandardLoan(t, service, 1)
	payInstallments(t, service, repo, 1, 3)

	result, err := service.ApplyPartPayment(context.Background(), PartPaymentInput{
		LoanID:      1,
		Amount:      20000,
		PaymentDate: testDate(2025, time.April, 15),
		Mode:        ReduceEMI,
	})
	require.NoError(t, err)

	require.Equal(t, 9, result.NewTenureMonths)
	require.Less(t, result.NewInstallmentAmount, 8884.88)
	require.InDelta(t, 76108.02, result.NewRemainingPrincipal+20000, 0.001)

	loan, err := repo.GetLoan(context.Background(), 1)
	require.NoError(t, err)
	require.InDelta(t, result.NewInstallmentAmount, loan.InstallmentAmount, 0.001)

	pending, err := repo.ListInstallments(context.Background(), 1, InstallmentPending)
	require.NoError(t, err)
	require.Len(t, pending, 9)
}

func TestPartPaymentFullOutstanding(t *testing.T) {
	service, repo, _ := newTestService()
	seedLoan(repo, 1)
	generateStandardLoan(t, service, 1)

	// Exactly the outstanding principal is accepted and settles the
	// remaining schedule.
	result, err := service.ApplyPartPayment(context.Background(), PartPaymentInput{
		LoanID:      1,
		Amount:      100000,
		PaymentDate: testDate(2025, time.February, 1),
		Mode:        ReduceTenure,
	})
	require.NoError(t, err)
	require.InDelta(t, 0, result.NewRemainingPrincipal, 0.001)
	require.Equal(t, 0, result.NewTenureMonths)
	require.InDelta(t, 0, result.NewInstallmentAmount, 0.001)
	require.InDelta(t, 6618.53, result.InterestSaved, 0.01)

	pending, err := repo.ListInstallments(context.Background(), 1, InstallmentPending)
	require.NoError(t, err)
	require.Empty(t, pending)

	loan, err := repo.GetLoan(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, LoanStatusActive, loan.Status)
	require.InDelta(t, 8884.88, loan.InstallmentAmount, 0.001)

	events, err := repo.ListEvents(context.Background(), 1)
	require.NoError(t, err)
	ev := events[len(events)-1]
	require.Equal(t, EventPartPayment, ev.Kind)
	require.InDelta(t, 100000, ev.Amount, 0.001)
}

func TestPartPaymentFullOutstandingEMIMode(t *testing.T) {
	service, repo, _ := newTestService()
	seedLoan(repo, 1)
	generateStandardLoan(t, service, 1)
	payInstallments(t, service, repo, 1, 3)

	result, err := service.ApplyPartPayment(context.Background(), PartPaymentInput{
		LoanID:      1,
		Amount:      76108.02,
		PaymentDate: testDate(2025, time.May, 1),
		Mode:        ReduceEMI,
	})
	require.NoError(t, err)
	require.InDelta(t, 0, result.NewRemainingPrincipal, 0.001)
	require.Equal(t, 0, result.NewTenureMonths)

	// The stored EMI stays untouched when nothing is left to amortize.
	loan, err := repo.GetLoan(context.Background(), 1)
	require.NoError(t, err)
	require.InDelta(t, 8884.88, loan.InstallmentAmount, 0.001)

	pending, err := repo.ListInstallments(context.Background(), 1, InstallmentPending)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestPartPaymentExceedsOutstanding(t *testing.T) {
	service, repo, _ := newTestService()
	seedLoan(repo, 1)
	generateStandardLoan(t, service, 1)

	_, err := service.ApplyPartPayment(context.Background(), PartPaymentInput{
		LoanID:      1,
		Amount:      100000.01,
		PaymentDate: testDate(2025, time.February, 1),
		Mode:        ReduceTenure,
	})
	require.ErrorIs(t, err, ErrExceedsOutstanding)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestPartPaymentNoPendingInstallments(t *testing.T) {
	service, repo, _ := newTestService()
	seedLoan(repo, 1)
	generateStandardLoan(t, service, 1)
	payInstallments(t, service, repo, 1, 12)

	_, err := service.ApplyPartPayment(context.Background(), PartPaymentInput{
		LoanID:      1,
		Amount:      1000,
		PaymentDate: testDate(2026, time.February, 1),
		Mode:        ReduceTenure,
	})
	require.ErrorIs(t, err, ErrNoPendingInstallments)
}

func TestPartPaymentEventRecorded(t *testing.T) {
	service, repo, _ := newTestService()
	seedLoan(repo, 1)
	generateStandardLoan(t, service, 1)

	result, err := service.ApplyPartPayment(context.Background(), PartPaymentInput{
		LoanID:      1,
		Amount:      20000,
		PaymentDate: testDate(2025, time.February, 1),
		Mode:        ReduceTenure,
	})
	require.NoError(t, err)

	events, err := repo.ListEvents(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	ev := events[1]
	require.Equal(t, EventPartPayment, ev.Kind)
	require.InDelta(t, 20000, ev.Amount, 0.001)
	require.InDelta(t, result.InterestSaved, ev.InterestSaved, 0.001)
	require.NotNil(t, ev.NewTenureMonths)
	require.Equal(t, result.NewTenureMonths, *ev.NewTenureMonths)
	require.NotNil(t, ev.NewInstallmentAmount)
	require.InDelta(t, result.NewInstallmentAmount, *ev.NewInstallmentAmount, 0.001)
	require.Equal(t, string(ReduceTenure), ev.Method)
}

func TestForecloseOnDueDate(t *testing.T) {
	service, repo, _ := newTestService()
	seedLoan(repo, 1)
	generateStandardLoan(t, service, 1)

	// Settling on the exact due date of the next pending installment
	// accrues zero interest.
	result, err := service.Foreclose(context.Background(), ForeclosureInput{
		LoanID:          1,
		ForeclosureDate: testDate(2025, time.February, 1),
		PaymentMethod:   "bank_transfer",
	})
	require.NoError(t, err)
	require.InDelta(t, 100000.00, result.AmountPaid, 0.001)
	require.InDelta(t, 100000.00, result.PrincipalComponent, 0.001)
	require.InDelta(t, 0.00, result.InterestComponent, 0.001)
	require.InDelta(t, 6618.53, result.InterestSaved, 0.01)

	loan, err := repo.GetLoan(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, LoanStatusClosed, loan.Status)

	pending, err := repo.ListInstallments(context.Background(), 1, InstallmentPending)
	require.NoError(t, err)
	require.Empty(t, pending)

	cancelled, err := repo.ListInstallments(context.Background(), 1, InstallmentCancelled)
	require.NoError(t, err)
	require.Len(t, cancelled, 12)
	require.NotNil(t, cancelled[0].AdjustedByEventID)
}

func TestForecloseAccruesDailyInterest(t *testing.T) {
	service, repo, _ := newTestService()
	seedLoan(repo, 1)
	generateStandardLoan(t, service, 1)

	// 15 days past due at 12% annual on a 30-day-month convention:
	// 100000 x (0.01/30) x 15 = 500.00.
	result, err := service.Foreclose(context.Background(), ForeclosureInput{
		LoanID:          1,
		ForeclosureDate: testDate(2025, time.February, 16),
	})
	require.NoError(t, err)
	require.InDelta(t, 500.00, result.InterestComponent, 0.001)
	require.InDelta(t, 100500.00, result.AmountPaid, 0.001)
	require.InDelta(t, 6118.53, result.InterestSaved, 0.01)
}

func TestForecloseClosedLoan(t *testing.T) {
	service, repo, _ := newTestService()
	seedLoan(repo, 1)
	generateStandardLoan(t, service, 1)

	_, err := service.Foreclose(context.Background(), ForeclosureInput{
		LoanID:          1,
		ForeclosureDate: testDate(2025, time.February, 1),
	})
	require.NoError(t, err)

	_, err = service.Foreclose(context.Background(), ForeclosureInput{
		LoanID:          1,
		ForeclosureDate: testDate(2025, time.March, 1),
	})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestMarkInstallmentPaid(t *testing.T) {
	service, repo, notifier := newTestService()
	seedLoan(repo, 1)
	generateStandardLoan(t, service, 1)

	pending, err := repo.ListInstallments(context.Background(), 1, InstallmentPending)
	require.NoError(t, err)

	result, err := service.MarkInstallmentPaid(context.Background(), MarkPaidInput{
		InstallmentID: pending[0].ID,
		PaidDate:      testDate(2025, time.February, 1),
		PaymentMethod: "upi",
	})
	require.NoError(t, err)
	require.Equal(t, "paid", result.Status)
	require.Equal(t, 1, result.InstallmentSeq)
	require.InDelta(t, 8884.88, result.Amount, 0.001)

	require.Len(t, notifier.paid, 1)
	require.Equal(t, int64(1), notifier.paid[0].LoanID)
	require.Equal(t, pending[0].ID, notifier.paid[0].InstallmentID)
	require.NotEmpty(t, notifier.paid[0].Reference)

	events, err := repo.ListEvents(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, EventPayment, events[len(events)-1].Kind)
}

func TestMarkInstallmentPaidTwice(t *testing.T) {
	service, repo, _ := newTestService()
	seedLoan(repo, 1)
	generateStandardLoan(t, service, 1)

	pending, err := repo.ListInstallments(context.Background(), 1, InstallmentPending)
	require.NoError(t, err)

	input := MarkPaidInput{
		InstallmentID: pending[0].ID,
		PaidDate:      testDate(2025, time.February, 1),
		PaymentMethod: "upi",
	}
	_, err = service.MarkInstallmentPaid(context.Background(), input)
	require.NoError(t, err)
	_, err = service.MarkInstallmentPaid(context.Background(), input)
	require.ErrorIs(t, err, ErrAlreadyPaid)
}

func TestMarkInstallmentPaidUnknown(t *testing.T) {
	service, _, _ := newTestService()
	_, err := service.MarkInstallmentPaid(context.Background(), MarkPaidInput{
		InstallmentID: 999,
		PaidDate:      testDate(2025, time.February, 1),
		PaymentMethod: "upi",
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListScheduleUnknownLoan(t *testing.T) {
	service, _, _ := newTestService()
	_, err := service.ListSchedule(context.Background(), 77, "")
	require.ErrorIs(t, err, ErrNotFound)
}
