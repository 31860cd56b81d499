package loans

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestSummarizer(repo *memoryRepo) *Summarizer {
	return NewSummarizer(repo, nil)
}

func TestSummarizeFreshSchedule(t *testing.T) {
	service, repo, _ := newTestService()
	seedLoan(repo, 1)
	generateStandardLoan(t, service, 1)

	summary, err := newTestSummarizer(repo).Summarize(context.Background(), 1)
	require.NoError(t, err)

	require.Equal(t, int64(1), summary.LoanID)
	require.Equal(t, LoanStatusActive, summary.Status)
	require.InDelta(t, 8884.88, summary.InstallmentAmount, 0.001)
	require.Equal(t, 0, summary.PaidCount)
	require.Equal(t, 12, summary.PendingCount)
	require.InDelta(t, 0, summary.TotalPaid, 0.001)
	require.InDelta(t, 100000.00, summary.RemainingPrincipal, 0.001)
	require.InDelta(t, 106618.56, summary.TotalRemaining, 0.01)
	require.InDelta(t, 6618.53, summary.RemainingInterest, 0.01)
	require.InDelta(t, 0, summary.ProgressPercent, 0.001)
	require.InDelta(t, 0, summary.TotalInterestSaved, 0.001)

	require.NotNil(t, summary.NextDue)
	require.Equal(t, 1, summary.NextDue.Seq)
	require.Equal(t, "2025-02-01", summary.NextDue.DueDate)
	require.InDelta(t, 8884.88, summary.NextDue.Amount, 0.001)
}

func TestSummarizeAfterPayments(t *testing.T) {
	service, repo, _ := newTestService()
	seedLoan(repo, 1)
	generateStandardLoan(t, service, 1)
	payInstallments(t, service, repo, 1, 3)

	summary, err := newTestSummarizer(repo).Summarize(context.Background(), 1)
	require.NoError(t, err)

	require.Equal(t, 3, summary.PaidCount)
	require.Equal(t, 9, summary.PendingCount)
	require.InDelta(t, 26654.64, summary.TotalPaid, 0.01)
	require.InDelta(t, 23891.98, summary.TotalPrincipalPaid, 0.01)
	require.InDelta(t, 2762.66, summary.TotalInterestPaid, 0.01)
	require.InDelta(t, 76108.02, summary.RemainingPrincipal, 0.001)
	require.InDelta(t, 25.00, summary.ProgressPercent, 0.001)

	require.NotNil(t, summary.NextDue)
	require.Equal(t, 4, summary.NextDue.Seq)
	require.Equal(t, "2025-05-01", summary.NextDue.DueDate)
}

func TestSummarizeTracksInterestSaved(t *testing.T) {
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

	summary, err := newTestSummarizer(repo).Summarize(context.Background(), 1)
	require.NoError(t, err)

	require.InDelta(t, result.InterestSaved, summary.TotalInterestSaved, 0.001)
	require.Equal(t, result.NewTenureMonths, summary.PendingCount)
	require.InDelta(t, result.NewRemainingPrincipal, summary.RemainingPrincipal, 0.001)
}

func TestSummarizeClosedLoan(t *testing.T) {
	service, repo, _ := newTestService()
	seedLoan(repo, 1)
	generateStandardLoan(t, service, 1)
	payInstallments(t, service, repo, 1, 3)

	_, err := service.Foreclose(context.Background(), ForeclosureInput{
		LoanID:          1,
		ForeclosureDate: testDate(2025, time.May, 1),
	})
	require.NoError(t, err)

	summary, err := newTestSummarizer(repo).Summarize(context.Background(), 1)
	require.NoError(t, err)

	require.Equal(t, LoanStatusClosed, summary.Status)
	require.Equal(t, 0, summary.PendingCount)
	require.Equal(t, 3, summary.PaidCount)
	require.Nil(t, summary.NextDue)
	require.InDelta(t, 0, summary.RemainingPrincipal, 0.001)
	require.InDelta(t, 0, summary.TotalRemaining, 0.001)
	require.InDelta(t, 100.00, summary.ProgressPercent, 0.001)
	require.Greater(t, summary.TotalInterestSaved, 0.0)
}

func TestSummarizeUnknownLoan(t *testing.T) {
	_, repo, _ := newTestService()
	_, err := newTestSummarizer(repo).Summarize(context.Background(), 404)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBuildSummaryEmptyLoan(t *testing.T) {
	loan := &Loan{ID: 5, Status: LoanStatusActive}
	summary := buildSummary(loan, nil, nil)

	require.Equal(t, int64(5), summary.LoanID)
	require.Equal(t, 0, summary.PaidCount)
	require.Equal(t, 0, summary.PendingCount)
	require.Nil(t, summary.NextDue)
	require.InDelta(t, 0, summary.ProgressPercent, 0.001)
}
