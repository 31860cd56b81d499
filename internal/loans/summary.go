package loans

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lendcore/lendcore/internal/amort"
)

// Summary is the reconciled read model for one loan.
type Summary struct {
	LoanID             int64            `json:"loan_id"`
	Status             LoanStatus       `json:"status"`
	InstallmentAmount  float64          `json:"installment_amount"`
	PaidCount          int              `json:"paid_count"`
	PendingCount       int              `json:"pending_count"`
	TotalPaid          float64          `json:"total_paid"`
	TotalPrincipalPaid float64          `json:"total_principal_paid"`
	TotalInterestPaid  float64          `json:"total_interest_paid"`
	RemainingPrincipal float64          `json:"remaining_principal"`
	TotalRemaining     float64          `json:"total_remaining"`
	RemainingInterest  float64          `json:"remaining_interest"`
	ProgressPercent    float64          `json:"progress_percent"`
	NextDue            *NextInstallment `json:"next_due"`
	TotalInterestSaved float64          `json:"total_interest_saved"`
}

// NextInstallment describes the first pending installment.
type NextInstallment struct {
	InstallmentID int64   `json:"installment_id"`
	Seq           int     `json:"seq"`
	DueDate       string  `json:"due_date"`
	Amount        float64 `json:"amount"`
}

// Reader is the read-only slice of the store the aggregator needs.
type Reader interface {
	GetLoan(ctx context.Context, id int64) (*Loan, error)
	ListInstallments(ctx context.Context, loanID int64, status InstallmentStatus) ([]Installment, error)
	ListEvents(ctx context.Context, loanID int64) ([]Event, error)
}

// Summarizer projects the current schedule and ledger into a Summary. It
// never mutates; concurrent calls are safe and deduplicated per cache key.
type Summarizer struct {
	repo  Reader
	cache *SummaryCache
	group singleflight.Group
}

// NewSummarizer builds the aggregator.
func NewSummarizer(repo Reader, cache *SummaryCache) *Summarizer {
	return &Summarizer{repo: repo, cache: cache}
}

// Summarize folds a loan's installments and ledger events into a Summary.
func (s *Summarizer) Summarize(ctx context.Context, loanID int64) (*Summary, error) {
	key, err := s.cache.SummaryKey(ctx, loanID)
	if err != nil {
		// Cache trouble must not take summaries down; fall through to a
		// direct load.
		return s.load(ctx, loanID)
	}

	result, err, _ := s.group.Do(key, func() (any, error) {
		var summary Summary
		err := s.cache.FetchJSON(ctx, key, &summary, func(ctx context.Context) (any, error) {
			loaded, err := s.load(ctx, loanID)
			if err != nil {
				return nil, err
			}
			return loaded, nil
		})
		if err != nil {
			return nil, err
		}
		return &summary, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Summary), nil
}

func (s *Summarizer) load(ctx context.Context, loanID int64) (*Summary, error) {
	loan, err := s.repo.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	installments, err := s.repo.ListInstallments(ctx, loanID, "")
	if err != nil {
		return nil, err
	}
	events, err := s.repo.ListEvents(ctx, loanID)
	if err != nil {
		return nil, err
	}
	summary := buildSummary(loan, installments, events)
	return &summary, nil
}

// buildSummary is the pure fold behind Summarize. Cancelled rows count for
// neither progress nor the remaining totals.
func buildSummary(loan *Loan, installments []Installment, events []Event) Summary {
	summary := Summary{
		LoanID:            loan.ID,
		Status:            loan.Status,
		InstallmentAmount: loan.InstallmentAmount,
	}

	var firstPending *Installment
	for i, inst := range installments {
		switch inst.Status {
		case InstallmentPaid:
			summary.PaidCount++
			summary.TotalPaid = amort.Round2(summary.TotalPaid + inst.Amount)
			summary.TotalPrincipalPaid = amort.Round2(summary.TotalPrincipalPaid + inst.PrincipalComponent)
			summary.TotalInterestPaid = amort.Round2(summary.TotalInterestPaid + inst.InterestComponent)
		case InstallmentPending:
			summary.PendingCount++
			summary.TotalRemaining = amort.Round2(summary.TotalRemaining + inst.Amount)
			summary.RemainingInterest = amort.Round2(summary.RemainingInterest + inst.InterestComponent)
			if firstPending == nil {
				firstPending = &installments[i]
			}
		}
	}

	if firstPending != nil {
		summary.RemainingPrincipal = amort.Round2(outstandingBefore(*firstPending))
		summary.NextDue = &NextInstallment{
			InstallmentID: firstPending.ID,
			Seq:           firstPending.Seq,
			DueDate:       firstPending.DueDate.Format(time.DateOnly),
			Amount:        firstPending.Amount,
		}
	}

	if total := summary.PaidCount + summary.PendingCount; total > 0 {
		summary.ProgressPercent = amort.Round2(float64(summary.PaidCount) / float64(total) * 100)
	}

	for _, ev := range events {
		summary.TotalInterestSaved = amort.Round2(summary.TotalInterestSaved + ev.InterestSaved)
	}

	return summary
}
