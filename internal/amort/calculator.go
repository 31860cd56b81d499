// Package amort implements the amortizing-loan math used by the loan engine.
// Everything here is pure: no I/O, no clocks, no shared state.
package amort

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrNonAmortizing indicates an installment amount too small to ever pay down
// principal (the implied tenure would be infinite).
var ErrNonAmortizing = errors.New("amort: installment does not amortize principal")

// ScheduleRow is one period of an amortization schedule.
type ScheduleRow struct {
	Seq                int
	DueDate            time.Time
	Amount             float64
	PrincipalComponent float64
	InterestComponent  float64
	RemainingPrincipal float64
}

// Round2 rounds to 2 decimal places, half away from zero. Every intermediate
// value that feeds a stored figure goes through this; the cumulative rounding
// drift over long tenures must match the system of record, so do not replace
// this with a single rounding pass at the end.
func Round2(v float64) float64 {
	if v < 0 {
		return -math.Floor(-v*100+0.5) / 100
	}
	return math.Floor(v*100+0.5) / 100
}

// MonthlyRate converts an annual percentage rate to a monthly fraction.
func MonthlyRate(annualRatePct float64) float64 {
	return annualRatePct / 12 / 100
}

// Installment computes the fixed periodic payment for an amortizing loan:
// P·r·(1+r)^n / ((1+r)^n − 1). A zero rate degenerates to P/n.
func Installment(principal, annualRatePct float64, tenureMonths int) (float64, error) {
	if principal <= 0 {
		return 0, fmt.Errorf("amort: principal must be positive, got %.2f", principal)
	}
	if tenureMonths < 1 {
		return 0, fmt.Errorf("amort: tenure must be at least 1 month, got %d", tenureMonths)
	}
	r := MonthlyRate(annualRatePct)
	if r == 0 {
		return Round2(principal / float64(tenureMonths)), nil
	}
	pow := math.Pow(1+r, float64(tenureMonths))
	return Round2(principal * r * pow / (pow - 1)), nil
}

// SolveTenure computes the number of whole months needed to amortize
// principal at monthlyRate with the given installment:
// n = ln(E/(E − P·r)) / ln(1+r), rounded up to the next whole period.
func SolveTenure(principal, monthlyRate, installment float64) (int, error) {
	if principal <= 0 {
		return 0, fmt.Errorf("amort: principal must be positive, got %.2f", principal)
	}
	if monthlyRate == 0 {
		return int(math.Ceil(principal / installment)), nil
	}
	if installment <= principal*monthlyRate {
		return 0, fmt.Errorf("amort: installment %.2f covers at most the interest on %.2f: %w",
			installment, principal, ErrNonAmortizing)
	}
	n := math.Log(installment/(installment-principal*monthlyRate)) / math.Log(1+monthlyRate)
	return int(math.Ceil(n)), nil
}

// BuildSchedule walks periods 1..tenureMonths from firstDue, splitting each
// installment into interest and principal against a running outstanding
// balance. The balance threads through as a plain accumulator; the final
// period absorbs rounding residue and is clamped to zero.
//
// installmentOverride, when positive, replaces the computed installment
// amount (used to keep the EMI fixed when a schedule is rebuilt after a
// part-payment in tenure-reduction mode).
func BuildSchedule(principal, annualRatePct float64, tenureMonths int, firstDue time.Time, installmentOverride float64) ([]ScheduleRow, error) {
	installment := installmentOverride
	if installment <= 0 {
		var err error
		installment, err = Installment(principal, annualRatePct, tenureMonths)
		if err != nil {
			return nil, err
		}
	}

	r := MonthlyRate(annualRatePct)
	rows := make([]ScheduleRow, 0, tenureMonths)
	outstanding := Round2(principal)
	for seq := 1; seq <= tenureMonths; seq++ {
		interest := Round2(outstanding * r)
		principalComp := Round2(installment - interest)
		outstanding = Round2(outstanding - principalComp)
		if outstanding < 0 {
			if seq < tenureMonths {
				return nil, fmt.Errorf("amort: installment %.2f exhausts the balance at period %d of %d",
					installment, seq, tenureMonths)
			}
			// Rounding residue lands in the final period.
			outstanding = 0
		}
		rows = append(rows, ScheduleRow{
			Seq:                seq,
			DueDate:            AddMonths(firstDue, seq-1),
			Amount:             installment,
			PrincipalComponent: principalComp,
			InterestComponent:  interest,
			RemainingPrincipal: outstanding,
		})
	}
	return rows, nil
}

// TotalInterest sums the interest components of a schedule.
func TotalInterest(rows []ScheduleRow) float64 {
	var total float64
	for _, row := range rows {
		total = Round2(total + row.InterestComponent)
	}
	return total
}

// AddMonths advances t by n calendar months, preserving the day-of-month and
// clipping to the last day of shorter months (Jan 31 + 1 month = Feb 28/29).
func AddMonths(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	first := time.Date(year, month+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	if last := first.AddDate(0, 1, -1).Day(); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, t.Location())
}
