package loans

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lendcore/lendcore/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for loans, their
// installment schedules and the append-only event ledger. All engine
// mutations go through InTx so the delete/insert/append/update steps of one
// operation commit or roll back together.
type Repository struct {
	store
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{store: store{q: pool}, pool: pool}
}

// InTx runs fn against a transactional view of the store. The loan row lock
// taken by GetLoanForUpdate inside fn serializes mutations per loan.
func (r *Repository) InTx(ctx context.Context, fn func(Store) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(store{q: tx})
	})
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// store implements Store over either a pool or an open transaction.
type store struct {
	q querier
}

const loanColumns = `id, principal, annual_rate_pct, tenure_months, start_date, installment_amount, status, created_at, updated_at`

// GetLoan fetches a loan by ID.
func (s store) GetLoan(ctx context.Context, id int64) (*Loan, error) {
	return s.getLoan(ctx, id, false)
}

// GetLoanForUpdate fetches a loan and locks its row for the duration of the
// surrounding transaction.
func (s store) GetLoanForUpdate(ctx context.Context, id int64) (*Loan, error) {
	return s.getLoan(ctx, id, true)
}

func (s store) getLoan(ctx context.Context, id int64, forUpdate bool) (*Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var loan Loan
	err := s.q.QueryRow(ctx, query, id).Scan(
		&loan.ID, &loan.Principal, &loan.AnnualRatePct, &loan.TenureMonths,
		&loan.StartDate, &loan.InstallmentAmount, &loan.Status,
		&loan.CreatedAt, &loan.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("loan %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, wrapStorage("get loan", err)
	}
	return &loan, nil
}

// UpdateLoanTerms rewrites a loan's amortization parameters after a schedule
// (re)generation.
func (s store) UpdateLoanTerms(ctx context.Context, id int64, principal, annualRatePct float64, tenureMonths int, startDate time.Time, installment float64) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE loans
		SET principal = $2, annual_rate_pct = $3, tenure_months = $4,
			start_date = $5, installment_amount = $6, status = $7, updated_at = NOW()
		WHERE id = $1`,
		id, principal, annualRatePct, tenureMonths, startDate, installment, LoanStatusActive)
	if err != nil {
		return wrapStorage("update loan terms", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("loan %d: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateLoanInstallment updates the current installment amount (EMI-reduction
// part-payments).
func (s store) UpdateLoanInstallment(ctx context.Context, id int64, installment float64) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE loans SET installment_amount = $2, updated_at = NOW() WHERE id = $1`,
		id, installment)
	if err != nil {
		return wrapStorage("update loan installment", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("loan %d: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateLoanStatus transitions a loan's lifecycle state.
func (s store) UpdateLoanStatus(ctx context.Context, id int64, status LoanStatus) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE loans SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status)
	if err != nil {
		return wrapStorage("update loan status", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("loan %d: %w", id, ErrNotFound)
	}
	return nil
}

const insertInstallmentSQL = `
	INSERT INTO loan_installments (
		loan_id, seq, due_date, amount, principal_component,
		interest_component, remaining_principal, status, adjusted, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, NOW())`

// ReplaceSchedule replaces the entire installment set for a loan. Used at
// schedule generation; regenerating overwrites prior rows completely.
func (s store) ReplaceSchedule(ctx context.Context, loanID int64, rows []Installment) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM loan_installments WHERE loan_id = $1`, loanID); err != nil {
		return wrapStorage("delete schedule", err)
	}
	return s.insertInstallments(ctx, loanID, rows)
}

// ReplacePending deletes all pending installments for a loan and inserts the
// rebuilt rows. Paid and cancelled rows are untouched.
func (s store) ReplacePending(ctx context.Context, loanID int64, rows []Installment) error {
	if _, err := s.q.Exec(ctx,
		`DELETE FROM loan_installments WHERE loan_id = $1 AND status = $2`,
		loanID, InstallmentPending); err != nil {
		return wrapStorage("delete pending", err)
	}
	return s.insertInstallments(ctx, loanID, rows)
}

func (s store) insertInstallments(ctx context.Context, loanID int64, rows []Installment) error {
	for _, row := range rows {
		if _, err := s.q.Exec(ctx, insertInstallmentSQL,
			loanID, row.Seq, row.DueDate, row.Amount, row.PrincipalComponent,
			row.InterestComponent, row.RemainingPrincipal, InstallmentPending); err != nil {
			return wrapStorage("insert installment", err)
		}
	}
	return nil
}

// MarkPendingAdjusted flags the current pending rows as superseded by the
// given ledger event before they are replaced.
func (s store) MarkPendingAdjusted(ctx context.Context, loanID, eventID int64) error {
	if _, err := s.q.Exec(ctx, `
		UPDATE loan_installments
		SET adjusted = true, adjusted_by_event_id = $2
		WHERE loan_id = $1 AND status = $3`,
		loanID, eventID, InstallmentPending); err != nil {
		return wrapStorage("mark pending adjusted", err)
	}
	return nil
}

// CancelPending cancels every pending installment of a loan, recording the
// foreclosure event that superseded them.
func (s store) CancelPending(ctx context.Context, loanID, eventID int64) error {
	if _, err := s.q.Exec(ctx, `
		UPDATE loan_installments
		SET status = $2, adjusted = true, adjusted_by_event_id = $3
		WHERE loan_id = $1 AND status = $4`,
		loanID, InstallmentCancelled, eventID, InstallmentPending); err != nil {
		return wrapStorage("cancel pending", err)
	}
	return nil
}

const installmentColumns = `
	id, loan_id, seq, due_date, amount, principal_component,
	interest_component, remaining_principal, status, adjusted,
	adjusted_by_event_id, paid_date, paid_method, created_at`

// GetInstallment fetches one installment by ID.
func (s store) GetInstallment(ctx context.Context, id int64) (*Installment, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+installmentColumns+` FROM loan_installments WHERE id = $1`, id)
	inst, err := scanInstallment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("installment %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, wrapStorage("get installment", err)
	}
	return inst, nil
}

// MarkPaid transitions one installment from pending to paid.
func (s store) MarkPaid(ctx context.Context, installmentID int64, paidDate time.Time, method string) (*Installment, error) {
	inst, err := s.GetInstallment(ctx, installmentID)
	if err != nil {
		return nil, err
	}
	if inst.Status != InstallmentPending {
		return nil, fmt.Errorf("installment %d: %w", installmentID, ErrAlreadyPaid)
	}
	if _, err := s.q.Exec(ctx, `
		UPDATE loan_installments
		SET status = $2, paid_date = $3, paid_method = $4
		WHERE id = $1`,
		installmentID, InstallmentPaid, paidDate, method); err != nil {
		return nil, wrapStorage("mark paid", err)
	}
	inst.Status = InstallmentPaid
	inst.PaidDate = &paidDate
	inst.PaidMethod = method
	return inst, nil
}

// ListInstallments returns a loan's installments ordered by sequence number.
// An empty status lists all rows.
func (s store) ListInstallments(ctx context.Context, loanID int64, status InstallmentStatus) ([]Installment, error) {
	query := `SELECT ` + installmentColumns + ` FROM loan_installments WHERE loan_id = $1`
	args := []any{loanID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY seq`

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapStorage("list installments", err)
	}
	defer rows.Close()

	var out []Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, wrapStorage("scan installment", err)
		}
		out = append(out, *inst)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStorage("list installments", err)
	}
	return out, nil
}

// AppendEvent inserts one ledger entry. The ledger is append-only: nothing
// here updates or deletes prior rows.
func (s store) AppendEvent(ctx context.Context, ev Event) (int64, error) {
	var newTenure pgtype.Int4
	if ev.NewTenureMonths != nil {
		newTenure = pgtype.Int4{Int32: int32(*ev.NewTenureMonths), Valid: true}
	}
	var newInstallment pgtype.Float8
	if ev.NewInstallmentAmount != nil {
		newInstallment = pgtype.Float8{Float64: *ev.NewInstallmentAmount, Valid: true}
	}

	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO loan_events (
			loan_id, kind, effective_date, amount, interest_saved,
			new_tenure_months, new_installment_amount, method, reference, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING id`,
		ev.LoanID, ev.Kind, ev.EffectiveDate, ev.Amount, ev.InterestSaved,
		newTenure, newInstallment, ev.Method, ev.Reference,
	).Scan(&id)
	if err != nil {
		return 0, wrapStorage("append event", err)
	}
	return id, nil
}

// ListEvents returns a loan's ledger entries ordered by creation time.
func (s store) ListEvents(ctx context.Context, loanID int64) ([]Event, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, loan_id, kind, effective_date, amount, interest_saved,
			new_tenure_months, new_installment_amount, method, reference, created_at
		FROM loan_events
		WHERE loan_id = $1
		ORDER BY created_at, id`, loanID)
	if err != nil {
		return nil, wrapStorage("list events", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var newTenure pgtype.Int4
		var newInstallment pgtype.Float8
		if err := rows.Scan(
			&ev.ID, &ev.LoanID, &ev.Kind, &ev.EffectiveDate, &ev.Amount,
			&ev.InterestSaved, &newTenure, &newInstallment, &ev.Method,
			&ev.Reference, &ev.CreatedAt,
		); err != nil {
			return nil, wrapStorage("scan event", err)
		}
		if newTenure.Valid {
			v := int(newTenure.Int32)
			ev.NewTenureMonths = &v
		}
		if newInstallment.Valid {
			v := newInstallment.Float64
			ev.NewInstallmentAmount = &v
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStorage("list events", err)
	}
	return out, nil
}

func scanInstallment(row pgx.Row) (*Installment, error) {
	var inst Installment
	var adjustedBy pgtype.Int8
	var paidDate pgtype.Date
	var paidMethod pgtype.Text
	if err := row.Scan(
		&inst.ID, &inst.LoanID, &inst.Seq, &inst.DueDate, &inst.Amount,
		&inst.PrincipalComponent, &inst.InterestComponent, &inst.RemainingPrincipal,
		&inst.Status, &inst.Adjusted, &adjustedBy, &paidDate, &paidMethod,
		&inst.CreatedAt,
	); err != nil {
		return nil, err
	}
	if adjustedBy.Valid {
		inst.AdjustedByEventID = &adjustedBy.Int64
	}
	if paidDate.Valid {
		t := paidDate.Time
		inst.PaidDate = &t
	}
	if paidMethod.Valid {
		inst.PaidMethod = paidMethod.String
	}
	return &inst, nil
}

// wrapStorage classifies a pgx error into the domain taxonomy. Serialization
// and lock failures surface as ErrConcurrencyConflict so callers know to
// retry after reload; everything else is a transient storage failure.
func wrapStorage(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%s: %v: %w", op, err, ErrConcurrencyConflict)
		}
	}
	return fmt.Errorf("%s: %v: %w", op, err, ErrStorageFailure)
}
