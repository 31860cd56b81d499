package loans

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/lendcore/lendcore/internal/platform/httpx"
)

// Handler exposes the engine and the summary aggregator over the narrow
// request/response contract consumed by external callers.
type Handler struct {
	logger     *slog.Logger
	service    *Service
	summarizer *Summarizer
	validate   *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, summarizer *Summarizer) *Handler {
	return &Handler{
		logger:     logger,
		service:    service,
		summarizer: summarizer,
		validate:   validator.New(),
	}
}

func (h *Handler) generateSchedule(w http.ResponseWriter, r *http.Request) {
	loanID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req GenerateScheduleRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := GenerateScheduleInput{
		LoanID:        loanID,
		Principal:     req.Principal,
		AnnualRatePct: req.AnnualRatePct,
		TenureMonths:  req.TenureMonths,
		StartDate:     mustDate(req.StartDate),
	}
	if req.InstallmentOverride != nil {
		in.InstallmentOverride = *req.InstallmentOverride
	}
	result, err := h.service.GenerateSchedule(r.Context(), in)
	if err != nil {
		h.respondError(w, r, "generate schedule", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) applyPartPayment(w http.ResponseWriter, r *http.Request) {
	loanID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req PartPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.ApplyPartPayment(r.Context(), PartPaymentInput{
		LoanID:      loanID,
		Amount:      req.Amount,
		PaymentDate: mustDate(req.PaymentDate),
		Mode:        ReductionMode(req.ReductionMode),
	})
	if err != nil {
		h.respondError(w, r, "part payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) foreclose(w http.ResponseWriter, r *http.Request) {
	loanID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req ForeclosureRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.Foreclose(r.Context(), ForeclosureInput{
		LoanID:          loanID,
		ForeclosureDate: mustDate(req.ForeclosureDate),
		PaymentMethod:   req.PaymentMethod,
	})
	if err != nil {
		h.respondError(w, r, "foreclosure", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) markInstallmentPaid(w http.ResponseWriter, r *http.Request) {
	installmentID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req MarkPaidRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.MarkInstallmentPaid(r.Context(), MarkPaidInput{
		InstallmentID: installmentID,
		PaidDate:      mustDate(req.PaidDate),
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		h.respondError(w, r, "mark paid", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	loanID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	summary, err := h.summarizer.Summarize(r.Context(), loanID)
	if err != nil {
		h.respondError(w, r, "summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) listSchedule(w http.ResponseWriter, r *http.Request) {
	loanID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	status := InstallmentStatus(r.URL.Query().Get("status"))
	switch status {
	case "", InstallmentPending, InstallmentPaid, InstallmentCancelled:
	default:
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown status filter")
		return
	}
	installments, err := h.service.ListSchedule(r.Context(), loanID, status)
	if err != nil {
		h.respondError(w, r, "list schedule", err)
		return
	}
	views := make([]installmentView, 0, len(installments))
	for _, inst := range installments {
		views = append(views, newInstallmentView(inst))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"installments": views})
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	loanID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	events, err := h.service.ListEvents(r.Context(), loanID)
	if err != nil {
		h.respondError(w, r, "list events", err)
		return
	}
	views := make([]eventView, 0, len(events))
	for _, ev := range events {
		views = append(views, newEventView(ev))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"events": views})
}

// installmentView is the wire shape of a schedule row: date-only dates,
// amounts already rounded to 2 decimals.
type installmentView struct {
	ID                 int64   `json:"id"`
	Seq                int     `json:"seq"`
	DueDate            string  `json:"due_date"`
	Amount             float64 `json:"amount"`
	PrincipalComponent float64 `json:"principal_component"`
	InterestComponent  float64 `json:"interest_component"`
	RemainingPrincipal float64 `json:"remaining_principal"`
	Status             string  `json:"status"`
	Adjusted           bool    `json:"adjusted"`
	AdjustedByEventID  *int64  `json:"adjusted_by_event_id,omitempty"`
	PaidDate           *string `json:"paid_date,omitempty"`
	PaidMethod         string  `json:"paid_method,omitempty"`
}

func newInstallmentView(inst Installment) installmentView {
	view := installmentView{
		ID:                 inst.ID,
		Seq:                inst.Seq,
		DueDate:            inst.DueDate.Format(time.DateOnly),
		Amount:             inst.Amount,
		PrincipalComponent: inst.PrincipalComponent,
		InterestComponent:  inst.InterestComponent,
		RemainingPrincipal: inst.RemainingPrincipal,
		Status:             string(inst.Status),
		Adjusted:           inst.Adjusted,
		AdjustedByEventID:  inst.AdjustedByEventID,
		PaidMethod:         inst.PaidMethod,
	}
	if inst.PaidDate != nil {
		d := inst.PaidDate.Format(time.DateOnly)
		view.PaidDate = &d
	}
	return view
}

type eventView struct {
	ID                   int64    `json:"id"`
	Kind                 string   `json:"kind"`
	EffectiveDate        string   `json:"effective_date"`
	Amount               float64  `json:"amount"`
	InterestSaved        float64  `json:"interest_saved"`
	NewTenureMonths      *int     `json:"new_tenure_months,omitempty"`
	NewInstallmentAmount *float64 `json:"new_installment_amount,omitempty"`
	Method               string   `json:"method,omitempty"`
	Reference            string   `json:"reference,omitempty"`
	CreatedAt            string   `json:"created_at"`
}

func newEventView(ev Event) eventView {
	return eventView{
		ID:                   ev.ID,
		Kind:                 string(ev.Kind),
		EffectiveDate:        ev.EffectiveDate.Format(time.DateOnly),
		Amount:               ev.Amount,
		InterestSaved:        ev.InterestSaved,
		NewTenureMonths:      ev.NewTenureMonths,
		NewInstallmentAmount: ev.NewInstallmentAmount,
		Method:               ev.Method,
		Reference:            ev.Reference,
		CreatedAt:            ev.CreatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

// mustDate parses a YYYY-MM-DD string already vetted by the validator's
// datetime tag.
func mustDate(value string) time.Time {
	t, _ := time.Parse(time.DateOnly, value)
	return t
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", UserSafeMessage(err))
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", UserSafeMessage(err))
	case errors.Is(err, ErrInvalidInput):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", UserSafeMessage(err))
	case errors.Is(err, ErrConcurrencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", UserSafeMessage(err))
	case errors.Is(err, ErrStorageFailure):
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Storage Unavailable", UserSafeMessage(err))
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
