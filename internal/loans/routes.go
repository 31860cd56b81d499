package loans

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers loan routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/loans/{id}/schedule", h.generateSchedule)
	r.Post("/loans/{id}/part-payments", h.applyPartPayment)
	r.Post("/loans/{id}/foreclosure", h.foreclose)
	r.Post("/installments/{id}/payments", h.markInstallmentPaid)

	r.Get("/loans/{id}/summary", h.summary)
	r.Get("/loans/{id}/schedule", h.listSchedule)
	r.Get("/loans/{id}/schedule/export", h.exportSchedule)
	r.Get("/loans/{id}/events", h.listEvents)
}
