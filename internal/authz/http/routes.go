package authzhttp

import (
	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/fleetdesk/internal/shared"
)

// MountRoutes registers the authorization API on r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/authz", func(r chi.Router) {
		r.Post("/check", h.check)
		r.Get("/approval", h.approval)
		r.Get("/effective", h.effectiveSelf)
		r.With(h.rbac.RequireAny(shared.PermUsersManage)).Get("/effective/{userID}", h.effectiveFor)
	})
	r.Get("/vehicles/{id}/can-edit", h.canEditVehicle)
	r.Post("/transactions/{id}/approve", h.approveTransaction)
	r.Post("/maintenance/{id}/approve", h.approveMaintenance)
	r.Get("/reports/{type}/access", h.reportAccess)
	r.Get("/actions/{action}/{resource}", h.action)
}
