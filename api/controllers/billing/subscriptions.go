package billing

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lumalearn/lumalearn-billing/api/responses"
	"github.com/lumalearn/lumalearn-billing/api/validators"
	"github.com/lumalearn/lumalearn-billing/internal/subscriptions"
	"github.com/lumalearn/lumalearn-billing/pkg/logger"
)

type controlRequest struct {
	Username string `json:"username" validate:"required"`
}

type changePlanRequest struct {
	Username  string `json:"username" validate:"required"`
	NewPlanID string `json:"new_plan_id" validate:"required"`
}

type controlResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// GetUserSubscription returns the billing profile for a user.
func GetUserSubscription(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		profile, err := svc.Profile(ctx, chi.URLParam(r, "username"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, profile)
	}
}

// CancelSubscription schedules the user's subscription to end at the period
// boundary.
func CancelSubscription(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req controlRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := svc.Cancel(ctx, req.Username); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, controlResponse{
			Success: true,
			Message: "subscription will end at the current period",
		})
	}
}

// ResumeSubscription clears a pending cancellation.
func ResumeSubscription(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req controlRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := svc.Resume(ctx, req.Username); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, controlResponse{
			Success: true,
			Message: "subscription resumed",
		})
	}
}

// ChangePlan swaps the user's subscription to a different plan.
func ChangePlan(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req changePlanRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := svc.ChangePlan(ctx, req.Username, req.NewPlanID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, controlResponse{
			Success: true,
			Message: "plan changed",
		})
	}
}

// PreviewInvoice returns the user's upcoming invoice, or null when there is
// nothing to bill.
func PreviewInvoice(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		preview, err := svc.PreviewInvoice(ctx, chi.URLParam(r, "username"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, preview)
	}
}
