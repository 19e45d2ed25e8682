package billing

import (
	"net/http"

	"github.com/lumalearn/lumalearn-billing/api/responses"
	"github.com/lumalearn/lumalearn-billing/api/validators"
	"github.com/lumalearn/lumalearn-billing/internal/checkout"
	"github.com/lumalearn/lumalearn-billing/pkg/logger"
)

type startCheckoutRequest struct {
	Username   string `json:"username" validate:"required"`
	PlanID     string `json:"plan_id" validate:"required"`
	SuccessURL string `json:"success_url" validate:"omitempty,url"`
	CancelURL  string `json:"cancel_url" validate:"omitempty,url"`
}

// StartCheckout opens a hosted checkout session for the requested plan.
func StartCheckout(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req startCheckoutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.Start(ctx, checkout.StartInput{
			Username:   req.Username,
			PlanID:     req.PlanID,
			SuccessURL: req.SuccessURL,
			CancelURL:  req.CancelURL,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}
