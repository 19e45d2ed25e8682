package billing

import (
	"net/http"

	"github.com/lumalearn/lumalearn-billing/api/responses"
	"github.com/lumalearn/lumalearn-billing/internal/catalog"
	"github.com/lumalearn/lumalearn-billing/pkg/logger"
)

// ListPlans returns the active plan catalog.
func ListPlans(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		plans, err := svc.List(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, plans)
	}
}
