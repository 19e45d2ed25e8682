package billing

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lumalearn/lumalearn-billing/api/responses"
	"github.com/lumalearn/lumalearn-billing/internal/ledger"
	"github.com/lumalearn/lumalearn-billing/internal/users"
	pkgerrors "github.com/lumalearn/lumalearn-billing/pkg/errors"
	"github.com/lumalearn/lumalearn-billing/pkg/logger"
)

// ListPayments returns the user's payment history, newest first.
func ListPayments(svc ledger.Service, userRepo users.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		user, err := userRepo.FindByUsername(ctx, chi.URLParam(r, "username"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load user"))
			return
		}
		if user == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "user not found"))
			return
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err = strconv.Atoi(raw)
			if err != nil || limit < 0 {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "limit must be a non-negative integer"))
				return
			}
		}

		records, err := svc.History(ctx, user.ID, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, records)
	}
}
