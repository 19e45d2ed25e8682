package billing

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lumalearn/lumalearn-billing/api/responses"
	"github.com/lumalearn/lumalearn-billing/internal/usage"
	"github.com/lumalearn/lumalearn-billing/internal/users"
	pkgerrors "github.com/lumalearn/lumalearn-billing/pkg/errors"
	"github.com/lumalearn/lumalearn-billing/pkg/logger"
)

type incrementResponse struct {
	Allowed bool `json:"allowed"`
}

// ListUsage returns the user's feature usage records.
func ListUsage(svc usage.Service, userRepo users.Repository, logg *logger.Logger) http.HandlerFunc {
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

		records, err := svc.ListForUser(ctx, user.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, records)
	}
}

// IncrementUsage consumes one unit of quota for a feature. The response says
// whether the increment was allowed.
func IncrementUsage(svc usage.Service, userRepo users.Repository, logg *logger.Logger) http.HandlerFunc {
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

		allowed, err := svc.Increment(ctx, user.ID, chi.URLParam(r, "feature"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, incrementResponse{Allowed: allowed})
	}
}
