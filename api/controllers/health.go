package controllers

import (
	"context"
	"net/http"

	"github.com/lumalearn/lumalearn-billing/api/responses"
	pkgerrors "github.com/lumalearn/lumalearn-billing/pkg/errors"
	"github.com/lumalearn/lumalearn-billing/pkg/logger"
)

type pinger interface {
	Ping(context.Context) error
}

// Health reports readiness of the service's dependencies.
func Health(db pinger, cache pinger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if db != nil {
			if err := db.Ping(ctx); err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "database unavailable"))
				return
			}
		}
		if cache != nil {
			if err := cache.Ping(ctx); err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "redis unavailable"))
				return
			}
		}

		responses.WriteSuccess(w, map[string]string{"status": "ok"})
	}
}
