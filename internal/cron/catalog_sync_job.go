package cron

import (
	"context"
	"fmt"

	"github.com/lumalearn/lumalearn-billing/internal/catalog"
	"github.com/lumalearn/lumalearn-billing/pkg/logger"
)

// CatalogSyncJobParams configures the plan catalog sync job.
type CatalogSyncJobParams struct {
	Logger  *logger.Logger
	Catalog catalog.Service
}

// NewCatalogSyncJob builds a job that refreshes the local plan catalog from
// the processor's price list.
func NewCatalogSyncJob(params CatalogSyncJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog service required")
	}
	return &catalogSyncJob{
		logg:    params.Logger,
		catalog: params.Catalog,
	}, nil
}

type catalogSyncJob struct {
	logg    *logger.Logger
	catalog catalog.Service
}

func (j *catalogSyncJob) Name() string { return "catalog-sync" }

func (j *catalogSyncJob) Run(ctx context.Context) error {
	synced, err := j.catalog.SyncFromStripe(ctx)
	if err != nil {
		return fmt.Errorf("sync plan catalog: %w", err)
	}
	logCtx := j.logg.WithField(ctx, "plans_synced", synced)
	j.logg.Info(logCtx, "plan catalog sync complete")
	return nil
}
