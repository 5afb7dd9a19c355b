package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/jordanvale/loanbridge-backend/pkg/db/models"
	"github.com/jordanvale/loanbridge-backend/pkg/logger"
	"github.com/jordanvale/loanbridge-backend/pkg/processor"
)

const defaultPaymentReconcileLimit = 250

type openTransactionLister interface {
	ListOpenWithExternalID(ctx context.Context, limit int) ([]models.PaymentTransaction, error)
}

type statusFetcher interface {
	FetchStatus(ctx context.Context, externalID string) (*processor.RemoteStatus, error)
}

type remoteApplier interface {
	ApplyRemote(ctx context.Context, txn *models.PaymentTransaction, remote *processor.RemoteStatus) (bool, error)
}

// PaymentReconcileJobParams configures the processor status sync cron job.
type PaymentReconcileJobParams struct {
	Logger    *logger.Logger
	Repo      openTransactionLister
	Gateway   statusFetcher
	Lifecycle remoteApplier
	Limit     int
}

// NewPaymentReconcileJob builds the reconciliation cron job. It walks every
// open transaction that has processor contact and folds the authoritative
// remote status into the local record.
func NewPaymentReconcileJob(params PaymentReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("transactions repository required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("processor gateway required")
	}
	if params.Lifecycle == nil {
		return nil, fmt.Errorf("lifecycle service required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultPaymentReconcileLimit
	}
	return &paymentReconcileJob{
		logg:      params.Logger,
		repo:      params.Repo,
		gateway:   params.Gateway,
		lifecycle: params.Lifecycle,
		limit:     limit,
	}, nil
}

type paymentReconcileJob struct {
	logg      *logger.Logger
	repo      openTransactionLister
	gateway   statusFetcher
	lifecycle remoteApplier
	limit     int
}

func (j *paymentReconcileJob) Name() string { return "payment-reconcile" }

func (j *paymentReconcileJob) Run(ctx context.Context) error {
	logCtx := j.logg.WithField(ctx, "job", j.Name())
	logCtx = j.logg.WithField(logCtx, "event", "cron.job")

	open, err := j.repo.ListOpenWithExternalID(logCtx, j.limit)
	if err != nil {
		return fmt.Errorf("list open transactions: %w", err)
	}

	var errs error
	scanned := len(open)
	synced := 0
	for i := range open {
		changed, err := j.reconcileTransaction(logCtx, &open[i])
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if changed {
			synced++
		}
	}

	reportCtx := j.logg.WithFields(logCtx, map[string]any{
		"candidates": scanned,
		"synced":     synced,
	})
	j.logg.Info(reportCtx, "payment reconcile loop complete")
	return errs
}

func (j *paymentReconcileJob) reconcileTransaction(ctx context.Context, txn *models.PaymentTransaction) (bool, error) {
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"transaction_id": txn.ID,
		"loan_id":        txn.LoanID,
		"external_id":    txn.ExternalID,
	})
	if txn.ExternalID == nil || *txn.ExternalID == "" {
		j.logg.Info(logCtx, "transaction missing external id; skipping")
		return false, nil
	}

	remote, err := j.gateway.FetchStatus(logCtx, *txn.ExternalID)
	if err != nil {
		// One unreachable record must not stall the rest of the batch.
		return false, fmt.Errorf("fetch processor status for %s: %w", txn.ID, err)
	}

	changed, err := j.lifecycle.ApplyRemote(logCtx, txn, remote)
	if err != nil {
		return false, fmt.Errorf("apply remote status for %s: %w", txn.ID, err)
	}
	if changed {
		successCtx := j.logg.WithFields(logCtx, map[string]any{
			"remote_state": remote.State,
			"local_status": txn.Status,
		})
		j.logg.Info(successCtx, "transaction reconciled")
	}
	return changed, nil
}
