package jobqueue

import (
	"context"
	"errors"
	"sync"

	"github.com/gofiber/fiber/v2/log"
)

// LedgerJanitor deletes expired idempotency ledger entries in batches.
type LedgerJanitor interface {
	DeleteExpired(ctx context.Context, limit int) (int64, error)
}

// ClaimsReconciler re-derives authorization snapshots from the entitlement
// records.
type ClaimsReconciler interface {
	ReconcileUserClaims(ctx context.Context, userID string) error
	ReconcileAllClaims(ctx context.Context, pageSize int) (int, error)
}

var (
	depsMu     sync.RWMutex
	janitor    LedgerJanitor
	reconciler ClaimsReconciler
)

// Initialize wires the processor dependencies. Must run before the queue
// starts.
func Initialize(l LedgerJanitor, r ClaimsReconciler) {
	depsMu.Lock()
	defer depsMu.Unlock()
	janitor = l
	reconciler = r
}

func deps() (LedgerJanitor, ClaimsReconciler, error) {
	depsMu.RLock()
	defer depsMu.RUnlock()
	if janitor == nil || reconciler == nil {
		return nil, nil, errors.New("jobqueue processors not initialized")
	}
	return janitor, reconciler, nil
}

const defaultCleanupBatchLimit = 500

// processLedgerCleanupJob sweeps expired ledger entries in bounded batches
// until a batch comes back short.
func (q *Queue) processLedgerCleanupJob(ctx context.Context, job *Job) error {
	j, _, err := deps()
	if err != nil {
		return err
	}

	payload, err := LedgerCleanupJobPayloadFromMap(job.Payload)
	if err != nil {
		return err
	}
	limit := payload.BatchLimit
	if limit <= 0 {
		limit = defaultCleanupBatchLimit
	}

	var total int64
	for {
		deleted, err := j.DeleteExpired(ctx, limit)
		if err != nil {
			return err
		}
		total += deleted
		if deleted < int64(limit) {
			break
		}
	}

	log.Infof("[JobQueue] Ledger cleanup removed %d expired entries", total)
	return nil
}

// processClaimsReconcileJob runs the full snapshot sweep.
func (q *Queue) processClaimsReconcileJob(ctx context.Context, job *Job) error {
	_, r, err := deps()
	if err != nil {
		return err
	}

	payload, err := ClaimsReconcileJobPayloadFromMap(job.Payload)
	if err != nil {
		return err
	}

	synced, err := r.ReconcileAllClaims(ctx, payload.PageSize)
	if err != nil {
		return err
	}
	log.Infof("[JobQueue] Claims reconcile synced %d users", synced)
	return nil
}

// processClaimsSyncUserJob re-syncs a single user's snapshot.
func (q *Queue) processClaimsSyncUserJob(ctx context.Context, job *Job) error {
	_, r, err := deps()
	if err != nil {
		return err
	}

	payload, err := ClaimsSyncUserJobPayloadFromMap(job.Payload)
	if err != nil {
		return err
	}
	if payload.UserID == "" {
		return errors.New("claims sync job missing user_id")
	}

	return r.ReconcileUserClaims(ctx, payload.UserID)
}
