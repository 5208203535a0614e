package jobqueue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJanitor struct {
	batches []int64
	calls   int
	err     error
}

func (f *fakeJanitor) DeleteExpired(_ context.Context, limit int) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	if f.calls >= len(f.batches) {
		return 0, nil
	}
	n := f.batches[f.calls]
	f.calls++
	return n, nil
}

type fakeReconciler struct {
	sweeps     int
	userSyncs  []string
	sweepErr   error
	perUserErr error
}

func (f *fakeReconciler) ReconcileUserClaims(_ context.Context, userID string) error {
	if f.perUserErr != nil {
		return f.perUserErr
	}
	f.userSyncs = append(f.userSyncs, userID)
	return nil
}

func (f *fakeReconciler) ReconcileAllClaims(_ context.Context, pageSize int) (int, error) {
	if f.sweepErr != nil {
		return 0, f.sweepErr
	}
	f.sweeps++
	return 42, nil
}

func TestProcessLedgerCleanupJob_DrainsInBatches(t *testing.T) {
	janitor := &fakeJanitor{batches: []int64{500, 500, 123}}
	Initialize(janitor, &fakeReconciler{})

	q := &Queue{}
	job := &Job{Type: JobTypeLedgerCleanup, Payload: LedgerCleanupJobPayload{BatchLimit: 500}.ToMap()}
	require.NoError(t, q.processLedgerCleanupJob(context.Background(), job))

	// Two full batches plus the short one that ends the loop.
	assert.Equal(t, 3, janitor.calls)
}

func TestProcessLedgerCleanupJob_DefaultsBatchLimit(t *testing.T) {
	janitor := &fakeJanitor{batches: []int64{10}}
	Initialize(janitor, &fakeReconciler{})

	q := &Queue{}
	job := &Job{Type: JobTypeLedgerCleanup, Payload: map[string]interface{}{}}
	require.NoError(t, q.processLedgerCleanupJob(context.Background(), job))
	assert.Equal(t, 1, janitor.calls)
}

func TestProcessClaimsReconcileJob(t *testing.T) {
	r := &fakeReconciler{}
	Initialize(&fakeJanitor{}, r)

	q := &Queue{}
	job := &Job{Type: JobTypeClaimsReconcile, Payload: ClaimsReconcileJobPayload{PageSize: 100}.ToMap()}
	require.NoError(t, q.processClaimsReconcileJob(context.Background(), job))
	assert.Equal(t, 1, r.sweeps)

	r.sweepErr = errors.New("db down")
	assert.Error(t, q.processClaimsReconcileJob(context.Background(), job))
}

func TestProcessClaimsSyncUserJob(t *testing.T) {
	r := &fakeReconciler{}
	Initialize(&fakeJanitor{}, r)

	q := &Queue{}
	job := &Job{Type: JobTypeClaimsSyncUser, Payload: ClaimsSyncUserJobPayload{UserID: "user-1"}.ToMap()}
	require.NoError(t, q.processClaimsSyncUserJob(context.Background(), job))
	assert.Equal(t, []string{"user-1"}, r.userSyncs)

	// Missing user id is a permanent failure, not a retry loop.
	job = &Job{Type: JobTypeClaimsSyncUser, Payload: map[string]interface{}{}}
	assert.Error(t, q.processClaimsSyncUserJob(context.Background(), job))
}
